package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"
	"sautihub-sacco/internal/adapters/persistence/repositories"
	"sautihub-sacco/internal/config"
	"sautihub-sacco/internal/core/domain"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Dividend service errors
var (
	ErrNoEligibleMembers = errors.New("no members are eligible for this dividend")
	ErrDividendNotDue    = errors.New("dividend payout date has not been reached")
)

const payoutWorkers = 4

// DividendService declares annual dividends and fans out pro-rata payouts
// to member savings accounts.
type DividendService struct {
	dividendRepo       *repositories.DividendRepository
	memberDividendRepo *repositories.MemberDividendRepository
	memberRepo         *repositories.MemberRepository
	accountRepo        *repositories.AccountRepository
	ledger             *LedgerService
	policy             config.Policy
	notify             *NotificationService
	db                 *gorm.DB
}

// NewDividendService creates a new dividend service
func NewDividendService(
	db *gorm.DB,
	dividendRepo *repositories.DividendRepository,
	memberDividendRepo *repositories.MemberDividendRepository,
	memberRepo *repositories.MemberRepository,
	accountRepo *repositories.AccountRepository,
	ledger *LedgerService,
	policy config.Policy,
	notify *NotificationService,
) *DividendService {
	return &DividendService{
		db:                 db,
		dividendRepo:       dividendRepo,
		memberDividendRepo: memberDividendRepo,
		memberRepo:         memberRepo,
		accountRepo:        accountRepo,
		ledger:             ledger,
		policy:             policy,
		notify:             notify,
	}
}

// DeclareInput represents a dividend declaration
type DeclareInput struct {
	Year            int       `json:"year" validate:"required"`
	TotalProfit     int64     `json:"total_profit" validate:"required,gt=0"`
	DistributionBps int       `json:"distribution_bps" validate:"required,gt=0,lte=10000"`
	PayoutDate      time.Time `json:"payout_date" validate:"required"`
	DeclarationDate time.Time `json:"declaration_date,omitempty"`
}

// Declare snapshots entitlements for a financial year: members active at
// declaration time with enough tenure split the distributable pool
// pro-rata by share count. Only an admin may declare, and a year can only
// be declared once.
func (s *DividendService) Declare(ctx context.Context, input *DeclareInput, caller domain.Caller) (*models.Dividend, error) {
	if caller.Role != domain.RoleAdmin {
		return nil, domain.ErrForbidden
	}
	if input.TotalProfit <= 0 || input.DistributionBps <= 0 || input.DistributionBps > 10000 {
		return nil, domain.ErrInvalidInput
	}

	exists, err := s.dividendRepo.ExistsByYear(ctx, input.Year)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: year %d", domain.ErrAlreadyDeclared, input.Year)
	}

	// Tenure is evaluated as of the declaration date, which may be
	// back-dated for year-end declarations entered late.
	asOf := input.DeclarationDate
	if asOf.IsZero() {
		asOf = time.Now()
	}
	tenureCutoff := asOf.AddDate(0, -s.policy.MinMembershipMonthsDiv, 0)
	eligible, err := s.memberRepo.ListActiveJoinedBefore(ctx, tenureCutoff)
	if err != nil {
		return nil, err
	}

	var totalShares int64
	for _, m := range eligible {
		totalShares += int64(m.ShareCount)
	}
	if totalShares == 0 {
		return nil, ErrNoEligibleMembers
	}

	pool := input.TotalProfit * int64(input.DistributionBps) / 10000

	dividend := &models.Dividend{
		Year:            input.Year,
		TotalProfit:     input.TotalProfit,
		DistributionBps: input.DistributionBps,
		WithholdingBps:  s.policy.WithholdingBps,
		DeclaredAt:      asOf,
		PayoutDate:      input.PayoutDate,
		Status:          models.DividendStatusDeclared,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(dividend).Error; err != nil {
			return err
		}
		entries := make([]models.MemberDividend, 0, len(eligible))
		for _, m := range eligible {
			// Floor division: rounding remainders stay in the pool,
			// never over-allocate.
			gross := pool * int64(m.ShareCount) / totalShares
			if gross == 0 {
				continue
			}
			withholding := gross * int64(s.policy.WithholdingBps) / 10000
			entries = append(entries, models.MemberDividend{
				DividendID:  dividend.ID,
				MemberID:    m.ID,
				Gross:       gross,
				Withholding: withholding,
				Net:         gross - withholding,
				Status:      models.MemberDividendStatusPending,
			})
		}
		if len(entries) == 0 {
			return ErrNoEligibleMembers
		}
		return tx.Create(&entries).Error
	})
	if err != nil {
		return nil, err
	}
	return dividend, nil
}

// PayoutResult summarizes a payout run.
type PayoutResult struct {
	Paid     int   `json:"paid"`
	Failed   int   `json:"failed"`
	TotalNet int64 `json:"total_net"`
}

// Payout credits each pending entry's net amount from the dividend pool to
// the member's savings. Entries are paid independently: one member's
// failure is logged and skipped while the rest proceed, and re-running
// resumes from whatever is still pending. The dividend is finalized only
// when nothing pending remains.
func (s *DividendService) Payout(ctx context.Context, dividendID uint) (*PayoutResult, error) {
	dividend, err := s.dividendRepo.GetByID(ctx, dividendID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDividendNotFound
		}
		return nil, err
	}
	if dividend.Status == models.DividendStatusPaidOut {
		return &PayoutResult{}, nil
	}
	if time.Now().Before(dividend.PayoutDate) {
		return nil, ErrDividendNotDue
	}

	pool, err := s.accountRepo.GetSystemAccount(ctx, models.SystemAccountDividendPool)
	if err != nil {
		return nil, err
	}
	pending, err := s.memberDividendRepo.ListPendingByDividend(ctx, dividendID)
	if err != nil {
		return nil, err
	}

	var paid, failed, totalNet int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(payoutWorkers)
	for _, entry := range pending {
		entry := entry
		g.Go(func() error {
			if err := s.payOne(gctx, dividend, pool, entry); err != nil {
				log.Printf("dividend %d: payout to member %d failed: %v", dividend.Year, entry.MemberID, err)
				atomic.AddInt64(&failed, 1)
				return nil
			}
			atomic.AddInt64(&paid, 1)
			atomic.AddInt64(&totalNet, entry.Net)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	remaining, err := s.memberDividendRepo.CountPendingByDividend(ctx, dividendID)
	if err != nil {
		return nil, err
	}
	if remaining == 0 {
		dividend.Status = models.DividendStatusPaidOut
		if err := s.dividendRepo.Update(ctx, dividend); err != nil {
			return nil, err
		}
	}

	return &PayoutResult{Paid: int(paid), Failed: int(failed), TotalNet: totalNet}, nil
}

func (s *DividendService) payOne(ctx context.Context, dividend *models.Dividend, pool *models.Account, entry *models.MemberDividend) error {
	savings, err := s.accountRepo.GetByMemberAndType(ctx, entry.MemberID, models.AccountTypeSavings)
	if err != nil {
		return err
	}

	reference := fmt.Sprintf("dividend-%d-member-%d", dividend.Year, entry.MemberID)
	err = s.ledger.Atomic(ctx, []uint{pool.ID, savings.ID}, func(tx *gorm.DB) error {
		if _, err := s.ledger.PostInTx(tx, PostInput{
			AccountID:   pool.ID,
			Type:        models.TxTypeDividendPayout,
			Amount:      -entry.Net,
			Reference:   reference,
			Description: fmt.Sprintf("%d dividend payout", dividend.Year),
		}); err != nil {
			return err
		}
		if _, err := s.ledger.PostInTx(tx, PostInput{
			AccountID:   savings.ID,
			Type:        models.TxTypeDividendPayout,
			Amount:      entry.Net,
			Reference:   reference,
			Description: fmt.Sprintf("%d dividend, net of withholding", dividend.Year),
		}); err != nil {
			return err
		}
		now := time.Now()
		return tx.Model(entry).Updates(map[string]interface{}{
			"status":  models.MemberDividendStatusPaid,
			"paid_at": now,
		}).Error
	})
	if errors.Is(err, domain.ErrDuplicateReference) {
		// Ledger already holds this payout; just reconcile the entry.
		now := time.Now()
		return s.db.WithContext(ctx).Model(entry).Updates(map[string]interface{}{
			"status":  models.MemberDividendStatusPaid,
			"paid_at": now,
		}).Error
	}
	if err != nil {
		return err
	}

	if s.notify != nil {
		s.notify.DividendPaid(entry.MemberID, dividend.Year, entry.Net)
	}
	return nil
}

// RunDuePayouts pays out every declared dividend whose payout date has
// passed. Called from the scheduler.
func (s *DividendService) RunDuePayouts(ctx context.Context) error {
	due, err := s.dividendRepo.ListDuePayouts(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, d := range due {
		result, err := s.Payout(ctx, d.ID)
		if err != nil {
			log.Printf("dividend %d: payout run failed: %v", d.Year, err)
			continue
		}
		if result.Paid > 0 || result.Failed > 0 {
			log.Printf("dividend %d: paid %d entries (%d KES cents), %d failed",
				d.Year, result.Paid, result.TotalNet, result.Failed)
		}
	}
	return nil
}

// GetByYear gets a dividend with its member entries
func (s *DividendService) GetByYear(ctx context.Context, year int) (*models.Dividend, []*models.MemberDividend, error) {
	dividend, err := s.dividendRepo.GetByYear(ctx, year)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, domain.ErrDividendNotFound
		}
		return nil, nil, err
	}
	entries, err := s.memberDividendRepo.ListByDividend(ctx, dividend.ID)
	if err != nil {
		return nil, nil, err
	}
	return dividend, entries, nil
}

// List lists all declared dividends
func (s *DividendService) List(ctx context.Context) ([]*models.Dividend, error) {
	return s.dividendRepo.List(ctx)
}

// HistoryByMember lists a member's dividend entries across years
func (s *DividendService) HistoryByMember(ctx context.Context, memberID uint) ([]*models.MemberDividend, error) {
	return s.memberDividendRepo.ListByMember(ctx, memberID)
}
