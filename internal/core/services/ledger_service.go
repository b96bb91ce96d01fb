package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"
	"sautihub-sacco/internal/core/domain"

	"gorm.io/gorm"
)

// accountLocker serializes postings per account. Locks are always acquired
// in ascending account-id order so cross-account operations cannot deadlock.
type accountLocker struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func newAccountLocker() *accountLocker {
	return &accountLocker{locks: make(map[uint]*sync.Mutex)}
}

func (l *accountLocker) lockFor(id uint) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// acquire locks the given accounts and returns a release function.
func (l *accountLocker) acquire(ids ...uint) func() {
	unique := make([]uint, 0, len(ids))
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	held := make([]*sync.Mutex, 0, len(unique))
	for _, id := range unique {
		m := l.lockFor(id)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// PostInput represents one ledger posting leg. Amount is signed minor units.
type PostInput struct {
	AccountID     uint
	Type          string
	Amount        int64
	Reference     string
	Description   string
	Pending       bool
	ExternalTxnID string
}

// LedgerService owns the append-only transaction log and the cached account
// balances. No other component mutates a balance.
type LedgerService struct {
	db     *gorm.DB
	locker *accountLocker
}

// NewLedgerService creates a new ledger service
func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{
		db:     db,
		locker: newAccountLocker(),
	}
}

// Atomic runs fn inside a single database transaction while holding the
// locks of all listed accounts. Composite operations (disbursement, revenue
// splits, dividend payouts) use this so their ledger legs and state updates
// become visible together or not at all.
func (s *LedgerService) Atomic(ctx context.Context, accountIDs []uint, fn func(tx *gorm.DB) error) error {
	release := s.locker.acquire(accountIDs...)
	defer release()
	return s.db.WithContext(ctx).Transaction(fn)
}

// Post appends a single transaction to an account. Retrying with a reference
// already posted for the account returns the original transaction.
func (s *LedgerService) Post(ctx context.Context, input PostInput) (*models.Transaction, error) {
	var posted *models.Transaction
	err := s.Atomic(ctx, []uint{input.AccountID}, func(tx *gorm.DB) error {
		t, err := s.PostInTx(tx, input)
		if err != nil {
			return err
		}
		posted = t
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateReference) {
		return s.findByReference(ctx, input.AccountID, input.Reference)
	}
	if err != nil {
		return nil, err
	}
	return posted, nil
}

// PostAll appends several legs as one atomic unit. If the first leg's
// reference was already posted the whole operation is treated as already
// done and the previously posted transactions are returned.
func (s *LedgerService) PostAll(ctx context.Context, legs []PostInput) ([]*models.Transaction, error) {
	if len(legs) == 0 {
		return nil, domain.ErrInvalidInput
	}
	ids := make([]uint, 0, len(legs))
	for _, leg := range legs {
		ids = append(ids, leg.AccountID)
	}

	var posted []*models.Transaction
	err := s.Atomic(ctx, ids, func(tx *gorm.DB) error {
		posted = posted[:0]
		for _, leg := range legs {
			t, err := s.PostInTx(tx, leg)
			if err != nil {
				return err
			}
			posted = append(posted, t)
		}
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateReference) {
		return s.findAllByReference(ctx, legs)
	}
	if err != nil {
		return nil, err
	}
	return posted, nil
}

// PostInTx appends one leg inside a caller-managed transaction. The caller
// must already hold the account locks via Atomic. Returns
// domain.ErrDuplicateReference if the reference was posted before.
func (s *LedgerService) PostInTx(tx *gorm.DB, input PostInput) (*models.Transaction, error) {
	if input.Reference == "" || input.Type == "" {
		return nil, domain.ErrInvalidInput
	}

	var existing models.Transaction
	err := tx.Where("account_id = ? AND reference = ?", input.AccountID, input.Reference).
		First(&existing).Error
	if err == nil {
		return &existing, domain.ErrDuplicateReference
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var account models.Account
	if err := tx.First(&account, input.AccountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}

	// Debits against member accounts must not overdraw. Available funds are
	// the cached balance less amounts held by pending outbound postings.
	// System pool accounts carry internal float and may go negative.
	if input.Amount < 0 && account.Type != models.AccountTypeSystem {
		available, err := s.availableInTx(tx, &account)
		if err != nil {
			return nil, err
		}
		if available+input.Amount < 0 {
			return nil, domain.ErrInsufficientFunds
		}
	}

	var seq int64
	if err := tx.Model(&models.Transaction{}).
		Where("account_id = ?", input.AccountID).
		Select("COALESCE(MAX(seq_no), 0) + 1").
		Scan(&seq).Error; err != nil {
		return nil, err
	}

	status := models.TxStatusCompleted
	if input.Pending {
		status = models.TxStatusPending
	}

	posting := &models.Transaction{
		AccountID:     input.AccountID,
		SeqNo:         seq,
		Type:          input.Type,
		Amount:        input.Amount,
		Reference:     input.Reference,
		Status:        status,
		Description:   input.Description,
		ExternalTxnID: input.ExternalTxnID,
		PostedAt:      time.Now(),
	}
	if err := tx.Create(posting).Error; err != nil {
		return nil, err
	}

	if status == models.TxStatusCompleted {
		if err := s.applyToBalance(tx, input.AccountID, input.Amount); err != nil {
			return nil, err
		}
	}

	return posting, nil
}

// applyToBalance moves the cached balance inside the posting's unit of work.
func (s *LedgerService) applyToBalance(tx *gorm.DB, accountID uint, amount int64) error {
	res := tx.Model(&models.Account{}).
		Where("id = ?", accountID).
		UpdateColumn("balance", gorm.Expr("balance + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("%w: balance update touched %d rows for account %d",
			domain.ErrInvariantViolation, res.RowsAffected, accountID)
	}
	return nil
}

// availableInTx computes spendable funds: cached balance plus the sum of
// pending outbound postings (which are negative).
func (s *LedgerService) availableInTx(tx *gorm.DB, account *models.Account) (int64, error) {
	var pendingOut int64
	err := tx.Model(&models.Transaction{}).
		Where("account_id = ? AND status = ? AND amount < 0", account.ID, models.TxStatusPending).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&pendingOut).Error
	if err != nil {
		return 0, err
	}
	return account.Balance + pendingOut, nil
}

// Balance returns the account balance. With asOf set it returns the sum of
// completed transactions up to that time instead of the cached value.
func (s *LedgerService) Balance(ctx context.Context, accountID uint, asOf *time.Time) (int64, error) {
	if asOf == nil {
		var account models.Account
		if err := s.db.WithContext(ctx).First(&account, accountID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, domain.ErrAccountNotFound
			}
			return 0, err
		}
		return account.Balance, nil
	}

	var sum int64
	err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("account_id = ? AND status = ? AND posted_at <= ?",
			accountID, models.TxStatusCompleted, *asOf).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

// Available returns the account's spendable funds (balance less pending
// outbound holds).
func (s *LedgerService) Available(ctx context.Context, accountID uint) (int64, error) {
	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, domain.ErrAccountNotFound
		}
		return 0, err
	}
	return s.availableInTx(s.db.WithContext(ctx), &account)
}

// Statement lists completed transactions for an account within [from, to],
// ascending by sequence number.
func (s *LedgerService) Statement(ctx context.Context, accountID uint, from, to time.Time, offset, limit int) ([]*models.Transaction, int64, error) {
	var txs []*models.Transaction
	var total int64

	query := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("account_id = ? AND status = ? AND posted_at >= ? AND posted_at <= ?",
			accountID, models.TxStatusCompleted, from, to)
	query.Count(&total)

	err := query.
		Order("seq_no ASC").
		Offset(offset).
		Limit(limit).
		Find(&txs).Error
	return txs, total, err
}

// CompletePending confirms a pending posting (provider callback path) and
// applies it to the cached balance.
func (s *LedgerService) CompletePending(ctx context.Context, accountID uint, reference, externalTxnID string) (*models.Transaction, error) {
	var completed *models.Transaction
	err := s.Atomic(ctx, []uint{accountID}, func(tx *gorm.DB) error {
		var posting models.Transaction
		err := tx.Where("account_id = ? AND reference = ?", accountID, reference).
			First(&posting).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrPaymentNotFound
		}
		if err != nil {
			return err
		}
		if posting.Status == models.TxStatusCompleted {
			completed = &posting
			return nil // already confirmed, retry-safe
		}
		if posting.Status != models.TxStatusPending {
			return domain.ErrPaymentNotPending
		}

		updates := map[string]interface{}{
			"status":          models.TxStatusCompleted,
			"external_txn_id": externalTxnID,
			"posted_at":       time.Now(),
		}
		if err := tx.Model(&posting).Updates(updates).Error; err != nil {
			return err
		}
		if err := s.applyToBalance(tx, accountID, posting.Amount); err != nil {
			return err
		}
		completed = &posting
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

// FailPending marks a pending posting failed without touching the balance.
func (s *LedgerService) FailPending(ctx context.Context, accountID uint, reference string) error {
	return s.Atomic(ctx, []uint{accountID}, func(tx *gorm.DB) error {
		var posting models.Transaction
		err := tx.Where("account_id = ? AND reference = ?", accountID, reference).
			First(&posting).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrPaymentNotFound
		}
		if err != nil {
			return err
		}
		if posting.Status != models.TxStatusPending {
			return domain.ErrPaymentNotPending
		}
		return tx.Model(&posting).UpdateColumn("status", models.TxStatusFailed).Error
	})
}

// Reverse backs out a completed transaction. The original is marked reversed
// and leaves the balance in the same unit of work; an audit row records the
// correction. Completed rows are never edited beyond their status.
func (s *LedgerService) Reverse(ctx context.Context, accountID uint, reference, reason string) (*models.Transaction, error) {
	var audit *models.Transaction
	err := s.Atomic(ctx, []uint{accountID}, func(tx *gorm.DB) error {
		var posting models.Transaction
		err := tx.Where("account_id = ? AND reference = ?", accountID, reference).
			First(&posting).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if posting.Status != models.TxStatusCompleted {
			return domain.ErrInvalidInput
		}

		if err := tx.Model(&posting).UpdateColumn("status", models.TxStatusReversed).Error; err != nil {
			return err
		}
		if err := s.applyToBalance(tx, accountID, -posting.Amount); err != nil {
			return err
		}

		var seq int64
		if err := tx.Model(&models.Transaction{}).
			Where("account_id = ?", accountID).
			Select("COALESCE(MAX(seq_no), 0) + 1").
			Scan(&seq).Error; err != nil {
			return err
		}
		audit = &models.Transaction{
			AccountID:   accountID,
			SeqNo:       seq,
			Type:        models.TxTypeReversal,
			Amount:      -posting.Amount,
			Reference:   reference + "/reversal",
			Status:      models.TxStatusReversed,
			Description: reason,
			PostedAt:    time.Now(),
		}
		return tx.Create(audit).Error
	})
	if err != nil {
		return nil, err
	}
	return audit, nil
}

func (s *LedgerService) findByReference(ctx context.Context, accountID uint, reference string) (*models.Transaction, error) {
	var posting models.Transaction
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND reference = ?", accountID, reference).
		First(&posting).Error
	if err != nil {
		return nil, err
	}
	return &posting, nil
}

func (s *LedgerService) findAllByReference(ctx context.Context, legs []PostInput) ([]*models.Transaction, error) {
	out := make([]*models.Transaction, 0, len(legs))
	for _, leg := range legs {
		posting, err := s.findByReference(ctx, leg.AccountID, leg.Reference)
		if err != nil {
			return nil, err
		}
		out = append(out, posting)
	}
	return out, nil
}
