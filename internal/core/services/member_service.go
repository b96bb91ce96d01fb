package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"
	"sautihub-sacco/internal/adapters/persistence/repositories"
	"sautihub-sacco/internal/config"
	"sautihub-sacco/internal/core/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Member service errors
var (
	ErrMemberAlreadyRegistered = errors.New("identity already has a membership")
	ErrUnderage                = errors.New("applicant is below the minimum membership age")
	ErrKYCIncomplete           = errors.New("KYC details are incomplete")
	ErrMemberHasOpenLoan       = errors.New("membership cannot close with an open loan")
	ErrSharePriceMultiple      = errors.New("amount must be a whole multiple of the share price")
)

// MemberService owns the member lifecycle, provisions ledger accounts on
// approval and sells share capital. Status transitions happen nowhere else.
type MemberService struct {
	memberRepo  *repositories.MemberRepository
	accountRepo *repositories.AccountRepository
	loanRepo    *repositories.LoanRepository
	ledger      *LedgerService
	policy      config.Policy
	notify      *NotificationService
}

// NewMemberService creates a new member service
func NewMemberService(
	memberRepo *repositories.MemberRepository,
	accountRepo *repositories.AccountRepository,
	loanRepo *repositories.LoanRepository,
	ledger *LedgerService,
	policy config.Policy,
	notify *NotificationService,
) *MemberService {
	return &MemberService{
		memberRepo:  memberRepo,
		accountRepo: accountRepo,
		loanRepo:    loanRepo,
		ledger:      ledger,
		policy:      policy,
		notify:      notify,
	}
}

// RegisterInput represents a membership application
type RegisterInput struct {
	UserRef     string `json:"user_ref" validate:"required"`
	FullName    string `json:"full_name" validate:"required"`
	DateOfBirth string `json:"date_of_birth" validate:"required"`
	IDNumber    string `json:"id_number,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Register creates a pending membership application
func (s *MemberService) Register(ctx context.Context, input *RegisterInput) (*models.Member, error) {
	if input.UserRef == "" || input.FullName == "" {
		return nil, domain.ErrInvalidInput
	}

	exists, err := s.memberRepo.ExistsByUserRef(ctx, input.UserRef)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrMemberAlreadyRegistered
	}

	dob, err := time.Parse("2006-01-02", input.DateOfBirth)
	if err != nil {
		return nil, errors.New("invalid date of birth, use YYYY-MM-DD")
	}
	if age(dob, time.Now()) < s.policy.MinMemberAgeYears {
		return nil, ErrUnderage
	}
	if s.policy.RequireKYC && (input.IDNumber == "" || input.Phone == "") {
		return nil, ErrKYCIncomplete
	}

	member := &models.Member{
		MemberNo: newMemberNo(),
		UserRef:  input.UserRef,
		FullName: input.FullName,
		Status:   models.MemberStatusPending,
	}
	if err := s.memberRepo.Create(ctx, member); err != nil {
		return nil, err
	}
	return member, nil
}

// Approve activates a pending member and provisions savings and shares
// accounts. Accounts start at zero balance; no transaction is needed.
func (s *MemberService) Approve(ctx context.Context, memberID uint, approver domain.Caller) (*models.Member, error) {
	member, err := s.getMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.Status != models.MemberStatusPending {
		return nil, domain.ErrInvalidTransition
	}

	now := time.Now()
	member.Status = models.MemberStatusActive
	member.JoinedAt = &now
	if err := s.memberRepo.Update(ctx, member); err != nil {
		return nil, err
	}
	log.Printf("member %s approved by %s", member.MemberNo, approver.UserRef)

	for _, accType := range []string{models.AccountTypeSavings, models.AccountTypeShares} {
		account := &models.Account{
			MemberID: &member.ID,
			Type:     accType,
			Currency: "KES",
		}
		if err := s.accountRepo.Create(ctx, account); err != nil {
			return nil, err
		}
	}

	if s.notify != nil {
		s.notify.MemberApproved(member)
	}
	return member, nil
}

// Suspend blocks new loan applications and withdrawals. Deposits and loan
// repayments remain allowed.
func (s *MemberService) Suspend(ctx context.Context, memberID uint, reason string) (*models.Member, error) {
	member, err := s.getMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.Status != models.MemberStatusActive {
		return nil, domain.ErrInvalidTransition
	}

	member.Status = models.MemberStatusSuspended
	member.SuspendReason = reason
	if err := s.memberRepo.Update(ctx, member); err != nil {
		return nil, err
	}
	return member, nil
}

// Reactivate reverses a suspension
func (s *MemberService) Reactivate(ctx context.Context, memberID uint) (*models.Member, error) {
	member, err := s.getMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.Status != models.MemberStatusSuspended {
		return nil, domain.ErrInvalidTransition
	}

	member.Status = models.MemberStatusActive
	member.SuspendReason = ""
	if err := s.memberRepo.Update(ctx, member); err != nil {
		return nil, err
	}
	return member, nil
}

// Close terminates a membership. Terminal and irreversible; refused while
// the member still has an open loan.
func (s *MemberService) Close(ctx context.Context, memberID uint) (*models.Member, error) {
	member, err := s.getMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.Status == models.MemberStatusClosed {
		return nil, domain.ErrMembershipClosed
	}

	open, err := s.loanRepo.CountOpenByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if open > 0 {
		return nil, ErrMemberHasOpenLoan
	}

	now := time.Now()
	member.Status = models.MemberStatusClosed
	member.ClosedAt = &now
	if err := s.memberRepo.Update(ctx, member); err != nil {
		return nil, err
	}
	return member, nil
}

// PurchaseShares converts savings into share capital at the policy share
// price. The savings debit and shares credit post atomically and the
// member's share count moves in the same transaction, so dividend
// entitlement always matches the shares account.
func (s *MemberService) PurchaseShares(ctx context.Context, memberID uint, amount int64) (*models.Member, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidInput
	}
	member, err := s.getMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if err := s.CanBorrow(member); err != nil {
		return nil, err
	}
	if s.policy.SharePrice <= 0 || amount%s.policy.SharePrice != 0 {
		return nil, ErrSharePriceMultiple
	}
	units := amount / s.policy.SharePrice

	savings, err := s.accountRepo.GetByMemberAndType(ctx, member.ID, models.AccountTypeSavings)
	if err != nil {
		return nil, err
	}
	shares, err := s.accountRepo.GetByMemberAndType(ctx, member.ID, models.AccountTypeShares)
	if err != nil {
		return nil, err
	}

	reference := "shares-" + uuid.NewString()
	err = s.ledger.Atomic(ctx, []uint{savings.ID, shares.ID}, func(tx *gorm.DB) error {
		if _, err := s.ledger.PostInTx(tx, PostInput{
			AccountID:   savings.ID,
			Type:        models.TxTypeSharePurchase,
			Amount:      -amount,
			Reference:   reference,
			Description: fmt.Sprintf("purchase of %d shares", units),
		}); err != nil {
			return err
		}
		if _, err := s.ledger.PostInTx(tx, PostInput{
			AccountID:   shares.ID,
			Type:        models.TxTypeSharePurchase,
			Amount:      amount,
			Reference:   reference,
			Description: fmt.Sprintf("purchase of %d shares", units),
		}); err != nil {
			return err
		}
		return tx.Model(&models.Member{}).
			Where("id = ?", member.ID).
			UpdateColumn("share_count", gorm.Expr("share_count + ?", units)).Error
	})
	if err != nil {
		return nil, err
	}

	member.ShareCount += units
	return member, nil
}

// GetByID gets a member by ID
func (s *MemberService) GetByID(ctx context.Context, id uint) (*models.Member, error) {
	return s.getMember(ctx, id)
}

// GetByMemberNo gets a member by member number
func (s *MemberService) GetByMemberNo(ctx context.Context, memberNo string) (*models.Member, error) {
	member, err := s.memberRepo.GetByMemberNo(ctx, memberNo)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMemberNotFound
		}
		return nil, err
	}
	return member, nil
}

// ListInput represents member list input
type ListMembersInput struct {
	Page   int
	Limit  int
	Status string
}

// ListMembersOutput represents member list output
type ListMembersOutput struct {
	Members    []*models.Member `json:"members"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalPages int              `json:"total_pages"`
}

// List lists members
func (s *MemberService) List(ctx context.Context, input *ListMembersInput) (*ListMembersOutput, error) {
	if input.Page < 1 {
		input.Page = 1
	}
	if input.Limit < 1 {
		input.Limit = 10
	}
	if input.Limit > 100 {
		input.Limit = 100
	}

	offset := (input.Page - 1) * input.Limit
	members, total, err := s.memberRepo.List(ctx, input.Status, offset, input.Limit)
	if err != nil {
		return nil, err
	}

	totalPages := int(total) / input.Limit
	if int(total)%input.Limit > 0 {
		totalPages++
	}

	return &ListMembersOutput{
		Members:    members,
		Total:      total,
		Page:       input.Page,
		Limit:      input.Limit,
		TotalPages: totalPages,
	}, nil
}

// CanBorrow reports whether the member may apply for loans
func (s *MemberService) CanBorrow(member *models.Member) error {
	switch member.Status {
	case models.MemberStatusActive:
		return nil
	case models.MemberStatusSuspended:
		return domain.ErrMemberSuspended
	case models.MemberStatusClosed:
		return domain.ErrMembershipClosed
	default:
		return domain.ErrMemberNotActive
	}
}

// CanWithdraw reports whether the member may withdraw funds. Suspended
// members can deposit and repay but not withdraw.
func (s *MemberService) CanWithdraw(member *models.Member) error {
	return s.CanBorrow(member)
}

func (s *MemberService) getMember(ctx context.Context, id uint) (*models.Member, error) {
	member, err := s.memberRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMemberNotFound
		}
		return nil, err
	}
	return member, nil
}

func newMemberNo() string {
	return "SH-" + strings.ToUpper(uuid.NewString()[:8])
}

func age(dob, now time.Time) int {
	years := now.Year() - dob.Year()
	if now.YearDay() < dob.YearDay() {
		years--
	}
	return years
}
