package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"
	"sautihub-sacco/internal/adapters/persistence/repositories"
	"sautihub-sacco/internal/config"
	"sautihub-sacco/internal/core/domain"

	"gorm.io/gorm"
)

// Loan service errors
var (
	ErrAmountOutOfRange   = errors.New("amount outside product limits")
	ErrTermOutOfRange     = errors.New("term outside product limits")
	ErrGuarantorCount     = errors.New("not enough guarantors for this product")
	ErrGuarantorSelf      = errors.New("a member cannot guarantee their own loan")
	ErrGuarantorNotActive = errors.New("guarantor is not an active member")
	ErrLoanNotServiced    = errors.New("loan is not receiving repayments in its current status")
)

// LoanService owns the loan lifecycle: eligibility, origination, tiered
// approval, disbursement, repayment, overdue/default sweeps and
// restructuring. All money movement goes through the ledger.
type LoanService struct {
	db              *gorm.DB
	loanRepo        *repositories.LoanRepository
	productRepo     *repositories.LoanProductRepository
	installmentRepo *repositories.InstallmentRepository
	memberRepo      *repositories.MemberRepository
	accountRepo     *repositories.AccountRepository
	ledger          *LedgerService
	policy          config.Policy
	notify          *NotificationService
}

// NewLoanService creates a new loan service
func NewLoanService(
	db *gorm.DB,
	loanRepo *repositories.LoanRepository,
	productRepo *repositories.LoanProductRepository,
	installmentRepo *repositories.InstallmentRepository,
	memberRepo *repositories.MemberRepository,
	accountRepo *repositories.AccountRepository,
	ledger *LedgerService,
	policy config.Policy,
	notify *NotificationService,
) *LoanService {
	return &LoanService{
		db:              db,
		loanRepo:        loanRepo,
		productRepo:     productRepo,
		installmentRepo: installmentRepo,
		memberRepo:      memberRepo,
		accountRepo:     accountRepo,
		ledger:          ledger,
		policy:          policy,
		notify:          notify,
	}
}

// EligibilityResult reports whether a member may take a loan and why not.
type EligibilityResult struct {
	Eligible      bool     `json:"eligible"`
	MaxBorrowable int64    `json:"max_borrowable"`
	Reasons       []string `json:"reasons,omitempty"`
}

// CheckEligibility evaluates the borrowing rules for a requested amount.
// Fails closed: any rule that cannot be evaluated leaves the member
// ineligible.
func (s *LoanService) CheckEligibility(ctx context.Context, member *models.Member, product *models.LoanProduct, amount int64) (*EligibilityResult, error) {
	result := &EligibilityResult{}

	if !member.IsActive() {
		result.Reasons = append(result.Reasons, "member is not active")
	}

	open, err := s.loanRepo.CountOpenByMember(ctx, member.ID)
	if err != nil {
		return nil, err
	}
	if int(open) >= s.policy.MaxActiveLoans && !s.policy.AllowTopUp {
		result.Reasons = append(result.Reasons, "member already has an open loan")
	}

	savings, err := s.accountRepo.GetByMemberAndType(ctx, member.ID, models.AccountTypeSavings)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result.Reasons = append(result.Reasons, "member has no savings account")
			return result, nil
		}
		return nil, err
	}
	result.MaxBorrowable = savings.Balance * int64(s.policy.MaxLoanToSavingsRatio)
	if amount > result.MaxBorrowable {
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("requested amount exceeds %dx of savings balance", s.policy.MaxLoanToSavingsRatio))
	}

	if amount < product.MinAmount || amount > product.MaxAmount {
		result.Reasons = append(result.Reasons, "amount outside product limits")
	}

	result.Eligible = len(result.Reasons) == 0
	return result, nil
}

// ApplyLoanInput represents a loan application
type ApplyLoanInput struct {
	ProductCode  string   `json:"product_code" validate:"required"`
	Amount       int64    `json:"amount" validate:"required,gt=0"`
	TermMonths   int      `json:"term_months" validate:"required,gt=0"`
	Purpose      string   `json:"purpose,omitempty"`
	GuarantorNos []string `json:"guarantor_nos,omitempty"`
}

// Apply creates a pending loan and soft-locks each guarantor's pledge so
// the same savings cannot be pledged twice.
func (s *LoanService) Apply(ctx context.Context, memberID uint, input *ApplyLoanInput) (*models.Loan, error) {
	member, err := s.memberRepo.GetByID(ctx, memberID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMemberNotFound
		}
		return nil, err
	}

	product, err := s.productRepo.GetByCode(ctx, input.ProductCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrLoanProductNotFound
		}
		return nil, err
	}

	if input.Amount < product.MinAmount || input.Amount > product.MaxAmount {
		return nil, ErrAmountOutOfRange
	}
	if input.TermMonths < product.MinTermMonths || input.TermMonths > product.MaxTermMonths {
		return nil, ErrTermOutOfRange
	}

	eligibility, err := s.CheckEligibility(ctx, member, product, input.Amount)
	if err != nil {
		return nil, err
	}
	if !eligibility.Eligible {
		return nil, fmt.Errorf("%w: %s", domain.ErrEligibilityDenied, strings.Join(eligibility.Reasons, "; "))
	}

	guarantors, err := s.vetGuarantors(ctx, member, product, input)
	if err != nil {
		return nil, err
	}

	loan := &models.Loan{
		MemberID:      member.ID,
		ProductID:     product.ID,
		Principal:     input.Amount,
		TermMonths:    input.TermMonths,
		AnnualRateBps: product.AnnualRateBps,
		ProcessingFee: bpsOf(input.Amount, product.ProcessingFeeBps),
		InsuranceFee:  bpsOf(input.Amount, product.InsuranceFeeBps),
		Purpose:       input.Purpose,
		Status:        models.LoanStatusPending,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(loan).Error; err != nil {
			return err
		}
		for i := range guarantors {
			guarantors[i].LoanID = loan.ID
		}
		if len(guarantors) > 0 {
			if err := tx.Create(&guarantors).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// vetGuarantors validates counts and free savings, returning the pledge rows
// to create. A guarantor's free savings are their balance less pledges they
// already carry.
func (s *LoanService) vetGuarantors(ctx context.Context, borrower *models.Member, product *models.LoanProduct, input *ApplyLoanInput) ([]models.LoanGuarantor, error) {
	if !product.RequiresGuarantor {
		return nil, nil
	}
	if len(input.GuarantorNos) < product.MinGuarantors {
		return nil, fmt.Errorf("%w: need at least %d", ErrGuarantorCount, product.MinGuarantors)
	}

	share := input.Amount / int64(len(input.GuarantorNos))
	pledge := bpsOf(share, s.policy.GuarantorLiabilityBps)

	rows := make([]models.LoanGuarantor, 0, len(input.GuarantorNos))
	for _, no := range input.GuarantorNos {
		guarantor, err := s.memberRepo.GetByMemberNo(ctx, no)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %s", domain.ErrMemberNotFound, no)
			}
			return nil, err
		}
		if guarantor.ID == borrower.ID {
			return nil, ErrGuarantorSelf
		}
		if !guarantor.IsActive() {
			return nil, fmt.Errorf("%w: %s", ErrGuarantorNotActive, no)
		}

		savings, err := s.accountRepo.GetByMemberAndType(ctx, guarantor.ID, models.AccountTypeSavings)
		if err != nil {
			return nil, err
		}
		pledged, err := s.loanRepo.SumPledgedByGuarantor(ctx, guarantor.ID)
		if err != nil {
			return nil, err
		}
		if savings.Balance-pledged < pledge {
			return nil, fmt.Errorf("%w: %s has insufficient free savings to guarantee %d",
				domain.ErrGuarantorCapacity, no, pledge)
		}

		rows = append(rows, models.LoanGuarantor{
			MemberID: guarantor.ID,
			Pledged:  pledge,
		})
	}
	return rows, nil
}

// Approve moves a pending loan to approved. Approval authority is tiered by
// amount; a caller below the required tier is refused. No funds move.
func (s *LoanService) Approve(ctx context.Context, loanID uint, approver domain.Caller) (*models.Loan, error) {
	loan, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusPending {
		return nil, domain.ErrInvalidLoanStatus
	}

	required := s.policy.RequiredTierFor(loan.Principal)
	if approver.Tier() < required {
		return nil, fmt.Errorf("%w: amount requires authority tier %d", domain.ErrInsufficientApprovalAuthority, required)
	}

	now := time.Now()
	loan.Status = models.LoanStatusApproved
	loan.ApprovedBy = &approver.UserRef
	loan.ApprovedAt = &now
	if err := s.loanRepo.Update(ctx, loan); err != nil {
		return nil, err
	}

	if s.notify != nil {
		s.notify.LoanApproved(loan)
	}
	return loan, nil
}

// Reject moves a pending loan to rejected and releases guarantor pledges.
func (s *LoanService) Reject(ctx context.Context, loanID uint, approver domain.Caller, reason string) (*models.Loan, error) {
	loan, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusPending {
		return nil, domain.ErrInvalidLoanStatus
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":          models.LoanStatusRejected,
			"rejected_reason": reason,
			"approved_by":     approver.UserRef,
		}
		if err := tx.Model(loan).Updates(updates).Error; err != nil {
			return err
		}
		return releaseGuarantors(tx, loan.ID)
	})
	if err != nil {
		return nil, err
	}
	loan.Status = models.LoanStatusRejected

	if s.notify != nil {
		s.notify.LoanRejected(loan, reason)
	}
	return loan, nil
}

// Disburse releases an approved loan: one atomic ledger operation debits
// the disbursement pool and credits the member's savings with
// principal minus fees, the amortization schedule is stored, and the loan
// becomes active.
func (s *LoanService) Disburse(ctx context.Context, loanID uint, approver domain.Caller) (*models.Transaction, error) {
	loan, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusApproved {
		return nil, domain.ErrInvalidLoanStatus
	}

	required := s.policy.RequiredTierFor(loan.Principal)
	if approver.Tier() < required {
		return nil, fmt.Errorf("%w: amount requires authority tier %d", domain.ErrInsufficientApprovalAuthority, required)
	}

	pool, err := s.accountRepo.GetSystemAccount(ctx, models.SystemAccountLoanPool)
	if err != nil {
		return nil, err
	}
	savings, err := s.accountRepo.GetByMemberAndType(ctx, loan.MemberID, models.AccountTypeSavings)
	if err != nil {
		return nil, err
	}

	net := loan.Principal - loan.ProcessingFee - loan.InsuranceFee
	now := time.Now()
	plans := CalculateSchedule(loan.Principal, loan.AnnualRateBps, loan.TermMonths, now.AddDate(0, 1, 0))
	reference := fmt.Sprintf("loan-%d-disbursement", loan.ID)
	description := fmt.Sprintf("loan %d disbursement (net of fees)", loan.ID)

	var credited *models.Transaction
	err = s.ledger.Atomic(ctx, []uint{pool.ID, savings.ID}, func(tx *gorm.DB) error {
		if _, err := s.ledger.PostInTx(tx, PostInput{
			AccountID:   pool.ID,
			Type:        models.TxTypeLoanDisbursement,
			Amount:      -net,
			Reference:   reference,
			Description: description,
		}); err != nil {
			return err
		}
		t, err := s.ledger.PostInTx(tx, PostInput{
			AccountID:   savings.ID,
			Type:        models.TxTypeLoanDisbursement,
			Amount:      net,
			Reference:   reference,
			Description: description,
		})
		if err != nil {
			return err
		}
		credited = t

		rows := buildInstallments(loan.ID, plans)
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}

		return tx.Model(loan).Updates(map[string]interface{}{
			"status":       models.LoanStatusActive,
			"outstanding":  TotalObligation(plans),
			"disbursed_at": now,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	if s.notify != nil {
		s.notify.LoanDisbursed(loan, net)
	}
	return credited, nil
}

// RecordRepayment debits the member's savings and credits the loan pool.
// A payment above the remaining balance is capped at the outstanding amount;
// the excess simply stays in the member's savings. Paying off the loan
// closes it and releases guarantor pledges.
func (s *LoanService) RecordRepayment(ctx context.Context, loanID uint, amount int64, reference string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidInput
	}

	loan, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !isServiced(loan.Status) {
		return nil, ErrLoanNotServiced
	}

	pool, err := s.accountRepo.GetSystemAccount(ctx, models.SystemAccountLoanPool)
	if err != nil {
		return nil, err
	}
	savings, err := s.accountRepo.GetByMemberAndType(ctx, loan.MemberID, models.AccountTypeSavings)
	if err != nil {
		return nil, err
	}

	// The status check above is only a fast fail; the authoritative check
	// and the cap run against a fresh row inside the account locks, so two
	// concurrent repayments cannot both apply against the same balance.
	var debited *models.Transaction
	err = s.ledger.Atomic(ctx, []uint{pool.ID, savings.ID}, func(tx *gorm.DB) error {
		fresh, err := loanInTx(tx, loanID)
		if err != nil {
			return err
		}
		if !isServiced(fresh.Status) {
			return ErrLoanNotServiced
		}
		applied := amount
		if applied > fresh.Outstanding {
			applied = fresh.Outstanding
		}

		t, err := s.ledger.PostInTx(tx, PostInput{
			AccountID:   savings.ID,
			Type:        models.TxTypeLoanRepayment,
			Amount:      -applied,
			Reference:   reference,
			Description: fmt.Sprintf("repayment on loan %d", fresh.ID),
		})
		if err != nil {
			return err
		}
		debited = t
		if _, err := s.ledger.PostInTx(tx, PostInput{
			AccountID:   pool.ID,
			Type:        models.TxTypeLoanRepayment,
			Amount:      applied,
			Reference:   reference,
			Description: fmt.Sprintf("repayment on loan %d", fresh.ID),
		}); err != nil {
			return err
		}
		if err := s.applyRepaymentInTx(tx, fresh, applied); err != nil {
			return err
		}
		loan = fresh
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateReference) {
		return s.ledger.findByReference(ctx, savings.ID, reference)
	}
	if err != nil {
		return nil, err
	}

	if s.notify != nil && loan.Status == models.LoanStatusClosed {
		s.notify.LoanClosed(loan)
	}
	return debited, nil
}

// isServiced reports whether a loan still accepts repayments.
func isServiced(status string) bool {
	switch status {
	case models.LoanStatusActive, models.LoanStatusOverdue, models.LoanStatusDefaulted:
		return true
	}
	return false
}

// loanInTx re-reads a loan inside a transaction whose caller already holds
// the relevant account locks, so the row cannot move underneath it.
func loanInTx(tx *gorm.DB, id uint) (*models.Loan, error) {
	var loan models.Loan
	if err := tx.First(&loan, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrLoanNotFound
		}
		return nil, err
	}
	return &loan, nil
}

// applyRepaymentInTx allocates a repayment to the schedule oldest-first
// (interest before principal within an installment), moves the outstanding
// balance, and closes the loan when it reaches zero. The outstanding
// balance never goes below zero: callers cap the applied amount first.
func (s *LoanService) applyRepaymentInTx(tx *gorm.DB, loan *models.Loan, applied int64) error {
	if applied > loan.Outstanding {
		return fmt.Errorf("%w: repayment %d exceeds outstanding %d",
			domain.ErrInvariantViolation, applied, loan.Outstanding)
	}

	var installments []models.Installment
	if err := tx.Where("loan_id = ? AND status <> ?", loan.ID, models.InstallmentStatusPaid).
		Order("number ASC").
		Find(&installments).Error; err != nil {
		return err
	}

	remaining := applied
	for i := range installments {
		if remaining == 0 {
			break
		}
		inst := &installments[i]
		due := inst.TotalDue - inst.PaidAmount
		pay := due
		if pay > remaining {
			pay = remaining
		}
		inst.PaidAmount += pay
		remaining -= pay
		updates := map[string]interface{}{"paid_amount": inst.PaidAmount}
		if inst.PaidAmount >= inst.TotalDue {
			updates["status"] = models.InstallmentStatusPaid
		}
		if err := tx.Model(inst).Updates(updates).Error; err != nil {
			return err
		}
	}

	loan.Outstanding -= applied
	updates := map[string]interface{}{"outstanding": loan.Outstanding}
	if loan.Outstanding == 0 {
		now := time.Now()
		loan.Status = models.LoanStatusClosed
		updates["status"] = models.LoanStatusClosed
		updates["closed_at"] = now
		if err := releaseGuarantors(tx, loan.ID); err != nil {
			return err
		}
	} else if loan.Status == models.LoanStatusOverdue {
		// Catching up on arrears returns the loan to active.
		caughtUp := true
		grace := time.Now().AddDate(0, 0, -s.policy.GracePeriodDays)
		for i := range installments {
			if installments[i].PaidAmount < installments[i].TotalDue && installments[i].DueDate.Before(grace) {
				caughtUp = false
				break
			}
		}
		if caughtUp {
			loan.Status = models.LoanStatusActive
			updates["status"] = models.LoanStatusActive
		}
	}
	return tx.Model(&models.Loan{}).Where("id = ?", loan.ID).Updates(updates).Error
}

// RevenueApplication summarizes how an incoming revenue credit was split.
type RevenueApplication struct {
	Deducted   int64 `json:"deducted"`
	Credited   int64 `json:"credited"`
	LoanClosed bool  `json:"loan_closed"`
}

// ApplyRevenue diverts part of an external revenue credit into loan
// repayment before crediting the remainder to the member's savings wallet,
// as one atomic unit. Without an active loan (or with auto-deduct off) the
// full amount is credited.
func (s *LoanService) ApplyRevenue(ctx context.Context, event domain.RevenueCredited) (*RevenueApplication, error) {
	if event.Amount <= 0 || event.Reference == "" {
		return nil, domain.ErrInvalidInput
	}

	member, err := s.memberRepo.GetByMemberNo(ctx, event.MemberNo)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMemberNotFound
		}
		return nil, err
	}
	savings, err := s.accountRepo.GetByMemberAndType(ctx, member.ID, models.AccountTypeSavings)
	if err != nil {
		return nil, err
	}

	loan, err := s.loanRepo.GetActiveByMember(ctx, member.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	hasLoan := err == nil

	if !hasLoan || !s.policy.AutoDeduct {
		if _, err := s.ledger.Post(ctx, PostInput{
			AccountID:   savings.ID,
			Type:        models.TxTypeDeposit,
			Amount:      event.Amount,
			Reference:   event.Reference,
			Description: fmt.Sprintf("revenue credit (%s)", event.Source),
		}); err != nil {
			return nil, err
		}
		return &RevenueApplication{Credited: event.Amount}, nil
	}

	pool, err := s.accountRepo.GetSystemAccount(ctx, models.SystemAccountLoanPool)
	if err != nil {
		return nil, err
	}

	// The deduction is sized against a fresh loan row inside the account
	// locks: a repayment racing this event cannot make both sides apply
	// against the same outstanding balance. If the loan got closed in the
	// meantime the whole amount goes to savings instead.
	var app RevenueApplication
	var closedLoan *models.Loan
	err = s.ledger.Atomic(ctx, []uint{pool.ID, savings.ID}, func(tx *gorm.DB) error {
		fresh, err := loanInTx(tx, loan.ID)
		if err != nil {
			return err
		}
		deduction := int64(0)
		if isServiced(fresh.Status) {
			deduction = bpsOf(event.Amount, s.policy.AutoDeductBps)
			if deduction > fresh.Outstanding {
				deduction = fresh.Outstanding
			}
		}
		remainder := event.Amount - deduction
		app = RevenueApplication{
			Deducted:   deduction,
			Credited:   remainder,
			LoanClosed: deduction > 0 && deduction == fresh.Outstanding,
		}

		if deduction > 0 {
			if _, err := s.ledger.PostInTx(tx, PostInput{
				AccountID:   pool.ID,
				Type:        models.TxTypeLoanRepayment,
				Amount:      deduction,
				Reference:   event.Reference + "-repay",
				Description: fmt.Sprintf("auto repayment on loan %d from %s revenue", fresh.ID, event.Source),
			}); err != nil {
				return err
			}
		}
		if remainder > 0 {
			if _, err := s.ledger.PostInTx(tx, PostInput{
				AccountID:   savings.ID,
				Type:        models.TxTypeDeposit,
				Amount:      remainder,
				Reference:   event.Reference,
				Description: fmt.Sprintf("revenue credit (%s), net of loan deduction", event.Source),
			}); err != nil {
				return err
			}
		}
		if deduction > 0 {
			if err := s.applyRepaymentInTx(tx, fresh, deduction); err != nil {
				return err
			}
			if fresh.Status == models.LoanStatusClosed {
				closedLoan = fresh
			}
		}
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateReference) {
		// Redelivered event: already applied.
		return &app, nil
	}
	if err != nil {
		return nil, err
	}

	if s.notify != nil && closedLoan != nil {
		s.notify.LoanClosed(closedLoan)
	}
	return &app, nil
}

// CheckOverdue flags serviced loans with an installment unpaid past the
// grace period. Idempotent: already-overdue loans are untouched.
func (s *LoanService) CheckOverdue(ctx context.Context) (int, error) {
	loans, err := s.loanRepo.ListServicedLoans(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -s.policy.GracePeriodDays)
	flagged := 0
	for _, loan := range loans {
		if loan.Status != models.LoanStatusActive {
			continue
		}
		inst, err := s.installmentRepo.FirstUnpaidDueBefore(ctx, loan.ID, cutoff)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return flagged, err
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.Installment{}).
				Where("id = ?", inst.ID).
				UpdateColumn("status", models.InstallmentStatusOverdue).Error; err != nil {
				return err
			}
			return tx.Model(&models.Loan{}).
				Where("id = ?", loan.ID).
				UpdateColumn("status", models.LoanStatusOverdue).Error
		})
		if err != nil {
			return flagged, err
		}
		flagged++
		if s.notify != nil {
			s.notify.LoanOverdue(loan, inst)
		}
	}
	return flagged, nil
}

// CheckDefault moves overdue loans with an installment unpaid past the
// auto-default window into defaulted. Defaulted loans still accept recovery
// payments but never return to active.
func (s *LoanService) CheckDefault(ctx context.Context) (int, error) {
	loans, err := s.loanRepo.ListServicedLoans(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().AddDate(0, 0, -s.policy.AutoDefaultDays)
	flagged := 0
	for _, loan := range loans {
		if loan.Status != models.LoanStatusOverdue {
			continue
		}
		_, err := s.installmentRepo.FirstUnpaidDueBefore(ctx, loan.ID, cutoff)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return flagged, err
		}

		if err := s.db.WithContext(ctx).Model(&models.Loan{}).
			Where("id = ?", loan.ID).
			UpdateColumn("status", models.LoanStatusDefaulted).Error; err != nil {
			return flagged, err
		}
		flagged++
		if s.notify != nil {
			s.notify.LoanDefaulted(loan)
		}
	}
	return flagged, nil
}

// Restructure rebuilds the schedule over a new term from what is still
// owed: unpaid principal plus interest already due is carried as the new
// principal, interest not yet accrued is dropped.
func (s *LoanService) Restructure(ctx context.Context, loanID uint, newTermMonths int) (*models.Loan, error) {
	loan, err := s.getLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	switch loan.Status {
	case models.LoanStatusActive, models.LoanStatusOverdue:
	default:
		return nil, domain.ErrInvalidLoanStatus
	}
	if loan.RestructureCount >= s.policy.MaxRestructures {
		return nil, domain.ErrRestructureLimitExceeded
	}

	product, err := s.productRepo.GetByID(ctx, loan.ProductID)
	if err != nil {
		return nil, err
	}
	if newTermMonths < product.MinTermMonths || newTermMonths > product.MaxTermMonths {
		return nil, ErrTermOutOfRange
	}

	installments, err := s.installmentRepo.ListByLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var carry int64
	paidCount := 0
	for _, inst := range installments {
		if inst.Status == models.InstallmentStatusPaid {
			paidCount++
			continue
		}
		interestPaid := inst.PaidAmount
		if interestPaid > inst.InterestDue {
			interestPaid = inst.InterestDue
		}
		principalPaid := inst.PaidAmount - interestPaid
		carry += inst.PrincipalDue - principalPaid
		if inst.DueDate.Before(now) {
			carry += inst.InterestDue - interestPaid
		}
	}
	if carry <= 0 {
		return nil, domain.ErrInvalidLoanStatus
	}

	plans := CalculateSchedule(carry, loan.AnnualRateBps, newTermMonths, now.AddDate(0, 1, 0))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("loan_id = ? AND status <> ?", loanID, models.InstallmentStatusPaid).
			Delete(&models.Installment{}).Error; err != nil {
			return err
		}
		rows := buildInstallments(loanID, plans)
		for i := range rows {
			rows[i].Number = paidCount + i + 1
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		return tx.Model(&models.Loan{}).Where("id = ?", loanID).Updates(map[string]interface{}{
			"status":            models.LoanStatusActive,
			"term_months":       newTermMonths,
			"outstanding":       TotalObligation(plans),
			"restructure_count": loan.RestructureCount + 1,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.getLoan(ctx, loanID)
}

// Schedule lists a loan's stored amortization schedule in order.
func (s *LoanService) Schedule(ctx context.Context, loanID uint) ([]*models.Installment, error) {
	if _, err := s.getLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return s.installmentRepo.ListByLoan(ctx, loanID)
}

// GetByID gets a loan by ID
func (s *LoanService) GetByID(ctx context.Context, id uint) (*models.Loan, error) {
	return s.getLoan(ctx, id)
}

// ListByMember lists a member's loans
func (s *LoanService) ListByMember(ctx context.Context, memberID uint) ([]*models.Loan, error) {
	return s.loanRepo.ListByMember(ctx, memberID)
}

// ListLoansInput represents loan list input
type ListLoansInput struct {
	Page     int
	Limit    int
	Statuses []string
}

// ListLoansOutput represents loan list output
type ListLoansOutput struct {
	Loans      []*models.Loan `json:"loans"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"total_pages"`
}

// List lists loans by status
func (s *LoanService) List(ctx context.Context, input *ListLoansInput) (*ListLoansOutput, error) {
	if input.Page < 1 {
		input.Page = 1
	}
	if input.Limit < 1 {
		input.Limit = 10
	}
	if input.Limit > 100 {
		input.Limit = 100
	}
	if len(input.Statuses) == 0 {
		input.Statuses = []string{
			models.LoanStatusPending, models.LoanStatusApproved, models.LoanStatusActive,
			models.LoanStatusOverdue, models.LoanStatusDefaulted,
		}
	}

	offset := (input.Page - 1) * input.Limit
	loans, total, err := s.loanRepo.ListByStatus(ctx, input.Statuses, offset, input.Limit)
	if err != nil {
		return nil, err
	}

	totalPages := int(total) / input.Limit
	if int(total)%input.Limit > 0 {
		totalPages++
	}

	return &ListLoansOutput{
		Loans:      loans,
		Total:      total,
		Page:       input.Page,
		Limit:      input.Limit,
		TotalPages: totalPages,
	}, nil
}

func (s *LoanService) getLoan(ctx context.Context, id uint) (*models.Loan, error) {
	loan, err := s.loanRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrLoanNotFound
		}
		return nil, err
	}
	return loan, nil
}

func releaseGuarantors(tx *gorm.DB, loanID uint) error {
	return tx.Model(&models.LoanGuarantor{}).
		Where("loan_id = ? AND released = ?", loanID, false).
		Updates(map[string]interface{}{
			"released":    true,
			"released_at": time.Now(),
		}).Error
}

func bpsOf(amount int64, bps int) int64 {
	return amount * int64(bps) / 10000
}
