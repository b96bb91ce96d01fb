package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"
	"sautihub-sacco/internal/adapters/persistence/repositories"
	"sautihub-sacco/internal/core/domain"
	"sautihub-sacco/internal/testutil"

	"gorm.io/gorm"
)

type loanFixture struct {
	db       *gorm.DB
	ledger   *LedgerService
	loans    *LoanService
	members  *repositories.MemberRepository
	accounts *repositories.AccountRepository
}

func newLoanFixture(t *testing.T) *loanFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ledger := NewLedgerService(db)
	testutil.CreateSystemAccounts(t, db)

	memberRepo := repositories.NewMemberRepository(db)
	accountRepo := repositories.NewAccountRepository(db)
	loans := NewLoanService(
		db,
		repositories.NewLoanRepository(db),
		repositories.NewLoanProductRepository(db),
		repositories.NewInstallmentRepository(db),
		memberRepo,
		accountRepo,
		ledger,
		testutil.TestPolicy(),
		nil,
	)
	return &loanFixture{db: db, ledger: ledger, loans: loans, members: memberRepo, accounts: accountRepo}
}

func (f *loanFixture) seedSavings(t *testing.T, accountID uint, amount int64, ref string) {
	t.Helper()
	if _, err := f.ledger.Post(context.Background(), PostInput{
		AccountID: accountID,
		Type:      models.TxTypeDeposit,
		Amount:    amount,
		Reference: ref,
	}); err != nil {
		t.Fatalf("seed savings: %v", err)
	}
}

func (f *loanFixture) activeLoan(t *testing.T, member *models.Member, product *models.LoanProduct, amount int64, term int) *models.Loan {
	t.Helper()
	ctx := context.Background()

	loan, err := f.loans.Apply(ctx, member.ID, &ApplyLoanInput{
		ProductCode: product.Code,
		Amount:      amount,
		TermMonths:  term,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	manager := domain.Caller{UserRef: "mgr-1", Role: domain.RoleManager}
	if _, err := f.loans.Approve(ctx, loan.ID, manager); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.loans.Disburse(ctx, loan.ID, manager); err != nil {
		t.Fatalf("disburse: %v", err)
	}

	loan, err = f.loans.GetByID(ctx, loan.ID)
	if err != nil {
		t.Fatalf("reload loan: %v", err)
	}
	return loan
}

func TestCheckEligibility(t *testing.T) {
	f := newLoanFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-ELIG01", 10)
	product := testutil.CreateProduct(t, f.db, "NORMAL", 1200, false, 0)
	f.seedSavings(t, savings.ID, 1_000_000, "seed")
	ctx := context.Background()

	m, _ := f.members.GetByID(ctx, member.ID)

	t.Run("within savings multiple", func(t *testing.T) {
		result, err := f.loans.CheckEligibility(ctx, m, product, 2_500_000)
		if err != nil {
			t.Fatalf("eligibility: %v", err)
		}
		if !result.Eligible {
			t.Errorf("not eligible: %v", result.Reasons)
		}
		if result.MaxBorrowable != 3_000_000 {
			t.Errorf("max borrowable = %d, want 3000000", result.MaxBorrowable)
		}
	})

	t.Run("beyond savings multiple", func(t *testing.T) {
		result, err := f.loans.CheckEligibility(ctx, m, product, 3_500_000)
		if err != nil {
			t.Fatalf("eligibility: %v", err)
		}
		if result.Eligible {
			t.Error("3.5M against 1M savings at 3x should be denied")
		}
	})

	t.Run("open loan blocks a second", func(t *testing.T) {
		f.activeLoan(t, member, product, 300_000, 6)
		result, err := f.loans.CheckEligibility(ctx, m, product, 100_000)
		if err != nil {
			t.Fatalf("eligibility: %v", err)
		}
		if result.Eligible {
			t.Error("member with an open loan should be denied")
		}
	})
}

func TestApplyGuarantorRules(t *testing.T) {
	f := newLoanFixture(t)
	borrower, savings := testutil.CreateMember(t, f.db, "SH-GUAR01", 10)
	g1, g1Savings := testutil.CreateMember(t, f.db, "SH-GUAR02", 10)
	_, g2Savings := testutil.CreateMember(t, f.db, "SH-GUAR03", 10)
	product := testutil.CreateProduct(t, f.db, "SECURED", 1200, true, 2)
	f.seedSavings(t, savings.ID, 1_000_000, "seed-b")
	f.seedSavings(t, g1Savings.ID, 200_000, "seed-g1")
	f.seedSavings(t, g2Savings.ID, 200_000, "seed-g2")
	ctx := context.Background()

	t.Run("too few guarantors", func(t *testing.T) {
		_, err := f.loans.Apply(ctx, borrower.ID, &ApplyLoanInput{
			ProductCode:  product.Code,
			Amount:       400_000,
			TermMonths:   12,
			GuarantorNos: []string{g1.MemberNo},
		})
		if !errors.Is(err, ErrGuarantorCount) {
			t.Errorf("err = %v, want ErrGuarantorCount", err)
		}
	})

	t.Run("self guarantee refused", func(t *testing.T) {
		_, err := f.loans.Apply(ctx, borrower.ID, &ApplyLoanInput{
			ProductCode:  product.Code,
			Amount:       400_000,
			TermMonths:   12,
			GuarantorNos: []string{borrower.MemberNo, g1.MemberNo},
		})
		if !errors.Is(err, ErrGuarantorSelf) {
			t.Errorf("err = %v, want ErrGuarantorSelf", err)
		}
	})

	t.Run("pledge beyond free savings refused", func(t *testing.T) {
		// 900k split two ways at 50% liability asks each guarantor
		// for a 225k pledge against 200k of savings.
		_, err := f.loans.Apply(ctx, borrower.ID, &ApplyLoanInput{
			ProductCode:  product.Code,
			Amount:       900_000,
			TermMonths:   12,
			GuarantorNos: []string{"SH-GUAR02", "SH-GUAR03"},
		})
		if !errors.Is(err, domain.ErrGuarantorCapacity) {
			t.Errorf("err = %v, want ErrGuarantorCapacity", err)
		}
	})

	t.Run("valid application pledges guarantors", func(t *testing.T) {
		loan, err := f.loans.Apply(ctx, borrower.ID, &ApplyLoanInput{
			ProductCode:  product.Code,
			Amount:       400_000,
			TermMonths:   12,
			GuarantorNos: []string{"SH-GUAR02", "SH-GUAR03"},
		})
		if err != nil {
			t.Fatalf("apply: %v", err)
		}

		var pledges []models.LoanGuarantor
		if err := f.db.Where("loan_id = ?", loan.ID).Find(&pledges).Error; err != nil {
			t.Fatalf("load pledges: %v", err)
		}
		if len(pledges) != 2 {
			t.Fatalf("pledges = %d, want 2", len(pledges))
		}
		for _, p := range pledges {
			if p.Pledged != 100_000 {
				t.Errorf("pledge = %d, want 100000 (half of 200k share)", p.Pledged)
			}
			if p.Released {
				t.Error("fresh pledge marked released")
			}
		}

		t.Run("rejection releases pledges", func(t *testing.T) {
			manager := domain.Caller{UserRef: "mgr-1", Role: domain.RoleManager}
			if _, err := f.loans.Reject(ctx, loan.ID, manager, "insufficient history"); err != nil {
				t.Fatalf("reject: %v", err)
			}
			var released []models.LoanGuarantor
			if err := f.db.Where("loan_id = ?", loan.ID).Find(&released).Error; err != nil {
				t.Fatalf("load pledges: %v", err)
			}
			for _, p := range released {
				if !p.Released {
					t.Errorf("pledge %d not released after rejection", p.ID)
				}
			}
		})
	})
}

func TestApprovalAuthorityTiers(t *testing.T) {
	f := newLoanFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-TIER01", 10)
	product := testutil.CreateProduct(t, f.db, "NORMAL", 1200, false, 0)
	f.seedSavings(t, savings.ID, 1_000_000, "seed")
	ctx := context.Background()

	loan, err := f.loans.Apply(ctx, member.ID, &ApplyLoanInput{
		ProductCode: product.Code,
		Amount:      2_000_000,
		TermMonths:  24,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	officer := domain.Caller{UserRef: "off-1", Role: domain.RoleOfficer}
	if _, err := f.loans.Approve(ctx, loan.ID, officer); !errors.Is(err, domain.ErrInsufficientApprovalAuthority) {
		t.Errorf("officer approving 2M: err = %v, want ErrInsufficientApprovalAuthority", err)
	}

	manager := domain.Caller{UserRef: "mgr-1", Role: domain.RoleManager}
	approved, err := f.loans.Approve(ctx, loan.ID, manager)
	if err != nil {
		t.Fatalf("manager approve: %v", err)
	}
	if approved.Status != models.LoanStatusApproved {
		t.Errorf("status = %s, want APPROVED", approved.Status)
	}
	if approved.ApprovedBy == nil || *approved.ApprovedBy != "mgr-1" {
		t.Error("approver not recorded")
	}
}

func TestDisburseMovesNetAndBuildsSchedule(t *testing.T) {
	f := newLoanFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-DISB01", 10)
	product := testutil.CreateProduct(t, f.db, "NORMAL", 1200, false, 0)
	f.seedSavings(t, savings.ID, 1_000_000, "seed")
	ctx := context.Background()

	loan := f.activeLoan(t, member, product, 600_000, 12)

	if loan.Status != models.LoanStatusActive {
		t.Errorf("status = %s, want ACTIVE", loan.Status)
	}
	if loan.DisbursedAt == nil {
		t.Error("disbursed_at not set")
	}

	// Net of 1% processing and 0.5% insurance: 600000 - 6000 - 3000.
	balance, _ := f.ledger.Balance(ctx, savings.ID, nil)
	if balance != 1_000_000+591_000 {
		t.Errorf("savings = %d, want 1591000", balance)
	}
	pool, _ := f.accounts.GetSystemAccount(ctx, models.SystemAccountLoanPool)
	if pool.Balance != -591_000 {
		t.Errorf("pool = %d, want -591000", pool.Balance)
	}

	installments, err := f.loans.Schedule(ctx, loan.ID)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(installments) != 12 {
		t.Fatalf("installments = %d, want 12", len(installments))
	}
	var principal, total int64
	for _, inst := range installments {
		principal += inst.PrincipalDue
		total += inst.TotalDue
	}
	if principal != 600_000 {
		t.Errorf("scheduled principal = %d, want 600000", principal)
	}
	if loan.Outstanding != total {
		t.Errorf("outstanding = %d, want full obligation %d", loan.Outstanding, total)
	}

	// Disbursing again must be refused, not repeated.
	if _, err := f.loans.Disburse(ctx, loan.ID, domain.Caller{UserRef: "mgr-1", Role: domain.RoleManager}); !errors.Is(err, domain.ErrInvalidLoanStatus) {
		t.Errorf("second disburse err = %v, want ErrInvalidLoanStatus", err)
	}
}

func TestRepaymentAllocationAndClose(t *testing.T) {
	f := newLoanFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-REPAY01", 10)
	product := testutil.CreateProduct(t, f.db, "NORMAL", 1200, false, 0)
	f.seedSavings(t, savings.ID, 1_000_000, "seed")
	ctx := context.Background()

	loan := f.activeLoan(t, member, product, 300_000, 6)
	installments, _ := f.loans.Schedule(ctx, loan.ID)
	first := installments[0]

	t.Run("partial payment goes to the oldest installment", func(t *testing.T) {
		half := first.TotalDue / 2
		if _, err := f.loans.RecordRepayment(ctx, loan.ID, half, "rep-1"); err != nil {
			t.Fatalf("repay: %v", err)
		}

		refreshed, _ := f.loans.Schedule(ctx, loan.ID)
		if refreshed[0].PaidAmount != half {
			t.Errorf("installment 1 paid = %d, want %d", refreshed[0].PaidAmount, half)
		}
		if refreshed[0].Status == models.InstallmentStatusPaid {
			t.Error("half-paid installment marked PAID")
		}

		reloaded, _ := f.loans.GetByID(ctx, loan.ID)
		if reloaded.Outstanding != loan.Outstanding-half {
			t.Errorf("outstanding = %d, want %d", reloaded.Outstanding, loan.Outstanding-half)
		}
	})

	t.Run("overpayment is capped at outstanding", func(t *testing.T) {
		before, _ := f.ledger.Balance(ctx, savings.ID, nil)
		reloaded, _ := f.loans.GetByID(ctx, loan.ID)

		if _, err := f.loans.RecordRepayment(ctx, loan.ID, reloaded.Outstanding+50_000, "rep-final"); err != nil {
			t.Fatalf("final repay: %v", err)
		}

		closed, _ := f.loans.GetByID(ctx, loan.ID)
		if closed.Status != models.LoanStatusClosed {
			t.Errorf("status = %s, want CLOSED", closed.Status)
		}
		if closed.Outstanding != 0 {
			t.Errorf("outstanding = %d, want 0", closed.Outstanding)
		}
		if closed.ClosedAt == nil {
			t.Error("closed_at not set")
		}

		// Only the outstanding amount left the account; the excess
		// stayed in savings untouched.
		after, _ := f.ledger.Balance(ctx, savings.ID, nil)
		if before-after != reloaded.Outstanding {
			t.Errorf("debited %d, want exactly outstanding %d", before-after, reloaded.Outstanding)
		}

		final, _ := f.loans.Schedule(ctx, loan.ID)
		for _, inst := range final {
			if inst.Status != models.InstallmentStatusPaid {
				t.Errorf("installment %d status = %s after payoff", inst.Number, inst.Status)
			}
		}
	})

	t.Run("closed loan refuses further payments", func(t *testing.T) {
		if _, err := f.loans.RecordRepayment(ctx, loan.ID, 1_000, "rep-extra"); !errors.Is(err, ErrLoanNotServiced) {
			t.Errorf("err = %v, want ErrLoanNotServiced", err)
		}
	})
}

func TestRepaymentRetrySafe(t *testing.T) {
	f := newLoanFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-RETRY01", 10)
	product := testutil.CreateProduct(t, f.db, "NORMAL", 1200, false, 0)
	f.seedSavings(t, savings.ID, 1_000_000, "seed")
	ctx := context.Background()

	loan := f.activeLoan(t, member, product, 300_000, 6)

	if _, err := f.loans.RecordRepayment(ctx, loan.ID, 50_000, "rep-once"); err != nil {
		t.Fatalf("repay: %v", err)
	}
	afterFirst, _ := f.loans.GetByID(ctx, loan.ID)

	// Same reference again: no double debit, no double allocation.
	if _, err := f.loans.RecordRepayment(ctx, loan.ID, 50_000, "rep-once"); err != nil {
		t.Fatalf("retried repay: %v", err)
	}
	afterRetry, _ := f.loans.GetByID(ctx, loan.ID)
	if afterRetry.Outstanding != afterFirst.Outstanding {
		t.Errorf("outstanding moved on retry: %d -> %d", afterFirst.Outstanding, afterRetry.Outstanding)
	}
}

func TestConcurrentRepaymentsNeverOverDebit(t *testing.T) {
	f := newLoanFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-RACE01", 10)
	product := testutil.CreateProduct(t, f.db, "NORMAL", 1200, false, 0)
	f.seedSavings(t, savings.ID, 2_000_000, "seed")
	ctx := context.Background()

	loan := f.activeLoan(t, member, product, 300_000, 6)
	before, _ := f.ledger.Balance(ctx, savings.ID, nil)

	// Two full repayments race; at most one may apply.
	errs := make(chan error, 2)
	for _, ref := range []string{"race-a", "race-b"} {
		go func(ref string) {
			_, err := f.loans.RecordRepayment(ctx, loan.ID, loan.Outstanding, ref)
			errs <- err
		}(ref)
	}
	succeeded := 0
	for i := 0; i < 2; i++ {
		err := <-errs
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrLoanNotServiced) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded < 1 {
		t.Fatal("no repayment applied")
	}

	// The member is debited the outstanding exactly once.
	after, _ := f.ledger.Balance(ctx, savings.ID, nil)
	if before-after != loan.Outstanding {
		t.Errorf("debited %d, want exactly %d", before-after, loan.Outstanding)
	}
	closed, _ := f.loans.GetByID(ctx, loan.ID)
	if closed.Outstanding != 0 {
		t.Errorf("outstanding = %d, want 0", closed.Outstanding)
	}
	if closed.Status != models.LoanStatusClosed {
		t.Errorf("status = %s, want CLOSED", closed.Status)
	}
}

func TestOverdueAndDefaultSweeps(t *testing.T) {
	f := newLoanFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-SWEEP01", 10)
	product := testutil.CreateProduct(t, f.db, "NORMAL", 1200, false, 0)
	f.seedSavings(t, savings.ID, 1_000_000, "seed")
	ctx := context.Background()

	loan := f.activeLoan(t, member, product, 300_000, 6)

	// Nothing due yet: sweep is a no-op.
	flagged, err := f.loans.CheckOverdue(ctx)
	if err != nil {
		t.Fatalf("overdue sweep: %v", err)
	}
	if flagged != 0 {
		t.Errorf("flagged %d loans with nothing due", flagged)
	}

	// Age the first installment past the grace period.
	past := time.Now().AddDate(0, 0, -10)
	if err := f.db.Model(&models.Installment{}).
		Where("loan_id = ? AND number = ?", loan.ID, 1).
		UpdateColumn("due_date", past).Error; err != nil {
		t.Fatalf("age installment: %v", err)
	}

	flagged, err = f.loans.CheckOverdue(ctx)
	if err != nil {
		t.Fatalf("overdue sweep: %v", err)
	}
	if flagged != 1 {
		t.Errorf("flagged = %d, want 1", flagged)
	}
	reloaded, _ := f.loans.GetByID(ctx, loan.ID)
	if reloaded.Status != models.LoanStatusOverdue {
		t.Errorf("status = %s, want OVERDUE", reloaded.Status)
	}

	// Idempotent: the second pass finds nothing new.
	flagged, _ = f.loans.CheckOverdue(ctx)
	if flagged != 0 {
		t.Errorf("second sweep flagged %d, want 0", flagged)
	}

	t.Run("catching up restores active", func(t *testing.T) {
		installments, _ := f.loans.Schedule(ctx, loan.ID)
		if _, err := f.loans.RecordRepayment(ctx, loan.ID, installments[0].TotalDue, "rep-catchup"); err != nil {
			t.Fatalf("catch-up repay: %v", err)
		}
		restored, _ := f.loans.GetByID(ctx, loan.ID)
		if restored.Status != models.LoanStatusActive {
			t.Errorf("status = %s after catching up, want ACTIVE", restored.Status)
		}
	})

	t.Run("long arrears default", func(t *testing.T) {
		ancient := time.Now().AddDate(0, 0, -120)
		if err := f.db.Model(&models.Installment{}).
			Where("loan_id = ? AND number = ?", loan.ID, 2).
			UpdateColumn("due_date", ancient).Error; err != nil {
			t.Fatalf("age installment: %v", err)
		}
		if _, err := f.loans.CheckOverdue(ctx); err != nil {
			t.Fatalf("overdue sweep: %v", err)
		}

		flagged, err := f.loans.CheckDefault(ctx)
		if err != nil {
			t.Fatalf("default sweep: %v", err)
		}
		if flagged != 1 {
			t.Errorf("defaulted = %d, want 1", flagged)
		}
		defaulted, _ := f.loans.GetByID(ctx, loan.ID)
		if defaulted.Status != models.LoanStatusDefaulted {
			t.Errorf("status = %s, want DEFAULTED", defaulted.Status)
		}

		// Recovery payments are still accepted on a defaulted loan.
		if _, err := f.loans.RecordRepayment(ctx, loan.ID, 10_000, "rep-recovery"); err != nil {
			t.Errorf("recovery payment refused: %v", err)
		}
	})
}

func TestRestructure(t *testing.T) {
	f := newLoanFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-RESTR01", 10)
	product := testutil.CreateProduct(t, f.db, "NORMAL", 1200, false, 0)
	f.seedSavings(t, savings.ID, 1_000_000, "seed")
	ctx := context.Background()

	loan := f.activeLoan(t, member, product, 600_000, 12)

	restructured, err := f.loans.Restructure(ctx, loan.ID, 24)
	if err != nil {
		t.Fatalf("restructure: %v", err)
	}
	if restructured.TermMonths != 24 {
		t.Errorf("term = %d, want 24", restructured.TermMonths)
	}
	if restructured.RestructureCount != 1 {
		t.Errorf("restructure count = %d, want 1", restructured.RestructureCount)
	}
	if restructured.Status != models.LoanStatusActive {
		t.Errorf("status = %s, want ACTIVE", restructured.Status)
	}

	installments, _ := f.loans.Schedule(ctx, loan.ID)
	if len(installments) != 24 {
		t.Errorf("installments = %d, want 24", len(installments))
	}
	var principal int64
	for _, inst := range installments {
		principal += inst.PrincipalDue
	}
	// No payments were made, so the respread principal is unchanged.
	if principal != 600_000 {
		t.Errorf("respread principal = %d, want 600000", principal)
	}

	if _, err := f.loans.Restructure(ctx, loan.ID, 36); err != nil {
		t.Fatalf("second restructure: %v", err)
	}
	if _, err := f.loans.Restructure(ctx, loan.ID, 48); !errors.Is(err, domain.ErrRestructureLimitExceeded) {
		t.Errorf("third restructure err = %v, want ErrRestructureLimitExceeded", err)
	}
}
