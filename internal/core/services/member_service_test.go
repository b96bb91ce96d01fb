package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sautihub-sacco/internal/adapters/persistence/models"
	"sautihub-sacco/internal/adapters/persistence/repositories"
	"sautihub-sacco/internal/core/domain"
	"sautihub-sacco/internal/testutil"

	"gorm.io/gorm"
)

func newMemberService(t *testing.T) (*MemberService, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	svc := NewMemberService(
		repositories.NewMemberRepository(db),
		repositories.NewAccountRepository(db),
		repositories.NewLoanRepository(db),
		NewLedgerService(db),
		testutil.TestPolicy(),
		nil,
	)
	return svc, db
}

func validRegistration(userRef string) *RegisterInput {
	return &RegisterInput{
		UserRef:     userRef,
		FullName:    "Wanjiku Kamau",
		DateOfBirth: "1990-04-12",
		IDNumber:    "12345678",
		Phone:       "+254700000001",
	}
}

func TestRegister(t *testing.T) {
	svc, _ := newMemberService(t)
	ctx := context.Background()

	member, err := svc.Register(ctx, validRegistration("user-reg-1"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if member.Status != models.MemberStatusPending {
		t.Errorf("status = %s, want PENDING", member.Status)
	}
	if !strings.HasPrefix(member.MemberNo, "SH-") {
		t.Errorf("member no %q missing SH- prefix", member.MemberNo)
	}

	t.Run("one membership per identity", func(t *testing.T) {
		if _, err := svc.Register(ctx, validRegistration("user-reg-1")); !errors.Is(err, ErrMemberAlreadyRegistered) {
			t.Errorf("err = %v, want ErrMemberAlreadyRegistered", err)
		}
	})

	t.Run("underage applicant refused", func(t *testing.T) {
		input := validRegistration("user-reg-2")
		input.DateOfBirth = "2012-01-01"
		if _, err := svc.Register(ctx, input); !errors.Is(err, ErrUnderage) {
			t.Errorf("err = %v, want ErrUnderage", err)
		}
	})

	t.Run("missing KYC refused", func(t *testing.T) {
		input := validRegistration("user-reg-3")
		input.Phone = ""
		if _, err := svc.Register(ctx, input); !errors.Is(err, ErrKYCIncomplete) {
			t.Errorf("err = %v, want ErrKYCIncomplete", err)
		}
	})

	t.Run("malformed date of birth refused", func(t *testing.T) {
		input := validRegistration("user-reg-4")
		input.DateOfBirth = "12/04/1990"
		if _, err := svc.Register(ctx, input); err == nil {
			t.Error("expected an error for a malformed date")
		}
	})
}

func TestApproveProvisionsAccounts(t *testing.T) {
	svc, db := newMemberService(t)
	ctx := context.Background()

	member, err := svc.Register(ctx, validRegistration("user-app-1"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	officer := domain.Caller{UserRef: "off-1", Role: domain.RoleOfficer}
	approved, err := svc.Approve(ctx, member.ID, officer)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != models.MemberStatusActive {
		t.Errorf("status = %s, want ACTIVE", approved.Status)
	}
	if approved.JoinedAt == nil {
		t.Error("joined_at not set")
	}

	var accounts []models.Account
	if err := db.Where("member_id = ?", member.ID).Find(&accounts).Error; err != nil {
		t.Fatalf("load accounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("accounts = %d, want savings and shares", len(accounts))
	}
	types := map[string]bool{}
	for _, a := range accounts {
		types[a.Type] = true
		if a.Balance != 0 {
			t.Errorf("%s account opened with balance %d", a.Type, a.Balance)
		}
	}
	if !types[models.AccountTypeSavings] || !types[models.AccountTypeShares] {
		t.Errorf("account types = %v", types)
	}

	t.Run("approving twice refused", func(t *testing.T) {
		if _, err := svc.Approve(ctx, member.ID, officer); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})
}

func TestSuspendAndReactivate(t *testing.T) {
	svc, _ := newMemberService(t)
	ctx := context.Background()

	member, _ := svc.Register(ctx, validRegistration("user-sus-1"))
	officer := domain.Caller{UserRef: "off-1", Role: domain.RoleOfficer}
	if _, err := svc.Approve(ctx, member.ID, officer); err != nil {
		t.Fatalf("approve: %v", err)
	}

	suspended, err := svc.Suspend(ctx, member.ID, "missed share contributions")
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if suspended.Status != models.MemberStatusSuspended {
		t.Errorf("status = %s, want SUSPENDED", suspended.Status)
	}
	if suspended.SuspendReason == "" {
		t.Error("suspend reason not recorded")
	}

	restored, err := svc.Reactivate(ctx, member.ID)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if restored.Status != models.MemberStatusActive {
		t.Errorf("status = %s, want ACTIVE", restored.Status)
	}
	if restored.SuspendReason != "" {
		t.Error("suspend reason not cleared")
	}

	t.Run("reactivating an active member refused", func(t *testing.T) {
		if _, err := svc.Reactivate(ctx, member.ID); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})
}

func TestPurchaseShares(t *testing.T) {
	svc, db := newMemberService(t)
	ledger := NewLedgerService(db)
	ctx := context.Background()

	member, _ := svc.Register(ctx, validRegistration("user-shr-1"))
	officer := domain.Caller{UserRef: "off-1", Role: domain.RoleOfficer}
	if _, err := svc.Approve(ctx, member.ID, officer); err != nil {
		t.Fatalf("approve: %v", err)
	}

	var savings, shares models.Account
	if err := db.Where("member_id = ? AND type = ?", member.ID, models.AccountTypeSavings).First(&savings).Error; err != nil {
		t.Fatalf("load savings: %v", err)
	}
	if err := db.Where("member_id = ? AND type = ?", member.ID, models.AccountTypeShares).First(&shares).Error; err != nil {
		t.Fatalf("load shares: %v", err)
	}
	if _, err := ledger.Post(ctx, PostInput{
		AccountID: savings.ID, Type: models.TxTypeDeposit, Amount: 100_000, Reference: "seed",
	}); err != nil {
		t.Fatalf("seed savings: %v", err)
	}

	// 50 shares at the 1,000 test share price.
	bought, err := svc.PurchaseShares(ctx, member.ID, 50_000)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if bought.ShareCount != 50 {
		t.Errorf("share count = %d, want 50", bought.ShareCount)
	}

	savingsBal, _ := ledger.Balance(ctx, savings.ID, nil)
	if savingsBal != 50_000 {
		t.Errorf("savings = %d, want 50000", savingsBal)
	}
	sharesBal, _ := ledger.Balance(ctx, shares.ID, nil)
	if sharesBal != 50_000 {
		t.Errorf("shares account = %d, want 50000", sharesBal)
	}

	t.Run("amount must be a share multiple", func(t *testing.T) {
		if _, err := svc.PurchaseShares(ctx, member.ID, 1_500); !errors.Is(err, ErrSharePriceMultiple) {
			t.Errorf("err = %v, want ErrSharePriceMultiple", err)
		}
	})

	t.Run("cannot buy beyond savings", func(t *testing.T) {
		if _, err := svc.PurchaseShares(ctx, member.ID, 60_000); !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Errorf("err = %v, want ErrInsufficientFunds", err)
		}
		reloaded, _ := svc.GetByID(ctx, member.ID)
		if reloaded.ShareCount != 50 {
			t.Errorf("share count moved on failed purchase: %d", reloaded.ShareCount)
		}
	})

	t.Run("suspended member cannot buy shares", func(t *testing.T) {
		if _, err := svc.Suspend(ctx, member.ID, "arrears"); err != nil {
			t.Fatalf("suspend: %v", err)
		}
		if _, err := svc.PurchaseShares(ctx, member.ID, 10_000); !errors.Is(err, domain.ErrMemberSuspended) {
			t.Errorf("err = %v, want ErrMemberSuspended", err)
		}
	})
}

func TestCloseMembership(t *testing.T) {
	svc, db := newMemberService(t)
	ctx := context.Background()

	member, _ := svc.Register(ctx, validRegistration("user-cls-1"))
	officer := domain.Caller{UserRef: "off-1", Role: domain.RoleOfficer}
	if _, err := svc.Approve(ctx, member.ID, officer); err != nil {
		t.Fatalf("approve: %v", err)
	}

	t.Run("open loan blocks closing", func(t *testing.T) {
		product := testutil.CreateProduct(t, db, "NORMAL", 1200, false, 0)
		loan := &models.Loan{
			MemberID:   member.ID,
			ProductID:  product.ID,
			Principal:  100_000,
			TermMonths: 6,
			Status:     models.LoanStatusActive,
		}
		if err := db.Create(loan).Error; err != nil {
			t.Fatalf("create loan: %v", err)
		}

		if _, err := svc.Close(ctx, member.ID); !errors.Is(err, ErrMemberHasOpenLoan) {
			t.Errorf("err = %v, want ErrMemberHasOpenLoan", err)
		}

		if err := db.Model(loan).UpdateColumn("status", models.LoanStatusClosed).Error; err != nil {
			t.Fatalf("close loan: %v", err)
		}
	})

	closed, err := svc.Close(ctx, member.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != models.MemberStatusClosed {
		t.Errorf("status = %s, want CLOSED", closed.Status)
	}
	if closed.ClosedAt == nil {
		t.Error("closed_at not set")
	}

	t.Run("closing twice refused", func(t *testing.T) {
		if _, err := svc.Close(ctx, member.ID); !errors.Is(err, domain.ErrMembershipClosed) {
			t.Errorf("err = %v, want ErrMembershipClosed", err)
		}
	})
}
