package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"
	"sautihub-sacco/internal/adapters/persistence/repositories"
	"sautihub-sacco/internal/core/domain"
	"sautihub-sacco/internal/testutil"

	"gorm.io/gorm"
)

// fakeProvider scripts provider responses for a test.
type fakeProvider struct {
	initiated    int
	initiateErr  error
	verifyStatus string
	verifyErr    error
}

func (p *fakeProvider) Initiate(ctx context.Context, amount int64, phone, kind string) (string, error) {
	if p.initiateErr != nil {
		return "", p.initiateErr
	}
	p.initiated++
	return fmt.Sprintf("ext-%d", p.initiated), nil
}

func (p *fakeProvider) Verify(ctx context.Context, externalTxnID string) (string, error) {
	if p.verifyErr != nil {
		return "", p.verifyErr
	}
	return p.verifyStatus, nil
}

type paymentFixture struct {
	db       *gorm.DB
	ledger   *LedgerService
	payments *PaymentService
	provider *fakeProvider
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ledger := NewLedgerService(db)
	policy := testutil.TestPolicy()

	memberRepo := repositories.NewMemberRepository(db)
	accountRepo := repositories.NewAccountRepository(db)
	memberSvc := NewMemberService(memberRepo, accountRepo, repositories.NewLoanRepository(db), ledger, policy, nil)
	provider := &fakeProvider{verifyStatus: ProviderStatusSuccess}
	payments := NewPaymentService(
		memberRepo,
		accountRepo,
		repositories.NewTransactionRepository(db),
		memberSvc,
		ledger,
		provider,
		policy,
	)
	return &paymentFixture{db: db, ledger: ledger, payments: payments, provider: provider}
}

func TestDepositConfirmFlow(t *testing.T) {
	f := newPaymentFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-DEP01", 10)
	ctx := context.Background()

	txn, err := f.payments.InitiateDeposit(ctx, member.ID, &InitiatePaymentInput{Amount: 50_000, Phone: "+254700000001"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if txn.Status != models.TxStatusPending {
		t.Errorf("status = %s, want PENDING", txn.Status)
	}
	if txn.ExternalTxnID == "" {
		t.Error("provider transaction id not recorded")
	}

	// The credit does not count until the provider confirms.
	balance, _ := f.ledger.Balance(ctx, savings.ID, nil)
	if balance != 0 {
		t.Errorf("balance = %d before confirmation, want 0", balance)
	}

	completed, err := f.payments.HandleCallback(ctx, &CallbackInput{
		AccountID:     savings.ID,
		Reference:     txn.Reference,
		ExternalTxnID: txn.ExternalTxnID,
		Success:       true,
	})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if completed.Status != models.TxStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", completed.Status)
	}
	balance, _ = f.ledger.Balance(ctx, savings.ID, nil)
	if balance != 50_000 {
		t.Errorf("balance = %d, want 50000", balance)
	}
}

func TestDepositRefusedForClosedMember(t *testing.T) {
	f := newPaymentFixture(t)
	member, _ := testutil.CreateMember(t, f.db, "SH-DEP02", 10)
	if err := f.db.Model(member).UpdateColumn("status", models.MemberStatusClosed).Error; err != nil {
		t.Fatalf("close member: %v", err)
	}

	_, err := f.payments.InitiateDeposit(context.Background(), member.ID, &InitiatePaymentInput{Amount: 10_000, Phone: "+254700000001"})
	if !errors.Is(err, domain.ErrMemberNotActive) {
		t.Errorf("err = %v, want ErrMemberNotActive", err)
	}
}

func TestSuspendedMemberMayDepositNotWithdraw(t *testing.T) {
	f := newPaymentFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-SUS01", 10)
	ctx := context.Background()

	if _, err := f.ledger.Post(ctx, PostInput{
		AccountID: savings.ID, Type: models.TxTypeDeposit, Amount: 100_000, Reference: "seed",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := f.db.Model(member).UpdateColumn("status", models.MemberStatusSuspended).Error; err != nil {
		t.Fatalf("suspend member: %v", err)
	}

	if _, err := f.payments.InitiateDeposit(ctx, member.ID, &InitiatePaymentInput{Amount: 10_000, Phone: "+254700000001"}); err != nil {
		t.Errorf("suspended member deposit refused: %v", err)
	}
	_, err := f.payments.InitiateWithdrawal(ctx, member.ID, &InitiatePaymentInput{Amount: 10_000, Phone: "+254700000001"})
	if !errors.Is(err, domain.ErrMemberSuspended) {
		t.Errorf("withdrawal err = %v, want ErrMemberSuspended", err)
	}
}

func TestWithdrawalReservesFunds(t *testing.T) {
	f := newPaymentFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-WDR01", 10)
	ctx := context.Background()

	if _, err := f.ledger.Post(ctx, PostInput{
		AccountID: savings.ID, Type: models.TxTypeDeposit, Amount: 100_000, Reference: "seed",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	txn, err := f.payments.InitiateWithdrawal(ctx, member.ID, &InitiatePaymentInput{Amount: 60_000, Phone: "+254700000001"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// Balance holds while the reservation eats into available.
	balance, _ := f.ledger.Balance(ctx, savings.ID, nil)
	if balance != 100_000 {
		t.Errorf("balance = %d, want 100000", balance)
	}
	available, _ := f.ledger.Available(ctx, savings.ID)
	if available != 40_000 {
		t.Errorf("available = %d, want 40000", available)
	}

	// A second withdrawal can only draw on what is left.
	if _, err := f.payments.InitiateWithdrawal(ctx, member.ID, &InitiatePaymentInput{Amount: 50_000, Phone: "+254700000001"}); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("err = %v, want ErrInsufficientFunds", err)
	}

	t.Run("provider failure releases the hold", func(t *testing.T) {
		failed, err := f.payments.HandleCallback(ctx, &CallbackInput{
			AccountID: savings.ID,
			Reference: txn.Reference,
			Success:   false,
		})
		if err != nil {
			t.Fatalf("callback: %v", err)
		}
		if failed.Status != models.TxStatusFailed {
			t.Errorf("status = %s, want FAILED", failed.Status)
		}
		available, _ := f.ledger.Available(ctx, savings.ID)
		if available != 100_000 {
			t.Errorf("available = %d after release, want 100000", available)
		}
	})
}

func TestReconcilePending(t *testing.T) {
	f := newPaymentFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-REC01", 10)
	ctx := context.Background()

	txn, err := f.payments.InitiateDeposit(ctx, member.ID, &InitiatePaymentInput{Amount: 25_000, Phone: "+254700000001"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	// Fresh pending payments are left alone.
	settled, err := f.payments.ReconcilePending(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if settled != 0 {
		t.Errorf("settled %d fresh payments", settled)
	}

	// Age the posting past the pending timeout.
	stale := time.Now().Add(-time.Hour)
	if err := f.db.Model(&models.Transaction{}).
		Where("id = ?", txn.ID).
		UpdateColumn("created_at", stale).Error; err != nil {
		t.Fatalf("age transaction: %v", err)
	}

	t.Run("provider says success", func(t *testing.T) {
		f.provider.verifyStatus = ProviderStatusSuccess
		settled, err := f.payments.ReconcilePending(ctx)
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if settled != 1 {
			t.Fatalf("settled = %d, want 1", settled)
		}
		balance, _ := f.ledger.Balance(ctx, savings.ID, nil)
		if balance != 25_000 {
			t.Errorf("balance = %d, want 25000", balance)
		}
	})

	t.Run("provider still undecided fails the hold", func(t *testing.T) {
		second, err := f.payments.InitiateDeposit(ctx, member.ID, &InitiatePaymentInput{Amount: 5_000, Phone: "+254700000001"})
		if err != nil {
			t.Fatalf("initiate: %v", err)
		}
		if err := f.db.Model(&models.Transaction{}).
			Where("id = ?", second.ID).
			UpdateColumn("created_at", stale).Error; err != nil {
			t.Fatalf("age transaction: %v", err)
		}

		f.provider.verifyStatus = ProviderStatusPending
		settled, err := f.payments.ReconcilePending(ctx)
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if settled != 1 {
			t.Fatalf("settled = %d, want 1", settled)
		}
		var reloaded models.Transaction
		if err := f.db.First(&reloaded, second.ID).Error; err != nil {
			t.Fatalf("reload: %v", err)
		}
		if reloaded.Status != models.TxStatusFailed {
			t.Errorf("status = %s, want FAILED", reloaded.Status)
		}
	})
}

func TestInitiateFailsWhenProviderDown(t *testing.T) {
	f := newPaymentFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-DOWN01", 10)
	f.provider.initiateErr = errors.New("gateway timeout")
	ctx := context.Background()

	_, err := f.payments.InitiateDeposit(ctx, member.ID, &InitiatePaymentInput{Amount: 10_000, Phone: "+254700000001"})
	if !errors.Is(err, domain.ErrExternalProvider) {
		t.Errorf("err = %v, want ErrExternalProvider", err)
	}

	// Nothing was written: no orphan pending posting.
	var count int64
	if err := f.db.Model(&models.Transaction{}).Where("account_id = ?", savings.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("postings = %d, want 0", count)
	}
}
