package services

import (
	"context"
	"encoding/json"
	"testing"

	"sautihub-sacco/internal/adapters/persistence/models"
	"sautihub-sacco/internal/core/domain"
	"sautihub-sacco/internal/testutil"
)

func newRevenueFixture(t *testing.T) (*loanFixture, *RevenueBridge) {
	t.Helper()
	f := newLoanFixture(t)
	bridge := NewRevenueBridge(f.loans, f.members, f.accounts, f.ledger)
	return f, bridge
}

func TestApplyRevenueWithActiveLoan(t *testing.T) {
	f, _ := newRevenueFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-REV01", 10)
	product := testutil.CreateProduct(t, f.db, "NORMAL", 1200, false, 0)
	f.seedSavings(t, savings.ID, 1_000_000, "seed")
	ctx := context.Background()

	loan := f.activeLoan(t, member, product, 300_000, 6)
	before, _ := f.ledger.Balance(ctx, savings.ID, nil)

	app, err := f.loans.ApplyRevenue(ctx, domain.RevenueCredited{
		MemberNo:  member.MemberNo,
		Amount:    200_000,
		Source:    "marketplace",
		Reference: "rev-001",
	})
	if err != nil {
		t.Fatalf("apply revenue: %v", err)
	}

	// 30% of 200,000 services the loan, the rest lands in savings.
	if app.Deducted != 60_000 {
		t.Errorf("deducted = %d, want 60000", app.Deducted)
	}
	if app.Credited != 140_000 {
		t.Errorf("credited = %d, want 140000", app.Credited)
	}

	after, _ := f.ledger.Balance(ctx, savings.ID, nil)
	if after != before+140_000 {
		t.Errorf("savings = %d, want %d", after, before+140_000)
	}
	reloaded, _ := f.loans.GetByID(ctx, loan.ID)
	if reloaded.Outstanding != loan.Outstanding-60_000 {
		t.Errorf("outstanding = %d, want %d", reloaded.Outstanding, loan.Outstanding-60_000)
	}

	t.Run("redelivery does not reapply", func(t *testing.T) {
		if _, err := f.loans.ApplyRevenue(ctx, domain.RevenueCredited{
			MemberNo:  member.MemberNo,
			Amount:    200_000,
			Source:    "marketplace",
			Reference: "rev-001",
		}); err != nil {
			t.Fatalf("redelivered event: %v", err)
		}
		again, _ := f.ledger.Balance(ctx, savings.ID, nil)
		if again != after {
			t.Errorf("redelivery moved savings: %d -> %d", after, again)
		}
	})
}

func TestApplyRevenueDeductionCappedAtOutstanding(t *testing.T) {
	f, _ := newRevenueFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-REV02", 10)
	product := testutil.CreateProduct(t, f.db, "NORMAL", 1200, false, 0)
	f.seedSavings(t, savings.ID, 1_000_000, "seed")
	ctx := context.Background()

	loan := f.activeLoan(t, member, product, 300_000, 6)

	// Pay the loan down to a sliver so the 30% cut would overshoot.
	if _, err := f.loans.RecordRepayment(ctx, loan.ID, loan.Outstanding-10_000, "rep-down"); err != nil {
		t.Fatalf("pay down: %v", err)
	}

	app, err := f.loans.ApplyRevenue(ctx, domain.RevenueCredited{
		MemberNo:  member.MemberNo,
		Amount:    200_000,
		Source:    "marketplace",
		Reference: "rev-cap",
	})
	if err != nil {
		t.Fatalf("apply revenue: %v", err)
	}
	if app.Deducted != 10_000 {
		t.Errorf("deducted = %d, want the 10000 outstanding", app.Deducted)
	}
	if app.Credited != 190_000 {
		t.Errorf("credited = %d, want 190000", app.Credited)
	}
	if !app.LoanClosed {
		t.Error("loan not reported closed")
	}
	reloaded, _ := f.loans.GetByID(ctx, loan.ID)
	if reloaded.Status != models.LoanStatusClosed {
		t.Errorf("status = %s, want CLOSED", reloaded.Status)
	}
}

func TestApplyRevenueWithoutLoan(t *testing.T) {
	f, _ := newRevenueFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-REV03", 10)
	ctx := context.Background()

	app, err := f.loans.ApplyRevenue(ctx, domain.RevenueCredited{
		MemberNo:  member.MemberNo,
		Amount:    75_000,
		Source:    "marketplace",
		Reference: "rev-noloan",
	})
	if err != nil {
		t.Fatalf("apply revenue: %v", err)
	}
	if app.Deducted != 0 || app.Credited != 75_000 {
		t.Errorf("deducted/credited = %d/%d, want 0/75000", app.Deducted, app.Credited)
	}
	balance, _ := f.ledger.Balance(ctx, savings.ID, nil)
	if balance != 75_000 {
		t.Errorf("savings = %d, want 75000", balance)
	}
}

func TestHandleMessage(t *testing.T) {
	f, bridge := newRevenueFixture(t)
	member, savings := testutil.CreateMember(t, f.db, "SH-REV04", 10)
	ctx := context.Background()

	t.Run("malformed payload acked", func(t *testing.T) {
		if !bridge.HandleMessage([]byte("{not json")) {
			t.Error("malformed payload should be acked, not requeued")
		}
	})

	t.Run("invalid event dropped", func(t *testing.T) {
		body, _ := json.Marshal(domain.RevenueCredited{MemberNo: member.MemberNo, Amount: -5})
		if !bridge.HandleMessage(body) {
			t.Error("invalid event should be acked, not requeued")
		}
	})

	t.Run("unknown member requeued", func(t *testing.T) {
		body, _ := json.Marshal(domain.RevenueCredited{
			MemberNo: "SH-NOBODY", Amount: 10_000, Source: "marketplace", Reference: "rev-ghost",
		})
		if bridge.HandleMessage(body) {
			t.Error("unknown member should be requeued for registry lag")
		}
	})

	t.Run("valid event credited", func(t *testing.T) {
		body, _ := json.Marshal(domain.RevenueCredited{
			MemberNo: member.MemberNo, Amount: 30_000, Source: "marketplace", Reference: "rev-msg",
		})
		if !bridge.HandleMessage(body) {
			t.Error("valid event should be acked")
		}
		balance, _ := f.ledger.Balance(ctx, savings.ID, nil)
		if balance != 30_000 {
			t.Errorf("savings = %d, want 30000", balance)
		}
	})
}
