package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"
	"sautihub-sacco/internal/adapters/persistence/repositories"
	"sautihub-sacco/internal/core/domain"
)

// RevenueBridge consumes revenue-credited events from the platform's
// payout system and routes them through the loan engine. Revenue must
// never be dropped: if the loan deduction path fails for any reason, the
// full amount is credited straight to the member's savings instead.
type RevenueBridge struct {
	loanService *LoanService
	memberRepo  *repositories.MemberRepository
	accountRepo *repositories.AccountRepository
	ledger      *LedgerService
}

// NewRevenueBridge creates a new revenue bridge
func NewRevenueBridge(
	loanService *LoanService,
	memberRepo *repositories.MemberRepository,
	accountRepo *repositories.AccountRepository,
	ledger *LedgerService,
) *RevenueBridge {
	return &RevenueBridge{
		loanService: loanService,
		memberRepo:  memberRepo,
		accountRepo: accountRepo,
		ledger:      ledger,
	}
}

// HandleMessage processes one raw broker message. The returned bool is the
// ack decision: true acks, false requeues. Malformed payloads are acked
// and logged because redelivery can never fix them.
func (b *RevenueBridge) HandleMessage(body []byte) bool {
	var event domain.RevenueCredited
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("revenue bridge: dropping malformed event: %v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.Apply(ctx, event); err != nil {
		log.Printf("revenue bridge: event %s failed, requeueing: %v", event.Reference, err)
		return false
	}
	return true
}

// Apply runs one revenue credit through the loan engine, falling back to a
// plain savings credit when the engine refuses the event.
func (b *RevenueBridge) Apply(ctx context.Context, event domain.RevenueCredited) error {
	if event.MemberNo == "" || event.Reference == "" || event.Amount <= 0 {
		log.Printf("revenue bridge: rejecting invalid event ref=%q member=%q amount=%d",
			event.Reference, event.MemberNo, event.Amount)
		return nil
	}

	app, err := b.loanService.ApplyRevenue(ctx, event)
	if err == nil {
		log.Printf("revenue bridge: %s applied for %s: deducted=%d credited=%d closed=%v",
			event.Reference, event.MemberNo, app.Deducted, app.Credited, app.LoanClosed)
		return nil
	}
	if errors.Is(err, domain.ErrMemberNotFound) {
		// The payout system knows members we do not. Surface loudly,
		// requeue so the event survives a registry lag.
		return err
	}

	log.Printf("revenue bridge: loan path failed for %s (%v), crediting full amount", event.Reference, err)
	return b.creditFull(ctx, event)
}

func (b *RevenueBridge) creditFull(ctx context.Context, event domain.RevenueCredited) error {
	member, err := b.memberRepo.GetByMemberNo(ctx, event.MemberNo)
	if err != nil {
		return err
	}
	savings, err := b.accountRepo.GetByMemberAndType(ctx, member.ID, models.AccountTypeSavings)
	if err != nil {
		return err
	}
	_, err = b.ledger.Post(ctx, PostInput{
		AccountID:   savings.ID,
		Type:        models.TxTypeDeposit,
		Amount:      event.Amount,
		Reference:   event.Reference,
		Description: fmt.Sprintf("revenue credit (%s)", event.Source),
	})
	return err
}
