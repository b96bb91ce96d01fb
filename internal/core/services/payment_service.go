package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"
	"sautihub-sacco/internal/adapters/persistence/repositories"
	"sautihub-sacco/internal/config"
	"sautihub-sacco/internal/core/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentProvider abstracts the mobile money gateway (M-Pesa et al).
// Initiate starts a payment and returns the provider's transaction id;
// Verify polls its final status.
type PaymentProvider interface {
	Initiate(ctx context.Context, amount int64, phone, kind string) (externalTxnID string, err error)
	Verify(ctx context.Context, externalTxnID string) (status string, err error)
}

// Provider verification statuses
const (
	ProviderStatusSuccess = "SUCCESS"
	ProviderStatusFailed  = "FAILED"
	ProviderStatusPending = "PENDING"
)

// PaymentService runs money in and out through an external provider using
// the ledger's reserve-then-confirm flow: a pending posting is written
// first, and the provider callback completes or fails it.
type PaymentService struct {
	memberRepo  *repositories.MemberRepository
	accountRepo *repositories.AccountRepository
	txnRepo     *repositories.TransactionRepository
	memberSvc   *MemberService
	ledger      *LedgerService
	provider    PaymentProvider
	policy      config.Policy
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	memberRepo *repositories.MemberRepository,
	accountRepo *repositories.AccountRepository,
	txnRepo *repositories.TransactionRepository,
	memberSvc *MemberService,
	ledger *LedgerService,
	provider PaymentProvider,
	policy config.Policy,
) *PaymentService {
	return &PaymentService{
		memberRepo:  memberRepo,
		accountRepo: accountRepo,
		txnRepo:     txnRepo,
		memberSvc:   memberSvc,
		ledger:      ledger,
		provider:    provider,
		policy:      policy,
	}
}

// InitiatePaymentInput represents a deposit or withdrawal request
type InitiatePaymentInput struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Phone  string `json:"phone" validate:"required"`
}

// InitiateDeposit starts a provider-backed deposit into the member's
// savings. The credit stays pending (excluded from the balance) until the
// provider confirms. Suspended members may still deposit.
func (s *PaymentService) InitiateDeposit(ctx context.Context, memberID uint, input *InitiatePaymentInput) (*models.Transaction, error) {
	if input.Amount <= 0 {
		return nil, domain.ErrInvalidInput
	}
	member, savings, err := s.memberAccount(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.Status == models.MemberStatusClosed || member.Status == models.MemberStatusPending {
		return nil, domain.ErrMemberNotActive
	}

	reference := "dep-" + uuid.New().String()
	externalID, err := s.provider.Initiate(ctx, input.Amount, input.Phone, "deposit")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalProvider, err)
	}

	return s.ledger.Post(ctx, PostInput{
		AccountID:     savings.ID,
		Type:          models.TxTypeDeposit,
		Amount:        input.Amount,
		Reference:     reference,
		Description:   "mobile money deposit",
		Pending:       true,
		ExternalTxnID: externalID,
	})
}

// InitiateWithdrawal starts a provider-backed withdrawal from savings.
// The pending debit reserves the funds so available balance drops
// immediately; only active members may withdraw.
func (s *PaymentService) InitiateWithdrawal(ctx context.Context, memberID uint, input *InitiatePaymentInput) (*models.Transaction, error) {
	if input.Amount <= 0 {
		return nil, domain.ErrInvalidInput
	}
	member, savings, err := s.memberAccount(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if err := s.memberSvc.CanWithdraw(member); err != nil {
		return nil, err
	}

	available, err := s.ledger.Available(ctx, savings.ID)
	if err != nil {
		return nil, err
	}
	if available < input.Amount {
		return nil, domain.ErrInsufficientFunds
	}

	reference := "wdr-" + uuid.New().String()
	externalID, err := s.provider.Initiate(ctx, input.Amount, input.Phone, "withdrawal")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExternalProvider, err)
	}

	return s.ledger.Post(ctx, PostInput{
		AccountID:     savings.ID,
		Type:          models.TxTypeWithdrawal,
		Amount:        -input.Amount,
		Reference:     reference,
		Description:   "mobile money withdrawal",
		Pending:       true,
		ExternalTxnID: externalID,
	})
}

// CallbackInput represents a provider callback
type CallbackInput struct {
	AccountID     uint   `json:"account_id" validate:"required"`
	Reference     string `json:"reference" validate:"required"`
	ExternalTxnID string `json:"external_txn_id"`
	Success       bool   `json:"success"`
}

// HandleCallback settles a pending payment from a provider callback.
// Retries are harmless: completing an already-completed posting is a
// no-op in the ledger.
func (s *PaymentService) HandleCallback(ctx context.Context, input *CallbackInput) (*models.Transaction, error) {
	if input.Success {
		return s.ledger.CompletePending(ctx, input.AccountID, input.Reference, input.ExternalTxnID)
	}
	if err := s.ledger.FailPending(ctx, input.AccountID, input.Reference); err != nil {
		return nil, err
	}
	return s.txnRepo.GetByReference(ctx, input.AccountID, input.Reference)
}

// ReconcilePending sweeps payments that never got a callback. Each stale
// pending posting is verified against the provider and settled; postings
// the provider still reports pending past the timeout are failed so the
// reservation is released.
func (s *PaymentService) ReconcilePending(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-time.Duration(s.policy.PendingPaymentTimeoutMin) * time.Minute)
	stale, err := s.txnRepo.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, txn := range stale {
		status := ProviderStatusFailed
		if txn.ExternalTxnID != "" {
			status, err = s.provider.Verify(ctx, txn.ExternalTxnID)
			if err != nil {
				log.Printf("reconcile: verify %s failed: %v", txn.Reference, err)
				continue
			}
		}

		switch status {
		case ProviderStatusSuccess:
			if _, err := s.ledger.CompletePending(ctx, txn.AccountID, txn.Reference, txn.ExternalTxnID); err != nil {
				log.Printf("reconcile: complete %s failed: %v", txn.Reference, err)
				continue
			}
		case ProviderStatusPending:
			// Timed out but provider still undecided: release the hold.
			fallthrough
		default:
			if err := s.ledger.FailPending(ctx, txn.AccountID, txn.Reference); err != nil {
				if errors.Is(err, domain.ErrPaymentNotPending) {
					continue
				}
				log.Printf("reconcile: fail %s failed: %v", txn.Reference, err)
				continue
			}
		}
		settled++
	}
	return settled, nil
}

func (s *PaymentService) memberAccount(ctx context.Context, memberID uint) (*models.Member, *models.Account, error) {
	member, err := s.memberRepo.GetByID(ctx, memberID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, domain.ErrMemberNotFound
		}
		return nil, nil, err
	}
	savings, err := s.accountRepo.GetByMemberAndType(ctx, member.ID, models.AccountTypeSavings)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, domain.ErrAccountNotFound
		}
		return nil, nil, err
	}
	return member, savings, nil
}
