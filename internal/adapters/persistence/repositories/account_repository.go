package repositories

import (
	"context"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// AccountRepository handles account data access
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create creates a new account
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// GetByID gets an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).First(&account, id).Error
	return &account, err
}

// GetByMemberAndType gets a member's account of the given type
func (r *AccountRepository) GetByMemberAndType(ctx context.Context, memberID uint, accType string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).
		Where("member_id = ? AND type = ?", memberID, accType).
		First(&account).Error
	return &account, err
}

// GetSystemAccount gets a system pool account by code
func (r *AccountRepository) GetSystemAccount(ctx context.Context, code string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).
		Where("type = ? AND system_code = ?", models.AccountTypeSystem, code).
		First(&account).Error
	return &account, err
}

// ListByMember lists all accounts of a member
func (r *AccountRepository) ListByMember(ctx context.Context, memberID uint) ([]*models.Account, error) {
	var accounts []*models.Account
	err := r.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("id ASC").
		Find(&accounts).Error
	return accounts, err
}

// TransactionRepository handles transaction data access (read side; postings
// go through the ledger service)
type TransactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// GetByReference gets a transaction by account and idempotency reference
func (r *TransactionRepository) GetByReference(ctx context.Context, accountID uint, reference string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND reference = ?", accountID, reference).
		First(&tx).Error
	return &tx, err
}

// Statement lists completed transactions for an account within [from, to],
// ascending by sequence number.
func (r *TransactionRepository) Statement(ctx context.Context, accountID uint, from, to time.Time, offset, limit int) ([]*models.Transaction, int64, error) {
	var txs []*models.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Transaction{}).
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

// SumCompleted sums completed transaction amounts for an account up to asOf.
func (r *TransactionRepository) SumCompleted(ctx context.Context, accountID uint, asOf time.Time) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("account_id = ? AND status = ? AND posted_at <= ?", accountID, models.TxStatusCompleted, asOf).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

// ListStalePending lists pending transactions created before the cutoff,
// used by the payment reconciliation sweep.
func (r *TransactionRepository) ListStalePending(ctx context.Context, cutoff time.Time) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.TxStatusPending, cutoff).
		Order("id ASC").
		Find(&txs).Error
	return txs, err
}
