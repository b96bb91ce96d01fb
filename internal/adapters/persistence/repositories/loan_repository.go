package repositories

import (
	"context"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// LoanProductRepository handles loan product data access
type LoanProductRepository struct {
	db *gorm.DB
}

// NewLoanProductRepository creates a new loan product repository
func NewLoanProductRepository(db *gorm.DB) *LoanProductRepository {
	return &LoanProductRepository{db: db}
}

// GetByID gets a loan product by ID
func (r *LoanProductRepository) GetByID(ctx context.Context, id uint) (*models.LoanProduct, error) {
	var product models.LoanProduct
	err := r.db.WithContext(ctx).First(&product, id).Error
	return &product, err
}

// GetByCode gets a loan product by code
func (r *LoanProductRepository) GetByCode(ctx context.Context, code string) (*models.LoanProduct, error) {
	var product models.LoanProduct
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&product).Error
	return &product, err
}

// List lists active loan products
func (r *LoanProductRepository) List(ctx context.Context) ([]*models.LoanProduct, error) {
	var products []*models.LoanProduct
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&products).Error
	return products, err
}

// LoanRepository handles loan data access
type LoanRepository struct {
	db *gorm.DB
}

// NewLoanRepository creates a new loan repository
func NewLoanRepository(db *gorm.DB) *LoanRepository {
	return &LoanRepository{db: db}
}

// Create creates a new loan
func (r *LoanRepository) Create(ctx context.Context, loan *models.Loan) error {
	return r.db.WithContext(ctx).Create(loan).Error
}

// GetByID gets a loan by ID with relations
func (r *LoanRepository) GetByID(ctx context.Context, id uint) (*models.Loan, error) {
	var loan models.Loan
	err := r.db.WithContext(ctx).
		Preload("Member").
		Preload("Product").
		Preload("Guarantors").
		First(&loan, id).Error
	return &loan, err
}

// ListByMember lists a member's loans, newest first
func (r *LoanRepository) ListByMember(ctx context.Context, memberID uint) ([]*models.Loan, error) {
	var loans []*models.Loan
	err := r.db.WithContext(ctx).
		Preload("Product").
		Where("member_id = ?", memberID).
		Order("created_at DESC").
		Find(&loans).Error
	return loans, err
}

// ListByStatus lists loans in any of the given statuses with pagination
func (r *LoanRepository) ListByStatus(ctx context.Context, statuses []string, offset, limit int) ([]*models.Loan, int64, error) {
	var loans []*models.Loan
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Loan{}).Where("status IN ?", statuses)
	query.Count(&total)

	err := query.
		Preload("Member").
		Preload("Product").
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&loans).Error

	return loans, total, err
}

// CountOpenByMember counts a member's loans that still block further borrowing
func (r *LoanRepository) CountOpenByMember(ctx context.Context, memberID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Loan{}).
		Where("member_id = ? AND status IN ?", memberID, []string{
			models.LoanStatusPending,
			models.LoanStatusApproved,
			models.LoanStatusDisbursed,
			models.LoanStatusActive,
			models.LoanStatusOverdue,
			models.LoanStatusRestructured,
		}).
		Count(&count).Error
	return count, err
}

// GetActiveByMember gets the member's currently serviced loan, if any
func (r *LoanRepository) GetActiveByMember(ctx context.Context, memberID uint) (*models.Loan, error) {
	var loan models.Loan
	err := r.db.WithContext(ctx).
		Where("member_id = ? AND status IN ?", memberID,
			[]string{models.LoanStatusActive, models.LoanStatusOverdue}).
		Order("disbursed_at ASC").
		First(&loan).Error
	return &loan, err
}

// Update updates a loan
func (r *LoanRepository) Update(ctx context.Context, loan *models.Loan) error {
	return r.db.WithContext(ctx).Save(loan).Error
}

// ListServicedLoans lists loans in active or overdue status, used by the
// overdue/default sweeps.
func (r *LoanRepository) ListServicedLoans(ctx context.Context) ([]*models.Loan, error) {
	var loans []*models.Loan
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{models.LoanStatusActive, models.LoanStatusOverdue}).
		Order("id ASC").
		Find(&loans).Error
	return loans, err
}

// SumPledgedByGuarantor sums unreleased guarantee pledges against a member's savings
func (r *LoanRepository) SumPledgedByGuarantor(ctx context.Context, memberID uint) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&models.LoanGuarantor{}).
		Where("member_id = ? AND released = ?", memberID, false).
		Select("COALESCE(SUM(pledged), 0)").
		Scan(&sum).Error
	return sum, err
}

// InstallmentRepository handles amortization schedule data access
type InstallmentRepository struct {
	db *gorm.DB
}

// NewInstallmentRepository creates a new installment repository
func NewInstallmentRepository(db *gorm.DB) *InstallmentRepository {
	return &InstallmentRepository{db: db}
}

// ListByLoan lists a loan's installments in order
func (r *InstallmentRepository) ListByLoan(ctx context.Context, loanID uint) ([]*models.Installment, error) {
	var installments []*models.Installment
	err := r.db.WithContext(ctx).
		Where("loan_id = ?", loanID).
		Order("number ASC").
		Find(&installments).Error
	return installments, err
}

// FirstUnpaidDueBefore gets a loan's earliest unpaid installment due before
// the cutoff, if any.
func (r *InstallmentRepository) FirstUnpaidDueBefore(ctx context.Context, loanID uint, cutoff time.Time) (*models.Installment, error) {
	var installment models.Installment
	err := r.db.WithContext(ctx).
		Where("loan_id = ? AND status <> ? AND due_date < ?", loanID, models.InstallmentStatusPaid, cutoff).
		Order("number ASC").
		First(&installment).Error
	return &installment, err
}
