package repositories

import (
	"context"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// DividendRepository handles dividend data access
type DividendRepository struct {
	db *gorm.DB
}

// NewDividendRepository creates a new dividend repository
func NewDividendRepository(db *gorm.DB) *DividendRepository {
	return &DividendRepository{db: db}
}

// GetByID gets a dividend by ID
func (r *DividendRepository) GetByID(ctx context.Context, id uint) (*models.Dividend, error) {
	var dividend models.Dividend
	err := r.db.WithContext(ctx).First(&dividend, id).Error
	return &dividend, err
}

// GetByYear gets a dividend by year
func (r *DividendRepository) GetByYear(ctx context.Context, year int) (*models.Dividend, error) {
	var dividend models.Dividend
	err := r.db.WithContext(ctx).Where("year = ?", year).First(&dividend).Error
	return &dividend, err
}

// ExistsByYear reports whether a dividend was already declared for the year
func (r *DividendRepository) ExistsByYear(ctx context.Context, year int) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Dividend{}).Where("year = ?", year).Count(&count).Error
	return count > 0, err
}

// List lists dividends, newest first
func (r *DividendRepository) List(ctx context.Context) ([]*models.Dividend, error) {
	var dividends []*models.Dividend
	err := r.db.WithContext(ctx).Order("year DESC").Find(&dividends).Error
	return dividends, err
}

// Update updates a dividend
func (r *DividendRepository) Update(ctx context.Context, dividend *models.Dividend) error {
	return r.db.WithContext(ctx).Save(dividend).Error
}

// ListDuePayouts lists declared dividends whose payout date has passed
func (r *DividendRepository) ListDuePayouts(ctx context.Context, now time.Time) ([]*models.Dividend, error) {
	var dividends []*models.Dividend
	err := r.db.WithContext(ctx).
		Where("status = ? AND payout_date <= ?", models.DividendStatusDeclared, now).
		Find(&dividends).Error
	return dividends, err
}

// MemberDividendRepository handles member dividend data access
type MemberDividendRepository struct {
	db *gorm.DB
}

// NewMemberDividendRepository creates a new member dividend repository
func NewMemberDividendRepository(db *gorm.DB) *MemberDividendRepository {
	return &MemberDividendRepository{db: db}
}

// ListByDividend lists all member entries of a dividend
func (r *MemberDividendRepository) ListByDividend(ctx context.Context, dividendID uint) ([]*models.MemberDividend, error) {
	var entries []*models.MemberDividend
	err := r.db.WithContext(ctx).
		Where("dividend_id = ?", dividendID).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// ListPendingByDividend lists entries still awaiting payout
func (r *MemberDividendRepository) ListPendingByDividend(ctx context.Context, dividendID uint) ([]*models.MemberDividend, error) {
	var entries []*models.MemberDividend
	err := r.db.WithContext(ctx).
		Where("dividend_id = ? AND status = ?", dividendID, models.MemberDividendStatusPending).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// CountPendingByDividend counts entries still awaiting payout
func (r *MemberDividendRepository) CountPendingByDividend(ctx context.Context, dividendID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.MemberDividend{}).
		Where("dividend_id = ? AND status = ?", dividendID, models.MemberDividendStatusPending).
		Count(&count).Error
	return count, err
}

// ListByMember lists a member's dividend history, newest first
func (r *MemberDividendRepository) ListByMember(ctx context.Context, memberID uint) ([]*models.MemberDividend, error) {
	var entries []*models.MemberDividend
	err := r.db.WithContext(ctx).
		Preload("Dividend").
		Where("member_id = ?", memberID).
		Order("id DESC").
		Find(&entries).Error
	return entries, err
}
