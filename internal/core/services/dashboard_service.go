package services

import (
	"context"
	"errors"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"

	"gorm.io/gorm"
)

// DashboardService aggregates headline figures for the back office.
type DashboardService struct {
	db *gorm.DB
}

// NewDashboardService creates a new dashboard service
func NewDashboardService(db *gorm.DB) *DashboardService {
	return &DashboardService{db: db}
}

// DashboardStats represents the back office dashboard
type DashboardStats struct {
	ActiveMembers      int64 `json:"active_members"`
	PendingMembers     int64 `json:"pending_members"`
	TotalSavings       int64 `json:"total_savings"`
	LoanPoolBalance    int64 `json:"loan_pool_balance"`
	ActiveLoans        int64 `json:"active_loans"`
	OverdueLoans       int64 `json:"overdue_loans"`
	DefaultedLoans     int64 `json:"defaulted_loans"`
	PendingLoans       int64 `json:"pending_loans"`
	TotalOutstanding   int64 `json:"total_outstanding"`
	DisbursedThisMonth int64 `json:"disbursed_this_month"`
	RepaidThisMonth    int64 `json:"repaid_this_month"`
	LastDividendYear   int   `json:"last_dividend_year,omitempty"`
}

// GetStats computes the dashboard in a handful of aggregate queries
func (s *DashboardService) GetStats(ctx context.Context) (*DashboardStats, error) {
	db := s.db.WithContext(ctx)
	stats := &DashboardStats{}

	if err := db.Model(&models.Member{}).
		Where("status = ?", models.MemberStatusActive).
		Count(&stats.ActiveMembers).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Member{}).
		Where("status = ?", models.MemberStatusPending).
		Count(&stats.PendingMembers).Error; err != nil {
		return nil, err
	}

	if err := db.Model(&models.Account{}).
		Select("COALESCE(SUM(balance), 0)").
		Where("type = ?", models.AccountTypeSavings).
		Scan(&stats.TotalSavings).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Account{}).
		Select("COALESCE(SUM(balance), 0)").
		Where("type = ? AND system_code = ?", models.AccountTypeSystem, models.SystemAccountLoanPool).
		Scan(&stats.LoanPoolBalance).Error; err != nil {
		return nil, err
	}

	counts := []struct {
		status string
		dest   *int64
	}{
		{models.LoanStatusActive, &stats.ActiveLoans},
		{models.LoanStatusOverdue, &stats.OverdueLoans},
		{models.LoanStatusDefaulted, &stats.DefaultedLoans},
		{models.LoanStatusPending, &stats.PendingLoans},
	}
	for _, c := range counts {
		if err := db.Model(&models.Loan{}).
			Where("status = ?", c.status).
			Count(c.dest).Error; err != nil {
			return nil, err
		}
	}

	if err := db.Model(&models.Loan{}).
		Select("COALESCE(SUM(outstanding), 0)").
		Where("status IN ?", []string{models.LoanStatusActive, models.LoanStatusOverdue, models.LoanStatusDefaulted}).
		Scan(&stats.TotalOutstanding).Error; err != nil {
		return nil, err
	}

	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	if err := db.Model(&models.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("type = ? AND status = ? AND amount > 0 AND posted_at >= ?",
			models.TxTypeLoanDisbursement, models.TxStatusCompleted, monthStart).
		Scan(&stats.DisbursedThisMonth).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("type = ? AND status = ? AND amount > 0 AND posted_at >= ?",
			models.TxTypeLoanRepayment, models.TxStatusCompleted, monthStart).
		Scan(&stats.RepaidThisMonth).Error; err != nil {
		return nil, err
	}

	var lastDividend models.Dividend
	err := db.Order("year DESC").First(&lastDividend).Error
	if err == nil {
		stats.LastDividendYear = lastDividend.Year
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return stats, nil
}
