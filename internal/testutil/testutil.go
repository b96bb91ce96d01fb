package testutil

import (
	"testing"
	"time"

	"sautihub-sacco/internal/adapters/persistence/models"
	"sautihub-sacco/internal/config"
	"sautihub-sacco/internal/core/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB creates an isolated in-memory database with the full schema.
// A single connection keeps sqlite happy under gorm's pool.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// TestPolicy returns the policy used across service tests: ratio 3x, one
// open loan, 30% revenue deduction, 5% withholding, 6 months dividend
// tenure.
func TestPolicy() config.Policy {
	return config.Policy{
		Version:               "test",
		MaxLoanToSavingsRatio: 3,
		MaxActiveLoans:        1,
		SharePrice:            1_000,
		GuarantorLiabilityBps: 5000,
		ApprovalTiers: []domain.ApprovalTier{
			{MaxAmount: 1_000_000, RequiredTier: domain.AuthorityTier(domain.RoleOfficer)},
			{MaxAmount: 5_000_000, RequiredTier: domain.AuthorityTier(domain.RoleManager)},
			{MaxAmount: 1<<63 - 1, RequiredTier: domain.AuthorityTier(domain.RoleAdmin)},
		},
		GracePeriodDays:          7,
		AutoDefaultDays:          90,
		MaxRestructures:          2,
		AutoDeduct:               true,
		AutoDeductBps:            3000,
		WithholdingBps:           500,
		MinMembershipMonthsDiv:   6,
		MinMemberAgeYears:        18,
		RequireKYC:               true,
		PendingPaymentTimeoutMin: 30,
	}
}

// CreateMember inserts an active member with a savings and a shares account
func CreateMember(t *testing.T, db *gorm.DB, memberNo string, shares int) (*models.Member, *models.Account) {
	t.Helper()

	joined := time.Now().AddDate(-2, 0, 0)
	member := &models.Member{
		MemberNo:   memberNo,
		UserRef:    "user-" + memberNo,
		FullName:   "Member " + memberNo,
		Status:     models.MemberStatusActive,
		ShareCount: int64(shares),
		JoinedAt:   &joined,
	}
	if err := db.Create(member).Error; err != nil {
		t.Fatalf("create member: %v", err)
	}

	savings := &models.Account{
		MemberID: &member.ID,
		Type:     models.AccountTypeSavings,
		Currency: "KES",
	}
	if err := db.Create(savings).Error; err != nil {
		t.Fatalf("create savings account: %v", err)
	}
	sharesAcct := &models.Account{
		MemberID: &member.ID,
		Type:     models.AccountTypeShares,
		Currency: "KES",
	}
	if err := db.Create(sharesAcct).Error; err != nil {
		t.Fatalf("create shares account: %v", err)
	}
	return member, savings
}

// CreateSystemAccounts inserts the loan and dividend pool accounts
func CreateSystemAccounts(t *testing.T, db *gorm.DB) (loanPool, dividendPool *models.Account) {
	t.Helper()

	loanPool = &models.Account{
		Type:       models.AccountTypeSystem,
		SystemCode: models.SystemAccountLoanPool,
		Currency:   "KES",
	}
	dividendPool = &models.Account{
		Type:       models.AccountTypeSystem,
		SystemCode: models.SystemAccountDividendPool,
		Currency:   "KES",
	}
	if err := db.Create(loanPool).Error; err != nil {
		t.Fatalf("create loan pool: %v", err)
	}
	if err := db.Create(dividendPool).Error; err != nil {
		t.Fatalf("create dividend pool: %v", err)
	}
	return loanPool, dividendPool
}

// CreateProduct inserts a loan product. requiresGuarantor controls the
// guarantor rule; rates are basis points.
func CreateProduct(t *testing.T, db *gorm.DB, code string, rateBps int, requiresGuarantor bool, minGuarantors int) *models.LoanProduct {
	t.Helper()

	product := &models.LoanProduct{
		Code:              code,
		Name:              code + " loan",
		AnnualRateBps:     rateBps,
		ProcessingFeeBps:  100,
		InsuranceFeeBps:   50,
		MinAmount:         1_000,
		MaxAmount:         100_000_000,
		MinTermMonths:     1,
		MaxTermMonths:     72,
		RequiresGuarantor: requiresGuarantor,
		MinGuarantors:     minGuarantors,
		IsActive:          true,
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}
