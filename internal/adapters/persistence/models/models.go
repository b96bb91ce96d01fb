package models

import (
	"time"

	"gorm.io/gorm"
)

// ============================================================
// Membership
// ============================================================

// Member statuses
const (
	MemberStatusPending   = "PENDING"
	MemberStatusActive    = "ACTIVE"
	MemberStatusSuspended = "SUSPENDED"
	MemberStatusClosed    = "CLOSED"
)

// Member represents members table
type Member struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	MemberNo      string         `gorm:"uniqueIndex;size:20;not null" json:"member_no"`
	UserRef       string         `gorm:"uniqueIndex;size:64;not null" json:"user_ref"`
	FullName      string         `gorm:"size:100;not null" json:"full_name"`
	Status        string         `gorm:"size:20;not null;default:'PENDING'" json:"status"`
	ShareCount    int64          `gorm:"not null;default:0" json:"share_count"`
	JoinedAt      *time.Time     `json:"joined_at"`
	SuspendReason string         `gorm:"type:text" json:"suspend_reason,omitempty"`
	ClosedAt      *time.Time     `json:"closed_at"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	Accounts []Account `gorm:"foreignKey:MemberID" json:"accounts,omitempty"`
}

func (Member) TableName() string {
	return "members"
}

// IsActive reports whether the member may transact fully.
func (m *Member) IsActive() bool {
	return m.Status == MemberStatusActive
}

// MemberResponse DTO
type MemberResponse struct {
	ID         uint       `json:"id"`
	MemberNo   string     `json:"member_no"`
	FullName   string     `json:"full_name"`
	Status     string     `json:"status"`
	ShareCount int64      `json:"share_count"`
	JoinedAt   *time.Time `json:"joined_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (m *Member) ToResponse() *MemberResponse {
	return &MemberResponse{
		ID:         m.ID,
		MemberNo:   m.MemberNo,
		FullName:   m.FullName,
		Status:     m.Status,
		ShareCount: m.ShareCount,
		JoinedAt:   m.JoinedAt,
		CreatedAt:  m.CreatedAt,
	}
}

// ============================================================
// Ledger
// ============================================================

// Account types
const (
	AccountTypeSavings      = "SAVINGS"
	AccountTypeShares       = "SHARES"
	AccountTypeFixedDeposit = "FIXED_DEPOSIT"
	AccountTypeSystem       = "SYSTEM"
)

// System account codes
const (
	SystemAccountLoanPool     = "LOAN_POOL"
	SystemAccountDividendPool = "DIVIDEND_POOL"
)

// Account represents accounts table. Balance is a cache derived from the
// sum of completed transactions; it is only ever written inside the same
// unit of work that appends a transaction.
type Account struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MemberID   *uint     `gorm:"index" json:"member_id"`
	Type       string    `gorm:"size:20;not null;index" json:"type"`
	SystemCode string    `gorm:"size:30;index" json:"system_code,omitempty"`
	Currency   string    `gorm:"size:3;not null;default:'KES'" json:"currency"`
	Balance    int64     `gorm:"not null;default:0" json:"balance"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Member *Member `gorm:"foreignKey:MemberID" json:"member,omitempty"`
}

func (Account) TableName() string {
	return "accounts"
}

// Transaction types
const (
	TxTypeDeposit          = "DEPOSIT"
	TxTypeWithdrawal       = "WITHDRAWAL"
	TxTypeSharePurchase    = "SHARE_PURCHASE"
	TxTypeInterest         = "INTEREST"
	TxTypeFee              = "FEE"
	TxTypeLoanDisbursement = "LOAN_DISBURSEMENT"
	TxTypeLoanRepayment    = "LOAN_REPAYMENT"
	TxTypeDividendPayout   = "DIVIDEND_PAYOUT"
	TxTypeReversal         = "REVERSAL"
)

// Transaction statuses
const (
	TxStatusPending   = "PENDING"
	TxStatusCompleted = "COMPLETED"
	TxStatusReversed  = "REVERSED"
	TxStatusFailed    = "FAILED"
)

// Transaction represents transactions table. Amount is signed minor units.
// A completed transaction is immutable; corrections are posted as new
// reversing transactions.
type Transaction struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	AccountID     uint      `gorm:"not null;index:idx_account_seq,priority:1;index:idx_account_ref,unique,priority:1" json:"account_id"`
	SeqNo         int64     `gorm:"not null;index:idx_account_seq,priority:2" json:"seq_no"`
	Type          string    `gorm:"size:30;not null" json:"type"`
	Amount        int64     `gorm:"not null" json:"amount"`
	Reference     string    `gorm:"size:64;not null;index:idx_account_ref,unique,priority:2" json:"reference"`
	Status        string    `gorm:"size:20;not null;default:'COMPLETED'" json:"status"`
	Description   string    `gorm:"type:text" json:"description"`
	ExternalTxnID string    `gorm:"size:64" json:"external_txn_id,omitempty"`
	PostedAt      time.Time `gorm:"not null" json:"posted_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`

	Account *Account `gorm:"foreignKey:AccountID" json:"account,omitempty"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// ============================================================
// Loans
// ============================================================

// LoanProduct represents loan_products table. Rates and fees are in basis
// points, amounts in minor units. Existing loans snapshot the product terms
// at application time and are unaffected by later edits.
type LoanProduct struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Code              string         `gorm:"size:20;uniqueIndex;not null" json:"code"`
	Name              string         `gorm:"size:100;not null" json:"name"`
	Description       string         `gorm:"type:text" json:"description"`
	AnnualRateBps     int            `gorm:"not null" json:"annual_rate_bps"`
	MinAmount         int64          `gorm:"not null" json:"min_amount"`
	MaxAmount         int64          `gorm:"not null" json:"max_amount"`
	MinTermMonths     int            `gorm:"not null" json:"min_term_months"`
	MaxTermMonths     int            `gorm:"not null" json:"max_term_months"`
	ProcessingFeeBps  int            `gorm:"not null;default:0" json:"processing_fee_bps"`
	InsuranceFeeBps   int            `gorm:"not null;default:0" json:"insurance_fee_bps"`
	RequiresGuarantor bool           `gorm:"not null;default:false" json:"requires_guarantor"`
	MinGuarantors     int            `gorm:"not null;default:0" json:"min_guarantors"`
	IsActive          bool           `gorm:"default:true" json:"is_active"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

func (LoanProduct) TableName() string {
	return "loan_products"
}

// Loan statuses
const (
	LoanStatusPending      = "PENDING"
	LoanStatusApproved     = "APPROVED"
	LoanStatusRejected     = "REJECTED"
	LoanStatusDisbursed    = "DISBURSED"
	LoanStatusActive       = "ACTIVE"
	LoanStatusOverdue      = "OVERDUE"
	LoanStatusDefaulted    = "DEFAULTED"
	LoanStatusClosed       = "CLOSED"
	LoanStatusRestructured = "RESTRUCTURED"
)

// Loan represents loans table. Outstanding is derived from repayments
// against the disbursed principal plus accrued interest and is only updated
// inside the same unit of work as the backing ledger posting.
type Loan struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	MemberID         uint           `gorm:"not null;index" json:"member_id"`
	ProductID        uint           `gorm:"not null" json:"product_id"`
	Principal        int64          `gorm:"not null" json:"principal"`
	TermMonths       int            `gorm:"not null" json:"term_months"`
	AnnualRateBps    int            `gorm:"not null" json:"annual_rate_bps"`
	ProcessingFee    int64          `gorm:"not null;default:0" json:"processing_fee"`
	InsuranceFee     int64          `gorm:"not null;default:0" json:"insurance_fee"`
	Purpose          string         `gorm:"type:text" json:"purpose"`
	Status           string         `gorm:"size:20;not null;default:'PENDING';index" json:"status"`
	Outstanding      int64          `gorm:"not null;default:0" json:"outstanding"`
	ApprovedBy       *string        `gorm:"size:64" json:"approved_by"`
	ApprovedAt       *time.Time     `json:"approved_at"`
	RejectedReason   string         `gorm:"type:text" json:"rejected_reason,omitempty"`
	DisbursedAt      *time.Time     `json:"disbursed_at"`
	ClosedAt         *time.Time     `json:"closed_at"`
	RestructureCount int            `gorm:"not null;default:0" json:"restructure_count"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`

	Member       *Member         `gorm:"foreignKey:MemberID" json:"member,omitempty"`
	Product      *LoanProduct    `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Guarantors   []LoanGuarantor `gorm:"foreignKey:LoanID" json:"guarantors,omitempty"`
	Installments []Installment   `gorm:"foreignKey:LoanID" json:"installments,omitempty"`
}

func (Loan) TableName() string {
	return "loans"
}

// IsOpen reports whether the loan still carries an obligation that blocks
// further borrowing.
func (l *Loan) IsOpen() bool {
	switch l.Status {
	case LoanStatusPending, LoanStatusApproved, LoanStatusDisbursed,
		LoanStatusActive, LoanStatusOverdue, LoanStatusRestructured:
		return true
	}
	return false
}

// LoanGuarantor represents loan_guarantors table: a soft lock pledging part
// of the guarantor's savings against the loan until released.
type LoanGuarantor struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	LoanID     uint       `gorm:"not null;index" json:"loan_id"`
	MemberID   uint       `gorm:"not null;index" json:"member_id"`
	Pledged    int64      `gorm:"not null" json:"pledged"`
	Released   bool       `gorm:"not null;default:false" json:"released"`
	ReleasedAt *time.Time `json:"released_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`

	Loan   *Loan   `gorm:"foreignKey:LoanID" json:"loan,omitempty"`
	Member *Member `gorm:"foreignKey:MemberID" json:"member,omitempty"`
}

func (LoanGuarantor) TableName() string {
	return "loan_guarantors"
}

// Installment statuses
const (
	InstallmentStatusPending = "PENDING"
	InstallmentStatusPaid    = "PAID"
	InstallmentStatusOverdue = "OVERDUE"
)

// Installment represents loan_installments table (amortization schedule).
type Installment struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	LoanID       uint      `gorm:"not null;index" json:"loan_id"`
	Number       int       `gorm:"not null" json:"number"`
	DueDate      time.Time `gorm:"not null" json:"due_date"`
	PrincipalDue int64     `gorm:"not null" json:"principal_due"`
	InterestDue  int64     `gorm:"not null" json:"interest_due"`
	TotalDue     int64     `gorm:"not null" json:"total_due"`
	PaidAmount   int64     `gorm:"not null;default:0" json:"paid_amount"`
	Status       string    `gorm:"size:20;not null;default:'PENDING'" json:"status"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Loan *Loan `gorm:"foreignKey:LoanID" json:"loan,omitempty"`
}

func (Installment) TableName() string {
	return "loan_installments"
}

// ============================================================
// Dividends
// ============================================================

// Dividend statuses
const (
	DividendStatusDeclared = "DECLARED"
	DividendStatusPaidOut  = "PAID_OUT"
)

// Dividend represents dividends table. Immutable once the member fan-out is
// finalized.
type Dividend struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Year             int       `gorm:"uniqueIndex;not null" json:"year"`
	TotalProfit      int64     `gorm:"not null" json:"total_profit"`
	DistributionBps  int       `gorm:"not null" json:"distribution_bps"`
	WithholdingBps   int       `gorm:"not null" json:"withholding_bps"`
	DeclaredAt       time.Time `gorm:"not null" json:"declared_at"`
	PayoutDate       time.Time `gorm:"not null" json:"payout_date"`
	Status           string    `gorm:"size:20;not null;default:'DECLARED'" json:"status"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	MemberDividends []MemberDividend `gorm:"foreignKey:DividendID" json:"member_dividends,omitempty"`
}

func (Dividend) TableName() string {
	return "dividends"
}

// MemberDividend statuses
const (
	MemberDividendStatusPending = "PENDING"
	MemberDividendStatusPaid    = "PAID"
)

// MemberDividend represents member_dividends table.
type MemberDividend struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	DividendID uint       `gorm:"not null;index:idx_dividend_member,unique,priority:1" json:"dividend_id"`
	MemberID   uint       `gorm:"not null;index:idx_dividend_member,unique,priority:2" json:"member_id"`
	Gross      int64      `gorm:"not null" json:"gross"`
	Withholding int64     `gorm:"not null" json:"withholding"`
	Net        int64      `gorm:"not null" json:"net"`
	Status     string     `gorm:"size:20;not null;default:'PENDING'" json:"status"`
	PaidAt     *time.Time `json:"paid_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Dividend *Dividend `gorm:"foreignKey:DividendID" json:"dividend,omitempty"`
	Member   *Member   `gorm:"foreignKey:MemberID" json:"member,omitempty"`
}

func (MemberDividend) TableName() string {
	return "member_dividends"
}

// ============================================================
// Auto Migration
// ============================================================

// AutoMigrate runs auto migration for all engine tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Member{},
		&Account{},
		&Transaction{},
		&LoanProduct{},
		&Loan{},
		&LoanGuarantor{},
		&Installment{},
		&Dividend{},
		&MemberDividend{},
	)
}
