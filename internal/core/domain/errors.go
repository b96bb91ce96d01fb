package domain

import "errors"

// Common domain errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternalServer = errors.New("internal server error")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenInvalid   = errors.New("token invalid")
)

// Ledger errors
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrDuplicateReference = errors.New("reference already posted for this account")
	ErrInvariantViolation = errors.New("ledger invariant violation")
)

// Membership errors
var (
	ErrMemberNotFound    = errors.New("member not found")
	ErrMemberNotActive   = errors.New("member is not active")
	ErrMemberSuspended   = errors.New("member is suspended")
	ErrMembershipClosed  = errors.New("membership is closed")
	ErrInvalidTransition = errors.New("invalid member status transition")
)

// Loan errors
var (
	ErrLoanNotFound                  = errors.New("loan not found")
	ErrLoanProductNotFound           = errors.New("loan product not found")
	ErrEligibilityDenied             = errors.New("member is not eligible for this loan")
	ErrInsufficientApprovalAuthority = errors.New("insufficient approval authority")
	ErrInvalidLoanStatus             = errors.New("invalid loan status for this operation")
	ErrRestructureLimitExceeded      = errors.New("loan restructure limit exceeded")
	ErrGuarantorCapacity             = errors.New("guarantor has insufficient free savings")
)

// Dividend errors
var (
	ErrDividendNotFound = errors.New("dividend not found")
	ErrAlreadyDeclared  = errors.New("dividend already declared for this year")
)

// Payment errors
var (
	ErrExternalProvider  = errors.New("external payment provider error")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrPaymentNotPending = errors.New("payment is not pending")
)
