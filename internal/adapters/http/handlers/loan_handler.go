package handlers

import (
	"errors"

	"sautihub-sacco/internal/adapters/http/middleware"
	"sautihub-sacco/internal/core/services"
	"sautihub-sacco/internal/pkg/pagination"
	"sautihub-sacco/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// LoanHandler handles loan endpoints
type LoanHandler struct {
	loanService   *services.LoanService
	memberService *services.MemberService
}

// NewLoanHandler creates a new loan handler
func NewLoanHandler(loanService *services.LoanService, memberService *services.MemberService) *LoanHandler {
	return &LoanHandler{loanService: loanService, memberService: memberService}
}

// ApplyRequest represents a loan application request
type ApplyRequest struct {
	MemberNo     string   `json:"member_no,omitempty"`
	ProductCode  string   `json:"product_code"`
	Amount       int64    `json:"amount"`
	TermMonths   int      `json:"term_months"`
	Purpose      string   `json:"purpose,omitempty"`
	GuarantorNos []string `json:"guarantor_nos,omitempty"`
}

// Apply submits a loan application. A member applies for themselves; staff
// may apply on behalf of a member by passing member_no.
func (h *LoanHandler) Apply(c *fiber.Ctx) error {
	var req ApplyRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.ProductCode == "" || req.Amount <= 0 || req.TermMonths <= 0 {
		return response.BadRequest(c, "product_code, amount and term_months are required")
	}

	memberNo := req.MemberNo
	if memberNo == "" {
		memberNo = middleware.Caller(c).MemberNo
	}
	if memberNo == "" {
		return response.BadRequest(c, "member_no is required")
	}

	member, err := h.memberService.GetByMemberNo(c.Context(), memberNo)
	if err != nil {
		return response.DomainError(c, err)
	}
	if err := requireSelfOrStaff(c, h.memberService, member.ID); err != nil {
		return response.DomainError(c, err)
	}

	loan, err := h.loanService.Apply(c.Context(), member.ID, &services.ApplyLoanInput{
		ProductCode:  req.ProductCode,
		Amount:       req.Amount,
		TermMonths:   req.TermMonths,
		Purpose:      req.Purpose,
		GuarantorNos: req.GuarantorNos,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAmountOutOfRange),
			errors.Is(err, services.ErrTermOutOfRange),
			errors.Is(err, services.ErrGuarantorCount),
			errors.Is(err, services.ErrGuarantorSelf),
			errors.Is(err, services.ErrGuarantorNotActive):
			return response.UnprocessableEntity(c, err.Error())
		default:
			return response.DomainError(c, err)
		}
	}

	return response.Created(c, "Loan application received", fiber.Map{
		"loan": loan,
	})
}

// Approve approves a pending loan within the caller's authority tier
func (h *LoanHandler) Approve(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid loan id")
	}

	loan, err := h.loanService.Approve(c.Context(), id, middleware.Caller(c))
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "Loan approved", fiber.Map{"loan": loan})
}

// RejectRequest represents a loan rejection
type RejectRequest struct {
	Reason string `json:"reason"`
}

// Reject rejects a pending loan
func (h *LoanHandler) Reject(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid loan id")
	}
	var req RejectRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	loan, err := h.loanService.Reject(c.Context(), id, middleware.Caller(c), req.Reason)
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "Loan rejected", fiber.Map{"loan": loan})
}

// Disburse releases funds on an approved loan
func (h *LoanHandler) Disburse(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid loan id")
	}

	txn, err := h.loanService.Disburse(c.Context(), id, middleware.Caller(c))
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "Loan disbursed", fiber.Map{"transaction": txn})
}

// RepayRequest represents a manual repayment
type RepayRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// Repay records a repayment from the member's savings. Only the borrower
// or staff can move money against a loan.
func (h *LoanHandler) Repay(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid loan id")
	}
	if err := h.authorizeLoan(c, id); err != nil {
		return response.DomainError(c, err)
	}
	var req RepayRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.Amount <= 0 || req.Reference == "" {
		return response.BadRequest(c, "amount and reference are required")
	}

	txn, err := h.loanService.RecordRepayment(c.Context(), id, req.Amount, req.Reference)
	if err != nil {
		if errors.Is(err, services.ErrLoanNotServiced) {
			return response.UnprocessableEntity(c, err.Error())
		}
		return response.DomainError(c, err)
	}

	return response.Success(c, "Repayment recorded", fiber.Map{"transaction": txn})
}

// RestructureRequest represents a restructure request
type RestructureRequest struct {
	TermMonths int `json:"term_months"`
}

// Restructure respreads what is owed over a new term
func (h *LoanHandler) Restructure(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid loan id")
	}
	var req RestructureRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.TermMonths <= 0 {
		return response.BadRequest(c, "term_months is required")
	}

	loan, err := h.loanService.Restructure(c.Context(), id, req.TermMonths)
	if err != nil {
		if errors.Is(err, services.ErrTermOutOfRange) {
			return response.UnprocessableEntity(c, err.Error())
		}
		return response.DomainError(c, err)
	}

	return response.Success(c, "Loan restructured", fiber.Map{"loan": loan})
}

// authorizeLoan resolves a loan and checks the caller is the borrower
// or staff.
func (h *LoanHandler) authorizeLoan(c *fiber.Ctx, id uint) error {
	loan, err := h.loanService.GetByID(c.Context(), id)
	if err != nil {
		return err
	}
	return requireSelfOrStaff(c, h.memberService, loan.MemberID)
}

// Schedule lists a loan's amortization schedule
func (h *LoanHandler) Schedule(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid loan id")
	}
	if err := h.authorizeLoan(c, id); err != nil {
		return response.DomainError(c, err)
	}

	installments, err := h.loanService.Schedule(c.Context(), id)
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "", fiber.Map{"installments": installments})
}

// Get gets a loan by id. Members may only read their own loans.
func (h *LoanHandler) Get(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid loan id")
	}

	loan, err := h.loanService.GetByID(c.Context(), id)
	if err != nil {
		return response.DomainError(c, err)
	}
	if err := requireSelfOrStaff(c, h.memberService, loan.MemberID); err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "", fiber.Map{"loan": loan})
}

// ListByMember lists a member's loans
func (h *LoanHandler) ListByMember(c *fiber.Ctx) error {
	memberID, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid member id")
	}
	if err := requireSelfOrStaff(c, h.memberService, memberID); err != nil {
		return response.DomainError(c, err)
	}

	loans, err := h.loanService.ListByMember(c.Context(), memberID)
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "", fiber.Map{"loans": loans})
}

// List lists loans, optionally filtered by status
func (h *LoanHandler) List(c *fiber.Ctx) error {
	params := pagination.GetParams(c)

	input := &services.ListLoansInput{Page: params.Page, Limit: params.Limit}
	if status := c.Query("status"); status != "" {
		input.Statuses = []string{status}
	}

	output, err := h.loanService.List(c.Context(), input)
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "", pagination.NewResponse(output.Loans, params, output.Total))
}
