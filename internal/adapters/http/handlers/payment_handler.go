package handlers

import (
	"sautihub-sacco/internal/adapters/http/middleware"
	"sautihub-sacco/internal/core/services"
	"sautihub-sacco/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// PaymentHandler handles mobile money deposit/withdrawal endpoints
type PaymentHandler struct {
	paymentService *services.PaymentService
	memberService  *services.MemberService
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(paymentService *services.PaymentService, memberService *services.MemberService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService, memberService: memberService}
}

// PaymentRequest represents a deposit or withdrawal request
type PaymentRequest struct {
	Amount int64  `json:"amount"`
	Phone  string `json:"phone"`
}

// Deposit initiates a mobile money deposit for the authenticated member
func (h *PaymentHandler) Deposit(c *fiber.Ctx) error {
	memberID, err := h.callerMemberID(c)
	if err != nil {
		return response.DomainError(c, err)
	}

	var req PaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.Amount <= 0 || req.Phone == "" {
		return response.BadRequest(c, "amount and phone are required")
	}

	txn, err := h.paymentService.InitiateDeposit(c.Context(), memberID, &services.InitiatePaymentInput{
		Amount: req.Amount,
		Phone:  req.Phone,
	})
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Created(c, "Deposit initiated, awaiting confirmation", fiber.Map{
		"transaction": txn,
	})
}

// Withdraw initiates a mobile money withdrawal for the authenticated member
func (h *PaymentHandler) Withdraw(c *fiber.Ctx) error {
	memberID, err := h.callerMemberID(c)
	if err != nil {
		return response.DomainError(c, err)
	}

	var req PaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.Amount <= 0 || req.Phone == "" {
		return response.BadRequest(c, "amount and phone are required")
	}

	txn, err := h.paymentService.InitiateWithdrawal(c.Context(), memberID, &services.InitiatePaymentInput{
		Amount: req.Amount,
		Phone:  req.Phone,
	})
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Created(c, "Withdrawal initiated, awaiting confirmation", fiber.Map{
		"transaction": txn,
	})
}

// Callback settles a pending payment from the provider's webhook. The
// route is protected by the provider's shared secret, not member auth.
func (h *PaymentHandler) Callback(c *fiber.Ctx) error {
	var req services.CallbackInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.AccountID == 0 || req.Reference == "" {
		return response.BadRequest(c, "account_id and reference are required")
	}

	txn, err := h.paymentService.HandleCallback(c.Context(), &req)
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "Payment settled", fiber.Map{"transaction": txn})
}

func (h *PaymentHandler) callerMemberID(c *fiber.Ctx) (uint, error) {
	memberNo := middleware.Caller(c).MemberNo
	member, err := h.memberService.GetByMemberNo(c.Context(), memberNo)
	if err != nil {
		return 0, err
	}
	return member.ID, nil
}
