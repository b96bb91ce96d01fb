package handlers

import (
	"errors"
	"strconv"

	"sautihub-sacco/internal/adapters/http/middleware"
	"sautihub-sacco/internal/core/services"
	"sautihub-sacco/internal/pkg/pagination"
	"sautihub-sacco/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// MemberHandler handles membership endpoints
type MemberHandler struct {
	memberService *services.MemberService
}

// NewMemberHandler creates a new member handler
func NewMemberHandler(memberService *services.MemberService) *MemberHandler {
	return &MemberHandler{memberService: memberService}
}

// Register creates a pending membership application
func (h *MemberHandler) Register(c *fiber.Ctx) error {
	var req services.RegisterInput
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.UserRef == "" || req.FullName == "" || req.DateOfBirth == "" {
		return response.BadRequest(c, "user_ref, full_name and date_of_birth are required")
	}

	member, err := h.memberService.Register(c.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMemberAlreadyRegistered):
			return response.Conflict(c, err.Error())
		case errors.Is(err, services.ErrUnderage), errors.Is(err, services.ErrKYCIncomplete):
			return response.UnprocessableEntity(c, err.Error())
		default:
			return response.DomainError(c, err)
		}
	}

	return response.Created(c, "Membership application received", fiber.Map{
		"member": member.ToResponse(),
	})
}

// Approve activates a pending member and provisions their accounts
func (h *MemberHandler) Approve(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid member id")
	}

	member, err := h.memberService.Approve(c.Context(), id, middleware.Caller(c))
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "Member approved", fiber.Map{
		"member": member.ToResponse(),
	})
}

// SuspendRequest represents a suspension request
type SuspendRequest struct {
	Reason string `json:"reason"`
}

// Suspend suspends an active member
func (h *MemberHandler) Suspend(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid member id")
	}
	var req SuspendRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	member, err := h.memberService.Suspend(c.Context(), id, req.Reason)
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "Member suspended", fiber.Map{
		"member": member.ToResponse(),
	})
}

// Reactivate returns a suspended member to active
func (h *MemberHandler) Reactivate(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid member id")
	}

	member, err := h.memberService.Reactivate(c.Context(), id)
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "Member reactivated", fiber.Map{
		"member": member.ToResponse(),
	})
}

// Close permanently closes a membership
func (h *MemberHandler) Close(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid member id")
	}

	member, err := h.memberService.Close(c.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrMemberHasOpenLoan) {
			return response.UnprocessableEntity(c, err.Error())
		}
		return response.DomainError(c, err)
	}

	return response.Success(c, "Membership closed", fiber.Map{
		"member": member.ToResponse(),
	})
}

// Get gets a member by id. Members may only read their own record.
func (h *MemberHandler) Get(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid member id")
	}
	if err := requireSelfOrStaff(c, h.memberService, id); err != nil {
		return response.DomainError(c, err)
	}

	member, err := h.memberService.GetByID(c.Context(), id)
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "", fiber.Map{
		"member": member.ToResponse(),
	})
}

// PurchaseSharesRequest represents a share purchase
type PurchaseSharesRequest struct {
	Amount int64 `json:"amount"`
}

// PurchaseShares converts a member's savings into share capital
func (h *MemberHandler) PurchaseShares(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid member id")
	}
	if err := requireSelfOrStaff(c, h.memberService, id); err != nil {
		return response.DomainError(c, err)
	}
	var req PurchaseSharesRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.Amount <= 0 {
		return response.BadRequest(c, "amount is required")
	}

	member, err := h.memberService.PurchaseShares(c.Context(), id, req.Amount)
	if err != nil {
		if errors.Is(err, services.ErrSharePriceMultiple) {
			return response.UnprocessableEntity(c, err.Error())
		}
		return response.DomainError(c, err)
	}

	return response.Success(c, "Shares purchased", fiber.Map{
		"member": member.ToResponse(),
	})
}

// List lists members with optional status filter
func (h *MemberHandler) List(c *fiber.Ctx) error {
	params := pagination.GetParams(c)

	output, err := h.memberService.List(c.Context(), &services.ListMembersInput{
		Page:   params.Page,
		Limit:  params.Limit,
		Status: c.Query("status"),
	})
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "", pagination.NewResponse(output.Members, params, output.Total))
}

func parseID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}
