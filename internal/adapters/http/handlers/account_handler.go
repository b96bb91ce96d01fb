package handlers

import (
	"time"

	"sautihub-sacco/internal/adapters/http/middleware"
	"sautihub-sacco/internal/adapters/persistence/repositories"
	"sautihub-sacco/internal/core/domain"
	"sautihub-sacco/internal/core/services"
	"sautihub-sacco/internal/pkg/pagination"
	"sautihub-sacco/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// AccountHandler handles account and ledger endpoints
type AccountHandler struct {
	accountRepo   *repositories.AccountRepository
	ledger        *services.LedgerService
	memberService *services.MemberService
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(accountRepo *repositories.AccountRepository, ledger *services.LedgerService, memberService *services.MemberService) *AccountHandler {
	return &AccountHandler{accountRepo: accountRepo, ledger: ledger, memberService: memberService}
}

// authorizeAccount resolves an account and checks the caller may read it.
// System accounts have no owning member and are staff-only.
func (h *AccountHandler) authorizeAccount(c *fiber.Ctx, id uint) error {
	account, err := h.accountRepo.GetByID(c.Context(), id)
	if err != nil {
		return err
	}
	if account.MemberID == nil {
		if middleware.Caller(c).Tier() >= domain.AuthorityTier(domain.RoleOfficer) {
			return nil
		}
		return domain.ErrForbidden
	}
	return requireSelfOrStaff(c, h.memberService, *account.MemberID)
}

// ListByMember lists a member's accounts
func (h *AccountHandler) ListByMember(c *fiber.Ctx) error {
	memberID, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid member id")
	}
	if err := requireSelfOrStaff(c, h.memberService, memberID); err != nil {
		return response.DomainError(c, err)
	}

	accounts, err := h.accountRepo.ListByMember(c.Context(), memberID)
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "", fiber.Map{"accounts": accounts})
}

// Balance reports an account's balance, optionally as of a point in time
func (h *AccountHandler) Balance(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid account id")
	}
	if err := h.authorizeAccount(c, id); err != nil {
		return response.DomainError(c, err)
	}

	var asOf *time.Time
	if raw := c.Query("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return response.BadRequest(c, "as_of must be RFC3339")
		}
		asOf = &t
	}

	balance, err := h.ledger.Balance(c.Context(), id, asOf)
	if err != nil {
		return response.DomainError(c, err)
	}
	available, err := h.ledger.Available(c.Context(), id)
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "", fiber.Map{
		"account_id": id,
		"balance":    balance,
		"available":  available,
	})
}

// Statement lists an account's completed postings for a date range
func (h *AccountHandler) Statement(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid account id")
	}
	if err := h.authorizeAccount(c, id); err != nil {
		return response.DomainError(c, err)
	}

	now := time.Now()
	from := now.AddDate(0, -1, 0)
	to := now
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse("2006-01-02", raw); err != nil {
			return response.BadRequest(c, "from must be YYYY-MM-DD")
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse("2006-01-02", raw); err != nil {
			return response.BadRequest(c, "to must be YYYY-MM-DD")
		}
		to = to.AddDate(0, 0, 1) // inclusive end date
	}

	params := pagination.GetParams(c)
	txns, total, err := h.ledger.Statement(c.Context(), id, from, to, params.Offset, params.Limit)
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "", pagination.NewResponse(txns, params, total))
}

// ReverseRequest represents a reversal request
type ReverseRequest struct {
	AccountID uint   `json:"account_id"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

// Reverse backs out a completed transaction (admin correction path)
func (h *AccountHandler) Reverse(c *fiber.Ctx) error {
	var req ReverseRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.AccountID == 0 || req.Reference == "" {
		return response.BadRequest(c, "account_id and reference are required")
	}

	audit, err := h.ledger.Reverse(c.Context(), req.AccountID, req.Reference, req.Reason)
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "Transaction reversed", fiber.Map{
		"reversal": audit,
	})
}
