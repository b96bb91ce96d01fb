package handlers

import (
	"errors"
	"strconv"
	"time"

	"sautihub-sacco/internal/adapters/http/middleware"
	"sautihub-sacco/internal/core/services"
	"sautihub-sacco/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// DividendHandler handles dividend endpoints
type DividendHandler struct {
	dividendService *services.DividendService
	memberService   *services.MemberService
}

// NewDividendHandler creates a new dividend handler
func NewDividendHandler(dividendService *services.DividendService, memberService *services.MemberService) *DividendHandler {
	return &DividendHandler{dividendService: dividendService, memberService: memberService}
}

// DeclareRequest represents a dividend declaration
type DeclareRequest struct {
	Year            int    `json:"year"`
	TotalProfit     int64  `json:"total_profit"`
	DistributionBps int    `json:"distribution_bps"`
	PayoutDate      string `json:"payout_date"`
	DeclarationDate string `json:"declaration_date,omitempty"`
}

// Declare declares the annual dividend (admin only)
func (h *DividendHandler) Declare(c *fiber.Ctx) error {
	var req DeclareRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if req.Year == 0 || req.TotalProfit <= 0 || req.DistributionBps <= 0 {
		return response.BadRequest(c, "year, total_profit and distribution_bps are required")
	}
	payoutDate, err := time.Parse("2006-01-02", req.PayoutDate)
	if err != nil {
		return response.BadRequest(c, "payout_date must be YYYY-MM-DD")
	}
	var declarationDate time.Time
	if req.DeclarationDate != "" {
		if declarationDate, err = time.Parse("2006-01-02", req.DeclarationDate); err != nil {
			return response.BadRequest(c, "declaration_date must be YYYY-MM-DD")
		}
	}

	dividend, err := h.dividendService.Declare(c.Context(), &services.DeclareInput{
		Year:            req.Year,
		TotalProfit:     req.TotalProfit,
		DistributionBps: req.DistributionBps,
		PayoutDate:      payoutDate,
		DeclarationDate: declarationDate,
	}, middleware.Caller(c))
	if err != nil {
		if errors.Is(err, services.ErrNoEligibleMembers) {
			return response.UnprocessableEntity(c, err.Error())
		}
		return response.DomainError(c, err)
	}

	return response.Created(c, "Dividend declared", fiber.Map{"dividend": dividend})
}

// Payout triggers payout of a declared dividend (admin only)
func (h *DividendHandler) Payout(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid dividend id")
	}

	result, err := h.dividendService.Payout(c.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrDividendNotDue) {
			return response.UnprocessableEntity(c, err.Error())
		}
		return response.DomainError(c, err)
	}

	return response.Success(c, "Payout run complete", fiber.Map{"result": result})
}

// GetByYear gets a dividend and its member entries
func (h *DividendHandler) GetByYear(c *fiber.Ctx) error {
	year, err := strconv.Atoi(c.Params("year"))
	if err != nil || year == 0 {
		return response.BadRequest(c, "Invalid year")
	}

	dividend, entries, err := h.dividendService.GetByYear(c.Context(), year)
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "", fiber.Map{
		"dividend": dividend,
		"entries":  entries,
	})
}

// List lists declared dividends
func (h *DividendHandler) List(c *fiber.Ctx) error {
	dividends, err := h.dividendService.List(c.Context())
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "", fiber.Map{"dividends": dividends})
}

// HistoryByMember lists a member's dividend entries
func (h *DividendHandler) HistoryByMember(c *fiber.Ctx) error {
	memberID, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid member id")
	}
	if err := requireSelfOrStaff(c, h.memberService, memberID); err != nil {
		return response.DomainError(c, err)
	}

	entries, err := h.dividendService.HistoryByMember(c.Context(), memberID)
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "", fiber.Map{"entries": entries})
}
