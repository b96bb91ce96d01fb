package handlers

import (
	"sautihub-sacco/internal/core/services"
	"sautihub-sacco/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// DashboardHandler handles back office dashboard endpoints
type DashboardHandler struct {
	dashboardService *services.DashboardService
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(dashboardService *services.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboardService: dashboardService}
}

// Stats returns headline figures for the back office
func (h *DashboardHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.dashboardService.GetStats(c.Context())
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "", fiber.Map{"stats": stats})
}
