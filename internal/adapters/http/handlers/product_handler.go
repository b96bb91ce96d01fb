package handlers

import (
	"sautihub-sacco/internal/adapters/persistence/repositories"
	"sautihub-sacco/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// ProductHandler handles loan product endpoints
type ProductHandler struct {
	productRepo *repositories.LoanProductRepository
}

// NewProductHandler creates a new product handler
func NewProductHandler(productRepo *repositories.LoanProductRepository) *ProductHandler {
	return &ProductHandler{productRepo: productRepo}
}

// List lists active loan products
func (h *ProductHandler) List(c *fiber.Ctx) error {
	products, err := h.productRepo.List(c.Context())
	if err != nil {
		return response.DomainError(c, err)
	}

	return response.Success(c, "", fiber.Map{"products": products})
}
