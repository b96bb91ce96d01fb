package response

import (
	"errors"

	"sautihub-sacco/internal/core/domain"

	"github.com/gofiber/fiber/v2"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success sends a success response
func Success(c *fiber.Ctx, message string, data interface{}) error {
	return c.JSON(Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Created sends a 201 created response
func Created(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error sends an error response
func Error(c *fiber.Ctx, statusCode int, message string) error {
	return c.Status(statusCode).JSON(Response{
		Success: false,
		Error:   message,
	})
}

// BadRequest sends a 400 bad request response
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message)
}

// Unauthorized sends a 401 unauthorized response
func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, message)
}

// Forbidden sends a 403 forbidden response
func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusForbidden, message)
}

// NotFound sends a 404 not found response
func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, message)
}

// Conflict sends a 409 conflict response
func Conflict(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, message)
}

// UnprocessableEntity sends a 422 response
func UnprocessableEntity(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnprocessableEntity, message)
}

// InternalServerError sends a 500 internal server error response
func InternalServerError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, message)
}

// DomainError maps a service error to the right HTTP status. Unknown
// errors become a generic 500 so internals never leak.
func DomainError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrMemberNotFound),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrLoanNotFound),
		errors.Is(err, domain.ErrLoanProductNotFound),
		errors.Is(err, domain.ErrDividendNotFound),
		errors.Is(err, domain.ErrPaymentNotFound):
		return NotFound(c, err.Error())

	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrTokenInvalid):
		return Unauthorized(c, err.Error())

	case errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrInsufficientApprovalAuthority):
		return Forbidden(c, err.Error())

	case errors.Is(err, domain.ErrDuplicateReference),
		errors.Is(err, domain.ErrAlreadyDeclared):
		return Conflict(c, err.Error())

	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrEligibilityDenied),
		errors.Is(err, domain.ErrGuarantorCapacity),
		errors.Is(err, domain.ErrMemberNotActive),
		errors.Is(err, domain.ErrMemberSuspended),
		errors.Is(err, domain.ErrMembershipClosed),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidLoanStatus),
		errors.Is(err, domain.ErrRestructureLimitExceeded),
		errors.Is(err, domain.ErrPaymentNotPending):
		return UnprocessableEntity(c, err.Error())

	case errors.Is(err, domain.ErrInvalidInput):
		return BadRequest(c, err.Error())

	case errors.Is(err, domain.ErrExternalProvider):
		return Error(c, fiber.StatusBadGateway, err.Error())

	default:
		return InternalServerError(c, "something went wrong")
	}
}
