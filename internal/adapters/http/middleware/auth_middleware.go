package middleware

import (
	"strings"

	"sautihub-sacco/internal/config"
	"sautihub-sacco/internal/core/domain"
	"sautihub-sacco/internal/pkg/jwt"
	"sautihub-sacco/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// AuthMiddleware validates the platform-issued bearer token and stashes
// the caller identity on the request context.
func AuthMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var accessToken string

		authHeader := c.Get("Authorization")
		if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
			accessToken = strings.TrimPrefix(authHeader, "Bearer ")
		}
		if accessToken == "" {
			return response.Unauthorized(c, "Access token required")
		}

		claims, err := jwt.ValidateAccessToken(accessToken, cfg.JWT.Secret)
		if err != nil {
			if err == jwt.ErrTokenExpired {
				return response.Unauthorized(c, "Access token expired")
			}
			return response.Unauthorized(c, "Invalid access token")
		}

		c.Locals("userRef", claims.UserRef)
		c.Locals("memberNo", claims.MemberNo)
		c.Locals("role", claims.Role)

		return c.Next()
	}
}

// RoleMiddleware creates role-based authorization middleware
func RoleMiddleware(allowedRoles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, ok := c.Locals("role").(string)
		if !ok {
			return response.Unauthorized(c, "Unauthorized")
		}

		for _, allowedRole := range allowedRoles {
			if role == allowedRole {
				return c.Next()
			}
		}

		return response.Forbidden(c, "You don't have permission to access this resource")
	}
}

// AdminOnly middleware allows only ADMIN role
func AdminOnly() fiber.Handler {
	return RoleMiddleware(string(domain.RoleAdmin))
}

// StaffOnly middleware allows OFFICER, MANAGER and ADMIN roles
func StaffOnly() fiber.Handler {
	return RoleMiddleware(string(domain.RoleOfficer), string(domain.RoleManager), string(domain.RoleAdmin))
}

// Caller builds the domain caller from the authenticated request
func Caller(c *fiber.Ctx) domain.Caller {
	userRef, _ := c.Locals("userRef").(string)
	memberNo, _ := c.Locals("memberNo").(string)
	role, _ := c.Locals("role").(string)
	return domain.Caller{
		UserRef:  userRef,
		MemberNo: memberNo,
		Role:     domain.Role(role),
	}
}
