package handlers

import (
	"sautihub-sacco/internal/adapters/http/middleware"
	"sautihub-sacco/internal/core/domain"
	"sautihub-sacco/internal/core/services"

	"github.com/gofiber/fiber/v2"
)

// requireSelfOrStaff lets staff through and otherwise checks that the
// caller's own membership is the one identified by memberID. Member-facing
// reads and money movements must pass through here so one member cannot
// act on another member's records.
func requireSelfOrStaff(c *fiber.Ctx, memberService *services.MemberService, memberID uint) error {
	caller := middleware.Caller(c)
	if caller.Tier() >= domain.AuthorityTier(domain.RoleOfficer) {
		return nil
	}
	if caller.MemberNo == "" {
		return domain.ErrForbidden
	}
	member, err := memberService.GetByMemberNo(c.Context(), caller.MemberNo)
	if err != nil {
		return domain.ErrForbidden
	}
	if member.ID != memberID {
		return domain.ErrForbidden
	}
	return nil
}
