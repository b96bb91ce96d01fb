package domain

// Role represents a caller role in the system
type Role string

const (
	RoleMember  Role = "MEMBER"
	RoleOfficer Role = "OFFICER"
	RoleManager Role = "MANAGER"
	RoleAdmin   Role = "ADMIN"
)

// AuthorityTier maps a role to its numeric approval authority.
// Higher tier may do everything a lower tier may do.
func AuthorityTier(role Role) int {
	switch role {
	case RoleOfficer:
		return 1
	case RoleManager:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// Caller identifies the authenticated caller of an operation.
// Identity itself is managed by the external auth service; the engine only
// consumes the validated claims.
type Caller struct {
	UserRef  string
	MemberNo string
	Role     Role
}

// Tier returns the caller's approval authority tier.
func (c Caller) Tier() int {
	return AuthorityTier(c.Role)
}

// ApprovalTier is one row of the ordered loan approval table: loans up to
// MaxAmount (minor units) require at least RequiredTier authority.
type ApprovalTier struct {
	MaxAmount    int64
	RequiredTier int
}

// RevenueCredited is the external revenue event consumed by the automation
// bridge. Amount is in minor units.
type RevenueCredited struct {
	MemberNo  string `json:"member_no"`
	Amount    int64  `json:"amount"`
	Source    string `json:"source"`
	Reference string `json:"reference"`
}
