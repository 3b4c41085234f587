// Package auth defines the authenticated principal model and the role
// vocabulary shared by the REST and gRPC adapters.
package auth

import "time"

// Role is a named authorisation scope granted to a service-account key.
type Role string

const (
	RoleGuardRails Role = "guard-rails"
	RoleCleanup    Role = "cleanup"
	RoleAnalytics  Role = "analytics"
)

// KnownRoles is the closed set of roles a key may carry.
var KnownRoles = map[Role]struct{}{
	RoleGuardRails: {},
	RoleCleanup:    {},
	RoleAnalytics:  {},
}

// Principal is an authenticated identity derived from a verified bearer
// token. Its lifetime is bound to the request context it was attached to.
type Principal struct {
	Name      string    `json:"principal"`
	Roles     []Role    `json:"roles"`
	KeyID     string    `json:"key_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HasRole reports whether the principal carries the given role.
func (p *Principal) HasRole(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RoleStrings returns the principal's roles as plain strings.
func (p *Principal) RoleStrings() []string {
	out := make([]string, len(p.Roles))
	for i, r := range p.Roles {
		out[i] = string(r)
	}
	return out
}

// RolesFromStrings converts a string slice into roles without checking
// membership in KnownRoles. Callers that need the closed-set check use
// the keystore's record validation.
func RolesFromStrings(in []string) []Role {
	out := make([]Role, len(in))
	for i, s := range in {
		out[i] = Role(s)
	}
	return out
}

// SubsetOf reports whether every role in sub also appears in super.
func SubsetOf(sub, super []Role) bool {
	granted := make(map[Role]struct{}, len(super))
	for _, r := range super {
		granted[r] = struct{}{}
	}
	for _, r := range sub {
		if _, ok := granted[r]; !ok {
			return false
		}
	}
	return true
}
