package auth

import "fmt"

// AuthenticationError covers every bearer-token defect: malformed structure,
// unsupported algorithm, unknown or expired key, signature mismatch, bad
// claims. Adapters map it to 401 / UNAUTHENTICATED.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// NewAuthenticationError builds an AuthenticationError with a formatted reason.
func NewAuthenticationError(format string, args ...any) *AuthenticationError {
	return &AuthenticationError{Reason: fmt.Sprintf(format, args...)}
}

// AuthorizationError means a verified principal lacks a required role.
// Adapters map it to 403 / PERMISSION_DENIED and audit it as denied.
type AuthorizationError struct {
	Principal string
	Missing   Role
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("Principal %q missing required role %q", e.Principal, e.Missing)
}

// RequireRole checks that the principal carries the role and returns a typed
// AuthorizationError otherwise. Every facade operation calls this first.
func RequireRole(p *Principal, role Role) error {
	if p == nil {
		return NewAuthenticationError("no principal attached to request")
	}
	if !p.HasRole(role) {
		return &AuthorizationError{Principal: p.Name, Missing: role}
	}
	return nil
}
