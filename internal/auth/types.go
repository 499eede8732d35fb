package auth

import "errors"

// Role represents an authorisation tier.
type Role string

const (
	// RoleObserver can read camera state, listings and the ledger.
	RoleObserver Role = "observer"

	// RoleOperator has full camera control, including reset and
	// initialize.
	RoleOperator Role = "operator"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleObserver, RoleOperator}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
)
