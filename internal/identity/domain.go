package identity

import (
	"errors"
	"fmt"
	"time"
)

// Role is the privilege tier of an identity, ordered standard < merchant < staff.
type Role string

const (
	RoleStandard Role = "standard"
	RoleMerchant Role = "merchant"
	RoleStaff    Role = "staff"
)

// Privilege returns the numeric rank of the role for ordering comparisons.
func (r Role) Privilege() int {
	switch r {
	case RoleStaff:
		return 2
	case RoleMerchant:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether the role carries at least the privilege of other.
func (r Role) AtLeast(other Role) bool {
	return r.Privilege() >= other.Privilege()
}

// ParseRole converts a stored role string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleStandard, RoleMerchant, RoleStaff:
		return Role(s), nil
	}
	return "", fmt.Errorf("identity: unknown role %q", s)
}

// Identity is the gateway's read view of a user account. The account itself
// is owned by the identity store; the gateway reads it and rotates the
// security stamp as an explicit revocation side effect.
type Identity struct {
	ID            string
	Email         string
	PasswordHash  string
	Role          Role
	SecurityStamp string
	DeletedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Deleted reports whether the account has been soft-deleted.
func (i *Identity) Deleted() bool {
	return i != nil && i.DeletedAt != nil
}

// StampInfo is the registry's answer for one identity: the live stamp and
// the live role.
type StampInfo struct {
	Stamp string
	Role  Role
}

// ErrNotFound indicates the identity does not resolve (absent or soft-deleted).
var ErrNotFound = errors.New("identity: not found")
