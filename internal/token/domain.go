// Package token mints and validates the signed session credentials carried
// by clients, plus the one-time bootstrap tokens used by the chat handshake.
package token

import (
	"errors"
	"time"

	"github.com/gatehouse-app/gatehouse/internal/identity"
)

// Verification failure modes, each a distinct step of Verify.
var (
	ErrSignatureInvalid = errors.New("token: signature invalid")
	ErrTokenExpired     = errors.New("token: expired")
	ErrStampRevoked     = errors.New("token: security stamp revoked")
	ErrIdentityGone     = errors.New("token: identity gone")
)

// Claims is the payload embedded in a session token at issuance time.
type Claims struct {
	IdentityID string
	Role       identity.Role
	Stamp      string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Resolved is the verifier's answer for a valid token. Role is the live
// role from the registry, not the one embedded at issuance.
type Resolved struct {
	IdentityID string
	Role       identity.Role
	Stamp      string
	ExpiresAt  time.Time
}

// TTLPolicy maps a role tier to its session lifetime. Higher privilege gets
// a shorter lifetime to bound the blast radius of a leaked credential.
type TTLPolicy struct {
	Standard time.Duration
	Merchant time.Duration
	Staff    time.Duration
}

// For returns the session TTL for a role, captured at issuance.
func (p TTLPolicy) For(role identity.Role) time.Duration {
	switch role {
	case identity.RoleStaff:
		return p.Staff
	case identity.RoleMerchant:
		return p.Merchant
	default:
		return p.Standard
	}
}
