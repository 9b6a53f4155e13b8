// Package magic implements the one-time bootstrap token exchange: the only
// path by which an identity verified out of band (the chat-bot handshake)
// enters the gateway's trust domain.
package magic

import (
	"errors"
	"time"
)

// Redemption failure modes. Each maps to a distinct user-facing link state,
// separate from the generic session-expired flow, because the remediation
// (request a new link) differs from "log in again".
var (
	ErrNotFound    = errors.New("magic: token not found")
	ErrExpired     = errors.New("magic: token expired")
	ErrAlreadyUsed = errors.New("magic: token already used")
)

// Token is a persisted bootstrap credential. The raw value is high-entropy
// and unguessable; used flips exactly once at redemption.
type Token struct {
	Token      string
	IdentityID string
	ExpiresAt  time.Time
	Used       bool
	CreatedAt  time.Time
}
