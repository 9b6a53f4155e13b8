package magic

import (
	"context"
	"fmt"
	"time"

	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/token"
)

// SessionIssuer mints a session token for a redeemed identity.
// Implemented by token.Issuer.
type SessionIssuer interface {
	Issue(ctx context.Context, identityID string) (string, token.Claims, error)
}

// Redemption is the result of a successful exchange: a fresh session token
// plus the role-appropriate landing destination.
type Redemption struct {
	SessionToken string
	Claims       token.Claims
	Landing      string
}

// Exchange redeems one-time tokens for session tokens.
type Exchange struct {
	store  Store
	issuer SessionIssuer
	now    func() time.Time
}

// NewExchange constructs an Exchange.
func NewExchange(store Store, issuer SessionIssuer, now func() time.Time) *Exchange {
	if now == nil {
		now = time.Now
	}
	return &Exchange{store: store, issuer: issuer, now: now}
}

// Redeem consumes the token exactly once and returns a fresh session token
// for the owning identity. A second redemption fails with ErrAlreadyUsed.
func (e *Exchange) Redeem(ctx context.Context, raw string) (*Redemption, error) {
	identityID, err := e.store.Redeem(ctx, raw, e.now())
	if err != nil {
		return nil, err
	}

	signed, claims, err := e.issuer.Issue(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("magic: issue session: %w", err)
	}

	return &Redemption{
		SessionToken: signed,
		Claims:       claims,
		Landing:      landingFor(claims.Role),
	}, nil
}

// landingFor picks the post-login destination by role tier.
func landingFor(role identity.Role) string {
	switch role {
	case identity.RoleStaff:
		return "/admin"
	case identity.RoleMerchant:
		return "/merchant"
	default:
		return "/shop"
	}
}
