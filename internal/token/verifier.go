package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gatehouse-app/gatehouse/internal/identity"
)

// StampReader answers "what is the live stamp and role for this identity",
// typically from the short-TTL cache. Implemented by stampcache.Cache.
type StampReader interface {
	Lookup(ctx context.Context, identityID string) (identity.StampInfo, error)
}

// Verifier validates session tokens: signature, expiry, stamp cross-check,
// identity existence. Each step has a distinct failure mode.
type Verifier struct {
	secret []byte
	issuer string
	skew   time.Duration
	stamps StampReader
	parser *jwt.Parser
}

// NewVerifier constructs a Verifier. skew absorbs clock drift between the
// issuing and verifying hosts.
func NewVerifier(secret []byte, issuer string, skew time.Duration, stamps StampReader) *Verifier {
	return &Verifier{
		secret: secret,
		issuer: issuer,
		skew:   skew,
		stamps: stamps,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(skew),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify validates a raw session token and returns the resolved identity.
// The returned role is the live one from the registry, since roles can
// change between issuance and verification.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Resolved, error) {
	var claims sessionClaims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if claims.Subject == "" || claims.Stamp == "" {
		return nil, ErrSignatureInvalid
	}

	live, err := v.stamps.Lookup(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrIdentityGone
		}
		// Fail closed: a registry timeout or any other lookup fault
		// denies, never allows.
		return nil, fmt.Errorf("%w: %v", ErrStampRevoked, err)
	}
	if live.Stamp != claims.Stamp {
		return nil, ErrStampRevoked
	}

	return &Resolved{
		IdentityID: claims.Subject,
		Role:       live.Role,
		Stamp:      live.Stamp,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}
