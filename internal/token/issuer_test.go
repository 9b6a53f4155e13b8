package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/token"
)

type stubRegistry struct {
	infos map[string]identity.StampInfo
	err   error
}

func (s *stubRegistry) CurrentStamp(ctx context.Context, id string) (identity.StampInfo, error) {
	if s.err != nil {
		return identity.StampInfo{}, s.err
	}
	info, ok := s.infos[id]
	if !ok {
		return identity.StampInfo{}, identity.ErrNotFound
	}
	return info, nil
}

// Lookup lets the stub double as the verifier's stamp reader.
func (s *stubRegistry) Lookup(ctx context.Context, id string) (identity.StampInfo, error) {
	return s.CurrentStamp(ctx, id)
}

type capturingMagicStore struct {
	token      string
	identityID string
	expiresAt  time.Time
	err        error
}

func (s *capturingMagicStore) Insert(ctx context.Context, token, identityID string, expiresAt time.Time) error {
	if s.err != nil {
		return s.err
	}
	s.token = token
	s.identityID = identityID
	s.expiresAt = expiresAt
	return nil
}

var testPolicy = token.TTLPolicy{
	Standard: 168 * time.Hour,
	Merchant: 48 * time.Hour,
	Staff:    24 * time.Hour,
}

func newIssuer(registry *stubRegistry, magic *capturingMagicStore, now func() time.Time) *token.Issuer {
	return token.NewIssuer(token.IssuerConfig{
		Registry: registry,
		Magic:    magic,
		Secret:   []byte("issuer-test-secret"),
		Issuer:   "gatehouse",
		Policy:   testPolicy,
		MagicTTL: 10 * time.Minute,
		Now:      now,
	})
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	registry := &stubRegistry{infos: map[string]identity.StampInfo{
		"u1": {Stamp: "s1", Role: identity.RoleStandard},
	}}
	issuer := newIssuer(registry, nil, nil)
	verifier := token.NewVerifier([]byte("issuer-test-secret"), "gatehouse", 30*time.Second, registry)

	signed, claims, err := issuer.Issue(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.IdentityID)
	assert.Equal(t, identity.RoleStandard, claims.Role)
	assert.Equal(t, "s1", claims.Stamp)

	resolved, err := verifier.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "u1", resolved.IdentityID)
	assert.Equal(t, identity.RoleStandard, resolved.Role)
	assert.Equal(t, "s1", resolved.Stamp)
}

func TestIssueUnknownIdentity(t *testing.T) {
	issuer := newIssuer(&stubRegistry{infos: map[string]identity.StampInfo{}}, nil, nil)
	_, _, err := issuer.Issue(context.Background(), "ghost")
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestTieredTTLByRoleAtIssuance(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	registry := &stubRegistry{infos: map[string]identity.StampInfo{
		"standard": {Stamp: "s", Role: identity.RoleStandard},
		"merchant": {Stamp: "s", Role: identity.RoleMerchant},
		"staff":    {Stamp: "s", Role: identity.RoleStaff},
	}}
	issuer := newIssuer(registry, nil, func() time.Time { return at })

	expiries := make(map[string]time.Time)
	for _, id := range []string{"standard", "merchant", "staff"} {
		_, claims, err := issuer.Issue(context.Background(), id)
		require.NoError(t, err)
		expiries[id] = claims.ExpiresAt
	}

	assert.True(t, expiries["staff"].Before(expiries["merchant"]), "staff tier must expire before merchant")
	assert.True(t, expiries["merchant"].Before(expiries["standard"]), "merchant tier must expire before standard")
	assert.Equal(t, at.Add(testPolicy.Staff), expiries["staff"])
	assert.Equal(t, at.Add(testPolicy.Standard), expiries["standard"])
}

func TestIssueMagicPersistsAndReturnsRawToken(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &capturingMagicStore{}
	registry := &stubRegistry{infos: map[string]identity.StampInfo{
		"u2": {Stamp: "s", Role: identity.RoleStandard},
	}}
	issuer := newIssuer(registry, store, func() time.Time { return at })

	raw, err := issuer.IssueMagic(context.Background(), "u2")
	require.NoError(t, err)
	// 32 bytes of entropy, base64url without padding.
	assert.Len(t, raw, 43)
	assert.Equal(t, raw, store.token)
	assert.Equal(t, "u2", store.identityID)
	assert.Equal(t, at.Add(10*time.Minute), store.expiresAt)
}

func TestIssueMagicUniquePerCall(t *testing.T) {
	store := &capturingMagicStore{}
	registry := &stubRegistry{infos: map[string]identity.StampInfo{
		"u2": {Stamp: "s", Role: identity.RoleStandard},
	}}
	issuer := newIssuer(registry, store, nil)

	first, err := issuer.IssueMagic(context.Background(), "u2")
	require.NoError(t, err)
	second, err := issuer.IssueMagic(context.Background(), "u2")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestIssueMagicUnknownIdentity(t *testing.T) {
	store := &capturingMagicStore{}
	issuer := newIssuer(&stubRegistry{}, store, nil)

	_, err := issuer.IssueMagic(context.Background(), "ghost")
	assert.ErrorIs(t, err, identity.ErrNotFound)
	assert.Empty(t, store.token, "no token may be persisted for an unresolved identity")
}
