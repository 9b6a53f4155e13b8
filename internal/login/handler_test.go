package login

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/shared"
	"github.com/gatehouse-app/gatehouse/internal/token"
	_ "github.com/gatehouse-app/gatehouse/testing"
)

const sessionCookie = "gatehouse_session"

type memRepo struct {
	byEmail map[string]*identity.Identity
}

func (m *memRepo) Find(ctx context.Context, id string) (*identity.Identity, error) {
	for _, ident := range m.byEmail {
		if ident.ID == id {
			return ident, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (m *memRepo) FindByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	ident, ok := m.byEmail[email]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return ident, nil
}

func (m *memRepo) UpdateStamp(ctx context.Context, id, stamp string) error {
	return nil
}

type stubIssuer struct {
	issued     []string
	magic      []string
	magicErr   error
	magicToken string
}

func (s *stubIssuer) Issue(ctx context.Context, identityID string) (string, token.Claims, error) {
	s.issued = append(s.issued, identityID)
	now := time.Now()
	return "session-for-" + identityID, token.Claims{
		IdentityID: identityID,
		Role:       identity.RoleStandard,
		IssuedAt:   now,
		ExpiresAt:  now.Add(168 * time.Hour),
	}, nil
}

func (s *stubIssuer) IssueMagic(ctx context.Context, identityID string) (string, error) {
	if s.magicErr != nil {
		return "", s.magicErr
	}
	s.magic = append(s.magic, identityID)
	return s.magicToken, nil
}

type stubRotator struct {
	rotated []string
}

func (s *stubRotator) Rotate(ctx context.Context, identityID string) (string, error) {
	s.rotated = append(s.rotated, identityID)
	return "next-stamp", nil
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

type loginFixture struct {
	repo    *memRepo
	issuer  *stubIssuer
	rotator *stubRotator
	router  chi.Router
}

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()
	repo := &memRepo{byEmail: map[string]*identity.Identity{
		"ana@example.com": {
			ID:            "u1",
			Email:         "ana@example.com",
			PasswordHash:  hashOf(t, "correct horse"),
			Role:          identity.RoleStandard,
			SecurityStamp: "s1",
		},
	}}
	issuer := &stubIssuer{magicToken: "one-time-token"}
	rotator := &stubRotator{}

	h := NewHandler(HandlerConfig{
		Repo:          repo,
		Registry:      rotator,
		Issuer:        issuer,
		Cookie:        shared.CookieWriter{Name: sessionCookie},
		InternalToken: "internal-secret",
		LoginPath:     "/auth/login",
	})
	router := chi.NewRouter()
	h.MountRoutes(router)
	h.MountProtectedRoutes(router)
	h.MountInternalRoutes(router)
	return &loginFixture{repo: repo, issuer: issuer, rotator: rotator, router: router}
}

func postForm(fx *loginFixture, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res := httptest.NewRecorder()
	fx.router.ServeHTTP(res, req)
	return res
}

func sessionFrom(res *httptest.ResponseRecorder) *http.Cookie {
	for _, cookie := range res.Result().Cookies() {
		if cookie.Name == sessionCookie {
			return cookie
		}
	}
	return nil
}

func TestLoginSuccessSetsCookieAndRedirects(t *testing.T) {
	fx := newLoginFixture(t)

	res := postForm(fx, "/auth/login", url.Values{
		"email":    {"ana@example.com"},
		"password": {"correct horse"},
		"redirect": {"/dashboard/orders"},
	})

	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/dashboard/orders", res.Header().Get("Location"))
	assert.Equal(t, []string{"u1"}, fx.issuer.issued)

	cookie := sessionFrom(res)
	require.NotNil(t, cookie)
	assert.Equal(t, "session-for-u1", cookie.Value)
	assert.Equal(t, int((168*time.Hour)/time.Second), cookie.MaxAge)
}

func TestLoginWrongPassword(t *testing.T) {
	fx := newLoginFixture(t)

	res := postForm(fx, "/auth/login", url.Values{
		"email":    {"ana@example.com"},
		"password": {"wrong password"},
	})

	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/auth/login?reason=invalid_credentials", res.Header().Get("Location"))
	assert.Empty(t, fx.issuer.issued)
	assert.Nil(t, sessionFrom(res))
}

func TestLoginUnknownEmailSameAnswer(t *testing.T) {
	fx := newLoginFixture(t)

	res := postForm(fx, "/auth/login", url.Values{
		"email":    {"nobody@example.com"},
		"password": {"correct horse"},
	})

	assert.Equal(t, "/auth/login?reason=invalid_credentials", res.Header().Get("Location"))
}

func TestLoginSoftDeletedAccountRejected(t *testing.T) {
	fx := newLoginFixture(t)
	gone := time.Now()
	fx.repo.byEmail["ana@example.com"].DeletedAt = &gone

	res := postForm(fx, "/auth/login", url.Values{
		"email":    {"ana@example.com"},
		"password": {"correct horse"},
	})

	assert.Equal(t, "/auth/login?reason=invalid_credentials", res.Header().Get("Location"))
	assert.Empty(t, fx.issuer.issued)
}

func TestSanitizeRedirect(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/dashboard":                "/dashboard",
		"/dashboard?tab=2":          "/dashboard?tab=2",
		"//evil.example.com":        "/",
		"https://evil.example.com":  "/",
		"/x://y":                    "/",
		"relative/path":             "/",
		"/ok\r\nSet-Cookie: x=1":    "/",
		"/deep/nested/path#section": "/deep/nested/path#section",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeRedirect(in), "input %q", in)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	fx := newLoginFixture(t)

	res := postForm(fx, "/auth/logout", url.Values{})

	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/auth/login", res.Header().Get("Location"))
	cookie := sessionFrom(res)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestLogoutAllRotatesStamp(t *testing.T) {
	fx := newLoginFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout-all", nil)
	req = req.WithContext(shared.ContextWithCaller(req.Context(), shared.Caller{
		ID:   "u1",
		Role: identity.RoleStandard,
	}))
	res := httptest.NewRecorder()
	fx.router.ServeHTTP(res, req)

	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, []string{"u1"}, fx.rotator.rotated)
	cookie := sessionFrom(res)
	require.NotNil(t, cookie)
	assert.Less(t, cookie.MaxAge, 0)
}

func TestLogoutAllWithoutCallerUnauthorized(t *testing.T) {
	fx := newLoginFixture(t)

	res := postForm(fx, "/auth/logout-all", url.Values{})

	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Empty(t, fx.rotator.rotated)
}

func TestMagicLinkRequiresInternalToken(t *testing.T) {
	fx := newLoginFixture(t)

	body := strings.NewReader(`{"identity_id":"u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/internal/magic-link", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Token", "guessed")
	res := httptest.NewRecorder()
	fx.router.ServeHTTP(res, req)

	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Empty(t, fx.issuer.magic)
}

func TestMagicLinkIssuesToken(t *testing.T) {
	fx := newLoginFixture(t)

	body := strings.NewReader(`{"identity_id":"u1"}`)
	req := httptest.NewRequest(http.MethodPost, "/internal/magic-link", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Token", "internal-secret")
	res := httptest.NewRecorder()
	fx.router.ServeHTTP(res, req)

	require.Equal(t, http.StatusCreated, res.Code)
	var payload magicLinkResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	assert.Equal(t, "one-time-token", payload.Token)
	assert.Equal(t, []string{"u1"}, fx.issuer.magic)
}

func TestMagicLinkUnknownIdentity(t *testing.T) {
	fx := newLoginFixture(t)
	fx.issuer.magicErr = identity.ErrNotFound

	body := strings.NewReader(`{"identity_id":"ghost"}`)
	req := httptest.NewRequest(http.MethodPost, "/internal/magic-link", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Token", "internal-secret")
	res := httptest.NewRecorder()
	fx.router.ServeHTTP(res, req)

	assert.Equal(t, http.StatusNotFound, res.Code)
}
