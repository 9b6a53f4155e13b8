package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/observability"
	"github.com/gatehouse-app/gatehouse/internal/shared"
	"github.com/gatehouse-app/gatehouse/internal/token"
)

// Identity headers injected for downstream consumption. Inbound copies are
// stripped on every request; downstream must only ever see gateway-written
// values.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
	HeaderStamp    = "X-Security-Stamp"
)

// Denial reasons surfaced to the client on the login redirect.
const (
	ReasonAuthRequired   = "auth_required"
	ReasonSessionExpired = "session_expired"
	ReasonSessionInvalid = "session_invalid"
	ReasonAccessDenied   = "access_denied"
)

// Verifier validates a raw session token. Implemented by token.Verifier.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*token.Resolved, error)
}

// Refresher re-mints tokens near expiry and exposes tier lifetimes for the
// rolling cookie refresh. Implemented by token.Issuer.
type Refresher interface {
	Issue(ctx context.Context, identityID string) (string, token.Claims, error)
	TTLFor(role identity.Role) time.Duration
}

// Gateway is the per-request filter installed in front of the application
// router. It keeps no mutable state of its own; the stamp cache behind the
// verifier is the only shared component.
type Gateway struct {
	logger        *slog.Logger
	verifier      Verifier
	issuer        Refresher
	classifier    *Classifier
	cookie        shared.CookieWriter
	loginPath     string
	renewFraction float64
	metrics       *observability.Metrics
	now           func() time.Time
}

// Config collects Gateway dependencies.
type Config struct {
	Logger        *slog.Logger
	Verifier      Verifier
	Issuer        Refresher
	Classifier    *Classifier
	Cookie        shared.CookieWriter
	LoginPath     string
	RenewFraction float64
	Metrics       *observability.Metrics
	Now           func() time.Time
}

// New constructs a Gateway.
func New(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	renew := cfg.RenewFraction
	if renew <= 0 {
		renew = 0.1
	}
	return &Gateway{
		logger:        logger,
		verifier:      cfg.Verifier,
		issuer:        cfg.Issuer,
		classifier:    cfg.Classifier,
		cookie:        cfg.Cookie,
		loginPath:     cfg.LoginPath,
		renewFraction: renew,
		metrics:       cfg.Metrics,
		now:           now,
	}
}

// Middleware classifies the request, authenticates protected paths, and
// forwards with resolved-identity headers injected.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Never trust identity headers arriving from outside.
		r.Header.Del(HeaderUserID)
		r.Header.Del(HeaderUserRole)
		r.Header.Del(HeaderStamp)

		class := g.classifier.Classify(r)
		if class != ClassProtected {
			g.metrics.AuthDecision("allow", class.String())
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := extractCredential(r, g.cookie.Name)
		if !ok {
			g.metrics.AuthDecision("deny", ReasonAuthRequired)
			g.logger.Info("no credential presented", slog.String("path", r.URL.Path))
			g.redirectLogin(w, r, ReasonAuthRequired)
			return
		}

		resolved, err := g.verify(r.Context(), raw)
		if err != nil {
			reason := coarsen(err)
			g.metrics.AuthDecision("deny", reason)
			g.logger.Warn("session rejected",
				slog.String("path", r.URL.Path),
				slog.String("reason", reason),
				slog.String("error", failureCode(err)))
			// Clear the cookie so a poisoned token cannot loop through
			// the redirect forever.
			g.cookie.Clear(w)
			g.redirectLogin(w, r, reason)
			return
		}

		r.Header.Set(HeaderUserID, resolved.IdentityID)
		r.Header.Set(HeaderUserRole, string(resolved.Role))
		r.Header.Set(HeaderStamp, resolved.Stamp)

		g.refreshCookie(w, r, raw, resolved)

		g.metrics.AuthDecision("allow", "")
		ctx := shared.ContextWithCaller(r.Context(), shared.Caller{
			ID:    resolved.IdentityID,
			Role:  resolved.Role,
			Stamp: resolved.Stamp,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verify calls the token verifier, converting a panic anywhere below it
// into a denial so no fault ever escapes the gateway boundary.
func (g *Gateway) verify(ctx context.Context, raw string) (resolved *token.Resolved, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.Error("verifier panic", slog.Any("panic", rec))
			resolved, err = nil, token.ErrStampRevoked
		}
	}()
	return g.verifier.Verify(ctx, raw)
}

// refreshCookie rolls the client-visible session lifetime on every allowed
// request. The token itself is only re-minted once it enters the renewal
// window of its own expiry.
func (g *Gateway) refreshCookie(w http.ResponseWriter, r *http.Request, raw string, resolved *token.Resolved) {
	ttl := g.issuer.TTLFor(resolved.Role)
	forward := raw

	remaining := resolved.ExpiresAt.Sub(g.now())
	if float64(remaining) < g.renewFraction*float64(ttl) {
		if minted, _, err := g.issuer.Issue(r.Context(), resolved.IdentityID); err == nil {
			forward = minted
		} else {
			g.logger.Warn("token renewal", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
	}
	g.cookie.Write(w, forward, ttl)
}

// RequireRole gates a subtree on a minimum privilege tier. It runs after
// Middleware, reading the caller from context.
func (g *Gateway) RequireRole(min identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := shared.CallerFromContext(r.Context())
			if !ok || !caller.Role.AtLeast(min) {
				g.metrics.AuthDecision("deny", ReasonAccessDenied)
				g.redirectLogin(w, r, ReasonAccessDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Gateway) redirectLogin(w http.ResponseWriter, r *http.Request, reason string) {
	query := url.Values{}
	query.Set("reason", reason)
	query.Set("redirect", r.URL.RequestURI())
	http.Redirect(w, r, g.loginPath+"?"+query.Encode(), http.StatusSeeOther)
}

// extractCredential returns the bearer credential, preferring the cookie
// over the Authorization header: the cookie reflects the gateway's own
// rolling refresh, a stale header does not.
func extractCredential(r *http.Request, cookieName string) (string, bool) {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		if raw := strings.TrimSpace(header[7:]); raw != "" {
			return raw, true
		}
	}
	return "", false
}

// coarsen maps verifier failures onto the small stable enum surfaced to
// clients. Unexpected faults deny exactly like a revoked stamp.
func coarsen(err error) string {
	switch {
	case errors.Is(err, token.ErrSignatureInvalid):
		return ReasonSessionInvalid
	case errors.Is(err, token.ErrTokenExpired),
		errors.Is(err, token.ErrStampRevoked),
		errors.Is(err, token.ErrIdentityGone):
		return ReasonSessionExpired
	default:
		return ReasonSessionExpired
	}
}

// failureCode names the internal failure for log correlation without ever
// logging token material.
func failureCode(err error) string {
	switch {
	case errors.Is(err, token.ErrSignatureInvalid):
		return "SIGNATURE_INVALID"
	case errors.Is(err, token.ErrTokenExpired):
		return "TOKEN_EXPIRED"
	case errors.Is(err, token.ErrStampRevoked):
		return "STAMP_REVOKED"
	case errors.Is(err, token.ErrIdentityGone):
		return "IDENTITY_GONE"
	default:
		return fmt.Sprintf("INTERNAL:%T", err)
	}
}
