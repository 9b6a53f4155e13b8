// Package login hosts the login entry point and the session lifecycle
// endpoints that sit outside the gateway's protected surface.
package login

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/observability"
	"github.com/gatehouse-app/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-app/gatehouse/internal/shared"
	"github.com/gatehouse-app/gatehouse/internal/token"
)

// Issuer is the token issuance surface the login flow needs.
type Issuer interface {
	Issue(ctx context.Context, identityID string) (string, token.Claims, error)
	IssueMagic(ctx context.Context, identityID string) (string, error)
}

// Rotator triggers a security stamp rotation ("log out everywhere").
type Rotator interface {
	Rotate(ctx context.Context, identityID string) (string, error)
}

// Handler wires the authentication endpoints.
type Handler struct {
	logger        *slog.Logger
	repo          identity.Repository
	registry      Rotator
	issuer        Issuer
	cookie        shared.CookieWriter
	validator     *validator.Validate
	metrics       *observability.Metrics
	internalToken string
	loginPath     string
}

// HandlerConfig collects Handler dependencies.
type HandlerConfig struct {
	Logger        *slog.Logger
	Repo          identity.Repository
	Registry      Rotator
	Issuer        Issuer
	Cookie        shared.CookieWriter
	Metrics       *observability.Metrics
	InternalToken string
	LoginPath     string
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:        logger,
		repo:          cfg.Repo,
		registry:      cfg.Registry,
		issuer:        cfg.Issuer,
		cookie:        cfg.Cookie,
		validator:     validator.New(),
		metrics:       cfg.Metrics,
		internalToken: cfg.InternalToken,
		loginPath:     cfg.LoginPath,
	}
}

// MountRoutes registers the public auth endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)
}

// MountProtectedRoutes registers endpoints that require a verified caller.
func (h *Handler) MountProtectedRoutes(r chi.Router) {
	r.Post("/auth/logout-all", h.handleLogoutAll)
}

// MountInternalRoutes registers the service-to-service surface used by the
// chat-bot handshake collaborator.
func (h *Handler) MountInternalRoutes(r chi.Router) {
	r.Post("/internal/magic-link", h.handleMagicLink)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := loginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	if err := h.validator.Struct(form); err != nil {
		h.failLogin(w, r)
		return
	}

	ident, err := h.repo.FindByEmail(r.Context(), form.Email)
	if err != nil || ident.Deleted() {
		h.failLogin(w, r)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(ident.PasswordHash), []byte(form.Password)); err != nil {
		h.failLogin(w, r)
		return
	}

	signed, claims, err := h.issuer.Issue(r.Context(), ident.ID)
	if err != nil {
		h.logger.Error("issue session", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.cookie.Write(w, signed, claims.ExpiresAt.Sub(claims.IssuedAt))
	http.Redirect(w, r, sanitizeRedirect(r.FormValue("redirect")), http.StatusSeeOther)
}

func (h *Handler) failLogin(w http.ResponseWriter, r *http.Request) {
	// One answer for every credential failure mode.
	http.Redirect(w, r, h.loginPath+"?reason=invalid_credentials", http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.cookie.Clear(w)
	http.Redirect(w, r, h.loginPath, http.StatusSeeOther)
}

// handleLogoutAll rotates the caller's security stamp, invalidating every
// outstanding session for the identity within the cache TTL bound.
func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.CallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if _, err := h.registry.Rotate(r.Context(), caller.ID); err != nil {
		h.logger.Error("rotate stamp", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.metrics.StampRotation()
	h.cookie.Clear(w)
	http.Redirect(w, r, h.loginPath, http.StatusSeeOther)
}

type magicLinkRequest struct {
	IdentityID string `json:"identity_id" validate:"required"`
}

type magicLinkResponse struct {
	Token string `json:"token"`
}

// handleMagicLink issues a one-time bootstrap token for an identity the
// chat-bot handshake has already verified out of band.
func (h *Handler) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	if subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Internal-Token")), []byte(h.internalToken)) != 1 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	var req magicLinkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	raw, err := h.issuer.IssueMagic(r.Context(), req.IdentityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "identity does not resolve")
			return
		}
		h.logger.Error("issue magic token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusCreated, magicLinkResponse{Token: raw})
}

// sanitizeRedirect only honours relative in-app paths as post-login return
// targets.
func sanitizeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return "/"
	}
	if strings.Contains(target, "://") || strings.ContainsAny(target, "\r\n") {
		return "/"
	}
	return target
}
