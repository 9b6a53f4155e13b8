package magic

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse-app/gatehouse/internal/shared"
)

// Handler exposes the magic-link redemption endpoint.
type Handler struct {
	logger    *slog.Logger
	exchange  *Exchange
	cookie    shared.CookieWriter
	loginPath string
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, exchange *Exchange, cookie shared.CookieWriter, loginPath string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, exchange: exchange, cookie: cookie, loginPath: loginPath}
}

// MountRoutes registers the exchange endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/auth/magic", h.handleRedeem)
}

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		h.redirectLink(w, r, "invalid")
		return
	}

	redemption, err := h.exchange.Redeem(r.Context(), raw)
	if err != nil {
		state := "invalid"
		switch {
		case errors.Is(err, ErrExpired):
			state = "expired"
		case errors.Is(err, ErrAlreadyUsed):
			state = "used"
		case errors.Is(err, ErrNotFound):
			state = "invalid"
		default:
			h.logger.Error("magic redemption", slog.Any("error", err))
		}
		h.logger.Info("magic link rejected", slog.String("state", state))
		h.redirectLink(w, r, state)
		return
	}

	ttl := redemption.Claims.ExpiresAt.Sub(redemption.Claims.IssuedAt)
	h.cookie.Write(w, redemption.SessionToken, ttl)
	http.Redirect(w, r, redemption.Landing, http.StatusSeeOther)
}

// redirectLink sends the user to the login entry point with the link state,
// which is surfaced separately from session denial reasons.
func (h *Handler) redirectLink(w http.ResponseWriter, r *http.Request, state string) {
	query := url.Values{}
	query.Set("link", state)
	http.Redirect(w, r, h.loginPath+"?"+query.Encode(), http.StatusSeeOther)
}
