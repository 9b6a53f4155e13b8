package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gatehouse-app/gatehouse/internal/gateway"
	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/login"
	"github.com/gatehouse-app/gatehouse/internal/magic"
	"github.com/gatehouse-app/gatehouse/internal/observability"
	"github.com/gatehouse-app/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-app/gatehouse/internal/shared"
)

// NewClassifier declares the gateway's path sets. The allow-list names the
// login entry point, the unauthenticated exchange endpoints, health and
// metrics probes, the inbound chat webhook, and the maintenance page.
func NewClassifier(cfg *Config) *gateway.Classifier {
	loginPath := "/auth/login"
	if cfg != nil && cfg.LoginPath != "" {
		loginPath = cfg.LoginPath
	}
	return gateway.NewClassifier(gateway.ClassifierConfig{
		PublicPaths: []string{
			loginPath,
			"/auth/logout",
			"/auth/magic",
			"/internal",
			"/healthz",
			"/metrics",
			"/webhook/chat",
			"/maintenance",
		},
		AssetPrefixes:     []string{"/static", "/_app"},
		ProtectedPrefixes: []string{"/"},
		MagicPrefix:       "/auth/magic",
		MagicParam:        "token",
	})
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	Gateway      *gateway.Gateway
	LoginHandler *login.Handler
	MagicHandler *magic.Handler
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router with the gateway in front of every
// route.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	r.Use(params.Gateway.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Get("/maintenance", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "maintenance"})
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthRateLimit())
		params.LoginHandler.MountRoutes(r)
		params.MagicHandler.MountRoutes(r)
	})
	params.LoginHandler.MountInternalRoutes(r)

	// Everything below runs behind the gateway with a verified caller.
	params.LoginHandler.MountProtectedRoutes(r)

	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		caller, ok := shared.CallerFromContext(r.Context())
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{
			"id":   caller.ID,
			"role": string(caller.Role),
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(params.Gateway.RequireRole(identity.RoleStaff))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			httpx.JSON(w, http.StatusOK, map[string]string{"area": "admin"})
		})
	})
	r.Route("/merchant", func(r chi.Router) {
		r.Use(params.Gateway.RequireRole(identity.RoleMerchant))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			httpx.JSON(w, http.StatusOK, map[string]string{"area": "merchant"})
		})
	})

	return r
}
