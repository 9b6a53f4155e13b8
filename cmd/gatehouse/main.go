package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gatehouse-app/gatehouse/internal/app"
	"github.com/gatehouse-app/gatehouse/internal/gateway"
	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/login"
	"github.com/gatehouse-app/gatehouse/internal/magic"
	"github.com/gatehouse-app/gatehouse/internal/observability"
	"github.com/gatehouse-app/gatehouse/internal/platform/cache"
	"github.com/gatehouse-app/gatehouse/internal/platform/db"
	"github.com/gatehouse-app/gatehouse/internal/shared"
	"github.com/gatehouse-app/gatehouse/internal/stampcache"
	"github.com/gatehouse-app/gatehouse/internal/token"
	"github.com/gatehouse-app/gatehouse/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	identityRepo := identity.NewRepository(pool)
	magicStore := magic.NewStore(pool)

	registry := identity.NewRegistry(identityRepo, jobClient, logger)
	stamps := stampcache.New(redisClient, registry, cfg.StampCacheTTL, cfg.RegistryTimeout, logger)
	registry.AttachCache(stamps)

	policy := token.TTLPolicy{
		Standard: cfg.StandardTTL,
		Merchant: cfg.MerchantTTL,
		Staff:    cfg.StaffTTL,
	}
	issuer := token.NewIssuer(token.IssuerConfig{
		Registry: registry,
		Magic:    magicStore,
		Secret:   []byte(cfg.TokenSecret),
		Issuer:   cfg.TokenIssuer,
		Policy:   policy,
		MagicTTL: cfg.MagicTTL,
	})
	verifier := token.NewVerifier([]byte(cfg.TokenSecret), cfg.TokenIssuer, cfg.ClockSkew, stamps)

	cookie := shared.CookieWriter{Name: cfg.CookieName, Secure: cfg.IsProduction()}

	gw := gateway.New(gateway.Config{
		Logger:        logger,
		Verifier:      verifier,
		Issuer:        issuer,
		Classifier:    app.NewClassifier(cfg),
		Cookie:        cookie,
		LoginPath:     cfg.LoginPath,
		RenewFraction: cfg.RenewFraction,
		Metrics:       metrics,
	})

	exchange := magic.NewExchange(magicStore, issuer, nil)
	magicHandler := magic.NewHandler(logger, exchange, cookie, cfg.LoginPath)
	loginHandler := login.NewHandler(login.HandlerConfig{
		Logger:        logger,
		Repo:          identityRepo,
		Registry:      registry,
		Issuer:        issuer,
		Cookie:        cookie,
		Metrics:       metrics,
		InternalToken: cfg.InternalToken,
		LoginPath:     cfg.LoginPath,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		Gateway:      gw,
		LoginHandler: loginHandler,
		MagicHandler: magicHandler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
