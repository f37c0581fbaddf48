package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/waypoint-immigration/portal/internal/di"
	"github.com/waypoint-immigration/portal/internal/handlers"
	"github.com/waypoint-immigration/portal/internal/payments"
	"github.com/waypoint-immigration/portal/internal/platform/auth"
	"github.com/waypoint-immigration/portal/internal/platform/config"
	"github.com/waypoint-immigration/portal/internal/platform/idempotency"
	"github.com/waypoint-immigration/portal/internal/platform/observability"
	"github.com/waypoint-immigration/portal/internal/platform/secrets"
	"github.com/waypoint-immigration/portal/internal/repositories"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	cfg, fetcher, err := di.LoadConfig(ctx, logger, "PSP.StripeAPIKey", "PSP.StripeWebhookSecret")
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	registry, err := di.OpenRegistry(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: payments.StripeLogger(observability.NewEventLogger(logger.Named("stripe"))),
		Clock:  time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}
	webhookVerifier, err := payments.NewStripeWebhookVerifier(cfg.PSP.StripeWebhookSecret, cfg.PSP.WebhookTolerance)
	if err != nil {
		logger.Fatal("failed to initialise stripe webhook verifier", zap.Error(err))
	}

	containerOpts := []di.Option{
		di.WithPaymentProvider(stripeProvider),
		di.WithLogger(logger),
	}
	publisher, err := di.OpenNotificationPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise notification publisher", zap.Error(err))
	}
	if publisher != nil {
		containerOpts = append(containerOpts, di.WithNotificationPublisher(publisher))
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("notification publisher close error", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("notifications: no pubsub topic configured; email fan-out disabled")
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("store close error", zap.Error(err))
		}
	}()

	healthRepo, err := repositories.NewHealthRepository(time.Now, dependencyChecks(registry, fetcher)...)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(cfg, startedAt)),
		handlers.WithHealthCollector(healthRepo),
	)

	svc := container.Services
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout)
	meHandlers := handlers.NewMeHandlers(authenticator, svc.Payments, svc.Notifications)
	idemStore, err := di.OpenIdempotencyStore(ctx, registry)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	adminIdempotency := idempotency.Middleware(idemStore,
		idempotency.WithOptionalKey(),
		idempotency.WithTTL(cfg.Security.IdempotencyTTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)
	adminHandlers := handlers.NewAdminPaymentHandlers(authenticator, svc.Payments, handlers.WithAdminIdempotency(adminIdempotency))
	webhookHandlers := handlers.NewWebhookHandlers(webhookVerifier, svc.Payments)
	internalHandlers := handlers.NewInternalPaymentHandlers(svc.Payments)

	projectID := traceProjectID(cfg)
	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
		handlers.WithInternalMiddlewares(buildOIDCMiddleware(logger.Named("auth"), cfg)),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr), zap.String("store", cfg.Store.Driver))
	go func() {
		serverLogger.Info("portal api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("PORTAL_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("PORTAL_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
}

func dependencyChecks(registry repositories.Registry, fetcher *secrets.Fetcher) []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{{
		Name:    "store",
		Timeout: 1500 * time.Millisecond,
		Check:   registry.Ping,
	}}
	if fetcher != nil {
		const secretHealthReference = "secret://system-healthz"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return fetcher.Ping(ctx, secretHealthReference)
			},
		})
	}
	return checks
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	return auth.NewOIDCValidator(cache, logger).RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
