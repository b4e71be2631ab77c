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

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/storefront/checkout/internal/di"
	"github.com/storefront/checkout/internal/handlers"
	"github.com/storefront/checkout/internal/payments"
	"github.com/storefront/checkout/internal/platform/auth"
	"github.com/storefront/checkout/internal/platform/config"
	"github.com/storefront/checkout/internal/platform/jobs"
	"github.com/storefront/checkout/internal/platform/observability"
	"github.com/storefront/checkout/internal/platform/secrets"
	"github.com/storefront/checkout/internal/repositories"
	"github.com/storefront/checkout/internal/services"
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
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	events, stopEvents, eventCheck, err := newOrderEventPublisher(ctx, logger.Named("events"), cfg)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	defer stopEvents()

	checks := []repositories.DependencyCheck{secretManagerCheck(fetcher)}
	if eventCheck != nil {
		checks = append(checks, *eventCheck)
	}
	registry, err := di.OpenRegistry(ctx, cfg, checks...)
	if err != nil {
		logger.Fatal("failed to open order store", zap.Error(err), zap.String("backend", cfg.Store.Backend))
	}

	containerOpts := []di.Option{di.WithLogger(logger)}
	if events != nil {
		containerOpts = append(containerOpts, di.WithEventPublisher(events))
	}
	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("order store close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders)
	paymentHandlers := handlers.NewPaymentHandlers(authenticator, container.Services.Payments)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(newStripeParser(logger, cfg), container.Services.Payments)
	internalHandlers := handlers.NewInternalPaymentHandlers(
		container.Services.Payments,
		cfg.Internal.ReconcilePendingAge,
		cfg.Internal.ReconcilePendingLimit,
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthRepository(registry.Health()),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes, paymentHandlers.Routes),
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

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("checkout api listening",
			zap.String("environment", cfg.Environment),
			zap.String("orderStore", cfg.Store.Backend),
		)
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

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

// newOrderEventPublisher returns a nil publisher when no topic project is configured; order events are then dropped.
func newOrderEventPublisher(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.OrderEventPublisher, func(), *repositories.DependencyCheck, error) {
	noop := func() {}
	projectID := strings.TrimSpace(cfg.Events.ProjectID)
	topicName := strings.TrimSpace(cfg.Events.OrderTopic)
	if projectID == "" || topicName == "" {
		logger.Warn("order events disabled; pubsub project or topic not configured")
		return nil, noop, nil, nil
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, noop, nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}
	topic := client.Topic(topicName)
	publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, noop, nil, err
	}
	check := &repositories.DependencyCheck{
		Name:    "pubsub",
		Timeout: 1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s not found", topicName)
			}
			return nil
		},
	}
	stop := func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return publisher, stop, check, nil
}

// newStripeParser returns an untyped nil when no webhook secret is configured so the webhook route answers 503.
func newStripeParser(logger *zap.Logger, cfg config.Config) handlers.NotificationParser {
	secret := strings.TrimSpace(cfg.PSP.StripeWebhookSecret)
	if secret == "" {
		logger.Warn("stripe webhook secret not configured; webhook notifications will be rejected")
		return nil
	}
	verifier, err := payments.NewStripeWebhookVerifier(secret, cfg.PSP.WebhookTolerance)
	if err != nil {
		logger.Fatal("failed to initialise stripe webhook verifier", zap.Error(err))
	}
	return verifier
}

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const secretHealthReference = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil || errors.Is(err, secrets.ErrSecretNotFound) || status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	audience := strings.TrimSpace(cfg.Internal.OIDCAudience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	cache := auth.NewJWKSCache(cfg.Internal.JWKSURL)
	validator := auth.NewOIDCValidator(cache, logger)
	return validator.RequireOIDC(audience, cfg.Internal.OIDCIssuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithDefaultProject(defaultProject),
	}
	if path, ok := env["API_SECRET_FALLBACK_FILE"]; ok {
		opts = append(opts, secrets.WithFallbackFile(strings.TrimSpace(path)))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve to a value. Payments cannot start without the Stripe key
// and the Postgres backend cannot start without its DSN.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"PSP.StripeAPIKey"}
	if strings.EqualFold(strings.TrimSpace(env["API_ORDER_STORE"]), config.StorePostgres) {
		required = append(required, "Store.PostgresDSN")
	}
	return required
}
