package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/loomline/api/internal/handlers"
	"github.com/loomline/api/internal/payments"
	"github.com/loomline/api/internal/platform/auth"
	"github.com/loomline/api/internal/platform/config"
	pfirestore "github.com/loomline/api/internal/platform/firestore"
	"github.com/loomline/api/internal/platform/idempotency"
	"github.com/loomline/api/internal/platform/jobs"
	"github.com/loomline/api/internal/platform/observability"
	"github.com/loomline/api/internal/platform/secrets"
	platformstorage "github.com/loomline/api/internal/platform/storage"
	"github.com/loomline/api/internal/repositories"
	firestoreRepo "github.com/loomline/api/internal/repositories/firestore"
	"github.com/loomline/api/internal/services"
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
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	exportArchiver, err := platformstorage.NewArchiver(storageClient)
	if err != nil {
		logger.Fatal("failed to initialise storage archiver", zap.Error(err))
	}

	slideSigner := newSlideSigner(ctx, logger, fetcher, envValues)

	systemService, err := newSystemService(ctx, firestoreClient, fetcher, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	userRepo, err := firestoreRepo.NewUserRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise user repository", zap.Error(err))
	}
	addressRepo, err := firestoreRepo.NewAddressRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise address repository", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise counter repository", zap.Error(err))
	}
	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	categoryRepo, err := firestoreRepo.NewCategoryRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise category repository", zap.Error(err))
	}
	contentRepo, err := firestoreRepo.NewContentRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise content repository", zap.Error(err))
	}
	leadRepo, err := firestoreRepo.NewLeadRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise lead repository", zap.Error(err))
	}
	auditRepo, err := firestoreRepo.NewAuditLogRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise audit log repository", zap.Error(err))
	}
	searchRepo, err := firestoreRepo.NewSearchLogRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise search log repository", zap.Error(err))
	}

	var orderEvents services.OrderEventPublisher
	var pubsubClient *pubsub.Client
	var pubsubTopic *pubsub.Topic
	if topicID := strings.TrimSpace(cfg.Events.OrderEventsTopic); topicID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, traceProjectID(cfg))
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		pubsubTopic = pubsubClient.Topic(topicID)
		orderEvents, err = jobs.NewPubSubOrderEventPublisher(pubsubTopic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
	} else {
		logger.Warn("ORDER_EVENTS_TOPIC unset; order lifecycle events will not be published")
	}
	defer func() {
		if pubsubTopic != nil {
			pubsubTopic.Stop()
		}
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
	}()

	auditService, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: auditRepo,
		Clock:      time.Now,
		Logger:     logger.Named("audit").Sugar(),
	})
	if err != nil {
		logger.Fatal("failed to initialise audit log service", zap.Error(err))
	}

	paymentManager := newPaymentManager(logger, cfg)
	var sessionCreator services.CheckoutSessionCreator = unavailableSessionCreator{}
	var paymentGateway services.PaymentGateway
	if paymentManager != nil {
		sessionCreator = paymentManager
		paymentGateway = paymentManager
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   orderRepo,
		Users:    userRepo,
		Counters: counterRepo,
		Clock:    time.Now,
		Events:   orderEvents,
		Gateway:  paymentGateway,
		Logger:   zapEventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	userService, err := services.NewUserService(services.UserServiceDeps{
		Users:     userRepo,
		Addresses: addressRepo,
		Clock:     time.Now,
		Logger:    zapEventLogger(logger.Named("users")),
	})
	if err != nil {
		logger.Fatal("failed to initialise user service", zap.Error(err))
	}

	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:   productRepo,
		Categories: categoryRepo,
		Audit:      auditService,
		Clock:      time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	contentService, err := services.NewContentService(services.ContentServiceDeps{
		Content: contentRepo,
		Signer:  slideSigner,
		Bucket:  cfg.Storage.ContentBucket,
		Audit:   auditService,
		Clock:   time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise content service", zap.Error(err))
	}

	leadService, err := services.NewLeadService(services.LeadServiceDeps{
		Leads:  leadRepo,
		Clock:  time.Now,
		Logger: zapEventLogger(logger.Named("wishlist")),
	})
	if err != nil {
		logger.Fatal("failed to initialise lead service", zap.Error(err))
	}

	pricingEngine, err := services.NewPricingEngine(services.PricingEngineDeps{
		Logger: zapEventLogger(logger.Named("pricing")),
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
	}

	searchService, err := services.NewSearchLogService(services.SearchLogServiceDeps{
		Searches: searchRepo,
		Clock:    time.Now,
		Logger:   zapEventLogger(logger.Named("search")),
	})
	if err != nil {
		logger.Fatal("failed to initialise search log service", zap.Error(err))
	}

	var checkoutService services.CheckoutService
	if secret := strings.TrimSpace(cfg.Site.ReferenceSecret); secret != "" && strings.TrimSpace(cfg.Site.BaseURL) != "" {
		checkoutService, err = services.NewCheckoutService(services.CheckoutServiceDeps{
			Orders:          orderService,
			Addresses:       addressRepo,
			Pricing:         pricingEngine,
			Payments:        sessionCreator,
			BaseURL:         cfg.Site.BaseURL,
			ReferenceSecret: []byte(secret),
			Clock:           time.Now,
			Logger:          zapEventLogger(logger.Named("checkout")),
		})
		if err != nil {
			logger.Fatal("failed to initialise checkout service", zap.Error(err))
		}
	} else {
		logger.Warn("SITE_BASE_URL or ORDER_REFERENCE_SECRET unset; checkout routes disabled")
	}

	var adminSessions *auth.AdminSessionManager
	if strings.TrimSpace(cfg.Admin.Passphrase) != "" && strings.TrimSpace(cfg.Admin.JWTSecret) != "" {
		adminSessions, err = auth.NewAdminSessionManager(auth.AdminSessionConfig{
			Passphrase:    cfg.Admin.Passphrase,
			SigningSecret: []byte(cfg.Admin.JWTSecret),
			TTL:           cfg.Admin.SessionTTL,
		})
		if err != nil {
			logger.Fatal("failed to initialise admin session manager", zap.Error(err))
		}
	} else {
		logger.Warn("ADMIN_PASSPHRASE or ADMIN_JWT_SECRET unset; admin endpoints will refuse requests")
	}

	meHandlers := handlers.NewMeHandlers(authenticator, userService, orderService)
	orderHandlers := handlers.NewOrderHandlers(orderService)
	webhookHandlers := handlers.NewWebhookHandlers(orderService, cfg.Stripe.WebhookSecret,
		handlers.WithWebhookLogger(func(event string, fields map[string]any) {
			zFields := make([]zap.Field, 0, len(fields))
			for k, v := range fields {
				zFields = append(zFields, zap.Any(k, v))
			}
			logger.Named("webhooks").Info(event, zFields...)
		}),
	)
	adminHandlers := handlers.NewAdminHandlers(handlers.AdminDeps{
		Sessions:      adminSessions,
		Orders:        orderService,
		Catalog:       catalogService,
		Content:       contentService,
		Leads:         leadService,
		Searches:      searchService,
		Audit:         auditService,
		Archiver:      exportArchiver,
		ExportsBucket: cfg.Storage.ExportsBucket,
	})
	catalogHandlers := handlers.NewCatalogHandlers(catalogService)
	contentHandlers := handlers.NewContentHandlers(contentService)
	wishlistHandlers := handlers.NewWishlistHandlers(leadService)
	searchLogHandlers := handlers.NewSearchLogHandlers(searchService)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPublicRoutes(func(r chi.Router) {
			catalogHandlers.Routes(r)
			contentHandlers.Routes(r)
			wishlistHandlers.Routes(r)
			searchLogHandlers.Routes(r)
		}),
		handlers.WithMeRoutes(meHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderMiddlewares(authenticator.OptionalFirebaseAuth(), idempotencyMiddleware),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	}
	if checkoutService != nil {
		checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService)
		opts = append(opts,
			handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		)
	}

	router := handlers.NewRouter(opts...)
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
		serverLogger.Info("loomline api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// zapEventLogger adapts a zap logger to the event/fields logging contract the
// services use.
func zapEventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info(event, zFields...)
	}
}

// newPaymentManager builds the payment provider manager. It returns nil when
// no Stripe key is configured; cash-on-delivery checkout keeps working while
// card sessions and refunds report the provider as unavailable.
func newPaymentManager(logger *zap.Logger, cfg config.Config) *payments.Manager {
	apiKey := strings.TrimSpace(cfg.Stripe.SecretKey)
	if apiKey == "" {
		logger.Warn("STRIPE_SECRET_KEY unset; card checkout sessions are unavailable")
		return nil
	}

	paymentsLogger := logger.Named("payments")
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: apiKey,
		Logger: func(_ context.Context, event string, fields map[string]any) {
			zFields := make([]zap.Field, 0, len(fields))
			for k, v := range fields {
				zFields = append(zFields, zap.Any(k, v))
			}
			paymentsLogger.Debug(event, zFields...)
		},
		Clock: time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}

	manager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}
	return manager
}

type unavailableSessionCreator struct{}

func (unavailableSessionCreator) CreateCheckoutSession(context.Context, string, payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	return payments.CheckoutSession{}, errors.New("payments: no payment provider configured")
}

// newSlideSigner builds the signed-URL signer for hero slide uploads when a
// service account key is configured. A nil signer leaves the upload endpoint
// failing closed while the rest of the content surface works.
func newSlideSigner(ctx context.Context, logger *zap.Logger, fetcher *secrets.Fetcher, env map[string]string) services.SlideUploadSigner {
	raw := ""
	if env != nil {
		raw = strings.TrimSpace(env["STORAGE_SIGNER_KEY"])
	}
	if raw == "" {
		logger.Warn("STORAGE_SIGNER_KEY unset; slide upload URLs are unavailable")
		return nil
	}
	if fetcher != nil && (strings.HasPrefix(raw, "secret://") || strings.HasPrefix(raw, "sm://")) {
		resolved, err := fetcher.Resolve(ctx, raw)
		if err != nil {
			logger.Warn("failed to resolve storage signer key", zap.Error(err))
			return nil
		}
		raw = resolved
	}
	signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(raw))
	if err != nil {
		logger.Warn("failed to parse storage signer key", zap.Error(err))
		return nil
	}
	client, err := platformstorage.NewClient(signer)
	if err != nil {
		logger.Warn("failed to initialise signed url client", zap.Error(err))
		return nil
	}
	return client
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Logging.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSystemService(ctx context.Context, client *firestore.Client, fetcher *secrets.Fetcher, build services.BuildInfo) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok {
					switch st.Code() {
					case codes.NotFound:
						return nil
					}
				}
				return err
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
	})
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	projectMap := secretProjectMapFromEnv(env)
	defaultProject := lookup("SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("GOOGLE_CLOUD_PROJECT")
	}
	fallbackPath := lookup("SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	versionPins := secretVersionPinsFromEnv(env)
	credentialsFile := lookup("GOOGLE_APPLICATION_CREDENTIALS")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if len(versionPins) > 0 {
		opts = append(opts, secrets.WithVersionPins(versionPins))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["SECRET_PROJECT_IDS"]
	}
	raw = strings.TrimSpace(raw)
	projects := make(map[string]string)
	if raw == "" {
		return projects
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		envLabel := strings.ToLower(strings.TrimSpace(parts[0]))
		project := strings.TrimSpace(parts[1])
		if envLabel == "" || project == "" {
			continue
		}
		projects[envLabel] = project
	}
	return projects
}

func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["SECRET_VERSION_PINS"]
	}
	raw = strings.TrimSpace(raw)
	pins := make(map[string]string)
	if raw == "" {
		return pins
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		ref := strings.TrimSpace(parts[0])
		version := strings.TrimSpace(parts[1])
		if ref == "" || version == "" {
			continue
		}
		pins[ref] = version
	}
	return pins
}
