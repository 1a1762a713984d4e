package router

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"resizeme/internal/api/v1/handler"
	"resizeme/internal/config"
	"resizeme/internal/middleware"
	"resizeme/internal/migrations"
	"resizeme/internal/pubsub"
	"resizeme/internal/recent"
	"resizeme/internal/repository"
	"resizeme/internal/service"
	"resizeme/internal/storage"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// New builds every dependency and returns the HTTP handler. The returned
// cleanup releases the database pool and external clients.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (http.Handler, func(), error) {
	logger.Info().Str("environment", cfg.Environment).Msg("App environment loaded")

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (http.Handler, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// 1. Schema
	if cfg.AutoMigrate {
		if err := migrations.Up(cfg.DBConnectionString, logger); err != nil {
			return fail(err)
		}
	}

	// 2. Database pool
	pool, err := repository.NewPool(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, pool.Close)

	// 3. Secrets
	var secrets service.SecretManagerService
	if cfg.GCPProjectID != "" {
		secrets, err = service.NewSecretManagerService(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = secrets.Close() })
		if err := service.LoadGatewaySecrets(ctx, secrets, cfg); err != nil {
			return fail(err)
		}
	}
	if cfg.RazorpayKeySecret == "" || cfg.RazorpayWebhookSecret == "" {
		logger.Warn().Msg("Razorpay secrets are not configured; payment verification and webhooks will be rejected")
	}

	// 4. Billing events
	var publisher pubsub.Publisher = pubsub.NoopPublisher{}
	if cfg.PubSubBillingTopic != "" {
		p, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = p.Close() })
		publisher = p
	}
	billing := pubsub.NewBillingPublisher(publisher, cfg.PubSubBillingTopic)

	// 5. Recent uploads
	var recentStore recent.Store = recent.NewMemoryStore()
	if cfg.RedisAddr != "" {
		client, err := recent.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = client.Close() })
		recentStore = recent.NewRedisStore(client)
	}

	// 6. Repositories & services
	usageRepo := repository.NewUsageRepo(pool)
	subscriptionRepo := repository.NewSubscriptionRepo(pool)
	driveRepo := repository.NewDriveRepo(pool)
	savedFileRepo := repository.NewSavedFileRepo(pool)

	plans := service.NewPlanMap(cfg)
	gateway := service.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, plans, logger)
	verifier := service.NewSignatureVerifier(cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret)

	usageSvc := service.NewUsageService(usageRepo, recentStore, time.Now, logger)
	subscriptionSvc := service.NewSubscriptionService(subscriptionRepo, gateway, plans, verifier, billing, service.SubscriptionOptions{
		VerifyTimeout:     cfg.VerifyTimeout(),
		Currency:          cfg.Currency,
		TotalCountMonthly: cfg.RazorpayTotalCountMonthly,
		TotalCountYearly:  cfg.RazorpayTotalCountYearly,
	}, time.Now, logger)
	entitlementSvc := service.NewEntitlementService(subscriptionSvc, usageSvc, logger)

	var driveSvc service.DriveService
	if cfg.DriveEnabled() {
		tokens := service.NewDBTokenStore(driveRepo)
		if secrets != nil {
			tokens = service.NewSecretTokenStore(secrets, driveRepo)
		}
		oauthCfg := service.NewOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		driveSvc = service.NewDriveService(oauthCfg, service.NewGoogleDrive(), tokens, driveRepo, entitlementSvc, usageSvc, cfg.DriveFolderName, logger)
	} else {
		logger.Warn().Msg("Google OAuth is not configured; Drive endpoints are disabled")
	}

	var objects storage.ObjectStore
	if cfg.StorageEnabled() {
		s3Client, err := storage.NewS3Client(ctx, cfg)
		if err != nil {
			return fail(fmt.Errorf("initialize S3 client: %w", err))
		}
		objects = storage.NewS3Store(s3Client, cfg.S3Bucket)
	}
	fileSvc := service.NewFileService(savedFileRepo, objects, entitlementSvc, usageSvc, time.Now, logger)

	// 7. Handlers
	usageHandler := handler.NewUsageHandler(usageSvc, entitlementSvc, recentStore, logger)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionSvc, logger)
	fileHandler := handler.NewFileHandler(driveSvc, fileSvc, logger)

	// 8. Routing
	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret, logger)
	chiRouter, api := SetupHumaAPI(cfg, authMiddleware, subscriptionHandler, logger)
	RegisterRoutes(api, usageHandler, subscriptionHandler, fileHandler, logger)

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", chiRouter))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	// Redirect all other root-level requests to /v1/{path}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") || r.URL.Path == "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/v1"+r.URL.Path, http.StatusMovedPermanently)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger)(c.Handler(mux)), cleanup, nil
}
