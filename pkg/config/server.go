package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/artforge-ai/artforge-api/internal/api"
	"github.com/artforge-ai/artforge-api/internal/config"
	"github.com/artforge-ai/artforge-api/internal/services/analytics"
	"github.com/artforge-ai/artforge-api/internal/services/auth"
	"github.com/artforge-ai/artforge-api/internal/services/billing"
	"github.com/artforge-ai/artforge-api/internal/services/compute"
	"github.com/artforge-ai/artforge-api/internal/services/database"
	"github.com/artforge-ai/artforge-api/internal/services/generation"
	"github.com/artforge-ai/artforge-api/internal/services/ledger"
	"github.com/artforge-ai/artforge-api/internal/services/middleware"
	"github.com/artforge-ai/artforge-api/internal/services/notify"
	"github.com/artforge-ai/artforge-api/internal/services/promo"
	"github.com/artforge-ai/artforge-api/internal/services/storage"
	"github.com/artforge-ai/artforge-api/pkg/builder"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/redis/go-redis/v9"
)

// Server represents an ArtForge API server instance.
type Server struct {
	config  *config.Config
	app     *fiber.App
	redis   *redis.Client
	db      *database.DB
	builder *builder.Builder

	// background components stopped during shutdown
	notifier  *notify.Service
	recorder  *analytics.Recorder
	worker    *compute.Worker
	scheduler *compute.Scheduler
}

// NewServer creates a new Server instance with the given configuration.
// The cfg parameter is required and must not be nil.
// For middleware control, use NewServerWithBuilder.
func NewServer(cfg *config.Config) *Server {
	if cfg == nil {
		panic("config cannot be nil - use config.LoadFromFile() or the config builder to create config")
	}

	return &Server{config: cfg}
}

// NewServerWithBuilder creates a new Server instance from a configuration
// builder, which allows custom middlewares, rate limits and timeouts.
func NewServerWithBuilder(b *builder.Builder) *Server {
	return &Server{
		config:  b.Build(),
		builder: b,
	}
}

// Run starts the API server and blocks until shutdown.
func (s *Server) Run() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogLevel(s.config)

	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}
	listenAddr := ":" + port

	s.app = createFiberApp(s.config)

	// === Infrastructure Setup ===
	redisClient, err := createRedisClient(s.config)
	if err != nil {
		return fmt.Errorf("failed to create Redis client: %w", err)
	}
	s.redis = redisClient

	db, err := database.New(*s.config.Database)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	s.db = db
	fiberlog.Infof("Database (%s) initialized successfully", db.DriverName())

	if s.redis != nil {
		defer func() {
			if err := s.redis.Close(); err != nil {
				fiberlog.Errorf("Failed to close Redis client: %v", err)
			}
		}()
	}
	defer func() {
		if err := s.db.Close(); err != nil {
			fiberlog.Errorf("Failed to close database connection: %v", err)
		}
	}()

	// === Middleware Setup ===
	setupMiddleware(s.app, s.config, s.builder)

	// === Services and Routes ===
	if err := s.setupRoutes(); err != nil {
		return fmt.Errorf("failed to setup routes: %w", err)
	}

	s.app.Get("/", welcomeHandler())

	fmt.Printf("ArtForge API starting on %s\n", listenAddr)
	fmt.Printf("   Environment: %s\n", s.config.Server.Environment)
	fmt.Printf("   Go version: %s\n", runtime.Version())
	fmt.Printf("   GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if s.scheduler != nil {
		go s.scheduler.Start(ctx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := s.app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case sig := <-sigChan:
		fiberlog.Infof("Received signal: %v. Starting graceful shutdown...", sig)
	case err := <-serverErrChan:
		s.stopBackground()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		fiberlog.Info("Context cancelled, starting shutdown...")
	}

	fiberlog.Info("Server shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	shutdownErrChan := make(chan error, 1)
	go func() {
		shutdownErrChan <- s.app.ShutdownWithTimeout(30 * time.Second)
	}()

	select {
	case err := <-shutdownErrChan:
		if err != nil {
			s.stopBackground()
			return fmt.Errorf("shutdown error: %w", err)
		}
		fiberlog.Info("Server shutdown completed successfully")
	case <-shutdownCtx.Done():
		s.stopBackground()
		return fmt.Errorf("shutdown timeout exceeded")
	}

	s.stopBackground()
	return nil
}

// stopBackground stops the reconcile loop before the poll workers so no new
// polls land in a closed pool, then drains the async recorders.
func (s *Server) stopBackground() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.recorder != nil {
		s.recorder.Stop()
	}
	if s.notifier != nil {
		if err := s.notifier.Close(); err != nil {
			fiberlog.Errorf("Failed to close notifier: %v", err)
		}
	}
}

func createFiberApp(cfg *config.Config) *fiber.App {
	isProd := cfg.IsProduction()

	return fiber.New(fiber.Config{
		AppName:              "ArtForge API v1.0",
		EnablePrintRoutes:    !isProd,
		ReadTimeout:          2 * time.Minute,
		WriteTimeout:         2 * time.Minute,
		IdleTimeout:          5 * time.Minute,
		ReadBufferSize:       8192,
		WriteBufferSize:      8192,
		CompressedFileSuffix: ".gz",
		Prefork:              false,
		CaseSensitive:        true,
		StrictRouting:        false,
		Network:              "tcp",
		ServerHeader:         "ArtForge",
	})
}

func setupMiddleware(app *fiber.App, cfg *config.Config, b *builder.Builder) {
	isProd := cfg.IsProduction()
	allowedOrigins := cfg.Server.AllowedOrigins
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}

	// Recover middleware (must be first)
	app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	// Rate limiter (use builder config if available, otherwise use defaults)
	if b != nil && b.GetRateLimitConfig() != nil {
		rlCfg := b.GetRateLimitConfig()
		keyFunc := rlCfg.KeyFunc
		if keyFunc == nil {
			keyFunc = func(c *fiber.Ctx) string {
				return c.IP()
			}
		}
		app.Use(limiter.New(limiter.Config{
			Max:               rlCfg.Max,
			Expiration:        rlCfg.Expiration,
			LimiterMiddleware: limiter.SlidingWindow{},
			KeyGenerator:      keyFunc,
			LimitReached: func(c *fiber.Ctx) error {
				return fmt.Errorf("%d requests per %v", rlCfg.Max, rlCfg.Expiration)
			},
		}))
	} else {
		app.Use(limiter.New(limiter.Config{
			Max:               600,
			Expiration:        1 * time.Minute,
			LimiterMiddleware: limiter.SlidingWindow{},
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return fmt.Errorf("600 requests per minute")
			},
		}))
	}

	// Request timeout middleware (use builder config if available)
	if b != nil && b.GetTimeoutConfig() != nil {
		timeoutDuration := b.GetTimeoutConfig().Timeout
		app.Use(func(c *fiber.Ctx) error {
			handler := func(c *fiber.Ctx) error {
				return c.Next()
			}
			return timeout.NewWithContext(handler, timeoutDuration)(c)
		})
	} else {
		app.Use(func(c *fiber.Ctx) error {
			const (
				defaultTimeout = 30 * time.Second
				maxTimeout     = 2 * time.Minute
			)

			timeout := defaultTimeout
			if customTimeout := c.Get("X-Request-Timeout"); customTimeout != "" {
				if d, err := time.ParseDuration(customTimeout); err == nil && d > 0 {
					timeout = min(d, maxTimeout)
				}
			}

			ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
			defer cancel()
			c.SetUserContext(ctx)

			return c.Next()
		})
	}

	// Compression
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// Logging
	if isProd {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${bytesSent}b\n",
			Output: os.Stdout,
		}))
	} else {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
			Output: os.Stdout,
		}))
	}

	// CORS
	allAllowedHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization", "User-Agent",
		"X-Request-ID", "X-Request-Timeout",
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowHeaders:     strings.Join(allAllowedHeaders, ", "),
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: allowedOrigins != "*",
		MaxAge:           86400,
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
	}))

	// Custom middlewares from builder
	if b != nil {
		for _, m := range b.GetMiddlewares() {
			app.Use(m)
		}
	}

	// Profiler (dev only)
	if !isProd {
		app.Use(pprof.New())
	}
}

func setupLogLevel(cfg *config.Config) {
	logLevel := cfg.GetNormalizedLogLevel()

	switch logLevel {
	case "trace":
		fiberlog.SetLevel(fiberlog.LevelTrace)
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "info":
		fiberlog.SetLevel(fiberlog.LevelInfo)
	case "warn", "warning":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	case "fatal":
		fiberlog.SetLevel(fiberlog.LevelFatal)
	case "panic":
		fiberlog.SetLevel(fiberlog.LevelPanic)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
		if logLevel != "" {
			fiberlog.Warnf("Unknown log level '%s', defaulting to 'info'", logLevel)
		}
	}
}

func createRedisClient(cfg *config.Config) (*redis.Client, error) {
	redisURL := cfg.Server.RedisURL

	if redisURL == "" {
		fiberlog.Info("Redis not configured - circuit breakers disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.ConnMaxLifetime = 30 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond

	client := redis.NewClient(opt)

	return testRedisConnectionWithRetry(client)
}

func testRedisConnectionWithRetry(client *redis.Client) (*redis.Client, error) {
	const maxAttempts = 3
	const baseDelay = 1 * time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()

		if err == nil {
			fiberlog.Infof("Redis connection established successfully (attempt %d/%d)", attempt, maxAttempts)
			return client, nil
		}

		fiberlog.Warnf("Redis connection failed (attempt %d/%d): %v", attempt, maxAttempts, err)

		if attempt < maxAttempts {
			delay := time.Duration(attempt) * baseDelay
			fiberlog.Infof("Retrying Redis connection in %v...", delay)
			time.Sleep(delay)
		}
	}

	if err := client.Close(); err != nil {
		fiberlog.Errorf("Failed to close Redis client after connection failures: %v", err)
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts", maxAttempts)
}

func (s *Server) setupRoutes() error {
	cfg := s.config
	app := s.app

	// Ledger and pricing are the core; everything else hangs off them.
	ledgerSvc := ledger.NewService(s.db.DB)
	if err := ledgerSvc.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to migrate ledger tables: %w", err)
	}
	pricing := ledger.NewPricingTable(cfg.Pricing)

	promoSvc := promo.NewService(s.db.DB, ledgerSvc)
	if err := promoSvc.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to migrate promo tables: %w", err)
	}

	// Notification sinks are optional and best-effort. A sink that fails to
	// connect is logged and skipped, never fatal.
	var publisher *notify.Publisher
	var alerter *notify.Alerter
	if cfg.Notify != nil {
		if cfg.Notify.AMQP != nil {
			p, err := notify.NewPublisher(*cfg.Notify.AMQP)
			if err != nil {
				fiberlog.Errorf("AMQP publisher unavailable: %v", err)
			} else {
				publisher = p
			}
		}
		if cfg.Notify.Telegram != nil {
			a, err := notify.NewAlerter(*cfg.Notify.Telegram)
			if err != nil {
				fiberlog.Errorf("Telegram alerter unavailable: %v", err)
			} else {
				alerter = a
			}
		}
	}
	notifier := notify.NewService(publisher, alerter)
	s.notifier = notifier

	// Analytics events go to a dedicated store (typically ClickHouse) when
	// configured, otherwise to the main database.
	analyticsDB := s.db.DB
	if cfg.Analytics != nil {
		adb, err := database.New(*cfg.Analytics)
		if err != nil {
			return fmt.Errorf("failed to create analytics database connection: %w", err)
		}
		analyticsDB = adb.DB
		fiberlog.Infof("Analytics database (%s) initialized successfully", adb.DriverName())
	}
	recorder := analytics.NewRecorder(analyticsDB, 0, 0)
	if err := recorder.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to migrate analytics tables: %w", err)
	}
	s.recorder = recorder

	var store *storage.Store
	if cfg.Storage != nil {
		st, err := storage.NewStore(*cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to initialize object store: %w", err)
		}
		store = st
	}

	// Auth
	authProvider := auth.NewClerkAuthProvider(cfg.Auth.ClerkConfig.SecretKey)
	authMiddleware := middleware.NewAuthMiddleware(authProvider, ledgerSvc, middleware.DefaultAuthMiddlewareConfig())

	// Health check endpoint (always enabled)
	healthHandler := api.NewHealthHandler(s.db, s.redis)
	app.Get("/health", healthHandler.HealthCheck)

	// Webhooks are registered outside the authenticated group. Each handler
	// does its own signature verification.
	var signupBonus int64
	if cfg.Billing != nil {
		signupBonus = cfg.Billing.SignupBonusTokens
	}
	clerkWebhookHandler := api.NewClerkWebhookHandler(cfg.Auth.ClerkConfig.WebhookSecret, ledgerSvc, signupBonus)
	app.Post("/webhooks/clerk", clerkWebhookHandler.HandleWebhook)

	v1 := app.Group("/v1")
	v1.Use(authMiddleware.RequireAuth())

	accountHandler := api.NewAccountHandler(ledgerSvc)
	v1.Get("/account/balance", accountHandler.GetBalance)
	v1.Get("/account/transactions", accountHandler.GetTransactionHistory)
	v1.Get("/packages", accountHandler.ListPackages)

	promoHandler := api.NewPromoHandler(promoSvc)
	v1.Post("/promo/redeem", promoHandler.RedeemPromo)

	// Generation pipeline (compute provider, jobs, assets)
	if cfg.Compute != nil {
		computeClient := compute.NewClient(*cfg.Compute, s.redis)
		healthHandler.SetComputeClient(computeClient)
		reconciler := compute.NewReconciler(s.db.DB, ledgerSvc, computeClient, store, recorder, notifier, cfg.Compute.RefundOnFailure)
		if err := reconciler.AutoMigrate(); err != nil {
			return fmt.Errorf("failed to migrate job tables: %w", err)
		}
		clerkWebhookHandler.SetReconciler(reconciler)

		worker := compute.NewWorker(computeClient, reconciler, cfg.Compute.PollWorkers, 0)
		s.worker = worker
		s.scheduler = compute.NewScheduler(reconciler, worker, time.Duration(cfg.Compute.PollIntervalSec)*time.Second)

		generationSvc := generation.NewService(ledgerSvc, pricing, computeClient, reconciler, notifier)
		generationHandler := api.NewGenerationHandler(generationSvc)
		v1.Post("/generations", generationHandler.CreateGeneration)
		v1.Post("/generations/quote", generationHandler.QuoteGeneration)

		jobsHandler := api.NewJobsHandler(reconciler, cfg.Compute.WebhookSecret)
		v1.Get("/jobs", jobsHandler.ListJobs)
		v1.Get("/jobs/:id", jobsHandler.GetJob)
		v1.Get("/jobs/:id/events", jobsHandler.StreamJobEvents)
		app.Post("/webhooks/compute", jobsHandler.HandleComputeWebhook)

		assetsHandler := api.NewAssetsHandler(reconciler)
		v1.Get("/assets", assetsHandler.ListAssets)
	}

	// Billing (payment gateway orders and Stripe checkout)
	if cfg.Billing != nil {
		if cfg.Billing.Gateway != nil {
			gateway := billing.NewGatewayClient(*cfg.Billing.Gateway, s.redis)
			billingSvc := billing.NewService(s.db.DB, ledgerSvc, gateway, notifier)
			if err := billingSvc.AutoMigrate(); err != nil {
				return fmt.Errorf("failed to migrate order tables: %w", err)
			}

			paymentsHandler := api.NewPaymentsHandler(billingSvc)
			v1.Post("/orders", paymentsHandler.CreateOrder)
			v1.Get("/orders/:id", paymentsHandler.GetOrder)
			app.Post("/webhooks/payments", paymentsHandler.HandlePaymentWebhook)
		}

		if cfg.Billing.Stripe != nil && cfg.Billing.Stripe.SecretKey != "" {
			stripeSvc := billing.NewStripeService(*cfg.Billing.Stripe, s.db.DB, ledgerSvc)
			stripeHandler := api.NewStripeHandler(stripeSvc)
			v1.Post("/stripe/checkout-session", stripeHandler.CreateCheckoutSession)
			app.Post("/webhooks/stripe", stripeHandler.HandleStripeWebhook)
		}
	}

	// Admin surface
	adminHandler := api.NewAdminHandler(ledgerSvc, promoSvc)
	adminGroup := v1.Group("/admin")
	adminGroup.Use(authMiddleware.RequireAdmin())
	adminGroup.Post("/credits", adminHandler.GrantCredits)
	adminGroup.Post("/promos", adminHandler.CreatePromo)
	adminGroup.Get("/promos", adminHandler.ListPromos)
	adminGroup.Post("/packages", adminHandler.CreatePackage)
	adminGroup.Post("/subscription", adminHandler.SetSubscription)

	return nil
}

func welcomeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message":    "Welcome to ArtForge!",
			"version":    "1.0.0",
			"go_version": runtime.Version(),
			"status":     "running",
			"endpoints": fiber.Map{
				"generations": "/v1/generations",
				"jobs":        "/v1/jobs",
				"balance":     "/v1/account/balance",
				"packages":    "/v1/packages",
				"health":      "/health",
			},
		})
	}
}
