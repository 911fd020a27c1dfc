package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/makkenzo/license-issuer-api/internal/config"
	"github.com/makkenzo/license-issuer-api/internal/domain/apikey"
	"github.com/makkenzo/license-issuer-api/internal/domain/license"
	"github.com/makkenzo/license-issuer-api/internal/handler"
	"github.com/makkenzo/license-issuer-api/internal/handler/middleware"
	"github.com/makkenzo/license-issuer-api/internal/ierr"
	"github.com/makkenzo/license-issuer-api/internal/mailer"
	"github.com/makkenzo/license-issuer-api/internal/service"
	"github.com/makkenzo/license-issuer-api/internal/storage/catalog"
	"github.com/makkenzo/license-issuer-api/internal/storage/memstorage"
	"github.com/makkenzo/license-issuer-api/internal/storage/postgres"
	"github.com/makkenzo/license-issuer-api/internal/storage/redis"
	"github.com/makkenzo/license-issuer-api/internal/tasks"
	"github.com/makkenzo/license-issuer-api/internal/worker"
	"github.com/makkenzo/license-issuer-api/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "./configs/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewZapLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	sugarLogger := appLogger.Sugar()

	sugarLogger.Info("Starting application...")
	sugarLogger.Infof("Log level set to: %s", cfg.Log.Level)

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.NewRedisClient(appCtx, &cfg.Redis, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	healthDeps := map[string]handler.Pinger{
		"redis": handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
	}

	var (
		licenseRepo license.Repository
		apiKeyRepo  apikey.Repository
	)
	switch cfg.Database.Driver {
	case "memory":
		sugarLogger.Warn("Using in-memory storage, licenses are lost on restart")
		licenseRepo = memstorage.NewLicenseRepository()
		apiKeyRepo = memstorage.NewAPIKeyRepository()
	case "postgres":
		dbPool, err := postgres.NewPgxPool(appCtx, &cfg.Database, appLogger)
		if err != nil {
			sugarLogger.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		defer dbPool.Close()

		licenseRepo = postgres.NewLicenseRepository(dbPool, appLogger)
		apiKeyRepo = postgres.NewAPIKeyRepository(dbPool, appLogger)
		healthDeps["database"] = dbPool
	default:
		sugarLogger.Fatalf("Unknown database driver %q", cfg.Database.Driver)
	}

	productCatalog, err := catalog.Load(cfg.Catalog.Path, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to load product catalog: %v", err)
	}

	if cfg.Webhook.Secret == "" {
		sugarLogger.Warn("WEBHOOK_SECRET is not set, commerce webhooks will be rejected")
	}

	asynqClient := asynq.NewClient(worker.RedisConnOpt(&cfg.Redis))
	defer asynqClient.Close()

	deliveryEnqueuer := tasks.NewDeliveryEnqueuer(asynqClient, cfg.Worker.DeliveryMaxRetry, appLogger)
	mail := mailer.New(&cfg.Mail, appLogger)

	var serviceOpts []service.LicenseServiceOption
	if signer := service.NewActivationTokenSigner(cfg.Activation.TokenSecret, cfg.Activation.TokenIssuer); signer != nil {
		serviceOpts = append(serviceOpts, service.WithActivationTokens(signer))
	} else {
		sugarLogger.Info("Activation token secret not set, activations will not carry a signed token")
	}

	licenseService := service.NewLicenseService(licenseRepo, productCatalog, deliveryEnqueuer, appLogger, serviceOpts...)
	apiKeyService := service.NewAPIKeyService(apiKeyRepo, appLogger)

	var activationLimiter *middleware.IPRateLimiter
	if cfg.Activation.RateLimit > 0 {
		activationLimiter = middleware.NewIPRateLimiter(cfg.Activation.RateLimit, cfg.Activation.RateBurst)
	}

	router, err := setupRouter(cfg, appLogger, routerDeps{
		health:    handler.NewHealthHandler(healthDeps, appLogger),
		license:   handler.NewLicenseHandler(licenseService, appLogger),
		webhook:   handler.NewWebhookHandler(licenseService, redis.NewEventDeduplicator(redisClient, cfg.Webhook.DedupTTL, appLogger), appLogger),
		product:   handler.NewProductHandler(licenseService, appLogger),
		dashboard: handler.NewDashboardHandler(licenseService, appLogger),
		apiKey:    handler.NewAPIKeyHandler(apiKeyService, appLogger),
		apiKeys:   apiKeyRepo,

		activationLimiter: activationLimiter,
	})
	if err != nil {
		sugarLogger.Fatalf("Failed to set up router: %v", err)
	}

	g, groupCtx := errgroup.WithContext(appCtx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		sugarLogger.Infof("HTTP server listening on port %s", cfg.Server.Port)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugarLogger.Errorf("HTTP server ListenAndServe error: %v", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		sugarLogger.Info("HTTP server stopped listening.")
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		sugarLogger.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownPeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sugarLogger.Errorf("HTTP server graceful shutdown failed: %v", err)
			return fmt.Errorf("http server shutdown error: %w", err)
		}
		sugarLogger.Info("HTTP server shutdown complete.")
		return nil
	})

	g.Go(func() error {
		if err := worker.RunWorkers(groupCtx, cfg, licenseRepo, mail, deliveryEnqueuer, appLogger); err != nil {
			sugarLogger.Error("Asynq worker failed", zap.Error(err))
			return fmt.Errorf("asynq worker error: %w", err)
		}
		sugarLogger.Info("Asynq workers finished gracefully.")
		return nil
	})

	sugarLogger.Info("Application started. Waiting for interrupt signal (Ctrl+C) or component error...")

	waitErr := g.Wait()

	sugarLogger.Info("Shutdown sequence finished.")

	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		sugarLogger.Errorf("Application shutdown finished with unexpected error: %v", waitErr)
	} else {
		sugarLogger.Info("Application shutdown successfully.")
	}
}

type routerDeps struct {
	health    *handler.HealthHandler
	license   *handler.LicenseHandler
	webhook   *handler.WebhookHandler
	product   *handler.ProductHandler
	dashboard *handler.DashboardHandler
	apiKey    *handler.APIKeyHandler
	apiKeys   apikey.Repository

	activationLimiter *middleware.IPRateLimiter
}

func setupRouter(cfg *config.Config, appLogger *zap.Logger, deps routerDeps) (*gin.Engine, error) {
	router := gin.New()
	// Forwarding headers are only honoured from configured proxies; otherwise the
	// client IP used for rate limiting and usage tracking is the TCP peer.
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid server.trustedProxies: %w", err)
	}
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logMsg := "Panic recovered"
		if err, ok := recovered.(string); ok {
			logMsg = fmt.Sprintf("%s: %s", logMsg, err)
		} else if err, ok := recovered.(error); ok {
			logMsg = fmt.Sprintf("%s: %v", logMsg, err)
		}
		appLogger.Error(logMsg, zap.Stack("stack"))

		_ = c.Error(ierr.ErrInternalServer)
		c.Abort()
	}))

	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORS.AllowOrigins,
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"X-API-Key",
		},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.ErrorHandlerMiddleware(appLogger))

	router.GET("/healthz", deps.health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiKeyAuthMiddleware := middleware.APIKeyAuthMiddleware(deps.apiKeys, appLogger)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/webhooks/commerce",
			middleware.WebhookSignature(cfg.Webhook.Secret, cfg.Webhook.Tolerance, appLogger),
			deps.webhook.Commerce)

		licenseRoutes := apiV1.Group("/licenses")
		{
			licenseRoutes.POST("/activate", middleware.RateLimit(deps.activationLimiter, appLogger), deps.license.Activate)

			licenseRoutes.Use(apiKeyAuthMiddleware)

			licenseRoutes.GET("", deps.license.List)
			licenseRoutes.GET("/:id", deps.license.GetByID)
			licenseRoutes.PATCH("/:id/status", deps.license.UpdateStatus)
		}

		admin := apiV1.Group("")
		admin.Use(apiKeyAuthMiddleware)
		{
			admin.GET("/products", deps.product.List)
			admin.GET("/dashboard/summary", deps.dashboard.GetSummary)

			admin.GET("/apikeys", deps.apiKey.List)
			admin.POST("/apikeys", deps.apiKey.Create)
			admin.DELETE("/apikeys/:id", deps.apiKey.Revoke)
		}
	}

	return router, nil
}
