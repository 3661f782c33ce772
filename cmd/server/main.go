package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"gorm.io/gorm"

	"github.com/snaprepair/backend/internal/config"
	"github.com/snaprepair/backend/internal/db"
	"github.com/snaprepair/backend/internal/logger"
	"github.com/snaprepair/backend/internal/metrics"
	"github.com/snaprepair/backend/internal/middleware"
	"github.com/snaprepair/backend/internal/notify"
	"github.com/snaprepair/backend/internal/routes"
	"github.com/snaprepair/backend/internal/services"
	"github.com/snaprepair/backend/internal/store"
)

func main() {
	// Initialize logger first
	logger.Initialize()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	// Connect to database
	conn, err := db.Connect(cfg.DSN())
	if err != nil {
		logger.Fatal("Database connection failed", map[string]interface{}{"error": err.Error()})
	}
	if err := db.AutoMigrate(conn); err != nil {
		logger.Fatal("Database migration failed", map[string]interface{}{"error": err.Error()})
	}
	stores := store.NewGormStores(conn)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	hub := notify.NewHub(notify.HubOptions{})
	publisher, closeNotify := setupNotify(ctx, cfg, hub, stores)
	defer closeNotify()

	deps := services.IssueServiceDeps{
		Stores:    stores,
		Publisher: publisher,
		Payments:  setupPayments(cfg),
		Guard:     setupGuard(ctx, cfg),
	}

	var llmCalls *services.LLMService
	if cfg.LLMAPIKey != "" {
		llmCalls = services.NewLLMService(services.LLMConfig{
			BaseURL:     cfg.LLMBaseURL,
			APIKey:      cfg.LLMAPIKey,
			VisionModel: cfg.VisionModel,
			ChatModel:   cfg.ChatModel,
		})
		deps.Diagnoser = llmCalls
		deps.Responder = llmCalls
		deps.Detector = llmCalls
	} else {
		logger.Warn("LLM_API_KEY not set, diagnosis and assistant replies are disabled", nil)
	}

	issues := services.NewIssueService(deps, services.IssueServiceConfig{
		DiagnoseTimeout:        cfg.DiagnoseTimeout,
		ChatTimeout:            cfg.ChatTimeout,
		ConsultationPriceMinor: cfg.ConsultationPriceMinor,
		Currency:               cfg.Currency,
		PaymentLockTTL:         cfg.PaymentLockTTL,
	})

	reconciler := services.NewPaymentReconciler(stores.Payments, cfg.PendingPaymentMaxAge)
	if err := reconciler.Start(cfg.ReconcileSchedule); err != nil {
		logger.Fatal("Failed to start payment reconciler", map[string]interface{}{"error": err.Error()})
	}
	defer reconciler.Stop()

	// Set Gin mode
	if cfg.IsProduction() || os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create router without default middleware
	r := gin.New()

	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	// Use our custom logging middleware instead of gin.Default()
	r.Use(middleware.CustomLoggerMiddleware())
	r.Use(gin.Recovery())

	r.GET("/health", healthHandler(conn))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	routeDeps := routes.Deps{
		Stores:       stores,
		Tokens:       middleware.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL),
		Issues:       issues,
		Feedback:     services.NewFeedbackService(stores.Feedback),
		Hub:          hub,
		PollInterval: cfg.PollInterval,
	}
	if llmCalls != nil {
		routeDeps.LLMCalls = llmCalls
	}
	routes.SetupRoutes(r, routeDeps)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowCredentials: true,
		AllowedHeaders:   []string{"Origin", "Content-Type", "Authorization"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		MaxAge:           86400,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: corsHandler.Handler(r),
	}

	logger.Info("Starting SnapRepair backend server", map[string]interface{}{
		"port":        cfg.Port,
		"gin_mode":    gin.Mode(),
		"notify_mode": cfg.NotifyMode,
	})

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("Shutting down server gracefully...", nil)

	// Create a context with timeout for graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		logger.Info("Server exited gracefully", nil)
	}
}

// setupNotify wires how lifecycle events reach the local hub. It returns the
// publisher the issue service writes to and a cleanup func.
func setupNotify(ctx context.Context, cfg *config.Config, hub *notify.Hub, stores *store.Stores) (notify.Publisher, func()) {
	switch cfg.NotifyMode {
	case config.NotifyNATS:
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("snaprepair-backend"))
		if err != nil {
			logger.Fatal("Failed to connect to NATS", map[string]interface{}{"error": err.Error()})
		}
		bridge := notify.NewNATSBridge(nc, hub, uuid.NewString())
		if err := bridge.Start(); err != nil {
			logger.Fatal("Failed to start NATS bridge", map[string]interface{}{"error": err.Error()})
		}
		return notify.Fanout{hub, bridge}, func() {
			if err := bridge.Stop(); err != nil {
				logger.WithError(err, "notify").Warn("Failed to stop NATS bridge")
			}
			nc.Close()
		}

	case config.NotifyPostgres:
		// the database trigger is the only source, so the service publishes nothing
		listener := notify.NewPGListener(cfg.DSN(), hub, stores.Messages, stores.Issues)
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err, "notify").Error("Postgres listener stopped")
			}
		}()
		return notify.Discard{}, func() {}
	}

	return hub, func() {}
}

func setupPayments(cfg *config.Config) services.PaymentProvider {
	if cfg.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set, using mock payment provider", nil)
		return services.NewMockPaymentProvider()
	}
	return services.NewStripePaymentProvider(cfg.StripeSecretKey, cfg.StripePaymentMethod)
}

func setupGuard(ctx context.Context, cfg *config.Config) services.IdempotencyGuard {
	if cfg.RedisURL == "" {
		return services.NewMemoryGuard()
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("Invalid REDIS_URL", map[string]interface{}{"error": err.Error()})
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("Redis payment guard enabled", nil)
	return services.NewRedisGuard(client)
}

func healthHandler(conn *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connectivity
		dbStatus := "ok"
		var dbError string
		if err := db.Ping(conn); err != nil {
			dbStatus = "error"
			dbError = err.Error()
		}

		// Determine overall health
		overallStatus := "ok"
		statusCode := http.StatusOK
		if dbStatus != "ok" {
			overallStatus = "error"
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    overallStatus,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   "1.0.0",
			"services": gin.H{
				"database": gin.H{
					"status": dbStatus,
					"error":  dbError,
				},
			},
		})
	}
}
