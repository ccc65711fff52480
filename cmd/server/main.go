package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	billingapp "github.com/ledgerline/backend/internal/application/billing"
	"github.com/ledgerline/backend/internal/infrastructure/audit"
	"github.com/ledgerline/backend/internal/infrastructure/auth"
	"github.com/ledgerline/backend/internal/infrastructure/config"
	"github.com/ledgerline/backend/internal/infrastructure/logger"
	"github.com/ledgerline/backend/internal/infrastructure/persistence"
	"github.com/ledgerline/backend/internal/infrastructure/persistence/rls"
	"github.com/ledgerline/backend/internal/infrastructure/persistence/tenantguard"
	"github.com/ledgerline/backend/internal/infrastructure/startup"
	"github.com/ledgerline/backend/internal/infrastructure/telemetry"
	"github.com/ledgerline/backend/internal/interfaces/http/handler"
	"github.com/ledgerline/backend/internal/interfaces/http/middleware"
	"github.com/ledgerline/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting Ledgerline Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()

	// Initialize tracing
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Initialize database connection with zap-backed gorm logger
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, log, gormLogLevel)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Register query tracing on the gorm instance
	if cfg.Telemetry.Enabled {
		dbTracing := telemetry.NewDBTracingPlugin(telemetry.DefaultDBTracingConfig(), log)
		if err := dbTracing.RegisterOtelGorm(db.DB); err != nil {
			log.Warn("Failed to register database tracing", zap.Error(err))
		}
	}

	// Startup invariant checks run before anything touches the schema. A
	// failed check aborts the process; production never honors the relaxed
	// toggle.
	validator := startup.New(cfg, db.DB, log)
	result, err := validator.Run(ctx)
	if err != nil {
		log.Fatal("Startup validation failed", zap.Error(err))
	}
	log.Info("Startup validation passed",
		zap.String("state", string(result.State)),
		zap.Bool("relaxed", result.Relaxed),
	)

	// Audit recorder: Redis stream when configured, logs otherwise.
	auditRecorder := buildAuditRecorder(cfg, log)
	defer func() {
		if err := auditRecorder.Flush(ctx); err != nil {
			log.Error("Error flushing audit recorder", zap.Error(err))
		}
	}()

	// Application-layer tenant guard on every gorm query
	guard := tenantguard.New(tenantguard.DefaultTenantColumn, auditRecorder, log)
	if err := guard.Register(db.DB); err != nil {
		log.Fatal("Failed to register tenant guard", zap.Error(err))
	}

	// Database-layer row security policies
	rlsEngine, err := rls.NewEngine(db.DB, persistence.ScopedTables(), log)
	if err != nil {
		log.Fatal("Failed to build row security engine", zap.Error(err))
	}
	if cfg.App.IsProduction() {
		// Policies are installed by the migrate CLI; production only verifies.
		statuses, err := rlsEngine.Report(ctx)
		if err != nil {
			log.Fatal("Failed to audit row security posture", zap.Error(err))
		}
		for _, s := range statuses {
			if !s.Healthy() {
				log.Fatal("Table is missing row security configuration",
					zap.String("table", s.Table),
					zap.Bool("rls_enabled", s.RLSEnabled),
					zap.Bool("rls_forced", s.RLSForced),
					zap.Int("policies", len(s.Policies)),
				)
			}
		}
		log.Info("Row security posture verified", zap.Int("tables", len(statuses)))
	} else if err := rlsEngine.Apply(ctx); err != nil {
		log.Fatal("Failed to apply row security policies", zap.Error(err))
	}

	// Services
	jwtService := auth.NewJWTService(cfg.JWT)
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)
	sequenceRepo := persistence.NewGormSequenceRepository(db.DB)
	invoiceService := billingapp.NewInvoiceService(invoiceRepo, sequenceRepo)

	// Handlers
	invoiceHandler := handler.NewInvoiceHandler(invoiceService)
	systemHandler := handler.NewSystemHandler(db, rlsEngine, validator.State)

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware stack: request id, panic recovery, request logging,
	// security headers, CORS, body limit, tracing.
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	if cfg.Telemetry.Enabled {
		engine.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	}

	// Liveness and readiness outside API versioning
	engine.GET("/health", systemHandler.Health)
	engine.GET("/ready", systemHandler.Ready)

	r := router.NewRouter(engine,
		router.WithAPIVersion(cfg.API.ExpectedVersion),
		router.WithVersionHeader(cfg.API.VersionHeader),
		router.WithLogger(log),
	)

	// Authentication and tenant scope resolution on all versioned routes.
	// The tenant scope comes solely from token claims; headers and bodies
	// are never consulted.
	apiPrefix := "/api/" + cfg.API.ExpectedVersion
	r.Use(middleware.JWTAuthMiddlewareWithConfig(middleware.JWTMiddlewareConfig{
		JWTService: jwtService,
		SkipPaths: []string{
			apiPrefix + "/system/ping",
			apiPrefix + "/system/info",
		},
		Logger: log,
	}))
	r.Use(middleware.TenantResolver(log))

	rbacConfig := middleware.RBACConfig{
		Registry: result.Registry,
		Recorder: auditRecorder,
		Logger:   log,
	}
	r.Use(middleware.GovernedRoles(rbacConfig))

	// Billing domain
	billingRoutes := router.NewDomainGroup("billing", "/billing")
	billingRoutes.POST("/invoices", invoiceHandler.Create)
	billingRoutes.GET("/invoices", invoiceHandler.List)
	billingRoutes.GET("/invoices/:id", invoiceHandler.GetByID)
	billingRoutes.POST("/invoices/:id/issue", invoiceHandler.Issue)
	billingRoutes.POST("/invoices/:id/pay", invoiceHandler.Pay)
	billingRoutes.POST("/invoices/:id/void", invoiceHandler.Void)
	billingRoutes.DELETE("/invoices/:id", invoiceHandler.Delete)

	// Admin surface, restricted to the governed admin role
	adminRoutes := router.NewDomainGroup("admin", "/admin")
	adminRoutes.GET("/isolation", middleware.RequireRole(rbacConfig, "admin"), systemHandler.IsolationReport)

	// System surface
	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	systemRoutes.GET("/ping", systemHandler.Ping)

	r.Register(billingRoutes).
		Register(adminRoutes).
		Register(systemRoutes)
	r.Setup()

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

func buildAuditRecorder(cfg *config.Config, log *zap.Logger) audit.Recorder {
	zapRecorder := audit.NewZapRecorder(log)
	if cfg.Redis.Addr == "" {
		return zapRecorder
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	log.Info("Audit events streaming to Redis", zap.String("addr", cfg.Redis.Addr))
	return audit.MultiRecorder{zapRecorder, audit.NewRedisRecorder(client, log)}
}
