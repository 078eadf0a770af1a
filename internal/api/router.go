// Package api wires together all HTTP routes for the marketplace backend.
//
// Route grouping:
//   - Member routes (/api/v1/ outside /admin) are named and pass through the
//     fraud interceptor. The name feeds action-class inference, so renaming a
//     route can change how it is assessed.
//   - Admin routes (/api/v1/admin/) require an administrator and are never
//     assessed for fraud.
//   - /health, /ready and /version are unauthenticated.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/gigmarket/marketplace/internal/api/admin"
	"github.com/gigmarket/marketplace/internal/api/marketplace"
	"github.com/gigmarket/marketplace/internal/api/respond"
	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/config"
	"github.com/gigmarket/marketplace/internal/crypto"
	"github.com/gigmarket/marketplace/internal/db/repositories"
	"github.com/gigmarket/marketplace/internal/fraud"
	"github.com/gigmarket/marketplace/internal/jobs"
	"github.com/gigmarket/marketplace/internal/middleware"
	"github.com/gigmarket/marketplace/internal/safego"
	"github.com/gigmarket/marketplace/internal/storage"

	// Import storage backends to register them
	_ "github.com/gigmarket/marketplace/internal/storage/azure"
	_ "github.com/gigmarket/marketplace/internal/storage/gcs"
	_ "github.com/gigmarket/marketplace/internal/storage/local"
	_ "github.com/gigmarket/marketplace/internal/storage/s3"
)

// Version is reported by /version and the version subcommand.
const Version = "0.1.0"

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	chainVerifier *jobs.AuditChainVerifier
	rateLimiters  []*middleware.RateLimiter
	shipper       *audit.MultiShipper
	redis         *redis.Client
	detector      *fraud.Detector
}

// ApplyFraudConfig swaps the detector policy. Passed to config.Watch so edits
// to the fraud section take effect without a restart.
func (bg *BackgroundServices) ApplyFraudConfig(fc config.FraudConfig) {
	if bg.detector == nil {
		return
	}
	bg.detector.SetPolicy(fraud.PolicyFromConfig(fc))
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.chainVerifier != nil {
		bg.chainVerifier.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Error("failed to close audit shippers", "error", err)
		}
	}
	if bg.redis != nil {
		if err := bg.redis.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	storageBackend, err := storage.NewStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}
	slog.Info("initialized storage backend", "backend", cfg.Storage.DefaultBackend)

	// Repositories
	sqlxDB := sqlx.NewDb(db, "postgres")
	userRepo := repositories.NewUserRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	alertRepo := repositories.NewFraudAlertRepository(db)
	caseRepo := repositories.NewFraudCaseRepository(sqlxDB)
	signalRepo := repositories.NewSignalRepository(sqlxDB)
	docCipher, err := crypto.NewCipherFromBase64(cfg.Security.DocumentKey)
	if err != nil {
		log.Fatalf("Failed to initialize document cipher: %v", err)
	}
	var verificationRepo *repositories.VerificationRepository
	if docCipher != nil {
		verificationRepo = repositories.NewVerificationRepository(sqlxDB, docCipher)
	} else {
		slog.Warn("security.document_key is not set; identity document references are stored unencrypted")
		verificationRepo = repositories.NewVerificationRepository(sqlxDB, nil)
	}

	// Audit log
	shipper, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		log.Fatalf("Failed to initialize audit shippers: %v", err)
	}
	bg.shipper = shipper
	auditLogger := audit.NewLogger(db, auditRepo, shipper)
	exporter := audit.NewExporter(auditRepo, storageBackend, cfg.Audit.ExportURLTTL)

	if verifier := jobs.NewAuditChainVerifier(auditLogger, cfg.Audit.ChainVerifyIntervalMinutes); verifier != nil {
		bg.chainVerifier = verifier
		safego.Go("jobs.audit_chain_verifier", func() { verifier.Start(context.Background()) })
	}

	// Fraud detection
	alertManager := fraud.NewAlertManager(alertRepo, caseRepo, auditLogger)
	caseManager := fraud.NewCaseManager(caseRepo, alertRepo, auditLogger)
	detector := fraud.NewDetector(signalRepo, alertManager, auditLogger, fraud.PolicyFromConfig(cfg.Fraud))
	bg.detector = detector

	// Rate limiters. Redis shares the budget across replicas.
	generalCfg := middleware.DefaultRateLimitConfig()
	if rl := cfg.Security.RateLimiting; rl.RequestsPerMinute > 0 {
		generalCfg.RequestsPerMinute = rl.RequestsPerMinute
		if rl.Burst > 0 {
			generalCfg.BurstSize = rl.Burst
		}
	}
	authCfg := middleware.AuthRateLimitConfig()

	var generalLimiter, authLimiter middleware.Limiter
	if cfg.Redis.Enabled {
		bg.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		generalLimiter = middleware.NewRedisLimiter(bg.redis, generalCfg, "ratelimit:general:")
		authLimiter = middleware.NewRedisLimiter(bg.redis, authCfg, "ratelimit:auth:")
		slog.Info("rate limiting backed by redis", "addr", cfg.Redis.Addr)
	} else {
		general := middleware.NewRateLimiter(generalCfg)
		auth := middleware.NewRateLimiter(authCfg)
		bg.rateLimiters = append(bg.rateLimiters, general, auth)
		generalLimiter, authLimiter = general, auth
	}

	// Handlers
	memberHandlers := marketplace.NewHandlers(cfg, sqlxDB, verificationRepo, auditLogger)
	alertHandlers := admin.NewAlertHandlers(alertManager)
	caseHandlers := admin.NewCaseHandlers(caseManager)
	verificationHandlers := admin.NewVerificationHandlers(verificationRepo, auditLogger)
	auditHandlers := admin.NewAuditHandlers(auditRepo, auditLogger, exporter)
	statsHandler := admin.NewStatsHandler(sqlxDB)
	userHandlers := admin.NewUserHandlers(db, alertManager)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.DefaultSecurityHeadersConfig(cfg.Security.TLS)))
	router.Use(respond.DebugMode(cfg.Server.Debug))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, storageBackend))
	router.GET("/version", versionHandler())

	apiV1 := router.Group("/api/v1")
	if cfg.Security.RateLimiting.Enabled {
		apiV1.Use(middleware.RateLimitMiddleware(generalLimiter))
	}

	// assess names a route and puts the fraud interceptor in front of h
	assess := func(name string, h gin.HandlerFunc) []gin.HandlerFunc {
		return []gin.HandlerFunc{middleware.Named(name), middleware.FraudMiddleware(detector), h}
	}

	// Public account endpoints. Login is assessed when the caller already
	// holds a token, which is how account-takeover attempts show up.
	authGroup := apiV1.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware(authLimiter))
	{
		authGroup.POST("/register", middleware.Named("auth.register"), memberHandlers.Register)
		authGroup.POST("/login", middleware.OptionalAuthMiddleware(userRepo),
			middleware.Named("auth.login"), middleware.FraudMiddleware(detector), memberHandlers.Login)
	}

	member := apiV1.Group("")
	member.Use(middleware.AuthMiddleware(userRepo))
	{
		member.GET("/me", assess("me.show", memberHandlers.Me)...)
		member.PUT("/profile", assess("profile.update", memberHandlers.UpdateProfile)...)
		member.POST("/projects", assess("projects.create", memberHandlers.CreateProject)...)
		member.POST("/projects/:id/bids", assess("bids.create", memberHandlers.CreateBid)...)
		member.POST("/payments", assess("payments.create", memberHandlers.CreatePayment)...)
		member.POST("/messages", assess("messages.create", memberHandlers.CreateMessage)...)
		member.POST("/verifications", assess("verifications.create", memberHandlers.SubmitVerification)...)
	}

	adminGroup := apiV1.Group("/admin")
	adminGroup.Use(middleware.AuthMiddleware(userRepo), middleware.RequireAdmin())
	{
		adminGroup.GET("/stats/dashboard", statsHandler.GetDashboardStats)

		adminGroup.GET("/users", userHandlers.ListUsersHandler())
		adminGroup.GET("/users/:id", userHandlers.GetUserHandler())

		adminGroup.GET("/alerts", alertHandlers.List)
		adminGroup.POST("/alerts", alertHandlers.Create)
		adminGroup.GET("/alerts/:id", alertHandlers.Get)
		adminGroup.POST("/alerts/:id/resolve", alertHandlers.Resolve)
		adminGroup.POST("/alerts/:id/dismiss", alertHandlers.Dismiss)

		adminGroup.GET("/cases", caseHandlers.List)
		adminGroup.POST("/cases", caseHandlers.Open)
		adminGroup.GET("/cases/:id", caseHandlers.Get)
		adminGroup.POST("/cases/:id/alerts", caseHandlers.LinkAlert)
		adminGroup.POST("/cases/:id/status", caseHandlers.Update)
		adminGroup.POST("/cases/:id/close", caseHandlers.Close)

		adminGroup.GET("/verifications", verificationHandlers.List)
		adminGroup.POST("/verifications/:id/approve", verificationHandlers.Approve)
		adminGroup.POST("/verifications/:id/reject", verificationHandlers.Reject)

		adminGroup.GET("/audit-logs", auditHandlers.List)
		adminGroup.GET("/audit-logs/verify", auditHandlers.VerifyChain)
		adminGroup.POST("/audit-logs/exports", auditHandlers.Export)
		adminGroup.GET("/audit-logs/:id", auditHandlers.Get)
		adminGroup.GET("/audit-logs/:id/verify", auditHandlers.VerifyEntry)
	}

	return router, bg
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler also probes the export storage backend, so the readiness
// gate fails when audit exports would error.
func readinessHandler(db *sql.DB, storageBackend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Exists on an absent path exercises auth and connectivity without creating state.
		if _, err := storageBackend.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logRequest(c, time.Since(start), path, query)
	}
}

// logRequest emits one slog record per request. The output format follows the
// global handler configured by telemetry.SetupLogger.
func logRequest(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	attrs := []slog.Attr{
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	}
	if name := c.GetString(middleware.RouteNameKey); name != "" {
		attrs = append(attrs, slog.String("route", name))
	}
	level := slog.LevelInfo
	if c.Writer.Status() >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.LogAttrs(c.Request.Context(), level, "http request", attrs...)
}
