// Package main is the entry point for the marketplace server binary.
// It dispatches its subcommands (serve, migrate, verify-audit, verify-export,
// version) via a simple switch on os.Args so the binary's full CLI surface is
// readable in one place. The serve command runs auto-migration on startup so
// freshly deployed containers never need a separate migration step.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- served only on the dedicated profiling port, never on the Gin listener
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gigmarket/marketplace/internal/api"
	"github.com/gigmarket/marketplace/internal/audit"
	"github.com/gigmarket/marketplace/internal/auth"
	"github.com/gigmarket/marketplace/internal/config"
	"github.com/gigmarket/marketplace/internal/db"
	"github.com/gigmarket/marketplace/internal/db/repositories"
	"github.com/gigmarket/marketplace/internal/storage"
	"github.com/gigmarket/marketplace/internal/telemetry"
)

const usage = "Available commands: serve, migrate <up|down|force N>, verify-audit, verify-export <path> <sha256>, version"

// errVerificationFailed exits with status 1 after the failure was already logged.
var errVerificationFailed = errors.New("verification failed")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errVerificationFailed) {
			os.Exit(1)
		}
		log.Fatalf("Error: %v\n", err)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}
	if command == "version" {
		fmt.Printf("Gig Marketplace v%s\n", api.Version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s migrate <up|down|force N>", os.Args[0])
		}
		if args[1] == "force" {
			if len(args) < 3 {
				return fmt.Errorf("usage: %s migrate force <version>", os.Args[0])
			}
			version, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid migration version %q: %w", args[2], err)
			}
			return forceMigration(cfg, version)
		}
		return runMigrations(cfg, args[1])
	case "verify-audit":
		return verifyAudit(cfg)
	case "verify-export":
		if len(args) < 3 {
			return fmt.Errorf("usage: %s verify-export <path> <sha256>", os.Args[0])
		}
		return verifyExport(cfg, args[1], args[2])
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, usage)
	}
}

func connect(cfg *config.Config) (*sql.DB, error) {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// fails in production if JWT_SECRET is not set
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"user", cfg.Database.User, "dbname", cfg.Database.Name, "sslmode", cfg.Database.SSLMode)
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	telemetry.StartDBStatsCollector(database)

	slog.Info("running database migrations")
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	// Metrics live on their own port so the scrape path stays off the public ingress.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	if cfg.Telemetry.Profiling.Enabled {
		pprofAddr := fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port)
		go func() {
			slog.Info("starting pprof server", "addr", pprofAddr)
			srv := &http.Server{ //nolint:gosec // #nosec G112 -- internal-only pprof port
				Addr:         pprofAddr,
				Handler:      http.DefaultServeMux,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("pprof server error", "error", err)
			}
		}()
	}

	router, bgServices := api.NewRouter(cfg, database)

	// Fraud policy edits apply without a restart.
	cfg.Watch(bgServices.ApplyFraudConfig)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"base_url", cfg.Server.BaseURL,
			"storage_backend", cfg.Storage.DefaultBackend,
			"fraud_enabled", cfg.Fraud.Enabled,
			"tls", cfg.Security.TLS.Enabled)

		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", version, "dirty", dirty)
	return nil
}

// forceMigration clears a dirty schema_migrations row after an interrupted run
func forceMigration(cfg *config.Config, version int) error {
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	before, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return err
	}
	if !dirty {
		slog.Warn("schema is not dirty; forcing anyway", "current_version", before)
	}
	if err := db.ForceMigrationVersion(database, version); err != nil {
		return err
	}
	slog.Info("migration version forced", "from", before, "to", version, "was_dirty", dirty)
	return nil
}

// verifyAudit walks the whole chain once. A broken chain exits with status 1
// so cron jobs can alert on it.
func verifyAudit(cfg *config.Config) error {
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	logger := audit.NewLogger(database, repositories.NewAuditRepository(database), nil)
	report, err := logger.VerifyChain(context.Background())
	if err != nil {
		return fmt.Errorf("chain verification could not complete: %w", err)
	}

	if !report.Valid {
		slog.Error("audit chain is broken",
			"checked", report.Checked,
			"first_invalid_seq", report.FirstInvalidSeq,
			"invalid_ids", report.InvalidIDs,
			"head_seq", report.HeadSeq,
			"head_consistent", report.HeadConsistent)
		return errVerificationFailed
	}
	slog.Info("audit chain is intact", "checked", report.Checked, "head_seq", report.HeadSeq)
	return nil
}

// verifyExport checks an archived export against the checksum recorded when it
// was written.
func verifyExport(cfg *config.Config, path, expected string) error {
	backend, err := storage.NewStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}

	ok, err := audit.NewExporter(nil, backend, 0).VerifyExport(context.Background(), path, expected)
	if err != nil {
		return err
	}
	if !ok {
		slog.Error("audit export checksum mismatch", "path", path, "expected", expected)
		return errVerificationFailed
	}
	slog.Info("audit export verified", "path", path)
	return nil
}
