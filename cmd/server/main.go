// Command server runs the scheduling backend HTTP API.
//
// Startup sequence:
//  1. Load .env (optional) and environment configuration
//  2. Configure zerolog (level, optional pretty console output)
//  3. Open SQLite and migrate the schema
//  4. Set up OpenTelemetry tracing (HTTP and GORM) when enabled
//  5. Build the recommender client and register routes
//  6. Start the nightly rollup cron and the HTTP server
//
// Shutdown on SIGINT/SIGTERM drains in-flight requests, stops the cron
// scheduler, flushes traces, and closes the database.
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
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/mindwell/go-scheduling-backend/internal/config"
	httpapi "github.com/mindwell/go-scheduling-backend/internal/http"
	"github.com/mindwell/go-scheduling-backend/internal/jobs"
	"github.com/mindwell/go-scheduling-backend/internal/observability"
	"github.com/mindwell/go-scheduling-backend/internal/recommender"
	"github.com/mindwell/go-scheduling-backend/internal/repo"
	"github.com/mindwell/go-scheduling-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// shutdownTimeout bounds how long draining in-flight requests may take.
const shutdownTimeout = 20 * time.Second

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	zerolog.TimeFieldFormat = time.RFC3339
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("setup tracing")
	}
	if cfg.OTEL.Enabled {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			log.Fatal().Err(err).Msg("instrument database")
		}
	}

	rec, err := recommender.NewClient(recommender.Options{
		Provider: cfg.Recommender.Provider,
		APIKey:   cfg.Recommender.APIKey,
		Model:    cfg.Recommender.Model,
		Timeout:  cfg.Recommender.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build recommender client")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, rec, cfg)

	rollup := jobs.NewRollupJob(httpapi.NewAnalyticsService(db))
	if err := rollup.Start(cfg.RollupCron); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.RollupCron).Msg("schedule rollup job")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("base_path", cfg.APIBasePath).
			Str("recommender", cfg.Recommender.Provider).
			Str("version", version).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}

	rollup.Stop()

	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped")
}
