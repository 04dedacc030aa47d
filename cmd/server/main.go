// Command server runs the intake pipeline: the webhook HTTP ingress, the
// durable job queue workers, and the operational endpoints, all in one
// process.
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
	"github.com/rs/zerolog/log"

	"github.com/matriculahub/go-intake-pipeline/internal/cache"
	"github.com/matriculahub/go-intake-pipeline/internal/config"
	"github.com/matriculahub/go-intake-pipeline/internal/extract"
	httpapi "github.com/matriculahub/go-intake-pipeline/internal/http"
	"github.com/matriculahub/go-intake-pipeline/internal/notify"
	"github.com/matriculahub/go-intake-pipeline/internal/observability"
	"github.com/matriculahub/go-intake-pipeline/internal/pipeline"
	"github.com/matriculahub/go-intake-pipeline/internal/queue"
	"github.com/matriculahub/go-intake-pipeline/internal/repo"
	"github.com/matriculahub/go-intake-pipeline/internal/sysutil"
	"github.com/matriculahub/go-intake-pipeline/internal/validate"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// Local development convenience; absent .env is fine.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	log.Info().Str("version", version).Str("port", cfg.Port).Msg("intake pipeline starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database open failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	c := cache.New(cfg.Cache)
	q := queue.New(db, cfg.Queue)
	n := notify.New(cfg.Notify)

	scratch, err := extract.NewScratchStore(cfg.Media)
	if err != nil {
		log.Fatal().Err(err).Msg("scratch store setup failed")
	}
	if err := scratch.EnsureBucket(ctx); err != nil {
		log.Fatal().Err(err).Msg("scratch bucket setup failed")
	}

	extractor, err := extract.NewEngine(cfg.Extraction, scratch)
	if err != nil {
		log.Fatal().Err(err).Msg("extraction engine setup failed")
	}
	validator := validate.NewEngine(db, cfg.Validation)

	pipeline.NewProcessor(db, q, extractor, validator, n, cfg.Queue).Register()
	if err := q.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("queue start failed")
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, db, c, q, n, cfg)

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
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Str("addr", srv.Addr).Msg("http server listening")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	// Stop accepting requests first, then drain workers, then flush traces.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := q.Shutdown(shutdownCtx); err != nil && !errors.Is(err, queue.ErrNotStarted) {
		log.Error().Err(err).Msg("queue shutdown failed")
	}
	if err := c.Close(); err != nil {
		log.Error().Err(err).Msg("cache close failed")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}

	log.Info().Msg("intake pipeline stopped")
}
