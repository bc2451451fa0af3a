// Command worker consumes deferred movie enrichment jobs: it backfills the
// long document and reviews of movies resolved with medium confidence.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-movie-chat/internal/config"
	"github.com/tbourn/go-movie-chat/internal/content"
	"github.com/tbourn/go-movie-chat/internal/observability"
	"github.com/tbourn/go-movie-chat/internal/queue"
	"github.com/tbourn/go-movie-chat/internal/repo"
	"github.com/tbourn/go-movie-chat/internal/services"
	"github.com/tbourn/go-movie-chat/internal/sysutil"
	"github.com/tbourn/go-movie-chat/internal/tmdb"
)

var version string

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()
	sysutil.SetupLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, "worker")
	ver := sysutil.Version(version)

	if cfg.Rabbit.URL == "" {
		log.Fatal().Msg("RABBIT_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, "worker", ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()

	db, err := repo.Open(repo.Options{
		Path:         cfg.Store.Path,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		SlowQuery:    cfg.Store.SlowQuery,
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("open database")
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	meta := tmdb.New(cfg.TMDB)
	enricher := &services.Enricher{
		DB:         db,
		Content:    content.New(cfg.Content, meta),
		MaxReviews: cfg.Content.MaxReviews,
	}

	consumer, err := queue.NewConsumer(cfg.Rabbit.URL, queue.ConsumerConfig{
		Queue:       cfg.Rabbit.Queue,
		Concurrency: cfg.Rabbit.WorkerConcurrency,
		RetryDelay:  cfg.Rabbit.RetryDelay,
	}, enricher.Enrich)
	if err != nil {
		log.Fatal().Err(err).Msg("connect enrichment queue")
	}
	defer consumer.Close()

	// Breaker gauges and the Go runtime collectors.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metrics := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: cfg.ReadHeaderTimeout}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics listener")
		}
	}()

	log.Info().Str("version", ver).Str("queue", cfg.Rabbit.Queue).Msg("worker starting")
	if err := consumer.Run(ctx); err != nil {
		log.Error().Err(err).Msg("consumer stopped")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metrics.Shutdown(sctx)
}
