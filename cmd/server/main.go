// Command server runs the movie chat HTTP API.
//
// @title       Movie Chat API
// @version     1.0
// @description Movie discussion chat: title resolution, plain and immersive rooms, streamed replies.
// @BasePath    /api
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
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-chat/internal/config"
	"github.com/tbourn/go-movie-chat/internal/content"
	"github.com/tbourn/go-movie-chat/internal/fuzzy"
	httpapi "github.com/tbourn/go-movie-chat/internal/http"
	"github.com/tbourn/go-movie-chat/internal/llm"
	"github.com/tbourn/go-movie-chat/internal/observability"
	"github.com/tbourn/go-movie-chat/internal/queue"
	"github.com/tbourn/go-movie-chat/internal/repo"
	"github.com/tbourn/go-movie-chat/internal/resolver"
	"github.com/tbourn/go-movie-chat/internal/services"
	"github.com/tbourn/go-movie-chat/internal/session"
	"github.com/tbourn/go-movie-chat/internal/sysutil"
	"github.com/tbourn/go-movie-chat/internal/tmdb"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()
	sysutil.SetupLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, "server")
	ver := sysutil.Version(version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, "server", ver)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(repo.Options{
		Path:         cfg.Store.Path,
		MaxOpenConns: cfg.Store.MaxOpenConns,
		SlowQuery:    cfg.Store.SlowQuery,
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Store.Path).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	model := llm.New(cfg.LLM)
	meta := tmdb.New(cfg.TMDB)
	docs := content.New(cfg.Content, meta)

	var emb fuzzy.Embedder = fuzzy.HashEmbedder{}
	if model.HasEmbeddings() {
		emb = model
	}
	res := resolver.New(db, fuzzy.New(db, emb), meta)
	res.Cutoff = cfg.Resolver.SimilarityCutoff
	res.K = cfg.Resolver.NeighborK

	sessions, closeSessions := sessionStore(cfg)
	defer closeSessions()
	contexts := session.NewIndexCache(256)

	enricher := &services.Enricher{DB: db, Content: docs, MaxReviews: cfg.Content.MaxReviews}
	characters := &services.CharacterService{
		DB:       db,
		Model:    model,
		Enricher: enricher,
		Sessions: sessions,
		Contexts: contexts,
	}
	rooms := &services.ChatroomService{
		DB:          db,
		Characters:  characters,
		Sessions:    sessions,
		Contexts:    contexts,
		TitleMaxLen: 50,
	}
	engine := &services.Engine{
		DB:        db,
		Model:     model,
		Resolver:  res,
		Extractor: &services.Extractor{Model: model, Max: cfg.Resolver.MaxCandidates},
		Enricher:  enricher,
		Sessions:  sessions,
		Contexts:  contexts,
		Titles:    &services.TitleGenerator{Model: model, Locale: language.Korean, MaxLen: 50},
		Summary:   &services.Summarizer{Model: model, Budget: cfg.Resolver.MaxHistoryRunes},
		Policy:    cfg.Resolver,

		MaxPromptRunes: 4000,
	}
	if cfg.Rabbit.URL != "" {
		pub, err := queue.NewPublisher(cfg.Rabbit.URL, cfg.Rabbit.Queue)
		if err != nil {
			log.Fatal().Err(err).Msg("connect enrichment queue")
		}
		defer pub.Close()
		engine.Jobs = pub
	}

	go purgeReplays(ctx, db, cfg.Store.ReplayPurgeEvery)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Services{
		DB:    db,
		Rooms: rooms,
		Conv:  engine,
		Lib:   &services.LibraryService{DB: db},
	}, cfg)

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
		log.Info().Str("addr", srv.Addr).Str("version", ver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// sessionStore picks the backend named by SESSION_BACKEND. The returned
// func releases its connections.
func sessionStore(cfg config.Config) (session.Store, func()) {
	if cfg.Session.Backend != "redis" {
		return session.NewMemoryStore(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable")
	}
	return session.NewRedisStore(rdb, cfg.Session.TTL, cfg.Session.LockTTL), func() { _ = rdb.Close() }
}

// purgeReplays drops expired turn replays every interval until ctx ends.
func purgeReplays(ctx context.Context, db *gorm.DB, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredReplays(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge turn replays")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("purged turn replays")
			}
		}
	}
}
