// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, the SQLite path, rate limiting, the external movie/content/model
// services, the session backend, the enrichment queue and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-movie-chat")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// LLMConfig configures the OpenAI-compatible completion endpoint. BaseURL may
// point at OpenRouter or any other compatible gateway.
type LLMConfig struct {
	APIKey         string        // LLM_API_KEY (falls back to OPENAI_API_KEY)
	BaseURL        string        // LLM_BASE_URL
	ChatModel      string        // LLM_CHAT_MODEL
	ToolModel      string        // LLM_TOOL_MODEL (extraction, titles, summaries)
	EmbeddingModel string        // LLM_EMBEDDING_MODEL; empty selects the local hash embedder
	Temperature    float64       // LLM_TEMPERATURE
	Timeout        time.Duration // LLM_TIMEOUT, per call (streams included)
}

// TMDBConfig configures the movie metadata client.
type TMDBConfig struct {
	APIKey   string        // TMDB_API_KEY
	BaseURL  string        // TMDB_BASE_URL
	Language string        // TMDB_LANGUAGE
	Region   string        // TMDB_REGION (watch providers)
	Timeout  time.Duration // TMDB_TIMEOUT
	RPS      float64       // TMDB_RPS, client-side request budget
}

// ContentConfig configures long-document and review retrieval.
type ContentConfig struct {
	WikiBaseURL string        // WIKI_BASE_URL (MediaWiki api.php endpoint)
	MaxReviews  int           // MAX_REVIEWS
	Timeout     time.Duration // CONTENT_TIMEOUT
}

// ResolverConfig holds the title-resolution policy knobs.
type ResolverConfig struct {
	WeakThreshold     float64 // below: the title is unclear, skip resolution
	WorthResolving    float64 // below: stop processing candidates
	HighConfidence    float64 // at or above: backfill document and reviews
	SimilarityCutoff  float64 // 0..100 score a fuzzy match must exceed
	NeighborK         int     // fuzzy index neighbours to re-score
	MaxCandidates     int     // candidate titles extracted per message
	MaxHistoryRunes   int     // rolling-summary budget before folding turns
	ContextChunkCount int     // chunks retrieved into the prompt context
}

// SessionConfig selects the session backend.
type SessionConfig struct {
	Backend string        // SESSION_BACKEND: memory|redis
	TTL     time.Duration // SESSION_TTL (redis only)
	LockTTL time.Duration // SESSION_LOCK_TTL (redis only)
}

// RedisConfig is used when SessionConfig.Backend is "redis".
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RabbitConfig configures the deferred enrichment queue. An empty URL disables
// publishing.
type RabbitConfig struct {
	URL               string
	Queue             string
	RetryDelay        time.Duration
	WorkerConcurrency int
}

// StoreConfig configures the canonical SQLite store.
type StoreConfig struct {
	Path             string        // DB_PATH
	MaxOpenConns     int           // DB_MAX_OPEN_CONNS
	SlowQuery        time.Duration // DB_SLOW_QUERY, logged at warn above this
	ReplayPurgeEvery time.Duration // REPLAY_PURGE_INTERVAL; 0 disables the janitor
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 0 disables; streams need it
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // trace|debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	Store StoreConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Streaming
	StreamHeartbeat time.Duration // SSE comment interval; 0 disables

	// External services
	LLM     LLMConfig
	TMDB    TMDBConfig
	Content ContentConfig

	// Core policy
	Resolver ResolverConfig

	// Sessions / queue
	Session SessionConfig
	Redis   RedisConfig
	Rabbit  RabbitConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults and
// normalization, then validates. A set variable that does not parse is an
// error rather than a silent default. All problems are reported together.
func Load() (Config, error) {
	var e env
	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.duration("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.duration("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.duration("WRITE_TIMEOUT", 5*time.Minute),
		IdleTimeout:       e.duration("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.integer("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.flag("LOG_PRETTY", false),
		SwaggerEnabled: e.flag("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api")),

		Store: StoreConfig{
			Path:             e.str("DB_PATH", "moviechat.db"),
			MaxOpenConns:     e.integer("DB_MAX_OPEN_CONNS", 10),
			SlowQuery:        e.duration("DB_SLOW_QUERY", 200*time.Millisecond),
			ReplayPurgeEvery: e.duration("REPLAY_PURGE_INTERVAL", time.Hour),
		},

		RateRPS:   e.number("RATE_RPS", 5.0),
		RateBurst: e.integer("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: e.flag("ENABLE_HSTS", false),
			HSTSMaxAge: e.duration("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL:  e.duration("IDEMPOTENCY_TTL", 24*time.Hour),
		StreamHeartbeat: e.duration("STREAM_HEARTBEAT", 15*time.Second),

		LLM: LLMConfig{
			APIKey:         e.str("LLM_API_KEY", e.str("OPENAI_API_KEY", "")),
			BaseURL:        e.str("LLM_BASE_URL", "https://api.openai.com/v1"),
			ChatModel:      e.str("LLM_CHAT_MODEL", "gpt-4o"),
			ToolModel:      e.str("LLM_TOOL_MODEL", "gpt-4o-mini"),
			EmbeddingModel: e.str("LLM_EMBEDDING_MODEL", ""),
			Temperature:    e.number("LLM_TEMPERATURE", 0.7),
			Timeout:        e.duration("LLM_TIMEOUT", 2*time.Minute),
		},
		TMDB: TMDBConfig{
			APIKey:   e.str("TMDB_API_KEY", ""),
			BaseURL:  e.str("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
			Language: e.str("TMDB_LANGUAGE", "ko-KR"),
			Region:   strings.ToUpper(e.str("TMDB_REGION", "KR")),
			Timeout:  e.duration("TMDB_TIMEOUT", 10*time.Second),
			RPS:      e.number("TMDB_RPS", 20),
		},
		Content: ContentConfig{
			WikiBaseURL: e.str("WIKI_BASE_URL", "https://ko.wikipedia.org/w/api.php"),
			MaxReviews:  e.integer("MAX_REVIEWS", 20),
			Timeout:     e.duration("CONTENT_TIMEOUT", 15*time.Second),
		},

		Resolver: ResolverConfig{
			WeakThreshold:     e.number("WEAK_THRESHOLD", 0.3),
			WorthResolving:    e.number("RESOLVE_THRESHOLD", 0.65),
			HighConfidence:    e.number("HIGH_CONFIDENCE_THRESHOLD", 0.85),
			SimilarityCutoff:  e.number("SIMILARITY_CUTOFF", 65),
			NeighborK:         e.integer("FUZZY_K", 10),
			MaxCandidates:     e.integer("MAX_CANDIDATES", 3),
			MaxHistoryRunes:   e.integer("MAX_HISTORY_RUNES", 4000),
			ContextChunkCount: e.integer("CONTEXT_CHUNKS", 10),
		},

		Session: SessionConfig{
			Backend: strings.ToLower(e.str("SESSION_BACKEND", "memory")),
			TTL:     e.duration("SESSION_TTL", 24*time.Hour),
			LockTTL: e.duration("SESSION_LOCK_TTL", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     e.str("REDIS_ADDR", "localhost:6379"),
			Password: e.str("REDIS_PASSWORD", ""),
			DB:       e.integer("REDIS_DB", 0),
		},
		Rabbit: RabbitConfig{
			URL:               e.str("RABBIT_URL", ""),
			Queue:             e.str("RABBIT_QUEUE", "movie_enrichment"),
			RetryDelay:        e.duration("RABBIT_RETRY_DELAY", 30*time.Second),
			WorkerConcurrency: e.integer("WORKER_CONCURRENCY", 2),
		},

		OTEL: OTELConfig{
			Enabled:     e.flag("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.flag("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-movie-chat"),
			SampleRatio: e.number("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.Rabbit.WorkerConcurrency > 50 {
		cfg.Rabbit.WorkerConcurrency = 50
	}

	return cfg, errors.Join(append(e.errs, cfg.validate()...)...)
}

func (cfg Config) validate() []error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch cfg.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: trace, debug, info, warn, error, fatal, panic"))
	}
	check(cfg.ReadTimeout > 0 && cfg.ReadHeaderTimeout > 0 && cfg.WriteTimeout > 0 && cfg.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(cfg.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")
	check(cfg.Store.MaxOpenConns >= 1, "DB_MAX_OPEN_CONNS must be >= 1")
	check(cfg.Store.ReplayPurgeEvery >= 0, "REPLAY_PURGE_INTERVAL must be >= 0")
	check(cfg.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(cfg.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(cfg.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(cfg.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(cfg.StreamHeartbeat >= 0, "STREAM_HEARTBEAT must be >= 0")
	check(cfg.LLM.Timeout > 0 && cfg.TMDB.Timeout > 0 && cfg.Content.Timeout > 0,
		"LLM_TIMEOUT, TMDB_TIMEOUT and CONTENT_TIMEOUT must be positive")
	check(cfg.TMDB.RPS > 0, "TMDB_RPS must be > 0")

	r := cfg.Resolver
	check(inUnit(r.WeakThreshold) && inUnit(r.WorthResolving) && inUnit(r.HighConfidence),
		"confidence thresholds must be between 0 and 1")
	check(r.WeakThreshold <= r.WorthResolving && r.WorthResolving <= r.HighConfidence,
		"thresholds must satisfy WEAK <= RESOLVE <= HIGH_CONFIDENCE")
	check(r.SimilarityCutoff >= 0 && r.SimilarityCutoff < 100, "SIMILARITY_CUTOFF must be in [0, 100)")
	check(r.NeighborK >= 1 && r.MaxCandidates >= 1 && r.ContextChunkCount >= 1,
		"FUZZY_K, MAX_CANDIDATES and CONTEXT_CHUNKS must be >= 1")

	check(cfg.Session.Backend == "memory" || cfg.Session.Backend == "redis",
		"SESSION_BACKEND must be one of: memory, redis")
	check(cfg.Rabbit.WorkerConcurrency >= 1, "WORKER_CONCURRENCY must be >= 1")
	check(cfg.OTEL.SampleRatio >= 0 && cfg.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errs
}

func inUnit(f float64) bool { return f >= 0 && f <= 1 }

// env reads typed variables. Unset or empty variables take the default;
// malformed ones take it too but are remembered in errs.
type env struct {
	errs []error
}

func (e *env) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) bad(k, v, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q is not a valid %s", k, v, want))
}

func (e *env) str(k, def string) string {
	if v, ok := e.lookup(k); ok {
		return v
	}
	return def
}

func (e *env) integer(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.bad(k, v, "integer")
		return def
	}
	return n
}

func (e *env) number(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.bad(k, v, "number")
		return def
	}
	return f
}

func (e *env) flag(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.bad(k, v, "boolean")
	return def
}

func (e *env) duration(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.bad(k, v, "duration")
		return def
	}
	return d
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones, except
// for the root.
func normalizeBasePath(p string) string {
	return "/" + strings.Trim(strings.TrimSpace(p), "/")
}
