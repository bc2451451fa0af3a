// Package httpapi wires the HTTP transport (Gin) to the movie chat services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-chat/docs"
	"github.com/tbourn/go-movie-chat/internal/config"
	"github.com/tbourn/go-movie-chat/internal/http/handlers"
	"github.com/tbourn/go-movie-chat/internal/http/middleware"
	"github.com/tbourn/go-movie-chat/internal/repo"
)

// Services bundles what the handlers need. DB backs idempotency and ETags and
// may be nil in tests.
type Services struct {
	DB    *gorm.DB
	Rooms handlers.ChatroomService
	Conv  handlers.Conversation
	Lib   handlers.Library
}

var corsMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}

var corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey}

// RegisterRoutes attaches all middleware and HTTP endpoints to r and mounts
// the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID
//  3. RequestLogger (redacting, stream aware)
//  4. Recovery
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator, before the limiter so replays bypass it
//  8. Rate limiter
//  9. CORS and security headers
//
// Responses of the streaming endpoints (room creation with a character,
// messages, the socket) are never gzipped.
func RegisterRoutes(r *gin.Engine, svc Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		idempotencyLookup(svc.DB),
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(svc.Rooms, svc.Conv, svc.Lib, handlers.Config{
		DB:             svc.DB,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Heartbeat:      cfg.StreamHeartbeat,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	api := groupWithPrefix(r, cfg.APIBasePath)

	// Streams
	api.POST("/chatrooms", h.CreateRoom)
	api.POST("/chatrooms/:id/messages", h.PostMessage)
	api.GET("/chatrooms/:id/ws", h.RoomSocket)

	// JSON only
	js := api.Group("", gzip.Gzip(gzip.DefaultCompression))
	{
		js.GET("/chatrooms", h.ListRooms)
		js.PUT("/chatrooms/:id/title", h.UpdateRoomTitle)
		js.DELETE("/chatrooms/:id", h.DeleteRoom)
		js.GET("/chatrooms/:id/messages", h.ListHistory)
		js.GET("/chatrooms/:id/recommended", h.ListRecommended)

		js.GET("/movies/:id", h.GetMovie)
		js.GET("/movies/:id/characters", h.ListCharacters)

		js.GET("/library/bookmarks", h.ListBookmarks)
		js.POST("/library/bookmarks/:id", h.AddBookmark)
		js.DELETE("/library/bookmarks/:id", h.RemoveBookmark)
		js.GET("/library/archives", h.ListArchives)
		js.PUT("/library/archives/:id", h.ArchiveMovie)
		js.DELETE("/library/archives/:id", h.RemoveArchive)
		js.GET("/library/watchlist", h.ListWatchlist)
	}
}

// idempotencyLookup checks for a recorded, unexpired turn. Without a DB it
// never reports a replay.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, userID, roomID, key string, now time.Time) (bool, error) {
		_, err := repo.FindReplay(ctx, db, repo.ReplayScope{UserID: userID, RoomID: roomID, Key: key}, now)
		return err == nil, nil
	}
}

// corsMiddleware allows every origin when none are configured. Otherwise the
// allowlisted Origin is echoed back, which also covers the WebSocket handshake.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	if len(origins) == 0 {
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins: true,
				AllowMethods:    corsMethods,
				AllowHeaders:    corsHeaders,
				ExposeHeaders:   []string{"X-Request-ID", "Content-Length", "Idempotency-Replayed"},
				MaxAge:          12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowMethods:  corsMethods,
			AllowHeaders:  corsHeaders,
			ExposeHeaders: []string{"X-Request-ID", "Content-Length", "Idempotency-Replayed"},
			MaxAge:        12 * time.Hour,
		}),
	}
}

// limitBody caps request bodies at maxBytes; larger reads fail downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
