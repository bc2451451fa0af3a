// Package handlers provides HTTP handler implementations for the public API.
//
// This file declares the service contracts the handlers depend on, the
// Handlers aggregate and the small helpers shared by every endpoint group
// (caller identity, pagination, path parameters).
package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/events"
	"github.com/tbourn/go-movie-chat/internal/http/middleware"
	"github.com/tbourn/go-movie-chat/internal/repo"
	"github.com/tbourn/go-movie-chat/internal/services"
	"github.com/tbourn/go-movie-chat/internal/utils"
)

//
// Service contracts (context-aware)
//

// ChatroomService defines the room lifecycle consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ChatroomService interface {
	// List returns the rooms of a user split into plain and immersive.
	List(ctx context.Context, userID string) (services.RoomList, error)
	// CreatePlain opens a room without a character.
	CreatePlain(ctx context.Context, userID string) (*domain.ChatRoom, error)
	// CreateImmersive opens a room bound to a character and streams the
	// character creation.
	CreateImmersive(ctx context.Context, userID string, characterID uint) (*domain.ChatRoom, <-chan events.Event, error)
	// UpdateTitle renames a room that belongs to userID.
	UpdateTitle(ctx context.Context, userID, roomID, title string) error
	// Delete removes a room and its session state.
	Delete(ctx context.Context, userID, roomID string) error
	// Messages returns a page of the room's history and the total count.
	Messages(ctx context.Context, userID, roomID string, page, pageSize int) ([]domain.ChatHistory, int64, error)
	// Recommended returns the room's recommendations grouped per turn.
	Recommended(ctx context.Context, userID, roomID string) ([]repo.RecommendationGroup, error)
}

// Conversation runs chat turns.
type Conversation interface {
	ValidateMessage(msg string) (string, error)
	Room(ctx context.Context, roomID, userID string) (*domain.ChatRoom, error)
	HandleTurn(ctx context.Context, req services.TurnRequest) <-chan events.Event
	Answer(ctx context.Context, req services.TurnRequest) (services.TurnResult, []events.Event, error)
}

// Library serves movie details and the user's bookmarks and archives.
type Library interface {
	Movie(ctx context.Context, id uint) (*domain.Movie, error)
	Characters(ctx context.Context, movieID uint) ([]domain.CharacterProfile, error)
	Bookmarks(ctx context.Context, userID string) ([]domain.Movie, error)
	AddBookmark(ctx context.Context, userID string, movieID uint) error
	RemoveBookmark(ctx context.Context, userID string, movieID uint) error
	Archives(ctx context.Context, userID string) ([]repo.ArchivedEntry, error)
	Archive(ctx context.Context, userID string, movieID uint, rating float64) error
	RemoveArchive(ctx context.Context, userID string, movieID uint) error
	Watchlist(ctx context.Context, userID string) ([]domain.Movie, error)
}

//
// Handler wiring
//

// Config carries the transport settings of the handlers.
type Config struct {
	// DB backs ETags and idempotency records. Both are skipped when nil.
	DB *gorm.DB
	// IdempotencyTTL is how long a stored reply can be replayed.
	IdempotencyTTL time.Duration
	// Heartbeat is the SSE comment interval; zero disables it.
	Heartbeat time.Duration
	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string
}

// Handlers groups HTTP endpoints for chat rooms, messages and the movie
// library. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	rooms ChatroomService
	conv  Conversation
	lib   Library
	cfg   Config
}

// New constructs and returns a Handlers instance bound to the given services.
func New(rooms ChatroomService, conv Conversation, lib Library, cfg Config) *Handlers {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &Handlers{rooms: rooms, conv: conv, lib: lib, cfg: cfg}
}

//
// DTOs
//

// Pagination describes the page returned by list endpoints.
type Pagination struct {
	Page       int   `json:"page"        example:"1"`
	PageSize   int   `json:"page_size"   example:"20"`
	Total      int64 `json:"total"       example:"42"`
	TotalPages int   `json:"total_pages" example:"3"`
	HasNext    bool  `json:"has_next"    example:"true"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Helpers
//

// userID returns the caller identity: an authenticated "userID" set by
// upstream middleware, then the X-User-ID header, then "demo-user".
func userID(c *gin.Context) string { return middleware.UserID(c) }

// pageQuery reads ?page= and ?page_size=, clamped to the listing limits.
func pageQuery(c *gin.Context) utils.Page {
	return utils.ParsePage(c.Query("page"), c.Query("page_size"))
}

// uintParam parses a positive numeric path parameter.
func uintParam(c *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}
