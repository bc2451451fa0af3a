// Message HTTP handlers.
//
// This file exposes the turn endpoint:
//   - POST /chatrooms/{id}/messages?stream=true   (SSE event stream, default)
//   - POST /chatrooms/{id}/messages?stream=false  (collected reply as JSON)
//
// Idempotency:
// In JSON mode, if the client supplies an Idempotency-Key header and a previous
// successful result exists for (user, room, key), the handler returns that
// recorded turn and sets `Idempotency-Replayed: true`. Reusing a key for a
// different message is rejected with 409. Streams are never replayed.
package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/events"
	"github.com/tbourn/go-movie-chat/internal/http/middleware"
	"github.com/tbourn/go-movie-chat/internal/repo"
	"github.com/tbourn/go-movie-chat/internal/services"
	"github.com/tbourn/go-movie-chat/internal/session"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a user message.
type PostMessageRequest struct {
	// Message is the user prompt. It must be non-empty.
	Message string `json:"message" binding:"required,min=1" example:"Is Dune (2021) worth watching?"`
}

// PostMessageResponse is the collected outcome of a non-streamed turn.
type PostMessageResponse struct {
	// History is the persisted turn; nil when nothing was stored.
	History *domain.ChatHistory `json:"history"`
	// Reply is the assistant text as it was streamed.
	Reply string `json:"reply"`
	// Recommended holds the ids of the movies the reply recommended.
	Recommended []uint `json:"recommended"`
	// Title is the generated room title, if the turn produced one.
	Title string `json:"title,omitempty"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
// line endings become LF and long runs of blank lines collapse.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// wantsStream reads ?stream=, defaulting to true.
func wantsStream(c *gin.Context) bool {
	v := c.Query("stream")
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err != nil || b
}

// streamSSE writes ch to the response as server-sent events. When the client
// goes away the remaining events are drained so the producer can finish.
func (h *Handlers) streamSSE(c *gin.Context, ch <-chan events.Event) {
	events.SetSSEHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	w := events.NewSSEWriter(c.Writer)
	if err := events.Pump(c.Request.Context(), ch, w.Write, w.Heartbeat, h.cfg.Heartbeat); err != nil {
		middleware.LoggerFrom(c).Debug().Err(err).Msg("event stream ended early")
		go func() {
			for range ch {
			}
		}()
	}
}

// idempotencyKey prefers the key validated by the middleware and falls back
// to the raw header.
func idempotencyKey(c *gin.Context) string {
	if k, ok := middleware.GetIdempotencyKey(c); ok {
		return k
	}
	return strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
}

// turnError translates a rejected turn.
func turnError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrRoomNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat room not found")
	case errors.Is(err, services.ErrEmptyPrompt):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
	case errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message too long")
	case errors.Is(err, session.ErrLocked):
		fail(c, http.StatusConflict, ErrCodeRoomBusy, "another message is being answered in this room")
	default:
		internalError(c, ErrCodeAnswerFailed, err)
	}
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message to a chat room
// @Description Runs one conversation turn. By default the reply is streamed as
// @Description server-sent events ("data: {type, content}") ending with the finish
// @Description signal. With stream=false the turn is collected and returned as JSON;
// @Description this mode supports idempotent retries via the Idempotency-Key header.
// @Tags        Messages
// @Accept      json
// @Produce     text/event-stream
// @Produce     json
// @Param       X-User-ID        header  string                        false  "User ID that owns the room"  example(user123)
// @Param       Idempotency-Key  header  string                        false  "Idempotency key for safe retries (JSON mode)"
// @Param       id               path    string                        true   "Room ID (UUID)"  format(uuid)
// @Param       stream           query   bool                          false  "Stream events"   default(true)
// @Param       body             body    handlers.PostMessageRequest  true   "User message"
// @Success     200  {object}  handlers.PostMessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Room not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Room busy or Idempotency-Key reused"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chatrooms/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	id, valid := roomID(c)
	if !valid {
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}
	msg, err := h.conv.ValidateMessage(sanitizeContent(req.Message))
	if err != nil {
		turnError(c, err)
		return
	}

	uid := userID(c)
	if _, err := h.conv.Room(ctx, id, uid); err != nil {
		turnError(c, err)
		return
	}
	turn := services.TurnRequest{RoomID: id, UserID: uid, Message: msg}

	if wantsStream(c) {
		h.streamSSE(c, h.conv.HandleTurn(ctx, turn))
		return
	}

	// Idempotency (replay path).
	idemKey := idempotencyKey(c)
	scope := repo.ReplayScope{UserID: uid, RoomID: id, Key: idemKey}
	msgHash := domain.HashMessage(msg)
	if idemKey != "" && h.cfg.DB != nil {
		if rec, err := repo.FindReplay(ctx, h.cfg.DB, scope, time.Now().UTC()); err == nil {
			if rec.MessageHash != msgHash {
				fail(c, http.StatusConflict, ErrCodeKeyReused, "Idempotency-Key was already used for a different message")
				return
			}
			if prev, err := repo.GetChatHistory(ctx, h.cfg.DB, rec.HistoryID); err == nil {
				recommended, err := repo.RecommendedMovieIDs(ctx, h.cfg.DB, prev.ID)
				if err != nil {
					internalError(c, ErrCodeAnswerFailed, err)
					return
				}
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusOK, PostMessageResponse{History: prev, Reply: prev.AIChat, Recommended: recommended})
				return
			}
		}
	}

	res, seq, err := h.conv.Answer(ctx, turn)
	if err != nil {
		turnError(c, err)
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" && h.cfg.DB != nil && res.History != nil {
		if _, err := repo.SaveReplay(ctx, h.cfg.DB, scope, msgHash, res.History.ID, h.cfg.IdempotencyTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("turn replay not stored")
		}
	}

	recommended := res.Recommended
	if recommended == nil {
		recommended = []uint{}
	}
	ok(c, http.StatusOK, PostMessageResponse{
		History:     res.History,
		Reply:       events.Text(seq),
		Recommended: recommended,
		Title:       res.Title,
	})
}
