// Chat room HTTP handlers.
//
// This file exposes REST endpoints for chat rooms:
//   - GET    /chatrooms                    (list, split into normal/immersive, ETag support)
//   - POST   /chatrooms                    (create; SSE stream when character_id is set)
//   - PUT    /chatrooms/{id}/title         (rename)
//   - DELETE /chatrooms/{id}               (delete)
//   - GET    /chatrooms/{id}/messages      (paginated history, ETag support)
//   - GET    /chatrooms/{id}/recommended   (recommendations grouped per turn)
package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/repo"
	"github.com/tbourn/go-movie-chat/internal/services"
)

//
// DTOs
//

// CreateRoomRequest is the optional payload of POST /chatrooms. Without a
// character the room is a plain one.
type CreateRoomRequest struct {
	CharacterID *uint `json:"character_id,omitempty" example:"12"`
}

// UpdateTitleRequest is the JSON payload for renaming a room.
type UpdateTitleRequest struct {
	Title string `json:"title" binding:"max=255" example:"Dune night"`
}

// ListHistoryResponse contains a page of turns and pagination metadata.
type ListHistoryResponse struct {
	Messages   []domain.ChatHistory `json:"messages"`
	Pagination Pagination           `json:"pagination"`
}

// RecommendedTurn lists the movies recommended by one assistant reply.
type RecommendedTurn struct {
	ChatID    uint           `json:"chat_id"   example:"7"`
	Timestamp time.Time      `json:"timestamp"`
	Movies    []domain.Movie `json:"movies"`
}

//
// Helpers
//

// roomID validates the :id path parameter.
func roomID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat room id must be a UUID")
		return "", false
	}
	return id, true
}

// etag sets a weak ETag and reports whether the client copy is current.
func etag(c *gin.Context, kind, scope string, f repo.Freshness) bool {
	var ts int64
	if f.Latest != nil {
		ts = f.Latest.UnixNano()
	}
	tag := fmt.Sprintf(`W/"%s:%s:%d:%d"`, kind, scope, f.Count, ts)
	c.Header("ETag", tag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == tag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

//
// Handlers
//

// ListRooms godoc
// @ID          listChatrooms
// @Summary     List chat rooms
// @Description Returns the caller's rooms split into normal and immersive ones, newest first.
// @Tags        Chatrooms
// @Produce     json
// @Param       X-User-ID  header  string  false  "User ID"  example(user123)
// @Success     200  {object}  services.RoomList
// @Success     304  "Not modified"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chatrooms [get]
func (h *Handlers) ListRooms(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	// ETag pre-check (best effort).
	if h.cfg.DB != nil {
		if f, err := repo.RoomsFreshness(ctx, h.cfg.DB, uid); err == nil {
			if etag(c, "rooms", uid, f) {
				return
			}
		}
	}

	list, err := h.rooms.List(ctx, uid)
	if err != nil {
		internalError(c, ErrCodeListFailed, err)
		return
	}
	ok(c, http.StatusOK, list)
}

// CreateRoom godoc
// @ID          createChatroom
// @Summary     Create a chat room
// @Description Without character_id a plain room is created and returned as JSON (201).
// @Description With character_id the response is an SSE stream: chatroom-created, the
// @Description character creation signals, then finish. A failed creation deletes the room.
// @Tags        Chatrooms
// @Accept      json
// @Produce     json
// @Produce     text/event-stream
// @Param       X-User-ID  header  string                       false  "User ID"  example(user123)
// @Param       body       body    handlers.CreateRoomRequest  false  "Room options"
// @Success     201  {object}  domain.ChatRoom
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Character not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chatrooms [post]
func (h *Handlers) CreateRoom(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	if req.CharacterID == nil {
		room, err := h.rooms.CreatePlain(ctx, uid)
		if err != nil {
			internalError(c, ErrCodeCreateFailed, err)
			return
		}
		ok(c, http.StatusCreated, room)
		return
	}

	_, ch, err := h.rooms.CreateImmersive(ctx, uid, *req.CharacterID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCharacterNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "character not found")
		default:
			internalError(c, ErrCodeCreateFailed, err)
		}
		return
	}
	h.streamSSE(c, ch)
}

// UpdateRoomTitle godoc
// @ID          updateChatroomTitle
// @Summary     Rename a chat room
// @Description A blank title restores the default placeholder.
// @Tags        Chatrooms
// @Accept      json
// @Param       X-User-ID  header  string                        false  "User ID"  example(user123)
// @Param       id         path    string                        true   "Room ID (UUID)"  format(uuid)
// @Param       body       body    handlers.UpdateTitleRequest  true   "New title"
// @Success     204  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Room not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chatrooms/{id}/title [put]
func (h *Handlers) UpdateRoomTitle(c *gin.Context) {
	id, valid := roomID(c)
	if !valid {
		return
	}
	var req UpdateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title must be at most 255 characters")
		return
	}
	if err := h.rooms.UpdateTitle(c.Request.Context(), userID(c), id, strings.TrimSpace(req.Title)); err != nil {
		h.roomError(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

// DeleteRoom godoc
// @ID          deleteChatroom
// @Summary     Delete a chat room
// @Tags        Chatrooms
// @Param       X-User-ID  header  string  false  "User ID"  example(user123)
// @Param       id         path    string  true   "Room ID (UUID)"  format(uuid)
// @Success     204  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Room not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chatrooms/{id} [delete]
func (h *Handlers) DeleteRoom(c *gin.Context) {
	id, valid := roomID(c)
	if !valid {
		return
	}
	if err := h.rooms.Delete(c.Request.Context(), userID(c), id); err != nil {
		h.roomError(c, err, ErrCodeDeleteFailed)
		return
	}
	noContent(c)
}

// ListHistory godoc
// @ID          listChatroomMessages
// @Summary     List the turns of a chat room
// @Tags        Chatrooms
// @Produce     json
// @Param       X-User-ID  header  string  false  "User ID"  example(user123)
// @Param       id         path    string  true   "Room ID (UUID)"  format(uuid)
// @Param       page       query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListHistoryResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Room not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chatrooms/{id}/messages [get]
func (h *Handlers) ListHistory(c *gin.Context) {
	ctx := c.Request.Context()
	id, valid := roomID(c)
	if !valid {
		return
	}
	uid := userID(c)

	pg := pageQuery(c)
	items, total, err := h.rooms.Messages(ctx, uid, id, pg.Number, pg.Size)
	if err != nil {
		h.roomError(c, err, ErrCodeListFailed)
		return
	}

	// The room is known to belong to the caller past this point.
	if h.cfg.DB != nil {
		if f, err := repo.HistoryFreshness(ctx, h.cfg.DB, id); err == nil {
			if etag(c, "history", id, f) {
				return
			}
		}
	}

	ok(c, http.StatusOK, ListHistoryResponse{
		Messages:   items,
		Pagination: newPagination(pg.Number, pg.Size, total),
	})
}

// ListRecommended godoc
// @ID          listChatroomRecommendations
// @Summary     List recommended movies of a chat room
// @Description Recommendations are grouped by the reply that produced them, newest first.
// @Tags        Chatrooms
// @Produce     json
// @Param       X-User-ID  header  string  false  "User ID"  example(user123)
// @Param       id         path    string  true   "Room ID (UUID)"  format(uuid)
// @Success     200  {array}   handlers.RecommendedTurn
// @Failure     404  {object}  handlers.ErrorResponse  "Room not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chatrooms/{id}/recommended [get]
func (h *Handlers) ListRecommended(c *gin.Context) {
	id, valid := roomID(c)
	if !valid {
		return
	}
	groups, err := h.rooms.Recommended(c.Request.Context(), userID(c), id)
	if err != nil {
		h.roomError(c, err, ErrCodeListFailed)
		return
	}
	out := make([]RecommendedTurn, 0, len(groups))
	for _, g := range groups {
		out = append(out, RecommendedTurn{ChatID: g.ChatID, Timestamp: g.Timestamp, Movies: g.Movies})
	}
	ok(c, http.StatusOK, out)
}

// roomError maps room lookups to 404 and everything else to 500 with code.
func (h *Handlers) roomError(c *gin.Context, err error, code string) {
	if errors.Is(err, services.ErrRoomNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat room not found")
		return
	}
	internalError(c, code, err)
}
