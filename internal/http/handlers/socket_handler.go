package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tbourn/go-movie-chat/internal/events"
	"github.com/tbourn/go-movie-chat/internal/http/middleware"
	"github.com/tbourn/go-movie-chat/internal/services"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Largest inbound frame accepted.
	maxMessageSize = 512 * 1024
)

// socketMessage is one inbound WebSocket frame.
type socketMessage struct {
	Message string `json:"message"`
}

func (h *Handlers) upgrader() *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(h.cfg.AllowedOrigins))
	for _, o := range h.cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	return &websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// RoomSocket godoc
// @ID          chatroomSocket
// @Summary     Chat over a WebSocket
// @Description Upgrades to a WebSocket. Each inbound frame {"message": "..."} runs one
// @Description turn; its events are sent as text frames in the same {type, content}
// @Description shape as the SSE stream. Messages sent during a turn are queued.
// @Tags        Messages
// @Param       X-User-ID  header  string  false  "User ID that owns the room"  example(user123)
// @Param       id         path    string  true   "Room ID (UUID)"  format(uuid)
// @Success     101  "Switching Protocols"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Room not found"
// @Router      /chatrooms/{id}/ws [get]
func (h *Handlers) RoomSocket(c *gin.Context) {
	id, valid := roomID(c)
	if !valid {
		return
	}
	uid := userID(c)
	if _, err := h.conv.Room(c.Request.Context(), id, uid); err != nil {
		turnError(c, err)
		return
	}

	lg := middleware.LoggerFrom(c)
	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error.
		lg.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	inbox := make(chan string, 4)
	go func() {
		defer cancel()
		for {
			var in socketMessage
			if err := conn.ReadJSON(&in); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					lg.Debug().Err(err).Msg("websocket read failed")
				}
				return
			}
			select {
			case inbox <- in.Message:
			case <-ctx.Done():
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var (
		turn    <-chan events.Event
		pending []string
	)
	start := func(raw string) {
		msg, err := h.conv.ValidateMessage(sanitizeContent(raw))
		if err != nil {
			ch := make(chan events.Event, 2)
			ch <- events.Failure()
			ch <- events.NewSignal(events.Finish)
			close(ch)
			turn = ch
			return
		}
		turn = h.conv.HandleTurn(ctx, services.TurnRequest{RoomID: id, UserID: uid, Message: msg})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case raw := <-inbox:
			if turn != nil {
				pending = append(pending, raw)
				continue
			}
			start(raw)
		case e, open := <-turn:
			if !open {
				turn = nil
				if len(pending) > 0 {
					next := pending[0]
					pending = pending[1:]
					start(next)
				}
				continue
			}
			if err := events.WriteWS(conn, e, writeWait); err != nil {
				lg.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}
