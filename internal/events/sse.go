package events

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// SetSSEHeaders prepares w for a server-sent event stream.
func SetSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Encode writes e as one SSE frame: "data: <json>\n\n".
func Encode(w io.Writer, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

// SSEWriter frames events onto an HTTP response, flushing after each one.
type SSEWriter struct {
	w io.Writer
	f http.Flusher
}

// NewSSEWriter returns a writer for w. Flushing is skipped when w cannot
// flush.
func NewSSEWriter(w io.Writer) *SSEWriter {
	f, _ := w.(http.Flusher)
	return &SSEWriter{w: w, f: f}
}

func (s *SSEWriter) Write(e Event) error {
	if err := Encode(s.w, e); err != nil {
		return err
	}
	if s.f != nil {
		s.f.Flush()
	}
	return nil
}

// Heartbeat writes an SSE comment line that clients ignore.
func (s *SSEWriter) Heartbeat() error {
	if _, err := io.WriteString(s.w, ": ping\n\n"); err != nil {
		return err
	}
	if s.f != nil {
		s.f.Flush()
	}
	return nil
}

// Pump copies events from ch to the sink in order until ch is closed or ctx
// ends. A heartbeat interval of zero disables heartbeats. The first write
// error stops the pump; the producer observes the cancellation through ctx.
func Pump(ctx context.Context, ch <-chan Event, write func(Event) error, heartbeat func() error, every time.Duration) error {
	var tick <-chan time.Time
	if every > 0 && heartbeat != nil {
		t := time.NewTicker(every)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if err := heartbeat(); err != nil {
				return err
			}
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := write(e); err != nil {
				return err
			}
		}
	}
}

// WriteWS sends e as one WebSocket text frame.
func WriteWS(conn *websocket.Conn, e Event, wait time.Duration) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if wait > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(wait))
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

// Decode parses one frame payload (without the "data: " prefix).
func Decode(payload []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(payload, &e)
	return e, err
}
