package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// lastLine decodes the final JSON log line in buf.
func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("bad log line %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) {
		if c.GetString(requestIDKey) == "" {
			t.Fatalf("requestID not set in context")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rid", nil))
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated %s header", requestIDHeader)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rid", nil)
	req.Header.Set("x-request-id", "abc-123")
	r.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestRequestLogger_FieldsAndLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RequestLogger(RedactOptions{}))
	r.GET("/chatrooms/:id/messages", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/movies/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	req := httptest.NewRequest(http.MethodGet, "/chatrooms/r1/messages", nil)
	req.Header.Set(HeaderUserID, "u1")
	r.ServeHTTP(httptest.NewRecorder(), req)
	m := lastLine(t, buf)
	if m["level"] != "info" || m["room_id"] != "r1" || m["user_id"] != "u1" {
		t.Fatalf("unexpected line: %v", m)
	}
	if m["path"] != "/chatrooms/:id/messages" || m["message"] != "http_request" {
		t.Fatalf("unexpected path/message: %v", m)
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/movies/7", nil))
	m = lastLine(t, buf)
	if m["level"] != "warn" || m["movie_id"] != "7" || m["user_id"] != DemoUser {
		t.Fatalf("unexpected line: %v", m)
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	if m = lastLine(t, buf); m["level"] != "error" {
		t.Fatalf("expected error level, got %v", m)
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if m = lastLine(t, buf); m["path"] != "/nowhere" {
		t.Fatalf("expected raw path fallback, got %v", m["path"])
	}
}

func TestRequestLogger_RedactsHeadersAndQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestLogger(RedactOptions{MaskHeaders: []string{" X-Api-Key "}}))
	r.GET("/q", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/q?email=a.b@example.com&phone=010-1234-5678", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Api-Key", "k")
	req.Header.Set("X-Note", "ping 3f2b8c1e-9a4d-4c3b-8e2f-1a2b3c4d5e6f")
	r.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, leaked := range []string{"secret", "a.b@example.com", "1234-5678", "3f2b8c1e"} {
		if strings.Contains(out, leaked) {
			t.Fatalf("log leaked %q: %s", leaked, out)
		}
	}
	m := lastLine(t, buf)
	h := m["headers"].(map[string]any)
	if h["Authorization"] != "[REDACTED]" || h["X-Api-Key"] != "[REDACTED]" {
		t.Fatalf("headers not masked: %v", h)
	}
	if h["X-Note"] != "ping [REDACTED:id]" {
		t.Fatalf("uuid not scrubbed: %v", h["X-Note"])
	}
}

func TestRequestLogger_PropagatesToRequestContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RequestLogger(RedactOptions{}))
	r.GET("/chatrooms/:id", func(c *gin.Context) {
		log.Ctx(c.Request.Context()).Info().Msg("from service")
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/chatrooms/r9", nil)
	req.Header.Set(requestIDHeader, "rid-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	first := strings.Split(strings.TrimSpace(buf.String()), "\n")[0]
	var m map[string]any
	if err := json.Unmarshal([]byte(first), &m); err != nil {
		t.Fatalf("bad log line: %v", err)
	}
	if m["message"] != "from service" || m["request_id"] != "rid-1" || m["room_id"] != "r9" {
		t.Fatalf("service log missing request fields: %v", m)
	}
}

func TestRequestLogger_MarksStreams(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestLogger(RedactOptions{}))
	r.POST("/sse", func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.String(http.StatusOK, "data: {}\n\n")
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/sse", nil))

	m := lastLine(t, buf)
	if m["stream"] != "sse" || m["message"] != "stream closed" {
		t.Fatalf("stream not marked: %v", m)
	}
}

func TestRecovery_JSONUnlessWritten(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RequestLogger(RedactOptions{}), Recovery())
	r.GET("/panic", func(c *gin.Context) { panic("kaboom") })
	r.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("late")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] == "" {
		t.Fatalf("unexpected body: %v", body)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("panic not logged")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))
	if w.Code != http.StatusOK || w.Body.String() != "partial" {
		t.Fatalf("written response must be left alone, got %d %q", w.Code, w.Body.String())
	}
}

func TestLoggerFrom_FallsBackToGlobal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	LoggerFrom(c).Info().Msg("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("global logger not used")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc…" {
		t.Fatalf("got %q", got)
	}
	if got := truncate("abc", 0); got != "abc" {
		t.Fatalf("got %q", got)
	}
}
