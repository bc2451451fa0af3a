package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/events"
	"github.com/tbourn/go-movie-chat/internal/repo"
	"github.com/tbourn/go-movie-chat/internal/services"
	"github.com/tbourn/go-movie-chat/internal/session"
)

// ---------- test DB ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// ---------- stubs ----------

type stubRooms struct {
	list        func(context.Context, string) (services.RoomList, error)
	immersive   func(context.Context, string, uint) (*domain.ChatRoom, <-chan events.Event, error)
	updateTitle func(context.Context, string, string, string) error
	messages    func(context.Context, string, string, int, int) ([]domain.ChatHistory, int64, error)
	deleted     []string
}

func (s *stubRooms) List(ctx context.Context, u string) (services.RoomList, error) {
	if s.list != nil {
		return s.list(ctx, u)
	}
	return services.RoomList{Normal: []domain.ChatRoom{}, Immersive: []domain.ChatRoom{}}, nil
}

func (s *stubRooms) CreatePlain(_ context.Context, u string) (*domain.ChatRoom, error) {
	return &domain.ChatRoom{ID: uuid.NewString(), UserID: u, Title: domain.DefaultRoomTitle}, nil
}

func (s *stubRooms) CreateImmersive(ctx context.Context, u string, id uint) (*domain.ChatRoom, <-chan events.Event, error) {
	if s.immersive != nil {
		return s.immersive(ctx, u, id)
	}
	return nil, nil, services.ErrCharacterNotFound
}

func (s *stubRooms) UpdateTitle(ctx context.Context, u, id, title string) error {
	if s.updateTitle != nil {
		return s.updateTitle(ctx, u, id, title)
	}
	return nil
}

func (s *stubRooms) Delete(_ context.Context, _, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubRooms) Messages(ctx context.Context, u, id string, p, ps int) ([]domain.ChatHistory, int64, error) {
	if s.messages != nil {
		return s.messages(ctx, u, id, p, ps)
	}
	return nil, 0, services.ErrRoomNotFound
}

func (s *stubRooms) Recommended(context.Context, string, string) ([]repo.RecommendationGroup, error) {
	return []repo.RecommendationGroup{{ChatID: 7, Movies: []domain.Movie{{ID: 1, Title: "듄"}}}}, nil
}

// stubConv replays a fixed event sequence for every turn.
type stubConv struct {
	rooms   map[string]bool
	seq     []events.Event
	result  services.TurnResult
	err     error
	answers int
	got     []string
}

func (s *stubConv) ValidateMessage(msg string) (string, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", services.ErrEmptyPrompt
	}
	return msg, nil
}

func (s *stubConv) Room(_ context.Context, id, _ string) (*domain.ChatRoom, error) {
	if !s.rooms[id] {
		return nil, services.ErrRoomNotFound
	}
	return &domain.ChatRoom{ID: id}, nil
}

func (s *stubConv) HandleTurn(_ context.Context, req services.TurnRequest) <-chan events.Event {
	s.got = append(s.got, req.Message)
	ch := make(chan events.Event, len(s.seq))
	for _, e := range s.seq {
		ch <- e
	}
	close(ch)
	return ch
}

func (s *stubConv) Answer(ctx context.Context, req services.TurnRequest) (services.TurnResult, []events.Event, error) {
	s.answers++
	if s.err != nil {
		return services.TurnResult{}, nil, s.err
	}
	return s.result, events.Collect(s.HandleTurn(ctx, req)), nil
}

type stubLib struct {
	archived map[uint]float64
}

func (s *stubLib) Movie(_ context.Context, id uint) (*domain.Movie, error) {
	if id != 1 {
		return nil, services.ErrMovieNotFound
	}
	return &domain.Movie{ID: 1, Title: "듄"}, nil
}

func (s *stubLib) Characters(ctx context.Context, id uint) ([]domain.CharacterProfile, error) {
	if _, err := s.Movie(ctx, id); err != nil {
		return nil, err
	}
	return []domain.CharacterProfile{{ID: 3, MovieID: 1, Name: "Paul Atreides"}}, nil
}

func (s *stubLib) Bookmarks(context.Context, string) ([]domain.Movie, error) {
	return []domain.Movie{}, nil
}
func (s *stubLib) AddBookmark(ctx context.Context, _ string, id uint) error {
	_, err := s.Movie(ctx, id)
	return err
}
func (s *stubLib) RemoveBookmark(context.Context, string, uint) error { return nil }
func (s *stubLib) Archives(context.Context, string) ([]repo.ArchivedEntry, error) {
	return []repo.ArchivedEntry{{Movie: domain.Movie{ID: 1}, Rating: s.archived[1]}}, nil
}
func (s *stubLib) Archive(ctx context.Context, _ string, id uint, rating float64) error {
	if _, err := s.Movie(ctx, id); err != nil {
		return err
	}
	s.archived[id] = rating
	return nil
}
func (s *stubLib) RemoveArchive(context.Context, string, uint) error { return nil }
func (s *stubLib) Watchlist(context.Context, string) ([]domain.Movie, error) {
	return []domain.Movie{}, nil
}

// ---------- helpers ----------

func plainSeq() []events.Event {
	return []events.Event{
		events.NewSignal(events.DatabaseStart),
		events.NewSignal(events.DatabaseEnd),
		events.NewSignal(events.MessageStart),
		events.Token("볼 만"),
		events.Token("해요"),
		events.NewSignal(events.MessageEnd),
		events.Recommendation([]uint{1}),
		events.NewSignal(events.Finish),
	}
}

func newTestRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/chatrooms", h.ListRooms)
	r.POST("/chatrooms", h.CreateRoom)
	r.PUT("/chatrooms/:id/title", h.UpdateRoomTitle)
	r.DELETE("/chatrooms/:id", h.DeleteRoom)
	r.GET("/chatrooms/:id/messages", h.ListHistory)
	r.POST("/chatrooms/:id/messages", h.PostMessage)
	r.GET("/chatrooms/:id/recommended", h.ListRecommended)
	r.GET("/chatrooms/:id/ws", h.RoomSocket)
	r.GET("/movies/:id", h.GetMovie)
	r.GET("/movies/:id/characters", h.ListCharacters)
	r.POST("/library/bookmarks/:id", h.AddBookmark)
	r.GET("/library/archives", h.ListArchives)
	r.PUT("/library/archives/:id", h.ArchiveMovie)
	return r
}

func do(r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// parseSSE splits a recorded stream into events.
func parseSSE(t *testing.T, body string) []events.Event {
	t.Helper()
	var out []events.Event
	for _, frame := range strings.Split(body, "\n\n") {
		if !strings.HasPrefix(frame, "data: ") {
			continue
		}
		e, err := events.Decode([]byte(strings.TrimPrefix(frame, "data: ")))
		if err != nil {
			t.Fatalf("decode %q: %v", frame, err)
		}
		out = append(out, e)
	}
	return out
}

// ---------- chat rooms ----------

func TestCreateRoom_PlainReturnsJSON(t *testing.T) {
	h := New(&stubRooms{}, &stubConv{}, &stubLib{}, Config{})
	r := newTestRouter(h)

	for _, body := range []string{"", "{}"} {
		w := do(r, http.MethodPost, "/chatrooms", body, map[string]string{"X-User-ID": "u1"})
		if w.Code != http.StatusCreated {
			t.Fatalf("body %q: status=%d %s", body, w.Code, w.Body.String())
		}
		var room domain.ChatRoom
		if err := json.Unmarshal(w.Body.Bytes(), &room); err != nil {
			t.Fatalf("json: %v", err)
		}
		if room.UserID != "u1" || room.Title != domain.DefaultRoomTitle {
			t.Fatalf("unexpected room %+v", room)
		}
	}

	if w := do(r, http.MethodPost, "/chatrooms", "{bad", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status=%d", w.Code)
	}
}

func TestCreateRoom_ImmersiveStreamsEvents(t *testing.T) {
	rooms := &stubRooms{
		immersive: func(_ context.Context, u string, id uint) (*domain.ChatRoom, <-chan events.Event, error) {
			room := &domain.ChatRoom{ID: uuid.NewString(), UserID: u, CharacterID: &id, Title: "Paul 님과 대화"}
			ch := make(chan events.Event, 4)
			ch <- events.ChatroomCreated(room)
			ch <- events.NewSignal(events.CCCreateStart)
			ch <- events.NewSignal(events.CCCreateDone)
			ch <- events.NewSignal(events.Finish)
			close(ch)
			return room, ch, nil
		},
	}
	r := newTestRouter(New(rooms, &stubConv{}, &stubLib{}, Config{}))

	w := do(r, http.MethodPost, "/chatrooms", `{"character_id":3}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	seq := parseSSE(t, w.Body.String())
	if len(seq) != 4 || seq[0].Type != events.TypeChatroomCreated || !seq[3].Is(events.Finish) {
		t.Fatalf("unexpected events %+v", seq)
	}
	if err := events.Validate(seq); err != nil {
		t.Fatalf("invalid sequence: %v", err)
	}

	// The default stub knows no characters.
	r = newTestRouter(New(&stubRooms{}, &stubConv{}, &stubLib{}, Config{}))
	if w := do(r, http.MethodPost, "/chatrooms", `{"character_id":99}`, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown character: status=%d", w.Code)
	}
}

func TestListRooms_ETag(t *testing.T) {
	db := newHandlerDB(t)
	ctx := context.Background()
	if err := repo.EnsureUser(ctx, db, "u1"); err != nil {
		t.Fatalf("user: %v", err)
	}
	if _, err := repo.CreateChatRoom(ctx, db, "u1", nil, domain.DefaultRoomTitle); err != nil {
		t.Fatalf("room: %v", err)
	}
	r := newTestRouter(New(&stubRooms{}, &stubConv{}, &stubLib{}, Config{DB: db}))

	w := do(r, http.MethodGet, "/chatrooms", "", map[string]string{"X-User-ID": "u1"})
	tag := w.Header().Get("ETag")
	if w.Code != http.StatusOK || tag == "" {
		t.Fatalf("status=%d etag=%q", w.Code, tag)
	}
	var list services.RoomList
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("json: %v", err)
	}

	w = do(r, http.MethodGet, "/chatrooms", "", map[string]string{"X-User-ID": "u1", "If-None-Match": tag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}
}

func TestRoomEndpoints_ValidateAndMapErrors(t *testing.T) {
	rooms := &stubRooms{}
	r := newTestRouter(New(rooms, &stubConv{}, &stubLib{}, Config{}))

	if w := do(r, http.MethodPut, "/chatrooms/not-a-uuid/title", `{"title":"x"}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status=%d", w.Code)
	}
	id := uuid.NewString()
	if w := do(r, http.MethodPut, "/chatrooms/"+id+"/title", `{"title":"Dune night"}`, nil); w.Code != http.StatusNoContent {
		t.Fatalf("rename: status=%d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/chatrooms/"+id, "", nil); w.Code != http.StatusNoContent || len(rooms.deleted) != 1 {
		t.Fatalf("delete: status=%d deleted=%v", w.Code, rooms.deleted)
	}
	if w := do(r, http.MethodGet, "/chatrooms/"+id+"/messages", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("messages of unknown room: status=%d", w.Code)
	}

	w := do(r, http.MethodGet, "/chatrooms/"+id+"/recommended", "", nil)
	var out []RecommendedTurn
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || len(out) != 1 || out[0].ChatID != 7 {
		t.Fatalf("recommended: %d %s", w.Code, w.Body.String())
	}
}

func TestListHistory_Paginates(t *testing.T) {
	rooms := &stubRooms{
		messages: func(_ context.Context, _, id string, p, ps int) ([]domain.ChatHistory, int64, error) {
			return []domain.ChatHistory{{ID: 1, RoomID: id}}, 45, nil
		},
	}
	r := newTestRouter(New(rooms, &stubConv{}, &stubLib{}, Config{}))

	w := do(r, http.MethodGet, "/chatrooms/"+uuid.NewString()+"/messages?page=2&page_size=500", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ListHistoryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	p := resp.Pagination
	if p.Page != 2 || p.PageSize != 100 || p.TotalPages != 1 || p.HasNext {
		t.Fatalf("unexpected pagination %+v", p)
	}
}

// ---------- messages ----------

func TestPostMessage_StreamsEvents(t *testing.T) {
	id := uuid.NewString()
	conv := &stubConv{rooms: map[string]bool{id: true}, seq: plainSeq()}
	r := newTestRouter(New(&stubRooms{}, conv, &stubLib{}, Config{}))

	w := do(r, http.MethodPost, "/chatrooms/"+id+"/messages", `{"message":"  듄 볼만해?\r\n"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d %s", w.Code, w.Body.String())
	}
	seq := parseSSE(t, w.Body.String())
	if err := events.Validate(seq); err != nil {
		t.Fatalf("invalid sequence: %v", err)
	}
	if got := events.Text(seq); got != "볼 만해요" {
		t.Fatalf("text %q", got)
	}
	if len(conv.got) != 1 || conv.got[0] != "듄 볼만해?" {
		t.Fatalf("message not sanitized: %q", conv.got)
	}
}

func TestPostMessage_Rejections(t *testing.T) {
	id := uuid.NewString()
	conv := &stubConv{rooms: map[string]bool{id: true}, seq: plainSeq()}
	r := newTestRouter(New(&stubRooms{}, conv, &stubLib{}, Config{}))

	cases := []struct {
		name, path, body string
		want             int
	}{
		{"bad id", "/chatrooms/x/messages", `{"message":"hi"}`, http.StatusBadRequest},
		{"missing body", "/chatrooms/" + id + "/messages", `{}`, http.StatusBadRequest},
		{"blank", "/chatrooms/" + id + "/messages", `{"message":"   "}`, http.StatusBadRequest},
		{"unknown room", "/chatrooms/" + uuid.NewString() + "/messages", `{"message":"hi"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		if w := do(r, http.MethodPost, tc.path, tc.body, nil); w.Code != tc.want {
			t.Fatalf("%s: status=%d want %d", tc.name, w.Code, tc.want)
		}
	}
	if len(conv.got) != 0 {
		t.Fatalf("rejected requests reached the engine: %v", conv.got)
	}

	conv.err = session.ErrLocked
	if w := do(r, http.MethodPost, "/chatrooms/"+id+"/messages?stream=false", `{"message":"hi"}`, nil); w.Code != http.StatusConflict {
		t.Fatalf("busy room: status=%d", w.Code)
	}
}

func TestPostMessage_JSONWithIdempotentReplay(t *testing.T) {
	db := newHandlerDB(t)
	ctx := context.Background()
	if err := repo.EnsureUser(ctx, db, "u1"); err != nil {
		t.Fatalf("user: %v", err)
	}
	room, err := repo.CreateChatRoom(ctx, db, "u1", nil, domain.DefaultRoomTitle)
	if err != nil {
		t.Fatalf("room: %v", err)
	}
	hist, err := repo.AppendChatHistory(ctx, db, room.ID, "듄 볼만해?", "볼 만해요")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	arrival := &domain.Movie{Title: "컨택트"}
	blade := &domain.Movie{Title: "블레이드 러너 2049"}
	for _, m := range []*domain.Movie{arrival, blade} {
		if err := db.Create(m).Error; err != nil {
			t.Fatalf("movie: %v", err)
		}
	}
	recs := []uint{blade.ID, arrival.ID}
	if err := repo.AddRecommendedMovies(ctx, db, hist.ID, recs); err != nil {
		t.Fatalf("recommendations: %v", err)
	}

	conv := &stubConv{
		rooms:  map[string]bool{room.ID: true},
		seq:    plainSeq(),
		result: services.TurnResult{History: hist, Recommended: recs, Title: "Dune"},
	}
	r := newTestRouter(New(&stubRooms{}, conv, &stubLib{}, Config{DB: db, IdempotencyTTL: time.Hour}))
	hdr := map[string]string{"X-User-ID": "u1", "Idempotency-Key": "k-1"}
	path := "/chatrooms/" + room.ID + "/messages?stream=false"

	w := do(r, http.MethodPost, path, `{"message":"듄 볼만해?"}`, hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d %s", w.Code, w.Body.String())
	}
	var resp PostMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Reply != "볼 만해요" || resp.Title != "Dune" || len(resp.Recommended) != 2 || resp.History == nil {
		t.Fatalf("unexpected response %+v", resp)
	}

	w = do(r, http.MethodPost, path, `{"message":"듄 볼만해?"}`, hdr)
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected replay, got %d %s", w.Code, w.Body.String())
	}
	var replayed PostMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &replayed); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(replayed.Recommended) != 2 || replayed.Recommended[0] != blade.ID || replayed.Recommended[1] != arrival.ID {
		t.Fatalf("replay lost the recorded recommendations: %v", replayed.Recommended)
	}
	if conv.answers != 1 {
		t.Fatalf("replay ran the turn again: answers=%d", conv.answers)
	}

	w = do(r, http.MethodPost, path, `{"message":"다른 영화 추천해줘"}`, hdr)
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), ErrCodeKeyReused) {
		t.Fatalf("reused key: %d %s", w.Code, w.Body.String())
	}
	if conv.answers != 1 {
		t.Fatalf("reused key ran the turn: answers=%d", conv.answers)
	}
}

func TestRoomSocket_RunsTurns(t *testing.T) {
	id := uuid.NewString()
	conv := &stubConv{rooms: map[string]bool{id: true}, seq: plainSeq()}
	srv := httptest.NewServer(newTestRouter(New(&stubRooms{}, conv, &stubLib{}, Config{})))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chatrooms/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() []events.Event {
		var seq []events.Event
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			e, err := events.Decode(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			seq = append(seq, e)
			if e.Is(events.Finish) {
				return seq
			}
		}
	}

	if err := conn.WriteJSON(socketMessage{Message: "듄 볼만해?"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if seq := read(); events.Validate(seq) != nil || events.Text(seq) != "볼 만해요" {
		t.Fatalf("unexpected turn %+v", seq)
	}

	// A blank message is answered with error + finish.
	if err := conn.WriteJSON(socketMessage{Message: " "}); err != nil {
		t.Fatalf("write: %v", err)
	}
	seq := read()
	if len(seq) != 2 || seq[0].Type != events.TypeError {
		t.Fatalf("unexpected rejection %+v", seq)
	}

	// Unknown rooms are refused before the upgrade.
	bad := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chatrooms/" + uuid.NewString() + "/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(bad, nil); err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake failure, got %v", err)
	}
}

// ---------- library ----------

func TestLibraryEndpoints(t *testing.T) {
	lib := &stubLib{archived: map[uint]float64{}}
	r := newTestRouter(New(&stubRooms{}, &stubConv{}, lib, Config{}))

	if w := do(r, http.MethodGet, "/movies/abc", "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status=%d", w.Code)
	}
	if w := do(r, http.MethodGet, "/movies/2", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown movie: status=%d", w.Code)
	}
	if w := do(r, http.MethodGet, "/movies/1/characters", "", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Paul Atreides") {
		t.Fatalf("characters: %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/library/bookmarks/2", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("bookmark unknown: status=%d", w.Code)
	}
	if w := do(r, http.MethodPut, "/library/archives/1", `{"rating":4.5}`, nil); w.Code != http.StatusNoContent {
		t.Fatalf("archive: status=%d", w.Code)
	}
	w := do(r, http.MethodGet, "/library/archives", "", nil)
	var out []ArchivedMovie
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || len(out) != 1 || out[0].Rating != 4.5 {
		t.Fatalf("archives: %d %s", w.Code, w.Body.String())
	}
}
