package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-movie-chat/internal/config"
	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/events"
	"github.com/tbourn/go-movie-chat/internal/fuzzy"
	"github.com/tbourn/go-movie-chat/internal/llm"
	"github.com/tbourn/go-movie-chat/internal/queue"
	"github.com/tbourn/go-movie-chat/internal/repo"
	"github.com/tbourn/go-movie-chat/internal/resolver"
	"github.com/tbourn/go-movie-chat/internal/session"
)

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:services_%s?mode=memory&cache=shared", uuid.NewString())
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

func seedMovie(t *testing.T, db *gorm.DB, title string, tmdbID int64, year int) *domain.Movie {
	t.Helper()
	d := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &domain.Movie{Title: title, TMDBID: &tmdbID, ReleaseDate: &d, TMDBOverview: title + " overview, a story about the desert planet and its people"}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("seed movie: %v", err)
	}
	return m
}

// fakeModel answers by prompt kind and records what it was asked.
type fakeModel struct {
	mu sync.Mutex

	subjects string
	recs     string
	title    string
	persona  string

	tokens    []string
	streamErr error
	failWith  error // Complete and Compose fail with this when set

	streamed  [][]llm.Message
	completes int
}

func (f *fakeModel) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
	if f.failWith != nil {
		return "", f.failWith
	}
	first := msgs[0].Content
	switch {
	case strings.HasPrefix(first, "Identify the movies"):
		return f.subjects, nil
	case strings.HasPrefix(first, "The text below is an answer"):
		if f.recs == "" {
			return `{"movies":[]}`, nil
		}
		return f.recs, nil
	case first == titlePrompt:
		return f.title, nil
	case first == summaryPrompt:
		return "folded summary", nil
	case strings.HasPrefix(first, "Check the character prompt"):
		return "refined persona", nil
	case strings.HasPrefix(first, "Rewrite the character prompt"):
		return f.persona, nil
	}
	return "", nil
}

func (f *fakeModel) Compose(_ context.Context, _ []llm.Message) (string, error) {
	if f.failWith != nil {
		return "", f.failWith
	}
	return "draft persona", nil
}

func (f *fakeModel) Stream(_ context.Context, msgs []llm.Message) (<-chan string, <-chan error) {
	f.mu.Lock()
	f.streamed = append(f.streamed, msgs)
	f.mu.Unlock()

	toks := make(chan string, len(f.tokens))
	errs := make(chan error, 1)
	for _, t := range f.tokens {
		toks <- t
	}
	close(toks)
	if f.streamErr != nil {
		errs <- f.streamErr
	}
	close(errs)
	return toks, errs
}

func (f *fakeModel) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streamed) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range f.streamed[len(f.streamed)-1] {
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// fakeResolver serves indexed titles from the fast path and remote titles
// from the slow path.
type fakeResolver struct {
	mu      sync.Mutex
	indexed map[string]*domain.Movie
	remote  map[string]*domain.Movie
	lookups []string
	fetches []string
}

func (f *fakeResolver) Lookup(_ context.Context, title string, _ fuzzy.Hint) (*resolver.Lookup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, title)
	if m, ok := f.indexed[title]; ok {
		return &resolver.Lookup{Movie: m, Score: 100}, nil
	}
	return &resolver.Lookup{}, nil
}

func (f *fakeResolver) Fetch(_ context.Context, title string, _ fuzzy.Hint, _ *domain.FuzzyIndexEntry) (*domain.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, title)
	if m, ok := f.remote[title]; ok {
		return m, nil
	}
	return nil, resolver.ErrNotFound
}

type fakeContent struct {
	mu      sync.Mutex
	docs    map[string]string
	docErr  error
	reviews []string
	docReqs []string
	revReqs int
}

func (f *fakeContent) LongDocument(_ context.Context, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docReqs = append(f.docReqs, title)
	if f.docErr != nil {
		return "", f.docErr
	}
	return f.docs[title], nil
}

func (f *fakeContent) Reviews(_ context.Context, _ string, _ int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revReqs++
	return f.reviews, nil
}

func (f *fakeContent) ReviewsByID(_ context.Context, _ int64, _ int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revReqs++
	return f.reviews, nil
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (f *fakeJobs) Publish(_ context.Context, j queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, j)
	return nil
}

type engineFixture struct {
	db       *gorm.DB
	model    *fakeModel
	resolver *fakeResolver
	content  *fakeContent
	jobs     *fakeJobs
	sessions *session.MemoryStore
	contexts *session.IndexCache
	engine   *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db := newSvcDB(t)
	f := &engineFixture{
		db:       db,
		model:    &fakeModel{title: "듄 이야기", tokens: []string{"듄은 ", "멋진 영화", "입니다."}},
		resolver: &fakeResolver{indexed: map[string]*domain.Movie{}, remote: map[string]*domain.Movie{}},
		content:  &fakeContent{docs: map[string]string{}},
		jobs:     &fakeJobs{},
		sessions: session.NewMemoryStore(),
		contexts: session.NewIndexCache(16),
	}
	enricher := &Enricher{DB: db, Content: f.content, MaxReviews: 20}
	f.engine = &Engine{
		DB:        db,
		Model:     f.model,
		Resolver:  f.resolver,
		Extractor: &Extractor{Model: f.model, Max: 3},
		Enricher:  enricher,
		Sessions:  f.sessions,
		Contexts:  f.contexts,
		Titles:    &TitleGenerator{Model: f.model},
		Summary:   &Summarizer{Model: f.model, Budget: 3000},
		Jobs:      f.jobs,
		Policy: config.ResolverConfig{
			WeakThreshold:     0.3,
			WorthResolving:    0.65,
			HighConfidence:    0.85,
			ContextChunkCount: 10,
		},
		MaxPromptRunes: 2000,
	}
	return f
}

func (f *engineFixture) plainRoom(t *testing.T, userID string) *domain.ChatRoom {
	t.Helper()
	ctx := context.Background()
	if err := repo.EnsureUser(ctx, f.db, userID); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	r, err := repo.CreateChatRoom(ctx, f.db, userID, nil, domain.DefaultRoomTitle)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return r
}

func mustValid(t *testing.T, seq []events.Event) {
	t.Helper()
	if err := events.Validate(seq); err != nil {
		t.Fatalf("invalid event order: %v\n%v", err, seq)
	}
}

func signals(seq []events.Event) []events.Signal {
	var out []events.Signal
	for _, e := range seq {
		if e.Type != events.TypeSignal {
			continue
		}
		switch c := e.Content.(type) {
		case events.Signal:
			out = append(out, c)
		case string:
			out = append(out, events.Signal(c))
		}
	}
	return out
}

func count(seq []events.Event, s events.Signal) int {
	n := 0
	for _, x := range signals(seq) {
		if x == s {
			n++
		}
	}
	return n
}

func find(seq []events.Event, typ events.Type) (events.Event, bool) {
	for _, e := range seq {
		if e.Type == typ {
			return e, true
		}
	}
	return events.Event{}, false
}
