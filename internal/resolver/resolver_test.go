package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/fuzzy"
	"github.com/tbourn/go-movie-chat/internal/repo"
	"github.com/tbourn/go-movie-chat/internal/search"
)

func newResolverDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:resolver_%s?mode=memory&cache=shared", uuid.NewString())
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

// fakeMeta serves a fixed catalogue and counts remote calls.
type fakeMeta struct {
	byTitle  map[string]domain.MovieMetadata
	byID     map[int64]domain.MovieMetadata
	err      error
	searches int
	idCalls  int
}

func (f *fakeMeta) Search(_ context.Context, q string, _ int) (*domain.MovieMetadata, error) {
	f.searches++
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.byTitle[q]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeMeta) MovieByID(_ context.Context, id int64) (*domain.MovieMetadata, error) {
	f.idCalls++
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeMeta) calls() int { return f.searches + f.idCalls }

func duneMeta() domain.MovieMetadata {
	d := time.Date(2021, 10, 20, 0, 0, 0, 0, time.UTC)
	return domain.MovieMetadata{
		ExternalID:  438631,
		Title:       "듄",
		Overview:    "아라키스 행성의 이야기",
		ReleaseDate: &d,
		Genres:      []string{"SF", "모험"},
		Cast: []domain.CastMember{
			{PersonID: 1190668, Name: "티모시 샬라메", Character: "Paul Atreides", Order: 0},
		},
		Directors: []domain.Person{{PersonID: 137427, Name: "드니 빌뇌브"}},
	}
}

func newFixture(t *testing.T) (*Resolver, *fakeMeta, *gorm.DB, *fuzzy.Index) {
	t.Helper()
	db := newResolverDB(t)
	meta := &fakeMeta{
		byTitle: map[string]domain.MovieMetadata{"듄": duneMeta(), "Dune": duneMeta()},
		byID:    map[int64]domain.MovieMetadata{438631: duneMeta()},
	}
	idx := fuzzy.New(db, nil)
	return New(db, idx, meta), meta, db, idx
}

func entriesFor(t *testing.T, db *gorm.DB) []domain.FuzzyIndexEntry {
	t.Helper()
	es, err := repo.ListIndexEntries(context.Background(), db)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	return es
}

func TestResolve_DuneScenario(t *testing.T) {
	r, meta, db, _ := newFixture(t)
	ctx := context.Background()

	m, err := r.Resolve(ctx, "듄", fuzzy.Hint{Year: 2021})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.TMDBID == nil || *m.TMDBID != 438631 || m.Year() != 2021 {
		t.Fatalf("unexpected movie %+v", m)
	}
	if len(m.Genres) != 2 || len(m.Directors) != 1 || len(m.Characters) != 1 {
		t.Fatalf("associations not stored: %+v", m)
	}
	if meta.searches != 1 {
		t.Fatalf("expected one remote search, got %d", meta.searches)
	}

	es := entriesFor(t, db)
	if len(es) != 1 || es[0].MovieID != m.ID || es[0].Title != "듄" || es[0].Year == nil || *es[0].Year != 2021 {
		t.Fatalf("unexpected index entries %+v", es)
	}
}

func TestResolve_IsIdempotent(t *testing.T) {
	r, meta, db, _ := newFixture(t)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "듄", fuzzy.Hint{Year: 2021})
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	calls := meta.calls()

	second, err := r.Resolve(ctx, "듄", fuzzy.Hint{Year: 2021})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("ids differ: %d vs %d", first.ID, second.ID)
	}
	if meta.calls() != calls {
		t.Fatalf("second resolve hit the remote API")
	}

	lk, err := r.Lookup(ctx, "듄", fuzzy.Hint{})
	if err != nil || lk.Movie == nil || lk.Movie.ID != first.ID {
		t.Fatalf("fast path lookup: %+v %v", lk, err)
	}

	var n int64
	db.Model(&domain.Movie{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected one movie row, got %d", n)
	}
}

func TestResolve_RepairsStaleEntryByExternalID(t *testing.T) {
	r, meta, db, idx := newFixture(t)
	ctx := context.Background()

	// An entry left behind by a movie row that no longer exists.
	tmdbID := int64(438631)
	if err := idx.Insert(ctx, 999, &tmdbID, "듄", fuzzy.Hint{Year: 2021}); err != nil {
		t.Fatalf("seed stale entry: %v", err)
	}

	lk, err := r.Lookup(ctx, "듄", fuzzy.Hint{Year: 2021})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if lk.Movie != nil || lk.Stale == nil || lk.Stale.MovieID != 999 {
		t.Fatalf("expected a stale hit, got %+v", lk)
	}

	m, err := r.Fetch(ctx, "듄", fuzzy.Hint{Year: 2021}, lk.Stale)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if meta.idCalls != 1 || meta.searches != 0 {
		t.Fatalf("expected id-first repair, got id=%d search=%d", meta.idCalls, meta.searches)
	}

	es := entriesFor(t, db)
	if len(es) != 1 || es[0].MovieID != m.ID {
		t.Fatalf("stale entry not replaced: %+v", es)
	}

	// The repaired entry now serves the fast path.
	again, err := r.Resolve(ctx, "듄", fuzzy.Hint{Year: 2021})
	if err != nil || again.ID != m.ID || meta.calls() != 1 {
		t.Fatalf("after repair: %+v %v calls=%d", again, err, meta.calls())
	}
}

func TestResolve_MissPurgesStaleEntry(t *testing.T) {
	r, meta, db, idx := newFixture(t)
	ctx := context.Background()

	if err := idx.Insert(ctx, 777, nil, "사라진 영화", fuzzy.Hint{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := r.Resolve(ctx, "사라진 영화", fuzzy.Hint{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if meta.searches != 1 {
		t.Fatalf("expected one search, got %d", meta.searches)
	}
	if es := entriesFor(t, db); len(es) != 0 {
		t.Fatalf("stale entry survived: %+v", es)
	}
}

func TestResolve_BelowCutoffTakesSlowPath(t *testing.T) {
	r, meta, db, idx := newFixture(t)
	ctx := context.Background()

	other := int64(1)
	mv := &domain.Movie{Title: "Completely Different Picture", TMDBID: &other}
	if err := db.Create(mv).Error; err != nil {
		t.Fatalf("seed movie: %v", err)
	}
	if err := idx.Insert(ctx, mv.ID, mv.TMDBID, mv.Title, fuzzy.Hint{}); err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	lk, err := r.Lookup(ctx, "듄", fuzzy.Hint{})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if lk.Movie != nil || lk.Stale != nil {
		t.Fatalf("entry under the cutoff must not match: %+v", lk)
	}

	m, err := r.Resolve(ctx, "듄", fuzzy.Hint{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.ID == mv.ID || meta.searches != 1 {
		t.Fatalf("expected a remote resolution, got %+v searches=%d", m, meta.searches)
	}
}

func TestResolve_YearHintDisqualifiesOtherYears(t *testing.T) {
	r, meta, _, _ := newFixture(t)
	ctx := context.Background()

	old, err := r.Resolve(ctx, "듄", fuzzy.Hint{Year: 2021})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	lk, err := r.Lookup(ctx, "듄", fuzzy.Hint{Year: 1984})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if lk.Movie != nil {
		t.Fatalf("1984 hint matched the 2021 entry (movie %d)", old.ID)
	}
	if meta.searches != 1 {
		t.Fatalf("lookup must not call the API")
	}
}

func TestResolve_RecordsAliasForQueryTitle(t *testing.T) {
	r, meta, db, _ := newFixture(t)
	ctx := context.Background()

	m, err := r.Resolve(ctx, "Dune", fuzzy.Hint{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	alias, err := repo.FindMovieByAlias(ctx, db, "Dune")
	if err != nil || alias.ID != m.ID {
		t.Fatalf("alias not recorded: %+v %v", alias, err)
	}
	if es := entriesFor(t, db); len(es) != 2 {
		t.Fatalf("expected canonical and alias entries, got %+v", es)
	}

	calls := meta.calls()
	for _, q := range []string{"Dune", "듄"} {
		got, err := r.Resolve(ctx, q, fuzzy.Hint{})
		if err != nil || got.ID != m.ID {
			t.Fatalf("resolve %q: %+v %v", q, got, err)
		}
	}
	if meta.calls() != calls {
		t.Fatalf("alias and canonical title should both take the fast path")
	}
}

func TestResolve_RemoteFailureIsNotFound(t *testing.T) {
	r, meta, _, _ := newFixture(t)
	meta.err = errors.New("timeout")

	if _, err := r.Resolve(context.Background(), "듄", fuzzy.Hint{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), "  ", fuzzy.Hint{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blank title: expected ErrNotFound, got %v", err)
	}
}

func TestResolve_ScoreEqualToCutoffIsNoMatch(t *testing.T) {
	r, _, db, idx := newFixture(t)
	ctx := context.Background()

	ext := int64(438631)
	mv := &domain.Movie{Title: "Dune Part Two", TMDBID: &ext}
	if err := db.Create(mv).Error; err != nil {
		t.Fatalf("seed movie: %v", err)
	}
	if err := idx.Insert(ctx, mv.ID, mv.TMDBID, mv.Title, fuzzy.Hint{}); err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	score := search.Similarity("Dune Part One", mv.Title)
	if score <= 0 || score >= 100 {
		t.Fatalf("fixture needs a partial score, got %v", score)
	}
	r.Cutoff = score
	if lk, err := r.Lookup(ctx, "Dune Part One", fuzzy.Hint{}); err != nil || lk.Movie != nil || lk.Stale != nil {
		t.Fatalf("a score equal to the cutoff must not match: %+v, %v", lk, err)
	}
	r.Cutoff = score - 0.01
	if lk, err := r.Lookup(ctx, "Dune Part One", fuzzy.Hint{}); err != nil || lk.Movie == nil || lk.Movie.ID != mv.ID {
		t.Fatalf("a score above the cutoff must match: %+v, %v", lk, err)
	}
}

func TestResolve_UpsertConflictRereadsWinner(t *testing.T) {
	r, _, db, _ := newFixture(t)
	ctx := context.Background()

	var winner *domain.Movie
	r.upsert = func(ctx context.Context, db *gorm.DB, meta domain.MovieMetadata) (*domain.Movie, error) {
		ext := meta.ExternalID
		winner = &domain.Movie{Title: meta.Title, TMDBID: &ext}
		if err := db.WithContext(ctx).Create(winner).Error; err != nil {
			return nil, err
		}
		return nil, repo.ErrConflict
	}

	m, err := r.Resolve(ctx, "듄", fuzzy.Hint{Year: 2021})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.ID != winner.ID {
		t.Fatalf("want the committed row %d, got %d", winner.ID, m.ID)
	}
	if es := entriesFor(t, db); len(es) != 1 || es[0].MovieID != winner.ID {
		t.Fatalf("index must point at the reread row: %+v", es)
	}
}

func TestResolve_UpsertConflictWithoutRowIsNotFound(t *testing.T) {
	r, _, _, _ := newFixture(t)
	r.upsert = func(context.Context, *gorm.DB, domain.MovieMetadata) (*domain.Movie, error) {
		return nil, repo.ErrConflict
	}
	if _, err := r.Resolve(context.Background(), "듄", fuzzy.Hint{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
