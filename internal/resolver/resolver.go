// Package resolver maps a free-text movie mention to a canonical movie.
//
// Resolution is a cascade:
//
//  1. Fast path. The fuzzy index returns the K nearest entries for the
//     composite key of the title. Each neighbour is re-scored with the token
//     similarity against the raw title and the best one at or above the
//     cutoff is looked up in the canonical store. A hit costs no remote call.
//  2. Slow path. The metadata API is asked for the title (by external id
//     first when a stale entry carries one). A result is upserted into the
//     canonical store and the index entries of that movie are rebuilt.
//  3. Miss. A stale entry that pointed nowhere is purged.
//
// Lookup and Fetch are exposed separately so callers can bracket the remote
// call with progress signals; Resolve chains them.
package resolver

import (
	"context"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/fuzzy"
	"github.com/tbourn/go-movie-chat/internal/repo"
	"github.com/tbourn/go-movie-chat/internal/search"
)

// ErrNotFound means neither the index nor the metadata API knows the title.
var ErrNotFound = errors.New("resolver: title not found")

var (
	resolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moviechat_resolve_total",
			Help: "Title resolutions by path (fast, slow, miss).",
		},
		[]string{"path"},
	)
	indexRepairs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "moviechat_index_repairs_total",
			Help: "Fuzzy index entries deleted because they were stale.",
		},
	)
)

func init() {
	prometheus.MustRegister(resolveTotal, indexRepairs)
}

// MetadataSource is the remote movie catalogue. A nil result with a nil
// error means "nothing found".
type MetadataSource interface {
	MovieByID(ctx context.Context, id int64) (*domain.MovieMetadata, error)
	Search(ctx context.Context, query string, year int) (*domain.MovieMetadata, error)
}

// TitleIndex is the fuzzy title index.
type TitleIndex interface {
	Query(ctx context.Context, title string, h fuzzy.Hint, k int) ([]fuzzy.Hit, error)
	Insert(ctx context.Context, movieID uint, tmdbID *int64, title string, h fuzzy.Hint) error
	Delete(ctx context.Context, movieID uint) (int64, error)
}

// Lookup is the outcome of the fast path. Movie is set on a hit. Stale is
// the qualifying index entry whose movie is gone; the slow path uses it and
// then repairs it.
type Lookup struct {
	Movie *domain.Movie
	Stale *domain.FuzzyIndexEntry
	Score float64
}

// Resolver runs the cascade. It is safe for concurrent use.
type Resolver struct {
	DB    *gorm.DB
	Index TitleIndex
	Meta  MetadataSource

	// Cutoff is the 0..100 similarity a fast-path match must exceed.
	Cutoff float64
	// K is the number of neighbours re-scored.
	K int

	// upsert stores remote metadata; nil means repo.UpsertMovie.
	upsert func(context.Context, *gorm.DB, domain.MovieMetadata) (*domain.Movie, error)
}

// New returns a resolver with the default cutoff (65) and K (10).
func New(db *gorm.DB, idx TitleIndex, meta MetadataSource) *Resolver {
	return &Resolver{DB: db, Index: idx, Meta: meta, Cutoff: 65, K: 10}
}

// Resolve runs the fast path and, on a miss, the slow path.
func (r *Resolver) Resolve(ctx context.Context, title string, h fuzzy.Hint) (*domain.Movie, error) {
	lk, err := r.Lookup(ctx, title, h)
	if err != nil {
		return nil, err
	}
	if lk.Movie != nil {
		return lk.Movie, nil
	}
	return r.Fetch(ctx, title, h, lk.Stale)
}

// Lookup runs the fast path only.
func (r *Resolver) Lookup(ctx context.Context, title string, h fuzzy.Hint) (*Lookup, error) {
	tr := otel.Tracer("resolver")
	ctx, span := tr.Start(ctx, "Lookup",
		trace.WithAttributes(
			attribute.String("title", title),
			attribute.Int("year", h.Year),
		),
	)
	defer span.End()

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrNotFound
	}

	hits, err := r.Index.Query(ctx, title, h, r.k())
	if err != nil {
		// An unusable index degrades to the slow path.
		log.Ctx(ctx).Warn().Err(err).Str("title", title).Msg("fuzzy index query failed")
		return &Lookup{}, nil
	}

	best, score := r.best(title, h, hits)
	if best == nil {
		return &Lookup{}, nil
	}

	m, err := repo.FindMovieByID(ctx, r.DB, best.MovieID, true)
	switch {
	case err == nil:
		resolveTotal.WithLabelValues("fast").Inc()
		span.SetAttributes(attribute.Int("movie.id", int(m.ID)), attribute.String("path", "fast"))
		return &Lookup{Movie: m, Score: score}, nil
	case errors.Is(err, repo.ErrNotFound):
		stale := *best
		return &Lookup{Stale: &stale, Score: score}, nil
	default:
		return nil, err
	}
}

// best picks the neighbour with the highest title similarity strictly above
// the cutoff. A known year that contradicts the hint disqualifies an entry.
func (r *Resolver) best(title string, h fuzzy.Hint, hits []fuzzy.Hit) (*domain.FuzzyIndexEntry, float64) {
	var (
		best  *domain.FuzzyIndexEntry
		score float64
	)
	for i := range hits {
		e := &hits[i].Entry
		if h.Year > 0 && e.Year != nil && *e.Year != h.Year {
			continue
		}
		s := search.Similarity(title, e.Title)
		if s <= r.Cutoff {
			continue
		}
		if best == nil || s > score {
			best, score = e, s
		}
	}
	return best, score
}

// Fetch runs the slow path: remote lookup, upsert and index repair.
func (r *Resolver) Fetch(ctx context.Context, title string, h fuzzy.Hint, stale *domain.FuzzyIndexEntry) (*domain.Movie, error) {
	tr := otel.Tracer("resolver")
	ctx, span := tr.Start(ctx, "Fetch",
		trace.WithAttributes(
			attribute.String("title", title),
			attribute.Bool("stale", stale != nil),
		),
	)
	defer span.End()

	logger := log.Ctx(ctx).With().Str("title", title).Logger()

	meta := r.remote(ctx, strings.TrimSpace(title), h, stale)
	if meta == nil {
		if stale != nil {
			r.purge(ctx, stale.MovieID)
		}
		resolveTotal.WithLabelValues("miss").Inc()
		return nil, ErrNotFound
	}

	upsert := r.upsert
	if upsert == nil {
		upsert = repo.UpsertMovie
	}
	m, err := upsert(ctx, r.DB, *meta)
	if errors.Is(err, repo.ErrConflict) {
		m, err = repo.FindMovieByTMDBID(ctx, r.DB, meta.ExternalID)
		if err != nil {
			logger.Warn().Err(err).Int64("tmdb_id", meta.ExternalID).Msg("re-read after upsert conflict failed")
			resolveTotal.WithLabelValues("miss").Inc()
			return nil, ErrNotFound
		}
	}
	if err != nil {
		return nil, err
	}

	if stale != nil && stale.MovieID != m.ID {
		r.purge(ctx, stale.MovieID)
	}
	if err := r.reindex(ctx, m, title, h); err != nil {
		// The canonical row is committed; the next lookup takes the slow path
		// again and retries the index write.
		logger.Warn().Err(err).Uint("movie_id", m.ID).Msg("fuzzy index refresh failed")
	}

	resolveTotal.WithLabelValues("slow").Inc()
	span.SetAttributes(attribute.Int("movie.id", int(m.ID)), attribute.String("path", "slow"))
	return m, nil
}

// remote asks the metadata API, id-first when the stale entry has an
// external id. Errors and timeouts count as "no result".
func (r *Resolver) remote(ctx context.Context, title string, h fuzzy.Hint, stale *domain.FuzzyIndexEntry) *domain.MovieMetadata {
	if r.Meta == nil {
		return nil
	}
	logger := log.Ctx(ctx)

	if stale != nil && stale.TMDBID != nil {
		meta, err := r.Meta.MovieByID(ctx, *stale.TMDBID)
		if err == nil && meta != nil {
			return meta
		}
		if err != nil {
			logger.Debug().Err(err).Int64("tmdb_id", *stale.TMDBID).Msg("metadata lookup by id failed")
		}
	}

	query := title
	if query == "" && stale != nil {
		query = stale.Title
	}
	if query == "" {
		return nil
	}
	meta, err := r.Meta.Search(ctx, query, h.Year)
	if err != nil {
		logger.Debug().Err(err).Str("query", query).Msg("metadata search failed")
		return nil
	}
	return meta
}

// reindex replaces every entry of m with one for its canonical title and one
// per known alias. The query title becomes an alias when it differs.
func (r *Resolver) reindex(ctx context.Context, m *domain.Movie, query string, h fuzzy.Hint) error {
	query = strings.TrimSpace(query)
	if query != "" && query != m.Title {
		if err := repo.AddAlias(ctx, r.DB, m.ID, query); err != nil {
			return err
		}
	}
	aliases, err := repo.ListAliases(ctx, r.DB, m.ID)
	if err != nil {
		return err
	}

	n, err := r.Index.Delete(ctx, m.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		indexRepairs.Add(float64(n))
	}

	hint := fuzzy.Hint{Year: m.Year(), Series: h.Series}
	if err := r.Index.Insert(ctx, m.ID, m.TMDBID, m.Title, hint); err != nil {
		return err
	}
	for _, a := range aliases {
		if a == m.Title {
			continue
		}
		if err := r.Index.Insert(ctx, m.ID, m.TMDBID, a, hint); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) purge(ctx context.Context, movieID uint) {
	n, err := r.Index.Delete(ctx, movieID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Uint("movie_id", movieID).Msg("purging stale index entry failed")
		return
	}
	indexRepairs.Add(float64(n))
}

func (r *Resolver) k() int {
	if r.K <= 0 {
		return 10
	}
	return r.K
}
