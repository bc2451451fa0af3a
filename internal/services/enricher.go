package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/queue"
	"github.com/tbourn/go-movie-chat/internal/repo"
)

// filmSuffix disambiguates encyclopedia titles shared with other subjects.
const filmSuffix = " (영화)"

// Enricher backfills the long document and reviews of canonical movies.
// The engine calls it inline for confident matches; the worker calls Enrich
// for deferred jobs.
type Enricher struct {
	DB         *gorm.DB
	Content    ContentSource
	MaxReviews int
}

// BackfillDocument fetches and stores the long document when the movie has
// none. It reports whether a document is present afterwards.
func (e *Enricher) BackfillDocument(ctx context.Context, m *domain.Movie) (bool, error) {
	if m.HasDocument() {
		return true, nil
	}
	tr := otel.Tracer("services/Enricher")
	ctx, span := tr.Start(ctx, "BackfillDocument",
		trace.WithAttributes(attribute.Int("movie.id", int(m.ID))),
	)
	defer span.End()

	doc, err := e.Content.LongDocument(ctx, m.Title)
	if err != nil {
		return false, err
	}
	if doc == "" {
		doc, err = e.Content.LongDocument(ctx, m.Title+filmSuffix)
		if err != nil {
			return false, err
		}
	}
	if doc == "" {
		return false, nil
	}
	if err := repo.UpdateDocument(ctx, e.DB, m.ID, doc); err != nil {
		return false, fmt.Errorf("store document: %w", err)
	}
	m.WikiDocument = &doc
	return true, nil
}

// StoredReviews returns the reviews already attached to the movie.
func (e *Enricher) StoredReviews(ctx context.Context, m *domain.Movie) ([]string, error) {
	return repo.GetReviews(ctx, e.DB, m.ID, e.MaxReviews)
}

// FetchReviews pulls reviews from the content source and stores them.
func (e *Enricher) FetchReviews(ctx context.Context, m *domain.Movie) ([]string, error) {
	tr := otel.Tracer("services/Enricher")
	ctx, span := tr.Start(ctx, "FetchReviews",
		trace.WithAttributes(attribute.Int("movie.id", int(m.ID))),
	)
	defer span.End()

	var (
		out []string
		err error
	)
	if m.TMDBID != nil {
		out, err = e.Content.ReviewsByID(ctx, *m.TMDBID, e.MaxReviews)
	} else {
		out, err = e.Content.Reviews(ctx, m.Title, e.MaxReviews)
	}
	if err != nil {
		return nil, err
	}
	if err := repo.AddReviews(ctx, e.DB, m.ID, out); err != nil {
		return nil, fmt.Errorf("store reviews: %w", err)
	}
	span.SetAttributes(attribute.Int("reviews", len(out)))
	return out, nil
}

// Enrich is the deferred-job handler: it backfills whatever the movie is
// still missing.
func (e *Enricher) Enrich(ctx context.Context, j queue.Job) error {
	logger := log.Ctx(ctx).With().Uint("movie_id", j.MovieID).Str("job_id", j.JobID).Logger()

	m, err := repo.FindMovieByID(ctx, e.DB, j.MovieID, false)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn().Msg("enrichment target is gone")
			return nil
		}
		return err
	}
	if _, err := e.BackfillDocument(ctx, m); err != nil {
		return err
	}
	stored, err := e.StoredReviews(ctx, m)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		if _, err := e.FetchReviews(ctx, m); err != nil {
			return err
		}
	}
	logger.Info().Bool("document", m.HasDocument()).Msg("movie enriched")
	return nil
}
