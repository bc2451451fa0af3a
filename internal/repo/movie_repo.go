// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the canonical movie store: lookups by
// internal and external id, the transactional metadata upsert, long-form
// documents, reviews and aliases.
//
// Upsert semantics:
//
//   - A movie is identified by its external (TMDB) id. An unseen id is
//     inserted, a known id has its scalar fields updated.
//   - Genres, directors, platforms and cast-derived characters are replaced
//     wholesale inside the same transaction, so no stale link survives a
//     re-upsert.
//   - A concurrent insert of the same external id surfaces as a UNIQUE
//     violation. The transaction is rolled back and the upsert is retried once
//     against the now-existing row; a second failure returns ErrConflict.
package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-movie-chat/internal/domain"
)

// ErrConflict is returned when an upsert lost a duplicate-insert race twice.
var ErrConflict = errors.New("conflict")

// maxCastOrder bounds the billing positions that become character profiles.
const maxCastOrder = 15

// FindMovieByID loads a movie by internal id. With preload set, genres,
// directors, platforms and characters (with actors) are loaded as well.
func FindMovieByID(ctx context.Context, db *gorm.DB, id uint, preload bool) (*domain.Movie, error) {
	q := db.WithContext(ctx)
	if preload {
		q = withAssociations(q)
	}
	var m domain.Movie
	if err := q.Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// FindMovieByTMDBID loads a movie by external id.
func FindMovieByTMDBID(ctx context.Context, db *gorm.DB, tmdbID int64) (*domain.Movie, error) {
	var m domain.Movie
	if err := db.WithContext(ctx).Where("tmdb_id = ?", tmdbID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// FindMovieByAlias loads the movie an alternate title points at.
func FindMovieByAlias(ctx context.Context, db *gorm.DB, alias string) (*domain.Movie, error) {
	var a domain.MovieAlias
	if err := db.WithContext(ctx).Where("alias = ?", strings.TrimSpace(alias)).First(&a).Error; err != nil {
		return nil, err
	}
	return FindMovieByID(ctx, db, a.MovieID, false)
}

func withAssociations(q *gorm.DB) *gorm.DB {
	return q.
		Preload("Genres").
		Preload("Directors").
		Preload("Platforms").
		Preload("Characters").
		Preload("Characters.Actor")
}

// UpsertMovie inserts or updates the movie described by meta and replaces its
// associations. The returned movie has its associations preloaded.
func UpsertMovie(ctx context.Context, db *gorm.DB, meta domain.MovieMetadata) (*domain.Movie, error) {
	if meta.ExternalID == 0 {
		return nil, errors.New("upsert: missing external id")
	}

	id, err := upsertOnce(ctx, db, meta)
	if err != nil && isUniqueViolation(err) {
		log.Ctx(ctx).Warn().
			Int64("tmdb_id", meta.ExternalID).
			Err(err).
			Msg("duplicate insert race, retrying upsert")
		id, err = upsertOnce(ctx, db, meta)
		if err != nil && isUniqueViolation(err) {
			return nil, ErrConflict
		}
	}
	if err != nil {
		return nil, err
	}
	return FindMovieByID(ctx, db, id, true)
}

func upsertOnce(ctx context.Context, db *gorm.DB, meta domain.MovieMetadata) (uint, error) {
	var id uint
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m domain.Movie
		err := tx.Where("tmdb_id = ?", meta.ExternalID).First(&m).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			ext := meta.ExternalID
			m = domain.Movie{
				TMDBID:       &ext,
				Title:        meta.Title,
				TMDBOverview: meta.Overview,
				ReleaseDate:  meta.ReleaseDate,
				PosterPath:   meta.PosterRef,
				TrailerURL:   meta.TrailerRef,
			}
			if err := tx.Omit(clause.Associations).Create(&m).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := tx.Model(&m).Updates(map[string]any{
				"title":         meta.Title,
				"tmdb_overview": meta.Overview,
				"release_date":  meta.ReleaseDate,
				"poster_path":   meta.PosterRef,
				"trailer_url":   meta.TrailerRef,
			}).Error; err != nil {
				return err
			}
		}

		if err := replaceGenres(tx, &m, meta.Genres); err != nil {
			return err
		}
		if err := replaceDirectors(tx, &m, meta.Directors); err != nil {
			return err
		}
		if err := replacePlatforms(tx, &m, meta.Platforms); err != nil {
			return err
		}
		if err := replaceCharacters(tx, &m, meta.Cast); err != nil {
			return err
		}
		id = m.ID
		return nil
	})
	return id, err
}

func replaceGenres(tx *gorm.DB, m *domain.Movie, names []string) error {
	genres := make([]domain.Genre, 0, len(names))
	seen := map[string]struct{}{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		g := domain.Genre{}
		if err := tx.Where(domain.Genre{Name: n}).FirstOrCreate(&g).Error; err != nil {
			return err
		}
		genres = append(genres, g)
	}
	return replaceAssoc(tx, m, "Genres", genres)
}

func replaceDirectors(tx *gorm.DB, m *domain.Movie, people []domain.Person) error {
	dirs := make([]domain.Director, 0, len(people))
	seen := map[int64]struct{}{}
	for _, p := range people {
		if _, dup := seen[p.PersonID]; dup || p.PersonID == 0 {
			continue
		}
		seen[p.PersonID] = struct{}{}
		d := domain.Director{}
		if err := tx.Where(domain.Director{TMDBID: p.PersonID}).
			Assign(domain.Director{Name: p.Name, ProfilePath: p.ProfilePath}).
			FirstOrCreate(&d).Error; err != nil {
			return err
		}
		dirs = append(dirs, d)
	}
	return replaceAssoc(tx, m, "Directors", dirs)
}

func replacePlatforms(tx *gorm.DB, m *domain.Movie, refs []domain.ProviderRef) error {
	plats := make([]domain.Platform, 0, len(refs))
	seen := map[int64]struct{}{}
	for _, r := range refs {
		if _, dup := seen[r.ID]; dup || r.ID == 0 {
			continue
		}
		seen[r.ID] = struct{}{}
		p := domain.Platform{}
		if err := tx.Where(domain.Platform{TMDBID: r.ID}).
			Assign(domain.Platform{Name: r.Name, LogoPath: r.LogoRef}).
			FirstOrCreate(&p).Error; err != nil {
			return err
		}
		plats = append(plats, p)
	}
	return replaceAssoc(tx, m, "Platforms", plats)
}

// replaceAssoc swaps the many-to-many links of name for values. An empty
// value set clears the links.
func replaceAssoc[T any](tx *gorm.DB, m *domain.Movie, name string, values []T) error {
	a := tx.Model(m).Association(name)
	if len(values) == 0 {
		return a.Clear()
	}
	return a.Replace(values)
}

// replaceCharacters keeps one profile per credited character. Profiles whose
// character left the cast are deleted, except those an immersive room is
// bound to; generated descriptions of surviving profiles are kept.
func replaceCharacters(tx *gorm.DB, m *domain.Movie, cast []domain.CastMember) error {
	keep := make([]string, 0, len(cast))
	seen := map[string]struct{}{}
	for _, c := range cast {
		name := strings.TrimSpace(c.Character)
		if c.Order >= maxCastOrder || name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		var actorID *uint
		if c.PersonID != 0 {
			a := domain.Actor{}
			if err := tx.Where(domain.Actor{TMDBID: c.PersonID}).
				Assign(domain.Actor{Name: c.Name, ProfilePath: c.ProfilePath}).
				FirstOrCreate(&a).Error; err != nil {
				return err
			}
			actorID = &a.ID
		}

		p := domain.CharacterProfile{}
		if err := tx.Where(domain.CharacterProfile{MovieID: m.ID, Name: name}).
			Assign(map[string]any{"actor_id": actorID}).
			FirstOrCreate(&p).Error; err != nil {
			return err
		}
		keep = append(keep, name)
	}

	bound := tx.Model(&domain.ChatRoom{}).Select("character_id").Where("character_id IS NOT NULL")
	q := tx.Where("movie_id = ? AND id NOT IN (?)", m.ID, bound)
	if len(keep) > 0 {
		q = q.Where("name NOT IN ?", keep)
	}
	return q.Delete(&domain.CharacterProfile{}).Error
}

// UpdateDocument stores the long-form document of a movie.
func UpdateDocument(ctx context.Context, db *gorm.DB, id uint, text string) error {
	res := db.WithContext(ctx).
		Model(&domain.Movie{}).
		Where("id = ?", id).
		Update("wiki_document", text)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetReviews returns the stored review texts of a movie, oldest first.
// A non-positive limit returns all of them.
func GetReviews(ctx context.Context, db *gorm.DB, movieID uint, limit int) ([]string, error) {
	var out []string
	q := db.WithContext(ctx).
		Model(&domain.MovieReview{}).
		Where("movie_id = ?", movieID).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Pluck("content", &out).Error
	return out, err
}

// AddReviews appends review texts to a movie, skipping blanks.
func AddReviews(ctx context.Context, db *gorm.DB, movieID uint, texts []string) error {
	rows := make([]domain.MovieReview, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		rows = append(rows, domain.MovieReview{MovieID: movieID, Content: t})
	}
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&rows).Error
}

// AddAlias records alias as an alternate title of movieID. An alias that is
// already known is left untouched.
func AddAlias(ctx context.Context, db *gorm.DB, movieID uint, alias string) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.MovieAlias{MovieID: movieID, Alias: alias}).Error
}

// ListAliases returns the alternate titles recorded for movieID.
func ListAliases(ctx context.Context, db *gorm.DB, movieID uint) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.MovieAlias{}).
		Where("movie_id = ?", movieID).
		Order("id ASC").
		Pluck("alias", &out).Error
	return out, err
}
