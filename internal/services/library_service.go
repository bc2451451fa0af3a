package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-movie-chat/internal/domain"
	"github.com/tbourn/go-movie-chat/internal/repo"
)

// LibraryService exposes movie details and a user's bookmarks, archive and
// watchlist.
type LibraryService struct {
	DB *gorm.DB
}

// Movie returns a movie with its genres, people and platforms.
func (s *LibraryService) Movie(ctx context.Context, id uint) (*domain.Movie, error) {
	m, err := repo.FindMovieByID(ctx, s.DB, id, true)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMovieNotFound
	}
	return m, err
}

// Characters lists the character profiles of a movie.
func (s *LibraryService) Characters(ctx context.Context, movieID uint) ([]domain.CharacterProfile, error) {
	if _, err := s.Movie(ctx, movieID); err != nil {
		return nil, err
	}
	return repo.ListCharacterProfiles(ctx, s.DB, movieID)
}

func (s *LibraryService) Bookmarks(ctx context.Context, userID string) ([]domain.Movie, error) {
	return repo.ListBookmarks(ctx, s.DB, userID)
}

// AddBookmark bookmarks an existing movie.
func (s *LibraryService) AddBookmark(ctx context.Context, userID string, movieID uint) error {
	if err := s.prepare(ctx, userID, movieID); err != nil {
		return err
	}
	return repo.AddBookmark(ctx, s.DB, userID, movieID)
}

func (s *LibraryService) RemoveBookmark(ctx context.Context, userID string, movieID uint) error {
	return notFound(repo.RemoveBookmark(ctx, s.DB, userID, movieID))
}

func (s *LibraryService) Archives(ctx context.Context, userID string) ([]repo.ArchivedEntry, error) {
	return repo.ListArchives(ctx, s.DB, userID)
}

// Archive records a watched movie. The rating is clamped to 0..5.
func (s *LibraryService) Archive(ctx context.Context, userID string, movieID uint, rating float64) error {
	if err := s.prepare(ctx, userID, movieID); err != nil {
		return err
	}
	return repo.UpsertArchive(ctx, s.DB, userID, movieID, repo.ClampRating(rating))
}

func (s *LibraryService) RemoveArchive(ctx context.Context, userID string, movieID uint) error {
	return notFound(repo.RemoveArchive(ctx, s.DB, userID, movieID))
}

// Watchlist returns bookmarked movies the user has not archived.
func (s *LibraryService) Watchlist(ctx context.Context, userID string) ([]domain.Movie, error) {
	return repo.ListWatchlist(ctx, s.DB, userID)
}

func (s *LibraryService) prepare(ctx context.Context, userID string, movieID uint) error {
	if _, err := s.Movie(ctx, movieID); err != nil {
		return err
	}
	return repo.EnsureUser(ctx, s.DB, userID)
}

func notFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrMovieNotFound
	}
	return err
}
