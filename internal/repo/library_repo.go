// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file covers a user's personal library: bookmarks,
// archived (watched and rated) movies and the derived watchlist.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-movie-chat/internal/domain"
)

// ClampRating bounds a rating to the 0..5 range accepted by the archive.
func ClampRating(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 5:
		return 5
	default:
		return r
	}
}

// AddBookmark bookmarks a movie for userID. Re-bookmarking is a no-op.
func AddBookmark(ctx context.Context, db *gorm.DB, userID string, movieID uint) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.BookmarkedMovie{UserID: userID, MovieID: movieID, CreatedAt: time.Now().UTC()}).Error
}

// RemoveBookmark deletes a bookmark; ErrNotFound when none existed.
func RemoveBookmark(ctx context.Context, db *gorm.DB, userID string, movieID uint) error {
	res := db.WithContext(ctx).
		Where("user_id = ? AND movie_id = ?", userID, movieID).
		Delete(&domain.BookmarkedMovie{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListBookmarks returns the bookmarked movies of userID, newest first.
func ListBookmarks(ctx context.Context, db *gorm.DB, userID string) ([]domain.Movie, error) {
	var out []domain.Movie
	err := db.WithContext(ctx).
		Joins("JOIN bookmarked_movies b ON b.movie_id = movies.id").
		Where("b.user_id = ?", userID).
		Order("b.created_at DESC").
		Find(&out).Error
	return out, err
}

// UpsertArchive archives a movie with a rating, updating the rating when the
// movie is already archived.
func UpsertArchive(ctx context.Context, db *gorm.DB, userID string, movieID uint, rating float64) error {
	now := time.Now().UTC()
	row := domain.ArchivedMovie{
		UserID:    userID,
		MovieID:   movieID,
		Rating:    ClampRating(rating),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "movie_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"rating", "updated_at"}),
		}).
		Create(&row).Error
}

// RemoveArchive deletes an archive entry; ErrNotFound when none existed.
func RemoveArchive(ctx context.Context, db *gorm.DB, userID string, movieID uint) error {
	res := db.WithContext(ctx).
		Where("user_id = ? AND movie_id = ?", userID, movieID).
		Delete(&domain.ArchivedMovie{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ArchivedEntry is an archived movie with its rating.
type ArchivedEntry struct {
	Movie  domain.Movie
	Rating float64
}

// ListArchives returns the archived movies of userID, most recently rated first.
func ListArchives(ctx context.Context, db *gorm.DB, userID string) ([]ArchivedEntry, error) {
	var rows []domain.ArchivedMovie
	err := db.WithContext(ctx).
		Preload("Movie").
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]ArchivedEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, ArchivedEntry{Movie: r.Movie, Rating: r.Rating})
	}
	return out, nil
}

// ListWatchlist returns movies userID bookmarked but has not archived yet.
func ListWatchlist(ctx context.Context, db *gorm.DB, userID string) ([]domain.Movie, error) {
	var out []domain.Movie
	archived := db.Model(&domain.ArchivedMovie{}).Select("movie_id").Where("user_id = ?", userID)
	err := db.WithContext(ctx).
		Joins("JOIN bookmarked_movies b ON b.movie_id = movies.id").
		Where("b.user_id = ? AND movies.id NOT IN (?)", userID, archived).
		Order("b.created_at DESC").
		Find(&out).Error
	return out, err
}
