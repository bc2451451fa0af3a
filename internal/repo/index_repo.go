package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-movie-chat/internal/domain"
)

// InsertIndexEntry stores a fuzzy index entry.
func InsertIndexEntry(ctx context.Context, db *gorm.DB, e *domain.FuzzyIndexEntry) error {
	return db.WithContext(ctx).Create(e).Error
}

// DeleteIndexEntries removes every entry pointing at movieID and returns how
// many rows went away.
func DeleteIndexEntries(ctx context.Context, db *gorm.DB, movieID uint) (int64, error) {
	res := db.WithContext(ctx).Where("movie_id = ?", movieID).Delete(&domain.FuzzyIndexEntry{})
	return res.RowsAffected, res.Error
}

// ListIndexEntries returns all entries in insertion order.
func ListIndexEntries(ctx context.Context, db *gorm.DB) ([]domain.FuzzyIndexEntry, error) {
	var out []domain.FuzzyIndexEntry
	err := db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}
