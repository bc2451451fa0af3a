package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-movie-chat/internal/domain"
)

// Freshness summarizes a listing for conditional GETs: how many rows it has
// and when the newest one changed. Latest is nil for an empty listing.
type Freshness struct {
	Count  int64
	Latest *time.Time
}

// RoomsFreshness covers the rooms owned by userID, keyed on updated_at so a
// rename changes it.
func RoomsFreshness(ctx context.Context, db *gorm.DB, userID string) (Freshness, error) {
	q := db.WithContext(ctx).Model(&domain.ChatRoom{}).Where("user_id = ?", userID)
	return freshness(q, "updated_at")
}

// HistoryFreshness covers the turns of a room.
func HistoryFreshness(ctx context.Context, db *gorm.DB, roomID string) (Freshness, error) {
	q := db.WithContext(ctx).Model(&domain.ChatHistory{}).Where("room_id = ?", roomID)
	return freshness(q, "timestamp")
}

// freshness orders by column instead of using MAX(), which SQLite returns as
// TEXT for datetime columns.
func freshness(q *gorm.DB, column string) (Freshness, error) {
	var f Freshness
	if err := q.Session(&gorm.Session{}).Count(&f.Count).Error; err != nil || f.Count == 0 {
		return Freshness{}, err
	}
	var latest []time.Time
	if err := q.Session(&gorm.Session{}).Order(column+" DESC").Limit(1).Pluck(column, &latest).Error; err != nil {
		return Freshness{}, err
	}
	if len(latest) == 1 {
		f.Latest = &latest[0]
	}
	return f, nil
}
