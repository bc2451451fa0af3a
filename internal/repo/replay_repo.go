package repo

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/tbourn/go-movie-chat/internal/domain"
)

// ErrDuplicate is returned when a replay is already recorded for the scope.
var ErrDuplicate = errors.New("duplicate")

// ReplayScope identifies an Idempotency-Key as seen by one user in one room.
type ReplayScope struct {
	UserID string
	RoomID string
	Key    string
}

func (s ReplayScope) valid() bool { return s.UserID != "" && s.RoomID != "" && s.Key != "" }

// FindReplay returns the unexpired replay for scope, or ErrNotFound.
func FindReplay(ctx context.Context, db *gorm.DB, scope ReplayScope, now time.Time) (*domain.TurnReplay, error) {
	if !scope.valid() {
		return nil, ErrNotFound
	}
	var rec domain.TurnReplay
	err := db.WithContext(ctx).
		Where("user_id = ? AND room_id = ? AND key = ? AND expires_at > ?", scope.UserID, scope.RoomID, scope.Key, now).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveReplay records that historyID answered the message hashed as msgHash.
// Expired rows under the same scope are replaced; a live one yields
// ErrDuplicate.
func SaveReplay(ctx context.Context, db *gorm.DB, scope ReplayScope, msgHash string, historyID uint, ttl time.Duration) (*domain.TurnReplay, error) {
	now := time.Now().UTC()
	rec := &domain.TurnReplay{
		ID:          ulid.Make().String(),
		UserID:      scope.UserID,
		RoomID:      scope.RoomID,
		Key:         scope.Key,
		MessageHash: msgHash,
		HistoryID:   historyID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND room_id = ? AND key = ? AND expires_at <= ?", scope.UserID, scope.RoomID, scope.Key, now).
			Delete(&domain.TurnReplay{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredReplays deletes every replay that expired at or before now.
func PurgeExpiredReplays(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.TurnReplay{})
	return res.RowsAffected, res.Error
}
