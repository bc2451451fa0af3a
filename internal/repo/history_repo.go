// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for chat history
// turns and the movies recommended in them.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-movie-chat/internal/domain"
)

// AppendChatHistory persists one turn (user message plus full answer).
func AppendChatHistory(ctx context.Context, db *gorm.DB, roomID, userChat, aiChat string) (*domain.ChatHistory, error) {
	h := &domain.ChatHistory{
		RoomID:    roomID,
		UserChat:  userChat,
		AIChat:    aiChat,
		Timestamp: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(h).Error; err != nil {
		return nil, err
	}
	return h, nil
}

// ListChatHistory returns the turns of a room in chronological order.
// A non-positive limit returns every turn.
func ListChatHistory(ctx context.Context, db *gorm.DB, roomID string, limit int) ([]domain.ChatHistory, error) {
	var out []domain.ChatHistory
	q := db.WithContext(ctx).Where("room_id = ?", roomID).Order("timestamp ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountChatHistory returns the number of turns in a room.
func CountChatHistory(ctx context.Context, db *gorm.DB, roomID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM chat_history WHERE room_id = ?", roomID).Scan(&total).Error
	return total, err
}

// ListChatHistoryPage returns a chronological page of turns.
func ListChatHistoryPage(ctx context.Context, db *gorm.DB, roomID string, offset, limit int) ([]domain.ChatHistory, error) {
	var out []domain.ChatHistory
	err := db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("timestamp ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetChatHistory fetches one turn by id.
func GetChatHistory(ctx context.Context, db *gorm.DB, id uint) (*domain.ChatHistory, error) {
	var h domain.ChatHistory
	if err := db.WithContext(ctx).Where("id = ?", id).First(&h).Error; err != nil {
		return nil, err
	}
	return &h, nil
}

// AddRecommendedMovies links movieIDs to the turn chatID. Duplicates are
// ignored so a replayed turn does not fail.
func AddRecommendedMovies(ctx context.Context, db *gorm.DB, chatID uint, movieIDs []uint) error {
	if len(movieIDs) == 0 {
		return nil
	}
	rows := make([]domain.RecommendedMovie, 0, len(movieIDs))
	seen := make(map[uint]struct{}, len(movieIDs))
	for _, id := range movieIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, domain.RecommendedMovie{ChatID: chatID, MovieID: id})
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

// RecommendedMovieIDs returns the movies recommended in turn chatID in the
// order they were recorded. Never nil.
func RecommendedMovieIDs(ctx context.Context, db *gorm.DB, chatID uint) ([]uint, error) {
	ids := []uint{}
	err := db.WithContext(ctx).
		Model(&domain.RecommendedMovie{}).
		Where("chat_id = ?", chatID).
		Order("id ASC").
		Pluck("movie_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// RecommendationGroup is the set of movies recommended in one turn.
type RecommendationGroup struct {
	ChatID    uint
	Timestamp time.Time
	Movies    []domain.Movie
}

// ListRecommendedMovies returns the recommendations of a room grouped per
// turn, newest turn first.
func ListRecommendedMovies(ctx context.Context, db *gorm.DB, roomID string) ([]RecommendationGroup, error) {
	var rows []domain.RecommendedMovie
	err := db.WithContext(ctx).
		Joins("Chat").
		Preload("Movie").
		Where("Chat.room_id = ?", roomID).
		Order("Chat.timestamp DESC, recommended_movies.id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	var out []RecommendationGroup
	idx := map[uint]int{}
	for _, r := range rows {
		i, ok := idx[r.ChatID]
		if !ok {
			i = len(out)
			idx[r.ChatID] = i
			out = append(out, RecommendationGroup{ChatID: r.ChatID, Timestamp: r.Chat.Timestamp})
		}
		out[i].Movies = append(out[i].Movies, r.Movie)
	}
	return out, nil
}
