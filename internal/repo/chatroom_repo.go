// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the ChatRoom
// model and the users that own rooms.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a room is not found (or not owned by the caller), functions return
//     gorm.ErrRecordNotFound (exported as ErrNotFound).
//   - On DB errors the raw gorm error is propagated.
//
// Usage:
//
//	room, err := repo.CreateChatRoom(ctx, db, userID, nil, domain.DefaultRoomTitle)
//	if errors.Is(err, repo.ErrNotFound) {
//	    // handle missing
//	}
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-movie-chat/internal/domain"
)

// EnsureUser inserts the user row if it does not exist yet.
func EnsureUser(ctx context.Context, db *gorm.DB, userID string) error {
	u := domain.User{ID: userID, CreatedAt: time.Now().UTC()}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&u).Error
}

// CreateChatRoom inserts a new room owned by userID. A non-nil characterID
// makes the room immersive. The room ID is a random UUID.
func CreateChatRoom(ctx context.Context, db *gorm.DB, userID string, characterID *uint, title string) (*domain.ChatRoom, error) {
	now := time.Now().UTC()
	r := &domain.ChatRoom{
		ID:          uuid.NewString(),
		UserID:      userID,
		CharacterID: characterID,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// ListChatRooms returns all rooms of userID, most recently updated first.
func ListChatRooms(ctx context.Context, db *gorm.DB, userID string) ([]domain.ChatRoom, error) {
	var out []domain.ChatRoom
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc").
		Find(&out).Error
	return out, err
}

// GetChatRoom fetches a room by id and owner. The bound character (and its
// actor) is preloaded so immersive turns can build the persona prompt.
func GetChatRoom(ctx context.Context, db *gorm.DB, id, userID string) (*domain.ChatRoom, error) {
	var r domain.ChatRoom
	err := db.WithContext(ctx).
		Preload("Character").
		Preload("Character.Actor").
		Where("id = ? AND user_id = ?", id, userID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetChatRoomByID fetches a room regardless of owner. Used by background
// paths that already validated ownership.
func GetChatRoomByID(ctx context.Context, db *gorm.DB, id string) (*domain.ChatRoom, error) {
	var r domain.ChatRoom
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateChatRoomTitle sets the title of a room. If no rows are affected it
// returns ErrNotFound.
func UpdateChatRoomTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.ChatRoom{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{"title": title, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateRoomSummary stores the serialized session snapshot and bumps
// updated_at.
func UpdateRoomSummary(ctx context.Context, db *gorm.DB, id string, snapshot []byte) error {
	res := db.WithContext(ctx).
		Model(&domain.ChatRoom{}).
		Where("id = ?", id).
		Updates(map[string]any{"summary": datatypes.JSON(snapshot), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteChatRoom removes a room owned by userID. History and recommendations
// go with it through the ON DELETE CASCADE constraints.
func DeleteChatRoom(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.ChatRoom{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
