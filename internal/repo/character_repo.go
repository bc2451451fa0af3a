package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-movie-chat/internal/domain"
)

// GetCharacterProfile loads a character profile with its actor.
func GetCharacterProfile(ctx context.Context, db *gorm.DB, id uint) (*domain.CharacterProfile, error) {
	var p domain.CharacterProfile
	if err := db.WithContext(ctx).Preload("Actor").Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListCharacterProfiles returns the characters of a movie in id order.
func ListCharacterProfiles(ctx context.Context, db *gorm.DB, movieID uint) ([]domain.CharacterProfile, error) {
	var out []domain.CharacterProfile
	err := db.WithContext(ctx).
		Preload("Actor").
		Where("movie_id = ?", movieID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// UpdateCharacterDescription stores the generated persona text.
func UpdateCharacterDescription(ctx context.Context, db *gorm.DB, id uint, description string) error {
	res := db.WithContext(ctx).
		Model(&domain.CharacterProfile{}).
		Where("id = ?", id).
		Update("description", description)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
