package repository

import (
	"context"
	"fmt"

	"github.com/CUknot/chatroom_backend/models"
	"gorm.io/gorm"
)

type RoomRepository struct {
	db *gorm.DB
}

func NewRoomRepository(db *gorm.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// Get returns ErrNotFound when the room does not exist.
func (r *RoomRepository) Get(ctx context.Context, id uint) (models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return models.Room{}, translate(err)
	}
	return room, nil
}

// ListPublic returns every non-private room ordered by id.
func (r *RoomRepository) ListPublic(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := r.db.WithContext(ctx).Where("is_private = ?", false).Order("id ASC").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("list public rooms: %w", err)
	}
	return rooms, nil
}
