package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CUknot/chatroom_backend/models"
	"gorm.io/gorm"
)

// MessageRepository stores chat messages. Reads are ordered by
// (created_at, id) ascending.
type MessageRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db, now: time.Now}
}

// Create inserts m with a server-assigned CreatedAt. The timestamp is kept
// at microsecond precision so it reads back identically from every driver.
func (r *MessageRepository) Create(ctx context.Context, m *models.Message) error {
	m.ID = 0
	m.CreatedAt = r.now().UTC().Truncate(time.Microsecond)
	if m.Type == "" {
		m.Type = models.MessageTypeText
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// ListByRoom returns the room's whole history.
func (r *MessageRepository) ListByRoom(ctx context.Context, roomID uint) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages of room %d: %w", roomID, err)
	}
	return messages, nil
}

// ListAfter returns the room's messages ordered after the message with id
// afterID. When that message no longer exists the whole history is returned.
func (r *MessageRepository) ListAfter(ctx context.Context, roomID, afterID uint) ([]models.Message, error) {
	var ref models.Message
	err := r.db.WithContext(ctx).Select("id", "created_at").First(&ref, afterID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.ListByRoom(ctx, roomID)
	}
	if err != nil {
		return nil, fmt.Errorf("find cursor message %d: %w", afterID, err)
	}

	var messages []models.Message
	err = r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Where("created_at > ? OR (created_at = ? AND id > ?)", ref.CreatedAt, ref.CreatedAt, ref.ID).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages of room %d after %d: %w", roomID, afterID, err)
	}
	return messages, nil
}

// Latest returns the room's newest message, or nil when it has none.
func (r *MessageRepository) Latest(ctx context.Context, roomID uint) (*models.Message, error) {
	var m models.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&m).Error
	if err != nil {
		return nil, fmt.Errorf("latest message of room %d: %w", roomID, err)
	}
	if m.ID == 0 {
		return nil, nil
	}
	return &m, nil
}
