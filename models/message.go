package models

import (
	"time"
)

// MessageType distinguishes user text from server generated notices.
type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeSystem MessageType = "SYSTEM"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	return t == MessageTypeText || t == MessageTypeSystem
}

type Message struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	RoomID    uint        `gorm:"not null;index:idx_messages_room_created,priority:1" json:"roomId"`
	UserID    uint        `gorm:"not null" json:"userId"`
	Username  string      `gorm:"size:255;not null" json:"username"`
	Avatar    *string     `gorm:"size:512" json:"avatar"`
	Content   string      `gorm:"type:text;not null" json:"content"`
	Type      MessageType `gorm:"size:16;not null;default:'TEXT'" json:"type"`
	CreatedAt time.Time   `gorm:"index:idx_messages_room_created,priority:2" json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// MessagePayload is the wire shape of a message. CreatedAt is an ISO-8601
// string carrying the full stored precision.
type MessagePayload struct {
	ID        uint        `json:"id"`
	RoomID    uint        `json:"roomId"`
	UserID    uint        `json:"userId"`
	Username  string      `json:"username"`
	Avatar    *string     `json:"avatar,omitempty"`
	Content   string      `json:"content"`
	CreatedAt string      `json:"createdAt"`
	Type      MessageType `json:"type"`
}

// WireTimeFormat is the layout of MessagePayload.CreatedAt.
const WireTimeFormat = time.RFC3339Nano

// Payload converts a stored message to its wire shape.
func (m Message) Payload() MessagePayload {
	return MessagePayload{
		ID:        m.ID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		Username:  m.Username,
		Avatar:    m.Avatar,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC().Format(WireTimeFormat),
		Type:      m.Type,
	}
}

// CreatedTime parses CreatedAt back into an instant.
func (p MessagePayload) CreatedTime() (time.Time, error) {
	return time.Parse(WireTimeFormat, p.CreatedAt)
}

// Payloads converts a batch of stored messages.
func Payloads(messages []Message) []MessagePayload {
	out := make([]MessagePayload, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Payload())
	}
	return out
}
