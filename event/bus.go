// Package event is the in-process publish/subscribe bus for chat events.
package event

import (
	"github.com/CUknot/chatroom_backend/models"
	"github.com/CUknot/chatroom_backend/presence"
)

// Event kinds, as carried in metric labels and relay envelopes.
const (
	KindMessage    = "message"
	KindUserJoined = "user-joined"
	KindUserLeft   = "user-left"
	KindUserCount  = "user-count"
)

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 64

// UserEvent announces a user entering or leaving a room.
type UserEvent struct {
	RoomID   uint    `json:"roomId"`
	UserID   uint    `json:"userId"`
	Username string  `json:"username"`
	Avatar   *string `json:"avatar,omitempty"`
}

// Bus groups the topics of the chat core. History replay is produced per
// subscriber by the chat service and never goes through the bus.
type Bus struct {
	Messages   *Topic[models.MessagePayload]
	UserJoined *Topic[UserEvent]
	UserLeft   *Topic[UserEvent]
	UserCount  *Topic[presence.RoomCount]
}

// NewBus returns a bus whose subscribers each queue up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		Messages:   NewTopic[models.MessagePayload](KindMessage, buffer),
		UserJoined: NewTopic[UserEvent](KindUserJoined, buffer),
		UserLeft:   NewTopic[UserEvent](KindUserLeft, buffer),
		UserCount:  NewTopic[presence.RoomCount](KindUserCount, buffer),
	}
}

// PublishCount is shaped to be handed to presence.NewRegistry.
func (b *Bus) PublishCount(c presence.RoomCount) {
	b.UserCount.Publish(c)
}

// Close ends every open subscription on every topic.
func (b *Bus) Close() {
	b.Messages.Close()
	b.UserJoined.Close()
	b.UserLeft.Close()
	b.UserCount.Close()
}
