// Package services holds the business operations behind the RPC procedures.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CUknot/chatroom_backend/event"
	"github.com/CUknot/chatroom_backend/metrics"
	"github.com/CUknot/chatroom_backend/models"
	"github.com/CUknot/chatroom_backend/presence"
	"github.com/CUknot/chatroom_backend/repository"
	"github.com/rs/zerolog/log"
)

// MessageStore persists chat messages.
type MessageStore interface {
	Create(ctx context.Context, m *models.Message) error
	ListByRoom(ctx context.Context, roomID uint) ([]models.Message, error)
	ListAfter(ctx context.Context, roomID, afterID uint) ([]models.Message, error)
	Latest(ctx context.Context, roomID uint) (*models.Message, error)
}

// RoomStore reads chat rooms.
type RoomStore interface {
	Get(ctx context.Context, id uint) (models.Room, error)
	ListPublic(ctx context.Context) ([]models.Room, error)
}

// MessageSink is the transport end of a message stream. All methods are
// called from the goroutine running StreamMessages.
type MessageSink interface {
	// Ready is called once the catch-up batch is known, before any Deliver.
	Ready() error
	Deliver(m models.MessagePayload) error
	KeepAlive() error
}

type SendMessageInput struct {
	RoomID   uint               `json:"roomId" binding:"required"`
	UserID   uint               `json:"userId" binding:"required"`
	Username string             `json:"username" binding:"required"`
	Avatar   *string            `json:"avatar"`
	Content  string             `json:"content" binding:"required"`
	Type     models.MessageType `json:"type"`
}

type StreamInput struct {
	RoomID        uint    `json:"roomId" binding:"required"`
	UserID        uint    `json:"userId" binding:"required"`
	Username      string  `json:"username" binding:"required"`
	Avatar        *string `json:"avatar"`
	LastMessageID *uint   `json:"lastMessageId"`
}

type JoinRoomInput struct {
	RoomID   uint    `json:"roomId" binding:"required"`
	UserID   uint    `json:"userId" binding:"required"`
	Username string  `json:"username" binding:"required"`
	Avatar   *string `json:"avatar"`
}

type LeaveRoomInput struct {
	RoomID uint `json:"roomId" binding:"required"`
	UserID uint `json:"userId" binding:"required"`
}

type JoinResult struct {
	Success bool `json:"success"`
}

// PublicRoom is a room as listed in the lobby.
type PublicRoom struct {
	models.Room
	OnlineCount int                    `json:"onlineCount"`
	LastMessage *models.MessagePayload `json:"lastMessage"`
}

// ChatService runs the chat real-time core: history, sends, live streams
// and presence.
type ChatService struct {
	messages  MessageStore
	rooms     RoomStore
	presence  *presence.Registry
	bus       *event.Bus
	keepAlive time.Duration
}

type ChatOption func(*ChatService)

// WithKeepAlive makes StreamMessages call MessageSink.KeepAlive every d.
func WithKeepAlive(d time.Duration) ChatOption {
	return func(s *ChatService) { s.keepAlive = d }
}

func NewChatService(messages MessageStore, rooms RoomStore, registry *presence.Registry, bus *event.Bus, opts ...ChatOption) *ChatService {
	s := &ChatService{
		messages: messages,
		rooms:    rooms,
		presence: registry,
		bus:      bus,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ChatService) requireRoom(ctx context.Context, roomID uint) (models.Room, error) {
	room, err := s.rooms.Get(ctx, roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.Room{}, fmt.Errorf("room %d: %w", roomID, ErrRoomNotFound)
	}
	if err != nil {
		return models.Room{}, fmt.Errorf("load room %d: %w", roomID, err)
	}
	return room, nil
}

// GetRoom returns the room or ErrRoomNotFound.
func (s *ChatService) GetRoom(ctx context.Context, roomID uint) (models.Room, error) {
	return s.requireRoom(ctx, roomID)
}

// GetHistory returns the room's whole history in ascending order.
func (s *ChatService) GetHistory(ctx context.Context, roomID uint) ([]models.Message, error) {
	return s.messages.ListByRoom(ctx, roomID)
}

// SendMessage persists a message and publishes it to live subscribers.
func (s *ChatService) SendMessage(ctx context.Context, in SendMessageInput) (models.Message, error) {
	if strings.TrimSpace(in.Content) == "" {
		return models.Message{}, fmt.Errorf("empty content: %w", ErrInvalidInput)
	}
	if in.Type == "" {
		in.Type = models.MessageTypeText
	}
	if !in.Type.Valid() {
		return models.Message{}, fmt.Errorf("message type %q: %w", in.Type, ErrInvalidInput)
	}
	if _, err := s.requireRoom(ctx, in.RoomID); err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		RoomID:   in.RoomID,
		UserID:   in.UserID,
		Username: in.Username,
		Avatar:   in.Avatar,
		Content:  in.Content,
		Type:     in.Type,
	}
	if err := s.messages.Create(ctx, &msg); err != nil {
		return models.Message{}, err
	}
	metrics.MessagesSentTotal.Inc()

	s.bus.Messages.Publish(msg.Payload())
	return msg, nil
}

// StreamMessages registers the caller in the room, replays what it missed
// since LastMessageID and then forwards live messages until ctx is done, the
// sink fails or the bus closes. Presence is released on every exit path.
func (s *ChatService) StreamMessages(ctx context.Context, in StreamInput, sink MessageSink) error {
	if _, err := s.requireRoom(ctx, in.RoomID); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := log.With().Uint("room_id", in.RoomID).Uint("user_id", in.UserID).Logger()

	// Subscribe before the catch-up query so nothing published meanwhile is lost.
	live := s.bus.Messages.Subscribe(ctx)

	logger.Debug().Str("state", "joining").Msg("stream")
	s.presence.Join(in.RoomID, in.UserID, in.Username, in.Avatar)
	metrics.StreamSubscribers.Inc()
	s.bus.UserJoined.Publish(event.UserEvent{
		RoomID:   in.RoomID,
		UserID:   in.UserID,
		Username: in.Username,
		Avatar:   in.Avatar,
	})

	defer func() {
		metrics.StreamSubscribers.Dec()
		left := event.UserEvent{RoomID: in.RoomID, UserID: in.UserID, Username: in.Username, Avatar: in.Avatar}
		if entry, ok := s.presence.Leave(in.RoomID, in.UserID); ok {
			left.Username = entry.Username
			left.Avatar = entry.Avatar
		}
		s.bus.UserLeft.Publish(left)
		logger.Debug().Str("state", "left").Msg("stream")
	}()

	var backlog []models.Message
	if in.LastMessageID != nil && *in.LastMessageID != 0 {
		logger.Debug().Str("state", "catching_up").Uint("last_message_id", *in.LastMessageID).Msg("stream")
		var err error
		backlog, err = s.messages.ListAfter(ctx, in.RoomID, *in.LastMessageID)
		if err != nil {
			return fmt.Errorf("catch up room %d: %w", in.RoomID, err)
		}
	}

	if err := sink.Ready(); err != nil {
		return err
	}

	replayed := make(map[uint]struct{}, len(backlog))
	for _, m := range backlog {
		if err := sink.Deliver(m.Payload()); err != nil {
			return err
		}
		replayed[m.ID] = struct{}{}
	}

	logger.Debug().Str("state", "streaming").Int("replayed", len(backlog)).Msg("stream")

	var tick <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if err := sink.KeepAlive(); err != nil {
				return err
			}
		case m, ok := <-live:
			if !ok {
				return nil
			}
			if m.RoomID != in.RoomID {
				continue
			}
			if _, dup := replayed[m.ID]; dup {
				continue
			}
			if err := sink.Deliver(m); err != nil {
				return err
			}
		}
	}
}

// GetPublicRooms lists non-private rooms with their presence count and
// newest message.
func (s *ChatService) GetPublicRooms(ctx context.Context) ([]PublicRoom, error) {
	rooms, err := s.rooms.ListPublic(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]PublicRoom, 0, len(rooms))
	for _, room := range rooms {
		pr := PublicRoom{Room: room, OnlineCount: s.presence.CountOnline(room.ID)}
		latest, err := s.messages.Latest(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			p := latest.Payload()
			pr.LastMessage = &p
		}
		out = append(out, pr)
	}
	return out, nil
}

// JoinRoom adds the user to a room's presence. A missing room is reported
// as an unsuccessful join, not an error.
func (s *ChatService) JoinRoom(ctx context.Context, in JoinRoomInput) (JoinResult, error) {
	if _, err := s.requireRoom(ctx, in.RoomID); err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			log.Debug().Uint("room_id", in.RoomID).Uint("user_id", in.UserID).Msg("join unknown room")
			return JoinResult{Success: false}, nil
		}
		return JoinResult{}, err
	}

	s.presence.Join(in.RoomID, in.UserID, in.Username, in.Avatar)
	s.bus.UserJoined.Publish(event.UserEvent{
		RoomID:   in.RoomID,
		UserID:   in.UserID,
		Username: in.Username,
		Avatar:   in.Avatar,
	})
	return JoinResult{Success: true}, nil
}

// LeaveRoom removes the user from a room's presence. It always succeeds.
func (s *ChatService) LeaveRoom(ctx context.Context, in LeaveRoomInput) JoinResult {
	if entry, ok := s.presence.Leave(in.RoomID, in.UserID); ok {
		s.bus.UserLeft.Publish(event.UserEvent{
			RoomID:   in.RoomID,
			UserID:   in.UserID,
			Username: entry.Username,
			Avatar:   entry.Avatar,
		})
	}
	return JoinResult{Success: true}
}

// OnlineMembers returns who is present in a room, oldest join first.
func (s *ChatService) OnlineMembers(ctx context.Context, roomID uint) ([]presence.Entry, error) {
	if _, err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return s.presence.Members(roomID), nil
}
