package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/CUknot/chatroom_backend/models"
	"github.com/CUknot/chatroom_backend/services"
	"github.com/rs/zerolog/log"
)

const sendTimeout = 5 * time.Second

// SendPayload is the payload of an inbound send_message frame.
type SendPayload struct {
	Content string             `json:"content"`
	Type    models.MessageType `json:"type"`
}

// handleFrame processes an incoming websocket frame
func (h *Handler) handleFrame(client *Client, frame Frame) {
	switch frame.Type {
	case FrameSendMessage:
		var payload SendPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			client.sendError("malformed send_message payload")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		// The stored message reaches this client through its own stream.
		_, err := h.chat.SendMessage(ctx, services.SendMessageInput{
			RoomID:   client.roomID,
			UserID:   client.userID,
			Username: client.username,
			Avatar:   client.avatar,
			Content:  payload.Content,
			Type:     payload.Type,
		})
		switch {
		case err == nil:
		case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrRoomNotFound):
			client.sendError(err.Error())
		default:
			log.Error().Err(err).Uint("room_id", client.roomID).Uint("user_id", client.userID).Msg("websocket send message")
			client.sendError("failed to send message")
		}
	default:
		client.sendError("unknown frame type " + frame.Type)
	}
}
