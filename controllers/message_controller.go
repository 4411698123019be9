package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/CUknot/chatroom_backend/models"
	"github.com/CUknot/chatroom_backend/services"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// MessageController serves chat history, sends and the live stream.
type MessageController struct {
	chat *services.ChatService
}

func NewMessageController(chat *services.ChatService) *MessageController {
	return &MessageController{chat: chat}
}

// GetChatHistory godoc
// @Summary Get the history of a room
// @Description Returns every message of the room, oldest first
// @Tags chat
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param input body IDInput true "Room ID"
// @Success 200 {object} Response{data=[]models.MessagePayload}
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /rpc/chat/getChatHistory [post]
func (mc *MessageController) GetChatHistory(c *gin.Context) {
	var input IDInput
	if !bind(c, &input) {
		return
	}

	messages, err := mc.chat.GetHistory(c.Request.Context(), input.ID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, "Success, get chat history", models.Payloads(messages))
}

// SendMessage godoc
// @Summary Send a message
// @Description Persists a message and fans it out to the room's live streams
// @Tags chat
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param input body services.SendMessageInput true "Message"
// @Success 200 {object} Response{data=models.MessagePayload}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse "Room not found"
// @Router /rpc/chat/sendMessage [post]
func (mc *MessageController) SendMessage(c *gin.Context) {
	var input services.SendMessageInput
	if !bind(c, &input) {
		return
	}

	message, err := mc.chat.SendMessage(c.Request.Context(), input)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, "Success, send message", message.Payload())
}

// StreamMessage godoc
// @Summary Stream a room's messages
// @Description Server-sent events. Replays messages after lastMessageId (or the Last-Event-ID header), then streams new ones. Each event has id = message id and event = message; ping events keep the connection open.
// @Tags chat
// @Accept json
// @Produce text/event-stream
// @Security ApiKeyAuth
// @Param input body services.StreamInput true "Subscriber"
// @Param Last-Event-ID header string false "Resume cursor"
// @Success 200 {object} models.MessagePayload
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse "Room not found"
// @Router /rpc/chat/streamMessage [post]
func (mc *MessageController) StreamMessage(c *gin.Context) {
	var input services.StreamInput
	if !bind(c, &input) {
		return
	}
	if input.LastMessageID == nil {
		if id, err := strconv.ParseUint(c.GetHeader("Last-Event-ID"), 10, 64); err == nil {
			cursor := uint(id)
			input.LastMessageID = &cursor
		}
	}

	sink := &sseSink{c: c}
	err := mc.chat.StreamMessages(c.Request.Context(), input, sink)
	if err == nil {
		return
	}
	if !sink.started {
		fail(c, err)
		return
	}
	if !errors.Is(err, c.Request.Context().Err()) {
		log.Debug().Err(err).Uint("room_id", input.RoomID).Uint("user_id", input.UserID).Msg("stream closed")
	}
}

// sseSink writes a message stream as server-sent events.
type sseSink struct {
	c       *gin.Context
	started bool
}

func (s *sseSink) Ready() error {
	h := s.c.Writer.Header()
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
	s.c.Writer.WriteHeaderNow()
	s.c.Writer.Flush()
	s.started = true
	return nil
}

func (s *sseSink) Deliver(m models.MessagePayload) error {
	return s.write(sse.Event{
		Id:    strconv.FormatUint(uint64(m.ID), 10),
		Event: "message",
		Data:  m,
	})
}

func (s *sseSink) KeepAlive() error {
	return s.write(sse.Event{Event: "ping", Data: ""})
}

func (s *sseSink) write(ev sse.Event) error {
	if err := sse.Encode(s.c.Writer, ev); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}
