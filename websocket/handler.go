// Package websocket streams a room over a websocket connection, as an
// alternative to the server-sent events procedure.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/CUknot/chatroom_backend/event"
	"github.com/CUknot/chatroom_backend/services"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// identity is who the connection speaks for, taken from the query string.
type identity struct {
	RoomID        uint
	UserID        uint
	Username      string
	Avatar        *string
	LastMessageID *uint
}

// Handler upgrades /ws/chat requests and runs one stream per connection.
type Handler struct {
	chat     *services.ChatService
	bus      *event.Bus
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler accepts upgrades from the given origins; an empty list or "*"
// allows any origin.
func NewHandler(chat *services.ChatService, bus *event.Bus, hub *Hub, origins []string) *Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Handler{
		chat: chat,
		bus:  bus,
		hub:  hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
	}
}

func parseIdentity(c *gin.Context) (identity, error) {
	var id identity

	roomID, err := strconv.ParseUint(c.Query("roomId"), 10, 32)
	if err != nil || roomID == 0 {
		return id, errors.New("roomId is required")
	}
	userID, err := strconv.ParseUint(c.Query("userId"), 10, 32)
	if err != nil || userID == 0 {
		return id, errors.New("userId is required")
	}
	id.RoomID = uint(roomID)
	id.UserID = uint(userID)

	id.Username = c.Query("username")
	if id.Username == "" {
		return id, errors.New("username is required")
	}
	if avatar := c.Query("avatar"); avatar != "" {
		id.Avatar = &avatar
	}
	if raw := c.Query("lastMessageId"); raw != "" {
		last, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return id, errors.New("invalid lastMessageId")
		}
		cursor := uint(last)
		id.LastMessageID = &cursor
	}
	return id, nil
}

// HandleConnection handles websocket connections
func (h *Handler) HandleConnection(c *gin.Context) {
	id, err := parseIdentity(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "status": http.StatusBadRequest, "message": err.Error()})
		return
	}
	if _, err := h.chat.GetRoom(c.Request.Context(), id.RoomID); err != nil {
		if errors.Is(err, services.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "status": http.StatusNotFound, "message": "room not found"})
			return
		}
		log.Error().Err(err).Uint("room_id", id.RoomID).Msg("websocket room lookup")
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_SERVER_ERROR", "status": http.StatusInternalServerError, "message": "internal server error"})
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	// The request context ends when this handler returns.
	ctx, cancel := context.WithCancel(context.Background())
	client := newClient(h.hub, conn, cancel, id)
	if !h.hub.Register(client) {
		client.shutdown()
		return
	}

	// Subscribed before the stream joins so the client sees its own arrival.
	feed := subscribePresence(ctx, h.bus)

	go client.writePump()
	go client.readPump(h.handleFrame)
	go client.forwardPresence(feed)
	go h.stream(ctx, client, id)
}

func (h *Handler) stream(ctx context.Context, client *Client, id identity) {
	defer client.close()

	err := h.chat.StreamMessages(ctx, services.StreamInput{
		RoomID:        id.RoomID,
		UserID:        id.UserID,
		Username:      id.Username,
		Avatar:        id.Avatar,
		LastMessageID: id.LastMessageID,
	}, wsSink{client: client})
	if err != nil && !errors.Is(err, errClientClosed) {
		log.Warn().Err(err).Uint("room_id", id.RoomID).Uint("user_id", id.UserID).Msg("websocket stream ended")
		client.sendError(err.Error())
	}
}
