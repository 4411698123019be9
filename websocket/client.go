package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/CUknot/chatroom_backend/event"
	"github.com/CUknot/chatroom_backend/models"
	"github.com/CUknot/chatroom_backend/presence"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 10000

	sendBuffer = 256
)

// Frame types.
const (
	FrameMessage     = "message"
	FrameUserJoined  = "user_joined"
	FrameUserLeft    = "user_left"
	FrameUserCount   = "user_count"
	FrameError       = "error"
	FrameSendMessage = "send_message"
)

var (
	errClientClosed = errors.New("websocket client closed")
	errSlowClient   = errors.New("websocket client send queue full")
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Client represents one websocket connection attached to one room.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	cancel   context.CancelFunc
	roomID   uint
	userID   uint
	username string
	avatar   *string
}

func newClient(hub *Hub, conn *websocket.Conn, cancel context.CancelFunc, identity identity) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		cancel:   cancel,
		roomID:   identity.RoomID,
		userID:   identity.UserID,
		username: identity.Username,
		avatar:   identity.Avatar,
	}
}

// readPump pumps frames from the websocket connection to handle
func (c *Client) readPump(handle func(*Client, Frame)) {
	defer func() {
		c.hub.Unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Uint("user_id", c.userID).Msg("websocket read")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("malformed frame")
			continue
		}
		handle(c, frame)
	}
}

// writePump pumps queued frames to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// enqueue hands a frame to writePump. It waits up to wait for queue space;
// zero means it never blocks.
func (c *Client) enqueue(frameType string, payload any, wait time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Frame{Type: frameType, Payload: raw})
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	if wait <= 0 {
		select {
		case c.send <- data:
			return nil
		default:
			return errSlowClient
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errClientClosed
	case <-timer.C:
		return errSlowClient
	}
}

func (c *Client) sendError(message string) {
	_ = c.enqueue(FrameError, map[string]string{"message": message}, 0)
}

// close stops the pumps and the stream. Safe to call more than once.
func (c *Client) close() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
		c.conn.Close()
	})
}

// shutdown tells the peer the server is going away, then closes.
func (c *Client) shutdown() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.close()
}

// presenceFeed holds one client's subscriptions to the presence topics.
type presenceFeed struct {
	joined <-chan event.UserEvent
	left   <-chan event.UserEvent
	counts <-chan presence.RoomCount
}

func subscribePresence(ctx context.Context, bus *event.Bus) presenceFeed {
	return presenceFeed{
		joined: bus.UserJoined.Subscribe(ctx),
		left:   bus.UserLeft.Subscribe(ctx),
		counts: bus.UserCount.Subscribe(ctx),
	}
}

// forwardPresence relays the room's presence events until the feed closes.
func (c *Client) forwardPresence(feed presenceFeed) {
	for {
		var err error
		select {
		case e, ok := <-feed.joined:
			if !ok {
				return
			}
			if e.RoomID == c.roomID {
				err = c.enqueue(FrameUserJoined, e, 0)
			}
		case e, ok := <-feed.left:
			if !ok {
				return
			}
			if e.RoomID == c.roomID {
				err = c.enqueue(FrameUserLeft, e, 0)
			}
		case n, ok := <-feed.counts:
			if !ok {
				return
			}
			if n.RoomID == c.roomID {
				err = c.enqueue(FrameUserCount, n, 0)
			}
		}
		if errors.Is(err, errSlowClient) {
			log.Warn().Uint("user_id", c.userID).Msg("presence frame dropped")
		}
	}
}

// wsSink adapts a Client to services.MessageSink. Messages wait for queue
// space so a long catch-up batch is not cut short.
type wsSink struct {
	client *Client
}

func (s wsSink) Ready() error { return nil }

func (s wsSink) Deliver(m models.MessagePayload) error {
	return s.client.enqueue(FrameMessage, m, writeWait)
}

// KeepAlive is a no-op; writePump sends websocket pings.
func (s wsSink) KeepAlive() error { return nil }
