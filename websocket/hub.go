package websocket

import (
	"context"
	"sync/atomic"
)

// Hub maintains the set of active clients so they can be closed together
// on shutdown.
type Hub struct {
	// Registered clients, owned by Run
	clients map[*Client]bool

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	count atomic.Int64
	done  chan struct{}
}

// NewHub creates a new hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run tracks clients until ctx is done, then sends every client a going-away
// close frame.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.count.Add(1)
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.count.Add(-1)
			}
		case <-ctx.Done():
			for client := range h.clients {
				client.shutdown()
				delete(h.clients, client)
			}
			h.count.Store(0)
			return
		}
	}
}

// Register adds a client. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client; it is a no-op after the hub stopped.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
