package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"go-file-transfer/internal/event"
)

// Hub fans task events out to websocket clients. All client bookkeeping
// happens on the Run goroutine.
type Hub struct {
	bus        event.Bus
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(bus event.Bus) *Hub {
	return &Hub{
		bus:        bus,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run dispatches events until ctx is cancelled or the bus closes the
// subscription.
func (h *Hub) Run(ctx context.Context) {
	events, unsubscribe := h.bus.Subscribe()
	defer close(h.done)
	defer unsubscribe()
	defer h.dropAll()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			slog.Debug("websocket client registered", "user_id", c.userID, "clients", len(h.clients))
		case c := <-h.unregister:
			h.drop(c)
		case e, ok := <-events:
			if !ok {
				return
			}
			h.broadcast(e)
		}
	}
}

func (h *Hub) broadcast(e event.Event) {
	var message []byte
	for c := range h.clients {
		if !c.wants(e) {
			continue
		}
		if message == nil {
			var err error
			if message, err = json.Marshal(e); err != nil {
				slog.Error("failed to marshal event", "type", e.Type, "task_id", e.TaskID, "error", err)
				return
			}
		}

		select {
		case c.send <- message:
		default:
			// Slow consumers are disconnected and fall back to polling.
			slog.Debug("websocket client too slow, disconnecting", "user_id", c.userID)
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) dropAll() {
	for c := range h.clients {
		h.drop(c)
	}
}
