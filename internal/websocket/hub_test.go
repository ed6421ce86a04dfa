package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-file-transfer/internal/event"
)

func startHub(t *testing.T) (*Hub, *event.InMemoryBus, context.CancelFunc) {
	t.Helper()

	bus := event.NewBus()
	hub := NewHub(bus)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})
	return hub, bus, cancel
}

func receive(t *testing.T, c *Client) event.Event {
	t.Helper()

	select {
	case message := <-c.send:
		var e event.Event
		require.NoError(t, json.Unmarshal(message, &e))
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return event.Event{}
	}
}

func TestHubScopesEventsByOwner(t *testing.T) {
	hub, bus, _ := startHub(t)

	alice := &Client{hub: hub, send: make(chan []byte, 4), userID: "alice"}
	admin := &Client{hub: hub, send: make(chan []byte, 4), userID: "root", admin: true}
	hub.register <- alice
	hub.register <- admin

	bus.Publish(event.Event{Type: event.TypeTaskCreated, TaskID: "bob-task", Owner: "bob"})
	bus.Publish(event.Event{Type: event.TypeTaskCreated, TaskID: "alice-task", Owner: "alice"})

	assert.Equal(t, "alice-task", receive(t, alice).TaskID)
	assert.Equal(t, "bob-task", receive(t, admin).TaskID)
	assert.Equal(t, "alice-task", receive(t, admin).TaskID)
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	hub, _, cancel := startHub(t)

	client := &Client{hub: hub, send: make(chan []byte, 1), userID: "alice"}
	hub.register <- client
	cancel()

	select {
	case _, open := <-client.send:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("client channel not closed")
	}
}

func TestHubDisconnectsSlowClient(t *testing.T) {
	hub, bus, _ := startHub(t)

	// Nobody reads an unbuffered send channel, so every delivery would block.
	slow := &Client{hub: hub, send: make(chan []byte), userID: "alice"}
	hub.register <- slow

	bus.Publish(event.Event{Type: event.TypeTaskProgress, TaskID: "t", Owner: "alice"})

	assert.Eventually(t, func() bool {
		select {
		case _, open := <-slow.send:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
