package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const subscriberBuffer = 128

type subscriber struct {
	ch   chan Event
	once sync.Once
}

// InMemoryBus delivers events to every subscriber without blocking the
// publisher. Events for a full subscriber are dropped and counted.
type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	dropped     atomic.Int64
}

func NewBus() *InMemoryBus {
	return &InMemoryBus{subscribers: make(map[*subscriber]struct{})}
}

// Publish stamps missing ids and timestamps before fan-out.
func (b *InMemoryBus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
			slog.Debug("event dropped for slow subscriber", "type", e.Type, "task_id", e.TaskID)
		}
	}
}

// Subscribe registers a buffered channel. The returned func closes it and is
// safe to call more than once.
func (b *InMemoryBus) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	return sub.ch, func() {
		sub.once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Dropped is the number of deliveries skipped because a subscriber was full.
func (b *InMemoryBus) Dropped() int64 {
	return b.dropped.Load()
}
