package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFansOutAndStamps(t *testing.T) {
	bus := NewBus()
	first, unsubFirst := bus.Subscribe()
	second, unsubSecond := bus.Subscribe()
	defer unsubFirst()
	defer unsubSecond()

	bus.Publish(Event{Type: TypeTaskCreated, TaskID: "t1"})

	for _, ch := range []<-chan Event{first, second} {
		e := <-ch
		assert.Equal(t, "t1", e.TaskID)
		assert.NotEmpty(t, e.ID)
		assert.NotEmpty(t, e.Timestamp)
	}
}

func TestBusDropsForFullSubscriber(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe()

	for i := 0; i < subscriberBuffer+5; i++ {
		bus.Publish(Event{Type: TypeTaskProgress, TaskID: "t1"})
	}
	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, int64(5), bus.Dropped())

	unsubscribe()
	unsubscribe()
	for range ch {
	}
	_, open := <-ch
	require.False(t, open)

	bus.Publish(Event{Type: TypeTaskRemoved, TaskID: "t1"})
	assert.Equal(t, int64(5), bus.Dropped())
}
