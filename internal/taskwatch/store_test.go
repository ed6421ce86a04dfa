package taskwatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-file-transfer/internal/event"
	"go-file-transfer/internal/model"
)

type fakeLister struct {
	mu        sync.Mutex
	tasks     []model.Task
	err       error
	liteCalls atomic.Int32
	pageCalls atomic.Int32
}

func (f *fakeLister) set(tasks ...model.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = tasks
}

func (f *fakeLister) ListTasks(context.Context) ([]model.Task, error) {
	f.liteCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Task(nil), f.tasks...), f.err
}

func (f *fakeLister) ListPaged(_ context.Context, filter model.TaskFilter) (model.TaskPage, error) {
	f.pageCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.TaskPage{}, f.err
	}

	total := len(f.tasks)
	pages := (total + filter.PageSize - 1) / filter.PageSize
	start := (filter.Page - 1) * filter.PageSize
	end := min(start+filter.PageSize, total)
	if start > end {
		start = end
	}
	return model.TaskPage{Tasks: append([]model.Task(nil), f.tasks[start:end]...), Total: total, TotalPages: pages}, nil
}

type fakeSubscriber struct {
	events chan event.Event
}

func (f *fakeSubscriber) Subscribe(context.Context) (<-chan event.Event, error) {
	return f.events, nil
}

func task(id string, status model.TaskStatus) model.Task {
	return model.Task{ID: id, Type: model.TaskTypeUpload, Status: status}
}

func TestSplit(t *testing.T) {
	t.Parallel()

	b := Split([]model.Task{
		task("1", model.TaskPending),
		task("2", model.TaskRunning),
		task("3", model.TaskPaused),
		task("4", model.TaskInterrupted),
		task("5", model.TaskCompleted),
		task("6", model.TaskFailed),
		task("7", model.TaskCancelled),
	})

	ids := func(tasks []model.Task) []string {
		var out []string
		for _, t := range tasks {
			out = append(out, t.ID)
		}
		return out
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids(b.Active))
	assert.Equal(t, []string{"4"}, ids(b.Interrupted))
	assert.Equal(t, []string{"5", "6", "7"}, ids(b.Terminal))
}

func TestStoreRefreshReplacesCache(t *testing.T) {
	t.Parallel()

	api := &fakeLister{}
	api.set(task("a", model.TaskRunning), task("b", model.TaskCompleted))
	store := NewStore(api, Options{})

	require.NoError(t, store.Refresh(t.Context()))
	assert.Len(t, store.Tasks(), 2)

	api.set(task("b", model.TaskCompleted))
	require.NoError(t, store.Refresh(t.Context()))

	_, ok := store.Get("a")
	assert.False(t, ok)
	assert.Len(t, store.Buckets().Terminal, 1)
	assert.Equal(t, int32(2), api.liteCalls.Load())
}

func TestStoreKeepsCacheOnError(t *testing.T) {
	t.Parallel()

	api := &fakeLister{}
	api.set(task("a", model.TaskRunning))
	store := NewStore(api, Options{})
	require.NoError(t, store.Refresh(t.Context()))

	api.mu.Lock()
	api.err = errors.New("server down")
	api.mu.Unlock()

	require.Error(t, store.Refresh(t.Context()))
	_, ok := store.Get("a")
	assert.True(t, ok)
}

func TestStoreManagedCollectsAllPages(t *testing.T) {
	t.Parallel()

	api := &fakeLister{}
	var tasks []model.Task
	for i := range managedPageSize + 5 {
		tasks = append(tasks, task(fmt.Sprintf("t-%d", i), model.TaskCompleted))
	}
	api.set(tasks...)

	store := NewStore(api, Options{Mode: Managed})
	require.NoError(t, store.Refresh(t.Context()))

	assert.Len(t, store.Tasks(), managedPageSize+5)
	assert.Equal(t, int32(2), api.pageCalls.Load())
	assert.Zero(t, api.liteCalls.Load())
}

func TestStoreLightweightKeepsPolling(t *testing.T) {
	t.Parallel()

	api := &fakeLister{}
	api.set(task("done", model.TaskCompleted))
	store := NewStore(api, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.Run(ctx)
	}()

	require.Eventually(t, func() bool { return api.liteCalls.Load() >= 4 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestStoreManagedIdlesUntilPoked(t *testing.T) {
	t.Parallel()

	api := &fakeLister{}
	api.set(task("a", model.TaskRunning))
	store := NewStore(api, Options{Mode: Managed, Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return api.pageCalls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	api.set(task("a", model.TaskCompleted))
	require.Eventually(t, func() bool {
		got, ok := store.Get("a")
		return ok && got.Status == model.TaskCompleted
	}, time.Second, 5*time.Millisecond)

	idleCalls := api.pageCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, idleCalls, api.pageCalls.Load(), "no polling without a live task")

	api.set(task("a", model.TaskCompleted), task("b", model.TaskPending))
	store.Poke()
	require.Eventually(t, func() bool {
		_, ok := store.Get("b")
		return ok
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return api.pageCalls.Load() > idleCalls+2 }, time.Second, 5*time.Millisecond)
}

func TestStorePushTriggersRefresh(t *testing.T) {
	t.Parallel()

	api := &fakeLister{}
	sub := &fakeSubscriber{events: make(chan event.Event, 1)}
	store := NewStore(api, Options{Mode: Managed, Interval: time.Hour, Subscriber: sub})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return api.pageCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

	api.set(task("new", model.TaskPending))
	sub.events <- event.Event{Type: event.TypeTaskCreated, TaskID: "new"}

	require.Eventually(t, func() bool {
		_, ok := store.Get("new")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestStoreManagedRetriesAfterFailedRefresh(t *testing.T) {
	t.Parallel()

	api := &fakeLister{err: errors.New("server down")}
	store := NewStore(api, Options{Mode: Managed, Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return api.pageCalls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	api.mu.Lock()
	api.err = nil
	api.tasks = []model.Task{task("a", model.TaskRunning)}
	api.mu.Unlock()

	require.Eventually(t, func() bool {
		_, ok := store.Get("a")
		return ok
	}, time.Second, 5*time.Millisecond)
}
