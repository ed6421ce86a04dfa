package taskwatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-file-transfer/internal/model"
	"go-file-transfer/internal/transfer"
)

type fakeControl struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeControl) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeControl) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeControl) PauseTask(_ context.Context, id string) (model.Task, error) {
	return model.Task{ID: id}, f.record("pause " + id)
}

func (f *fakeControl) ResumeTask(_ context.Context, id string) (model.Task, error) {
	return model.Task{ID: id}, f.record("resume " + id)
}

func (f *fakeControl) CancelTask(_ context.Context, id string) (model.Task, error) {
	return model.Task{ID: id}, f.record("cancel " + id)
}

func (f *fakeControl) RetryTask(_ context.Context, id string) (model.RetryResponse, error) {
	if err := f.record("retry " + id); err != nil {
		return model.RetryResponse{}, err
	}
	return model.RetryResponse{Task: model.Task{ID: id, Status: model.TaskPending}, TargetPath: "/in", PendingFiles: []string{"b.txt"}}, nil
}

func (f *fakeControl) RemoveTask(_ context.Context, id string) error {
	return f.record("remove " + id)
}

func (f *fakeControl) ClearTasks(context.Context) (int, error) {
	return 2, f.record("clear")
}

func (f *fakeControl) ClearAllTasks(context.Context) (int, error) {
	return 5, f.record("clear_all")
}

func newControllerFixture(t *testing.T, tasks ...model.Task) (*Controller, *fakeControl, *transfer.Registry) {
	t.Helper()

	lister := &fakeLister{}
	lister.set(tasks...)
	store := NewStore(lister, Options{})
	require.NoError(t, store.Refresh(t.Context()))

	api := &fakeControl{}
	registry := transfer.NewRegistry(0)
	return NewController(api, store, registry, nil), api, registry
}

func TestControllerFireAndForget(t *testing.T) {
	t.Parallel()

	c, api, _ := newControllerFixture(t, task("p", model.TaskPaused))
	c.Pause("r")
	c.Resume("p")
	c.Remove("x")
	c.Clear()
	c.ClearAll()
	c.Wait()

	assert.ElementsMatch(t, []string{"pause r", "resume p", "remove x", "clear", "clear_all"}, api.recorded())
	assert.Zero(t, c.Failed())
}

func TestControllerResumeSkipsNonPaused(t *testing.T) {
	t.Parallel()

	c, api, _ := newControllerFixture(t, task("run", model.TaskRunning))
	c.Resume("run")
	c.Resume("unknown")
	c.Wait()

	assert.Equal(t, []string{"resume unknown"}, api.recorded())
}

func TestControllerCancelAbortsLocalUpload(t *testing.T) {
	t.Parallel()

	c, api, registry := newControllerFixture(t, task("up", model.TaskRunning))
	ctx, release := registry.Register(t.Context(), "up")
	defer release()

	c.Cancel("up")
	require.Error(t, ctx.Err(), "the local batch stops before the server answers")
	c.Wait()

	assert.Equal(t, []string{"cancel up"}, api.recorded())
	assert.True(t, registry.IsCancelled("up"))
}

func TestControllerLogsFailures(t *testing.T) {
	t.Parallel()

	c, api, _ := newControllerFixture(t)
	api.err = errors.New("server down")

	c.Pause("a")
	c.Remove("b")
	c.Wait()

	assert.Equal(t, 2, c.Failed())
}

func TestControllerRetryGuard(t *testing.T) {
	t.Parallel()

	c, api, _ := newControllerFixture(t,
		task("running", model.TaskRunning),
		task("done", model.TaskCompleted),
		task("lost", model.TaskInterrupted),
		task("broken", model.TaskFailed),
	)

	for _, id := range []string{"running", "done"} {
		_, err := c.Retry(t.Context(), id)
		assert.ErrorIs(t, err, ErrNotRetryable, id)
	}

	resp, err := c.Retry(t.Context(), "lost")
	require.NoError(t, err)
	assert.Equal(t, "/in", resp.TargetPath)
	assert.Equal(t, []string{"b.txt"}, resp.PendingFiles)

	_, err = c.Retry(t.Context(), "broken")
	require.NoError(t, err)

	assert.Equal(t, []string{"retry lost", "retry broken"}, api.recorded())
}
