package taskwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go-file-transfer/internal/model"
	"go-file-transfer/internal/transfer"
)

var ErrNotRetryable = errors.New("only interrupted or failed tasks can be retried")

const commandTimeout = 30 * time.Second

// ControlAPI is the write side of the task API.
type ControlAPI interface {
	PauseTask(ctx context.Context, taskID string) (model.Task, error)
	ResumeTask(ctx context.Context, taskID string) (model.Task, error)
	CancelTask(ctx context.Context, taskID string) (model.Task, error)
	RetryTask(ctx context.Context, taskID string) (model.RetryResponse, error)
	RemoveTask(ctx context.Context, taskID string) error
	ClearTasks(ctx context.Context) (int, error)
	ClearAllTasks(ctx context.Context) (int, error)
}

// Controller sends task commands. Everything except Retry is fire and
// forget: the command runs in the background, failures are logged, and the
// store is poked so the outcome shows up on the next refresh.
type Controller struct {
	api      ControlAPI
	store    *Store
	registry *transfer.Registry
	log      *slog.Logger
	wg       sync.WaitGroup
	failed   atomic.Int32
}

func NewController(api ControlAPI, store *Store, registry *transfer.Registry, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{api: api, store: store, registry: registry, log: log}
}

func (c *Controller) Pause(taskID string) {
	c.dispatch("pause", taskID, func(ctx context.Context) error {
		_, err := c.api.PauseTask(ctx, taskID)
		return err
	})
}

// Resume is a no-op for a task the cache knows is not paused.
func (c *Controller) Resume(taskID string) {
	if task, ok := c.cached(taskID); ok && task.Status != model.TaskPaused {
		c.log.Debug("resume skipped, task not paused", "task_id", taskID, "status", task.Status)
		return
	}
	c.dispatch("resume", taskID, func(ctx context.Context) error {
		_, err := c.api.ResumeTask(ctx, taskID)
		return err
	})
}

// Cancel aborts a local upload at once and tells the server.
func (c *Controller) Cancel(taskID string) {
	if c.registry != nil {
		c.registry.Cancel(taskID)
	}
	c.dispatch("cancel", taskID, func(ctx context.Context) error {
		_, err := c.api.CancelTask(ctx, taskID)
		return err
	})
}

func (c *Controller) Remove(taskID string) {
	c.dispatch("remove", taskID, func(ctx context.Context) error {
		return c.api.RemoveTask(ctx, taskID)
	})
}

func (c *Controller) Clear() {
	c.dispatch("clear", "", func(ctx context.Context) error {
		removed, err := c.api.ClearTasks(ctx)
		if err == nil {
			c.log.Info("cleared finished tasks", "removed", removed)
		}
		return err
	})
}

func (c *Controller) ClearAll() {
	c.dispatch("clear_all", "", func(ctx context.Context) error {
		removed, err := c.api.ClearAllTasks(ctx)
		if err == nil {
			c.log.Info("cleared finished tasks of all users", "removed", removed)
		}
		return err
	})
}

// Retry puts an interrupted or failed task back to pending. For uploads the
// answer carries the target and the files still to send.
func (c *Controller) Retry(ctx context.Context, taskID string) (model.RetryResponse, error) {
	if task, ok := c.cached(taskID); ok && task.Status != model.TaskInterrupted && task.Status != model.TaskFailed {
		return model.RetryResponse{}, fmt.Errorf("task %s is %s: %w", taskID, task.Status, ErrNotRetryable)
	}

	resp, err := c.api.RetryTask(ctx, taskID)
	if err != nil {
		return model.RetryResponse{}, fmt.Errorf("retry %s: %w", taskID, err)
	}
	c.pokeStore()
	return resp, nil
}

// Wait blocks until every dispatched command has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Failed counts dispatched commands that returned an error.
func (c *Controller) Failed() int {
	return int(c.failed.Load())
}

func (c *Controller) dispatch(action string, taskID string, run func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if err := run(ctx); err != nil {
			c.failed.Add(1)
			c.log.Error("task command failed", "action", action, "task_id", taskID, "error", err)
		}
		c.pokeStore()
	}()
}

func (c *Controller) cached(taskID string) (model.Task, bool) {
	if c.store == nil {
		return model.Task{}, false
	}
	return c.store.Get(taskID)
}

func (c *Controller) pokeStore() {
	if c.store != nil {
		c.store.Poke()
	}
}
