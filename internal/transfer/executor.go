package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"go-file-transfer/internal/model"
	"go-file-transfer/pkg/apierror"
)

const (
	DefaultMaxAttempts = 3
	DefaultPauseWait   = time.Second
)

// Executor sends single requests with retries. A 498 answer waits without
// spending an attempt; 499 is terminal.
type Executor struct {
	api          API
	maxAttempts  int
	retryDelay   func(attempt int) time.Duration
	pauseWait    time.Duration
	maxPauseWait time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	log          *slog.Logger
}

type ExecutorOptions struct {
	MaxAttempts int
	PauseWait   time.Duration
	// MaxPauseWait bounds how long a paused task is waited on before
	// ErrStalled. Zero waits indefinitely.
	MaxPauseWait time.Duration
	Logger       *slog.Logger
}

func NewExecutor(api API, opts ExecutorOptions) *Executor {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.PauseWait <= 0 {
		opts.PauseWait = DefaultPauseWait
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{
		api:          api,
		maxAttempts:  opts.MaxAttempts,
		retryDelay:   func(attempt int) time.Duration { return time.Duration(attempt+1) * time.Second },
		pauseWait:    opts.PauseWait,
		maxPauseWait: opts.MaxPauseWait,
		now:          time.Now,
		sleep:        sleepContext,
		log:          opts.Logger,
	}
}

// SendChunk uploads chunk index of plan, read from src.
func (e *Executor) SendChunk(ctx context.Context, taskID string, target string, src io.ReaderAt, plan ChunkPlan, index int) error {
	offset, length := plan.Range(index)
	total := plan.TotalChunks
	part := model.UploadPart{
		Path:        path.Dir(target),
		Filename:    path.Base(target),
		ChunkIndex:  &index,
		TotalChunks: &total,
		TotalSize:   plan.Size,
		TaskID:      taskID,
	}
	return e.send(ctx, part, func() io.Reader { return io.NewSectionReader(src, offset, length) })
}

// SendWhole uploads a file that fits in one request.
func (e *Executor) SendWhole(ctx context.Context, taskID string, target string, src io.ReaderAt, size int64) error {
	part := model.UploadPart{
		Path:      path.Dir(target),
		Filename:  path.Base(target),
		TotalSize: size,
		TaskID:    taskID,
	}
	return e.send(ctx, part, func() io.Reader { return io.NewSectionReader(src, 0, size) })
}

func (e *Executor) send(ctx context.Context, part model.UploadPart, body func() io.Reader) error {
	log := e.log.With("task_id", part.TaskID, "file", part.Filename)
	if part.ChunkIndex != nil {
		log = log.With("chunk_index", *part.ChunkIndex)
	}

	var pausedSince time.Time
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ErrCancelled
		}

		result, err := e.api.UploadPart(ctx, part, body())
		if err != nil {
			if ctx.Err() != nil {
				return ErrCancelled
			}
			if !retryable(err) {
				return err
			}

			attempt++
			if attempt >= e.maxAttempts {
				return &TransportError{Op: "upload " + part.Filename, Attempts: attempt, Err: err}
			}
			log.Warn("upload attempt failed", "attempt", attempt, "error", err)
			if e.sleep(ctx, e.retryDelay(attempt-1)) != nil {
				return ErrCancelled
			}
			continue
		}

		switch result.Code {
		case model.UploadCodeOK:
			return nil
		case model.UploadCodeCancelled:
			return ErrCancelled
		case model.UploadCodePaused:
			now := e.now()
			if pausedSince.IsZero() {
				pausedSince = now
				log.Debug("task paused, waiting")
			}
			if e.maxPauseWait > 0 && now.Sub(pausedSince) >= e.maxPauseWait {
				return ErrStalled
			}
			if e.sleep(ctx, e.pauseWait) != nil {
				return ErrCancelled
			}
		default:
			return fmt.Errorf("upload %s: unexpected code %d: %s", part.Filename, result.Code, result.Message)
		}
	}
}

// retryable separates transport failures and overloaded servers from answers
// that will not change on a resend.
func retryable(err error) bool {
	var apiErr *apierror.APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch apiErr.HTTPStatus {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return apiErr.HTTPStatus >= http.StatusInternalServerError
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
