// Package transfer drives resumable batch uploads against the transfer
// server: planning, chunk scheduling, sending with retries and cancellation.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go-file-transfer/internal/model"
)

var (
	// ErrCancelled unwinds a whole batch. It is terminal.
	ErrCancelled = errors.New("transfer cancelled")
	// ErrPaused signals that the server answered 498 for a request.
	ErrPaused = errors.New("task paused")
	// ErrStalled is returned when a task stayed paused longer than the
	// configured MaxPauseWait.
	ErrStalled = errors.New("task paused for too long")
)

// ValidationError is a local input problem found before anything is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError is returned once every attempt to send a request failed.
type TransportError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// API is the part of the server API an upload needs.
type API interface {
	CreateBatch(ctx context.Context, req model.CreateBatchRequest) (model.CreateBatchResponse, error)
	ChunkStatus(ctx context.Context, req model.ChunkStatusRequest) ([]int, error)
	UploadPart(ctx context.Context, part model.UploadPart, body io.Reader) (model.UploadResult, error)
	FinishBatch(ctx context.Context, req model.FinishBatchRequest) (model.Task, error)
}
