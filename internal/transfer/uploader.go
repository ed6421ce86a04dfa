package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"go-file-transfer/internal/model"
)

// FileResult is the outcome of one file. Err is set for failed files.
type FileResult struct {
	File    PlannedFile
	Outcome string
	Err     error
}

// Report summarizes a finished batch.
type Report struct {
	TaskID  string
	Results []FileResult
	Outcome model.TaskStatus
	Task    model.Task
}

// Observer receives per-file progress. Calls may come from several workers.
type Observer interface {
	FileStarted(file PlannedFile, plan ChunkPlan)
	FileProgress(file PlannedFile, n int64)
	FileFinished(result FileResult)
}

type nopObserver struct{}

func (nopObserver) FileStarted(PlannedFile, ChunkPlan) {}
func (nopObserver) FileProgress(PlannedFile, int64)    {}
func (nopObserver) FileFinished(FileResult)            {}

type Options struct {
	ChunkSize int64
	// Workers bounds how many files upload at once. The default of 1 keeps
	// files strictly sequential.
	Workers  int
	Executor ExecutorOptions
	Observer Observer
	Logger   *slog.Logger
}

type Uploader struct {
	api       API
	planner   *Planner
	scheduler *Scheduler
	executor  *Executor
	registry  *Registry
	workers   int
	observer  Observer
	log       *slog.Logger
}

func NewUploader(api API, registry *Registry, opts Options) *Uploader {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Executor.Logger == nil {
		opts.Executor.Logger = opts.Logger
	}
	if registry == nil {
		registry = NewRegistry(0)
	}

	return &Uploader{
		api:       api,
		planner:   NewPlanner(api),
		scheduler: NewScheduler(api, opts.ChunkSize),
		executor:  NewExecutor(api, opts.Executor),
		registry:  registry,
		workers:   opts.Workers,
		observer:  opts.Observer,
		log:       opts.Logger,
	}
}

// Plan resolves destinations without sending file data. Upload calls it; it
// is exposed so callers can record the task id before the transfer starts.
func (u *Uploader) Plan(ctx context.Context, req BatchRequest) (Batch, error) {
	return u.planner.Plan(ctx, req)
}

// Upload plans the batch and transfers it.
func (u *Uploader) Upload(ctx context.Context, req BatchRequest) (Report, error) {
	batch, err := u.planner.Plan(ctx, req)
	if err != nil {
		return Report{}, err
	}
	return u.Run(ctx, batch)
}

// Resume re-enters the pipeline for a retried upload task. files carry the
// names the server reserved when the task was created; chunks already on the
// server are skipped by the chunk status query. With no files left the batch
// is only reported as finished.
func (u *Uploader) Resume(ctx context.Context, taskID string, targetPath string, files []PlannedFile) (Report, error) {
	if taskID == "" {
		return Report{}, &ValidationError{Field: "task_id", Reason: "must not be empty"}
	}
	return u.Run(ctx, Batch{TaskID: taskID, TargetPath: targetPath, Files: files})
}

// Run transfers a planned batch and reports the derived outcome. A
// cancelled batch returns ErrCancelled and reports nothing to the server,
// which already owns the cancelled state.
func (u *Uploader) Run(ctx context.Context, batch Batch) (Report, error) {
	ctx, release := u.registry.Register(ctx, batch.TaskID)
	defer release()

	log := u.log.With("task_id", batch.TaskID)
	results := make([]FileResult, len(batch.Files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.workers)

	for i, file := range batch.Files {
		if file.Skipped {
			results[i] = FileResult{File: file, Outcome: model.FileOutcomeSkipped}
			u.observer.FileFinished(results[i])
			continue
		}
		if gctx.Err() != nil || u.registry.IsCancelled(batch.TaskID) {
			break
		}

		g.Go(func() error {
			result := u.uploadFile(gctx, batch.TaskID, file)
			results[i] = result
			switch {
			case errors.Is(result.Err, ErrCancelled), errors.Is(result.Err, ErrStalled):
				return result.Err
			case result.Err != nil:
				log.Warn("file upload failed", "file", file.Path, "error", result.Err)
			}
			u.observer.FileFinished(result)
			return nil
		})
	}

	err := g.Wait()
	report := Report{TaskID: batch.TaskID, Results: results}

	if errors.Is(err, ErrStalled) {
		return report, ErrStalled
	}
	if err != nil || ctx.Err() != nil || u.registry.IsCancelled(batch.TaskID) {
		log.Info("upload cancelled")
		return report, ErrCancelled
	}

	report.Outcome = Outcome(results)
	reports := make([]model.FileReport, len(results))
	for i, r := range results {
		reports[i] = model.FileReport{Path: r.File.Path, Outcome: r.Outcome}
		if r.Err != nil {
			reports[i].Error = r.Err.Error()
		}
	}

	task, err := u.api.FinishBatch(ctx, model.FinishBatchRequest{TaskID: batch.TaskID, Results: reports})
	if err != nil {
		return report, fmt.Errorf("finish batch: %w", err)
	}
	report.Task = task
	log.Info("upload finished", "outcome", report.Outcome, "files", len(results))
	return report, nil
}

func (u *Uploader) uploadFile(ctx context.Context, taskID string, file PlannedFile) FileResult {
	result := FileResult{File: file, Outcome: model.FileOutcomeOK}
	fail := func(err error) FileResult {
		result.Outcome = model.FileOutcomeFailed
		result.Err = err
		return result
	}

	src, err := os.Open(file.Source)
	if err != nil {
		return fail(fmt.Errorf("open source: %w", err))
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fail(fmt.Errorf("stat source: %w", err))
	}
	if info.Size() != file.Size {
		return fail(fmt.Errorf("source changed size: planned %d bytes, found %d", file.Size, info.Size()))
	}

	plan, err := u.scheduler.Plan(ctx, file.Resolved, file.Size)
	if err != nil {
		if ctx.Err() != nil {
			return fail(ErrCancelled)
		}
		return fail(err)
	}
	u.observer.FileStarted(file, plan)
	if done := plan.UploadedBytes(); done > 0 {
		u.observer.FileProgress(file, done)
	}

	if !plan.Chunked() {
		if err := u.executor.SendWhole(ctx, taskID, file.Resolved, src, file.Size); err != nil {
			return fail(err)
		}
		u.observer.FileProgress(file, file.Size)
		return result
	}

	for _, index := range plan.Pending() {
		if ctx.Err() != nil {
			return fail(ErrCancelled)
		}
		if err := u.executor.SendChunk(ctx, taskID, file.Resolved, src, plan, index); err != nil {
			return fail(err)
		}
		_, n := plan.Range(index)
		u.observer.FileProgress(file, n)
	}
	return result
}

// Outcome derives the batch status from file results: any failure fails the
// batch, otherwise it completed.
func Outcome(results []FileResult) model.TaskStatus {
	for _, r := range results {
		if r.Outcome == model.FileOutcomeFailed {
			return model.TaskFailed
		}
	}
	return model.TaskCompleted
}
