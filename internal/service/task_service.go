package service

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-file-transfer/internal/event"
	"go-file-transfer/internal/model"
	"go-file-transfer/pkg/apierror"
)

// speedSmoothingAlpha weights the newest sample in the speed EMA.
const speedSmoothingAlpha = 0.25

type taskPersister interface {
	Save(ctx context.Context, record model.TaskRecord) error
	Delete(ctx context.Context, ids ...string) error
	LoadAll(ctx context.Context) ([]model.TaskRecord, error)
}

// TaskRunner executes server-side tasks. The task service hands tasks back to
// the runner when they are retried or resumed.
type TaskRunner interface {
	Enqueue(taskID string)
}

type taskEntry struct {
	task         model.Task
	spec         model.TaskSpec
	lastBytes    int64
	lastSample   time.Time
	lastActivity time.Time
	wake         chan struct{} // closed and replaced on every status change
}

type TaskService struct {
	repo   taskPersister
	bus    event.Bus
	now    func() time.Time
	mu     sync.RWMutex
	tasks  map[string]*taskEntry
	runner TaskRunner

	cancelHooks []func(taskID string)
}

func NewTaskService(repo taskPersister, bus event.Bus) *TaskService {
	return &TaskService{
		repo:  repo,
		bus:   bus,
		now:   time.Now,
		tasks: map[string]*taskEntry{},
	}
}

// SetRunner registers the executor for server-side task types.
func (s *TaskService) SetRunner(runner TaskRunner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runner = runner
}

// OnCancel registers a hook invoked after a task is cancelled or removed, so
// holders of per-task resources can release them.
func (s *TaskService) OnCancel(hook func(taskID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelHooks = append(s.cancelHooks, hook)
}

// Restore loads persisted tasks. Tasks that were pending or running when the
// previous process stopped become interrupted, as do paused server-side
// operations whose worker is gone. Paused uploads stay paused: their chunks
// are on disk and the client resumes them.
func (s *TaskService) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	records, err := s.repo.LoadAll(ctx)
	if err != nil {
		return err
	}

	interrupted := 0
	s.mu.Lock()
	for _, record := range records {
		entry := &taskEntry{task: record.Task, spec: record.Spec, wake: make(chan struct{})}
		orphaned := entry.task.Status == model.TaskPaused && entry.task.Type != model.TaskTypeUpload
		if entry.task.Status == model.TaskPending || entry.task.Status == model.TaskRunning || orphaned {
			entry.task.Status = model.TaskInterrupted
			entry.task.Speed = 0
			entry.task.ETASeconds = nil
			interrupted++
		}
		s.tasks[entry.task.ID] = entry
	}
	s.mu.Unlock()

	if interrupted > 0 {
		s.mu.RLock()
		for _, entry := range s.tasks {
			if entry.task.Status == model.TaskInterrupted {
				s.persist(entry.task, entry.spec)
			}
		}
		s.mu.RUnlock()
	}

	slog.Info("tasks restored", "count", len(records), "interrupted", interrupted)
	return nil
}

func (s *TaskService) Create(_ context.Context, actor model.Actor, template model.Task, spec model.TaskSpec) (model.Task, error) {
	if !template.Type.Valid() {
		return model.Task{}, apierror.New("BAD_REQUEST", "unknown task type", string(template.Type), http.StatusBadRequest)
	}

	task := template
	task.ID = uuid.NewString()
	task.Status = model.TaskPending
	task.Owner = actor.UserID
	task.CreatedAt = s.now().UTC()
	task.ProcessedSize = 0
	task.ProcessedFiles = 0
	task.Progress = 0

	spec = cloneSpec(spec)
	entry := &taskEntry{task: task, spec: spec, lastActivity: s.now(), wake: make(chan struct{})}

	s.mu.Lock()
	s.tasks[task.ID] = entry
	s.mu.Unlock()

	s.persist(task, spec)
	s.publish(event.TypeTaskCreated, task)

	slog.Info("task created", "task_id", task.ID, "type", task.Type, "owner", task.Owner, "total_files", task.TotalFiles, "total_size", task.TotalSize)
	return task, nil
}

func (s *TaskService) Get(actor model.Actor, taskID string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, err := s.authorizedLocked(actor, taskID)
	if err != nil {
		return model.Task{}, err
	}
	return entry.task, nil
}

// Snapshot returns a task and its spec without authorization checks.
func (s *TaskService) Snapshot(taskID string) (model.Task, model.TaskSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tasks[taskID]
	if !ok {
		return model.Task{}, model.TaskSpec{}, false
	}
	return entry.task, cloneSpec(entry.spec), true
}

// Status returns the current status of a task.
func (s *TaskService) Status(taskID string) (model.TaskStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tasks[taskID]
	if !ok {
		return "", false
	}
	return entry.task.Status, true
}

func (s *TaskService) List(actor model.Actor) []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Task, 0, len(s.tasks))
	for _, entry := range s.tasks {
		if actor.IsAdmin() || entry.task.Owner == actor.UserID {
			out = append(out, entry.task)
		}
	}

	sortTasks(out)
	return out
}

func (s *TaskService) ListPaged(actor model.Actor, filter model.TaskFilter) model.TaskPage {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.PageSize > 200 {
		filter.PageSize = 200
	}

	all := s.List(actor)
	matched := make([]model.Task, 0, len(all))
	for _, task := range all {
		if filter.Type != "" && task.Type != filter.Type {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		matched = append(matched, task)
	}

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + filter.PageSize - 1) / filter.PageSize
	}

	return model.TaskPage{
		Tasks:      append([]model.Task(nil), matched[start:end]...),
		Total:      total,
		TotalPages: totalPages,
		IsAdmin:    actor.IsAdmin(),
	}
}

// Pause moves a running task to paused. Pausing a task in any other state is a no-op.
func (s *TaskService) Pause(_ context.Context, actor model.Actor, taskID string) (model.Task, error) {
	task, _, err := s.userTransition(actor, taskID, model.TaskPaused, func(status model.TaskStatus) bool {
		return status == model.TaskRunning
	})
	return task, err
}

// Resume moves a paused task back to running. Resuming a task that is not
// paused is a no-op.
func (s *TaskService) Resume(_ context.Context, actor model.Actor, taskID string) (model.Task, error) {
	task, _, err := s.userTransition(actor, taskID, model.TaskRunning, func(status model.TaskStatus) bool {
		return status == model.TaskPaused
	})
	return task, err
}

func (s *TaskService) Cancel(_ context.Context, actor model.Actor, taskID string) (model.Task, error) {
	task, changed, err := s.userTransition(actor, taskID, model.TaskCancelled, func(status model.TaskStatus) bool {
		return !status.IsTerminal()
	})
	if err != nil {
		return model.Task{}, err
	}

	// Hooks run once, on the call that actually cancelled the task.
	if changed {
		s.runCancelHooks(taskID)
	}
	return task, nil
}

// Retry moves an interrupted or failed task back to pending. Upload tasks
// report the files that still have to be transferred; other task types are
// handed back to the runner.
func (s *TaskService) Retry(_ context.Context, actor model.Actor, taskID string) (model.RetryResponse, error) {
	s.mu.Lock()
	entry, err := s.authorizedLocked(actor, taskID)
	if err != nil {
		s.mu.Unlock()
		return model.RetryResponse{}, err
	}

	status := entry.task.Status
	if status != model.TaskInterrupted && status != model.TaskFailed {
		s.mu.Unlock()
		return model.RetryResponse{}, apierror.New("NOT_RETRYABLE", "only interrupted or failed tasks can be retried", string(status), http.StatusBadRequest)
	}

	entry.task.Status = model.TaskPending
	entry.task.Error = ""
	entry.task.FinishedAt = nil
	entry.task.Speed = 0
	entry.task.ETASeconds = nil
	entry.task.CurrentFile = ""
	entry.lastActivity = s.now()
	entry.lastBytes = 0
	entry.lastSample = time.Time{}
	s.signalLocked(entry)

	response := model.RetryResponse{Task: entry.task}
	if entry.task.Type == model.TaskTypeUpload {
		response.TargetPath = entry.task.TargetPath
		for _, file := range entry.spec.Files {
			if file.Skipped || file.Done {
				continue
			}
			resolved, size := file.Resolved, file.Size
			response.PendingFiles = append(response.PendingFiles, file.Original)
			response.Files = append(response.Files, model.ResolvedFile{Original: file.Original, Resolved: &resolved, Size: &size})
		}
	}

	task, spec, runner := entry.task, cloneSpec(entry.spec), s.runner
	s.mu.Unlock()

	s.persist(task, spec)
	s.publish(event.TypeTaskUpdated, task)

	if task.Type != model.TaskTypeUpload && runner != nil {
		runner.Enqueue(task.ID)
	}

	slog.Info("task retried", "task_id", taskID, "type", task.Type, "pending_files", len(response.PendingFiles))
	return response, nil
}

// Remove deletes a finished or interrupted task.
func (s *TaskService) Remove(ctx context.Context, actor model.Actor, taskID string) error {
	s.mu.Lock()
	entry, err := s.authorizedLocked(actor, taskID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if entry.task.Status.IsActive() {
		s.mu.Unlock()
		return apierror.New("NOT_REMOVABLE", "active tasks must be cancelled before removal", string(entry.task.Status), http.StatusConflict)
	}
	delete(s.tasks, taskID)
	owner := entry.task.Owner
	s.mu.Unlock()

	s.deletePersisted(ctx, taskID)
	s.runCancelHooks(taskID)
	s.bus.Publish(event.Event{Type: event.TypeTaskRemoved, TaskID: taskID, Owner: owner})
	return nil
}

// Clear removes the actor's terminal tasks.
func (s *TaskService) Clear(ctx context.Context, actor model.Actor) int {
	return s.removeWhere(ctx, func(task model.Task) bool {
		return task.Owner == actor.UserID && task.Status.IsTerminal()
	})
}

// ClearAll removes every task that is not active, for all owners.
func (s *TaskService) ClearAll(ctx context.Context, actor model.Actor) (int, error) {
	if !actor.IsAdmin() {
		return 0, apierror.New("FORBIDDEN", "clear_all requires admin role", "", http.StatusForbidden)
	}
	return s.removeWhere(ctx, func(task model.Task) bool {
		return !task.Status.IsActive()
	}), nil
}

// MarkRunning moves a pending task to running. It is a no-op for any other status.
func (s *TaskService) MarkRunning(taskID string) {
	s.mutate(taskID, event.TypeTaskUpdated, func(entry *taskEntry) bool {
		if entry.task.Status != model.TaskPending {
			return false
		}
		now := s.now().UTC()
		entry.task.Status = model.TaskRunning
		if entry.task.StartedAt == nil {
			entry.task.StartedAt = &now
		}
		entry.lastActivity = s.now()
		return true
	})
}

// AddProgress accounts transferred bytes against a running task.
func (s *TaskService) AddProgress(taskID string, bytes int64, currentFile string) {
	s.mutate(taskID, event.TypeTaskProgress, func(entry *taskEntry) bool {
		if entry.task.Status.IsTerminal() {
			return false
		}
		entry.task.ProcessedSize += bytes
		if entry.task.TotalSize > 0 && entry.task.ProcessedSize > entry.task.TotalSize {
			entry.task.ProcessedSize = entry.task.TotalSize
		}
		if currentFile != "" {
			entry.task.CurrentFile = currentFile
		}
		s.updateRatesLocked(entry)
		return true
	})
}

// SetTotals replaces the measured size and file count of a task that has not
// finished yet.
func (s *TaskService) SetTotals(taskID string, totalSize int64, totalFiles int) {
	s.mutate(taskID, event.TypeTaskUpdated, func(entry *taskEntry) bool {
		if entry.task.Status.IsTerminal() {
			return false
		}
		entry.task.TotalSize = totalSize
		entry.task.TotalFiles = totalFiles
		if entry.task.ProcessedSize > totalSize && totalSize > 0 {
			entry.task.ProcessedSize = totalSize
		}
		return true
	})
}

// CompleteItem records one finished file or item. Upload tasks complete once
// every non-skipped file has been stored.
func (s *TaskService) CompleteItem(taskID string, item string) {
	s.mutate(taskID, event.TypeTaskUpdated, func(entry *taskEntry) bool {
		if entry.task.Status.IsTerminal() {
			return false
		}

		if entry.task.Type == model.TaskTypeUpload {
			found := false
			for i := range entry.spec.Files {
				file := &entry.spec.Files[i]
				if file.Resolved == item && !file.Skipped {
					if file.Done {
						return false
					}
					file.Done = true
					found = true
					break
				}
			}
			if !found {
				return false
			}
		} else {
			for _, done := range entry.spec.DoneItems {
				if done == item {
					return false
				}
			}
			entry.spec.DoneItems = append(entry.spec.DoneItems, item)
		}

		if entry.task.ProcessedFiles < entry.task.TotalFiles {
			entry.task.ProcessedFiles++
		}
		s.updateRatesLocked(entry)

		if entry.task.Type == model.TaskTypeUpload && entry.task.ProcessedFiles >= entry.task.TotalFiles && entry.task.Status == model.TaskRunning {
			s.finishLocked(entry, model.TaskCompleted, "")
		}
		return true
	})
}

// Finish moves a running task to completed or failed. Finishing a task that
// is not running is a no-op, which keeps terminal tasks immutable.
func (s *TaskService) Finish(taskID string, status model.TaskStatus, reason string) {
	s.mutate(taskID, event.TypeTaskUpdated, func(entry *taskEntry) bool {
		if !model.CanTransition(entry.task.Status, status) || !status.IsTerminal() {
			return false
		}
		s.finishLocked(entry, status, reason)
		return true
	})
}

// Interrupt marks a pending or running task as interrupted.
func (s *TaskService) Interrupt(taskID string, reason string) {
	s.mutate(taskID, event.TypeTaskUpdated, func(entry *taskEntry) bool {
		if !model.CanTransition(entry.task.Status, model.TaskInterrupted) {
			return false
		}
		entry.task.Status = model.TaskInterrupted
		entry.task.Error = reason
		entry.task.Speed = 0
		entry.task.ETASeconds = nil
		return true
	})
}

// Touch records activity on a task without changing it.
func (s *TaskService) Touch(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.tasks[taskID]; ok {
		entry.lastActivity = s.now()
	}
}

// WaitWhilePaused blocks while the task is paused and returns the status it
// left the paused state with.
func (s *TaskService) WaitWhilePaused(ctx context.Context, taskID string) (model.TaskStatus, error) {
	for {
		s.mu.RLock()
		entry, ok := s.tasks[taskID]
		if !ok {
			s.mu.RUnlock()
			return "", model.ErrTaskNotFound
		}
		status, wake := entry.task.Status, entry.wake
		s.mu.RUnlock()

		if status != model.TaskPaused {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-wake:
		}
	}
}

// SweepStale interrupts pending or running upload tasks that have seen no
// activity for longer than staleAfter. A pending upload whose client vanished
// before sending a chunk would otherwise hold its reserved names forever.
func (s *TaskService) SweepStale(staleAfter time.Duration) int {
	cutoff := s.now().Add(-staleAfter)

	s.mu.RLock()
	var stale []string
	for id, entry := range s.tasks {
		if entry.task.Type != model.TaskTypeUpload || !entry.lastActivity.Before(cutoff) {
			continue
		}
		if entry.task.Status == model.TaskPending || entry.task.Status == model.TaskRunning {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		s.Interrupt(id, "no upload activity")
	}
	if len(stale) > 0 {
		slog.Info("interrupted stale upload tasks", "count", len(stale))
	}
	return len(stale)
}

// StartStaleSweeper runs SweepStale on a regular interval until ctx is cancelled.
func (s *TaskService) StartStaleSweeper(ctx context.Context, staleAfter time.Duration) {
	interval := staleAfter / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepStale(staleAfter)
		}
	}
}

// ── Helpers ──────────────────────────────────────────────────────

func (s *TaskService) userTransition(actor model.Actor, taskID string, to model.TaskStatus, applies func(model.TaskStatus) bool) (model.Task, bool, error) {
	s.mu.Lock()
	entry, err := s.authorizedLocked(actor, taskID)
	if err != nil {
		s.mu.Unlock()
		return model.Task{}, false, err
	}

	from := entry.task.Status
	if !applies(from) {
		task := entry.task
		s.mu.Unlock()
		return task, false, nil
	}
	if !model.CanTransition(from, to) {
		s.mu.Unlock()
		return model.Task{}, false, apierror.New("INVALID_TRANSITION", "task cannot move from "+string(from)+" to "+string(to), taskID, http.StatusConflict)
	}

	entry.task.Status = to
	entry.lastActivity = s.now()
	switch to {
	case model.TaskPaused:
		entry.task.Speed = 0
		entry.task.ETASeconds = nil
	case model.TaskCancelled:
		now := s.now().UTC()
		entry.task.FinishedAt = &now
		entry.task.Speed = 0
		entry.task.ETASeconds = nil
	case model.TaskRunning:
		entry.lastSample = time.Time{}
	}
	s.signalLocked(entry)

	task, spec := entry.task, cloneSpec(entry.spec)
	s.mu.Unlock()

	s.persist(task, spec)
	s.publish(event.TypeTaskUpdated, task)
	slog.Info("task status changed", "task_id", taskID, "from", from, "to", to, "actor", actor.UserID)
	return task, true, nil
}

func (s *TaskService) mutate(taskID string, eventType event.Type, apply func(entry *taskEntry) bool) {
	s.mu.Lock()
	entry, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return
	}

	before := entry.task.Status
	if !apply(entry) {
		s.mu.Unlock()
		return
	}
	entry.lastActivity = s.now()
	if entry.task.Status != before {
		s.signalLocked(entry)
		eventType = event.TypeTaskUpdated
	}
	task, spec := entry.task, cloneSpec(entry.spec)
	s.mu.Unlock()

	s.persist(task, spec)
	s.publish(eventType, task)
}

func (s *TaskService) finishLocked(entry *taskEntry, status model.TaskStatus, reason string) {
	now := s.now().UTC()
	entry.task.Status = status
	entry.task.FinishedAt = &now
	entry.task.Error = reason
	entry.task.Speed = 0
	entry.task.ETASeconds = nil
	if status == model.TaskCompleted {
		entry.task.Progress = 100
		entry.task.CurrentFile = ""
	}
	slog.Info("task finished", "task_id", entry.task.ID, "status", status, "error", reason)
}

// updateRatesLocked recomputes progress, speed and ETA. Progress never
// decreases while a task is running.
func (s *TaskService) updateRatesLocked(entry *taskEntry) {
	task := &entry.task

	var progress float64
	switch {
	case task.TotalSize > 0:
		progress = float64(task.ProcessedSize) / float64(task.TotalSize) * 100
	case task.TotalFiles > 0:
		progress = float64(task.ProcessedFiles) / float64(task.TotalFiles) * 100
	}
	if progress > 100 {
		progress = 100
	}
	if progress > task.Progress {
		task.Progress = progress
	}

	now := s.now()
	if entry.lastSample.IsZero() {
		entry.lastSample = now
		entry.lastBytes = task.ProcessedSize
		return
	}

	elapsed := now.Sub(entry.lastSample).Seconds()
	if elapsed < 0.1 || task.ProcessedSize <= entry.lastBytes {
		return
	}

	instant := float64(task.ProcessedSize-entry.lastBytes) / elapsed
	if task.Speed > 0 {
		task.Speed = speedSmoothingAlpha*instant + (1-speedSmoothingAlpha)*task.Speed
	} else {
		task.Speed = instant
	}
	entry.lastSample = now
	entry.lastBytes = task.ProcessedSize

	if task.Speed > 0 && task.TotalSize > 0 {
		eta := int64(float64(task.TotalSize-task.ProcessedSize) / task.Speed)
		task.ETASeconds = &eta
	}
}

func (s *TaskService) authorizedLocked(actor model.Actor, taskID string) (*taskEntry, error) {
	entry, ok := s.tasks[taskID]
	if !ok || (!actor.IsAdmin() && entry.task.Owner != actor.UserID) {
		return nil, apierror.New("NOT_FOUND", "task not found", taskID, http.StatusNotFound)
	}
	return entry, nil
}

func (s *TaskService) signalLocked(entry *taskEntry) {
	close(entry.wake)
	entry.wake = make(chan struct{})
}

func (s *TaskService) removeWhere(ctx context.Context, match func(model.Task) bool) int {
	s.mu.Lock()
	var removed []model.Task
	for id, entry := range s.tasks {
		if match(entry.task) {
			removed = append(removed, entry.task)
			delete(s.tasks, id)
		}
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(removed))
	for _, task := range removed {
		ids = append(ids, task.ID)
	}
	s.deletePersisted(ctx, ids...)

	for _, task := range removed {
		s.runCancelHooks(task.ID)
		s.bus.Publish(event.Event{Type: event.TypeTaskRemoved, TaskID: task.ID, Owner: task.Owner})
	}
	return len(removed)
}

func (s *TaskService) runCancelHooks(taskID string) {
	s.mu.RLock()
	hooks := append([]func(string){}, s.cancelHooks...)
	s.mu.RUnlock()

	for _, hook := range hooks {
		hook(taskID)
	}
}

func (s *TaskService) persist(task model.Task, spec model.TaskSpec) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(context.Background(), model.TaskRecord{Task: task, Spec: spec}); err != nil {
		slog.Error("persist task failed", "task_id", task.ID, "error", err)
	}
}

func (s *TaskService) deletePersisted(ctx context.Context, ids ...string) {
	if s.repo == nil || len(ids) == 0 {
		return
	}
	if err := s.repo.Delete(ctx, ids...); err != nil {
		slog.Error("delete persisted tasks failed", "count", len(ids), "error", err)
	}
}

func (s *TaskService) publish(eventType event.Type, task model.Task) {
	s.bus.Publish(event.Event{Type: eventType, TaskID: task.ID, Owner: task.Owner, Payload: task})
}

func cloneSpec(spec model.TaskSpec) model.TaskSpec {
	cloned := spec
	cloned.Sources = append([]string(nil), spec.Sources...)
	cloned.Files = append([]model.TaskFile(nil), spec.Files...)
	cloned.DoneItems = append([]string(nil), spec.DoneItems...)
	return cloned
}

func sortTasks(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}
