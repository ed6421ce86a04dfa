package model

import "time"

type TaskType string

const (
	TaskTypeUpload   TaskType = "upload"
	TaskTypeDownload TaskType = "download"
	TaskTypeCopy     TaskType = "copy"
	TaskTypeMove     TaskType = "move"
	TaskTypeDelete   TaskType = "delete"
	TaskTypeExtract  TaskType = "extract"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeUpload, TaskTypeDownload, TaskTypeCopy, TaskTypeMove, TaskTypeDelete, TaskTypeExtract:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskRunning     TaskStatus = "running"
	TaskPaused      TaskStatus = "paused"
	TaskCompleted   TaskStatus = "completed"
	TaskFailed      TaskStatus = "failed"
	TaskCancelled   TaskStatus = "cancelled"
	TaskInterrupted TaskStatus = "interrupted"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskPaused, TaskCompleted, TaskFailed, TaskCancelled, TaskInterrupted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible except removal.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// IsActive reports pending, running and paused tasks.
func (s TaskStatus) IsActive() bool {
	return s == TaskPending || s == TaskRunning || s == TaskPaused
}

var transitions = map[TaskStatus][]TaskStatus{
	TaskPending:     {TaskRunning, TaskCancelled, TaskInterrupted},
	TaskRunning:     {TaskPaused, TaskCompleted, TaskCancelled, TaskFailed, TaskInterrupted},
	TaskPaused:      {TaskRunning, TaskCancelled},
	TaskInterrupted: {TaskPending},
}

// CanTransition reports whether the task state machine allows from -> to.
// failed -> pending is deliberately absent: retrying a failed task goes
// through TaskService.Retry, which is the single exception to terminal
// immutability.
func CanTransition(from TaskStatus, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Task is the backend-owned record of one long-running filesystem operation.
type Task struct {
	ID             string     `json:"id"`
	Type           TaskType   `json:"type"`
	Status         TaskStatus `json:"status"`
	Name           string     `json:"name"`
	SourcePath     string     `json:"source_path"`
	TargetPath     string     `json:"target_path,omitempty"`
	TotalSize      int64      `json:"total_size"`
	ProcessedSize  int64      `json:"processed_size"`
	TotalFiles     int        `json:"total_files"`
	ProcessedFiles int        `json:"processed_files"`
	Progress       float64    `json:"progress"`
	Speed          float64    `json:"speed"`
	ETASeconds     *int64     `json:"eta_seconds,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Error          string     `json:"error,omitempty"`
	Owner          string     `json:"owner"`
	CurrentFile    string     `json:"current_file,omitempty"`
}

func (t Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// TaskFile is the server-side bookkeeping for one file of a batch task.
type TaskFile struct {
	Original string `json:"original"`
	Resolved string `json:"resolved,omitempty"`
	Size     int64  `json:"size"`
	Skipped  bool   `json:"skipped"`
	Done     bool   `json:"done"`
}

// PhaseTag formats the current_file field as "<phase>: <name>".
func PhaseTag(phase string, name string) string {
	if name == "" {
		return phase
	}
	return phase + ": " + name
}

// TaskSpec records what a task was asked to do so it can be resumed after a
// retry or a restart.
type TaskSpec struct {
	Sources          []string   `json:"sources,omitempty"`
	Destination      string     `json:"destination,omitempty"`
	URL              string     `json:"url,omitempty"`
	ConflictStrategy string     `json:"conflict_strategy,omitempty"`
	Files            []TaskFile `json:"files,omitempty"`
	DoneItems        []string   `json:"done_items,omitempty"`
}

// TaskRecord is the persisted form of a task.
type TaskRecord struct {
	Task Task
	Spec TaskSpec
}
