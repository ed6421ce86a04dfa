package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"go-file-transfer/internal/model"
	"go-file-transfer/internal/storage"
	"go-file-transfer/internal/util"
	"go-file-transfer/pkg/apierror"
)

const maxBatchFiles = 10000

// BatchService registers upload batches. Destination names are resolved and
// reserved in one step so concurrent batches never receive the same name.
type BatchService struct {
	store storage.Storage
	tasks *TaskService

	mu       sync.Mutex
	reserved map[string]string // resolved api path -> owning task id
}

func NewBatchService(store storage.Storage, tasks *TaskService) *BatchService {
	return &BatchService{
		store:    store,
		tasks:    tasks,
		reserved: map[string]string{},
	}
}

func (s *BatchService) CreateUploadBatch(ctx context.Context, actor model.Actor, req model.CreateBatchRequest) (model.CreateBatchResponse, error) {
	strategy, err := normalizeConflictStrategy(req.ConflictStrategy)
	if err != nil {
		return model.CreateBatchResponse{}, err
	}

	if len(req.Files) == 0 {
		return model.CreateBatchResponse{}, apierror.New("BAD_REQUEST", "files must not be empty", "", http.StatusBadRequest)
	}
	if len(req.Files) > maxBatchFiles {
		return model.CreateBatchResponse{}, apierror.New("BAD_REQUEST", fmt.Sprintf("a batch holds at most %d files", maxBatchFiles), "", http.StatusBadRequest)
	}

	target := storage.NormalizeAPIPath(req.TargetPath)
	if _, err := s.store.Resolve(target); err != nil {
		return model.CreateBatchResponse{}, err
	}
	if info, statErr := s.store.Stat(target); statErr == nil && !info.IsDir() {
		return model.CreateBatchResponse{}, apierror.New("BAD_REQUEST", "target_path is not a directory", target, http.StatusBadRequest)
	}

	relatives := make([]string, len(req.Files))
	seen := make(map[string]struct{}, len(req.Files))
	for i, file := range req.Files {
		if file.Size < 0 {
			return model.CreateBatchResponse{}, apierror.New("BAD_REQUEST", "file size must not be negative", file.Path, http.StatusBadRequest)
		}
		rel, err := util.SanitizeRelativePath(file.Path)
		if err != nil {
			return model.CreateBatchResponse{}, err
		}
		if _, dup := seen[rel]; dup {
			return model.CreateBatchResponse{}, apierror.New("BAD_REQUEST", "duplicate file path in batch", file.Path, http.StatusBadRequest)
		}
		seen[rel] = struct{}{}
		relatives[i] = rel
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictStaleLocked()

	claimed := make(map[string]struct{}, len(req.Files))
	taken := func(candidate string) bool {
		if _, ok := claimed[candidate]; ok {
			return true
		}
		_, ok := s.reserved[candidate]
		return ok
	}

	files := make([]model.TaskFile, len(req.Files))
	resolved := make([]model.ResolvedFile, len(req.Files))
	var totalSize int64
	totalFiles := 0

	for i, file := range req.Files {
		targetPath, skipped, err := resolveConflictTarget(s.store, storage.JoinAPIPath(target, relatives[i]), strategy, taken)
		if err != nil {
			return model.CreateBatchResponse{}, err
		}

		files[i] = model.TaskFile{Original: file.Path, Size: file.Size, Skipped: skipped}
		resolved[i] = model.ResolvedFile{Original: file.Path, Skipped: skipped}
		if skipped {
			continue
		}

		claimed[targetPath] = struct{}{}
		files[i].Resolved = targetPath
		resolved[i].Resolved = &targetPath
		totalSize += file.Size
		totalFiles++
	}

	task, err := s.tasks.Create(ctx, actor, model.Task{
		Type:       model.TaskTypeUpload,
		Name:       batchName(relatives),
		SourcePath: batchSource(relatives),
		TargetPath: target,
		TotalSize:  totalSize,
		TotalFiles: totalFiles,
	}, model.TaskSpec{
		Destination:      target,
		ConflictStrategy: strategy,
		Files:            files,
	})
	if err != nil {
		return model.CreateBatchResponse{}, err
	}

	for candidate := range claimed {
		s.reserved[candidate] = task.ID
	}

	slog.Info("upload batch created",
		"task_id", task.ID,
		"target", target,
		"files", len(req.Files),
		"skipped", len(req.Files)-totalFiles,
		"strategy", strategy,
	)

	return model.CreateBatchResponse{TaskID: task.ID, Files: resolved}, nil
}

// FinishBatch records the client's per-file outcomes. The task completes when
// every planned file was stored or skipped and fails when any file failed or
// never reached its destination. Tasks that
// already reached a terminal state are returned unchanged.
func (s *BatchService) FinishBatch(_ context.Context, actor model.Actor, req model.FinishBatchRequest) (model.Task, error) {
	task, err := s.tasks.Get(actor, req.TaskID)
	if err != nil {
		return model.Task{}, err
	}
	if task.Type != model.TaskTypeUpload {
		return model.Task{}, apierror.New("BAD_REQUEST", "task is not an upload batch", req.TaskID, http.StatusBadRequest)
	}

	var failures []string
	reportedFailed := make(map[string]bool, len(req.Results))
	for _, result := range req.Results {
		switch result.Outcome {
		case model.FileOutcomeOK, model.FileOutcomeSkipped:
		case model.FileOutcomeFailed:
			reportedFailed[result.Path] = true
			failures = append(failures, fmt.Sprintf("%s: %s", result.Path, result.Error))
		default:
			return model.Task{}, apierror.New("BAD_REQUEST", "unknown file outcome", result.Outcome, http.StatusBadRequest)
		}
	}

	// The client's "ok" is not proof: a file counts only once it was placed.
	if _, spec, ok := s.tasks.Snapshot(task.ID); ok {
		for _, file := range spec.Files {
			if file.Skipped || file.Done || reportedFailed[file.Original] {
				continue
			}
			failures = append(failures, fmt.Sprintf("%s: not stored on server", file.Original))
		}
	}

	if task.Status == model.TaskPending {
		s.tasks.MarkRunning(task.ID)
	}

	if len(failures) > 0 {
		total := max(task.TotalFiles, len(req.Results))
		s.tasks.Finish(task.ID, model.TaskFailed, fmt.Sprintf("%d of %d files failed: %s", len(failures), total, strings.Join(failures, "; ")))
	} else {
		s.tasks.Finish(task.ID, model.TaskCompleted, "")
	}

	s.Release(task.ID)
	return s.tasks.Get(actor, task.ID)
}

// Release drops every name reserved by a task.
func (s *BatchService) Release(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for candidate, owner := range s.reserved {
		if owner == taskID {
			delete(s.reserved, candidate)
		}
	}
}

// evictStaleLocked forgets reservations of tasks that are gone or no longer
// receiving data.
func (s *BatchService) evictStaleLocked() {
	for candidate, taskID := range s.reserved {
		status, ok := s.tasks.Status(taskID)
		if !ok || status.IsTerminal() {
			delete(s.reserved, candidate)
		}
	}
}

func batchName(relatives []string) string {
	if top := topDirectory(relatives); top != "" && len(relatives) > 1 {
		return top
	}
	first := path.Base(relatives[0])
	if len(relatives) == 1 {
		return first
	}
	return fmt.Sprintf("%s (+%d more)", first, len(relatives)-1)
}

// batchSource reports the common top-level directory of a batch, or the
// single file it contains.
func batchSource(relatives []string) string {
	if len(relatives) == 1 {
		return relatives[0]
	}
	return topDirectory(relatives)
}

func topDirectory(relatives []string) string {
	top := ""
	for i, rel := range relatives {
		head, _, nested := strings.Cut(rel, "/")
		if !nested {
			return ""
		}
		if i == 0 {
			top = head
		} else if head != top {
			return ""
		}
	}
	return top
}
