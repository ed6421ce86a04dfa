package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go-file-transfer/internal/model"
	"go-file-transfer/internal/storage"
	"go-file-transfer/internal/util"
	"go-file-transfer/pkg/apierror"
)

// progressFlushBytes batches byte progress so large copies do not publish an
// event per buffer.
const progressFlushBytes = 1 << 20

var errTaskStopped = errors.New("task stopped")

// OperationService runs server-side tasks (copy, move, delete, extract,
// download) on a bounded worker pool. Workers check for pause and cancel
// between items, and items recorded as done are skipped when a task is
// retried.
type OperationService struct {
	store   storage.Storage
	tasks   *TaskService
	client  *http.Client
	workers int
	queue   chan string

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewOperationService(store storage.Storage, tasks *TaskService, client *http.Client, workers int) *OperationService {
	if workers < 1 {
		workers = 1
	}
	if client == nil {
		client = http.DefaultClient
	}

	s := &OperationService{
		store:   store,
		tasks:   tasks,
		client:  client,
		workers: workers,
		queue:   make(chan string, 256),
		running: map[string]context.CancelFunc{},
	}

	tasks.SetRunner(s)
	tasks.OnCancel(s.abort)
	return s
}

// Start launches the workers. They exit when ctx is cancelled.
func (s *OperationService) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.workerLoop(ctx)
		}()
	}
}

// Wait blocks until every worker has returned.
func (s *OperationService) Wait() {
	s.wg.Wait()
}

// Enqueue schedules a pending task for execution.
func (s *OperationService) Enqueue(taskID string) {
	select {
	case s.queue <- taskID:
	default:
		go func() { s.queue <- taskID }()
	}
}

// Submit validates an operation request, measures its size and queues it.
func (s *OperationService) Submit(ctx context.Context, actor model.Actor, req model.OperationRequest) (model.Task, error) {
	template, spec, err := s.plan(req)
	if err != nil {
		return model.Task{}, err
	}

	task, err := s.tasks.Create(ctx, actor, template, spec)
	if err != nil {
		return model.Task{}, err
	}

	s.Enqueue(task.ID)
	return task, nil
}

func (s *OperationService) plan(req model.OperationRequest) (model.Task, model.TaskSpec, error) {
	spec := model.TaskSpec{Destination: storage.NormalizeAPIPath(req.Destination)}
	template := model.Task{Type: req.Type, TargetPath: spec.Destination}

	if req.Type != model.TaskTypeDelete {
		strategy, err := normalizeConflictStrategy(req.ConflictStrategy)
		if err != nil {
			return model.Task{}, model.TaskSpec{}, err
		}
		spec.ConflictStrategy = strategy
	}

	for _, source := range req.Sources {
		spec.Sources = append(spec.Sources, storage.NormalizeAPIPath(source))
	}

	switch req.Type {
	case model.TaskTypeCopy, model.TaskTypeMove, model.TaskTypeDelete:
		if len(spec.Sources) == 0 {
			return model.Task{}, model.TaskSpec{}, apierror.New("BAD_REQUEST", "sources are required", "sources", http.StatusBadRequest)
		}
		if req.Type != model.TaskTypeDelete && strings.TrimSpace(req.Destination) == "" {
			return model.Task{}, model.TaskSpec{}, apierror.New("BAD_REQUEST", "destination is required for copy/move", "destination", http.StatusBadRequest)
		}
		for _, source := range spec.Sources {
			if source == "/" {
				return model.Task{}, model.TaskSpec{}, apierror.New("BAD_REQUEST", "root path cannot be a source", source, http.StatusBadRequest)
			}
			size, _, err := s.measure(source)
			if err != nil {
				return model.Task{}, model.TaskSpec{}, err
			}
			template.TotalSize += size
		}
		if req.Type == model.TaskTypeDelete {
			template.TargetPath = ""
			spec.Destination = ""
		}
		template.TotalFiles = len(spec.Sources)
		template.SourcePath = spec.Sources[0]
		template.Name = itemsName(spec.Sources)

	case model.TaskTypeExtract:
		if len(spec.Sources) != 1 {
			return model.Task{}, model.TaskSpec{}, apierror.New("BAD_REQUEST", "extract takes exactly one archive", "sources", http.StatusBadRequest)
		}
		archive := spec.Sources[0]
		if strings.TrimSpace(req.Destination) == "" {
			spec.Destination = storage.JoinAPIPath(path.Dir(archive), strings.TrimSuffix(path.Base(archive), path.Ext(archive)))
			template.TargetPath = spec.Destination
		}
		abs, err := s.store.Resolve(archive)
		if err != nil {
			return model.Task{}, model.TaskSpec{}, err
		}
		arc, err := util.OpenArchive(abs)
		if err != nil {
			return model.Task{}, model.TaskSpec{}, apierror.New("BAD_REQUEST", "source is not a readable zip archive", archive, http.StatusBadRequest)
		}
		entries, total := arc.Entries()
		arc.Close()
		template.TotalFiles = len(entries)
		template.TotalSize = total
		template.SourcePath = archive
		template.Name = path.Base(archive)

	case model.TaskTypeDownload:
		parsed, err := url.Parse(strings.TrimSpace(req.URL))
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return model.Task{}, model.TaskSpec{}, apierror.New("BAD_REQUEST", "url must be an absolute http(s) URL", req.URL, http.StatusBadRequest)
		}
		if _, err := s.store.Resolve(spec.Destination); err != nil {
			return model.Task{}, model.TaskSpec{}, err
		}
		spec.URL = parsed.String()
		spec.Sources = nil
		template.TotalFiles = 1
		template.SourcePath = spec.URL
		template.Name = downloadName(parsed, "")

	case model.TaskTypeUpload:
		return model.Task{}, model.TaskSpec{}, apierror.New("BAD_REQUEST", "uploads are created through the upload batch endpoint", string(req.Type), http.StatusBadRequest)
	default:
		return model.Task{}, model.TaskSpec{}, apierror.New("BAD_REQUEST", "type must be one of: copy|move|delete|extract|download", string(req.Type), http.StatusBadRequest)
	}

	return template, spec, nil
}

// ── Worker ───────────────────────────────────────────────────────

func (s *OperationService) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case taskID := <-s.queue:
			s.process(ctx, taskID)
		}
	}
}

func (s *OperationService) process(ctx context.Context, taskID string) {
	task, spec, ok := s.tasks.Snapshot(taskID)
	if !ok || task.Status != model.TaskPending {
		return
	}
	s.tasks.MarkRunning(taskID)

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.running[taskID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, taskID)
		s.mu.Unlock()
		cancel()
	}()

	slog.Info("operation started", "task_id", taskID, "type", task.Type, "items", len(spec.Sources))

	err := s.run(runCtx, task, spec)
	switch {
	case err == nil:
		s.tasks.Finish(taskID, model.TaskCompleted, "")
	case errors.Is(err, errTaskStopped):
	case ctx.Err() != nil:
		s.tasks.Interrupt(taskID, "server shutting down")
	case runCtx.Err() != nil:
	default:
		s.tasks.Finish(taskID, model.TaskFailed, err.Error())
	}
}

func (s *OperationService) run(ctx context.Context, task model.Task, spec model.TaskSpec) error {
	switch task.Type {
	case model.TaskTypeCopy:
		return s.transferItems(ctx, task.ID, spec, false)
	case model.TaskTypeMove:
		return s.transferItems(ctx, task.ID, spec, true)
	case model.TaskTypeDelete:
		return s.deleteItems(ctx, task.ID, spec)
	case model.TaskTypeExtract:
		return s.extract(ctx, task.ID, spec)
	case model.TaskTypeDownload:
		return s.download(ctx, task.ID, spec)
	default:
		return fmt.Errorf("unsupported task type %q", task.Type)
	}
}

// abort stops the worker of a cancelled or removed task.
func (s *OperationService) abort(taskID string) {
	s.mu.Lock()
	cancel, ok := s.running[taskID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// checkpoint blocks while the task is paused and reports errTaskStopped once
// it is no longer running.
func (s *OperationService) checkpoint(ctx context.Context, taskID string) error {
	status, err := s.tasks.WaitWhilePaused(ctx, taskID)
	if errors.Is(err, model.ErrTaskNotFound) {
		return errTaskStopped
	}
	if err != nil {
		return err
	}
	if status != model.TaskRunning {
		return errTaskStopped
	}
	return nil
}

// ── Copy / move ──────────────────────────────────────────────────

func (s *OperationService) transferItems(ctx context.Context, taskID string, spec model.TaskSpec, move bool) error {
	phase := "copying"
	if move {
		phase = "moving"
	}

	done := toSet(spec.DoneItems)
	var failures []string
	for _, source := range spec.Sources {
		if _, ok := done[source]; ok {
			continue
		}
		if err := s.checkpoint(ctx, taskID); err != nil {
			return err
		}

		s.tasks.AddProgress(taskID, 0, model.PhaseTag(phase, source))
		if err := s.transferOne(ctx, taskID, source, spec.Destination, spec.ConflictStrategy, move); err != nil {
			if stopped(ctx, err) {
				return err
			}
			slog.Warn("operation item failed", "task_id", taskID, "item", source, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", source, err))
			continue
		}
		s.tasks.CompleteItem(taskID, source)
	}

	return summarizeFailures(failures, len(spec.Sources))
}

func (s *OperationService) transferOne(ctx context.Context, taskID string, source string, destination string, strategy string, move bool) error {
	target := storage.JoinAPIPath(destination, path.Base(source))
	if move && target == source {
		return nil
	}
	if strings.HasPrefix(target+"/", source+"/") {
		return fmt.Errorf("cannot place %s inside itself", source)
	}

	size, _, err := s.measure(source)
	if err != nil {
		return err
	}

	resolved, skipped, err := resolveConflictTarget(s.store, target, strategy, nil)
	if err != nil {
		return err
	}
	if skipped {
		slog.Info("operation item skipped", "task_id", taskID, "item", source, "target", target)
		s.tasks.AddProgress(taskID, size, "")
		return nil
	}
	if strategy == model.ConflictOverwrite {
		if err := clearOverwriteTarget(s.store, resolved); err != nil {
			return err
		}
	}

	if move {
		if err := s.store.Rename(source, resolved); err != nil {
			return err
		}
		s.tasks.AddProgress(taskID, size, "")
		return nil
	}

	sourceAbs, err := s.store.Resolve(source)
	if err != nil {
		return err
	}
	targetAbs, err := s.store.Resolve(resolved)
	if err != nil {
		return err
	}

	meter := s.meter(ctx, taskID)
	defer meter.flush()
	return copyRecursive(ctx, sourceAbs, targetAbs, meter)
}

// ── Delete ───────────────────────────────────────────────────────

func (s *OperationService) deleteItems(ctx context.Context, taskID string, spec model.TaskSpec) error {
	done := toSet(spec.DoneItems)
	var failures []string
	for _, item := range spec.Sources {
		if _, ok := done[item]; ok {
			continue
		}
		if err := s.checkpoint(ctx, taskID); err != nil {
			return err
		}

		s.tasks.AddProgress(taskID, 0, model.PhaseTag("deleting", item))
		size, _, err := s.measure(item)
		if err != nil && !errors.Is(err, fs.ErrNotExist) && !isNotFound(err) {
			failures = append(failures, fmt.Sprintf("%s: %v", item, err))
			continue
		}
		if err := s.store.RemoveAll(item); err != nil {
			slog.Warn("operation item failed", "task_id", taskID, "item", item, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", item, err))
			continue
		}
		s.tasks.AddProgress(taskID, size, "")
		s.tasks.CompleteItem(taskID, item)
	}

	return summarizeFailures(failures, len(spec.Sources))
}

// ── Extract ──────────────────────────────────────────────────────

func (s *OperationService) extract(ctx context.Context, taskID string, spec model.TaskSpec) error {
	archiveAbs, err := s.store.Resolve(spec.Sources[0])
	if err != nil {
		return err
	}
	arc, err := util.OpenArchive(archiveAbs)
	if err != nil {
		return err
	}
	defer arc.Close()

	if err := s.store.MkdirAll(spec.Destination, 0o755); err != nil {
		return err
	}
	destAbs, err := s.store.Resolve(spec.Destination)
	if err != nil {
		return err
	}

	entries, _ := arc.Entries()
	done := toSet(spec.DoneItems)
	meter := s.meter(ctx, taskID)
	defer meter.flush()

	for _, entry := range entries {
		if _, ok := done[entry.Name]; ok {
			continue
		}
		if err := s.checkpoint(ctx, taskID); err != nil {
			return err
		}
		if _, err := util.SafeJoin(destAbs, entry.Name); err != nil {
			return err
		}

		s.tasks.AddProgress(taskID, 0, model.PhaseTag("extracting", entry.Name))

		target := storage.JoinAPIPath(spec.Destination, entry.Name)
		if !entry.IsDir {
			resolved, skipped, err := resolveConflictTarget(s.store, target, spec.ConflictStrategy, nil)
			if err != nil {
				return err
			}
			if skipped {
				s.tasks.AddProgress(taskID, entry.Size, "")
				s.tasks.CompleteItem(taskID, entry.Name)
				continue
			}
			if spec.ConflictStrategy == model.ConflictOverwrite {
				if err := clearOverwriteTarget(s.store, resolved); err != nil {
					return err
				}
			}
			target = resolved
		}

		targetAbs, err := s.store.Resolve(target)
		if err != nil {
			return err
		}
		if err := arc.Extract(entry, targetAbs, meter.wrap); err != nil {
			return fmt.Errorf("extract %s: %w", entry.Name, err)
		}
		meter.flush()
		s.tasks.CompleteItem(taskID, entry.Name)
	}

	return nil
}

// ── Download ─────────────────────────────────────────────────────

func (s *OperationService) download(ctx context.Context, taskID string, spec model.TaskSpec) error {
	if _, ok := toSet(spec.DoneItems)[spec.URL]; ok {
		return nil
	}
	if err := s.checkpoint(ctx, taskID); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", spec.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("fetch %s: unexpected status %s", spec.URL, resp.Status)
	}

	parsed, _ := url.Parse(spec.URL)
	name, err := util.SanitizeFilename(downloadName(parsed, resp.Header.Get("Content-Disposition")), true)
	if err != nil {
		name = "download"
	}

	resolved, skipped, err := resolveConflictTarget(s.store, storage.JoinAPIPath(spec.Destination, name), spec.ConflictStrategy, nil)
	if err != nil {
		return err
	}
	if skipped {
		s.tasks.CompleteItem(taskID, spec.URL)
		return nil
	}

	if resp.ContentLength > 0 {
		s.tasks.SetTotals(taskID, resp.ContentLength, 1)
	}
	s.tasks.AddProgress(taskID, 0, model.PhaseTag("downloading", name))

	partial := resolved + ".part"
	out, err := s.store.OpenForWrite(partial)
	if err != nil {
		return err
	}

	meter := s.meter(ctx, taskID)
	_, copyErr := io.Copy(meter.wrap(out), resp.Body)
	meter.flush()
	closeErr := out.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = s.store.RemoveAll(partial)
		return copyErr
	}

	if spec.ConflictStrategy == model.ConflictOverwrite {
		if err := clearOverwriteTarget(s.store, resolved); err != nil {
			return err
		}
	}
	if err := s.store.Rename(partial, resolved); err != nil {
		return err
	}

	s.tasks.CompleteItem(taskID, spec.URL)
	slog.Info("download finished", "task_id", taskID, "url", spec.URL, "target", resolved)
	return nil
}

// ── Helpers ──────────────────────────────────────────────────────

// measure returns the byte size and file count below an API path.
func (s *OperationService) measure(apiPath string) (int64, int, error) {
	abs, err := s.store.Resolve(apiPath)
	if err != nil {
		return 0, 0, err
	}
	if _, err := os.Lstat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, 0, apierror.New("NOT_FOUND", "path not found", apiPath, http.StatusNotFound)
		}
		return 0, 0, err
	}

	var size int64
	files := 0
	err = filepath.WalkDir(abs, func(_ string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.Type().IsRegular() {
			info, err := entry.Info()
			if err != nil {
				return err
			}
			size += info.Size()
			files++
		}
		return nil
	})
	return size, files, err
}

// progressMeter accounts written bytes against a task and checks for pause
// and cancel every progressFlushBytes.
type progressMeter struct {
	ctx     context.Context
	taskID  string
	svc     *OperationService
	pending int64
}

func (s *OperationService) meter(ctx context.Context, taskID string) *progressMeter {
	return &progressMeter{ctx: ctx, taskID: taskID, svc: s}
}

func (m *progressMeter) wrap(dst io.Writer) io.Writer {
	return meteredWriter{dst: dst, meter: m}
}

func (m *progressMeter) add(n int64) error {
	m.pending += n
	if m.pending < progressFlushBytes {
		return nil
	}
	m.flush()
	return m.svc.checkpoint(m.ctx, m.taskID)
}

func (m *progressMeter) flush() {
	if m.pending > 0 {
		m.svc.tasks.AddProgress(m.taskID, m.pending, "")
		m.pending = 0
	}
}

type meteredWriter struct {
	dst   io.Writer
	meter *progressMeter
}

func (w meteredWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if n > 0 {
		if checkErr := w.meter.add(int64(n)); checkErr != nil && err == nil {
			err = checkErr
		}
	}
	return n, err
}

// copyRecursive copies a file or directory tree. Symlinks are skipped.
func copyRecursive(ctx context.Context, source string, target string, meter *progressMeter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Stat(source)
	if err != nil {
		return err
	}

	if info.IsDir() {
		if err := os.MkdirAll(target, info.Mode().Perm()|0o700); err != nil {
			return err
		}

		entries, err := os.ReadDir(source)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if entry.Type()&os.ModeSymlink != 0 {
				continue
			}
			if err := copyRecursive(ctx, filepath.Join(source, entry.Name()), filepath.Join(target, entry.Name()), meter); err != nil {
				return err
			}
		}

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	sourceFile, err := os.Open(source)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	targetFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()|0o600)
	if err != nil {
		return err
	}

	_, err = io.Copy(meter.wrap(targetFile), contextReader(ctx, sourceFile))
	if closeErr := targetFile.Close(); err == nil {
		err = closeErr
	}
	return err
}

func downloadName(u *url.URL, contentDisposition string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil && params["filename"] != "" {
			return path.Base(params["filename"])
		}
	}
	if u != nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			return base
		}
	}
	return "download"
}

func itemsName(items []string) string {
	first := path.Base(items[0])
	if len(items) == 1 {
		return first
	}
	return fmt.Sprintf("%s (+%d more)", first, len(items)-1)
}

func summarizeFailures(failures []string, total int) error {
	if len(failures) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d items failed: %s", len(failures), total, strings.Join(failures, "; "))
}

func stopped(ctx context.Context, err error) bool {
	return errors.Is(err, errTaskStopped) || ctx.Err() != nil
}

func isNotFound(err error) bool {
	var apiErr *apierror.APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatus == http.StatusNotFound
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
