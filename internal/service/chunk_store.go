package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go-file-transfer/internal/model"
	"go-file-transfer/internal/storage"
	"go-file-transfer/internal/util"
	"go-file-transfer/pkg/apierror"
)

const (
	chunkSuffix      = ".chunk"
	taskMarkerFile   = "task"
	assemblingSuffix = ".assembling"
)

// ChunkStore persists upload chunks until a file is complete. Every chunk is
// its own file inside a session directory, so the set of received chunks is
// read straight from disk and survives restarts.
type ChunkStore struct {
	store        storage.Storage
	tasks        *TaskService
	tempDir      string
	maxChunkSize int64
}

func NewChunkStore(store storage.Storage, tasks *TaskService, tempDir string, maxChunkSize int64) (*ChunkStore, error) {
	if strings.TrimSpace(tempDir) == "" {
		tempDir = "./data/.chunks"
	}

	abs, err := filepath.Abs(tempDir)
	if err != nil {
		return nil, fmt.Errorf("resolve chunk temp dir: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk temp dir: %w", err)
	}

	return &ChunkStore{
		store:        store,
		tasks:        tasks,
		tempDir:      abs,
		maxChunkSize: maxChunkSize,
	}, nil
}

// ── Status ───────────────────────────────────────────────────────

// Status returns the ascending indices already persisted for a file.
func (s *ChunkStore) Status(_ context.Context, actor model.Actor, req model.ChunkStatusRequest) ([]int, error) {
	target, err := s.targetPath(req.Path, req.Filename)
	if err != nil {
		return nil, err
	}
	if req.TotalChunks < 1 {
		return nil, apierror.New("BAD_REQUEST", "total_chunks must be positive", "", http.StatusBadRequest)
	}

	return s.received(s.sessionDir(actor, target, req.TotalChunks), req.TotalChunks)
}

// ── Upload ───────────────────────────────────────────────────────

// Upload stores one chunk, or a whole file when part carries no chunk index.
// Paused and cancelled batch tasks are answered with sentinel codes and
// nothing is written.
func (s *ChunkStore) Upload(ctx context.Context, actor model.Actor, part model.UploadPart, body io.Reader) (model.UploadResult, error) {
	target, err := s.targetPath(part.Path, part.Filename)
	if err != nil {
		return model.UploadResult{}, err
	}

	if part.TaskID != "" {
		if result, stop, err := s.admit(actor, part.TaskID); stop || err != nil {
			return result, err
		}
	}

	if part.ChunkIndex == nil || part.TotalChunks == nil {
		return s.writeWhole(ctx, part, target, body)
	}

	return s.writeChunk(ctx, actor, part, target, body)
}

// admit checks the owning batch task before any byte is written.
func (s *ChunkStore) admit(actor model.Actor, taskID string) (model.UploadResult, bool, error) {
	task, err := s.tasks.Get(actor, taskID)
	if err != nil {
		return model.UploadResult{}, true, err
	}
	if task.Type != model.TaskTypeUpload {
		return model.UploadResult{}, true, apierror.New("BAD_REQUEST", "task is not an upload batch", taskID, http.StatusBadRequest)
	}

	switch task.Status {
	case model.TaskPaused:
		return model.UploadResult{Code: model.UploadCodePaused, Message: "task paused"}, true, nil
	case model.TaskCancelled:
		s.Discard(taskID)
		return model.UploadResult{Code: model.UploadCodeCancelled, Message: "task cancelled"}, true, nil
	case model.TaskPending:
		s.tasks.MarkRunning(taskID)
	case model.TaskRunning:
		s.tasks.Touch(taskID)
	default:
		return model.UploadResult{}, true, apierror.New("CONFLICT", "task does not accept uploads in status "+string(task.Status), taskID, http.StatusConflict)
	}

	return model.UploadResult{}, false, nil
}

func (s *ChunkStore) writeWhole(ctx context.Context, part model.UploadPart, target string, body io.Reader) (model.UploadResult, error) {
	tmp, err := os.CreateTemp(s.tempDir, "whole-*.part")
	if err != nil {
		return model.UploadResult{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	written, err := io.CopyBuffer(tmp, contextReader(ctx, body), make([]byte, 32*1024))
	closeErr := tmp.Close()
	if err != nil {
		return model.UploadResult{}, fmt.Errorf("write upload data: %w", err)
	}
	if closeErr != nil {
		return model.UploadResult{}, fmt.Errorf("close temp file: %w", closeErr)
	}

	if part.TotalSize > 0 && written != part.TotalSize {
		return model.UploadResult{}, apierror.New("SIZE_MISMATCH", "received size does not match total_size", fmt.Sprintf("%d != %d", written, part.TotalSize), http.StatusBadRequest)
	}

	if err := s.placeFile(tmpPath, target); err != nil {
		return model.UploadResult{}, err
	}

	if part.TaskID != "" {
		s.tasks.AddProgress(part.TaskID, written, model.PhaseTag("uploading", part.Filename))
		s.tasks.CompleteItem(part.TaskID, target)
	}

	slog.Info("file uploaded", "task_id", part.TaskID, "file", target, "size", written)
	return model.UploadResult{Code: model.UploadCodeOK, Message: "file stored"}, nil
}

func (s *ChunkStore) writeChunk(ctx context.Context, actor model.Actor, part model.UploadPart, target string, body io.Reader) (model.UploadResult, error) {
	index, total := *part.ChunkIndex, *part.TotalChunks
	if total < 1 {
		return model.UploadResult{}, apierror.New("BAD_REQUEST", "total_chunks must be positive", "", http.StatusBadRequest)
	}
	if index < 0 || index >= total {
		return model.UploadResult{}, apierror.New("BAD_REQUEST", fmt.Sprintf("chunk_index must be between 0 and %d", total-1), strconv.Itoa(index), http.StatusBadRequest)
	}

	dir := s.sessionDir(actor, target, total)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.UploadResult{}, fmt.Errorf("create session dir: %w", err)
	}
	if part.TaskID != "" {
		if err := os.WriteFile(filepath.Join(dir, taskMarkerFile), []byte(part.TaskID), 0o644); err != nil {
			return model.UploadResult{}, fmt.Errorf("write task marker: %w", err)
		}
	}

	// A resent chunk is not written again, but it still completes the file
	// when an earlier assembly attempt failed.
	chunkPath := filepath.Join(dir, strconv.Itoa(index)+chunkSuffix)
	if _, err := os.Stat(chunkPath); err == nil {
		_, _ = io.Copy(io.Discard, body)
	} else {
		written, err := s.writeChunkFile(ctx, dir, chunkPath, body)
		if err != nil {
			return model.UploadResult{}, err
		}

		slog.Debug("chunk stored", "task_id", part.TaskID, "file", target, "chunk_index", index, "total_chunks", total, "size", written)

		if part.TaskID != "" {
			s.tasks.AddProgress(part.TaskID, written, model.PhaseTag("uploading", part.Filename))
		}
	}

	received, err := s.received(dir, total)
	if err != nil {
		return model.UploadResult{}, err
	}
	if len(received) < total {
		return model.UploadResult{Code: model.UploadCodeOK, Message: fmt.Sprintf("chunk %d/%d stored", index+1, total)}, nil
	}

	if err := s.assemble(part, dir, target, total); err != nil {
		return model.UploadResult{}, err
	}
	return model.UploadResult{Code: model.UploadCodeOK, Message: "file assembled"}, nil
}

// writeChunkFile writes to a temp name first so a chunk only becomes visible
// to Status once it is complete.
func (s *ChunkStore) writeChunkFile(ctx context.Context, dir string, chunkPath string, body io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(dir, "incoming-*")
	if err != nil {
		return 0, fmt.Errorf("create chunk temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	reader := contextReader(ctx, body)
	if s.maxChunkSize > 0 {
		reader = io.LimitReader(reader, s.maxChunkSize+1)
	}

	written, err := io.CopyBuffer(tmp, reader, make([]byte, 32*1024))
	closeErr := tmp.Close()
	if err != nil {
		return 0, fmt.Errorf("write chunk data: %w", err)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("close chunk file: %w", closeErr)
	}
	if s.maxChunkSize > 0 && written > s.maxChunkSize {
		return 0, apierror.New("PAYLOAD_TOO_LARGE", "chunk exceeds server maximum", strconv.FormatInt(s.maxChunkSize, 10), http.StatusRequestEntityTooLarge)
	}

	if err := os.Rename(tmpPath, chunkPath); err != nil {
		return 0, fmt.Errorf("commit chunk: %w", err)
	}
	return written, nil
}

// assemble concatenates the chunks in index order. Claiming the session by
// renaming its directory makes sure only one request assembles a file. When
// assembly fails the session is handed back so a resent chunk retries it;
// a size mismatch drops the chunks since they can never assemble.
func (s *ChunkStore) assemble(part model.UploadPart, dir string, target string, total int) (err error) {
	claimed := dir + assemblingSuffix
	if err := os.Rename(dir, claimed); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("claim upload session: %w", err)
	}
	defer func() {
		if err == nil || apierror.HasCode(err, "SIZE_MISMATCH") {
			os.RemoveAll(claimed)
			return
		}
		if restoreErr := os.Rename(claimed, dir); restoreErr != nil {
			slog.Warn("failed to restore upload session", "task_id", part.TaskID, "file", target, "error", restoreErr)
		}
	}()

	if part.TaskID != "" {
		s.tasks.AddProgress(part.TaskID, 0, model.PhaseTag("assembling", part.Filename))
	}

	out, err := os.CreateTemp(s.tempDir, "assembled-*.part")
	if err != nil {
		return fmt.Errorf("create assembly file: %w", err)
	}
	outPath := out.Name()
	defer os.Remove(outPath)

	var size int64
	for index := 0; index < total; index++ {
		n, err := appendFile(out, filepath.Join(claimed, strconv.Itoa(index)+chunkSuffix))
		if err != nil {
			out.Close()
			return fmt.Errorf("append chunk %d: %w", index, err)
		}
		size += n
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close assembly file: %w", err)
	}

	if part.TotalSize > 0 && size != part.TotalSize {
		return apierror.New("SIZE_MISMATCH", "assembled size does not match total_size", fmt.Sprintf("%d != %d", size, part.TotalSize), http.StatusBadRequest)
	}

	if err := s.placeFile(outPath, target); err != nil {
		return err
	}

	if part.TaskID != "" {
		s.tasks.CompleteItem(part.TaskID, target)
	}

	slog.Info("chunked upload assembled", "task_id", part.TaskID, "file", target, "size", size, "total_chunks", total)
	return nil
}

// placeFile moves a finished temp file onto its destination, replacing
// whatever is there.
func (s *ChunkStore) placeFile(tmpPath string, target string) error {
	if err := clearOverwriteTarget(s.store, target); err != nil {
		return err
	}

	resolved, err := s.store.Resolve(target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	if err := os.Rename(tmpPath, resolved); err == nil {
		return nil
	}

	// Temp dir and storage root may live on different devices.
	src, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("open assembled file: %w", err)
	}
	defer src.Close()

	dst, err := s.store.OpenForWrite(target)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy to destination: %w", err)
	}
	return dst.Close()
}

// ── Discard / cleanup ────────────────────────────────────────────

// Discard removes every session that belongs to a task.
func (s *ChunkStore) Discard(taskID string) int {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		slog.Warn("chunk discard: failed to read temp dir", "error", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.tempDir, entry.Name())
		marker, err := os.ReadFile(filepath.Join(dir, taskMarkerFile))
		if err != nil || string(marker) != taskID {
			continue
		}
		if err := os.RemoveAll(dir); err == nil {
			removed++
		}
	}

	if removed > 0 {
		slog.Info("discarded upload sessions", "task_id", taskID, "count", removed)
	}
	return removed
}

// CleanupExpired removes sessions and temp files that saw no write for maxAge.
func (s *ChunkStore) CleanupExpired(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		slog.Warn("chunk cleanup: failed to read temp dir", "error", err)
		return 0
	}

	now := time.Now()
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.tempDir, entry.Name())); err == nil {
			removed++
		}
	}

	if removed > 0 {
		slog.Info("cleaned up expired upload sessions", "count", removed)
	}
	return removed
}

// StartCleanupTicker runs CleanupExpired on a regular interval until ctx is cancelled.
func (s *ChunkStore) StartCleanupTicker(ctx context.Context, maxAge time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	s.CleanupExpired(maxAge)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupExpired(maxAge)
		}
	}
}

// ── Helpers ──────────────────────────────────────────────────────

func (s *ChunkStore) targetPath(dir string, filename string) (string, error) {
	name, err := util.SanitizeFilename(filename, true)
	if err != nil {
		return "", err
	}

	target := storage.JoinAPIPath(dir, name)
	if _, err := s.store.Resolve(target); err != nil {
		return "", err
	}
	return target, nil
}

func (s *ChunkStore) sessionDir(actor model.Actor, target string, totalChunks int) string {
	sum := sha256.Sum256([]byte(actor.UserID + "\x00" + target + "\x00" + strconv.Itoa(totalChunks)))
	return filepath.Join(s.tempDir, hex.EncodeToString(sum[:16]))
}

func (s *ChunkStore) received(dir string, totalChunks int) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []int{}, nil
		}
		return nil, fmt.Errorf("read upload session: %w", err)
	}

	indices := make([]int, 0, len(entries))
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), chunkSuffix)
		if !ok {
			continue
		}
		index, err := strconv.Atoi(name)
		if err != nil || index < 0 || index >= totalChunks {
			continue
		}
		indices = append(indices, index)
	}

	sort.Ints(indices)
	return indices, nil
}

func appendFile(dst io.Writer, path string) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	return io.CopyBuffer(dst, src, make([]byte, 32*1024))
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// contextReader stops reading once ctx is done.
func contextReader(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
