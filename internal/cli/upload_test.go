package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-file-transfer/internal/journal"
	"go-file-transfer/internal/model"
	"go-file-transfer/internal/transfer"
)

func TestCollectLocalSingleFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("abc"), 0o644))

	req, root, err := collectLocal(file, "/dst", model.ConflictSkip)
	require.NoError(t, err)

	assert.Equal(t, dir, root)
	assert.Equal(t, "/dst", req.TargetPath)
	assert.Equal(t, model.ConflictSkip, req.ConflictStrategy)
	assert.Equal(t, []transfer.LocalFile{{Path: "a.txt", Source: file, Size: 3}}, req.Files)
}

func TestCollectLocalDirectoryKeepsItsName(t *testing.T) {
	base := t.TempDir()
	local := filepath.Join(base, "album")
	writeTree(t, local, map[string]string{"one.jpg": "1", "nested/two.jpg": "22"})

	req, root, err := collectLocal(local, "/pics", model.ConflictAutoRename)
	require.NoError(t, err)

	assert.Equal(t, base, root)
	paths := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		paths = append(paths, f.Path)
		assert.Equal(t, filepath.Join(root, filepath.FromSlash(f.Path)), f.Source)
	}
	assert.ElementsMatch(t, []string{"album/one.jpg", "album/nested/two.jpg"}, paths)
}

func TestCollectLocalEmptyDirectory(t *testing.T) {
	_, _, err := collectLocal(t.TempDir(), "/x", model.ConflictAutoRename)
	require.Error(t, err)
}

func TestCollectLocalMissingPath(t *testing.T) {
	_, _, err := collectLocal(filepath.Join(t.TempDir(), "gone"), "/x", model.ConflictAutoRename)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestPendingFilesMapsSourcesAndTargets(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"docs/a.txt": "alpha"})

	resolved := "/archive/docs/a (1).txt"
	files, err := pendingFiles(
		journal.Entry{TaskID: "t1", LocalRoot: root},
		model.RetryResponse{
			PendingFiles: []string{"docs/a.txt"},
			Files:        []model.ResolvedFile{{Original: "docs/a.txt", Resolved: &resolved}},
		},
	)
	require.NoError(t, err)
	require.Len(t, files, 1)

	assert.Equal(t, "docs/a.txt", files[0].Path)
	assert.Equal(t, filepath.Join(root, "docs", "a.txt"), files[0].Source)
	assert.Equal(t, int64(5), files[0].Size)
	assert.Equal(t, resolved, files[0].Resolved)
}

func TestPendingFilesKeepsPlannedSize(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "grown since the batch"})

	resolved := "/archive/a.txt"
	planned := int64(5)
	files, err := pendingFiles(
		journal.Entry{TaskID: "t1", LocalRoot: root},
		model.RetryResponse{
			PendingFiles: []string{"a.txt"},
			Files:        []model.ResolvedFile{{Original: "a.txt", Resolved: &resolved, Size: &planned}},
		},
	)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, planned, files[0].Size)
}

func TestPendingFilesErrors(t *testing.T) {
	root := t.TempDir()
	resolved := "/archive/missing.txt"

	_, err := pendingFiles(journal.Entry{LocalRoot: root}, model.RetryResponse{PendingFiles: []string{"x.txt"}})
	assert.ErrorContains(t, err, "no destination")

	_, err = pendingFiles(journal.Entry{LocalRoot: root}, model.RetryResponse{
		PendingFiles: []string{"missing.txt"},
		Files:        []model.ResolvedFile{{Original: "missing.txt", Resolved: &resolved}},
	})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func openTestJournal(t *testing.T, taskID string) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	require.NoError(t, j.Record(context.Background(), journal.Entry{TaskID: taskID, LocalRoot: "/tmp", TargetPath: "/"}))
	return j
}

func TestResumeEntryChecksJournalAndLocalRoot(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, "t1")

	entry, err := resumeEntry(ctx, j, "t1")
	require.NoError(t, err)
	assert.Equal(t, "/tmp", entry.LocalRoot)

	_, err = resumeEntry(ctx, j, "unknown")
	assert.ErrorContains(t, err, "no local record")

	gone := filepath.Join(t.TempDir(), "gone")
	require.NoError(t, j.Record(ctx, journal.Entry{TaskID: "t2", LocalRoot: gone, TargetPath: "/"}))
	_, err = resumeEntry(ctx, j, "t2")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFinishUploadCompletedForgetsJournalEntry(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, "t1")

	var out bytes.Buffer
	report := transfer.Report{
		TaskID:  "t1",
		Results: []transfer.FileResult{{Outcome: model.FileOutcomeOK}},
		Task:    model.Task{ID: "t1", Type: model.TaskTypeUpload, Status: model.TaskCompleted},
	}
	require.NoError(t, finishUpload(ctx, &out, j, "t1", report, nil))

	assert.Contains(t, out.String(), "task t1 upload completed")
	_, err := j.Lookup(ctx, "t1")
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestFinishUploadFailedKeepsJournalEntry(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, "t1")

	var out bytes.Buffer
	report := transfer.Report{
		TaskID: "t1",
		Results: []transfer.FileResult{
			{File: transfer.PlannedFile{LocalFile: transfer.LocalFile{Path: "a"}}, Outcome: model.FileOutcomeFailed, Err: errors.New("boom")},
			{Outcome: model.FileOutcomeOK},
		},
		Task: model.Task{ID: "t1", Status: model.TaskFailed},
	}
	err := finishUpload(ctx, &out, j, "t1", report, nil)
	require.ErrorContains(t, err, "1 of 2 files failed")
	assert.Contains(t, out.String(), "failed: a: boom")

	_, err = j.Lookup(ctx, "t1")
	assert.NoError(t, err)
}

func TestFinishUploadCancelledByServer(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t, "t1")

	var out bytes.Buffer
	err := finishUpload(ctx, &out, j, "t1", transfer.Report{}, transfer.ErrCancelled)
	require.ErrorIs(t, err, transfer.ErrCancelled)
	assert.Contains(t, out.String(), "was cancelled")

	_, err = j.Lookup(ctx, "t1")
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestFinishUploadInterruptedLocallyKeepsJournalEntry(t *testing.T) {
	j := openTestJournal(t, "t1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := finishUpload(ctx, &out, j, "t1", transfer.Report{}, transfer.ErrCancelled)
	require.ErrorIs(t, err, transfer.ErrCancelled)
	assert.Contains(t, out.String(), "transferctl retry t1")

	_, err = j.Lookup(context.Background(), "t1")
	assert.NoError(t, err)
}
