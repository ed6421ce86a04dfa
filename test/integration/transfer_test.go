//go:build integration

package integration

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-file-transfer/internal/config"
	"go-file-transfer/internal/event"
	"go-file-transfer/internal/model"
	"go-file-transfer/internal/transfer"
)

func TestUploadBatchEndToEnd(t *testing.T) {
	t.Parallel()

	server := newAuthedServer(t, nil)
	api := server.client(t)

	local := t.TempDir()
	big := strings.Repeat("abcdefgh", 1000)
	files := map[string]string{"set/small.txt": "tiny", "set/big.bin": big}
	req := transfer.BatchRequest{TargetPath: "/uploads", ConflictStrategy: model.ConflictAutoRename}
	for name, content := range files {
		p := filepath.Join(local, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		req.Files = append(req.Files, transfer.LocalFile{Path: name, Source: p, Size: int64(len(content))})
	}

	uploader := transfer.NewUploader(api, transfer.NewRegistry(0), transfer.Options{ChunkSize: 1024, Workers: 2})
	report, err := uploader.Upload(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, model.TaskCompleted, report.Outcome)
	assert.Equal(t, model.TaskCompleted, report.Task.Status)
	assert.Equal(t, "tiny", server.readStored(t, "/uploads/set/small.txt"))
	assert.Equal(t, big, server.readStored(t, "/uploads/set/big.bin"))

	// Same batch again: every name is taken, so auto_rename reserves new ones.
	report, err = uploader.Upload(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, report.Outcome)
	assert.Equal(t, "tiny", server.readStored(t, "/uploads/set/small (1).txt"))
}

func TestPausedAndCancelledUploadCodes(t *testing.T) {
	t.Parallel()

	server := newAuthedServer(t, nil)
	api := server.client(t)
	ctx := context.Background()

	created, err := api.CreateBatch(ctx, model.CreateBatchRequest{
		TargetPath:       "/in",
		ConflictStrategy: model.ConflictAutoRename,
		Files:            []model.BatchFile{{Path: "data.bin", Size: 8}},
	})
	require.NoError(t, err)

	part := func(index int) model.UploadPart {
		return model.UploadPart{Path: "/in", Filename: "data.bin", ChunkIndex: intPtr(index), TotalChunks: intPtr(2), TotalSize: 8, TaskID: created.TaskID}
	}

	result, err := api.UploadPart(ctx, part(0), strings.NewReader("abcd"))
	require.NoError(t, err)
	require.Equal(t, model.UploadCodeOK, result.Code)

	_, err = api.PauseTask(ctx, created.TaskID)
	require.NoError(t, err)

	result, err = api.UploadPart(ctx, part(1), strings.NewReader("efgh"))
	require.NoError(t, err)
	assert.Equal(t, model.UploadCodePaused, result.Code)

	uploaded, err := api.ChunkStatus(ctx, model.ChunkStatusRequest{Path: "/in", Filename: "data.bin", TotalChunks: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, uploaded)

	_, err = api.CancelTask(ctx, created.TaskID)
	require.NoError(t, err)

	result, err = api.UploadPart(ctx, part(1), strings.NewReader("efgh"))
	require.NoError(t, err)
	assert.Equal(t, model.UploadCodeCancelled, result.Code)

	_, err = os.Stat(filepath.Join(server.storageRoot, "in", "data.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUploaderUnwindsOnCancel(t *testing.T) {
	t.Parallel()

	server := newAuthedServer(t, nil)
	api := server.client(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(src, []byte(strings.Repeat("x", 4096)), 0o644))

	uploader := transfer.NewUploader(api, transfer.NewRegistry(0), transfer.Options{ChunkSize: 1024})
	batch, err := uploader.Plan(ctx, transfer.BatchRequest{
		TargetPath: "/c",
		Files:      []transfer.LocalFile{{Path: "f.bin", Source: src, Size: 4096}},
	})
	require.NoError(t, err)

	// A pending task may be cancelled before any data arrives.
	_, err = api.CancelTask(ctx, batch.TaskID)
	require.NoError(t, err)

	_, err = uploader.Run(ctx, batch)
	require.ErrorIs(t, err, transfer.ErrCancelled)

	task, err := api.GetTask(ctx, batch.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCancelled, task.Status)
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	t.Parallel()

	server := newAuthedServer(t, nil)

	resp := doRequest(t, newAuthRequest(t, http.MethodGet, server.URL+"/api/v1/tasks", nil, ""))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, resp).Code)

	resp = doRequest(t, newAuthRequest(t, http.MethodGet, server.URL+"/api/v1/tasks", nil, "not-a-jwt"))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClearAllRequiresAdmin(t *testing.T) {
	t.Parallel()

	server := newAuthedServer(t, nil)

	resp := doRequest(t, newAuthRequest(t, http.MethodPost, server.URL+"/api/v1/tasks/clear_all", []byte(`{}`), server.token))
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRateLimitReturns429(t *testing.T) {
	t.Parallel()

	server := newAuthedServer(t, func(cfg *config.Config) { cfg.RateLimitRPM = 3 })

	var limited *http.Response
	for i := 0; i < 10 && limited == nil; i++ {
		resp := doRequest(t, newAuthRequest(t, http.MethodGet, server.URL+"/api/v1/tasks", nil, server.token))
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = resp
		}
	}
	require.NotNil(t, limited, "no request was rate limited")
	assert.Equal(t, "60", limited.Header.Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeError(t, limited).Code)
}

func TestSubscribeReceivesTaskEvents(t *testing.T) {
	t.Parallel()

	server := newAuthedServer(t, nil)
	api := server.client(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events, err := api.Subscribe(ctx)
	require.NoError(t, err)

	created, err := api.CreateBatch(ctx, model.CreateBatchRequest{
		TargetPath: "/ws",
		Files:      []model.BatchFile{{Path: "a.txt", Size: 1}},
	})
	require.NoError(t, err)

	for {
		select {
		case e, ok := <-events:
			require.True(t, ok, "event stream closed")
			if e.TaskID == created.TaskID && e.Type == event.TypeTaskCreated {
				return
			}
		case <-ctx.Done():
			t.Fatal("no task.created event for the new batch")
		}
	}
}

func TestCopyOperationCompletes(t *testing.T) {
	t.Parallel()

	server := newAuthedServer(t, nil)
	api := server.client(t)
	ctx := context.Background()

	result, err := api.UploadPart(ctx, model.UploadPart{Path: "/src", Filename: "doc.txt", TotalSize: 5}, strings.NewReader("hello"))
	require.NoError(t, err)
	require.Equal(t, model.UploadCodeOK, result.Code)

	task, err := api.SubmitOperation(ctx, model.OperationRequest{
		Type:        model.TaskTypeCopy,
		Sources:     []string{"/src/doc.txt"},
		Destination: "/dst",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TaskTypeCopy, task.Type)

	done := waitForStatus(t, api, task.ID, model.TaskCompleted)
	assert.Equal(t, int64(5), done.TotalSize)
	assert.Equal(t, "hello", server.readStored(t, "/dst/doc.txt"))
	assert.Equal(t, "hello", server.readStored(t, "/src/doc.txt"))
}
