package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"go-file-transfer/internal/model"
)

type sentPart struct {
	part model.UploadPart
	data []byte
}

// fakeAPI records every call. uploadFn scripts answers to UploadPart; nil
// answers 200.
type fakeAPI struct {
	mu sync.Mutex

	batchResp model.CreateBatchResponse
	batchErr  error
	batchReqs []model.CreateBatchRequest

	chunkStatus map[string][]int
	statusCalls int

	uploadFn func(call int, part model.UploadPart) (model.UploadResult, error)
	sent     []sentPart

	finished []model.FinishBatchRequest
}

func (f *fakeAPI) CreateBatch(_ context.Context, req model.CreateBatchRequest) (model.CreateBatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchReqs = append(f.batchReqs, req)
	return f.batchResp, f.batchErr
}

func (f *fakeAPI) ChunkStatus(_ context.Context, req model.ChunkStatusRequest) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.chunkStatus[req.Path+"/"+req.Filename], nil
}

func (f *fakeAPI) UploadPart(ctx context.Context, part model.UploadPart, body io.Reader) (model.UploadResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return model.UploadResult{}, err
	}

	f.mu.Lock()
	call := len(f.sent)
	f.sent = append(f.sent, sentPart{part: part, data: data})
	fn := f.uploadFn
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return model.UploadResult{}, err
	}
	if fn == nil {
		return model.UploadResult{Code: model.UploadCodeOK}, nil
	}
	return fn(call, part)
}

func (f *fakeAPI) FinishBatch(_ context.Context, req model.FinishBatchRequest) (model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, req)

	status := model.TaskCompleted
	for _, r := range req.Results {
		if r.Outcome == model.FileOutcomeFailed {
			status = model.TaskFailed
		}
	}
	return model.Task{ID: req.TaskID, Status: status}, nil
}

func (f *fakeAPI) sentParts() []sentPart {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentPart(nil), f.sent...)
}

func writeLocal(t *testing.T, dir string, name string, data []byte) LocalFile {
	t.Helper()

	source := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(source), 0o755))
	require.NoError(t, os.WriteFile(source, data, 0o644))
	return LocalFile{Path: name, Source: source, Size: int64(len(data))}
}

func resolvedAs(original string, target string) model.ResolvedFile {
	return model.ResolvedFile{Original: original, Resolved: &target}
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	return data
}
