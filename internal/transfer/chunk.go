package transfer

import (
	"context"
	"fmt"
	"path"
	"sort"

	"go-file-transfer/internal/model"
)

const DefaultChunkSize int64 = 32 << 20

// TotalChunks is ceil(size/chunkSize). A 0-byte file still takes one request.
func TotalChunks(size int64, chunkSize int64) int {
	if size <= 0 {
		return 1
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// ChunkPlan describes how one file is split and which chunks the server
// already holds.
type ChunkPlan struct {
	Size        int64
	ChunkSize   int64
	TotalChunks int
	Uploaded    []int
}

// Chunked reports whether the file goes up in chunks rather than as one
// unchunked request.
func (p ChunkPlan) Chunked() bool {
	return p.TotalChunks > 1
}

// Range returns the byte offset and length of chunk i.
func (p ChunkPlan) Range(i int) (int64, int64) {
	start := int64(i) * p.ChunkSize
	end := start + p.ChunkSize
	if end > p.Size {
		end = p.Size
	}
	if start > end {
		start = end
	}
	return start, end - start
}

// Pending returns the chunk indices still to send, ascending.
func (p ChunkPlan) Pending() []int {
	done := make(map[int]struct{}, len(p.Uploaded))
	for _, i := range p.Uploaded {
		done[i] = struct{}{}
	}

	pending := make([]int, 0, p.TotalChunks-len(done))
	for i := 0; i < p.TotalChunks; i++ {
		if _, ok := done[i]; !ok {
			pending = append(pending, i)
		}
	}
	return pending
}

// UploadedBytes is the number of bytes already on the server.
func (p ChunkPlan) UploadedBytes() int64 {
	var total int64
	for _, i := range p.Uploaded {
		_, n := p.Range(i)
		total += n
	}
	return total
}

type Scheduler struct {
	api       API
	chunkSize int64
}

func NewScheduler(api API, chunkSize int64) *Scheduler {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Scheduler{api: api, chunkSize: chunkSize}
}

// Plan splits a file destined for target. Only chunked files ask the server
// which chunks it already has.
func (s *Scheduler) Plan(ctx context.Context, target string, size int64) (ChunkPlan, error) {
	plan := ChunkPlan{
		Size:        size,
		ChunkSize:   s.chunkSize,
		TotalChunks: TotalChunks(size, s.chunkSize),
	}
	if !plan.Chunked() {
		return plan, nil
	}

	uploaded, err := s.api.ChunkStatus(ctx, model.ChunkStatusRequest{
		Path:        path.Dir(target),
		Filename:    path.Base(target),
		TotalChunks: plan.TotalChunks,
	})
	if err != nil {
		return ChunkPlan{}, fmt.Errorf("chunk status: %w", err)
	}

	seen := make(map[int]struct{}, len(uploaded))
	for _, i := range uploaded {
		if i < 0 || i >= plan.TotalChunks {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		plan.Uploaded = append(plan.Uploaded, i)
	}
	sort.Ints(plan.Uploaded)
	return plan, nil
}
