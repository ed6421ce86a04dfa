package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalChunks(t *testing.T) {
	t.Parallel()

	cases := []struct {
		size  int64
		chunk int64
		want  int
	}{
		{0, 10, 1},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{95, 10, 10},
		{100 << 20, DefaultChunkSize, 4},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TotalChunks(tc.size, tc.chunk), "size=%d chunk=%d", tc.size, tc.chunk)
	}
}

func TestChunkPlanRanges(t *testing.T) {
	t.Parallel()

	plan := ChunkPlan{Size: 25, ChunkSize: 10, TotalChunks: 3, Uploaded: []int{0, 2}}

	off, n := plan.Range(2)
	assert.Equal(t, int64(20), off)
	assert.Equal(t, int64(5), n)

	assert.Equal(t, []int{1}, plan.Pending())
	assert.Equal(t, int64(15), plan.UploadedBytes())
	assert.True(t, plan.Chunked())
}

func TestSchedulerSingleChunkSkipsStatusQuery(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	plan, err := NewScheduler(api, 10).Plan(t.Context(), "/in/a.txt", 10)
	require.NoError(t, err)

	assert.False(t, plan.Chunked())
	assert.Equal(t, 0, api.statusCalls)
	assert.Equal(t, []int{0}, plan.Pending())
}

func TestSchedulerUsesServerChunks(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{chunkStatus: map[string][]int{"/in/a.bin": {3, 1, 1, 7, -1}}}
	plan, err := NewScheduler(api, 10).Plan(t.Context(), "/in/a.bin", 35)
	require.NoError(t, err)

	assert.Equal(t, 4, plan.TotalChunks)
	assert.Equal(t, []int{1, 3}, plan.Uploaded)
	assert.Equal(t, []int{0, 2}, plan.Pending())
	assert.Equal(t, int64(15), plan.UploadedBytes())
}
