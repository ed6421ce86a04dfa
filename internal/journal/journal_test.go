package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "state", "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func TestRecordAndLookup(t *testing.T) {
	t.Parallel()

	j, _ := openTestJournal(t)
	ctx := t.Context()

	require.NoError(t, j.Record(ctx, Entry{TaskID: "t-1", LocalRoot: "/home/me/photos", TargetPath: "/in", ConflictStrategy: "skip"}))

	entry, err := j.Lookup(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "/home/me/photos", entry.LocalRoot)
	assert.Equal(t, "/in", entry.TargetPath)
	assert.Equal(t, "skip", entry.ConflictStrategy)
	assert.WithinDuration(t, time.Now(), entry.CreatedAt, time.Minute)
	assert.Equal(t, filepath.Join("/home/me/photos", "album", "a.jpg"), entry.Source("album/a.jpg"))

	require.NoError(t, j.Record(ctx, Entry{TaskID: "t-1", LocalRoot: "/other", TargetPath: "/in", ConflictStrategy: "overwrite"}))
	entry, err = j.Lookup(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "/other", entry.LocalRoot)
}

func TestLookupMissing(t *testing.T) {
	t.Parallel()

	j, _ := openTestJournal(t)
	_, err := j.Lookup(t.Context(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournalSurvivesReopen(t *testing.T) {
	t.Parallel()

	j, path := openTestJournal(t)
	require.NoError(t, j.Record(t.Context(), Entry{TaskID: "t-1", LocalRoot: "/src", TargetPath: "/in", ConflictStrategy: "auto_rename"}))
	require.NoError(t, j.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	entry, err := reopened.Lookup(t.Context(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, "/src", entry.LocalRoot)
}

func TestDeleteAndPrune(t *testing.T) {
	t.Parallel()

	j, _ := openTestJournal(t)
	ctx := t.Context()

	require.NoError(t, j.Record(ctx, Entry{TaskID: "old", LocalRoot: "/a", TargetPath: "/in", ConflictStrategy: "skip", CreatedAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, j.Record(ctx, Entry{TaskID: "new", LocalRoot: "/b", TargetPath: "/in", ConflictStrategy: "skip"}))
	require.NoError(t, j.Record(ctx, Entry{TaskID: "gone", LocalRoot: "/c", TargetPath: "/in", ConflictStrategy: "skip"}))

	require.NoError(t, j.Delete(ctx, "gone"))
	_, err := j.Lookup(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err := j.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = j.Lookup(ctx, "new")
	assert.NoError(t, err)
}
