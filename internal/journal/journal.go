// Package journal remembers where the files of each upload task came from,
// so a retried upload can find its local sources after the client restarts.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("upload not in journal")

// Entry is one upload task. File paths in the task are relative to
// LocalRoot.
type Entry struct {
	TaskID           string
	LocalRoot        string
	TargetPath       string
	ConflictStrategy string
	CreatedAt        time.Time
}

// Source maps a batch file path back to the local file it was read from.
func (e Entry) Source(original string) string {
	return filepath.Join(e.LocalRoot, filepath.FromSlash(original))
}

type Journal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	task_id           TEXT PRIMARY KEY,
	local_root        TEXT NOT NULL,
	target_path       TEXT NOT NULL,
	conflict_strategy TEXT NOT NULL,
	created_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_created_at ON uploads (created_at);
`

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores or replaces the entry for a task.
func (j *Journal) Record(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO uploads (task_id, local_root, target_path, conflict_strategy, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET
			local_root = excluded.local_root,
			target_path = excluded.target_path,
			conflict_strategy = excluded.conflict_strategy`,
		entry.TaskID, entry.LocalRoot, entry.TargetPath, entry.ConflictStrategy, entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record upload %s: %w", entry.TaskID, err)
	}
	return nil
}

func (j *Journal) Lookup(ctx context.Context, taskID string) (Entry, error) {
	var entry Entry
	var created int64
	err := j.db.QueryRowContext(ctx, `
		SELECT task_id, local_root, target_path, conflict_strategy, created_at
		FROM uploads WHERE task_id = ?`, taskID,
	).Scan(&entry.TaskID, &entry.LocalRoot, &entry.TargetPath, &entry.ConflictStrategy, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup upload %s: %w", taskID, err)
	}
	entry.CreatedAt = time.UnixMilli(created)
	return entry, nil
}

func (j *Journal) Delete(ctx context.Context, taskIDs ...string) error {
	for _, id := range taskIDs {
		if _, err := j.db.ExecContext(ctx, `DELETE FROM uploads WHERE task_id = ?`, id); err != nil {
			return fmt.Errorf("delete upload %s: %w", id, err)
		}
	}
	return nil
}

// Prune drops entries older than maxAge and returns how many went.
func (j *Journal) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := j.db.ExecContext(ctx, `DELETE FROM uploads WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}
