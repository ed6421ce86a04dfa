package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-file-transfer/internal/model"
)

// TaskRepository persists task records so they survive a restart. Transient
// fields (speed, eta, current_file) are not stored.
type TaskRepository struct {
	pool *pgxpool.Pool
}

func NewTaskRepository(pool *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{pool: pool}
}

func (r *TaskRepository) Save(ctx context.Context, record model.TaskRecord) error {
	spec, err := json.Marshal(record.Spec)
	if err != nil {
		return fmt.Errorf("encode task spec: %w", err)
	}

	task := record.Task
	_, err = r.pool.Exec(ctx,
		`INSERT INTO tasks (id, type, status, name, source_path, target_path,
		  total_size, processed_size, total_files, processed_files, progress,
		  error, owner, created_at, started_at, finished_at, spec, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now())
		 ON CONFLICT (id) DO UPDATE SET
		  status = EXCLUDED.status, name = EXCLUDED.name,
		  total_size = EXCLUDED.total_size, processed_size = EXCLUDED.processed_size,
		  total_files = EXCLUDED.total_files, processed_files = EXCLUDED.processed_files,
		  progress = EXCLUDED.progress, error = EXCLUDED.error,
		  started_at = EXCLUDED.started_at, finished_at = EXCLUDED.finished_at,
		  spec = EXCLUDED.spec, updated_at = now()`,
		task.ID, string(task.Type), string(task.Status), task.Name, task.SourcePath, task.TargetPath,
		task.TotalSize, task.ProcessedSize, task.TotalFiles, task.ProcessedFiles, task.Progress,
		task.Error, task.Owner, task.CreatedAt, task.StartedAt, task.FinishedAt, spec)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (r *TaskRepository) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	if _, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	return nil
}

func (r *TaskRepository) LoadAll(ctx context.Context) ([]model.TaskRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, type, status, name, source_path, target_path,
		        total_size, processed_size, total_files, processed_files, progress,
		        error, owner, created_at, started_at, finished_at, spec
		 FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}

	records, err := pgx.CollectRows(rows, scanTaskRecord)
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	return records, nil
}

func scanTaskRecord(row pgx.CollectableRow) (model.TaskRecord, error) {
	var (
		record   model.TaskRecord
		taskType string
		status   string
		spec     []byte
	)

	task := &record.Task
	err := row.Scan(&task.ID, &taskType, &status, &task.Name, &task.SourcePath, &task.TargetPath,
		&task.TotalSize, &task.ProcessedSize, &task.TotalFiles, &task.ProcessedFiles, &task.Progress,
		&task.Error, &task.Owner, &task.CreatedAt, &task.StartedAt, &task.FinishedAt, &spec)
	if err != nil {
		return model.TaskRecord{}, err
	}

	task.Type = model.TaskType(taskType)
	task.Status = model.TaskStatus(status)
	if len(spec) > 0 {
		if err := json.Unmarshal(spec, &record.Spec); err != nil {
			return model.TaskRecord{}, fmt.Errorf("decode spec of task %s: %w", task.ID, err)
		}
	}
	return record, nil
}
