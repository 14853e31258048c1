package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Netomata/internal/domain"
)

// TaskRepo — репозиторий для работы с tasks.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `
	id, type, status, progress, template_id, params, device_ids, dry_run,
	render_hashes, devices, success_count, failure_count, result, rollback,
	error, pause, source_task_id, anchor_backup_id, approval_levels,
	current_level, approval_status, operator, version, created_at, updated_at,
	started_at, finished_at`

// taskJSON — jsonb-колонки задачи.
type taskJSON struct {
	params, deviceIDs, renderHashes, devices, result, rollback, pause []byte
}

func encodeTask(t *domain.Task) (taskJSON, error) {
	var j taskJSON
	var err error
	fields := []struct {
		dst *[]byte
		src any
	}{
		{&j.params, t.Params},
		{&j.deviceIDs, t.DeviceIDs},
		{&j.renderHashes, t.RenderHashes},
		{&j.devices, t.Devices},
		{&j.result, t.Result},
		{&j.rollback, t.Rollback},
		{&j.pause, t.Pause},
	}
	for _, f := range fields {
		if *f.dst, err = marshalJSON(f.src); err != nil {
			return j, fmt.Errorf("marshal task: %w", err)
		}
	}
	if j.deviceIDs == nil {
		j.deviceIDs = []byte("[]")
	}
	return j, nil
}

// Create создаёт новую задачу.
func (r *TaskRepo) Create(ctx context.Context, t *domain.Task) error {
	j, err := encodeTask(t)
	if err != nil {
		return err
	}

	query := `INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`
	_, err = r.pool.Exec(ctx, query,
		t.ID, t.Type, t.Status, t.Progress, nullID(t.TemplateID), j.params, j.deviceIDs, t.DryRun,
		j.renderHashes, j.devices, t.SuccessCount, t.FailureCount, j.result, j.rollback,
		nullString(t.Error), j.pause, t.SourceTaskID, t.AnchorBackupID, t.ApprovalLevels,
		t.CurrentLevel, t.ApprovalStatus, t.Operator, t.Version, t.CreatedAt, t.UpdatedAt,
		t.StartedAt, t.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID возвращает задачу по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// Update записывает задачу, если её version не изменился с момента чтения.
//
// При успехе t.Version увеличивается. Если запись изменена конкурентно,
// возвращается ErrConflict; если задачи нет — ErrNotFound.
func (r *TaskRepo) Update(ctx context.Context, t *domain.Task) error {
	j, err := encodeTask(t)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `
		UPDATE tasks
		SET status = $3, progress = $4, render_hashes = $5, devices = $6,
		    success_count = $7, failure_count = $8, result = $9, rollback = $10,
		    error = $11, pause = $12, anchor_backup_id = $13, current_level = $14,
		    approval_status = $15, started_at = $16, finished_at = $17,
		    updated_at = $18, version = version + 1
		WHERE id = $1 AND version = $2
	`
	result, err := r.pool.Exec(ctx, query,
		t.ID, t.Version,
		t.Status, t.Progress, j.renderHashes, j.devices,
		t.SuccessCount, t.FailureCount, j.result, j.rollback,
		nullString(t.Error), j.pause, t.AnchorBackupID, t.CurrentLevel,
		t.ApprovalStatus, t.StartedAt, t.FinishedAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check task: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return fmt.Errorf("%w: task %s version %d", ErrConflict, t.ID, t.Version)
	}

	t.Version++
	t.UpdatedAt = now
	return nil
}

// ListPending возвращает согласованные задачи в статусе PENDING.
func (r *TaskRepo) ListPending(ctx context.Context, limit int) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + `
		FROM tasks
		WHERE status = 'PENDING' AND approval_status = 'approved'
		ORDER BY created_at ASC
		LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// --- Helpers ---

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	var j taskJSON
	var templateID *uuid.UUID
	var taskError *string

	err := row.Scan(
		&t.ID, &t.Type, &t.Status, &t.Progress, &templateID, &j.params, &j.deviceIDs, &t.DryRun,
		&j.renderHashes, &j.devices, &t.SuccessCount, &t.FailureCount, &j.result, &j.rollback,
		&taskError, &j.pause, &t.SourceTaskID, &t.AnchorBackupID, &t.ApprovalLevels,
		&t.CurrentLevel, &t.ApprovalStatus, &t.Operator, &t.Version, &t.CreatedAt, &t.UpdatedAt,
		&t.StartedAt, &t.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if templateID != nil {
		t.TemplateID = *templateID
	}
	t.Error = derefString(taskError)

	fields := []struct {
		src []byte
		dst any
	}{
		{j.params, &t.Params},
		{j.deviceIDs, &t.DeviceIDs},
		{j.renderHashes, &t.RenderHashes},
		{j.devices, &t.Devices},
		{j.result, &t.Result},
		{j.rollback, &t.Rollback},
		{j.pause, &t.Pause},
	}
	for _, f := range fields {
		if err := unmarshalJSON(f.src, f.dst); err != nil {
			return nil, fmt.Errorf("unmarshal task: %w", err)
		}
	}
	return &t, nil
}

func nullID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
