package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Netomata/internal/domain"
)

// ApprovalRepo — репозиторий шагов согласования.
type ApprovalRepo struct {
	pool *pgxpool.Pool
}

// NewApprovalRepo создаёт новый ApprovalRepo.
func NewApprovalRepo(pool *pgxpool.Pool) *ApprovalRepo {
	return &ApprovalRepo{pool: pool}
}

// CreateSteps создаёт полный набор шагов одной транзакцией.
func (r *ApprovalRepo) CreateSteps(ctx context.Context, steps []domain.ApprovalStep) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, s := range steps {
			_, err := tx.Exec(ctx, `
				INSERT INTO approval_steps (id, task_id, level, status, created_at)
				VALUES ($1, $2, $3, $4, $5)
			`, s.ID, s.TaskID, s.Level, s.Status, s.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert approval step %d: %w", s.Level, err)
			}
		}
		return nil
	})
}

// ListByTask возвращает шаги задачи по возрастанию уровня.
func (r *ApprovalRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.ApprovalStep, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, level, status, approver, comment, decided_at, created_at
		FROM approval_steps
		WHERE task_id = $1
		ORDER BY level ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list approval steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.ApprovalStep
	for rows.Next() {
		var s domain.ApprovalStep
		var approver, comment *string
		if err := rows.Scan(&s.ID, &s.TaskID, &s.Level, &s.Status, &approver, &comment, &s.DecidedAt, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan approval step: %w", err)
		}
		s.Approver = derefString(approver)
		s.Comment = derefString(comment)
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// Update сохраняет решение по шагу. Решение принимается один раз.
func (r *ApprovalRepo) Update(ctx context.Context, s *domain.ApprovalStep) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE approval_steps
		SET status = $2, approver = $3, comment = $4, decided_at = $5
		WHERE id = $1 AND status = 'pending'
	`, s.ID, s.Status, nullString(s.Approver), nullString(s.Comment), s.DecidedAt)
	if err != nil {
		return fmt.Errorf("update approval step: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: approval step %s already decided", ErrConflict, s.ID)
	}
	return nil
}
