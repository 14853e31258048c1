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

// BackupRepo — репозиторий бэкапов. Записи не изменяются после создания,
// кроме мягкого удаления (deleted_at).
type BackupRepo struct {
	pool *pgxpool.Pool
}

// NewBackupRepo создаёт новый BackupRepo.
func NewBackupRepo(pool *pgxpool.Pool) *BackupRepo {
	return &BackupRepo{pool: pool}
}

const backupColumns = `id, device_id, task_id, type, status, content, content_ref, size, hash,
	operator, error, created_at, deleted_at`

// Create сохраняет бэкап.
func (r *BackupRepo) Create(ctx context.Context, b *domain.Backup) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO backups (`+backupColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		b.ID, b.DeviceID, b.TaskID, b.Type, b.Status, nullString(b.Content), nullString(b.ContentRef),
		b.Size, nullString(b.Hash), nullString(b.Operator), nullString(b.Error), b.CreatedAt, b.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}
	return nil
}

// GetByID возвращает неудалённый бэкап.
func (r *BackupRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Backup, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanBackup(row)
}

// Latest возвращает последний неудалённый бэкап устройства
// (successOnly — только успешный).
func (r *BackupRepo) Latest(ctx context.Context, deviceID uuid.UUID, successOnly bool) (*domain.Backup, error) {
	query := `SELECT ` + backupColumns + ` FROM backups
		WHERE device_id = $1 AND deleted_at IS NULL`
	if successOnly {
		query += ` AND status = 'success'`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`
	return scanBackup(r.pool.QueryRow(ctx, query, deviceID))
}

// ListByDevice возвращает неудалённые бэкапы устройства, новые первыми.
func (r *BackupRepo) ListByDevice(ctx context.Context, deviceID uuid.UUID) ([]domain.Backup, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+backupColumns+` FROM backups
		WHERE device_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var out []domain.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// SoftDelete помечает бэкапы удалёнными.
func (r *BackupRepo) SoftDelete(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	_, err := r.pool.Exec(ctx, `UPDATE backups SET deleted_at = $2
		WHERE id = ANY($1::uuid[]) AND deleted_at IS NULL`, strs, at)
	if err != nil {
		return fmt.Errorf("soft delete backups: %w", err)
	}
	return nil
}

func scanBackup(row pgx.Row) (*domain.Backup, error) {
	var b domain.Backup
	var content, ref, hash, operator, backupError *string
	err := row.Scan(&b.ID, &b.DeviceID, &b.TaskID, &b.Type, &b.Status, &content, &ref, &b.Size, &hash,
		&operator, &backupError, &b.CreatedAt, &b.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan backup: %w", err)
	}
	b.Content = derefString(content)
	b.ContentRef = derefString(ref)
	b.Hash = derefString(hash)
	b.Operator = derefString(operator)
	b.Error = derefString(backupError)
	return &b, nil
}
