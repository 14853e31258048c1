package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Netomata/internal/domain"
)

// DeviceRepo — репозиторий инвентаря устройств.
type DeviceRepo struct {
	pool *pgxpool.Pool
}

// NewDeviceRepo создаёт новый DeviceRepo.
func NewDeviceRepo(pool *pgxpool.Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

const deviceColumns = `id, name, address, port, platform, auth_type, department, device_group, status, created_at`

// Create добавляет устройство.
func (r *DeviceRepo) Create(ctx context.Context, d *domain.Device) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.Name, d.Address, d.Port, d.Platform, d.AuthType, d.Department, d.Group, d.Status, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// GetByID возвращает устройство по ID.
func (r *DeviceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
	d, err := scanDevice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// ListByIDs возвращает устройства в порядке ids. Отсутствующие — ErrNotFound.
func (r *DeviceRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Device, error) {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	rows, err := r.pool.Query(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ANY($1::uuid[])`, strs)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]domain.Device, len(ids))
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		byID[d.ID] = *d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Device, 0, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: device %s", ErrNotFound, id)
		}
		out = append(out, d)
	}
	return out, nil
}

// ListActive возвращает все активные устройства.
func (r *DeviceRepo) ListActive(ctx context.Context) ([]domain.Device, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+deviceColumns+` FROM devices WHERE status = 'active' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list active devices: %w", err)
	}
	defer rows.Close()

	var out []domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDevice(row pgx.Row) (*domain.Device, error) {
	var d domain.Device
	err := row.Scan(&d.ID, &d.Name, &d.Address, &d.Port, &d.Platform, &d.AuthType,
		&d.Department, &d.Group, &d.Status, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan device: %w", err)
	}
	return &d, nil
}

// CredentialRepo — репозиторий учётных данных групп.
type CredentialRepo struct {
	pool *pgxpool.Pool
}

// NewCredentialRepo создаёт новый CredentialRepo.
func NewCredentialRepo(pool *pgxpool.Pool) *CredentialRepo {
	return &CredentialRepo{pool: pool}
}

// GetByGroup возвращает учётные данные группы.
func (r *CredentialRepo) GetByGroup(ctx context.Context, key domain.GroupKey) (*domain.CredentialRecord, error) {
	var c domain.CredentialRecord
	var secret, seed *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, department, device_group, username, secret, otp_seed
		FROM credentials
		WHERE department = $1 AND device_group = $2
	`, key.Department, key.Group).Scan(&c.ID, &c.Department, &c.Group, &c.Username, &secret, &seed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	c.Secret = derefString(secret)
	c.OTPSeed = derefString(seed)
	return &c, nil
}

// TemplateRepo — репозиторий шаблонов конфигурации.
type TemplateRepo struct {
	pool *pgxpool.Pool
}

// NewTemplateRepo создаёт новый TemplateRepo.
func NewTemplateRepo(pool *pgxpool.Pool) *TemplateRepo {
	return &TemplateRepo{pool: pool}
}

// GetByID возвращает шаблон, включая удалённые (проверку делает вызывающий).
func (r *TemplateRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	var t domain.Template
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, content, deleted, approval_status, created_at
		FROM templates WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Content, &t.Deleted, &t.ApprovalStatus, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}
