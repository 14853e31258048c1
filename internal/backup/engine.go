package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/blobstore"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/repo"
	"github.com/shaiso/Netomata/internal/telemetry"
)

// Default configuration values.
const (
	DefaultInlineThreshold = 64 * 1024
	DefaultKeep            = 20
	DefaultRetention       = 180 * 24 * time.Hour
)

// Ошибки движка бэкапов.
var (
	// ErrEmptyContent — снимок без содержимого.
	ErrEmptyContent = errors.New("backup content is empty")

	// ErrNoContent — у бэкапа нет ни inline-содержимого, ни ссылки.
	ErrNoContent = errors.New("backup has no stored content")

	// ErrNoBlobStore — бэкап хранится во внешнем хранилище, а оно не настроено.
	ErrNoBlobStore = errors.New("backup is external but no blob store is configured")
)

// Store — хранилище записей Backup.
type Store interface {
	Create(ctx context.Context, b *domain.Backup) error
	Latest(ctx context.Context, deviceID uuid.UUID, successOnly bool) (*domain.Backup, error)
	ListByDevice(ctx context.Context, deviceID uuid.UUID) ([]domain.Backup, error)
	SoftDelete(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Config — конфигурация Engine.
type Config struct {
	// InlineThreshold — размер в байтах, с которого содержимое уходит
	// во внешнее хранилище (default: 64KiB).
	InlineThreshold int

	// Keep — лимит успешных бэкапов на тип. Отсутствующий тип — DefaultKeep.
	Keep map[domain.BackupType]int

	// DefaultKeep — лимит для типов без явного значения (default: 20).
	DefaultKeep int

	// Retention — горизонт хранения (default: 180 дней). Отрицательное — без горизонта.
	Retention time.Duration

	// Blobs — внешнее хранилище. nil — всё хранится inline.
	Blobs blobstore.Store

	Now    func() time.Time
	Logger *slog.Logger
}

// Engine — движок сохранения и очистки бэкапов.
type Engine struct {
	store     Store
	blobs     blobstore.Store
	threshold int
	keep      map[domain.BackupType]int
	keepDef   int
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New создаёт новый Engine.
func New(store Store, cfg Config) *Engine {
	e := &Engine{
		store:     store,
		blobs:     cfg.Blobs,
		threshold: cfg.InlineThreshold,
		keep:      cfg.Keep,
		keepDef:   cfg.DefaultKeep,
		retention: cfg.Retention,
		now:       cfg.Now,
		logger:    cfg.Logger,
	}
	if e.threshold <= 0 {
		e.threshold = DefaultInlineThreshold
	}
	if e.keepDef <= 0 {
		e.keepDef = DefaultKeep
	}
	if e.retention == 0 {
		e.retention = DefaultRetention
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Snapshot — успешно снятая конфигурация.
type Snapshot struct {
	DeviceID uuid.UUID
	TaskID   *uuid.UUID
	Type     domain.BackupType
	Content  string
	Operator string
}

// Capture сохраняет снимок. created=false означает, что снимок совпал
// с последним успешным бэкапом (pre_change/post_change) и возвращён он.
func (e *Engine) Capture(ctx context.Context, s Snapshot) (*domain.Backup, bool, error) {
	if s.Content == "" {
		return nil, false, ErrEmptyContent
	}
	hash := ContentHash(s.Content)
	logger := e.logger.With("device_id", s.DeviceID, "backup_type", s.Type)

	if s.Type.IsChange() {
		latest, err := e.store.Latest(ctx, s.DeviceID, true)
		switch {
		case err == nil && latest.Hash == hash:
			telemetry.BackupsDeduplicated.Inc()
			logger.Debug("snapshot matches latest backup", "backup_id", latest.ID)
			return latest, false, nil
		case err != nil && !errors.Is(err, repo.ErrNotFound):
			return nil, false, fmt.Errorf("load latest backup: %w", err)
		}
	}

	b := &domain.Backup{
		ID:        uuid.New(),
		DeviceID:  s.DeviceID,
		TaskID:    s.TaskID,
		Type:      s.Type,
		Status:    domain.BackupSuccess,
		Size:      int64(len(s.Content)),
		Hash:      hash,
		Operator:  s.Operator,
		CreatedAt: e.now(),
	}

	storage := "inline"
	if len(s.Content) >= e.threshold && e.blobs != nil {
		ref, err := e.blobs.Put(ctx, blobstore.ObjectKey(s.DeviceID, b.ID), []byte(s.Content))
		if err != nil {
			return nil, false, fmt.Errorf("store backup content: %w", err)
		}
		b.ContentRef = ref
		storage = "external"
	} else {
		b.Content = s.Content
	}

	if err := e.store.Create(ctx, b); err != nil {
		if b.IsExternal() {
			if derr := e.blobs.Delete(ctx, b.ContentRef); derr != nil {
				logger.Warn("failed to remove orphan backup content", "ref", b.ContentRef, "error", derr)
			}
		}
		return nil, false, fmt.Errorf("create backup: %w", err)
	}
	telemetry.BackupsCaptured.WithLabelValues(string(s.Type), storage).Inc()
	logger.Info("backup captured", "backup_id", b.ID, "size", b.Size, "storage", storage)

	if _, err := e.Prune(ctx, s.DeviceID); err != nil {
		logger.Warn("backup pruning failed", "error", err)
	}
	return b, true, nil
}

// RecordFailure сохраняет запись о неудавшемся снятии конфигурации.
func (e *Engine) RecordFailure(ctx context.Context, deviceID uuid.UUID, taskID *uuid.UUID, typ domain.BackupType, operator string, cause error) (*domain.Backup, error) {
	b := &domain.Backup{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		TaskID:    taskID,
		Type:      typ,
		Status:    domain.BackupFailed,
		Operator:  operator,
		CreatedAt: e.now(),
	}
	if cause != nil {
		b.Error = cause.Error()
	}
	if err := e.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create failed backup: %w", err)
	}
	telemetry.BackupsCaptured.WithLabelValues(string(typ), "failed").Inc()
	return b, nil
}

// Content возвращает содержимое бэкапа из inline-поля или внешнего хранилища.
func (e *Engine) Content(ctx context.Context, b *domain.Backup) (string, error) {
	switch {
	case b.Content != "":
		return b.Content, nil
	case b.IsExternal():
		if e.blobs == nil {
			return "", ErrNoBlobStore
		}
		data, err := e.blobs.Get(ctx, b.ContentRef)
		if err != nil {
			return "", fmt.Errorf("load backup content: %w", err)
		}
		return string(data), nil
	default:
		return "", ErrNoContent
	}
}

// Prune мягко удаляет лишние бэкапы устройства и возвращает их число.
//
// Проход 1: по каждому типу успешные бэкапы сверх лимита, старые первыми.
// Проход 2: всё старше горизонта хранения, независимо от типа и статуса.
// Самый свежий бэкап и самый свежий успешный исключаются в обоих проходах.
func (e *Engine) Prune(ctx context.Context, deviceID uuid.UUID) (int, error) {
	backups, err := e.store.ListByDevice(ctx, deviceID)
	if err != nil {
		return 0, fmt.Errorf("list backups: %w", err)
	}
	if len(backups) == 0 {
		return 0, nil
	}

	// ListByDevice отдаёт новые первыми
	protected := map[uuid.UUID]bool{backups[0].ID: true}
	for _, b := range backups {
		if b.Status == domain.BackupSuccess {
			protected[b.ID] = true
			break
		}
	}

	doomed := make(map[uuid.UUID]string)
	seen := make(map[domain.BackupType]int)
	for _, b := range backups {
		if b.Status != domain.BackupSuccess {
			continue
		}
		seen[b.Type]++
		if seen[b.Type] > e.keepFor(b.Type) && !protected[b.ID] {
			doomed[b.ID] = "keep"
		}
	}

	if e.retention > 0 {
		horizon := e.now().Add(-e.retention)
		for _, b := range backups {
			if b.CreatedAt.Before(horizon) && !protected[b.ID] {
				if _, ok := doomed[b.ID]; !ok {
					doomed[b.ID] = "age"
				}
			}
		}
	}

	if len(doomed) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, 0, len(doomed))
	for _, b := range backups {
		if _, ok := doomed[b.ID]; ok {
			ids = append(ids, b.ID)
		}
	}
	if err := e.store.SoftDelete(ctx, ids, e.now()); err != nil {
		return 0, fmt.Errorf("soft delete backups: %w", err)
	}
	for _, reason := range doomed {
		telemetry.BackupsPruned.WithLabelValues(reason).Inc()
	}

	e.logger.Debug("backups pruned", "device_id", deviceID, "count", len(ids))
	return len(ids), nil
}

func (e *Engine) keepFor(t domain.BackupType) int {
	if n, ok := e.keep[t]; ok && n > 0 {
		return n
	}
	return e.keepDef
}
