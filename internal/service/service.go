package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/otp"
	"github.com/shaiso/Netomata/internal/repo"
)

// TaskStore — хранилище задач.
type TaskStore interface {
	Create(ctx context.Context, t *domain.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	Update(ctx context.Context, t *domain.Task) error
}

// ApprovalStore — хранилище шагов согласования.
type ApprovalStore interface {
	CreateSteps(ctx context.Context, steps []domain.ApprovalStep) error
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.ApprovalStep, error)
	Update(ctx context.Context, s *domain.ApprovalStep) error
}

// TemplateStore — хранилище шаблонов.
type TemplateStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Template, error)
}

// DeviceStore — инвентарь устройств.
type DeviceStore interface {
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Device, error)
}

// Publisher — очередь задач.
type Publisher interface {
	PublishTask(ctx context.Context, typ domain.TaskType, taskID uuid.UUID, resume bool) error
}

// Codes — OTP-координатор.
type Codes interface {
	Cache(ctx context.Context, key domain.GroupKey, code string) time.Duration
	Resume(ctx context.Context, key domain.GroupKey, taskID uuid.UUID) bool
	PausesForGroup(ctx context.Context, key domain.GroupKey) []otp.PauseState
}

// Service — операции над задачами.
type Service struct {
	tasks     TaskStore
	approvals ApprovalStore
	templates TemplateStore
	devices   DeviceStore
	publisher Publisher
	codes     Codes
	logger    *slog.Logger
}

// Config — зависимости Service.
type Config struct {
	Tasks     TaskStore
	Approvals ApprovalStore
	Templates TemplateStore
	Devices   DeviceStore
	Publisher Publisher
	Codes     Codes

	Logger *slog.Logger
}

// New создаёт Service.
func New(cfg Config) *Service {
	s := &Service{
		tasks:     cfg.Tasks,
		approvals: cfg.Approvals,
		templates: cfg.Templates,
		devices:   cfg.Devices,
		publisher: cfg.Publisher,
		codes:     cfg.Codes,
		logger:    cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// GetTask возвращает задачу.
func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, domainErr(err, "task %s", id)
	}
	return t, nil
}

// ApprovalSteps возвращает шаги согласования задачи по уровням.
func (s *Service) ApprovalSteps(ctx context.Context, taskID uuid.UUID) ([]domain.ApprovalStep, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	steps, err := s.approvals.ListByTask(ctx, taskID)
	if err != nil {
		return nil, domainErr(err, "approval steps of task %s", taskID)
	}
	return steps, nil
}

// domainErr переводит ошибку репозитория в ошибку домена.
func domainErr(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	case errors.Is(err, repo.ErrConflict):
		return fmt.Errorf("%w: %s: %v", domain.ErrConflict, what, err)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrBadRequest, fmt.Sprintf(format, args...))
}
