package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/service"
)

// TaskService — операции над задачами, которые обслуживает API.
type TaskService interface {
	CreateTask(ctx context.Context, req service.CreateTaskRequest) (*domain.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	ApprovalSteps(ctx context.Context, taskID uuid.UUID) ([]domain.ApprovalStep, error)
	Approve(ctx context.Context, taskID uuid.UUID, d service.Decision) (*domain.Task, error)
	Execute(ctx context.Context, taskID uuid.UUID) (*domain.Task, error)
	Rollback(ctx context.Context, sourceID uuid.UUID, deviceIDs []uuid.UUID, approvalLevels int, operator string) (*domain.Task, error)
	SubmitOTP(ctx context.Context, req service.SubmitOTPRequest) (service.SubmitOTPResult, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	tasks  TaskService
	logger *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Tasks  TaskService
	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		tasks:  cfg.Tasks,
		logger: cfg.Logger,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}
