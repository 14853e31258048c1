package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/repo"
)

// CreateTask создаёт задачу деплоя или отката в статусе PENDING вместе
// с полным набором шагов согласования. Задача без уровней согласования
// сразу считается согласованной.
func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (*domain.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}

	deviceIDs := slices.Clone(req.DeviceIDs)
	switch req.Type {
	case domain.TaskTypeDeploy:
		if err := s.checkTemplate(ctx, req.TemplateID); err != nil {
			return nil, err
		}
	case domain.TaskTypeRollback:
		source, err := s.checkSource(ctx, req.SourceTaskID)
		if err != nil {
			return nil, err
		}
		if len(deviceIDs) == 0 {
			deviceIDs = slices.Clone(source.DeviceIDs)
		}
		for _, id := range deviceIDs {
			if !slices.Contains(source.DeviceIDs, id) {
				return nil, badRequest("device %s is not a target of task %s", id, source.ID)
			}
		}
	}
	deviceIDs = dedupe(deviceIDs)
	if err := s.checkDevices(ctx, deviceIDs); err != nil {
		return nil, err
	}

	task := domain.NewTask(req.Type, req.Operator, deviceIDs)
	task.Params = req.Params
	task.DryRun = req.DryRun
	task.ApprovalLevels = req.ApprovalLevels
	if req.Type == domain.TaskTypeDeploy {
		task.TemplateID = req.TemplateID
	} else {
		src := req.SourceTaskID
		task.SourceTaskID = &src
	}
	if task.ApprovalLevels == 0 {
		task.ApprovalStatus = domain.ApprovalApproved
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if task.ApprovalLevels > 0 {
		if err := s.approvals.CreateSteps(ctx, domain.NewApprovalSteps(task.ID, task.ApprovalLevels)); err != nil {
			return nil, fmt.Errorf("create approval steps: %w", err)
		}
	}

	s.logger.Info("task created",
		"task_id", task.ID,
		"type", task.Type,
		"devices", len(task.DeviceIDs),
		"approval_levels", task.ApprovalLevels,
		"operator", task.Operator,
	)
	return task, nil
}

// Rollback создаёт задачу отката для задачи деплоя sourceID.
// Пустой deviceIDs — все устройства исходной задачи.
func (s *Service) Rollback(ctx context.Context, sourceID uuid.UUID, deviceIDs []uuid.UUID, approvalLevels int, operator string) (*domain.Task, error) {
	return s.CreateTask(ctx, CreateTaskRequest{
		Type:           domain.TaskTypeRollback,
		SourceTaskID:   sourceID,
		DeviceIDs:      deviceIDs,
		ApprovalLevels: approvalLevels,
		Operator:       operator,
	})
}

// Execute отправляет согласованную задачу в очередь. Задача на паузе
// отправляется как продолжение.
func (s *Service) Execute(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.IsApproved() {
		return nil, badRequest("task %s is not approved (approval status %s)", task.ID, task.ApprovalStatus)
	}

	var resume bool
	switch task.Status {
	case domain.TaskStatusPending:
	case domain.TaskStatusPaused:
		resume = true
	default:
		return nil, badRequest("task %s in status %s cannot be executed", task.ID, task.Status)
	}

	if err := s.publisher.PublishTask(ctx, task.Type, task.ID, resume); err != nil {
		return nil, fmt.Errorf("publish task %s: %w", task.ID, err)
	}
	s.logger.Info("task submitted", "task_id", task.ID, "type", task.Type, "resume", resume)
	return task, nil
}

func (s *Service) checkTemplate(ctx context.Context, id uuid.UUID) error {
	t, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return domainErr(err, "template %s", id)
	}
	if !t.Usable() {
		return badRequest("template %q is deleted or not approved", t.Name)
	}
	return nil
}

func (s *Service) checkSource(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	source, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, domainErr(err, "source task %s", id)
	}
	if source.Type != domain.TaskTypeDeploy {
		return nil, badRequest("task %s is a %s task and cannot be rolled back", source.ID, source.Type)
	}
	if !source.Status.CanRollback() {
		return nil, badRequest("task %s in status %s cannot be rolled back", source.ID, source.Status)
	}
	return source, nil
}

func (s *Service) checkDevices(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return badRequest("task has no target devices")
	}
	devices, err := s.devices.ListByIDs(ctx, ids)
	if errors.Is(err, repo.ErrNotFound) {
		return badRequest("%v", err)
	}
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == len(ids) {
		return nil
	}
	for _, id := range ids {
		if !slices.ContainsFunc(devices, func(d domain.Device) bool { return d.ID == id }) {
			return badRequest("unknown device %s", id)
		}
	}
	return nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
