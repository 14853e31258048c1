package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/service"
)

// Task DTOs

// CreateTaskRequest — запрос на создание задачи. Автор берётся из X-User.
type CreateTaskRequest struct {
	Type           domain.TaskType `json:"type"`
	TemplateID     uuid.UUID       `json:"template_id,omitempty"`
	DeviceIDs      []uuid.UUID     `json:"device_ids"`
	Params         map[string]any  `json:"params,omitempty"`
	DryRun         bool            `json:"dry_run,omitempty"`
	ApprovalLevels int             `json:"approval_levels"`
}

// ToService конвертирует запрос в service.CreateTaskRequest.
func (r CreateTaskRequest) ToService(operator string) service.CreateTaskRequest {
	return service.CreateTaskRequest{
		Type:           r.Type,
		TemplateID:     r.TemplateID,
		DeviceIDs:      r.DeviceIDs,
		Params:         r.Params,
		DryRun:         r.DryRun,
		ApprovalLevels: r.ApprovalLevels,
		Operator:       operator,
	}
}

// ApproveRequest — решение по текущему уровню согласования.
type ApproveRequest struct {
	Approve bool   `json:"approve"`
	Comment string `json:"comment,omitempty"`
}

// RollbackRequest — запрос на откат задачи.
type RollbackRequest struct {
	DeviceIDs      []uuid.UUID `json:"device_ids,omitempty"`
	ApprovalLevels int         `json:"approval_levels"`
}

// TaskResponse — ответ с задачей.
type TaskResponse struct {
	ID             uuid.UUID                          `json:"id"`
	Type           domain.TaskType                    `json:"type"`
	Status         domain.TaskStatus                  `json:"status"`
	Progress       int                                `json:"progress"`
	TemplateID     *uuid.UUID                         `json:"template_id,omitempty"`
	SourceTaskID   *uuid.UUID                         `json:"source_task_id,omitempty"`
	DeviceIDs      []uuid.UUID                        `json:"device_ids"`
	DryRun         bool                               `json:"dry_run"`
	Devices        map[uuid.UUID]domain.DeviceOutcome `json:"devices,omitempty"`
	SuccessCount   int                                `json:"success_count"`
	FailureCount   int                                `json:"failure_count"`
	Result         map[string]any                     `json:"result,omitempty"`
	Rollback       *domain.RollbackReport             `json:"rollback,omitempty"`
	Pause          *domain.PauseInfo                  `json:"pause,omitempty"`
	Error          string                             `json:"error,omitempty"`
	ApprovalLevels int                                `json:"approval_levels"`
	CurrentLevel   int                                `json:"current_level"`
	ApprovalStatus domain.ApprovalStatus              `json:"approval_status"`
	Operator       string                             `json:"operator"`
	CreatedAt      time.Time                          `json:"created_at"`
	StartedAt      *time.Time                         `json:"started_at,omitempty"`
	FinishedAt     *time.Time                         `json:"finished_at,omitempty"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t *domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:             t.ID,
		Type:           t.Type,
		Status:         t.Status,
		Progress:       t.Progress,
		SourceTaskID:   t.SourceTaskID,
		DeviceIDs:      t.DeviceIDs,
		DryRun:         t.DryRun,
		Devices:        t.Devices,
		SuccessCount:   t.SuccessCount,
		FailureCount:   t.FailureCount,
		Result:         t.Result,
		Rollback:       t.Rollback,
		Pause:          t.Pause,
		Error:          t.Error,
		ApprovalLevels: t.ApprovalLevels,
		CurrentLevel:   t.CurrentLevel,
		ApprovalStatus: t.ApprovalStatus,
		Operator:       t.Operator,
		CreatedAt:      t.CreatedAt,
		StartedAt:      t.StartedAt,
		FinishedAt:     t.FinishedAt,
	}
	if t.TemplateID != uuid.Nil {
		id := t.TemplateID
		resp.TemplateID = &id
	}
	return resp
}

// ApprovalStepResponse — ответ с шагом согласования.
type ApprovalStepResponse struct {
	Level     int                   `json:"level"`
	Status    domain.ApprovalStatus `json:"status"`
	Approver  string                `json:"approver,omitempty"`
	Comment   string                `json:"comment,omitempty"`
	DecidedAt *time.Time            `json:"decided_at,omitempty"`
}

// ApprovalStepFromDomain конвертирует domain.ApprovalStep в ApprovalStepResponse.
func ApprovalStepFromDomain(s domain.ApprovalStep) ApprovalStepResponse {
	return ApprovalStepResponse{
		Level:     s.Level,
		Status:    s.Status,
		Approver:  s.Approver,
		Comment:   s.Comment,
		DecidedAt: s.DecidedAt,
	}
}

// OTP DTOs

// SubmitOTPRequest — код оператора для группы устройств.
type SubmitOTPRequest struct {
	Department string `json:"department"`
	Group      string `json:"group"`
	Code       string `json:"code"`
}

// SubmitOTPResponse — итог ввода кода.
type SubmitOTPResponse struct {
	TTLSeconds int         `json:"ttl_seconds"`
	Resumed    []uuid.UUID `json:"resumed"`
}
