package service

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/domain"
)

const (
	maxApprovalLevels = 5
	maxTaskDevices    = 1000
)

var otpCodePattern = regexp.MustCompile(`^[0-9A-Za-z]{4,16}$`)

// CreateTaskRequest — параметры новой задачи.
type CreateTaskRequest struct {
	Type           domain.TaskType `json:"type"`
	TemplateID     uuid.UUID       `json:"template_id,omitempty"`
	SourceTaskID   uuid.UUID       `json:"source_task_id,omitempty"`
	DeviceIDs      []uuid.UUID     `json:"device_ids,omitempty"`
	Params         map[string]any  `json:"params,omitempty"`
	DryRun         bool            `json:"dry_run,omitempty"`
	ApprovalLevels int             `json:"approval_levels"`
	Operator       string          `json:"operator"`
}

// Validate проверяет запрос.
func (r CreateTaskRequest) Validate() error {
	deploy := r.Type == domain.TaskTypeDeploy
	return validation.ValidateStruct(&r,
		validation.Field(&r.Type, validation.Required, validation.In(domain.TaskTypeDeploy, domain.TaskTypeRollback)),
		validation.Field(&r.TemplateID, validation.When(deploy, validation.By(requiredID))),
		validation.Field(&r.SourceTaskID, validation.When(!deploy, validation.By(requiredID))),
		validation.Field(&r.DeviceIDs,
			validation.When(deploy, validation.Required),
			validation.Length(0, maxTaskDevices),
			validation.Each(validation.By(requiredID)),
		),
		validation.Field(&r.DryRun, validation.When(!deploy, validation.In(false).Error("is only allowed for deploy tasks"))),
		validation.Field(&r.ApprovalLevels, validation.Min(0), validation.Max(maxApprovalLevels)),
		validation.Field(&r.Operator, validation.Required, validation.Length(1, 128)),
	)
}

// SubmitOTPRequest — код оператора для группы устройств.
type SubmitOTPRequest struct {
	Department string `json:"department"`
	Group      string `json:"group"`
	Code       string `json:"code"`
	Operator   string `json:"operator"`
}

// Validate проверяет запрос.
func (r SubmitOTPRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Department, validation.Required),
		validation.Field(&r.Group, validation.Required),
		validation.Field(&r.Code, validation.Required, validation.Match(otpCodePattern)),
		validation.Field(&r.Operator, validation.Required),
	)
}

// Key возвращает ключ OTP-группы.
func (r SubmitOTPRequest) Key() domain.GroupKey {
	return domain.GroupKey{Department: r.Department, Group: r.Group}
}

func requiredID(v any) error {
	id, ok := v.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return errors.New("cannot be blank")
	}
	return nil
}
