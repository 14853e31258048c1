package domain

import (
	"time"

	"github.com/google/uuid"
)

// Template — шаблон конфигурации (Go text/template).
type Template struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	Content        string         `json:"content"`
	Deleted        bool           `json:"deleted"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Usable возвращает true, если шаблоном можно пользоваться для деплоя.
func (t *Template) Usable() bool {
	return !t.Deleted && t.ApprovalStatus == ApprovalApproved && t.Content != ""
}

// ApprovalStep — решение одного уровня согласования задачи.
//
// Шаги создаются полным набором при создании задачи (уровни 1..N)
// и согласуются строго по порядку.
type ApprovalStep struct {
	ID        uuid.UUID      `json:"id"`
	TaskID    uuid.UUID      `json:"task_id"`
	Level     int            `json:"level"`
	Status    ApprovalStatus `json:"status"`
	Approver  string         `json:"approver,omitempty"`
	Comment   string         `json:"comment,omitempty"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewApprovalSteps создаёт полный набор шагов 1..levels.
func NewApprovalSteps(taskID uuid.UUID, levels int) []ApprovalStep {
	now := time.Now().UTC()
	steps := make([]ApprovalStep, 0, levels)
	for level := 1; level <= levels; level++ {
		steps = append(steps, ApprovalStep{
			ID:        uuid.New(),
			TaskID:    taskID,
			Level:     level,
			Status:    ApprovalPending,
			CreatedAt: now,
		})
	}
	return steps
}

// Decide фиксирует решение по шагу.
func (s *ApprovalStep) Decide(approver string, approve bool, comment string) {
	now := time.Now().UTC()
	s.Approver = approver
	s.Comment = comment
	s.DecidedAt = &now
	if approve {
		s.Status = ApprovalApproved
	} else {
		s.Status = ApprovalRejected
	}
}
