package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/domain"
)

// Decision — решение согласующего по текущему уровню задачи.
type Decision struct {
	Approver string `json:"approver"`
	Approve  bool   `json:"approve"`
	Comment  string `json:"comment,omitempty"`
}

// Approve фиксирует решение по следующему несогласованному уровню.
//
// Уровни согласуются строго по порядку. Автор задачи не может её
// согласовать, один человек не может согласовать два уровня.
// Отказ на любом уровне переводит задачу в FAILED.
func (s *Service) Approve(ctx context.Context, taskID uuid.UUID, d Decision) (*domain.Task, error) {
	if d.Approver == "" {
		return nil, badRequest("approver is required")
	}

	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.ApprovalStatus != domain.ApprovalPending || task.Status != domain.TaskStatusPending {
		return nil, badRequest("task %s is not awaiting approval (status %s, approval %s)",
			task.ID, task.Status, task.ApprovalStatus)
	}
	if d.Approver == task.Operator {
		return nil, fmt.Errorf("%w: operator %q cannot approve own task", domain.ErrForbidden, d.Approver)
	}

	steps, err := s.approvals.ListByTask(ctx, task.ID)
	if err != nil {
		return nil, domainErr(err, "approval steps of task %s", task.ID)
	}

	level := task.CurrentLevel + 1
	var step *domain.ApprovalStep
	for i := range steps {
		st := &steps[i]
		if st.Level < level && st.Approver == d.Approver {
			return nil, fmt.Errorf("%w: %q already approved level %d", domain.ErrForbidden, d.Approver, st.Level)
		}
		if st.Level == level {
			step = st
		}
	}
	if step == nil || step.Status != domain.ApprovalPending {
		return nil, fmt.Errorf("%w: approval level %d of task %s is not pending", domain.ErrConflict, level, task.ID)
	}

	step.Decide(d.Approver, d.Approve, d.Comment)
	if err := s.approvals.Update(ctx, step); err != nil {
		return nil, domainErr(err, "approval level %d of task %s", level, task.ID)
	}

	if d.Approve {
		task.CurrentLevel = level
		if level >= task.ApprovalLevels {
			task.ApprovalStatus = domain.ApprovalApproved
		}
	} else {
		task.ApprovalStatus = domain.ApprovalRejected
		task.MarkFinished(domain.TaskStatusFailed, fmt.Sprintf("rejected at level %d by %s", level, d.Approver))
	}

	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, domainErr(err, "task %s", task.ID)
	}

	s.logger.Info("approval decided",
		"task_id", task.ID,
		"level", level,
		"approver", d.Approver,
		"approved", d.Approve,
		"approval_status", task.ApprovalStatus,
	)
	return task, nil
}
