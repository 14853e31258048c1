package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/domain"
)

// ErrCodeNotCached — кэш не принял код; продолжать нельзя.
var ErrCodeNotCached = errors.New("otp code was not cached")

// SubmitOTPResult — итог ввода кода.
type SubmitOTPResult struct {
	TTL     time.Duration `json:"ttl"`
	Resumed []uuid.UUID   `json:"resumed"`
}

// SubmitOTP кэширует код группы и продолжает все задачи, стоящие на
// паузе по этой группе.
func (s *Service) SubmitOTP(ctx context.Context, req SubmitOTPRequest) (SubmitOTPResult, error) {
	if err := req.Validate(); err != nil {
		return SubmitOTPResult{}, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}
	key := req.Key()

	ttl := s.codes.Cache(ctx, key, req.Code)
	if ttl == 0 {
		return SubmitOTPResult{}, fmt.Errorf("%w: group %s", ErrCodeNotCached, key)
	}
	s.logger.Info("otp code submitted", "group", key.String(), "operator", req.Operator, "ttl", ttl)

	res := SubmitOTPResult{TTL: ttl}
	for _, p := range s.codes.PausesForGroup(ctx, key) {
		task, err := s.tasks.GetByID(ctx, p.TaskID)
		if err != nil {
			s.logger.Warn("paused task not loaded", "task_id", p.TaskID, "group", key.String(), "error", err)
			continue
		}
		s.codes.Resume(ctx, key, task.ID)
		if task.Status != domain.TaskStatusPaused {
			continue
		}
		if err := s.publisher.PublishTask(ctx, task.Type, task.ID, true); err != nil {
			s.logger.Error("failed to resume task", "task_id", task.ID, "group", key.String(), "error", err)
			continue
		}
		res.Resumed = append(res.Resumed, task.ID)
	}

	if len(res.Resumed) > 0 {
		s.logger.Info("paused tasks resumed", "group", key.String(), "tasks", len(res.Resumed))
	}
	return res, nil
}
