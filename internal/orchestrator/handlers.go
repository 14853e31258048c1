package orchestrator

import (
	"context"
	"errors"

	"github.com/shaiso/Netomata/internal/mq"
)

// handleTask обрабатывает сообщение о задаче из tasks.deploy или tasks.rollback.
//
// Ошибка возврата означает nack: первая доставка возвращается в очередь,
// повторная уходит в DLQ.
func (o *Orchestrator) handleTask(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskSubmittedPayload](&delivery.Message)
	if err != nil {
		o.logger.Error("failed to parse task payload", "type", delivery.Message.Type, "error", err)
		return err
	}

	o.logger.Debug("received task event",
		"task_id", payload.TaskID,
		"type", delivery.Message.Type,
		"resume", payload.Resume,
	)

	status, err := o.Process(ctx, payload.TaskID, payload.Resume)
	if err != nil {
		// Задача уже в работе или удалена: повторная доставка ничего не даст.
		if errors.Is(err, ErrTaskAlreadyActive) || errors.Is(err, ErrTaskNotFound) {
			o.logger.Debug("task not processed", "task_id", payload.TaskID, "reason", err)
			return nil
		}
		o.logger.Error("failed to process task", "task_id", payload.TaskID, "error", err)
		return err
	}

	o.logger.Debug("task event handled", "task_id", payload.TaskID, "status", status)
	return nil
}
