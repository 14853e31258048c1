package domain

// TaskType — тип задачи изменения.
type TaskType string

const (
	// TaskTypeDeploy — применение отрендеренной конфигурации к устройствам.
	TaskTypeDeploy TaskType = "deploy"

	// TaskTypeRollback — откат ранее выполненной задачи к pre-change снимкам.
	TaskTypeRollback TaskType = "rollback"
)

// IsValid проверяет, известен ли тип задачи.
func (t TaskType) IsValid() bool {
	return t == TaskTypeDeploy || t == TaskTypeRollback
}

// TaskStatus — статус задачи.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCESS
//	                  ↘ PARTIAL
//	                  ↘ FAILED
//	                  ↘ PAUSED → RUNNING (resume)
//
// ROLLBACK выставляется задаче отката и исходной задаче после отката.
type TaskStatus string

const (
	// TaskStatusPending — задача создана и ждёт запуска.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusRunning — задача выполняется оркестратором.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusSuccess — все устройства обработаны без ошибок.
	TaskStatusSuccess TaskStatus = "SUCCESS"

	// TaskStatusPartial — часть устройств завершилась с ошибкой.
	TaskStatusPartial TaskStatus = "PARTIAL"

	// TaskStatusFailed — задача завершилась ошибкой целиком.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusPaused — задача ждёт OTP-кода.
	TaskStatusPaused TaskStatus = "PAUSED"

	// TaskStatusRollback — изменения задачи откачены.
	TaskStatusRollback TaskStatus = "ROLLBACK"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSuccess, TaskStatusPartial, TaskStatusFailed, TaskStatusRollback:
		return true
	default:
		return false
	}
}

// CanRollback возвращает true, если задачу с таким статусом можно откатить.
func (s TaskStatus) CanRollback() bool {
	switch s {
	case TaskStatusSuccess, TaskStatusPartial, TaskStatusRollback:
		return true
	default:
		return false
	}
}

// ApprovalStatus — решение по уровню согласования (и по задаче в целом).
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// DeviceResult — итог обработки одного устройства в задаче.
type DeviceResult string

const (
	DeviceResultPending DeviceResult = "pending"
	DeviceResultSuccess DeviceResult = "success"
	DeviceResultFailed  DeviceResult = "failed"
	DeviceResultSkipped DeviceResult = "skipped"
)
