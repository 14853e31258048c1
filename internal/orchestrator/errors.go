package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrTaskNotFound — задача не найдена в БД.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskAlreadyActive — задача уже обрабатывается этим процессом.
	ErrTaskAlreadyActive = errors.New("task already being processed")

	// ErrAdmitConflict — запись RUNNING конфликтует и после повтора.
	ErrAdmitConflict = errors.New("task admit conflict")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)

// permanentError — ошибка, переводящая задачу в FAILED без повторов.
type permanentError struct {
	msg string
}

func (e *permanentError) Error() string { return e.msg }

func permanent(msg string) error {
	return &permanentError{msg: msg}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
