package runner

import "errors"

// Ошибки Runner'а.
var (
	// ErrNestedRun — Run вызван из операции другого Run. Ошибка использования;
	// Run паникует с этим значением.
	ErrNestedRun = errors.New("runner: nested Run invocation")

	// ErrDuplicateHost — два хоста одного вызова с одинаковым Name.
	// Ошибка использования; Run паникует с этим значением.
	ErrDuplicateHost = errors.New("runner: duplicate host name")

	// ErrCancelled — хост пропущен, потому что ожидание OTP в этом вызове истекло.
	ErrCancelled = errors.New("runner: cancelled after otp wait timeout")

	// ErrTooManyCodes — устройство отвергло несколько свежих OTP-кодов подряд.
	ErrTooManyCodes = errors.New("runner: otp code rejected repeatedly")
)
