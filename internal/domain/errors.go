package domain

import "errors"

// Типизированные ошибки операций над задачами.
// API-слой переводит их в HTTP-коды.
var (
	// ErrNotFound — объект не найден.
	ErrNotFound = errors.New("not found")

	// ErrForbidden — операция запрещена для этого пользователя.
	ErrForbidden = errors.New("forbidden")

	// ErrBadRequest — некорректный запрос или состояние.
	ErrBadRequest = errors.New("bad request")

	// ErrConflict — конкурирующее изменение.
	ErrConflict = errors.New("conflict")
)
