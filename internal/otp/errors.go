package otp

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/domain"
)

// Ошибки OTP-координатора.
var (
	// ErrWaitTimeout — код не пришёл за отведённое время.
	ErrWaitTimeout = errors.New("otp wait timed out")

	// ErrCacheWrite — код не удалось сохранить в кэш.
	ErrCacheWrite = errors.New("otp code was not cached")

	// ErrInvalidSeed — seed не подходит для TOTP.
	ErrInvalidSeed = errors.New("invalid otp seed")
)

// RequiredError — для устройств нужен OTP-код, которого нет.
//
// Единственная ошибка, которую стадии конвейера пробрасывают наружу:
// по ней оркестратор ставит задачу на паузу.
type RequiredError struct {
	// Groups — заблокированные группы и их устройства.
	Groups []domain.BlockedGroup

	// TimedOut — ожидание кода уже истекло.
	TimedOut bool
}

// NewRequiredError создаёт ошибку для одной группы.
func NewRequiredError(key domain.GroupKey, timedOut bool, ids ...uuid.UUID) *RequiredError {
	return &RequiredError{
		Groups:   []domain.BlockedGroup{{Key: key, DeviceIDs: ids}},
		TimedOut: timedOut,
	}
}

func (e *RequiredError) Error() string {
	parts := make([]string, 0, len(e.Groups))
	for _, g := range e.Groups {
		parts = append(parts, fmt.Sprintf("%s (%d devices)", g.Key, len(g.DeviceIDs)))
	}
	state := "required"
	if e.TimedOut {
		state = "wait timed out"
	}
	return fmt.Sprintf("otp %s for %s", state, strings.Join(parts, ", "))
}

// Add добавляет устройство в группу, сохраняя порядок появления групп.
func (e *RequiredError) Add(key domain.GroupKey, id uuid.UUID) {
	for i := range e.Groups {
		if e.Groups[i].Key == key {
			if !slices.Contains(e.Groups[i].DeviceIDs, id) {
				e.Groups[i].DeviceIDs = append(e.Groups[i].DeviceIDs, id)
			}
			return
		}
	}
	e.Groups = append(e.Groups, domain.BlockedGroup{Key: key, DeviceIDs: []uuid.UUID{id}})
}

// Merge объединяет other в e.
func (e *RequiredError) Merge(other *RequiredError) {
	if other == nil {
		return
	}
	for _, g := range other.Groups {
		for _, id := range g.DeviceIDs {
			e.Add(g.Key, id)
		}
	}
	e.TimedOut = e.TimedOut || other.TimedOut
}

// Empty возвращает true, если заблокированных устройств нет.
func (e *RequiredError) Empty() bool {
	return e == nil || len(e.Groups) == 0
}

// Contains возвращает true, если устройство заблокировано.
func (e *RequiredError) Contains(id uuid.UUID) bool {
	if e == nil {
		return false
	}
	for _, g := range e.Groups {
		if slices.Contains(g.DeviceIDs, id) {
			return true
		}
	}
	return false
}

// AsRequired извлекает RequiredError из цепочки ошибок.
func AsRequired(err error) (*RequiredError, bool) {
	var re *RequiredError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
