package runner

import (
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/sshdriver"
)

// Status — итог операции над одним хостом.
type Status string

const (
	// StatusOK — операция выполнена.
	StatusOK Status = "ok"

	// StatusFailed — операция не удалась после всех попыток.
	StatusFailed Status = "failed"

	// StatusSkipped — хост не запускался: ожидание OTP в этом вызове истекло.
	StatusSkipped Status = "skipped"

	// StatusOTPTimeout — хост ждал OTP-код и не дождался.
	StatusOTPTimeout Status = "otp_timeout"
)

// HostResult — результат операции над хостом.
type HostResult struct {
	Name     string
	DeviceID uuid.UUID
	Status   Status
	Output   string
	Err      error
	Outcome  sshdriver.Outcome
	Attempts int

	// OTPGroup — группа, из-за которой хост заблокирован (для StatusOTPTimeout).
	OTPGroup *domain.GroupKey
}

// OK возвращает true для успешного результата.
func (r HostResult) OK() bool {
	return r.Status == StatusOK
}

// Results — результаты одного вызова Run по имени хоста.
// Собирается один раз и после возврата не изменяется.
type Results struct {
	byName map[string]HostResult
}

// Len возвращает число хостов.
func (r Results) Len() int {
	return len(r.byName)
}

// Get возвращает результат хоста.
func (r Results) Get(name string) (HostResult, bool) {
	res, ok := r.byName[name]
	return res, ok
}

// Names возвращает отсортированные имена хостов.
func (r Results) Names() []string {
	return slices.Sorted(maps.Keys(r.byName))
}

// All возвращает результаты в порядке имён.
func (r Results) All() []HostResult {
	out := make([]HostResult, 0, len(r.byName))
	for _, name := range r.Names() {
		out = append(out, r.byName[name])
	}
	return out
}

// Count возвращает число результатов со статусом s.
func (r Results) Count(s Status) int {
	n := 0
	for _, res := range r.byName {
		if res.Status == s {
			n++
		}
	}
	return n
}

// OTPBlocked возвращает хосты, не дождавшиеся OTP, и пропущенные из-за этого.
func (r Results) OTPBlocked() []HostResult {
	var out []HostResult
	for _, res := range r.All() {
		if res.Status == StatusOTPTimeout || res.Status == StatusSkipped {
			out = append(out, res)
		}
	}
	return out
}
