// Package cache предоставляет распределённый кэш с TTL для OTP-координатора.
//
// Реализации:
//   - memory.go — в памяти процесса (один процесс, тесты)
//   - consul.go — Consul KV (несколько процессов оркестратора и API)
//
// Кэш best-effort: ошибки бэкенда возвращаются как ErrUnavailable,
// а вызывающий код деградирует, не портя состояние задач.
package cache
