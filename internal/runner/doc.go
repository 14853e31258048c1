// Package runner выполняет операцию над набором устройств с ограничением
// конкурентности.
//
// Run:
//   - держит не более Concurrency операций одновременно (errgroup.SetLimit)
//   - повторяет неудачные операции с фиксированной задержкой
//   - при отказе аутентификации на OTP-хосте ждёт свежий код у координатора
//     и повторяет тот же хост, не расходуя попытку
//   - если ожидание кода истекло, помечает ещё не начатые хосты как skipped
//   - собирает результаты в неизменяемый Results по имени хоста
//
// Порядок завершения хостов не гарантирован.
package runner
