// Package orchestrator выполняет задачи деплоя и отката.
//
// Orchestrator отвечает за:
//   - Получение задач из очередей RabbitMQ (tasks.deploy, tasks.rollback)
//   - Подбор потерянных PENDING задач из БД (polling fallback)
//   - Конвейер деплоя: рендер и проверка политики по всем устройствам,
//     pre-change бэкап, push команд, итог SUCCESS/PARTIAL
//   - Конвейер отката: классификация, проверка дрейфа, push снимка, сверка
//   - Паузу при нехватке OTP-кода и точное продолжение после его ввода
//
// Задача изменяется только здесь и в процессе согласования; каждая запись
// проверяет версию задачи (optimistic concurrency).
package orchestrator
