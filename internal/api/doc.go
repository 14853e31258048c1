// Package api содержит тонкий HTTP-слой над service.Service.
//
// Структура:
//   - handler.go      — Handler и интерфейс сервиса
//   - routes.go       — регистрация маршрутов
//   - middleware.go   — middleware (logging, recovery, operator)
//   - response.go     — унифицированные JSON-ответы и перевод ошибок домена в HTTP-коды
//   - dto.go          — Data Transfer Objects (request/response)
//   - task_handler.go — обработчики для /tasks
//   - otp_handler.go  — ввод OTP-кода
//
// Пользователь определяется по заголовку X-User; аутентификация
// выполняется прокси перед API.
package api
