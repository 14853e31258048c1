// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - task.deploy    — задача развёртывания к выполнению (или возобновлению)
//   - task.rollback  — задача отката к выполнению
//   - otp.required   — группе устройств нужен OTP-код от оператора
//
// Exchanges:
//   - netomata.tasks   — задачи оркестратора
//   - netomata.events  — уведомления
//   - netomata.dlq     — dead letter queue
//
// Доставка at-least-once: обработчики обязаны быть идемпотентными.
package mq
