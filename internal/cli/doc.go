// Package cli реализует команды netomata CLI поверх HTTP API.
//
// Команды:
//
//	task create|show|approvals|approve|reject|execute|rollback
//	otp submit DEPARTMENT:GROUP CODE
//
// Пользователь передаётся в заголовке X-User; CLI не импортирует
// internal/api и дублирует нужные DTO.
package cli
