// Package otp координирует одноразовые пароли для групп устройств.
//
// Ключ координатора — (отдел, группа). Для ключа в распределённом кэше
// хранятся:
//   - otp:code:<key>           — последний проверенный код (короткий TTL)
//   - otp:wait:<key>           — wait-state: waiting/timeout, notified, pending устройства
//   - otp:waitlock:<key>       — короткий lock для учёта wait-state
//   - otp:pause:<task>:<key>   — какие устройства задачи заблокированы
//
// Машина состояний группы:
//
//	(нет) → waiting → ready (код в кэше) | timeout (дедлайн прошёл) → (нет)
//
// Переход waiting → timeout определяется лениво при чтении. Запись кода,
// resume или истечение TTL возвращают группу в исходное состояние.
//
// Коды для устройств с OTP seed вычисляются локально (TOTP) и
// координатор не используют.
package otp
