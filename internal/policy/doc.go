// Package policy проверяет команды перед отправкой на устройство.
//
// Blocklist действует всегда: команды, перезагружающие устройство,
// стирающие конфигурацию или отключающие AAA, запрещены. В строгом режиме
// дополнительно разрешены только команды из allowlist.
//
// Validate — чистая функция без I/O.
package policy
