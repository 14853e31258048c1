// Package service реализует операции над задачами, доступные снаружи:
// создание, согласование, запуск, откат и ввод OTP-кода.
//
// Каждая операция возвращает текущий снимок задачи либо типизированную
// ошибку домена (domain.ErrNotFound, domain.ErrForbidden,
// domain.ErrBadRequest, domain.ErrConflict), которую API переводит в
// HTTP-код. Само выполнение задач происходит в оркестраторе: сервис только
// публикует сообщение в очередь.
package service
