// Package render превращает шаблон изменения в последовательность команд
// для конкретного устройства.
//
// Шаблоны — Go text/template. В шаблоне доступны:
//   - {{ .Device.Name }}, {{ .Device.Address }}, {{ .Device.Platform }}
//   - {{ .Device.Department }}, {{ .Device.Group }}
//   - {{ .Params.key }} — параметры задачи
//
// Отсутствующий ключ — ошибка рендеринга, а не пустая строка.
//
// Результат нормализуется (пустые строки и комментарии отбрасываются) и
// хешируется: render hash фиксирует, что именно ушло на устройство.
package render
