// Package backup сохраняет снимки конфигурации устройств и ограничивает их
// количество.
//
// На каждый успешный снимок Engine.Capture:
//  1. считает хеш содержимого без изменчивых строк (время, "Building configuration")
//  2. для pre_change/post_change возвращает последний успешный бэкап, если хеш
//     совпал (новая запись не создаётся)
//  3. хранит содержимое inline ниже порога, иначе во внешнем blobstore.Store
//  4. запускает очистку устройства
//
// Очистка (Prune) мягко удаляет успешные бэкапы сверх лимита по каждому типу
// и всё старше горизонта хранения. Самый свежий бэкап устройства и самый
// свежий успешный не удаляются никогда.
package backup
