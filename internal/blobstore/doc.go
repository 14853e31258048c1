// Package blobstore хранит крупное содержимое бэкапов вне базы данных.
//
// Бэкап, превышающий порог, кладётся в Store; в строке Backup остаётся только
// ссылка вида "<scheme>://<container>/<key>". Реализации:
//   - s3     — AWS S3 и совместимые (MinIO)
//   - azblob — Azure Blob Storage
//   - Memory — для тестов и однопроцессного режима
package blobstore
