package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable — бэкенд кэша недоступен.
var ErrUnavailable = errors.New("cache unavailable")

// Cache — распределённый кэш байтовых значений с TTL.
//
// Реализации обязаны быть безопасны для конкурентного использования.
// Ошибки возвращаются явно; вызывающий код решает, как деградировать.
type Cache interface {
	// Get возвращает значение и признак наличия ключа.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set записывает значение с TTL (ttl <= 0 — без срока).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX записывает значение, только если ключа нет. Возвращает true при записи.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete удаляет ключи. Отсутствующие ключи не считаются ошибкой.
	Delete(ctx context.Context, keys ...string) error

	// DeleteIf удаляет ключ, только если его значение равно value.
	// Возвращает true при удалении.
	DeleteIf(ctx context.Context, key string, value []byte) (bool, error)

	// Scan возвращает живые ключи с указанным префиксом.
	Scan(ctx context.Context, prefix string) ([]string, error)
}
