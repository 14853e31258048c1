package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// lockConn — соединение, на котором держится advisory lock.
type lockConn interface {
	Ping(ctx context.Context) error
	TryLock(ctx context.Context, key int64) (bool, error)
	Unlock(ctx context.Context, key int64) error
	// Release возвращает живое соединение в пул.
	Release()
	// Discard забирает соединение из пула и закрывает его.
	Discard(ctx context.Context) error
}

type poolLockConn struct {
	*pgxpool.Conn
}

func (c poolLockConn) TryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := c.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
	return ok, err
}

func (c poolLockConn) Unlock(ctx context.Context, key int64) error {
	_, err := c.Exec(ctx, "SELECT pg_advisory_unlock($1)", key)
	return err
}

func (c poolLockConn) Discard(ctx context.Context) error {
	return c.Hijack().Close(ctx)
}

// AdvisoryLock — лидерство процесса через pg_try_advisory_lock.
//
// Advisory lock принадлежит сессии, поэтому блокировка удерживается на
// выделенном соединении пула до Release. Соединение, не ответившее на
// Ping, закрывается, а не возвращается в пул.
type AdvisoryLock struct {
	key     int64
	acquire func(ctx context.Context) (lockConn, error)

	mu   sync.Mutex
	conn lockConn
}

// NewAdvisoryLock создаёт AdvisoryLock с ключом key.
func NewAdvisoryLock(pool *pgxpool.Pool, key int64) *AdvisoryLock {
	return &AdvisoryLock{
		key: key,
		acquire: func(ctx context.Context) (lockConn, error) {
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return poolLockConn{conn}, nil
		},
	}
}

// TryAcquire пытается стать лидером или подтверждает лидерство.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		err := l.conn.Ping(ctx)
		if err == nil {
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		// Сессия потеряна вместе с блокировкой.
		_ = l.conn.Discard(ctx)
		l.conn = nil
	}

	conn, err := l.acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}
	ok, err := conn.TryLock(ctx, l.key)
	if err != nil {
		_ = conn.Discard(ctx)
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release снимает блокировку, если она удерживается.
func (l *AdvisoryLock) Release(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return
	}
	if err := l.conn.Unlock(ctx, l.key); err != nil {
		// Закрытие сессии снимает блокировку на стороне сервера.
		_ = l.conn.Discard(ctx)
	} else {
		l.conn.Release()
	}
	l.conn = nil
}
