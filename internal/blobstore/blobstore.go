package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Ошибки хранилища.
var (
	// ErrNotFound — объекта по ссылке нет.
	ErrNotFound = errors.New("blobstore: object not found")

	// ErrBadRef — ссылка не разбирается или принадлежит другому хранилищу.
	ErrBadRef = errors.New("blobstore: malformed or foreign reference")
)

// Store — внешнее хранилище содержимого бэкапов.
type Store interface {
	// Put сохраняет data под ключом key и возвращает ссылку на объект.
	Put(ctx context.Context, key string, data []byte) (string, error)

	// Get возвращает содержимое по ссылке из Put.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Delete удаляет объект. Отсутствующий объект — не ошибка.
	Delete(ctx context.Context, ref string) error
}

// ObjectKey возвращает ключ объекта для бэкапа устройства.
func ObjectKey(deviceID, backupID uuid.UUID) string {
	return fmt.Sprintf("backups/%s/%s.cfg", deviceID, backupID)
}

// Ref собирает ссылку из схемы, контейнера и ключа.
func Ref(scheme, container, key string) string {
	return scheme + "://" + container + "/" + key
}

// ParseRef разбирает ссылку и проверяет схему и контейнер.
func ParseRef(ref, scheme, container string) (string, error) {
	prefix := scheme + "://" + container + "/"
	key, ok := strings.CutPrefix(ref, prefix)
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %q", ErrBadRef, ref)
	}
	return key, nil
}

// Memory — Store в памяти процесса.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory создаёт пустое хранилище в памяти.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

const memScheme, memContainer = "mem", "backups"

// Put реализует Store.
func (m *Memory) Put(_ context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return Ref(memScheme, memContainer, key), nil
}

// Get реализует Store.
func (m *Memory) Get(_ context.Context, ref string) ([]byte, error) {
	key, err := ParseRef(ref, memScheme, memContainer)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Delete реализует Store.
func (m *Memory) Delete(_ context.Context, ref string) error {
	key, err := ParseRef(ref, memScheme, memContainer)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len возвращает число объектов.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
