package domain

import (
	"time"

	"github.com/google/uuid"
)

// BackupType — повод снятия конфигурации.
type BackupType string

const (
	BackupManual      BackupType = "manual"
	BackupScheduled   BackupType = "scheduled"
	BackupPreChange   BackupType = "pre_change"
	BackupPostChange  BackupType = "post_change"
	BackupIncremental BackupType = "incremental"
)

// BackupTypes — все типы бэкапов, в порядке обхода при очистке.
var BackupTypes = []BackupType{
	BackupManual,
	BackupScheduled,
	BackupPreChange,
	BackupPostChange,
	BackupIncremental,
}

// IsChange возвращает true для бэкапов вокруг изменения (с дедупликацией).
func (t BackupType) IsChange() bool {
	return t == BackupPreChange || t == BackupPostChange
}

// BackupStatus — результат снятия конфигурации.
type BackupStatus string

const (
	BackupSuccess BackupStatus = "success"
	BackupFailed  BackupStatus = "failed"
)

// Backup — неизменяемый снимок конфигурации устройства.
//
// Содержимое хранится либо inline (Content), либо во внешнем хранилище
// (ContentRef), но никогда в обоих местах сразу. Очистка только помечает
// запись удалённой (DeletedAt).
type Backup struct {
	ID         uuid.UUID    `json:"id"`
	DeviceID   uuid.UUID    `json:"device_id"`
	TaskID     *uuid.UUID   `json:"task_id,omitempty"`
	Type       BackupType   `json:"type"`
	Status     BackupStatus `json:"status"`
	Content    string       `json:"content,omitempty"`
	ContentRef string       `json:"content_ref,omitempty"`
	Size       int64        `json:"size"`
	Hash       string       `json:"hash,omitempty"`
	Operator   string       `json:"operator,omitempty"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	DeletedAt  *time.Time   `json:"deleted_at,omitempty"`
}

// IsExternal возвращает true, если содержимое во внешнем хранилище.
func (b *Backup) IsExternal() bool {
	return b.ContentRef != ""
}

// IsDeleted возвращает true для мягко удалённых записей.
func (b *Backup) IsDeleted() bool {
	return b.DeletedAt != nil
}
