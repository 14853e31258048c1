package domain

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Task — одна задача деплоя или отката на наборе устройств.
//
// Task изменяется только оркестраторами (deploy/rollback) и процессом
// согласования. Каждая запись в БД проверяет Version (optimistic concurrency).
type Task struct {
	// ID — уникальный идентификатор задачи.
	ID uuid.UUID `json:"id"`

	// Type — deploy или rollback.
	Type TaskType `json:"type"`

	// Status — текущий статус.
	Status TaskStatus `json:"status"`

	// Progress — процент обработанных устройств (0-100).
	Progress int `json:"progress"`

	// TemplateID — шаблон конфигурации (только deploy).
	TemplateID uuid.UUID `json:"template_id,omitempty"`

	// Params — контекст рендеринга шаблона.
	Params map[string]any `json:"params,omitempty"`

	// DeviceIDs — целевые устройства.
	DeviceIDs []uuid.UUID `json:"device_ids"`

	// DryRun — только рендеринг, без подключения к устройствам.
	DryRun bool `json:"dry_run"`

	// RenderHashes — хэш отрендеренных команд по каждому устройству.
	RenderHashes map[uuid.UUID]string `json:"render_hashes,omitempty"`

	// Devices — итог по каждому устройству.
	Devices map[uuid.UUID]DeviceOutcome `json:"devices,omitempty"`

	// SuccessCount / FailureCount — счётчики по Devices.
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`

	// Result — произвольный результат (например, failed_devices при ошибке рендера).
	Result map[string]any `json:"result,omitempty"`

	// Rollback — классификация устройств для задачи отката.
	Rollback *RollbackReport `json:"rollback,omitempty"`

	// Error — человекочитаемое описание финального/паузного статуса.
	Error string `json:"error,omitempty"`

	// Pause — какие группы/устройства ждут OTP (только в PAUSED).
	Pause *PauseInfo `json:"pause,omitempty"`

	// SourceTaskID — исходная задача (только rollback).
	SourceTaskID *uuid.UUID `json:"source_task_id,omitempty"`

	// AnchorBackupID — первый созданный pre-change бэкап задачи.
	AnchorBackupID *uuid.UUID `json:"anchor_backup_id,omitempty"`

	// Approval fields.
	ApprovalLevels int            `json:"approval_levels"`
	CurrentLevel   int            `json:"current_level"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`

	// Operator — кто создал задачу.
	Operator string `json:"operator"`

	// Version — токен optimistic concurrency, увеличивается на каждой записи.
	Version int `json:"version"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// DeviceOutcome — итог обработки устройства.
type DeviceOutcome struct {
	Status      DeviceResult `json:"status"`
	Message     string       `json:"message,omitempty"`
	PreBackupID *uuid.UUID   `json:"pre_backup_id,omitempty"`
	Attempts    int          `json:"attempts,omitempty"`
}

// PauseInfo — описание паузы по OTP.
type PauseInfo struct {
	Stage    string         `json:"stage"`
	Groups   []BlockedGroup `json:"groups"`
	PausedAt time.Time      `json:"paused_at"`
}

// DeviceIDs возвращает все заблокированные устройства.
func (p *PauseInfo) DeviceIDs() []uuid.UUID {
	var ids []uuid.UUID
	for _, g := range p.Groups {
		ids = append(ids, g.DeviceIDs...)
	}
	return ids
}

// BlockedGroup — группа OTP и её заблокированные устройства.
type BlockedGroup struct {
	Key       GroupKey    `json:"key"`
	DeviceIDs []uuid.UUID `json:"device_ids"`
}

// RollbackReport — классификация устройств при откате.
type RollbackReport struct {
	Unsupported      []uuid.UUID `json:"unsupported"`
	MissingBackup    []uuid.UUID `json:"missing_backup"`
	CredentialFailed []uuid.UUID `json:"credential_failed"`
	Skipped          []uuid.UUID `json:"skipped"`
	RolledBack       []uuid.UUID `json:"rolled_back"`
	PushFailed       []uuid.UUID `json:"push_failed"`
	Matched          []uuid.UUID `json:"matched"`
	Mismatched       []uuid.UUID `json:"mismatched"`
	Missing          []uuid.UUID `json:"missing"`
}

// NewTask создаёт задачу в статусе PENDING.
func NewTask(typ TaskType, operator string, deviceIDs []uuid.UUID) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:             uuid.New(),
		Type:           typ,
		Status:         TaskStatusPending,
		DeviceIDs:      deviceIDs,
		ApprovalStatus: ApprovalPending,
		Operator:       operator,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsApproved возвращает true, если все уровни согласования пройдены.
func (t *Task) IsApproved() bool {
	return t.ApprovalStatus == ApprovalApproved
}

// MarkRunning переводит задачу в RUNNING.
func (t *Task) MarkRunning() {
	now := time.Now().UTC()
	t.Status = TaskStatusRunning
	t.Pause = nil
	t.Error = ""
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
}

// MarkPaused переводит задачу в PAUSED с описанием заблокированных групп.
func (t *Task) MarkPaused(stage string, groups []BlockedGroup, msg string) {
	t.Status = TaskStatusPaused
	t.Pause = &PauseInfo{Stage: stage, Groups: groups, PausedAt: time.Now().UTC()}
	t.Error = msg
}

// MarkFinished переводит задачу в финальный статус.
func (t *Task) MarkFinished(status TaskStatus, msg string) {
	now := time.Now().UTC()
	t.Status = status
	t.Error = msg
	t.Pause = nil
	t.FinishedAt = &now
	if status != TaskStatusFailed {
		t.Progress = 100
	}
}

// SetOutcome записывает итог по устройству и пересчитывает счётчики.
func (t *Task) SetOutcome(id uuid.UUID, o DeviceOutcome) {
	if t.Devices == nil {
		t.Devices = make(map[uuid.UUID]DeviceOutcome)
	}
	if prev, ok := t.Devices[id]; ok && o.PreBackupID == nil {
		o.PreBackupID = prev.PreBackupID
	}
	t.Devices[id] = o
	t.recount()
}

// SetPreBackup запоминает pre-change бэкап устройства.
func (t *Task) SetPreBackup(id, backupID uuid.UUID) {
	if t.Devices == nil {
		t.Devices = make(map[uuid.UUID]DeviceOutcome)
	}
	o, ok := t.Devices[id]
	if !ok {
		o.Status = DeviceResultPending
	}
	o.PreBackupID = &backupID
	t.Devices[id] = o
	if t.AnchorBackupID == nil {
		t.AnchorBackupID = &backupID
	}
}

// PreBackupID возвращает pre-change бэкап устройства.
func (t *Task) PreBackupID(id uuid.UUID) (uuid.UUID, bool) {
	o, ok := t.Devices[id]
	if !ok || o.PreBackupID == nil {
		return uuid.Nil, false
	}
	return *o.PreBackupID, true
}

// UnfinishedDeviceIDs возвращает устройства без успешного результата
// в порядке DeviceIDs. Используется при resume.
func (t *Task) UnfinishedDeviceIDs() []uuid.UUID {
	var ids []uuid.UUID
	for _, id := range t.DeviceIDs {
		if o, ok := t.Devices[id]; ok && o.Status == DeviceResultSuccess {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// FailedDeviceIDs возвращает устройства с ошибкой.
func (t *Task) FailedDeviceIDs() []uuid.UUID {
	var ids []uuid.UUID
	for _, id := range t.DeviceIDs {
		if o, ok := t.Devices[id]; ok && o.Status == DeviceResultFailed {
			ids = append(ids, id)
		}
	}
	return ids
}

func (t *Task) recount() {
	t.SuccessCount, t.FailureCount = 0, 0
	done := 0
	for _, o := range t.Devices {
		switch o.Status {
		case DeviceResultSuccess:
			t.SuccessCount++
			done++
		case DeviceResultFailed:
			t.FailureCount++
			done++
		case DeviceResultSkipped:
			done++
		}
	}
	if n := len(t.DeviceIDs); n > 0 {
		t.Progress = done * 100 / n
	}
}

// Clone возвращает глубокую копию задачи.
func (t *Task) Clone() *Task {
	c := *t
	c.Params = maps.Clone(t.Params)
	c.DeviceIDs = slices.Clone(t.DeviceIDs)
	c.RenderHashes = maps.Clone(t.RenderHashes)
	c.Devices = maps.Clone(t.Devices)
	c.Result = maps.Clone(t.Result)
	if t.Rollback != nil {
		r := *t.Rollback
		c.Rollback = &r
	}
	if t.Pause != nil {
		p := *t.Pause
		p.Groups = slices.Clone(t.Pause.Groups)
		c.Pause = &p
	}
	return &c
}
