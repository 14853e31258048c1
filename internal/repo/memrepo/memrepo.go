// Package memrepo — репозитории в памяти с семантикой пакета repo
// (optimistic concurrency, мягкое удаление). Используется в тестах.
package memrepo

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/repo"
)

// Store хранит все сущности в памяти.
type Store struct {
	mu          sync.Mutex
	tasks       map[uuid.UUID]*domain.Task
	steps       map[uuid.UUID][]domain.ApprovalStep
	devices     map[uuid.UUID]domain.Device
	credentials map[domain.GroupKey]domain.CredentialRecord
	templates   map[uuid.UUID]domain.Template
	backups     []domain.Backup

	// UpdateHook вызывается перед каждым Task.Update; ошибка возвращается вызывающему.
	UpdateHook func(t *domain.Task) error

	updates int
}

// New создаёт пустой Store.
func New() *Store {
	return &Store{
		tasks:       make(map[uuid.UUID]*domain.Task),
		steps:       make(map[uuid.UUID][]domain.ApprovalStep),
		devices:     make(map[uuid.UUID]domain.Device),
		credentials: make(map[domain.GroupKey]domain.CredentialRecord),
		templates:   make(map[uuid.UUID]domain.Template),
	}
}

// Tasks / Approvals / Devices / Credentials / Templates / Backups —
// представления Store с сигнатурами соответствующих pgx-репозиториев.
func (s *Store) Tasks() *Tasks             { return &Tasks{s} }
func (s *Store) Approvals() *Approvals     { return &Approvals{s} }
func (s *Store) Devices() *Devices         { return &Devices{s} }
func (s *Store) Credentials() *Credentials { return &Credentials{s} }
func (s *Store) Templates() *Templates     { return &Templates{s} }
func (s *Store) Backups() *Backups         { return &Backups{s} }

// TaskUpdates возвращает число успешных Task.Update.
func (s *Store) TaskUpdates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// PutDevice / PutCredential / PutTemplate заполняют справочники.
func (s *Store) PutDevice(d domain.Device) {
	s.mu.Lock()
	s.devices[d.ID] = d
	s.mu.Unlock()
}

func (s *Store) PutCredential(c domain.CredentialRecord) {
	s.mu.Lock()
	s.credentials[c.Key()] = c
	s.mu.Unlock()
}

func (s *Store) PutTemplate(t domain.Template) {
	s.mu.Lock()
	s.templates[t.ID] = t
	s.mu.Unlock()
}

// AllBackups возвращает все бэкапы, включая удалённые, в порядке создания.
func (s *Store) AllBackups() []domain.Backup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.backups)
}

// --- Tasks ---

type Tasks struct{ s *Store }

func (r *Tasks) Create(_ context.Context, t *domain.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tasks[t.ID]; ok {
		return repo.ErrAlreadyExists
	}
	r.s.tasks[t.ID] = t.Clone()
	return nil
}

func (r *Tasks) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return t.Clone(), nil
}

func (r *Tasks) Update(_ context.Context, t *domain.Task) error {
	r.s.mu.Lock()
	hook := r.s.UpdateHook
	r.s.mu.Unlock()
	if hook != nil {
		if err := hook(t); err != nil {
			return err
		}
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.tasks[t.ID]
	if !ok {
		return repo.ErrNotFound
	}
	if cur.Version != t.Version {
		return fmt.Errorf("%w: task %s version %d", repo.ErrConflict, t.ID, t.Version)
	}
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	r.s.tasks[t.ID] = t.Clone()
	r.s.updates++
	return nil
}

func (r *Tasks) ListPending(_ context.Context, limit int) ([]domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Task
	for _, t := range r.s.tasks {
		if t.Status == domain.TaskStatusPending && t.IsApproved() {
			out = append(out, *t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Approvals ---

type Approvals struct{ s *Store }

func (r *Approvals) CreateSteps(_ context.Context, steps []domain.ApprovalStep) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, st := range steps {
		r.s.steps[st.TaskID] = append(r.s.steps[st.TaskID], st)
	}
	return nil
}

func (r *Approvals) ListByTask(_ context.Context, taskID uuid.UUID) ([]domain.ApprovalStep, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := slices.Clone(r.s.steps[taskID])
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

func (r *Approvals) Update(_ context.Context, st *domain.ApprovalStep) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	steps := r.s.steps[st.TaskID]
	for i := range steps {
		if steps[i].ID != st.ID {
			continue
		}
		if steps[i].Status != domain.ApprovalPending {
			return fmt.Errorf("%w: approval step %s already decided", repo.ErrConflict, st.ID)
		}
		steps[i] = *st
		return nil
	}
	return repo.ErrNotFound
}

// --- Devices ---

type Devices struct{ s *Store }

func (r *Devices) Create(_ context.Context, d *domain.Device) error {
	r.s.PutDevice(*d)
	return nil
}

func (r *Devices) GetByID(_ context.Context, id uuid.UUID) (*domain.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.devices[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &d, nil
}

func (r *Devices) ListByIDs(_ context.Context, ids []uuid.UUID) ([]domain.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Device, 0, len(ids))
	for _, id := range ids {
		d, ok := r.s.devices[id]
		if !ok {
			return nil, fmt.Errorf("%w: device %s", repo.ErrNotFound, id)
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *Devices) ListActive(_ context.Context) ([]domain.Device, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Device
	for _, d := range r.s.devices {
		if d.Status == domain.DeviceActive {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Credentials ---

type Credentials struct{ s *Store }

func (r *Credentials) GetByGroup(_ context.Context, key domain.GroupKey) (*domain.CredentialRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.credentials[key]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &c, nil
}

// --- Templates ---

type Templates struct{ s *Store }

func (r *Templates) GetByID(_ context.Context, id uuid.UUID) (*domain.Template, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.templates[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &t, nil
}

// --- Backups ---

type Backups struct{ s *Store }

func (r *Backups) Create(_ context.Context, b *domain.Backup) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.backups = append(r.s.backups, *b)
	return nil
}

func (r *Backups) GetByID(_ context.Context, id uuid.UUID) (*domain.Backup, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.backups {
		if b.ID == id && b.DeletedAt == nil {
			return &b, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *Backups) Latest(_ context.Context, deviceID uuid.UUID, successOnly bool) (*domain.Backup, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	live := r.s.live(deviceID)
	for _, b := range live {
		if successOnly && b.Status != domain.BackupSuccess {
			continue
		}
		return &b, nil
	}
	return nil, repo.ErrNotFound
}

func (r *Backups) ListByDevice(_ context.Context, deviceID uuid.UUID) ([]domain.Backup, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.live(deviceID), nil
}

func (r *Backups) SoftDelete(_ context.Context, ids []uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.backups {
		if r.s.backups[i].DeletedAt == nil && slices.Contains(ids, r.s.backups[i].ID) {
			ts := at
			r.s.backups[i].DeletedAt = &ts
		}
	}
	return nil
}

// live возвращает неудалённые бэкапы устройства, новые первыми. Под s.mu.
func (s *Store) live(deviceID uuid.UUID) []domain.Backup {
	var out []domain.Backup
	for i := len(s.backups) - 1; i >= 0; i-- {
		b := s.backups[i]
		if b.DeviceID == deviceID && b.DeletedAt == nil {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
