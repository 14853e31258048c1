package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/cache"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/otp"
	"github.com/shaiso/Netomata/internal/repo/memrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	typ    domain.TaskType
	id     uuid.UUID
	resume bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) PublishTask(_ context.Context, typ domain.TaskType, id uuid.UUID, resume bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{typ: typ, id: id, resume: resume})
	return nil
}

// brokenCache отвергает любую запись.
type brokenCache struct{ cache.Cache }

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache unavailable")
}

type fixture struct {
	store *memrepo.Store
	pub   *fakePublisher
	coord *otp.Coordinator
	svc   *Service
	tmpl  domain.Template
	dev   []domain.Device
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memrepo.New(),
		pub:   &fakePublisher{},
		coord: otp.NewCoordinator(cache.NewMemory(time.Now), otp.Config{}),
	}
	f.tmpl = domain.Template{ID: uuid.New(), Name: "ntp", Content: "ntp server 10.0.0.1", ApprovalStatus: domain.ApprovalApproved}
	f.store.PutTemplate(f.tmpl)
	for _, name := range []string{"r1", "r2"} {
		d := domain.Device{ID: uuid.New(), Name: name, Platform: "cisco_ios", AuthType: domain.AuthOTPManual, Department: "netops", Group: "edge"}
		f.store.PutDevice(d)
		f.dev = append(f.dev, d)
	}
	f.svc = New(Config{
		Tasks:     f.store.Tasks(),
		Approvals: f.store.Approvals(),
		Templates: f.store.Templates(),
		Devices:   f.store.Devices(),
		Publisher: f.pub,
		Codes:     f.coord,
	})
	return f
}

func (f *fixture) deploy(t *testing.T, levels int) *domain.Task {
	t.Helper()
	task, err := f.svc.CreateTask(context.Background(), CreateTaskRequest{
		Type:           domain.TaskTypeDeploy,
		TemplateID:     f.tmpl.ID,
		DeviceIDs:      []uuid.UUID{f.dev[0].ID, f.dev[1].ID},
		ApprovalLevels: levels,
		Operator:       "alice",
	})
	require.NoError(t, err)
	return task
}

// --- CreateTask Tests ---

func TestCreateTask_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  CreateTaskRequest
	}{
		{"unknown type", CreateTaskRequest{Type: "reboot", Operator: "alice"}},
		{"deploy without template", CreateTaskRequest{Type: domain.TaskTypeDeploy, DeviceIDs: []uuid.UUID{f.dev[0].ID}, Operator: "alice"}},
		{"deploy without devices", CreateTaskRequest{Type: domain.TaskTypeDeploy, TemplateID: f.tmpl.ID, Operator: "alice"}},
		{"nil device id", CreateTaskRequest{Type: domain.TaskTypeDeploy, TemplateID: f.tmpl.ID, DeviceIDs: []uuid.UUID{uuid.Nil}, Operator: "alice"}},
		{"too many levels", CreateTaskRequest{Type: domain.TaskTypeDeploy, TemplateID: f.tmpl.ID, DeviceIDs: []uuid.UUID{f.dev[0].ID}, ApprovalLevels: 9, Operator: "alice"}},
		{"no operator", CreateTaskRequest{Type: domain.TaskTypeDeploy, TemplateID: f.tmpl.ID, DeviceIDs: []uuid.UUID{f.dev[0].ID}}},
		{"rollback without source", CreateTaskRequest{Type: domain.TaskTypeRollback, Operator: "alice"}},
		{"dry run rollback", CreateTaskRequest{Type: domain.TaskTypeRollback, SourceTaskID: uuid.New(), DryRun: true, Operator: "alice"}},
		{"unknown device", CreateTaskRequest{Type: domain.TaskTypeDeploy, TemplateID: f.tmpl.ID, DeviceIDs: []uuid.UUID{uuid.New()}, Operator: "alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateTask(context.Background(), tt.req)
			assert.ErrorIs(t, err, domain.ErrBadRequest)
		})
	}
}

func TestCreateTask_NoLevelsIsApproved(t *testing.T) {
	f := newFixture(t)
	task := f.deploy(t, 0)
	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, domain.ApprovalApproved, task.ApprovalStatus)

	steps, err := f.svc.ApprovalSteps(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestCreateTask_CreatesAllSteps(t *testing.T) {
	f := newFixture(t)
	task := f.deploy(t, 3)
	assert.Equal(t, domain.ApprovalPending, task.ApprovalStatus)

	steps, err := f.svc.ApprovalSteps(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, st := range steps {
		assert.Equal(t, i+1, st.Level)
		assert.Equal(t, domain.ApprovalPending, st.Status)
	}
}

func TestCreateTask_TemplateChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateTask(ctx, CreateTaskRequest{Type: domain.TaskTypeDeploy, TemplateID: uuid.New(), DeviceIDs: []uuid.UUID{f.dev[0].ID}, Operator: "alice"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	draft := domain.Template{ID: uuid.New(), Name: "draft", Content: "x", ApprovalStatus: domain.ApprovalPending}
	f.store.PutTemplate(draft)
	_, err = f.svc.CreateTask(ctx, CreateTaskRequest{Type: domain.TaskTypeDeploy, TemplateID: draft.ID, DeviceIDs: []uuid.UUID{f.dev[0].ID}, Operator: "alice"})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestGetTask_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetTask(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// --- Approval Tests ---

func TestApprove_StrictOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.deploy(t, 2)

	got, err := f.svc.Approve(ctx, task.ID, Decision{Approver: "bob", Approve: true})
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentLevel)
	assert.Equal(t, domain.ApprovalPending, got.ApprovalStatus)

	got, err = f.svc.Approve(ctx, task.ID, Decision{Approver: "carol", Approve: true, Comment: "ok"})
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentLevel)
	assert.Equal(t, domain.ApprovalApproved, got.ApprovalStatus)

	_, err = f.svc.Approve(ctx, task.ID, Decision{Approver: "dave", Approve: true})
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	steps, err := f.svc.ApprovalSteps(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", steps[0].Approver)
	assert.Equal(t, "carol", steps[1].Approver)
	assert.Equal(t, "ok", steps[1].Comment)
}

func TestApprove_Forbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.deploy(t, 2)

	_, err := f.svc.Approve(ctx, task.ID, Decision{Approver: "alice", Approve: true})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Approve(ctx, task.ID, Decision{Approver: "bob", Approve: true})
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, task.ID, Decision{Approver: "bob", Approve: true})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestApprove_RejectFailsTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.deploy(t, 2)

	got, err := f.svc.Approve(ctx, task.ID, Decision{Approver: "bob", Approve: false, Comment: "window closed"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, domain.ApprovalRejected, got.ApprovalStatus)
	assert.Contains(t, got.Error, "rejected at level 1")

	_, err = f.svc.Execute(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

// --- Execute Tests ---

func TestExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.deploy(t, 1)
	_, err := f.svc.Execute(ctx, pending.ID)
	assert.ErrorIs(t, err, domain.ErrBadRequest, "unapproved task must not be submitted")

	approved := f.deploy(t, 0)
	_, err = f.svc.Execute(ctx, approved.ID)
	require.NoError(t, err)

	paused, err := f.store.Tasks().GetByID(ctx, approved.ID)
	require.NoError(t, err)
	paused.Status = domain.TaskStatusPaused
	require.NoError(t, f.store.Tasks().Update(ctx, paused))
	_, err = f.svc.Execute(ctx, approved.ID)
	require.NoError(t, err)

	require.Len(t, f.pub.msgs, 2)
	assert.Equal(t, published{typ: domain.TaskTypeDeploy, id: approved.ID, resume: false}, f.pub.msgs[0])
	assert.Equal(t, published{typ: domain.TaskTypeDeploy, id: approved.ID, resume: true}, f.pub.msgs[1])

	_, err = f.svc.Execute(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExecute_TerminalTaskRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.deploy(t, 0)

	stored, err := f.store.Tasks().GetByID(ctx, task.ID)
	require.NoError(t, err)
	stored.MarkFinished(domain.TaskStatusSuccess, "")
	require.NoError(t, f.store.Tasks().Update(ctx, stored))

	_, err = f.svc.Execute(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	assert.Empty(t, f.pub.msgs)
}

// --- Rollback Tests ---

func TestRollback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	source := f.deploy(t, 0)

	_, err := f.svc.Rollback(ctx, source.ID, nil, 0, "bob")
	assert.ErrorIs(t, err, domain.ErrBadRequest, "pending task cannot be rolled back")

	stored, err := f.store.Tasks().GetByID(ctx, source.ID)
	require.NoError(t, err)
	stored.MarkFinished(domain.TaskStatusPartial, "1 of 2 devices failed")
	require.NoError(t, f.store.Tasks().Update(ctx, stored))

	rb, err := f.svc.Rollback(ctx, source.ID, nil, 1, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskTypeRollback, rb.Type)
	assert.Equal(t, source.ID, *rb.SourceTaskID)
	assert.ElementsMatch(t, source.DeviceIDs, rb.DeviceIDs)
	assert.Equal(t, domain.ApprovalPending, rb.ApprovalStatus)

	subset, err := f.svc.Rollback(ctx, source.ID, []uuid.UUID{f.dev[1].ID}, 0, "bob")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.dev[1].ID}, subset.DeviceIDs)

	_, err = f.svc.Rollback(ctx, source.ID, []uuid.UUID{uuid.New()}, 0, "bob")
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	_, err = f.svc.Rollback(ctx, uuid.New(), nil, 0, "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Rollback(ctx, rb.ID, nil, 0, "bob")
	assert.ErrorIs(t, err, domain.ErrBadRequest, "rollback of a rollback is not allowed")
}

// --- OTP Tests ---

func TestSubmitOTP_ResumesPausedTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := domain.GroupKey{Department: "netops", Group: "edge"}

	paused := f.deploy(t, 0)
	stored, err := f.store.Tasks().GetByID(ctx, paused.ID)
	require.NoError(t, err)
	stored.MarkPaused("credentials", []domain.BlockedGroup{{Key: key, DeviceIDs: stored.DeviceIDs}}, "otp required")
	require.NoError(t, f.store.Tasks().Update(ctx, stored))
	require.True(t, f.coord.RecordPause(ctx, key, paused.ID, stored.DeviceIDs, "credentials"))

	// pause-запись задачи, которая уже завершилась, удаляется без публикации
	done := f.deploy(t, 0)
	require.True(t, f.coord.RecordPause(ctx, key, done.ID, done.DeviceIDs, "execute"))

	other := domain.GroupKey{Department: "netops", Group: "core"}
	unrelated := f.deploy(t, 0)
	require.True(t, f.coord.RecordPause(ctx, other, unrelated.ID, unrelated.DeviceIDs, "execute"))

	res, err := f.svc.SubmitOTP(ctx, SubmitOTPRequest{Department: "netops", Group: "edge", Code: "123456", Operator: "bob"})
	require.NoError(t, err)
	assert.Positive(t, res.TTL)
	assert.Equal(t, []uuid.UUID{paused.ID}, res.Resumed)
	require.Len(t, f.pub.msgs, 1)
	assert.True(t, f.pub.msgs[0].resume)

	_, ok := f.coord.GetPause(ctx, key, paused.ID)
	assert.False(t, ok, "pause must be consumed")
	_, ok = f.coord.GetPause(ctx, key, done.ID)
	assert.False(t, ok, "stale pause must be removed")
	_, ok = f.coord.GetPause(ctx, other, unrelated.ID)
	assert.True(t, ok, "other group must be untouched")

	r := f.coord.GetOrRequire(ctx, key, uuid.New(), nil)
	assert.Equal(t, otp.StateReady, r.State)
	assert.Equal(t, "123456", r.Code)
}

func TestSubmitOTP_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitOTP(context.Background(), SubmitOTPRequest{Department: "netops", Group: "edge", Code: "12", Operator: "bob"})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
	_, err = f.svc.SubmitOTP(context.Background(), SubmitOTPRequest{Department: "netops", Code: "123456", Operator: "bob"})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestSubmitOTP_CacheFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.codes = otp.NewCoordinator(brokenCache{Cache: cache.NewMemory(time.Now)}, otp.Config{})

	_, err := f.svc.SubmitOTP(context.Background(), SubmitOTPRequest{Department: "netops", Group: "edge", Code: "123456", Operator: "bob"})
	assert.ErrorIs(t, err, ErrCodeNotCached)
	assert.Empty(t, f.pub.msgs)
}
