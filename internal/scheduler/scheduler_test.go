package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/backup"
	"github.com/shaiso/Netomata/internal/cache"
	"github.com/shaiso/Netomata/internal/credential"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/otp"
	"github.com/shaiso/Netomata/internal/repo/memrepo"
	"github.com/shaiso/Netomata/internal/runner"
	"github.com/shaiso/Netomata/internal/sshdriver/sshtest"
)

var (
	coreKey = domain.GroupKey{Department: "netops", Group: "core"}
	edgeKey = domain.GroupKey{Department: "netops", Group: "edge"}
)

type fixture struct {
	store *memrepo.Store
	fake  *sshtest.Fake
	coord *otp.Coordinator
	sched *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memrepo.New(),
		fake:  sshtest.NewFake(),
		coord: otp.NewCoordinator(cache.NewMemory(time.Now), otp.Config{}),
	}
	f.store.PutCredential(domain.CredentialRecord{ID: uuid.New(), Department: "netops", Group: "core", Username: "admin", Secret: "static-pw"})
	f.store.PutCredential(domain.CredentialRecord{ID: uuid.New(), Department: "netops", Group: "edge", Username: "operator"})

	sched, err := New(Config{
		Devices:     f.store.Devices(),
		Credentials: credential.NewResolver(f.store.Credentials(), f.coord, nil, nil),
		Backups:     backup.New(f.store.Backups(), backup.Config{}),
		Runner:      runner.New(runner.Config{Concurrency: 2, RetryDelay: time.Millisecond}),
		Driver:      f.fake,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.sched = sched
	return f
}

func (f *fixture) device(name string, auth domain.AuthType, key domain.GroupKey, status domain.DeviceStatus) domain.Device {
	d := domain.Device{
		ID:         uuid.New(),
		Name:       name,
		Address:    name + ".lab",
		Port:       22,
		Platform:   "cisco_ios",
		AuthType:   auth,
		Department: key.Department,
		Group:      key.Group,
		Status:     status,
	}
	f.store.PutDevice(d)
	f.fake.SetConfig(d.Address, "hostname "+name+"\n")
	return d
}

func backupsOf(f *fixture, id uuid.UUID) []domain.Backup {
	var out []domain.Backup
	for _, b := range f.store.AllBackups() {
		if b.DeviceID == id {
			out = append(out, b)
		}
	}
	return out
}

// --- Tick Tests ---

func TestTick_CapturesSkipsAndFails(t *testing.T) {
	f := newFixture(t)
	core1 := f.device("core1", domain.AuthStatic, coreKey, domain.DeviceActive)
	core2 := f.device("core2", domain.AuthStatic, coreKey, domain.DeviceActive)
	edge := f.device("edge1", domain.AuthOTPManual, edgeKey, domain.DeviceActive)
	broken := f.device("broken", domain.AuthStatic, coreKey, domain.DeviceActive)
	retired := f.device("retired", domain.AuthStatic, coreKey, domain.DeviceInactive)
	f.fake.FailOpen[broken.Address] = errors.New("connection refused")

	sum, err := f.sched.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Summary{Devices: 4, Captured: 2, Skipped: 1, Failed: 1}
	if sum != want {
		t.Fatalf("expected %+v, got %+v", want, sum)
	}

	for _, d := range []domain.Device{core1, core2} {
		bs := backupsOf(f, d.ID)
		if len(bs) != 1 {
			t.Fatalf("%s: expected 1 backup, got %d", d.Name, len(bs))
		}
		b := bs[0]
		if b.Type != domain.BackupScheduled || b.Status != domain.BackupSuccess || b.Operator != DefaultOperator {
			t.Errorf("%s: unexpected backup %+v", d.Name, b)
		}
		if b.Content != "hostname "+d.Name+"\n" {
			t.Errorf("%s: unexpected content %q", d.Name, b.Content)
		}
	}

	failed := backupsOf(f, broken.ID)
	if len(failed) != 1 || failed[0].Status != domain.BackupFailed || failed[0].Error == "" {
		t.Errorf("expected one failed backup row, got %+v", failed)
	}

	if got := backupsOf(f, edge.ID); len(got) != 0 {
		t.Errorf("expected no backups for skipped device, got %d", len(got))
	}
	if n := f.fake.Opened(edge.Address); n != 0 {
		t.Errorf("skipped device must not be contacted, opened %d times", n)
	}
	if n := f.fake.Opened(retired.Address); n != 0 {
		t.Errorf("inactive device must not be contacted, opened %d times", n)
	}
}

func TestTick_ManualOTPWithCachedCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	edge := f.device("edge1", domain.AuthOTPManual, edgeKey, domain.DeviceActive)
	f.fake.Secrets[edge.Address] = "735911"

	if ttl := f.coord.Cache(ctx, edgeKey, "735911"); ttl <= 0 {
		t.Fatalf("expected code to be cached")
	}

	sum, err := f.sched.Tick(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum.Captured != 1 || sum.Skipped != 0 {
		t.Fatalf("expected the device to be captured, got %+v", sum)
	}
}

func TestTick_NoDevices(t *testing.T) {
	f := newFixture(t)
	sum, err := f.sched.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum != (Summary{}) {
		t.Errorf("expected empty summary, got %+v", sum)
	}
}

// --- Run Tests ---

type fakeLeader struct{ calls int }

func (l *fakeLeader) TryAcquire(context.Context) (bool, error) {
	l.calls++
	return false, nil
}

func TestNew_InvalidCron(t *testing.T) {
	if _, err := New(Config{Cron: "not a cron"}); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.device("core1", domain.AuthStatic, coreKey, domain.DeviceActive)

	leader := &fakeLeader{}
	sched, err := New(Config{
		Devices:     f.store.Devices(),
		Credentials: credential.NewResolver(f.store.Credentials(), f.coord, nil, nil),
		Backups:     backup.New(f.store.Backups(), backup.Config{}),
		Runner:      runner.New(runner.Config{}),
		Driver:      f.fake,
		Leader:      leader,
		Cron:        "@every 1s",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	if err := sched.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if leader.calls == 0 {
		t.Error("expected leadership to be checked")
	}
	if got := len(f.store.AllBackups()); got != 0 {
		t.Errorf("non-leader must not capture, got %d backups", got)
	}
}
