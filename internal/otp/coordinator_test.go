package otp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/cache"
	"github.com/shaiso/Netomata/internal/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCoordinator(t *testing.T, waitTimeout time.Duration) (*Coordinator, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCoordinator(cache.NewMemory(clock.Now), Config{
		WaitTimeout:  waitTimeout,
		CodeTTL:      time.Minute,
		PollInterval: time.Millisecond,
		Now:          clock.Now,
	})
	return c, clock
}

var testKey = domain.GroupKey{Department: "netops", Group: "core"}

// failingCache — кэш, у которого все операции падают.
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, cache.ErrUnavailable
}
func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return cache.ErrUnavailable
}
func (failingCache) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, cache.ErrUnavailable
}
func (failingCache) Delete(context.Context, ...string) error { return cache.ErrUnavailable }
func (failingCache) DeleteIf(context.Context, string, []byte) (bool, error) {
	return false, cache.ErrUnavailable
}
func (failingCache) Scan(context.Context, string) ([]string, error) {
	return nil, cache.ErrUnavailable
}

// --- GetOrRequire Tests ---

func TestCoordinator_GetOrRequire_CreatesWaitOnce(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, time.Minute)
	task := uuid.New()
	a, b := uuid.New(), uuid.New()

	r := c.GetOrRequire(ctx, testKey, task, []uuid.UUID{a})
	if r.State != StateWaiting {
		t.Fatalf("expected waiting, got %s", r.State)
	}
	started := r.Wait.StartedAt

	r = c.GetOrRequire(ctx, testKey, task, []uuid.UUID{b})
	if r.State != StateWaiting {
		t.Fatalf("expected waiting, got %s", r.State)
	}
	if !r.Wait.StartedAt.Equal(started) {
		t.Errorf("wait window was reopened")
	}
	if len(r.Wait.PendingIDs) != 2 {
		t.Errorf("expected 2 pending ids, got %d", len(r.Wait.PendingIDs))
	}
}

func TestCoordinator_GetOrRequire_Ready(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, time.Minute)

	if ttl := c.Cache(ctx, testKey, "123456"); ttl != time.Minute {
		t.Fatalf("expected ttl 1m, got %v", ttl)
	}

	r := c.GetOrRequire(ctx, testKey, uuid.New(), nil)
	if r.State != StateReady || r.Code != "123456" {
		t.Errorf("expected ready 123456, got %s %q", r.State, r.Code)
	}
}

func TestCoordinator_TimeoutIsSticky(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCoordinator(t, time.Second)
	task := uuid.New()

	if r := c.GetOrRequire(ctx, testKey, task, []uuid.UUID{uuid.New()}); r.State != StateWaiting {
		t.Fatalf("expected waiting, got %s", r.State)
	}

	clock.Advance(time.Second)

	if r := c.GetOrRequire(ctx, testKey, task, nil); r.State != StateTimeout {
		t.Fatalf("expected timeout after deadline, got %s", r.State)
	}

	// Другое устройство той же группы не открывает новое окно.
	r := c.GetOrRequire(ctx, testKey, task, []uuid.UUID{uuid.New()})
	if r.State != StateTimeout {
		t.Fatalf("expected timeout for a new pending device, got %s", r.State)
	}
	if r.Wait.Status != StateTimeout {
		t.Errorf("expected persisted timeout status, got %s", r.Wait.Status)
	}
}

func TestCoordinator_GetOrRequire_CacheDown(t *testing.T) {
	c := NewCoordinator(failingCache{}, Config{})

	r := c.GetOrRequire(context.Background(), testKey, uuid.New(), nil)
	if r.State != StateWaiting {
		t.Errorf("expected waiting when cache is down, got %s", r.State)
	}
}

// --- Cache Tests ---

func TestCoordinator_CacheTwice(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, time.Minute)
	task := uuid.New()

	c.GetOrRequire(ctx, testKey, task, []uuid.UUID{uuid.New()})
	c.Cache(ctx, testKey, "111111")
	if _, ok := c.readWait(ctx, testKey); ok {
		t.Fatal("first cache call should clear wait state")
	}

	c.cache.Set(ctx, prefixWait+testKey.String(), []byte(`{"status":"waiting"}`), time.Minute)
	c.Cache(ctx, testKey, "222222")
	if _, ok := c.readWait(ctx, testKey); ok {
		t.Fatal("second cache call should clear wait state")
	}

	r := c.GetOrRequire(ctx, testKey, task, nil)
	if r.Code != "222222" {
		t.Errorf("expected second code, got %q", r.Code)
	}
}

func TestCoordinator_CacheUnavailableReturnsZero(t *testing.T) {
	c := NewCoordinator(failingCache{}, Config{})
	if ttl := c.Cache(context.Background(), testKey, "123456"); ttl != 0 {
		t.Errorf("expected 0 ttl, got %v", ttl)
	}
}

func TestCoordinator_Invalidate(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, time.Minute)

	c.Cache(ctx, testKey, "111111")
	c.Invalidate(ctx, testKey, "999999")
	if r := c.GetOrRequire(ctx, testKey, uuid.New(), nil); r.State != StateReady {
		t.Fatal("invalidate with a different code must keep the cached code")
	}

	c.Invalidate(ctx, testKey, "111111")
	if r := c.GetOrRequire(ctx, testKey, uuid.New(), nil); r.State != StateWaiting {
		t.Fatalf("expected waiting after invalidate, got %s", r.State)
	}
}

// --- ShouldNotify Tests ---

func TestCoordinator_ShouldNotifyOncePerWait(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, time.Minute)
	task := uuid.New()

	c.GetOrRequire(ctx, testKey, task, []uuid.UUID{uuid.New()})

	var notified atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.ShouldNotify(ctx, testKey, task) {
				notified.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := notified.Load(); n != 1 {
		t.Fatalf("expected exactly one notification, got %d", n)
	}

	// Новый wait-state после записи кода — новое уведомление.
	c.Cache(ctx, testKey, "123456")
	c.Invalidate(ctx, testKey, "123456")
	c.GetOrRequire(ctx, testKey, task, []uuid.UUID{uuid.New()})
	if !c.ShouldNotify(ctx, testKey, task) {
		t.Error("expected notification for a new wait state")
	}
}

func TestCoordinator_ShouldNotifyWithoutWait(t *testing.T) {
	c, _ := newTestCoordinator(t, time.Minute)
	if c.ShouldNotify(context.Background(), testKey, uuid.New()) {
		t.Error("expected no notification without a wait state")
	}
}

// --- Pause Tests ---

func TestCoordinator_PauseLifecycle(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, time.Minute)
	task := uuid.New()
	a, b := uuid.New(), uuid.New()

	c.GetOrRequire(ctx, testKey, task, []uuid.UUID{a, b})
	if !c.RecordPause(ctx, testKey, task, []uuid.UUID{a, b}, "execute") {
		t.Fatal("expected pause to be recorded")
	}

	ps, ok := c.GetPause(ctx, testKey, task)
	if !ok {
		t.Fatal("expected pause state")
	}
	if ps.Stage != "execute" || len(ps.DeviceIDs) != 2 {
		t.Errorf("unexpected pause state: %+v", ps)
	}

	other := domain.GroupKey{Department: "netops", Group: "access"}
	c.RecordPause(ctx, other, task, []uuid.UUID{uuid.New()}, "credentials")

	pauses := c.PausesForGroup(ctx, testKey)
	if len(pauses) != 1 || pauses[0].TaskID != task {
		t.Fatalf("expected one pause for group, got %+v", pauses)
	}

	if !c.Resume(ctx, testKey, task) {
		t.Fatal("expected resume to succeed")
	}
	if _, ok := c.GetPause(ctx, testKey, task); ok {
		t.Error("pause should be cleared by resume")
	}
	if _, ok := c.readWait(ctx, testKey); ok {
		t.Error("wait state should be cleared by resume")
	}
	if _, ok := c.GetPause(ctx, other, task); !ok {
		t.Error("pause of another group must survive")
	}

	c.ClearPause(ctx, other, task)
	if _, ok := c.GetPause(ctx, other, task); ok {
		t.Error("expected pause to be cleared")
	}
}

// --- WaitForCode Tests ---

func TestCoordinator_WaitForCode(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(cache.NewMemory(nil), Config{
		WaitTimeout:  5 * time.Second,
		PollInterval: time.Millisecond,
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Cache(ctx, testKey, "654321")
	}()

	code, err := c.WaitForCode(ctx, testKey, "", uuid.New(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != "654321" {
		t.Errorf("expected 654321, got %q", code)
	}
}

func TestCoordinator_WaitForCodeIgnoresStale(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(cache.NewMemory(nil), Config{
		WaitTimeout:  50 * time.Millisecond,
		PollInterval: time.Millisecond,
	})
	c.Cache(ctx, testKey, "111111")

	_, err := c.WaitForCode(ctx, testKey, "111111", uuid.New(), nil, nil)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
}

func TestCoordinator_WaitForCodeCancelled(t *testing.T) {
	c := NewCoordinator(cache.NewMemory(nil), Config{WaitTimeout: time.Minute, PollInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.WaitForCode(ctx, testKey, "", uuid.New(), nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCoordinator_WaitForCodePromptsOnce(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(cache.NewMemory(nil), Config{
		WaitTimeout:  5 * time.Second,
		PollInterval: time.Millisecond,
	})
	task := uuid.New()
	a, b := uuid.New(), uuid.New()

	var mu sync.Mutex
	var prompts [][]uuid.UUID
	prompt := func(_ context.Context, key domain.GroupKey, ids []uuid.UUID, expiresAt time.Time) {
		mu.Lock()
		defer mu.Unlock()
		if key != testKey || expiresAt.IsZero() {
			t.Errorf("unexpected prompt for %s at %v", key, expiresAt)
		}
		prompts = append(prompts, ids)
	}

	var wg sync.WaitGroup
	codes := make([]string, 2)
	for i, id := range []uuid.UUID{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := c.WaitForCode(ctx, testKey, "", task, []uuid.UUID{id}, prompt)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			codes[i] = code
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(prompts)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	// оба ждут, пока оператор не ответил
	time.Sleep(20 * time.Millisecond)
	c.Cache(ctx, testKey, "424242")
	wg.Wait()

	if len(prompts) != 1 {
		t.Fatalf("expected 1 prompt, got %d", len(prompts))
	}
	if len(prompts[0]) == 0 {
		t.Error("prompt must name the waiting devices")
	}
	for i, code := range codes {
		if code != "424242" {
			t.Errorf("waiter %d: expected 424242, got %q", i, code)
		}
	}
}

// --- Lock Tests ---

func TestCoordinator_LockKeepsForeignOwner(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	mem := cache.NewMemory(clock.Now)
	c := NewCoordinator(mem, Config{LockTTL: time.Second, Now: clock.Now})
	lockKey := prefixWaitLock + testKey.String()

	ok := c.withLock(ctx, testKey, uuid.New(), func() {
		// fn пережил LockTTL, lock взял другой владелец
		clock.Advance(2 * time.Second)
		took, err := mem.SetNX(ctx, lockKey, []byte("other"), time.Minute)
		if err != nil || !took {
			t.Fatalf("expected expired lock to be taken over: %v", err)
		}
	})
	if !ok {
		t.Fatal("expected lock to be acquired")
	}

	v, found, _ := mem.Get(ctx, lockKey)
	if !found || string(v) != "other" {
		t.Errorf("foreign lock must survive release, got %q (%v)", v, found)
	}

	// свой lock снимается
	c.withLock(ctx, domain.GroupKey{Department: "netops", Group: "access"}, uuid.New(), func() {})
	if _, found, _ := mem.Get(ctx, prefixWaitLock+"netops:access"); found {
		t.Error("own lock must be released")
	}
}

// --- RequiredError Tests ---

func TestRequiredError_AddMerge(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	other := domain.GroupKey{Department: "netops", Group: "access"}

	e := NewRequiredError(testKey, false, a)
	e.Add(testKey, a)
	e.Add(other, b)

	e2 := NewRequiredError(testKey, true, b)
	e.Merge(e2)

	if len(e.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(e.Groups))
	}
	if len(e.Groups[0].DeviceIDs) != 2 {
		t.Errorf("expected 2 devices in first group, got %d", len(e.Groups[0].DeviceIDs))
	}
	if !e.TimedOut {
		t.Error("expected merged TimedOut")
	}

	wrapped := errors.Join(errors.New("stage"), e)
	got, ok := AsRequired(wrapped)
	if !ok || got != e {
		t.Error("expected AsRequired to unwrap")
	}
}

func TestGenerateCode(t *testing.T) {
	seed := "JBSWY3DPEHPK3PXP"
	at := time.Unix(1700000000, 0)

	c1, err := GenerateCode(seed, at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c1) != 6 {
		t.Errorf("expected 6 digits, got %q", c1)
	}
	c2, _ := GenerateCode("jbswy3dp ehpk3pxp", at)
	if c1 != c2 {
		t.Errorf("normalized seed should give same code: %s vs %s", c1, c2)
	}

	if _, err := GenerateCode("", at); !errors.Is(err, ErrInvalidSeed) {
		t.Errorf("expected ErrInvalidSeed, got %v", err)
	}
}
