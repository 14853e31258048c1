package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	consulapi "github.com/hashicorp/consul/api"
)

// kvServer — минимальный HTTP-эндпоинт /v1/kv/ с семантикой CAS Consul.
type kvServer struct {
	mu    sync.Mutex
	pairs map[string]*consulapi.KVPair
	index uint64
}

func newKVServer(t *testing.T) (*kvServer, *httptest.Server) {
	t.Helper()
	s := &kvServer{pairs: make(map[string]*consulapi.KVPair)}
	srv := httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *kvServer) serve(w http.ResponseWriter, r *http.Request) {
	key, ok := strings.CutPrefix(r.URL.Path, "/v1/kv/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		var out []*consulapi.KVPair
		if q.Has("recurse") {
			for k, p := range s.pairs {
				if strings.HasPrefix(k, key) {
					out = append(out, p)
				}
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
		} else if p, ok := s.pairs[key]; ok {
			out = append(out, p)
		}
		if len(out) == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("X-Consul-Index", strconv.FormatUint(s.index, 10))
		_ = json.NewEncoder(w).Encode(out)

	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if q.Has("cas") && !s.casMatches(key, q.Get("cas")) {
			io.WriteString(w, "false")
			return
		}
		flags, _ := strconv.ParseUint(q.Get("flags"), 10, 64)
		s.index++
		p := &consulapi.KVPair{Key: key, Value: body, Flags: flags, CreateIndex: s.index, ModifyIndex: s.index}
		if prev, ok := s.pairs[key]; ok {
			p.CreateIndex = prev.CreateIndex
		}
		s.pairs[key] = p
		io.WriteString(w, "true")

	case http.MethodDelete:
		if q.Has("cas") && !s.casMatches(key, q.Get("cas")) {
			io.WriteString(w, "false")
			return
		}
		delete(s.pairs, key)
		s.index++
		io.WriteString(w, "true")

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// casMatches: cas=0 — ключа нет, иначе ModifyIndex должен совпасть.
func (s *kvServer) casMatches(key, raw string) bool {
	idx, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return false
	}
	p, ok := s.pairs[key]
	if idx == 0 {
		return !ok
	}
	return ok && p.ModifyIndex == idx
}

func (s *kvServer) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pairs[key]
	return ok
}

func newTestConsul(t *testing.T, clock *fakeClock) (*Consul, *kvServer) {
	t.Helper()
	kv, srv := newKVServer(t)
	c, err := NewConsul(srv.URL, "test/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.now = clock.Now
	return c, kv
}

// --- Consul Tests ---

func TestConsul_SetGet(t *testing.T) {
	ctx := context.Background()
	c, kv := newTestConsul(t, &fakeClock{now: time.Unix(1000, 0)})

	if err := c.Set(ctx, "a", []byte("1"), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !kv.has("test/a") {
		t.Fatal("expected key under the store prefix")
	}

	v, ok, err := c.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("expected key, got ok=%v err=%v", ok, err)
	}
	if string(v) != "1" {
		t.Errorf("expected 1, got %q", v)
	}

	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Error("expected missing key to be absent")
	}
}

func TestConsul_ExpiredKeyReadsAbsent(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c, kv := newTestConsul(t, clock)

	if err := c.Set(ctx, "otp:code:netops:edge", []byte("123456"), time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(999 * time.Millisecond)
	if _, ok, _ := c.Get(ctx, "otp:code:netops:edge"); !ok {
		t.Fatal("expected key before expiry")
	}

	clock.Advance(time.Millisecond)
	v, ok, err := c.Get(ctx, "otp:code:netops:edge")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || v != nil {
		t.Fatalf("expected expired key to read as absent, got %q", v)
	}
	if kv.has("test/otp:code:netops:edge") {
		t.Error("expected expired pair to be removed on read")
	}
}

func TestConsul_SetNXOverExpiredKey(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c, _ := newTestConsul(t, clock)

	ok, err := c.SetNX(ctx, "lock", []byte("first"), time.Second)
	if err != nil || !ok {
		t.Fatalf("first SetNX should succeed, got ok=%v err=%v", ok, err)
	}
	if ok, _ := c.SetNX(ctx, "lock", []byte("second"), time.Second); ok {
		t.Fatal("SetNX should fail while key is live")
	}

	clock.Advance(time.Second)

	const contenders = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner := "owner-" + strconv.Itoa(i)
			ok, err := c.SetNX(ctx, "lock", []byte(owner), time.Second)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners = append(winners, owner)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one SetNX over the expired key, got %v", winners)
	}
	v, ok, _ := c.Get(ctx, "lock")
	if !ok || string(v) != winners[0] {
		t.Errorf("expected lock held by %s, got %q (%v)", winners[0], v, ok)
	}
}

func TestConsul_ScanHidesExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c, _ := newTestConsul(t, clock)

	c.Set(ctx, "otp:pause:netops:edge:t1", []byte("x"), time.Second)
	c.Set(ctx, "otp:pause:netops:edge:t2", []byte("x"), time.Hour)
	c.Set(ctx, "otp:pause:netops:core:t3", []byte("x"), 0)
	c.Set(ctx, "otp:code:netops:edge", []byte("123456"), time.Hour)

	clock.Advance(2 * time.Second)

	keys, err := c.Scan(ctx, "otp:pause:")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"otp:pause:netops:core:t3", "otp:pause:netops:edge:t2"}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("Scan mismatch (-want +got):\n%s", diff)
	}

	keys, err = c.Scan(ctx, "otp:wait:")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %v", keys)
	}
}

func TestConsul_DeleteIf(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c, kv := newTestConsul(t, clock)

	c.Set(ctx, "otp:waitlock:netops:edge", []byte("me"), time.Second)

	ok, err := c.DeleteIf(ctx, "otp:waitlock:netops:edge", []byte("other"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || !kv.has("test/otp:waitlock:netops:edge") {
		t.Fatal("foreign value must not be deleted")
	}

	ok, err = c.DeleteIf(ctx, "otp:waitlock:netops:edge", []byte("me"))
	if err != nil || !ok {
		t.Fatalf("expected own value deleted, got ok=%v err=%v", ok, err)
	}
	if kv.has("test/otp:waitlock:netops:edge") {
		t.Error("expected key removed")
	}

	// истёкшая запись не считается своей
	c.Set(ctx, "otp:waitlock:netops:edge", []byte("me"), time.Second)
	clock.Advance(time.Second)
	if ok, _ := c.DeleteIf(ctx, "otp:waitlock:netops:edge", []byte("me")); ok {
		t.Error("expired value must not be reported as deleted")
	}
}

func TestConsul_Delete(t *testing.T) {
	ctx := context.Background()
	c, kv := newTestConsul(t, &fakeClock{now: time.Unix(1000, 0)})

	c.Set(ctx, "a", []byte("1"), 0)
	c.Set(ctx, "b", []byte("2"), 0)
	if err := c.Delete(ctx, "a", "b", "missing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kv.has("test/a") || kv.has("test/b") {
		t.Error("expected keys deleted")
	}
}

func TestConsul_Unavailable(t *testing.T) {
	ctx := context.Background()
	_, srv := newKVServer(t)
	c, err := NewConsul(srv.URL, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	srv.Close()

	if _, _, err := c.Get(ctx, "a"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable from Get, got %v", err)
	}
	if _, err := c.SetNX(ctx, "a", []byte("1"), time.Second); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable from SetNX, got %v", err)
	}
	if _, err := c.Scan(ctx, ""); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable from Scan, got %v", err)
	}
}
