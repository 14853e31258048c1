package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/cache"
	"github.com/shaiso/Netomata/internal/domain"
	"github.com/shaiso/Netomata/internal/otp"
	"github.com/shaiso/Netomata/internal/repo/memrepo"
	"github.com/shaiso/Netomata/internal/service"
)

type nopPublisher struct{ n int }

func (p *nopPublisher) PublishTask(context.Context, domain.TaskType, uuid.UUID, bool) error {
	p.n++
	return nil
}

type testServer struct {
	mux   *http.ServeMux
	store *memrepo.Store
	pub   *nopPublisher
	tmpl  domain.Template
	dev   domain.Device
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{store: memrepo.New(), pub: &nopPublisher{}, mux: http.NewServeMux()}
	ts.tmpl = domain.Template{ID: uuid.New(), Name: "banner", Content: "banner motd #hi#", ApprovalStatus: domain.ApprovalApproved}
	ts.store.PutTemplate(ts.tmpl)
	ts.dev = domain.Device{ID: uuid.New(), Name: "sw1", Platform: "cisco_ios", AuthType: domain.AuthStatic, Department: "netops", Group: "core"}
	ts.store.PutDevice(ts.dev)

	svc := service.New(service.Config{
		Tasks:     ts.store.Tasks(),
		Approvals: ts.store.Approvals(),
		Templates: ts.store.Templates(),
		Devices:   ts.store.Devices(),
		Publisher: ts.pub,
		Codes:     otp.NewCoordinator(cache.NewMemory(time.Now), otp.Config{}),
	})
	NewHandler(Config{Tasks: svc}).RegisterRoutes(ts.mux)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(HeaderUser, user)
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) TaskResponse {
	t.Helper()
	var resp struct {
		Data TaskResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) ErrorCode {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp.Error.Code
}

// --- Task API Tests ---

func TestTaskLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/api/v1/tasks", "alice", CreateTaskRequest{
		Type:           domain.TaskTypeDeploy,
		TemplateID:     ts.tmpl.ID,
		DeviceIDs:      []uuid.UUID{ts.dev.ID},
		ApprovalLevels: 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	task := decodeTask(t, rec)
	if task.Operator != "alice" || task.ApprovalStatus != domain.ApprovalPending {
		t.Fatalf("unexpected task: %+v", task)
	}
	path := "/api/v1/tasks/" + task.ID.String()

	rec = ts.do(t, "POST", path+"/execute", "alice", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unapproved execute: expected 400, got %d", rec.Code)
	}

	rec = ts.do(t, "POST", path+"/approve", "alice", ApproveRequest{Approve: true})
	if rec.Code != http.StatusForbidden {
		t.Errorf("self approval: expected 403, got %d", rec.Code)
	}

	rec = ts.do(t, "POST", path+"/approve", "bob", ApproveRequest{Approve: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if got := decodeTask(t, rec); got.ApprovalStatus != domain.ApprovalApproved {
		t.Errorf("expected approved, got %s", got.ApprovalStatus)
	}

	rec = ts.do(t, "POST", path+"/execute", "alice", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("execute: expected 202, got %d: %s", rec.Code, rec.Body)
	}
	if ts.pub.n != 1 {
		t.Errorf("expected 1 published task, got %d", ts.pub.n)
	}

	rec = ts.do(t, "GET", path+"/approvals", "carol", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("approvals: expected 200, got %d", rec.Code)
	}

	rec = ts.do(t, "POST", path+"/rollback", "carol", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("rollback of pending task: expected 400, got %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		code   ErrorCode
	}{
		{"missing user", "GET", "/api/v1/tasks/" + uuid.NewString(), "", nil, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"bad id", "GET", "/api/v1/tasks/nope", "bob", nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"not found", "GET", "/api/v1/tasks/" + uuid.NewString(), "bob", nil, http.StatusNotFound, ErrCodeNotFound},
		{"invalid task", "POST", "/api/v1/tasks", "bob", CreateTaskRequest{Type: "reboot"}, http.StatusBadRequest, ErrCodeBadRequest},
		{"bad otp", "POST", "/api/v1/otp", "bob", SubmitOTPRequest{Department: "netops", Group: "core", Code: "1"}, http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.user, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body)
			}
			if code := errorCode(t, rec); code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestSubmitOTP(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, "POST", "/api/v1/otp", "bob", SubmitOTPRequest{Department: "netops", Group: "edge", Code: "654321"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		Data SubmitOTPResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Data.TTLSeconds <= 0 {
		t.Errorf("expected positive ttl, got %d", resp.Data.TTLSeconds)
	}
}
