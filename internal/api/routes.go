package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		RequireUser(),
	)

	// Tasks
	mux.Handle("POST /api/v1/tasks", chain(http.HandlerFunc(h.CreateTask)))
	mux.Handle("GET /api/v1/tasks/{id}", chain(http.HandlerFunc(h.GetTask)))
	mux.Handle("GET /api/v1/tasks/{id}/approvals", chain(http.HandlerFunc(h.ListApprovals)))
	mux.Handle("POST /api/v1/tasks/{id}/approve", chain(http.HandlerFunc(h.ApproveTask)))
	mux.Handle("POST /api/v1/tasks/{id}/execute", chain(http.HandlerFunc(h.ExecuteTask)))
	mux.Handle("POST /api/v1/tasks/{id}/rollback", chain(http.HandlerFunc(h.RollbackTask)))

	// OTP
	mux.Handle("POST /api/v1/otp", chain(http.HandlerFunc(h.SubmitOTP)))
}
