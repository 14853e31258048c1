package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Netomata/internal/service"
)

// CreateTask создаёт задачу деплоя.
// POST /api/v1/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	task, err := h.tasks.CreateTask(r.Context(), req.ToService(Operator(r.Context())))
	if HandleError(w, h.logger, err) {
		return
	}

	Created(w, TaskFromDomain(task))
}

// GetTask возвращает задачу по ID.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	task, err := h.tasks.GetTask(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, TaskFromDomain(task))
}

// ListApprovals возвращает шаги согласования задачи.
// GET /api/v1/tasks/{id}/approvals
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	steps, err := h.tasks.ApprovalSteps(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]ApprovalStepResponse, len(steps))
	for i, s := range steps {
		result[i] = ApprovalStepFromDomain(s)
	}
	List(w, result, len(result))
}

// ApproveTask фиксирует решение по текущему уровню согласования.
// POST /api/v1/tasks/{id}/approve
func (h *Handler) ApproveTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	task, err := h.tasks.Approve(r.Context(), id, service.Decision{
		Approver: Operator(r.Context()),
		Approve:  req.Approve,
		Comment:  req.Comment,
	})
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, TaskFromDomain(task))
}

// ExecuteTask отправляет задачу на выполнение.
// POST /api/v1/tasks/{id}/execute
func (h *Handler) ExecuteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	task, err := h.tasks.Execute(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Accepted(w, TaskFromDomain(task))
}

// RollbackTask создаёт задачу отката.
// POST /api/v1/tasks/{id}/rollback
func (h *Handler) RollbackTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req RollbackRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	task, err := h.tasks.Rollback(r.Context(), id, req.DeviceIDs, req.ApprovalLevels, Operator(r.Context()))
	if HandleError(w, h.logger, err) {
		return
	}

	Created(w, TaskFromDomain(task))
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return uuid.Nil, false
	}
	return id, true
}
