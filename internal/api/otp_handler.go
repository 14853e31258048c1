package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shaiso/Netomata/internal/service"
)

// SubmitOTP принимает OTP-код группы и продолжает задачи на паузе.
// POST /api/v1/otp
func (h *Handler) SubmitOTP(w http.ResponseWriter, r *http.Request) {
	var req SubmitOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	res, err := h.tasks.SubmitOTP(r.Context(), service.SubmitOTPRequest{
		Department: req.Department,
		Group:      req.Group,
		Code:       req.Code,
		Operator:   Operator(r.Context()),
	})
	if errors.Is(err, service.ErrCodeNotCached) {
		h.logger.Error("otp code not cached", "group", req.Department+":"+req.Group, "error", err)
		Error(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "otp code could not be stored, retry")
		return
	}
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, SubmitOTPResponse{
		TTLSeconds: int(res.TTL.Seconds()),
		Resumed:    res.Resumed,
	})
}
