package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"build-orchestrator/internal/entity"
	"build-orchestrator/internal/service"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg})
}

// statusFor maps service errors to HTTP status codes. Unknown errors are
// internal and their text is not shown to clients.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidJob):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound, "job not found"
	case errors.Is(err, entity.ErrNotPaused):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeServiceErr writes err and logs it when it is internal.
func (h *Handler) writeServiceErr(w http.ResponseWriter, op, jobID string, err error) {
	code, msg := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error(op, "job_id", jobID, "error", err)
	}
	writeErr(w, code, msg)
}
