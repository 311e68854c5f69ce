package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"build-orchestrator/internal/entity"
	"build-orchestrator/internal/service"
)

type Handler struct {
	svc    *service.BuildService
	logger *slog.Logger
}

func NewHandler(svc *service.BuildService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger.With("component", "http")}
}

type submitJobResp struct {
	MessageID string `json:"messageId"`
	JobID     string `json:"jobId"`
}

// SubmitJob godoc
// @Summary Submit a build job
// @Description Validates the job and enqueues it. The job runs asynchronously; progress is reported to callbackUrl.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body entity.BuildJob true "build job"
// @Success 202 {object} submitJobResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var job entity.BuildJob
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := h.svc.Submit(r.Context(), job)
	if err != nil {
		h.writeServiceErr(w, "submit job", job.JobID, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitJobResp{MessageID: id, JobID: job.JobID})
}

// GetJob godoc
// @Summary Get job state
// @Tags jobs
// @Produce json
// @Param id path string true "job id"
// @Success 200 {object} entity.JobState
// @Failure 404 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceErr(w, "get job", id, err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// ApproveJob godoc
// @Summary Approve a paused job
// @Description Lets a job paused on a destructive change continue.
// @Tags jobs
// @Security BearerAuth
// @Param id path string true "job id"
// @Success 204
// @Failure 401 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/approve [post]
func (h *Handler) ApproveJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.svc.Approve(r.Context(), id); err != nil {
		h.writeServiceErr(w, "approve job", id, err)
		return
	}

	h.logger.Info("job approved", "job_id", id, "sub", Subject(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// GetDeadLetters godoc
// @Summary List dead letters of a job
// @Tags jobs
// @Produce json
// @Param id path string true "job id"
// @Success 200 {array} entity.DeadLetterRecord
// @Failure 500 {object} apiError
// @Router /jobs/{id}/dead-letters [get]
func (h *Handler) GetDeadLetters(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	records, err := h.svc.DeadLetters(r.Context(), id)
	if err != nil {
		h.writeServiceErr(w, "list dead letters", id, err)
		return
	}
	if records == nil {
		records = []entity.DeadLetterRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}
