package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"

	apperrors "github.com/ternarybob/quaero/internal/errors"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/progress"
)

// ControlPlaneHandler serves the control-plane RPCs of §6: the
// pause/resume/cancel/skip-preview job operations and the label
// operations, submitted by the (out-of-scope) ingest/UI layer.
type ControlPlaneHandler struct {
	progress *progress.Engine
	jobs     interfaces.JobStore
	logger   arbor.ILogger
}

// NewControlPlaneHandler constructs a ControlPlaneHandler.
func NewControlPlaneHandler(progress *progress.Engine, jobs interfaces.JobStore, logger arbor.ILogger) *ControlPlaneHandler {
	return &ControlPlaneHandler{progress: progress, jobs: jobs, logger: logger}
}

type jobIDsPayload struct {
	JobIDs []string `json:"jobIDs" validate:"required,min=1"`
}

type jobStatusResult struct {
	JobID  string           `json:"jobId"`
	Status models.JobStatus `json:"status,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func (h *ControlPlaneHandler) applyToJobs(w http.ResponseWriter, r *http.Request, resultStatus models.JobStatus, op func(r *http.Request, jobID string) error) {
	var payload jobIDsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.Validation("invalid request body: %v", err))
		return
	}
	if err := validate.Struct(payload); err != nil {
		writeError(w, apperrors.Validation("invalid request body: %v", err))
		return
	}

	results := make([]jobStatusResult, 0, len(payload.JobIDs))
	for _, jobID := range payload.JobIDs {
		if err := op(r, jobID); err != nil {
			results = append(results, jobStatusResult{JobID: jobID, Error: err.Error()})
			continue
		}
		results = append(results, jobStatusResult{JobID: jobID, Status: resultStatus})
	}
	writeJSON(w, http.StatusOK, results)
}

// Pause implements POST /jobs/pause (§6).
func (h *ControlPlaneHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.applyToJobs(w, r, models.JobPaused, func(r *http.Request, jobID string) error {
		return h.progress.Pause(r.Context(), jobID)
	})
}

// Resume implements POST /jobs/resume (§6).
func (h *ControlPlaneHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.applyToJobs(w, r, models.JobRunning, func(r *http.Request, jobID string) error {
		return h.progress.Resume(r.Context(), jobID)
	})
}

// Cancel implements POST /jobs/cancel (§6).
func (h *ControlPlaneHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.applyToJobs(w, r, models.JobCanceled, func(r *http.Request, jobID string) error {
		return h.progress.Cancel(r.Context(), jobID)
	})
}

// SkipPreview implements POST /jobs/skip-preview (§6).
func (h *ControlPlaneHandler) SkipPreview(w http.ResponseWriter, r *http.Request) {
	h.applyToJobs(w, r, models.JobRunning, func(r *http.Request, jobID string) error {
		return h.progress.SkipPreview(r.Context(), jobID)
	})
}

type labelsPayload struct {
	JobID string   `json:"jobID" validate:"required"`
	Label []string `json:"label" validate:"required,min=1"`
}

// PutLabels implements PUT /labels (§6): normalizes (lowercase + trim),
// sorts, and deduplicates labels before attaching them to the job.
func (h *ControlPlaneHandler) PutLabels(w http.ResponseWriter, r *http.Request) {
	var payload labelsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.Validation("invalid request body: %v", err))
		return
	}
	if err := validate.Struct(payload); err != nil {
		writeError(w, apperrors.Validation("invalid request body: %v", err))
		return
	}

	if err := h.jobs.AddLabels(r.Context(), payload.JobID, payload.Label); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type deleteLabelPayload struct {
	JobID string `json:"jobID" validate:"required"`
	Label string `json:"label" validate:"required"`
}

// DeleteLabels implements DELETE /labels (§6).
func (h *ControlPlaneHandler) DeleteLabels(w http.ResponseWriter, r *http.Request) {
	var payload deleteLabelPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.Validation("invalid request body: %v", err))
		return
	}
	if err := validate.Struct(payload); err != nil {
		writeError(w, apperrors.Validation("invalid request body: %v", err))
		return
	}

	if err := h.jobs.RemoveLabel(r.Context(), payload.JobID, payload.Label); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
