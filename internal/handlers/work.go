// Package handlers implements the §6 external interfaces: the
// worker-facing work RPCs and the control-plane job/label RPCs. The HTTP
// request-ingest layer that authenticates callers and translates the
// OGC/REST wire format into these payloads is an out-of-scope collaborator
// per §1 — these handlers are the seam it would call into.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/dispatcher"
	apperrors "github.com/ternarybob/quaero/internal/errors"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/progress"
)

var validate = validator.New()

// WorkHandler serves the worker-facing RPCs of §6: GET /work and
// PUT /work/{id}.
type WorkHandler struct {
	dispatcher *dispatcher.Dispatcher
	progress   *progress.Engine
	logger     arbor.ILogger
}

// NewWorkHandler constructs a WorkHandler.
func NewWorkHandler(dispatcher *dispatcher.Dispatcher, progress *progress.Engine, logger arbor.ILogger) *WorkHandler {
	return &WorkHandler{dispatcher: dispatcher, progress: progress, logger: logger}
}

type workResponse struct {
	WorkItem          *models.WorkItem `json:"workItem"`
	OperationTemplate string           `json:"operationTemplate"`
	InputCatalog      json.RawMessage  `json:"inputCatalog,omitempty"`
	MaxCmrGranules    *int             `json:"maxCmrGranules,omitempty"`
}

// GetWork implements GET /work?serviceID=<image> (§6).
func (h *WorkHandler) GetWork(w http.ResponseWriter, r *http.Request) {
	serviceID := r.URL.Query().Get("serviceID")
	if serviceID == "" {
		writeError(w, apperrors.Validation("serviceID query parameter is required"))
		return
	}

	payload, err := h.dispatcher.Dispatch(r.Context(), serviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if payload == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	resp := workResponse{
		WorkItem:          payload.WorkItem,
		OperationTemplate: payload.OperationTemplate,
		MaxCmrGranules:    payload.MaxCmrGranules,
	}
	if len(payload.InputCatalog) > 0 {
		resp.InputCatalog = json.RawMessage(payload.InputCatalog)
	}
	writeJSON(w, http.StatusOK, resp)
}

type workReportPayload struct {
	Status          models.WorkItemStatus `json:"status" validate:"required"`
	Results         []string              `json:"results"`
	OutputItemSizes []int64               `json:"outputItemSizes"`
	ErrorMessage    string                `json:"errorMessage"`
}

// PutWork implements PUT /work/{id} (§6): a worker's completion report.
func (h *WorkHandler) PutWork(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apperrors.Validation("invalid work item id"))
		return
	}

	var payload workReportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.Validation("invalid request body: %v", err))
		return
	}
	if err := validate.Struct(payload); err != nil {
		writeError(w, apperrors.Validation("invalid request body: %v", err))
		return
	}

	report := progress.Report{
		ItemID:          itemID,
		Outcome:         payload.Status,
		ResultURIs:      payload.Results,
		OutputItemSizes: payload.OutputItemSizes,
		ErrorMessage:    payload.ErrorMessage,
	}
	if err := h.progress.ReportOutcome(r.Context(), report); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
