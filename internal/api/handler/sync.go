package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/orgsyncd/orgsyncd/internal/api/middleware"
	"github.com/orgsyncd/orgsyncd/internal/api/response"
	"github.com/orgsyncd/orgsyncd/internal/reconciler"
	"github.com/orgsyncd/orgsyncd/internal/runlog"
)

const defaultRunsLimit = 20

// SyncHandler serves plan inspection, manual sync triggering and run
// history.
type SyncHandler struct {
	reconciler *reconciler.Reconciler
	runs       runlog.Repository
}

// NewSyncHandler creates a sync handler.
func NewSyncHandler(rec *reconciler.Reconciler, runs runlog.Repository) *SyncHandler {
	return &SyncHandler{reconciler: rec, runs: runs}
}

type planResponse struct {
	Plan        string `json:"plan"`
	TeamChanges int    `json:"teamChanges"`
	RepoChanges int    `json:"repoChanges"`
}

type runResponse struct {
	ID          uuid.UUID `json:"id"`
	Trigger     string    `json:"trigger"`
	DryRun      bool      `json:"dryRun"`
	Applied     bool      `json:"applied"`
	TeamChanges int       `json:"teamChanges"`
	RepoChanges int       `json:"repoChanges"`
	Plan        string    `json:"plan"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

func toRunResponse(run *runlog.Run) runResponse {
	return runResponse{
		ID:          run.ID,
		Trigger:     run.Trigger,
		DryRun:      run.DryRun,
		Applied:     run.Applied,
		TeamChanges: run.TeamChanges,
		RepoChanges: run.RepoChanges,
		Plan:        run.Plan,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
}

// Plan computes the current plan without applying it.
func (h *SyncHandler) Plan(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	result, err := h.reconciler.Plan(r.Context())
	if err != nil {
		response.Err(w, http.StatusBadGateway, "PLAN_FAILED", err.Error(), requestID)
		return
	}
	response.Success(w, http.StatusOK, planResponse{
		Plan:        result.Plan,
		TeamChanges: result.TeamChanges,
		RepoChanges: result.RepoChanges,
	}, requestID)
}

// Trigger starts a sync run immediately. The run record is returned
// even when the run failed; the error is carried inside it.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	run, err := h.reconciler.RunOnce(r.Context(), "manual")
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	response.Success(w, status, toRunResponse(run), requestID)
}

// ListRuns returns the most recent runs, newest first.
func (h *SyncHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			response.Err(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", requestID)
			return
		}
		limit = parsed
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs", requestID)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for i := range runs {
		out = append(out, toRunResponse(&runs[i]))
	}
	response.SuccessList(w, http.StatusOK, out, len(out), requestID)
}

// GetRun returns a single run by id.
func (h *SyncHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_ID", "Run id must be a UUID", requestID)
		return
	}
	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, runlog.ErrRunNotFound) {
			response.Err(w, http.StatusNotFound, "NOT_FOUND", "Run not found", requestID)
			return
		}
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch run", requestID)
		return
	}
	response.Success(w, http.StatusOK, toRunResponse(run), requestID)
}
