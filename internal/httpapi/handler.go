package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxTopicRunes    = 2000
	maxEventPageSize = 500
)

// RunLauncher starts and cancels workflow executions for a run. The
// HTTP layer never talks to Temporal directly so tests can substitute
// a stub.
type RunLauncher interface {
	StartResearch(ctx context.Context, runID, topic string, budget int) error
	CancelResearch(ctx context.Context, runID string) error
}

type Handler struct {
	cfg      config.Config
	store    store.Store
	launcher RunLauncher
	log      *zap.Logger
}

func NewHandler(cfg config.Config, st store.Store, launcher RunLauncher, log *zap.Logger) Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return Handler{cfg: cfg, store: st, launcher: launcher, log: log}
}

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createResearchRequest struct {
	Topic  string `json:"topic"`
	Budget *int   `json:"budget,omitempty"`
}

type researchRunResponse struct {
	ID            string         `json:"id"`
	Topic         string         `json:"topic"`
	Status        string         `json:"status"`
	Iteration     int            `json:"iteration"`
	Budget        int            `json:"budget"`
	ResultCount   int            `json:"resultCount"`
	Title         string         `json:"title,omitempty"`
	Report        string         `json:"report,omitempty"`
	CoverImageURL string         `json:"coverImageUrl,omitempty"`
	Sources       []store.Source `json:"sources,omitempty"`
	CreatedAt     string         `json:"createdAt"`
	UpdatedAt     string         `json:"updatedAt"`
}

func runResponse(run store.Run) researchRunResponse {
	return researchRunResponse{
		ID:            run.ID,
		Topic:         run.Topic,
		Status:        run.Status,
		Title:         run.Title,
		Report:        run.Report,
		CoverImageURL: run.CoverImageURL,
		Sources:       run.Sources,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
	}
}

func (h Handler) CreateResearch(w http.ResponseWriter, r *http.Request) {
	var req createResearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "topic is required")
		return
	}
	if len([]rune(topic)) > maxTopicRunes {
		writeError(w, http.StatusBadRequest, "invalid_request", "topic is too long")
		return
	}

	budget := h.cfg.Budget
	if req.Budget != nil {
		if *req.Budget < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "budget must be at least 1")
			return
		}
		budget = *req.Budget
	}

	runID := uuid.NewString()
	run, err := h.store.CreateRun(r.Context(), runID, topic)
	if err != nil {
		h.log.Error("create run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not create research run")
		return
	}

	if err := h.launcher.StartResearch(r.Context(), runID, topic, budget); err != nil {
		h.log.Error("start research workflow", zap.String("runId", runID), zap.Error(err))
		// The run row is useless without a workflow behind it.
		if deleteErr := h.store.DeleteRun(r.Context(), runID); deleteErr != nil {
			h.log.Warn("clean up unstarted run", zap.String("runId", runID), zap.Error(deleteErr))
		}
		writeError(w, http.StatusBadGateway, "workflow_unavailable", "could not start research workflow")
		return
	}

	h.log.Info("research started", zap.String("runId", runID), zap.Int("budget", budget))
	writeJSON(w, http.StatusAccepted, runResponse(run))
}

// GetResearch returns the run record together with progress pulled
// from the persisted research state. Runs without a state record, such
// as freshly created or canceled ones, report zero progress.
func (h Handler) GetResearch(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := h.store.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "research run not found")
		return
	}
	if err != nil {
		h.log.Error("get run", zap.String("runId", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load research run")
		return
	}

	state, err := h.store.LoadState(r.Context(), runID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.log.Error("load state", zap.String("runId", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load research run")
		return
	}

	out := runResponse(run)
	out.Iteration = state.Iteration
	out.Budget = state.Budget
	out.ResultCount = len(state.SearchResults)
	writeJSON(w, http.StatusOK, out)
}

type eventsResponse struct {
	Events []store.StoredEvent `json:"events"`
	LastID int64               `json:"lastId"`
}

// ListResearchEvents returns the event log after an optional cursor.
// Clients poll with after=<lastId> to tail a running research.
func (h Handler) ListResearchEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if _, err := h.store.GetRun(r.Context(), runID); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "research run not found")
		return
	} else if err != nil {
		h.log.Error("get run", zap.String("runId", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load research run")
		return
	}

	var afterID int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "after must be a non-negative integer")
			return
		}
		afterID = parsed
	}

	limit := maxEventPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	events, err := h.store.ListEvents(r.Context(), runID, afterID, limit)
	if err != nil {
		h.log.Error("list events", zap.String("runId", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load research events")
		return
	}

	lastID := afterID
	if len(events) > 0 {
		lastID = events[len(events)-1].ID
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, LastID: lastID})
}

// DeleteResearch cancels the workflow tree, drops the run's state and
// event log, and marks the record canceled. Cancelling a finished run
// is a no-op on the workflow side, so the call is idempotent.
func (h Handler) DeleteResearch(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if _, err := h.store.GetRun(r.Context(), runID); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "research run not found")
		return
	} else if err != nil {
		h.log.Error("get run", zap.String("runId", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not load research run")
		return
	}

	if err := h.launcher.CancelResearch(r.Context(), runID); err != nil {
		h.log.Error("cancel research workflow", zap.String("runId", runID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "workflow_unavailable", "could not cancel research workflow")
		return
	}

	if err := h.store.CancelRun(r.Context(), runID); err != nil {
		h.log.Error("cancel run", zap.String("runId", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not cancel research run")
		return
	}

	h.log.Info("research canceled", zap.String("runId", runID))
	w.WriteHeader(http.StatusNoContent)
}
