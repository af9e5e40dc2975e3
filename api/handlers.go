package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"homeus/models"
	"homeus/scraper"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

// Reader is the part of the store the API reads from.
type Reader interface {
	Stats(ctx context.Context) (*models.Stats, error)
	RecentListings(ctx context.Context, limit int) ([]models.StoredListing, error)
	RecentSessions(ctx context.Context, limit int) ([]models.Session, error)
}

// CycleRunner is the part of the orchestrator the API drives.
type CycleRunner interface {
	StartCycle(ctx context.Context) error
	Running() bool
	LastResult() *scraper.CycleResult
}

// Sweeper queues an out-of-schedule staleness sweep.
type Sweeper interface {
	Trigger()
}

type Handlers struct {
	store   Reader
	runner  CycleRunner
	sweeper Sweeper
	// baseCtx outlives the request that triggers a cycle.
	baseCtx context.Context
	logger  *slog.Logger
}

// NewHandlers builds the handler set. sweeper may be nil, in which case the
// sweep endpoint answers 503.
func NewHandlers(baseCtx context.Context, store Reader, runner CycleRunner, sweeper Sweeper, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:   store,
		runner:  runner,
		sweeper: sweeper,
		baseCtx: baseCtx,
		logger:  logger.With("component", "api"),
	}
}

type statsResponse struct {
	*models.Stats
	CycleRunning bool                 `json:"cycle_running"`
	LastCycle    *scraper.CycleResult `json:"last_cycle,omitempty"`
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats query failed", "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	RespondWithJSON(w, http.StatusOK, statsResponse{
		Stats:        stats,
		CycleRunning: h.runner.Running(),
		LastCycle:    h.runner.LastResult(),
	})
}

func (h *Handlers) HandleRecentListings(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	listings, err := h.store.RecentListings(r.Context(), limit)
	if err != nil {
		h.logger.Error("recent listings query failed", "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "failed to load listings")
		return
	}
	if listings == nil {
		listings = []models.StoredListing{}
	}
	RespondWithJSON(w, http.StatusOK, listings)
}

func (h *Handlers) HandleRecentSessions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	sessions, err := h.store.RecentSessions(r.Context(), limit)
	if err != nil {
		h.logger.Error("recent sessions query failed", "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "failed to load sessions")
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	RespondWithJSON(w, http.StatusOK, sessions)
}

// HandleTriggerCycle starts a cycle in the background and returns at once.
// A 202 means this request claimed the cycle lock.
func (h *Handlers) HandleTriggerCycle(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.StartCycle(h.baseCtx); err != nil {
		if errors.Is(err, scraper.ErrCycleInProgress) {
			WriteJSONError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("failed to start cycle", "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "failed to start cycle")
		return
	}
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleTriggerSweep asks the staleness worker for an immediate sweep.
func (h *Handlers) HandleTriggerSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		WriteJSONError(w, http.StatusServiceUnavailable, "staleness worker not running")
		return
	}
	h.sweeper.Trigger()
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		WriteJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, true
}

func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	RespondWithJSON(w, statusCode, map[string]string{"error": message})
}

func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
