package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/hedged/internal/domain"
	"github.com/alanyoungcy/hedged/internal/rebalance"
)

// RebalanceControl defines the scheduler methods exposed over HTTP.
type RebalanceControl interface {
	Status() rebalance.Status
	TriggerNow(ctx context.Context) (rebalance.Summary, error)
}

// RebalanceHandler serves the rebalance scheduler endpoints.
type RebalanceHandler struct {
	scheduler RebalanceControl
	logger    *slog.Logger
}

// NewRebalanceHandler creates a RebalanceHandler.
func NewRebalanceHandler(scheduler RebalanceControl, logger *slog.Logger) *RebalanceHandler {
	return &RebalanceHandler{
		scheduler: scheduler,
		logger:    logger,
	}
}

// SchedulerStatus reports whether the loop is running and how many runs
// are in flight.
// GET /api/rebalance/status
func (h *RebalanceHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

// TriggerRebalance runs one rebalance pass out-of-band.
// POST /api/rebalance/trigger
func (h *RebalanceHandler) TriggerRebalance(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.TriggerNow(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			writeError(w, http.StatusConflict, "a rebalance run is already in flight")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: rebalance trigger failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "rebalance run failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
