package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/hedged/internal/domain"
	"github.com/alanyoungcy/hedged/internal/orchestrator"
)

// PositionService defines the orchestrator methods the position handler
// requires.
type PositionService interface {
	Open(ctx context.Context, req orchestrator.OpenRequest) (domain.Position, []domain.PositionSnapshot, error)
	Close(ctx context.Context, owner, positionID string, overrides map[string]orchestrator.CloseOverride) (orchestrator.CloseResult, error)
	Delete(ctx context.Context, owner, positionID string) error
	Get(ctx context.Context, owner, positionID string) (domain.Position, []domain.PositionSnapshot, error)
	List(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and
// logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

type legSpecRequest struct {
	AccountID string `json:"account_id"`
	Venue     string `json:"venue"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Size      string `json:"size"`
	Price     string `json:"price,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Spot      bool   `json:"spot,omitempty"`
}

type openPositionRequest struct {
	Owner            string           `json:"owner"`
	Name             string           `json:"name,omitempty"`
	FundingOptimized bool             `json:"funding_optimized,omitempty"`
	Legs             []legSpecRequest `json:"legs"`
}

type positionResponse struct {
	Position  domain.Position           `json:"position"`
	Snapshots []domain.PositionSnapshot `json:"snapshots"`
}

// OpenPosition opens a multi-leg position.
// POST /api/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	open := orchestrator.OpenRequest{
		Owner:            req.Owner,
		Name:             req.Name,
		FundingOptimized: req.FundingOptimized,
	}
	for _, leg := range req.Legs {
		open.Legs = append(open.Legs, orchestrator.LegSpec{
			AccountID: leg.AccountID,
			Venue:     domain.Venue(leg.Venue),
			Symbol:    leg.Symbol,
			Side:      domain.LegSide(leg.Side),
			Size:      leg.Size,
			Price:     leg.Price,
			Kind:      domain.OrderKind(leg.Kind),
			SpotHint:  leg.Spot,
		})
	}

	position, snapshots, err := h.positions.Open(r.Context(), open)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: open position failed",
			slog.String("owner", req.Owner),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, positionResponse{Position: position, Snapshots: snapshots})
}

type closeOverrideRequest struct {
	MarketRef string `json:"market_ref"`
	Spot      bool   `json:"spot,omitempty"`
}

type closePositionRequest struct {
	Owner     string                          `json:"owner"`
	Overrides map[string]closeOverrideRequest `json:"overrides,omitempty"`
}

// ClosePosition closes every leg of a position and returns the per-leg
// results.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	var overrides map[string]orchestrator.CloseOverride
	if len(req.Overrides) > 0 {
		overrides = make(map[string]orchestrator.CloseOverride, len(req.Overrides))
		for snapID, o := range req.Overrides {
			overrides[snapID] = orchestrator.CloseOverride{MarketRef: o.MarketRef, Spot: o.Spot}
		}
	}

	result, err := h.positions.Close(r.Context(), req.Owner, id, overrides)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: close position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DeletePosition removes local bookkeeping for a position.
// DELETE /api/positions/{id}?owner=...
func (h *PositionHandler) DeletePosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	if err := h.positions.Delete(r.Context(), owner, id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPosition returns one position with its snapshots.
// GET /api/positions/{id}?owner=...
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	position, snapshots, err := h.positions.Get(r.Context(), owner, id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{Position: position, Snapshots: snapshots})
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns the owner's positions.
// GET /api/positions?owner=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	positions, err := h.positions.List(r.Context(), owner, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// statusFor maps domain sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidLegs):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownMarket):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrCredentialMismatch):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPositionClosed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrVenueRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrVenueUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
