// Package rebalance keeps funding-optimized positions on the favorable
// side of funding by closing them once any leg starts paying.
package rebalance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/hedged/internal/domain"
	"github.com/alanyoungcy/hedged/internal/orchestrator"
)

// RateProvider batch-fetches funding rates. Implemented by
// funding.Provider.
type RateProvider interface {
	Rates(ctx context.Context, keys []domain.MarketKey) map[domain.MarketKey]domain.FundingRate
}

// PositionCloser closes a position on behalf of its owner. Implemented by
// orchestrator.Orchestrator.
type PositionCloser interface {
	Close(ctx context.Context, owner, positionID string, overrides map[string]orchestrator.CloseOverride) (orchestrator.CloseResult, error)
}

// Candidate is an open position queued for closure because a leg is paying
// funding.
type Candidate struct {
	PositionID string
	Owner      string
	Reason     string
}

// Summary reports one rebalance pass.
type Summary struct {
	Evaluated int `json:"evaluated"`
	Queued    int `json:"queued"`
	Closed    int `json:"closed"`
	Failed    int `json:"failed"`
}

// Engine evaluates funding-optimized positions and closes the unfavorable
// ones.
type Engine struct {
	db     domain.DB
	rates  RateProvider
	closer PositionCloser
	logger *slog.Logger
}

// NewEngine builds the engine over storage, the rate provider, and the
// orchestrator.
func NewEngine(db domain.DB, rates RateProvider, closer PositionCloser, logger *slog.Logger) *Engine {
	return &Engine{
		db:     db,
		rates:  rates,
		closer: closer,
		logger: logger.With(slog.String("component", "rebalance")),
	}
}

// Check loads every open funding-optimized position and queues those with
// at least one unfavorable leg. The whole position is queued, never a
// single leg: the delta-neutral invariant requires both legs to move
// together. Funding is fetched once per distinct (venue, market) pair.
func (e *Engine) Check(ctx context.Context) ([]Candidate, int, error) {
	positions, err := e.db.Positions().ListOpenFundingOptimized(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("rebalance: list positions: %w", err)
	}
	if len(positions) == 0 {
		return nil, 0, nil
	}

	type evaluated struct {
		position domain.Position
		legs     []domain.PositionSnapshot
	}
	batch := make([]evaluated, 0, len(positions))
	var keys []domain.MarketKey
	for _, p := range positions {
		_, legs, err := e.db.Positions().GetWithSnapshots(ctx, p.ID)
		if err != nil {
			e.logger.Warn("skipping position, snapshots unavailable",
				slog.String("position_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		batch = append(batch, evaluated{position: p, legs: legs})
		for _, leg := range legs {
			if leg.Side == domain.LegSideSpot {
				continue
			}
			keys = append(keys, domain.MarketKey{Venue: leg.Venue, Symbol: leg.Symbol})
		}
	}

	rates := e.rates.Rates(ctx, keys)

	var queued []Candidate
	for _, ev := range batch {
		if reason, bad := e.unfavorableLeg(ev.legs, rates); bad {
			queued = append(queued, Candidate{
				PositionID: ev.position.ID,
				Owner:      ev.position.Owner,
				Reason:     reason,
			})
		}
	}
	return queued, len(batch), nil
}

// unfavorableLeg reports the first leg currently paying funding: a long
// leg under a positive rate or a short leg under a negative rate. Spot
// legs pay no funding and are never evaluated.
func (e *Engine) unfavorableLeg(legs []domain.PositionSnapshot, rates map[domain.MarketKey]domain.FundingRate) (string, bool) {
	for _, leg := range legs {
		if leg.Side == domain.LegSideSpot {
			continue
		}
		rate, ok := rates[domain.MarketKey{Venue: leg.Venue, Symbol: leg.Symbol}]
		if !ok {
			continue
		}
		paying := (rate.Rate.IsPositive() && leg.Side == domain.LegSideLong) ||
			(rate.Rate.IsNegative() && leg.Side == domain.LegSideShort)
		if paying {
			return fmt.Sprintf("%s %s on %s paying funding %s",
				leg.Side, leg.Symbol, leg.Venue, rate.Rate.String()), true
		}
	}
	return "", false
}

// Apply closes each queued position independently; one position's failure
// never blocks the others.
func (e *Engine) Apply(ctx context.Context, queued []Candidate) (closed, failed int) {
	for _, c := range queued {
		result, err := e.closer.Close(ctx, c.Owner, c.PositionID, nil)
		switch {
		case err != nil:
			failed++
			e.logger.Warn("rebalance close failed",
				slog.String("position_id", c.PositionID),
				slog.String("reason", c.Reason),
				slog.String("error", err.Error()),
			)
		case !result.Closed:
			failed++
			e.logger.Warn("rebalance close incomplete, position stays open",
				slog.String("position_id", c.PositionID),
				slog.String("reason", c.Reason),
			)
		default:
			closed++
			e.logger.Info("rebalanced position closed",
				slog.String("position_id", c.PositionID),
				slog.String("reason", c.Reason),
			)
		}
	}
	return closed, failed
}

// Run executes one full check-then-apply pass.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	queued, evaluated, err := e.Check(ctx)
	if err != nil {
		return Summary{}, err
	}
	closed, failed := e.Apply(ctx, queued)
	return Summary{
		Evaluated: evaluated,
		Queued:    len(queued),
		Closed:    closed,
		Failed:    failed,
	}, nil
}
