package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/hedged/internal/domain"
)

// CloseOverride re-targets one leg's market resolution when snapshot
// metadata is missing or ambiguous (legacy legs). Keyed by snapshot id.
type CloseOverride struct {
	MarketRef string // symbol or venue market id to resolve instead
	Spot      bool
}

// LegCloseResult is the per-leg outcome of a close. Err is empty on
// success.
type LegCloseResult struct {
	SnapshotID   string `json:"snapshot_id"`
	Venue        string `json:"venue"`
	Symbol       string `json:"symbol"`
	OrderID      string `json:"order_id,omitempty"`
	VenueOrderID string `json:"venue_order_id,omitempty"`
	Err          string `json:"error,omitempty"`
}

// CloseResult is the structured partial-success payload of a close.
type CloseResult struct {
	Position domain.Position  `json:"position"`
	Legs     []LegCloseResult `json:"legs"`
	Closed   bool             `json:"closed"`
}

// Close issues a reduce-only (full-sell for spot) market order against each
// leg of the position. Legs are independent: one leg's failure never aborts
// the others. The Position flips to closed only when every leg succeeded;
// otherwise it stays open and the caller retries just the failed legs from
// the returned payload.
func (o *Orchestrator) Close(ctx context.Context, owner, positionID string, overrides map[string]CloseOverride) (CloseResult, error) {
	position, snapshots, err := o.db.Positions().GetWithSnapshots(ctx, positionID)
	if err != nil {
		return CloseResult{}, err
	}
	if position.Owner != owner {
		return CloseResult{}, domain.ErrUnauthorized
	}
	if position.Status != domain.PositionStatusOpen {
		return CloseResult{}, fmt.Errorf("orchestrator: position %s is %s: %w",
			positionID, position.Status, domain.ErrPositionClosed)
	}

	results := make([]LegCloseResult, 0, len(snapshots))
	failures := 0
	for _, snap := range snapshots {
		res := o.closeLeg(ctx, owner, snap, overrides[snap.ID])
		if res.Err != "" {
			failures++
		}
		results = append(results, res)
	}

	if failures > 0 {
		o.logger.Warn("position close incomplete",
			slog.String("position_id", positionID),
			slog.Int("failed_legs", failures),
			slog.Int("total_legs", len(snapshots)),
		)
		return CloseResult{Position: position, Legs: results}, nil
	}

	// All legs confirmed; flip the position. Realized P&L stays at zero
	// until fill reconciliation lands (see DESIGN.md).
	now := o.now()
	status := domain.PositionStatusClosed
	pnl := "0"
	patch := domain.PositionPatch{
		Status:      &status,
		RealizedPnL: &pnl,
		ClosedAt:    &now,
	}
	if err := o.db.Positions().Update(ctx, positionID, patch); err != nil {
		return CloseResult{Position: position, Legs: results},
			fmt.Errorf("orchestrator: mark position closed: %w", err)
	}
	position.Status = status
	position.RealizedPnL = pnl
	position.ClosedAt = &now

	o.logger.Info("position closed",
		slog.String("position_id", positionID),
		slog.Int("legs", len(snapshots)),
	)
	return CloseResult{Position: position, Legs: results, Closed: true}, nil
}

// closeLeg resolves one leg's close parameters and submits the closing
// order. Never returns an error; failures land in the result for the
// caller's retry loop.
func (o *Orchestrator) closeLeg(ctx context.Context, owner string, snap domain.PositionSnapshot, override CloseOverride) LegCloseResult {
	res := LegCloseResult{
		SnapshotID: snap.ID,
		Venue:      string(snap.Venue),
		Symbol:     snap.Symbol,
	}
	fail := func(err error) LegCloseResult {
		o.logger.Warn("leg close failed",
			slog.String("snapshot_id", snap.ID),
			slog.String("venue", res.Venue),
			slog.String("symbol", res.Symbol),
			slog.String("error", err.Error()),
		)
		res.Err = err.Error()
		return res
	}

	client, err := o.venues.Get(snap.Venue)
	if err != nil {
		return fail(err)
	}
	acct, err := o.db.Accounts().GetByID(ctx, snap.AccountID)
	if err != nil {
		return fail(fmt.Errorf("account %s: %w", snap.AccountID, err))
	}

	market, err := o.closeMarket(ctx, client, snap, override)
	if err != nil {
		return fail(err)
	}

	side := snap.Side.CloseSide()
	req := domain.OrderRequest{
		Market:        market,
		Side:          side,
		Kind:          domain.OrderKindMarket,
		Size:          snap.Size,
		ReduceOnly:    snap.Side != domain.LegSideSpot,
		ClientOrderID: uuid.NewString(),
	}
	result, err := client.SubmitOrder(ctx, acct, req)
	if err != nil {
		return fail(err)
	}

	orderID := uuid.NewString()
	order := domain.Order{
		ID:           orderID,
		Owner:        owner,
		AccountID:    acct.ID,
		Venue:        snap.Venue,
		Symbol:       market.Symbol,
		MarketIndex:  market.Index,
		Side:         side,
		Kind:         domain.OrderKindMarket,
		Price:        result.Price,
		Size:         snap.Size,
		FilledSize:   result.FilledSize,
		AvgFillPrice: result.AvgFillPrice,
		Status:       orderStatusFor(result.Status),
		Nonce:        result.Nonce,
		ReduceOnly:   req.ReduceOnly,
		VenueOrderID: result.VenueOrderID,
		Raw:          result.Raw,
	}
	if err := o.db.Orders().Create(ctx, order); err != nil {
		o.logger.Error("close order ledger write failed",
			slog.String("venue_order_id", result.VenueOrderID),
			slog.String("error", err.Error()),
		)
	}
	res.OrderID = orderID
	res.VenueOrderID = result.VenueOrderID

	if result.Status == domain.SubmitRejected {
		res.Err = fmt.Sprintf("venue rejected: %s", result.Reason)
	}
	return res
}

// closeMarket reconstructs the market a leg was opened on. Snapshot
// metadata recorded at open time wins; overrides apply only when the
// metadata cannot be validated.
func (o *Orchestrator) closeMarket(ctx context.Context, client domain.VenueClient, snap domain.PositionSnapshot, override CloseOverride) (domain.MarketID, error) {
	if err := snap.Metadata.Validate(); err == nil {
		return snap.Metadata.MarketID(snap.Symbol), nil
	}
	ref := snap.Symbol
	spot := snap.Side == domain.LegSideSpot
	if override.MarketRef != "" {
		ref = override.MarketRef
		spot = override.Spot
	}
	market, err := client.ResolveMarket(ctx, ref, spot)
	if err != nil {
		return domain.MarketID{}, fmt.Errorf("resolve %q: %w", ref, err)
	}
	return market, nil
}
