package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedged/internal/domain"
)

// LegSpec is one requested leg of a position open.
type LegSpec struct {
	AccountID string
	Venue     domain.Venue
	Symbol    string // symbol or venue-specific market id
	Side      domain.LegSide
	Size      string
	Price     string           // empty for market execution
	Kind      domain.OrderKind // defaults to market
	SpotHint  bool
}

// OpenRequest opens a position from its legs.
type OpenRequest struct {
	Owner            string
	Name             string
	FundingOptimized bool
	Legs             []LegSpec
}

// Orchestrator runs the multi-leg open/close sagas. Venue placements are
// sequential and compensated on partial failure; local bookkeeping is
// transactional only with respect to itself.
type Orchestrator struct {
	db     domain.DB
	venues *VenueRegistry
	logger *slog.Logger
	now    func() time.Time
}

// New builds an orchestrator over the storage facade and venue registry.
func New(db domain.DB, venues *VenueRegistry, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		db:     db,
		venues: venues,
		logger: logger.With(slog.String("component", "orchestrator")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// resolvedLeg is a leg after market resolution and account lookup, before
// placement.
type resolvedLeg struct {
	spec    LegSpec
	client  domain.VenueClient
	account domain.TradingAccount
	market  domain.MarketID
	cloid   string
}

// placedLeg is a leg after successful venue placement. Its cancel ref is
// the compensation executed in reverse order if a later leg fails.
type placedLeg struct {
	resolvedLeg
	orderID string
	result  domain.SubmitResult
}

// Open validates the delta-neutral composition, places the legs
// sequentially, and on full success records the Position with one snapshot
// per leg in a single local transaction. On any leg failure every already
// placed leg gets exactly one best-effort compensating cancel and no
// Position is persisted; the venue orders remain the source of truth.
func (o *Orchestrator) Open(ctx context.Context, req OpenRequest) (domain.Position, []domain.PositionSnapshot, error) {
	resolved, err := o.resolveLegs(ctx, req)
	if err != nil {
		return domain.Position{}, nil, err
	}
	if err := validateComposition(resolved); err != nil {
		return domain.Position{}, nil, err
	}

	var placed []placedLeg
	for i, leg := range resolved {
		pl, err := o.placeLeg(ctx, req.Owner, leg)
		if err != nil {
			o.compensate(ctx, placed)
			return domain.Position{}, nil, fmt.Errorf("orchestrator: open leg %d (%s %s): %w",
				i+1, leg.spec.Venue, leg.market.Symbol, err)
		}
		placed = append(placed, pl)
	}

	position, snapshots, err := o.recordOpen(ctx, req, placed)
	if err != nil {
		// Placements are already irrevocable; report the bookkeeping
		// failure without touching venue state.
		return domain.Position{}, nil, fmt.Errorf("orchestrator: record position: %w", err)
	}
	o.logger.Info("position opened",
		slog.String("position_id", position.ID),
		slog.String("owner", req.Owner),
		slog.Int("legs", len(snapshots)),
	)
	return position, snapshots, nil
}

func (o *Orchestrator) resolveLegs(ctx context.Context, req OpenRequest) ([]resolvedLeg, error) {
	if len(req.Legs) < 2 {
		return nil, fmt.Errorf("orchestrator: need at least 2 legs, got %d: %w",
			len(req.Legs), domain.ErrInvalidLegs)
	}

	resolved := make([]resolvedLeg, 0, len(req.Legs))
	for i, spec := range req.Legs {
		client, err := o.venues.Get(spec.Venue)
		if err != nil {
			return nil, err
		}
		acct, err := o.db.Accounts().GetByID(ctx, spec.AccountID)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: leg %d account %s: %w", i+1, spec.AccountID, err)
		}
		if acct.Owner != req.Owner {
			return nil, fmt.Errorf("orchestrator: leg %d account %s: %w",
				i+1, spec.AccountID, domain.ErrUnauthorized)
		}
		spotHint := spec.SpotHint || spec.Side == domain.LegSideSpot
		market, err := client.ResolveMarket(ctx, spec.Symbol, spotHint)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: leg %d resolve %q: %w", i+1, spec.Symbol, err)
		}
		if market.IsSpot && spec.Side == domain.LegSideShort {
			return nil, fmt.Errorf("orchestrator: leg %d: spot market %s cannot be the short side: %w",
				i+1, market.Symbol, domain.ErrInvalidLegs)
		}
		resolved = append(resolved, resolvedLeg{
			spec:    spec,
			client:  client,
			account: acct,
			market:  market,
			cloid:   uuid.NewString(),
		})
	}
	return resolved, nil
}

// validateComposition enforces the delta-neutral invariant: one long-or-spot
// leg, one short leg, same underlying asset.
func validateComposition(legs []resolvedLeg) error {
	underlying := underlyingOf(legs[0].market.Symbol)
	longish, short := 0, 0
	for _, leg := range legs {
		if u := underlyingOf(leg.market.Symbol); u != underlying {
			return fmt.Errorf("orchestrator: legs span underlyings %s and %s: %w",
				underlying, u, domain.ErrInvalidLegs)
		}
		switch {
		case leg.spec.Side.IsLongish():
			longish++
		case leg.spec.Side == domain.LegSideShort:
			short++
		default:
			return fmt.Errorf("orchestrator: unknown leg side %q: %w",
				leg.spec.Side, domain.ErrInvalidLegs)
		}
	}
	if longish != 1 || short != 1 {
		return fmt.Errorf("orchestrator: need exactly one long-or-spot and one short leg, got %d/%d: %w",
			longish, short, domain.ErrInvalidLegs)
	}
	return nil
}

// underlyingOf strips the market-type suffix so BTC, BTC-PERP and BTC/USDC
// all compare equal.
func underlyingOf(symbol string) string {
	s := strings.ToUpper(symbol)
	if i := strings.IndexAny(s, "-/"); i > 0 {
		s = s[:i]
	}
	return s
}

// placeLeg submits one leg and records its Order. A venue rejection is
// recorded as a rejected order and returned as ErrVenueRejected so the
// caller can unwind.
func (o *Orchestrator) placeLeg(ctx context.Context, owner string, leg resolvedLeg) (placedLeg, error) {
	kind := leg.spec.Kind
	if kind == "" {
		kind = domain.OrderKindMarket
	}
	side := domain.OrderSideSell
	if leg.spec.Side.IsLongish() {
		side = domain.OrderSideBuy
	}

	req := domain.OrderRequest{
		Market:        leg.market,
		Side:          side,
		Kind:          kind,
		Price:         leg.spec.Price,
		Size:          leg.spec.Size,
		ClientOrderID: leg.cloid,
	}
	result, err := leg.client.SubmitOrder(ctx, leg.account, req)
	if err != nil {
		return placedLeg{}, err
	}

	orderID := uuid.NewString()
	order := domain.Order{
		ID:           orderID,
		Owner:        owner,
		AccountID:    leg.account.ID,
		Venue:        leg.spec.Venue,
		Symbol:       leg.market.Symbol,
		MarketIndex:  leg.market.Index,
		Side:         side,
		Kind:         kind,
		Price:        result.Price,
		Size:         leg.spec.Size,
		FilledSize:   result.FilledSize,
		AvgFillPrice: result.AvgFillPrice,
		Status:       orderStatusFor(result.Status),
		Nonce:        result.Nonce,
		VenueOrderID: result.VenueOrderID,
		Raw:          result.Raw,
	}
	if err := o.db.Orders().Create(ctx, order); err != nil {
		o.logger.Error("order ledger write failed",
			slog.String("venue", string(leg.spec.Venue)),
			slog.String("venue_order_id", result.VenueOrderID),
			slog.String("error", err.Error()),
		)
	}

	if result.Status == domain.SubmitRejected {
		return placedLeg{}, fmt.Errorf("venue rejected: %s: %w", result.Reason, domain.ErrVenueRejected)
	}
	return placedLeg{resolvedLeg: leg, orderID: orderID, result: result}, nil
}

func orderStatusFor(s domain.SubmitStatus) domain.OrderStatus {
	switch s {
	case domain.SubmitFilled:
		return domain.OrderStatusFilled
	case domain.SubmitResting:
		return domain.OrderStatusOpen
	default:
		return domain.OrderStatusRejected
	}
}

// compensate cancels already-placed legs in reverse order, exactly one
// attempt per leg. Cancel failures are logged, never escalated: the venue,
// not the local ledger, is authoritative for those orders.
func (o *Orchestrator) compensate(ctx context.Context, placed []placedLeg) {
	for i := len(placed) - 1; i >= 0; i-- {
		leg := placed[i]
		ref := domain.CancelRef{
			Market:        leg.market,
			VenueOrderID:  leg.result.VenueOrderID,
			ClientOrderID: leg.cloid,
		}
		if err := leg.client.SubmitCancel(ctx, leg.account, ref); err != nil {
			o.logger.Warn("compensating cancel failed, venue order may remain",
				slog.String("venue", string(leg.spec.Venue)),
				slog.String("venue_order_id", leg.result.VenueOrderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		status := domain.OrderStatusCancelled
		if err := o.db.Orders().Update(ctx, leg.orderID, domain.OrderPatch{Status: &status}); err != nil {
			o.logger.Warn("cancelled order status update failed",
				slog.String("order_id", leg.orderID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// recordOpen writes the Position and its snapshots in one local transaction.
func (o *Orchestrator) recordOpen(ctx context.Context, req OpenRequest, placed []placedLeg) (domain.Position, []domain.PositionSnapshot, error) {
	now := o.now()
	position := domain.Position{
		ID:               uuid.NewString(),
		Owner:            req.Owner,
		Kind:             domain.PositionKindDeltaNeutral,
		Name:             req.Name,
		Status:           domain.PositionStatusOpen,
		CumulativePnL:    "0",
		RealizedPnL:      "0",
		FundingOptimized: req.FundingOptimized,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	snapshots := make([]domain.PositionSnapshot, 0, len(placed))
	for _, leg := range placed {
		entry := leg.result.AvgFillPrice
		if entry == "" || entry == "0" {
			entry = leg.result.Price
		}
		orderID := leg.orderID
		snapshots = append(snapshots, domain.PositionSnapshot{
			ID:         uuid.NewString(),
			PositionID: position.ID,
			Venue:      leg.spec.Venue,
			AccountID:  leg.account.ID,
			Symbol:     leg.market.Symbol,
			Side:       leg.spec.Side,
			EntryPrice: entry,
			Size:       leg.spec.Size,
			Notional:   notionalOf(entry, leg.spec.Size),
			OrderID:    &orderID,
			Metadata:   domain.NewSnapshotMetadata(leg.market, leg.cloid, leg.account.MasterAddress()),
			CreatedAt:  now,
		})
	}

	err := o.db.WithTx(ctx, func(s domain.Stores) error {
		if err := s.Positions().Create(ctx, position); err != nil {
			return err
		}
		for _, snap := range snapshots {
			if err := s.Positions().CreateSnapshot(ctx, snap); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Position{}, nil, err
	}
	return position, snapshots, nil
}

func notionalOf(price, size string) string {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return "0"
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return "0"
	}
	return p.Mul(s).String()
}

// Get loads a position with its snapshots, enforcing ownership.
func (o *Orchestrator) Get(ctx context.Context, owner, positionID string) (domain.Position, []domain.PositionSnapshot, error) {
	position, snapshots, err := o.db.Positions().GetWithSnapshots(ctx, positionID)
	if err != nil {
		return domain.Position{}, nil, err
	}
	if position.Owner != owner {
		return domain.Position{}, nil, domain.ErrUnauthorized
	}
	return position, snapshots, nil
}

// List returns the owner's positions.
func (o *Orchestrator) List(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	return o.db.Positions().ListByOwner(ctx, owner, opts)
}

// Delete removes local bookkeeping for a position. It never touches venue
// state and is permitted regardless of position status.
func (o *Orchestrator) Delete(ctx context.Context, owner, positionID string) error {
	position, _, err := o.db.Positions().GetWithSnapshots(ctx, positionID)
	if err != nil {
		return err
	}
	if position.Owner != owner {
		return domain.ErrUnauthorized
	}
	if err := o.db.Positions().Delete(ctx, positionID); err != nil {
		return err
	}
	o.logger.Info("position deleted",
		slog.String("position_id", positionID),
		slog.String("owner", owner),
	)
	return nil
}
