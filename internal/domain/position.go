package domain

import "time"

// PositionKind distinguishes a plain single-venue position from a
// delta-neutral pair.
type PositionKind string

const (
	PositionKindSingle       PositionKind = "single"
	PositionKindDeltaNeutral PositionKind = "delta_neutral"
)

// PositionStatus tracks the position lifecycle.
type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

// LegSide is the exposure direction of one leg.
type LegSide string

const (
	LegSideLong  LegSide = "long"
	LegSideShort LegSide = "short"
	LegSideSpot  LegSide = "spot"
)

// IsLongish reports whether the side contributes long exposure. Spot
// holdings count as long for delta-neutral composition.
func (s LegSide) IsLongish() bool {
	return s == LegSideLong || s == LegSideSpot
}

// CloseSide returns the order side that reduces a leg with this exposure.
func (s LegSide) CloseSide() OrderSide {
	if s == LegSideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Position is a logical trade grouping, possibly spanning venues. A
// delta_neutral position holds exactly one long-or-spot leg and one short
// leg on the same underlying while open.
type Position struct {
	ID               string
	Owner            string
	Kind             PositionKind
	Name             string
	Status           PositionStatus
	CumulativePnL    string
	RealizedPnL      string
	FundingOptimized bool
	LastAlertAt      *time.Time
	Metadata         map[string]string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ClosedAt         *time.Time
}

// PositionPatch carries mutable Position fields for Update.
type PositionPatch struct {
	Status        *PositionStatus
	CumulativePnL *string
	RealizedPnL   *string
	LastAlertAt   *time.Time
	ClosedAt      *time.Time
}

// PositionSnapshot is one leg of a Position at entry time. Metadata carries
// the venue resolution data needed to close the leg later without
// re-deriving it.
type PositionSnapshot struct {
	ID               string
	PositionID       string
	Venue            Venue
	AccountID        string
	Symbol           string
	Side             LegSide
	EntryPrice       string
	MarkPrice        string
	LiquidationPrice string
	Size             string
	Notional         string
	OrderID          *string // nil for legs executed outside the orchestrator
	Metadata         SnapshotMetadata
	CreatedAt        time.Time
}
