package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketID is a venue-resolved market: the symbol the caller named plus
// the numeric indices the venue actually keys orders by. Venues index the
// same underlying differently, so a MarketID is only meaningful on the
// venue that resolved it.
type MarketID struct {
	Symbol     string
	Index      int  // market index used in order payloads; spot markets use an offset namespace
	AssetIndex int  // underlying asset index
	IsSpot     bool
	SzDecimals int             // size precision the venue enforces
	TickSize   decimal.Decimal // minimum price increment; zero when unknown
}

// FundingRate is the current funding rate for one market on one venue.
// Sign convention: positive means longs pay shorts.
type FundingRate struct {
	Venue  Venue
	Symbol string
	Rate   decimal.Decimal
	At     time.Time
}

// MarketKey identifies a (venue, market) pair for batch funding fetches.
type MarketKey struct {
	Venue  Venue
	Symbol string
}
