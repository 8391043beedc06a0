package domain

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Venue tags a trading venue integration.
type Venue string

const (
	VenueHyperliquid Venue = "hyperliquid"
	VenueDrift       Venue = "drift"
)

// OrderRequest is a venue-agnostic order instruction. Price is a decimal
// string; an empty Price on a market order tells the venue client to pull a
// live reference price before formatting (a literal zero price is never
// submitted).
type OrderRequest struct {
	Market        MarketID
	Side          OrderSide
	Kind          OrderKind
	Price         string
	Size          string
	ReduceOnly    bool
	ClientOrderID string
}

// SubmitStatus is the interpreted outcome of an order submission.
type SubmitStatus string

const (
	SubmitResting  SubmitStatus = "resting"
	SubmitFilled   SubmitStatus = "filled"
	SubmitRejected SubmitStatus = "rejected"
)

// SubmitResult is the interpreted venue response to an order submission.
// Raw preserves the venue payload verbatim for the order ledger.
type SubmitResult struct {
	Status       SubmitStatus
	VenueOrderID string
	AvgFillPrice string
	FilledSize   string
	Price        string // the price actually submitted after normalization
	Nonce        int64
	Reason       string
	Raw          json.RawMessage
}

// CancelRef identifies an order to cancel on a venue. Either the venue
// order id or the client order id must be set.
type CancelRef struct {
	Market        MarketID
	VenueOrderID  string
	ClientOrderID string
}

// VenuePosition is a venue-held position as reported by the venue itself.
// Used only for legacy positions not opened through the orchestrator.
type VenuePosition struct {
	Symbol     string
	Size       decimal.Decimal // signed: negative is short
	EntryPrice decimal.Decimal
}

// VenueClient is the capability interface every venue integration
// implements. Implementations sign requests binding the account address,
// the signing nonce, and the exact action payload; a mismatch between the
// signing key's derived address and the account's recorded address is
// ErrCredentialMismatch and is never retried.
type VenueClient interface {
	Venue() Venue

	// ResolveMarket maps a symbol or venue-specific id to a MarketID.
	// Returns ErrUnknownMarket when unresolvable.
	ResolveMarket(ctx context.Context, symbolOrID string, spotHint bool) (MarketID, error)

	// NormalizePrice rounds raw to the venue's allowed decimal places for
	// the market and snaps to the market tick where known. It never fails;
	// out-of-range inputs are clamped.
	NormalizePrice(raw decimal.Decimal, m MarketID) string

	// QuoteMarketPrice computes a marketable reference price for synthetic
	// market orders: reference (oracle, then mid, then last) plus a
	// slippage offset in the direction that guarantees immediate execution.
	QuoteMarketPrice(ctx context.Context, m MarketID, side OrderSide, reduceOnly bool) (string, error)

	// SubmitOrder signs and submits an order on behalf of the account.
	SubmitOrder(ctx context.Context, acct TradingAccount, req OrderRequest) (SubmitResult, error)

	// SubmitCancel signs and submits a cancel for a previously placed order.
	SubmitCancel(ctx context.Context, acct TradingAccount, ref CancelRef) error

	// QueryPosition returns the venue-held position for an address.
	QueryPosition(ctx context.Context, address string, m MarketID) (VenuePosition, error)
}
