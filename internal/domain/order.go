package domain

import (
	"encoding/json"
	"time"
)

// OrderSide indicates order direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderKind is the venue order type.
type OrderKind string

const (
	OrderKindMarket  OrderKind = "market"
	OrderKindLimit   OrderKind = "limit"
	OrderKindTrigger OrderKind = "trigger"
	OrderKindOracle  OrderKind = "oracle"
)

// OrderStatus tracks the order lifecycle. Terminal statuses are absorbing;
// see CanTransition.
type OrderStatus string

const (
	OrderStatusPending            OrderStatus = "pending"
	OrderStatusOpen               OrderStatus = "open"
	OrderStatusFilled             OrderStatus = "filled"
	OrderStatusCancelled          OrderStatus = "cancelled"
	OrderStatusRejected           OrderStatus = "rejected"
	OrderStatusFailed             OrderStatus = "failed"
	OrderStatusTriggered          OrderStatus = "triggered"
	OrderStatusMarginCanceled     OrderStatus = "marginCanceled"
	OrderStatusLiquidatedCanceled OrderStatus = "liquidatedCanceled"
	OrderStatusExpired            OrderStatus = "expired"
)

// Terminal reports whether the status is absorbing.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected,
		OrderStatusFailed, OrderStatusTriggered, OrderStatusMarginCanceled,
		OrderStatusLiquidatedCanceled, OrderStatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether the status state machine permits from → to.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case OrderStatusPending:
		switch to {
		case OrderStatusOpen, OrderStatusFilled, OrderStatusRejected, OrderStatusFailed:
			return true
		}
	case OrderStatusOpen:
		switch to {
		case OrderStatusFilled, OrderStatusCancelled, OrderStatusTriggered,
			OrderStatusMarginCanceled, OrderStatusLiquidatedCanceled, OrderStatusExpired:
			return true
		}
	}
	return false
}

// Order is one signed instruction submitted to one venue. Prices and sizes
// are decimal strings; venue price domains run to 30 significant digits and
// do not survive float64.
type Order struct {
	ID           string
	Owner        string
	AccountID    string
	Venue        Venue
	Symbol       string
	MarketIndex  int
	Side         OrderSide
	Kind         OrderKind
	Price        string
	Size         string
	FilledSize   string
	AvgFillPrice string
	Status       OrderStatus
	Nonce        int64
	ReduceOnly   bool
	VenueOrderID string
	Raw          json.RawMessage // raw venue response, kept for reconciliation
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OrderPatch carries mutable Order fields for Update. Nil fields are left
// untouched.
type OrderPatch struct {
	Status       *OrderStatus
	FilledSize   *string
	AvgFillPrice *string
	VenueOrderID *string
	Raw          json.RawMessage
}

// OrderFilter narrows Query results.
type OrderFilter struct {
	Owner     string
	AccountID string
	Venue     Venue
	Symbol    string
	Statuses  []OrderStatus
	Limit     int
	Offset    int
}
