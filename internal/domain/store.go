package domain

import "context"

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// AccountStore persists trading accounts.
type AccountStore interface {
	Create(ctx context.Context, a TradingAccount) error
	GetByID(ctx context.Context, id string) (TradingAccount, error)
	GetByAddress(ctx context.Context, venue Venue, address string) (TradingAccount, error)
	Update(ctx context.Context, id string, patch AccountPatch) error
}

// OrderStore persists orders.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	Update(ctx context.Context, id string, patch OrderPatch) error
	GetByID(ctx context.Context, id string) (Order, error)
	Query(ctx context.Context, f OrderFilter) ([]Order, error)
}

// PositionStore persists positions and their snapshots. Deleting a
// position cascades to its snapshots; orders are never cascade-deleted
// (snapshots reference them weakly).
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	CreateSnapshot(ctx context.Context, s PositionSnapshot) error
	GetWithSnapshots(ctx context.Context, id string) (Position, []PositionSnapshot, error)
	Update(ctx context.Context, id string, patch PositionPatch) error
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]Position, error)
	ListOpenFundingOptimized(ctx context.Context) ([]Position, error)
	Delete(ctx context.Context, id string) error
}

// Stores bundles the per-entity stores. Inside WithTx the bundle is bound
// to the transaction.
type Stores interface {
	Accounts() AccountStore
	Orders() OrderStore
	Positions() PositionStore
}

// DB is the storage collaborator contract. WithTx runs fn inside a single
// local transaction; it is never expected to span an external venue call.
type DB interface {
	Stores
	WithTx(ctx context.Context, fn func(Stores) error) error
}
