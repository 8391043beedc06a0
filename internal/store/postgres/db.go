package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/hedged/internal/domain"
)

// querier is the intersection of pgxpool.Pool and pgx.Tx the stores use,
// so the same store code runs inside and outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB implements domain.DB on a pgx pool.
type DB struct {
	q    querier
	pool *pgxpool.Pool // nil when bound to a transaction
}

// NewDB creates the storage facade over an established client.
func NewDB(client *Client) *DB {
	return &DB{q: client.Pool(), pool: client.Pool()}
}

// Accounts implements domain.Stores.
func (d *DB) Accounts() domain.AccountStore { return &AccountStore{q: d.q} }

// Orders implements domain.Stores.
func (d *DB) Orders() domain.OrderStore { return &OrderStore{q: d.q} }

// Positions implements domain.Stores.
func (d *DB) Positions() domain.PositionStore { return &PositionStore{q: d.q} }

// WithTx runs fn with a store bundle bound to a single transaction,
// committing on nil error and rolling back otherwise.
func (d *DB) WithTx(ctx context.Context, fn func(domain.Stores) error) error {
	if d.pool == nil {
		return fmt.Errorf("postgres: nested WithTx is not supported")
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	if err := fn(&DB{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.DB = (*DB)(nil)
