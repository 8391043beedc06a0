package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/hedged/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	q querier
}

const orderSelectCols = `id, owner_id, account_id, venue, symbol, market_index,
	side, kind, price, size, filled_size, avg_fill_price, status, nonce,
	reduce_only, venue_order_id, raw_response, created_at, updated_at`

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, owner_id, account_id, venue, symbol, market_index,
			side, kind, price, size, filled_size, avg_fill_price,
			status, nonce, reduce_only, venue_order_id, raw_response
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17
		)`
	_, err := s.q.Exec(ctx, query,
		o.ID, o.Owner, o.AccountID, string(o.Venue), o.Symbol, o.MarketIndex,
		string(o.Side), string(o.Kind), zeroDefault(o.Price), zeroDefault(o.Size),
		zeroDefault(o.FilledSize), zeroDefault(o.AvgFillPrice),
		string(o.Status), o.Nonce, o.ReduceOnly, o.VenueOrderID, nullableRaw(o.Raw),
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// Update patches mutable order fields. Terminal orders are immutable: the
// guard clause refuses status writes that the state machine forbids.
func (s *OrderStore) Update(ctx context.Context, id string, patch domain.OrderPatch) error {
	if patch.Status != nil {
		current, err := s.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != *patch.Status && !domain.CanTransition(current.Status, *patch.Status) {
			return fmt.Errorf("postgres: order %s: illegal status transition %s -> %s",
				id, current.Status, *patch.Status)
		}
	}

	query := `UPDATE orders SET updated_at = NOW()`
	args := []any{id}
	argIdx := 2

	if patch.Status != nil {
		query += fmt.Sprintf(", status = $%d", argIdx)
		args = append(args, string(*patch.Status))
		argIdx++
	}
	if patch.FilledSize != nil {
		query += fmt.Sprintf(", filled_size = $%d", argIdx)
		args = append(args, *patch.FilledSize)
		argIdx++
	}
	if patch.AvgFillPrice != nil {
		query += fmt.Sprintf(", avg_fill_price = $%d", argIdx)
		args = append(args, *patch.AvgFillPrice)
		argIdx++
	}
	if patch.VenueOrderID != nil {
		query += fmt.Sprintf(", venue_order_id = $%d", argIdx)
		args = append(args, *patch.VenueOrderID)
		argIdx++
	}
	if patch.Raw != nil {
		query += fmt.Sprintf(", raw_response = $%d", argIdx)
		args = append(args, []byte(patch.Raw))
		argIdx++
	}
	query += " WHERE id = $1"

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single order.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// Query lists orders matching the filter, newest first.
func (s *OrderStore) Query(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE 1=1`
	args := []any{}
	argIdx := 1

	add := func(clause string, v any) {
		query += fmt.Sprintf(clause, argIdx)
		args = append(args, v)
		argIdx++
	}
	if f.Owner != "" {
		add(" AND owner_id = $%d", f.Owner)
	}
	if f.AccountID != "" {
		add(" AND account_id = $%d", f.AccountID)
	}
	if f.Venue != "" {
		add(" AND venue = $%d", string(f.Venue))
	}
	if f.Symbol != "" {
		add(" AND symbol = $%d", f.Symbol)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			statuses = append(statuses, string(st))
		}
		add(" AND status = ANY($%d)", statuses)
	}

	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		add(" LIMIT $%d", f.Limit)
	}
	if f.Offset > 0 {
		add(" OFFSET $%d", f.Offset)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                        domain.Order
		venue, side, kind, state string
		raw                      []byte
	)
	err := row.Scan(
		&o.ID, &o.Owner, &o.AccountID, &venue, &o.Symbol, &o.MarketIndex,
		&side, &kind, &o.Price, &o.Size, &o.FilledSize, &o.AvgFillPrice,
		&state, &o.Nonce, &o.ReduceOnly, &o.VenueOrderID, &raw,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Venue = domain.Venue(venue)
	o.Side = domain.OrderSide(side)
	o.Kind = domain.OrderKind(kind)
	o.Status = domain.OrderStatus(state)
	o.Raw = raw
	return o, nil
}

func zeroDefault(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func nullableRaw(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)
