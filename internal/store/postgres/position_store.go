package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/hedged/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	q querier
}

const positionSelectCols = `id, owner_id, kind, name, status, cumulative_pnl,
	realized_pnl, funding_optimized, last_alert_at, metadata,
	created_at, updated_at, closed_at`

const snapshotSelectCols = `id, position_id, venue, account_id, symbol, side,
	entry_price, mark_price, liquidation_price, size, notional, order_id,
	metadata, created_at`

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	meta, err := marshalStringMap(p.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: encode position metadata: %w", err)
	}

	const query = `
		INSERT INTO positions (
			id, owner_id, kind, name, status, cumulative_pnl, realized_pnl,
			funding_optimized, last_alert_at, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = s.q.Exec(ctx, query,
		p.ID, p.Owner, string(p.Kind), p.Name, string(p.Status),
		zeroDefault(p.CumulativePnL), zeroDefault(p.RealizedPnL),
		p.FundingOptimized, p.LastAlertAt, meta,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// CreateSnapshot inserts one leg snapshot.
func (s *PositionStore) CreateSnapshot(ctx context.Context, snap domain.PositionSnapshot) error {
	meta, err := json.Marshal(snap.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: encode snapshot metadata: %w", err)
	}

	const query = `
		INSERT INTO position_snapshots (
			id, position_id, venue, account_id, symbol, side,
			entry_price, mark_price, liquidation_price, size, notional,
			order_id, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = s.q.Exec(ctx, query,
		snap.ID, snap.PositionID, string(snap.Venue), snap.AccountID,
		snap.Symbol, string(snap.Side),
		zeroDefault(snap.EntryPrice), zeroDefault(snap.MarkPrice),
		zeroDefault(snap.LiquidationPrice), zeroDefault(snap.Size),
		zeroDefault(snap.Notional), snap.OrderID, meta,
	)
	if err != nil {
		return fmt.Errorf("postgres: create snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// GetWithSnapshots loads a position and all of its leg snapshots.
func (s *PositionStore) GetWithSnapshots(ctx context.Context, id string) (domain.Position, []domain.PositionSnapshot, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, nil, domain.ErrNotFound
		}
		return domain.Position{}, nil, fmt.Errorf("postgres: get position %s: %w", id, err)
	}

	rows, err := s.q.Query(ctx,
		`SELECT `+snapshotSelectCols+` FROM position_snapshots
		 WHERE position_id = $1 ORDER BY created_at ASC`, id)
	if err != nil {
		return domain.Position{}, nil, fmt.Errorf("postgres: list snapshots for %s: %w", id, err)
	}
	defer rows.Close()

	var snaps []domain.PositionSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return domain.Position{}, nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return p, snaps, rows.Err()
}

// Update patches mutable position fields.
func (s *PositionStore) Update(ctx context.Context, id string, patch domain.PositionPatch) error {
	query := `UPDATE positions SET updated_at = NOW()`
	args := []any{id}
	argIdx := 2

	if patch.Status != nil {
		query += fmt.Sprintf(", status = $%d", argIdx)
		args = append(args, string(*patch.Status))
		argIdx++
	}
	if patch.CumulativePnL != nil {
		query += fmt.Sprintf(", cumulative_pnl = $%d", argIdx)
		args = append(args, *patch.CumulativePnL)
		argIdx++
	}
	if patch.RealizedPnL != nil {
		query += fmt.Sprintf(", realized_pnl = $%d", argIdx)
		args = append(args, *patch.RealizedPnL)
		argIdx++
	}
	if patch.LastAlertAt != nil {
		query += fmt.Sprintf(", last_alert_at = $%d", argIdx)
		args = append(args, *patch.LastAlertAt)
		argIdx++
	}
	if patch.ClosedAt != nil {
		query += fmt.Sprintf(", closed_at = $%d", argIdx)
		args = append(args, *patch.ClosedAt)
		argIdx++
	}
	query += " WHERE id = $1"

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByOwner returns the owner's positions, newest first.
func (s *PositionStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE owner_id = $1 ORDER BY created_at DESC`
	args := []any{owner}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.listPositions(ctx, query, args...)
}

// ListOpenFundingOptimized returns every open position enrolled in
// funding optimization, for the rebalance engine.
func (s *PositionStore) ListOpenFundingOptimized(ctx context.Context) ([]domain.Position, error) {
	return s.listPositions(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open' AND funding_optimized = TRUE
		 ORDER BY created_at ASC`)
}

// Delete removes a position; snapshots cascade, orders survive.
func (s *PositionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PositionStore) listPositions(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p            domain.Position
		kind, status string
		meta         []byte
	)
	err := row.Scan(
		&p.ID, &p.Owner, &kind, &p.Name, &status, &p.CumulativePnL,
		&p.RealizedPnL, &p.FundingOptimized, &p.LastAlertAt, &meta,
		&p.CreatedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Kind = domain.PositionKind(kind)
	p.Status = domain.PositionStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return domain.Position{}, fmt.Errorf("decode position metadata: %w", err)
		}
	}
	return p, nil
}

func scanSnapshot(row pgx.Row) (domain.PositionSnapshot, error) {
	var (
		snap        domain.PositionSnapshot
		venue, side string
		meta        []byte
	)
	err := row.Scan(
		&snap.ID, &snap.PositionID, &venue, &snap.AccountID, &snap.Symbol, &side,
		&snap.EntryPrice, &snap.MarkPrice, &snap.LiquidationPrice,
		&snap.Size, &snap.Notional, &snap.OrderID, &meta, &snap.CreatedAt,
	)
	if err != nil {
		return domain.PositionSnapshot{}, err
	}
	snap.Venue = domain.Venue(venue)
	snap.Side = domain.LegSide(side)
	if len(meta) > 0 {
		decoded, err := domain.DecodeSnapshotMetadata(meta)
		if err != nil {
			return domain.PositionSnapshot{}, err
		}
		snap.Metadata = decoded
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
