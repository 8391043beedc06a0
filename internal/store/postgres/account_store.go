package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/hedged/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	q querier
}

const accountSelectCols = `id, owner_id, venue, address, kind, encrypted_key,
	last_nonce, metadata, created_at, updated_at`

// Create inserts a new trading account.
func (s *AccountStore) Create(ctx context.Context, a domain.TradingAccount) error {
	meta, err := marshalStringMap(a.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: encode account metadata: %w", err)
	}

	const query = `
		INSERT INTO trading_accounts (
			id, owner_id, venue, address, kind, encrypted_key, last_nonce, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.q.Exec(ctx, query,
		a.ID, a.Owner, string(a.Venue), a.Address, string(a.Kind),
		a.EncryptedKey, a.LastNonce, meta,
	)
	if err != nil {
		return fmt.Errorf("postgres: create account %s: %w", a.ID, err)
	}
	return nil
}

// GetByID retrieves an account by its id.
func (s *AccountStore) GetByID(ctx context.Context, id string) (domain.TradingAccount, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM trading_accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetByAddress retrieves an account by its venue-scoped address.
func (s *AccountStore) GetByAddress(ctx context.Context, venue domain.Venue, address string) (domain.TradingAccount, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM trading_accounts WHERE venue = $1 AND LOWER(address) = LOWER($2)`,
		string(venue), address)
	return scanAccount(row)
}

// Update patches mutable account fields. Nil patch fields are untouched.
func (s *AccountStore) Update(ctx context.Context, id string, patch domain.AccountPatch) error {
	query := `UPDATE trading_accounts SET updated_at = NOW()`
	args := []any{id}
	argIdx := 2

	if patch.LastNonce != nil {
		query += fmt.Sprintf(", last_nonce = $%d", argIdx)
		args = append(args, *patch.LastNonce)
		argIdx++
	}
	if patch.Metadata != nil {
		meta, err := marshalStringMap(patch.Metadata)
		if err != nil {
			return fmt.Errorf("postgres: encode account metadata: %w", err)
		}
		query += fmt.Sprintf(", metadata = $%d", argIdx)
		args = append(args, meta)
		argIdx++
	}
	query += " WHERE id = $1"

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update account %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (domain.TradingAccount, error) {
	var (
		a           domain.TradingAccount
		venue, kind string
		meta        []byte
	)
	err := row.Scan(
		&a.ID, &a.Owner, &venue, &a.Address, &kind, &a.EncryptedKey,
		&a.LastNonce, &meta, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradingAccount{}, domain.ErrNotFound
		}
		return domain.TradingAccount{}, fmt.Errorf("postgres: scan account: %w", err)
	}
	a.Venue = domain.Venue(venue)
	a.Kind = domain.AccountKind(kind)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return domain.TradingAccount{}, fmt.Errorf("postgres: decode account metadata: %w", err)
		}
	}
	return a, nil
}

func marshalStringMap(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

// Compile-time interface check.
var _ domain.AccountStore = (*AccountStore)(nil)
