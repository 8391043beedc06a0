// Package nonce issues replay-safe signing sequences. Venues accept a
// nonce only inside a sliding time window around their clock, and reject
// any value at or below the highest one already seen for an address, so
// the sequencer must be strictly monotonic per address and window-valid.
package nonce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/hedged/internal/domain"
)

const (
	// pastWindow / futureWindow bound the venue acceptance window
	// (now − pastWindow, now + futureWindow) for nonce values.
	pastWindow   = 2 * 24 * time.Hour
	futureWindow = 24 * time.Hour
)

// AccountLookup is the slice of the account store the sequencer needs:
// seeding from the persisted nonce and persisting it back after use.
type AccountLookup interface {
	GetByAddress(ctx context.Context, venue domain.Venue, address string) (domain.TradingAccount, error)
	Update(ctx context.Context, id string, patch domain.AccountPatch) error
}

// entry is the per-address state. Its mutex is the single-flight scope:
// holding it covers only the candidate computation, never venue I/O.
type entry struct {
	mu        sync.Mutex
	seeded    bool
	last      int64
	accountID string
}

// Sequencer issues strictly increasing, window-valid signing sequences per
// address for one venue. Values are unix-millisecond timestamps, advanced
// by one when issued faster than the clock.
type Sequencer struct {
	venue    domain.Venue
	accounts AccountLookup
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	now func() time.Time // injectable for tests
}

// NewSequencer creates a Sequencer for one venue backed by the account
// store.
func NewSequencer(venue domain.Venue, accounts AccountLookup, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		venue:    venue,
		accounts: accounts,
		entries:  make(map[string]*entry),
		logger:   logger.With(slog.String("component", "nonce"), slog.String("venue", string(venue))),
		now:      time.Now,
	}
}

func (s *Sequencer) entryFor(address string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[address]
	if !ok {
		e = &entry{}
		s.entries[address] = e
	}
	return e
}

// Next returns the next signing sequence for address. It never fails: on
// any lookup error it falls back to the current time, trading a slightly
// higher replay-rejection rate for never stalling order placement.
func (s *Sequencer) Next(ctx context.Context, address string) int64 {
	e := s.entryFor(address)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.seeded {
		s.seedLocked(ctx, e, address)
	}

	nowMs := s.now().UnixMilli()
	candidate := e.last + 1
	if nowMs > candidate {
		candidate = nowMs
	}
	if !s.inWindow(candidate, nowMs) {
		candidate = nowMs
	}

	e.last = candidate
	return candidate
}

// Commit persists the sequence back to the trading account record. Called
// after the signed request has been used, not before, so a crash between
// Next and use does not burn a sequence. Persistence failures are logged;
// the in-memory cache has already advanced, so monotonicity holds for the
// process lifetime regardless.
func (s *Sequencer) Commit(ctx context.Context, address string, seq int64) {
	e := s.entryFor(address)

	e.mu.Lock()
	accountID := e.accountID
	e.mu.Unlock()

	if accountID == "" {
		acct, err := s.accounts.GetByAddress(ctx, s.venue, address)
		if err != nil {
			s.logger.Warn("nonce commit: account lookup failed",
				slog.String("address", address),
				slog.String("error", err.Error()),
			)
			return
		}
		accountID = acct.ID
		e.mu.Lock()
		e.accountID = accountID
		e.mu.Unlock()
	}

	if err := s.accounts.Update(ctx, accountID, domain.AccountPatch{LastNonce: &seq}); err != nil {
		s.logger.Warn("nonce commit: persist failed",
			slog.String("address", address),
			slog.Int64("nonce", seq),
			slog.String("error", err.Error()),
		)
	}
}

// seedLocked initialises the entry from the persisted account nonce.
// Caller holds e.mu. No venue I/O happens here, only the one fallback
// store read.
func (s *Sequencer) seedLocked(ctx context.Context, e *entry, address string) {
	e.seeded = true
	nowMs := s.now().UnixMilli()
	e.last = nowMs - 1 // so max(last+1, now) starts at now

	acct, err := s.accounts.GetByAddress(ctx, s.venue, address)
	if err != nil {
		s.logger.Warn("nonce seed: account lookup failed, seeding from clock",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		return
	}
	e.accountID = acct.ID
	if acct.LastNonce != nil && s.inWindow(*acct.LastNonce, nowMs) {
		e.last = *acct.LastNonce
	}
}

// inWindow reports whether v lies inside the venue acceptance window
// around nowMs.
func (s *Sequencer) inWindow(v, nowMs int64) bool {
	return v > nowMs-pastWindow.Milliseconds() && v < nowMs+futureWindow.Milliseconds()
}
