package nonce

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/hedged/internal/domain"
)

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]domain.TradingAccount // keyed by address
	updates  map[string][]int64               // account id -> committed nonces
	failGet  bool
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		accounts: make(map[string]domain.TradingAccount),
		updates:  make(map[string][]int64),
	}
}

func (f *fakeAccounts) GetByAddress(_ context.Context, _ domain.Venue, address string) (domain.TradingAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return domain.TradingAccount{}, errors.New("store down")
	}
	a, ok := f.accounts[address]
	if !ok {
		return domain.TradingAccount{}, domain.ErrNotFound
	}
	return a, nil
}

func (f *fakeAccounts) Update(_ context.Context, id string, patch domain.AccountPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if patch.LastNonce != nil {
		f.updates[id] = append(f.updates[id], *patch.LastNonce)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestNextConcurrentStrictlyIncreasing(t *testing.T) {
	store := newFakeAccounts()
	store.accounts["0xabc"] = domain.TradingAccount{ID: "acct-1", Address: "0xabc"}
	seq := NewSequencer(domain.VenueHyperliquid, store, testLogger())

	const n = 1000
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		values = make([]int64, 0, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := seq.Next(context.Background(), "0xabc")
			mu.Lock()
			values = append(values, v)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(values) != n {
		t.Fatalf("got %d values, want %d", len(values), n)
	}
	seen := make(map[int64]bool, n)
	nowMs := time.Now().UnixMilli()
	for _, v := range values {
		if seen[v] {
			t.Fatalf("duplicate nonce %d", v)
		}
		seen[v] = true
		if v <= nowMs-pastWindow.Milliseconds() || v >= nowMs+futureWindow.Milliseconds() {
			t.Fatalf("nonce %d outside acceptance window around %d", v, nowMs)
		}
	}
}

func TestNextSequentialMonotonic(t *testing.T) {
	store := newFakeAccounts()
	store.accounts["0xabc"] = domain.TradingAccount{ID: "acct-1", Address: "0xabc"}
	seq := NewSequencer(domain.VenueHyperliquid, store, testLogger())

	prev := int64(0)
	for i := 0; i < 100; i++ {
		v := seq.Next(context.Background(), "0xabc")
		if v <= prev {
			t.Fatalf("nonce %d not greater than previous %d", v, prev)
		}
		prev = v
	}
}

func TestNextSeedsFromPersistedValue(t *testing.T) {
	future := time.Now().Add(10 * time.Minute).UnixMilli()
	store := newFakeAccounts()
	store.accounts["0xabc"] = domain.TradingAccount{ID: "acct-1", Address: "0xabc", LastNonce: &future}
	seq := NewSequencer(domain.VenueHyperliquid, store, testLogger())

	v := seq.Next(context.Background(), "0xabc")
	if v != future+1 {
		t.Fatalf("got %d, want persisted+1 = %d", v, future+1)
	}
}

func TestNextResetsStaleSeed(t *testing.T) {
	stale := time.Now().Add(-3 * 24 * time.Hour).UnixMilli()
	store := newFakeAccounts()
	store.accounts["0xabc"] = domain.TradingAccount{ID: "acct-1", Address: "0xabc", LastNonce: &stale}
	seq := NewSequencer(domain.VenueHyperliquid, store, testLogger())

	before := time.Now().UnixMilli()
	v := seq.Next(context.Background(), "0xabc")
	if v < before {
		t.Fatalf("stale persisted nonce should reset to now; got %d < %d", v, before)
	}
}

func TestNextFallsBackOnLookupError(t *testing.T) {
	store := newFakeAccounts()
	store.failGet = true
	seq := NewSequencer(domain.VenueHyperliquid, store, testLogger())

	before := time.Now().UnixMilli()
	v := seq.Next(context.Background(), "0xabc")
	if v < before {
		t.Fatalf("lookup failure should fall back to now; got %d < %d", v, before)
	}
}

func TestCommitPersistsAfterUse(t *testing.T) {
	store := newFakeAccounts()
	store.accounts["0xabc"] = domain.TradingAccount{ID: "acct-1", Address: "0xabc"}
	seq := NewSequencer(domain.VenueHyperliquid, store, testLogger())

	v := seq.Next(context.Background(), "0xabc")
	if got := len(store.updates["acct-1"]); got != 0 {
		t.Fatalf("Next must not persist; saw %d updates", got)
	}

	seq.Commit(context.Background(), "0xabc", v)
	got := store.updates["acct-1"]
	if len(got) != 1 || got[0] != v {
		t.Fatalf("commit should persist %d exactly once, saw %v", v, got)
	}
}
