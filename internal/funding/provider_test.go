package funding

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedged/internal/domain"
)

type stubSource struct {
	mu    sync.Mutex
	venue domain.Venue
	rates map[string]string
	calls int
}

func (s *stubSource) Venue() domain.Venue { return s.venue }

func (s *stubSource) FundingRate(_ context.Context, symbol string) (domain.FundingRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	raw, ok := s.rates[symbol]
	if !ok {
		return domain.FundingRate{}, domain.ErrUnknownMarket
	}
	rate, _ := decimal.NewFromString(raw)
	return domain.FundingRate{Venue: s.venue, Symbol: symbol, Rate: rate, At: time.Now()}, nil
}

type mapCache struct {
	mu    sync.Mutex
	rates map[domain.MarketKey]domain.FundingRate
}

func newMapCache() *mapCache {
	return &mapCache{rates: make(map[domain.MarketKey]domain.FundingRate)}
}

func (c *mapCache) Get(_ context.Context, key domain.MarketKey) (domain.FundingRate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rate, ok := c.rates[key]
	if !ok {
		return domain.FundingRate{}, domain.ErrNotFound
	}
	return rate, nil
}

func (c *mapCache) Set(_ context.Context, rate domain.FundingRate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[domain.MarketKey{Venue: rate.Venue, Symbol: rate.Symbol}] = rate
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRatesDeduplicatesKeys(t *testing.T) {
	src := &stubSource{venue: domain.VenueHyperliquid, rates: map[string]string{"BTC": "0.0001"}}
	p := NewProvider(nil, discardLogger(), src)

	key := domain.MarketKey{Venue: domain.VenueHyperliquid, Symbol: "BTC"}
	rates := p.Rates(context.Background(), []domain.MarketKey{key, key, key})
	if len(rates) != 1 {
		t.Fatalf("rates = %d entries, want 1", len(rates))
	}
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1 (deduplicated)", src.calls)
	}
	if !rates[key].Rate.Equal(decimal.RequireFromString("0.0001")) {
		t.Errorf("rate = %s, want 0.0001", rates[key].Rate)
	}
}

func TestRatesOmitsUnavailableMarkets(t *testing.T) {
	src := &stubSource{venue: domain.VenueHyperliquid, rates: map[string]string{"BTC": "0.0001"}}
	p := NewProvider(nil, discardLogger(), src)

	rates := p.Rates(context.Background(), []domain.MarketKey{
		{Venue: domain.VenueHyperliquid, Symbol: "BTC"},
		{Venue: domain.VenueHyperliquid, Symbol: "NOPE"},
		{Venue: domain.VenueDrift, Symbol: "BTC-PERP"}, // no source registered
	})
	if len(rates) != 1 {
		t.Fatalf("rates = %d entries, want 1", len(rates))
	}
}

func TestRatesReadsThroughCache(t *testing.T) {
	src := &stubSource{venue: domain.VenueHyperliquid, rates: map[string]string{"BTC": "0.0001"}}
	cache := newMapCache()
	p := NewProvider(cache, discardLogger(), src)

	key := domain.MarketKey{Venue: domain.VenueHyperliquid, Symbol: "BTC"}
	p.Rates(context.Background(), []domain.MarketKey{key})
	p.Rates(context.Background(), []domain.MarketKey{key})
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1 (second batch served from cache)", src.calls)
	}
}

func TestHyperliquidSourceParsesLatestEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"coin":"BTC","fundingRate":"0.0000100","time":1700000000000},
			{"coin":"BTC","fundingRate":"-0.0000125","time":1700003600000}
		]`)
	}))
	defer srv.Close()

	rate, err := NewHyperliquidSource(srv.URL).FundingRate(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("FundingRate: %v", err)
	}
	if !rate.Rate.Equal(decimal.RequireFromString("-0.0000125")) {
		t.Errorf("rate = %s, want latest entry -0.0000125", rate.Rate)
	}
	if rate.At.UnixMilli() != 1700003600000 {
		t.Errorf("At = %d, want 1700003600000", rate.At.UnixMilli())
	}
}

func TestHyperliquidSourceEmptyHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	_, err := NewHyperliquidSource(srv.URL).FundingRate(context.Background(), "BTC")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDriftSourceUnknownMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewDriftSource(srv.URL).FundingRate(context.Background(), "NOPE-PERP")
	if !errors.Is(err, domain.ErrUnknownMarket) {
		t.Fatalf("err = %v, want ErrUnknownMarket", err)
	}
}

func TestDriftSourceParsesRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/funding/BTC-PERP" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"symbol":"BTC-PERP","rate":"-0.0002","ts":1700003600000}`)
	}))
	defer srv.Close()

	rate, err := NewDriftSource(srv.URL).FundingRate(context.Background(), "BTC-PERP")
	if err != nil {
		t.Fatalf("FundingRate: %v", err)
	}
	if !rate.Rate.Equal(decimal.RequireFromString("-0.0002")) {
		t.Errorf("rate = %s, want -0.0002", rate.Rate)
	}
	if rate.Venue != domain.VenueDrift {
		t.Errorf("venue = %s, want drift", rate.Venue)
	}
}
