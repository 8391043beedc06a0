package drift

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedged/internal/domain"
	"github.com/alanyoungcy/hedged/internal/nonce"
)

// 32 zero-ish bytes; deterministic test seed, never a real key.
const testSeed = "0101010101010101010101010101010101010101010101010101010101010101"

type stubAccounts struct{}

func (stubAccounts) GetByAddress(context.Context, domain.Venue, string) (domain.TradingAccount, error) {
	return domain.TradingAccount{}, domain.ErrNotFound
}
func (stubAccounts) Update(context.Context, string, domain.AccountPatch) error { return nil }

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	seq := nonce.NewSequencer(domain.VenueDrift, stubAccounts{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c, err := New(baseURL, testSeed, seq, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func marketsHandler(t *testing.T) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"perp":[{"symbol":"BTC-PERP","marketIndex":0,"baseDecimals":9,"tickSize":"0.1"}],"spot":[{"symbol":"SOL","marketIndex":1,"baseDecimals":9,"tickSize":"0.001"}]}`)
	}
}

func TestResolveMarketNamespaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/markets" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		marketsHandler(t)(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)

	perp, err := c.ResolveMarket(context.Background(), "BTC", false)
	if err != nil {
		t.Fatalf("resolve perp: %v", err)
	}
	if perp.Symbol != "BTC-PERP" || perp.IsSpot {
		t.Fatalf("unexpected perp %+v", perp)
	}

	spot, err := c.ResolveMarket(context.Background(), "SOL", true)
	if err != nil {
		t.Fatalf("resolve spot: %v", err)
	}
	if !spot.IsSpot || spot.Index != 1 {
		t.Fatalf("unexpected spot %+v", spot)
	}

	if _, err := c.ResolveMarket(context.Background(), "DOGE", false); !errors.Is(err, domain.ErrUnknownMarket) {
		t.Fatalf("want ErrUnknownMarket, got %v", err)
	}
}

func TestNormalizePriceIdempotentAndClamped(t *testing.T) {
	c := testClient(t, "http://unused")
	m := domain.MarketID{Symbol: "BTC-PERP", TickSize: decimal.RequireFromString("0.1")}

	once := c.NormalizePrice(decimal.RequireFromString("64123.456789"), m)
	twice := c.NormalizePrice(decimal.RequireFromString(once), m)
	if once != twice {
		t.Fatalf("not idempotent: %s != %s", once, twice)
	}

	if got := c.NormalizePrice(decimal.Zero, m); got != "0.1" {
		t.Fatalf("zero input should clamp to one tick, got %s", got)
	}
}

func TestSubmitOrderSignsEnvelope(t *testing.T) {
	var envelope struct {
		Action    json.RawMessage `json:"action"`
		Nonce     int64           `json:"nonce"`
		Signature string          `json:"signature"`
		PublicKey string          `json:"publicKey"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/markets":
			marketsHandler(t)(w, r)
		case "/v2/orders":
			if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			io.WriteString(w, `{"success":true,"data":{"orderId":"42","status":"filled","avgPrice":"64000.5","filledSize":"1"}}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	acct := domain.TradingAccount{ID: "a", Venue: domain.VenueDrift, Address: c.Address()}

	res, err := c.SubmitOrder(context.Background(), acct, domain.OrderRequest{
		Market: domain.MarketID{Symbol: "BTC-PERP", Index: 0},
		Side:   domain.OrderSideSell,
		Kind:   domain.OrderKindLimit,
		Price:  "64000.5",
		Size:   "1",
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.Status != domain.SubmitFilled || res.VenueOrderID != "42" {
		t.Fatalf("unexpected result %+v", res)
	}
	if envelope.Nonce == 0 || envelope.Signature == "" || envelope.PublicKey == "" {
		t.Fatalf("envelope missing signing fields: %+v", envelope)
	}

	var inst placeInstruction
	if err := json.Unmarshal(envelope.Action, &inst); err != nil {
		t.Fatalf("decode instruction: %v", err)
	}
	if inst.Direction != "short" || inst.Price != "64000.5" {
		t.Fatalf("unexpected instruction %+v", inst)
	}
}

func TestSubmitOrderCredentialMismatch(t *testing.T) {
	c := testClient(t, "http://unused")
	acct := domain.TradingAccount{ID: "a", Venue: domain.VenueDrift, Address: "0xdeadbeef"}

	_, err := c.SubmitOrder(context.Background(), acct, domain.OrderRequest{
		Market: domain.MarketID{Symbol: "BTC-PERP"},
		Side:   domain.OrderSideBuy,
		Kind:   domain.OrderKindLimit,
		Price:  "1",
		Size:   "1",
	})
	if !errors.Is(err, domain.ErrCredentialMismatch) {
		t.Fatalf("want ErrCredentialMismatch, got %v", err)
	}
}
