package hyperliquid

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

	"github.com/alanyoungcy/hedged/internal/crypto"
	"github.com/alanyoungcy/hedged/internal/domain"
	"github.com/alanyoungcy/hedged/internal/nonce"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type stubAccounts struct{}

func (stubAccounts) GetByAddress(context.Context, domain.Venue, string) (domain.TradingAccount, error) {
	return domain.TradingAccount{}, domain.ErrNotFound
}
func (stubAccounts) Update(context.Context, string, domain.AccountPatch) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	signer, err := crypto.NewSigner(testKey, "a")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	seq := nonce.NewSequencer(domain.VenueHyperliquid, stubAccounts{}, discardLogger())
	return New(baseURL, signer, seq, discardLogger())
}

func testAccount(t *testing.T) domain.TradingAccount {
	t.Helper()
	return domain.TradingAccount{
		ID:      "acct-1",
		Venue:   domain.VenueHyperliquid,
		Address: "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", // derived from testKey
		Kind:    domain.AccountKindPrimary,
	}
}

// infoHandler answers meta/spotMeta/metaAndAssetCtxs queries with a small
// fixture universe: perp BTC (szDecimals 5) at index 0, spot PURR pair 0.
func infoHandler(t *testing.T) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode info request: %v", err)
		}
		switch req["type"] {
		case "meta":
			io.WriteString(w, `{"universe":[{"name":"BTC","szDecimals":5},{"name":"ETH","szDecimals":4}]}`)
		case "spotMeta":
			io.WriteString(w, `{"universe":[{"name":"PURR/USDC","index":0,"tokens":[1,0]}],"tokens":[{"name":"USDC","szDecimals":8,"index":0},{"name":"PURR","szDecimals":0,"index":1}]}`)
		case "metaAndAssetCtxs":
			io.WriteString(w, `[{"universe":[]},[{"funding":"0.0000125","markPx":"64000","midPx":"64010","oraclePx":"64005"},{"funding":"0","markPx":"3000","midPx":null,"oraclePx":""}]]`)
		default:
			t.Fatalf("unexpected info type %v", req["type"])
		}
	}
}

func TestResolveMarketSpotOffset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		infoHandler(t)(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)

	perp, err := c.ResolveMarket(context.Background(), "btc", false)
	if err != nil {
		t.Fatalf("resolve perp: %v", err)
	}
	if perp.Index != 0 || perp.IsSpot || perp.SzDecimals != 5 {
		t.Fatalf("unexpected perp market %+v", perp)
	}

	spot, err := c.ResolveMarket(context.Background(), "PURR", true)
	if err != nil {
		t.Fatalf("resolve spot: %v", err)
	}
	if spot.Index != 10000 || !spot.IsSpot {
		t.Fatalf("spot market should use the 10000+index namespace, got %+v", spot)
	}

	byID, err := c.ResolveMarket(context.Background(), "10000", false)
	if err != nil {
		t.Fatalf("resolve by id: %v", err)
	}
	if byID.Symbol != "PURR" {
		t.Fatalf("resolve by id got %+v", byID)
	}

	if _, err := c.ResolveMarket(context.Background(), "DOGE", false); err == nil {
		t.Fatal("unknown symbol should fail")
	}
}

func TestNormalizePrice(t *testing.T) {
	c := testClient(t, "http://unused")
	perp := domain.MarketID{Symbol: "BTC", SzDecimals: 5} // 1 allowed decimal

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"rounds to allowed decimals", "64123.456", "64123.5"},
		{"already normal", "64123.5", "64123.5"},
		{"zero clamps to min increment", "0", "0.1"},
		{"negative clamps to min increment", "-5", "0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _ := decimal.NewFromString(tt.in)
			if got := c.NormalizePrice(in, perp); got != tt.want {
				t.Fatalf("NormalizePrice(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizePriceIdempotent(t *testing.T) {
	c := testClient(t, "http://unused")
	m := domain.MarketID{Symbol: "ETH", SzDecimals: 4, TickSize: decimal.RequireFromString("0.05")}

	for _, in := range []string{"3000.123456", "0.000001", "987654.321", "3000.05"} {
		raw := decimal.RequireFromString(in)
		once := c.NormalizePrice(raw, m)
		twice := c.NormalizePrice(decimal.RequireFromString(once), m)
		if once != twice {
			t.Fatalf("NormalizePrice not idempotent for %s: %s != %s", in, once, twice)
		}
	}
}

func TestNormalizePriceTickSnap(t *testing.T) {
	c := testClient(t, "http://unused")
	m := domain.MarketID{Symbol: "ETH", SzDecimals: 4, TickSize: decimal.RequireFromString("0.5")}

	in := decimal.RequireFromString("3000.3")
	if got := c.NormalizePrice(in, m); got != "3000.5" {
		t.Fatalf("tick snap: got %s, want 3000.5", got)
	}
}

func TestQuoteMarketPriceSlippageDirection(t *testing.T) {
	srv := httptest.NewServer(infoHandler(t))
	defer srv.Close()

	c := testClient(t, srv.URL)
	m := domain.MarketID{Symbol: "BTC", Index: 0, AssetIndex: 0, SzDecimals: 5}

	buy, err := c.QuoteMarketPrice(context.Background(), m, domain.OrderSideBuy, false)
	if err != nil {
		t.Fatalf("quote buy: %v", err)
	}
	sell, err := c.QuoteMarketPrice(context.Background(), m, domain.OrderSideSell, false)
	if err != nil {
		t.Fatalf("quote sell: %v", err)
	}

	oracle := decimal.RequireFromString("64005")
	if !decimal.RequireFromString(buy).GreaterThan(oracle) {
		t.Fatalf("buy quote %s should exceed oracle %s", buy, oracle)
	}
	if !decimal.RequireFromString(sell).LessThan(oracle) {
		t.Fatalf("sell quote %s should undercut oracle %s", sell, oracle)
	}

	// Reduce-only uses the tighter offset.
	reduce, err := c.QuoteMarketPrice(context.Background(), m, domain.OrderSideBuy, true)
	if err != nil {
		t.Fatalf("quote reduce: %v", err)
	}
	if !decimal.RequireFromString(reduce).LessThan(decimal.RequireFromString(buy)) {
		t.Fatalf("reduce-only buy quote %s should be tighter than opening quote %s", reduce, buy)
	}
}

func TestSubmitOrderInterpretsStatuses(t *testing.T) {
	var sawNonce int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/info" {
			infoHandler(t)(w, r)
			return
		}
		var envelope struct {
			Action    json.RawMessage `json:"action"`
			Nonce     int64           `json:"nonce"`
			Signature crypto.SignatureRSV
		}
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if envelope.Nonce == 0 {
			t.Fatal("envelope missing nonce")
		}
		sawNonce = envelope.Nonce
		io.WriteString(w, `{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"oid":77,"totalSz":"1","avgPx":"64100"}}]}}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	res, err := c.SubmitOrder(context.Background(), testAccount(t), domain.OrderRequest{
		Market: domain.MarketID{Symbol: "BTC", Index: 0, AssetIndex: 0, SzDecimals: 5},
		Side:   domain.OrderSideBuy,
		Kind:   domain.OrderKindMarket,
		Size:   "1",
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.Status != domain.SubmitFilled || res.VenueOrderID != "77" || res.AvgFillPrice != "64100" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Nonce != sawNonce {
		t.Fatalf("result nonce %d does not match envelope nonce %d", res.Nonce, sawNonce)
	}
	if res.Price == "" || res.Price == "0" {
		t.Fatalf("market order must carry a live quoted price, got %q", res.Price)
	}
}

func TestSubmitOrderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/info" {
			infoHandler(t)(w, r)
			return
		}
		io.WriteString(w, `{"status":"ok","response":{"type":"order","data":{"statuses":[{"error":"Price must be divisible by tick size"}]}}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	res, err := c.SubmitOrder(context.Background(), testAccount(t), domain.OrderRequest{
		Market: domain.MarketID{Symbol: "BTC", Index: 0, AssetIndex: 0, SzDecimals: 5},
		Side:   domain.OrderSideBuy,
		Kind:   domain.OrderKindLimit,
		Price:  "64000.1",
		Size:   "1",
	})
	if err != nil {
		t.Fatalf("venue rejection should not be a transport error: %v", err)
	}
	if res.Status != domain.SubmitRejected || res.Reason == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSubmitOrderCredentialMismatch(t *testing.T) {
	c := testClient(t, "http://unused")
	acct := testAccount(t)
	acct.Address = "0x0000000000000000000000000000000000000001"

	_, err := c.SubmitOrder(context.Background(), acct, domain.OrderRequest{
		Market: domain.MarketID{Symbol: "BTC"},
		Side:   domain.OrderSideBuy,
		Kind:   domain.OrderKindLimit,
		Price:  "1",
		Size:   "1",
	})
	if !errors.Is(err, domain.ErrCredentialMismatch) {
		t.Fatalf("want ErrCredentialMismatch, got %v", err)
	}
}
