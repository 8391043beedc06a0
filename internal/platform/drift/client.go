// Package drift implements the on-chain program venue client. Orders are
// placed through a gateway that relays signed program instructions to the
// chain; the gateway verifies an ed25519 signature over the canonical
// instruction bytes and the signing sequence before relaying.
package drift

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedged/internal/domain"
	"github.com/alanyoungcy/hedged/internal/nonce"
)

// priceDecimals is the program's price precision (1e6 fixed-point on
// chain; the gateway speaks decimal strings at the same precision).
const priceDecimals = 6

const metaTTL = 10 * time.Minute

// Client is the Drift gateway venue client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	seq        *nonce.Sequencer
	logger     *slog.Logger

	metaMu   sync.RWMutex
	bySymbol map[string]domain.MarketID
	byIndex  map[marketRef]domain.MarketID
	metaAt   time.Time
}

type marketRef struct {
	index int
	spot  bool
}

// New creates a Drift client from a hex-encoded ed25519 seed.
func New(baseURL, seedHex string, seq *nonce.Sequencer, logger *slog.Logger) (*Client, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("drift: invalid signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("drift: expected %d-byte seed, got %d bytes", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		privateKey: priv,
		publicKey:  priv.Public().(ed25519.PublicKey),
		seq:        seq,
		logger:     logger.With(slog.String("component", "drift")),
		bySymbol:   make(map[string]domain.MarketID),
		byIndex:    make(map[marketRef]domain.MarketID),
	}, nil
}

// Venue implements domain.VenueClient.
func (c *Client) Venue() domain.Venue {
	return domain.VenueDrift
}

// Address returns the hex-encoded signing public key, which is how the
// gateway identifies the subaccount authority.
func (c *Client) Address() string {
	return "0x" + hex.EncodeToString(c.publicKey)
}

// ResolveMarket maps a symbol or market index to the program's market
// listing. Unlike the offset convention on the REST venue, the program
// keeps separate perp and spot listings, so the spot hint selects the
// namespace directly.
func (c *Client) ResolveMarket(ctx context.Context, symbolOrID string, spotHint bool) (domain.MarketID, error) {
	if err := c.ensureMeta(ctx); err != nil {
		return domain.MarketID{}, err
	}

	c.metaMu.RLock()
	defer c.metaMu.RUnlock()

	if idx, err := strconv.Atoi(symbolOrID); err == nil {
		if m, ok := c.byIndex[marketRef{index: idx, spot: spotHint}]; ok {
			return m, nil
		}
		return domain.MarketID{}, fmt.Errorf("drift: market index %d: %w", idx, domain.ErrUnknownMarket)
	}

	sym := strings.ToUpper(symbolOrID)
	// Accept both "BTC" and the listed "BTC-PERP" form.
	for _, candidate := range []string{sym, sym + "-PERP"} {
		if m, ok := c.bySymbol[candidate]; ok && m.IsSpot == spotHint {
			return m, nil
		}
	}
	if m, ok := c.bySymbol[sym]; ok {
		return m, nil
	}
	return domain.MarketID{}, fmt.Errorf("drift: symbol %q: %w", symbolOrID, domain.ErrUnknownMarket)
}

// NormalizePrice rounds to the program's price precision and snaps to the
// market tick. Never fails; non-positive input clamps to one tick.
func (c *Client) NormalizePrice(raw decimal.Decimal, m domain.MarketID) string {
	minIncrement := decimal.New(1, -priceDecimals)
	if !m.TickSize.IsZero() {
		minIncrement = m.TickSize
	}

	if raw.LessThanOrEqual(decimal.Zero) {
		return minIncrement.String()
	}

	px := raw.Round(priceDecimals)
	if !m.TickSize.IsZero() {
		ticks := px.Div(m.TickSize).Round(0)
		if ticks.LessThan(decimal.NewFromInt(1)) {
			ticks = decimal.NewFromInt(1)
		}
		px = ticks.Mul(m.TickSize).Round(priceDecimals)
	}
	if px.LessThanOrEqual(decimal.Zero) {
		return minIncrement.String()
	}
	return px.String()
}

// QuoteMarketPrice fetches the gateway's oracle/mark quote and applies the
// slippage offset in the aggressive direction.
func (c *Client) QuoteMarketPrice(ctx context.Context, m domain.MarketID, side domain.OrderSide, reduceOnly bool) (string, error) {
	var quote struct {
		OraclePrice string `json:"oraclePrice"`
		MarkPrice   string `json:"markPrice"`
		LastPrice   string `json:"lastPrice"`
	}
	path := fmt.Sprintf("/v2/markets/%d/quote?spot=%t", m.Index, m.IsSpot)
	if err := c.get(ctx, path, &quote); err != nil {
		return "", err
	}

	var ref decimal.Decimal
	for _, candidate := range []string{quote.OraclePrice, quote.MarkPrice, quote.LastPrice} {
		if candidate == "" {
			continue
		}
		px, err := decimal.NewFromString(candidate)
		if err == nil && px.GreaterThan(decimal.Zero) {
			ref = px
			break
		}
	}
	if ref.IsZero() {
		return "", fmt.Errorf("drift: no reference price for %s: %w", m.Symbol, domain.ErrVenueUnavailable)
	}

	slip := decimal.RequireFromString("0.05")
	if reduceOnly {
		slip = decimal.RequireFromString("0.02")
	}
	one := decimal.NewFromInt(1)
	if side == domain.OrderSideBuy {
		ref = ref.Mul(one.Add(slip))
	} else {
		ref = ref.Mul(one.Sub(slip))
	}
	return c.NormalizePrice(ref, m), nil
}

// placeInstruction is the canonical instruction the gateway signs over.
type placeInstruction struct {
	Type          string `json:"type"`
	MarketIndex   int    `json:"marketIndex"`
	Spot          bool   `json:"spot"`
	Direction     string `json:"direction"` // "long" | "short"
	BaseAmount    string `json:"baseAssetAmount"`
	Price         string `json:"price"`
	ReduceOnly    bool   `json:"reduceOnly"`
	OrderKind     string `json:"orderKind"`
	ClientOrderID string `json:"clientOrderId,omitempty"`
}

type cancelInstruction struct {
	Type          string `json:"type"`
	MarketIndex   int    `json:"marketIndex"`
	Spot          bool   `json:"spot"`
	OrderID       string `json:"orderId,omitempty"`
	ClientOrderID string `json:"clientOrderId,omitempty"`
}

type gatewayResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		OrderID    string `json:"orderId"`
		Status     string `json:"status"` // "open" | "filled" | "rejected"
		AvgPrice   string `json:"avgPrice"`
		FilledSize string `json:"filledSize"`
	} `json:"data"`
}

// SubmitOrder signs and relays a place-order instruction.
func (c *Client) SubmitOrder(ctx context.Context, acct domain.TradingAccount, req domain.OrderRequest) (domain.SubmitResult, error) {
	if !strings.EqualFold(acct.Address, c.Address()) {
		return domain.SubmitResult{}, fmt.Errorf("drift: account %s: %w", acct.Address, domain.ErrCredentialMismatch)
	}

	px := req.Price
	if req.Kind == domain.OrderKindMarket && px == "" {
		quoted, err := c.QuoteMarketPrice(ctx, req.Market, req.Side, req.ReduceOnly)
		if err != nil {
			return domain.SubmitResult{}, fmt.Errorf("drift: quote market price: %w", err)
		}
		px = quoted
	}

	direction := "long"
	if req.Side == domain.OrderSideSell {
		direction = "short"
	}
	inst := placeInstruction{
		Type:          "placeOrder",
		MarketIndex:   req.Market.Index,
		Spot:          req.Market.IsSpot,
		Direction:     direction,
		BaseAmount:    req.Size,
		Price:         px,
		ReduceOnly:    req.ReduceOnly,
		OrderKind:     string(req.Kind),
		ClientOrderID: req.ClientOrderID,
	}

	raw, seq, err := c.signAndPost(ctx, acct.Address, "/v2/orders", inst)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	var resp gatewayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("drift: decode order response: %w", err)
	}
	result := domain.SubmitResult{Price: px, Nonce: seq, Raw: raw}
	switch {
	case !resp.Success || resp.Data.Status == "rejected":
		result.Status = domain.SubmitRejected
		result.Reason = resp.Error
		if result.Reason == "" {
			result.Reason = "rejected by program"
		}
	case resp.Data.Status == "filled":
		result.Status = domain.SubmitFilled
		result.VenueOrderID = resp.Data.OrderID
		result.AvgFillPrice = resp.Data.AvgPrice
		result.FilledSize = resp.Data.FilledSize
	default:
		result.Status = domain.SubmitResting
		result.VenueOrderID = resp.Data.OrderID
	}
	return result, nil
}

// SubmitCancel signs and relays a cancel instruction.
func (c *Client) SubmitCancel(ctx context.Context, acct domain.TradingAccount, ref domain.CancelRef) error {
	if !strings.EqualFold(acct.Address, c.Address()) {
		return fmt.Errorf("drift: account %s: %w", acct.Address, domain.ErrCredentialMismatch)
	}
	if ref.VenueOrderID == "" && ref.ClientOrderID == "" {
		return fmt.Errorf("drift: cancel needs an order id or client order id")
	}

	inst := cancelInstruction{
		Type:          "cancelOrder",
		MarketIndex:   ref.Market.Index,
		Spot:          ref.Market.IsSpot,
		OrderID:       ref.VenueOrderID,
		ClientOrderID: ref.ClientOrderID,
	}
	raw, _, err := c.signAndPost(ctx, acct.Address, "/v2/orders/cancel", inst)
	if err != nil {
		return err
	}

	var resp gatewayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("drift: decode cancel response: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("drift: cancel rejected: %s: %w", resp.Error, domain.ErrVenueRejected)
	}
	return nil
}

// QueryPosition returns the program-held position for an authority.
func (c *Client) QueryPosition(ctx context.Context, address string, m domain.MarketID) (domain.VenuePosition, error) {
	var pos struct {
		BaseAmount string `json:"baseAssetAmount"`
		EntryPrice string `json:"entryPrice"`
	}
	path := fmt.Sprintf("/v2/positions?authority=%s&marketIndex=%d&spot=%t", address, m.Index, m.IsSpot)
	if err := c.get(ctx, path, &pos); err != nil {
		return domain.VenuePosition{}, err
	}

	size := decimal.Zero
	if pos.BaseAmount != "" {
		var err error
		size, err = decimal.NewFromString(pos.BaseAmount)
		if err != nil {
			return domain.VenuePosition{}, fmt.Errorf("drift: parse position size %q: %w", pos.BaseAmount, err)
		}
	}
	entry := decimal.Zero
	if pos.EntryPrice != "" {
		entry, _ = decimal.NewFromString(pos.EntryPrice)
	}
	return domain.VenuePosition{Symbol: m.Symbol, Size: size, EntryPrice: entry}, nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// signAndPost signs instruction bytes bound to a fresh sequence and posts
// the envelope. The sequence is committed after use.
func (c *Client) signAndPost(ctx context.Context, address, path string, inst any) (json.RawMessage, int64, error) {
	instJSON, err := json.Marshal(inst)
	if err != nil {
		return nil, 0, fmt.Errorf("drift: marshal instruction: %w", err)
	}

	seq := c.seq.Next(ctx, address)

	// Signature covers instruction || ascii(nonce) so a replayed envelope
	// with a different sequence fails verification.
	msg := append(append([]byte{}, instJSON...), []byte(strconv.FormatInt(seq, 10))...)
	sig := ed25519.Sign(c.privateKey, msg)

	envelope := map[string]any{
		"action":    json.RawMessage(instJSON),
		"nonce":     seq,
		"signature": hex.EncodeToString(sig),
		"publicKey": hex.EncodeToString(c.publicKey),
	}

	raw, err := c.post(ctx, path, envelope)
	c.seq.Commit(ctx, address, seq)
	if err != nil {
		return nil, seq, err
	}
	return raw, seq, nil
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("drift: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("drift: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("drift: create request: %w", err)
	}
	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("drift: decode response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("drift: %s: %v: %w", req.URL.Path, err, domain.ErrVenueUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("drift: read response: %v: %w", err, domain.ErrVenueUnavailable)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("drift: HTTP %d: %s: %w", resp.StatusCode, string(respBody), domain.ErrUnauthorized)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("drift: HTTP %d: %s: %w", resp.StatusCode, string(respBody), domain.ErrVenueRejected)
	default:
		return nil, fmt.Errorf("drift: HTTP %d: %s: %w", resp.StatusCode, string(respBody), domain.ErrVenueUnavailable)
	}
}

// ensureMeta refreshes the market listing cache when stale.
func (c *Client) ensureMeta(ctx context.Context) error {
	c.metaMu.RLock()
	fresh := time.Since(c.metaAt) < metaTTL && len(c.bySymbol) > 0
	c.metaMu.RUnlock()
	if fresh {
		return nil
	}

	var listing struct {
		Perp []gatewayMarket `json:"perp"`
		Spot []gatewayMarket `json:"spot"`
	}
	if err := c.get(ctx, "/v2/markets", &listing); err != nil {
		return fmt.Errorf("drift: load markets: %w", err)
	}

	bySymbol := make(map[string]domain.MarketID, len(listing.Perp)+len(listing.Spot))
	byIndex := make(map[marketRef]domain.MarketID, len(listing.Perp)+len(listing.Spot))

	add := func(gm gatewayMarket, spot bool) {
		tick := decimal.Zero
		if gm.TickSize != "" {
			if t, err := decimal.NewFromString(gm.TickSize); err == nil {
				tick = t
			}
		}
		m := domain.MarketID{
			Symbol:     strings.ToUpper(gm.Symbol),
			Index:      gm.MarketIndex,
			AssetIndex: gm.MarketIndex,
			IsSpot:     spot,
			SzDecimals: gm.BaseDecimals,
			TickSize:   tick,
		}
		bySymbol[m.Symbol] = m
		byIndex[marketRef{index: m.Index, spot: spot}] = m
	}
	for _, gm := range listing.Perp {
		add(gm, false)
	}
	for _, gm := range listing.Spot {
		add(gm, true)
	}

	c.metaMu.Lock()
	c.bySymbol = bySymbol
	c.byIndex = byIndex
	c.metaAt = time.Now()
	c.metaMu.Unlock()

	c.logger.Debug("market listing refreshed",
		slog.Int("perp", len(listing.Perp)),
		slog.Int("spot", len(listing.Spot)),
	)
	return nil
}

type gatewayMarket struct {
	Symbol       string `json:"symbol"`
	MarketIndex  int    `json:"marketIndex"`
	BaseDecimals int    `json:"baseDecimals"`
	TickSize     string `json:"tickSize"`
}

// Compile-time interface check.
var _ domain.VenueClient = (*Client)(nil)
