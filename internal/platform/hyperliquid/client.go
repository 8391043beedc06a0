// Package hyperliquid implements the signed-REST venue client. All
// exchange mutations go through a signed envelope {action, nonce,
// signature}; market metadata and prices come from the unauthenticated
// info endpoint.
package hyperliquid

import (
	"bytes"
	"context"
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

	"github.com/alanyoungcy/hedged/internal/crypto"
	"github.com/alanyoungcy/hedged/internal/domain"
	"github.com/alanyoungcy/hedged/internal/nonce"
)

const (
	// spotIndexOffset namespaces spot market ids: spot id = 10000 + pair index.
	spotIndexOffset = 10000

	// perpMaxDecimals / spotMaxDecimals bound price precision; the allowed
	// decimal places for a market are maxDecimals − szDecimals.
	perpMaxDecimals = 6
	spotMaxDecimals = 8

	// Slippage applied when emulating market orders with marketable IOC
	// limits. Reduce-only closes tolerate less slippage than opens.
	openSlippage   = "0.05"
	reduceSlippage = "0.02"

	metaTTL = 10 * time.Minute
)

// Client is the Hyperliquid venue client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	seq        *nonce.Sequencer
	logger     *slog.Logger

	metaMu  sync.RWMutex
	perps   map[string]domain.MarketID
	spots   map[string]domain.MarketID
	byIndex map[int]domain.MarketID
	metaAt  time.Time
}

// New creates a Hyperliquid client. baseURL is the API root, e.g.
// "https://api.hyperliquid.xyz".
func New(baseURL string, signer *crypto.Signer, seq *nonce.Sequencer, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:  signer,
		seq:     seq,
		logger:  logger.With(slog.String("component", "hyperliquid")),
		perps:   make(map[string]domain.MarketID),
		spots:   make(map[string]domain.MarketID),
		byIndex: make(map[int]domain.MarketID),
	}
}

// Venue implements domain.VenueClient.
func (c *Client) Venue() domain.Venue {
	return domain.VenueHyperliquid
}

// ResolveMarket maps a symbol or numeric market id to the venue's asset
// indexing. Spot markets live in the offset namespace rather than a
// separate one, so a bare index above spotIndexOffset is already
// unambiguous.
func (c *Client) ResolveMarket(ctx context.Context, symbolOrID string, spotHint bool) (domain.MarketID, error) {
	if err := c.ensureMeta(ctx); err != nil {
		return domain.MarketID{}, err
	}

	c.metaMu.RLock()
	defer c.metaMu.RUnlock()

	if idx, err := strconv.Atoi(symbolOrID); err == nil {
		if m, ok := c.byIndex[idx]; ok {
			return m, nil
		}
		return domain.MarketID{}, fmt.Errorf("hyperliquid: market id %d: %w", idx, domain.ErrUnknownMarket)
	}

	sym := strings.ToUpper(symbolOrID)
	if spotHint {
		if m, ok := c.spots[sym]; ok {
			return m, nil
		}
	}
	if m, ok := c.perps[sym]; ok && !spotHint {
		return m, nil
	}
	// Fall through to the other namespace before giving up.
	if m, ok := c.spots[sym]; ok {
		return m, nil
	}
	if m, ok := c.perps[sym]; ok {
		return m, nil
	}
	return domain.MarketID{}, fmt.Errorf("hyperliquid: symbol %q: %w", symbolOrID, domain.ErrUnknownMarket)
}

// NormalizePrice rounds to the market's allowed decimal places and snaps
// to its tick where known. It never fails: non-positive input clamps to
// the smallest representable increment.
func (c *Client) NormalizePrice(raw decimal.Decimal, m domain.MarketID) string {
	maxDecimals := perpMaxDecimals
	if m.IsSpot {
		maxDecimals = spotMaxDecimals
	}
	allowed := int32(maxDecimals - m.SzDecimals)
	if allowed < 0 {
		allowed = 0
	}

	minIncrement := decimal.New(1, -allowed)
	if !m.TickSize.IsZero() && m.TickSize.GreaterThan(minIncrement) {
		minIncrement = m.TickSize
	}

	if raw.LessThanOrEqual(decimal.Zero) {
		return minIncrement.String()
	}

	px := raw.Round(allowed)
	if !m.TickSize.IsZero() {
		// Snap to the nearest tick multiple, never below one tick.
		ticks := px.Div(m.TickSize).Round(0)
		if ticks.LessThan(decimal.NewFromInt(1)) {
			ticks = decimal.NewFromInt(1)
		}
		px = ticks.Mul(m.TickSize).Round(allowed)
	}
	if px.LessThanOrEqual(decimal.Zero) {
		return minIncrement.String()
	}
	return px.String()
}

// QuoteMarketPrice returns a marketable limit price for synthetic market
// orders: the best available reference (oracle, then mid, then mark)
// pushed through the book by a slippage offset in the aggressive
// direction.
func (c *Client) QuoteMarketPrice(ctx context.Context, m domain.MarketID, side domain.OrderSide, reduceOnly bool) (string, error) {
	ref, err := c.referencePrice(ctx, m)
	if err != nil {
		return "", err
	}

	slip, _ := decimal.NewFromString(openSlippage)
	if reduceOnly {
		slip, _ = decimal.NewFromString(reduceSlippage)
	}

	one := decimal.NewFromInt(1)
	var px decimal.Decimal
	if side == domain.OrderSideBuy {
		px = ref.Mul(one.Add(slip))
	} else {
		px = ref.Mul(one.Sub(slip))
	}
	return c.NormalizePrice(px, m), nil
}

// referencePrice picks the best live reference for a market. A quote of
// zero is never returned; if the venue has no usable price the caller gets
// an error instead of a zero-priced order.
func (c *Client) referencePrice(ctx context.Context, m domain.MarketID) (decimal.Decimal, error) {
	ctxs, err := c.assetContexts(ctx, m.IsSpot)
	if err != nil {
		return decimal.Decimal{}, err
	}

	idx := m.AssetIndex
	if m.IsSpot {
		idx = m.Index - spotIndexOffset
	}
	if idx < 0 || idx >= len(ctxs) {
		return decimal.Decimal{}, fmt.Errorf("hyperliquid: no asset context for market %s: %w", m.Symbol, domain.ErrUnknownMarket)
	}
	ac := ctxs[idx]

	for _, candidate := range []string{ac.OraclePx, midOrEmpty(ac.MidPx), ac.MarkPx} {
		if candidate == "" {
			continue
		}
		px, err := decimal.NewFromString(candidate)
		if err == nil && px.GreaterThan(decimal.Zero) {
			return px, nil
		}
	}
	return decimal.Decimal{}, fmt.Errorf("hyperliquid: no reference price for %s: %w", m.Symbol, domain.ErrVenueUnavailable)
}

func midOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// SubmitOrder signs and submits one order. Transport failures return an
// error (outcome unknown); venue rejections return a SubmitResult with
// SubmitRejected and a nil error so the caller can record the rejection.
func (c *Client) SubmitOrder(ctx context.Context, acct domain.TradingAccount, req domain.OrderRequest) (domain.SubmitResult, error) {
	if !c.signer.MatchesAddress(acct.Address) {
		return domain.SubmitResult{}, fmt.Errorf("hyperliquid: account %s: %w", acct.Address, domain.ErrCredentialMismatch)
	}

	px := req.Price
	if req.Kind == domain.OrderKindMarket && px == "" {
		quoted, err := c.QuoteMarketPrice(ctx, req.Market, req.Side, req.ReduceOnly)
		if err != nil {
			return domain.SubmitResult{}, fmt.Errorf("hyperliquid: quote market price: %w", err)
		}
		px = quoted
	}

	wire := wireOrder{
		Asset:      req.Market.Index,
		IsBuy:      req.Side == domain.OrderSideBuy,
		LimitPx:    px,
		Sz:         req.Size,
		ReduceOnly: req.ReduceOnly,
		Cloid:      req.ClientOrderID,
	}
	switch req.Kind {
	case domain.OrderKindLimit:
		wire.Type = wireOrderType{Limit: &limitType{Tif: "Gtc"}}
	case domain.OrderKindTrigger, domain.OrderKindOracle:
		wire.Type = wireOrderType{Trigger: &triggerType{IsMarket: true, TriggerPx: px, TpSl: "sl"}}
	default: // market emulation: marketable IOC limit
		wire.Type = wireOrderType{Limit: &limitType{Tif: "Ioc"}}
	}

	action := orderAction{Type: "order", Orders: []wireOrder{wire}, Grouping: "na"}
	raw, seq, err := c.signAndPost(ctx, acct.Address, action)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	var resp exchangeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("hyperliquid: decode order response: %w", err)
	}
	if resp.Status != "ok" {
		return domain.SubmitResult{
			Status: domain.SubmitRejected,
			Reason: string(raw),
			Price:  px,
			Nonce:  seq,
			Raw:    raw,
		}, nil
	}
	if len(resp.Response.Data.Statuses) == 0 {
		return domain.SubmitResult{}, fmt.Errorf("hyperliquid: empty order statuses: %w", domain.ErrVenueUnavailable)
	}

	result := resp.Response.Data.Statuses[0].interpret(raw)
	result.Price = px
	result.Nonce = seq
	return result, nil
}

// SubmitCancel signs and submits a cancel for a placed order. Cancels by
// venue oid when known, falling back to the client order id.
func (c *Client) SubmitCancel(ctx context.Context, acct domain.TradingAccount, ref domain.CancelRef) error {
	if !c.signer.MatchesAddress(acct.Address) {
		return fmt.Errorf("hyperliquid: account %s: %w", acct.Address, domain.ErrCredentialMismatch)
	}

	var action any
	if oid, err := strconv.ParseInt(ref.VenueOrderID, 10, 64); err == nil && ref.VenueOrderID != "" {
		action = cancelAction{Type: "cancel", Cancels: []wireCancel{{Asset: ref.Market.Index, Oid: oid}}}
	} else if ref.ClientOrderID != "" {
		action = cancelByCloidAction{Type: "cancelByCloid", Cancels: []wireCloidCancel{{Asset: ref.Market.Index, Cloid: ref.ClientOrderID}}}
	} else {
		return fmt.Errorf("hyperliquid: cancel needs a venue order id or client order id")
	}

	raw, _, err := c.signAndPost(ctx, acct.Address, action)
	if err != nil {
		return err
	}

	var resp exchangeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("hyperliquid: decode cancel response: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("hyperliquid: cancel rejected: %s: %w", string(raw), domain.ErrVenueRejected)
	}
	return nil
}

// QueryPosition returns the venue-held position for an address. Used for
// legacy positions the orchestrator did not open.
func (c *Client) QueryPosition(ctx context.Context, address string, m domain.MarketID) (domain.VenuePosition, error) {
	var state clearinghouseState
	if err := c.postInfo(ctx, map[string]any{"type": "clearinghouseState", "user": address}, &state); err != nil {
		return domain.VenuePosition{}, err
	}

	for _, ap := range state.AssetPositions {
		if !strings.EqualFold(ap.Position.Coin, m.Symbol) {
			continue
		}
		size, err := decimal.NewFromString(ap.Position.Szi)
		if err != nil {
			return domain.VenuePosition{}, fmt.Errorf("hyperliquid: parse position size %q: %w", ap.Position.Szi, err)
		}
		entry := decimal.Zero
		if ap.Position.EntryPx != "" {
			entry, _ = decimal.NewFromString(ap.Position.EntryPx)
		}
		return domain.VenuePosition{Symbol: m.Symbol, Size: size, EntryPrice: entry}, nil
	}
	return domain.VenuePosition{Symbol: m.Symbol, Size: decimal.Zero}, nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// signAndPost signs the action under a fresh sequence and posts the
// envelope. The sequence is committed back to the account record after the
// request has been used, regardless of outcome.
func (c *Client) signAndPost(ctx context.Context, address string, action any) (json.RawMessage, int64, error) {
	actionJSON, err := json.Marshal(action)
	if err != nil {
		return nil, 0, fmt.Errorf("hyperliquid: marshal action: %w", err)
	}

	seq := c.seq.Next(ctx, address)
	sig, err := c.signer.SignAction(actionJSON, seq)
	if err != nil {
		return nil, 0, fmt.Errorf("hyperliquid: sign action: %w", err)
	}

	envelope := map[string]any{
		"action":    json.RawMessage(actionJSON),
		"nonce":     seq,
		"signature": sig,
	}

	raw, err := c.post(ctx, "/exchange", envelope)
	// The sequence was consumed by the signed request whether or not the
	// venue answered; commit so a restart does not reuse it.
	c.seq.Commit(ctx, address, seq)
	if err != nil {
		return nil, seq, err
	}
	return raw, seq, nil
}

// postInfo posts a query to the info endpoint and decodes into out.
func (c *Client) postInfo(ctx context.Context, payload any, out any) error {
	raw, err := c.post(ctx, "/info", payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("hyperliquid: decode info response: %w", err)
	}
	return nil
}

// post sends a JSON POST and returns the raw body, mapping transport and
// HTTP failures onto the domain error taxonomy.
func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: %s: %v: %w", path, err, domain.ErrVenueUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: read response: %v: %w", err, domain.ErrVenueUnavailable)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("hyperliquid: HTTP %d: %s: %w", resp.StatusCode, string(respBody), domain.ErrUnauthorized)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("hyperliquid: HTTP %d: %s: %w", resp.StatusCode, string(respBody), domain.ErrVenueRejected)
	default:
		return nil, fmt.Errorf("hyperliquid: HTTP %d: %s: %w", resp.StatusCode, string(respBody), domain.ErrVenueUnavailable)
	}
}

// ensureMeta refreshes the market universe cache when stale.
func (c *Client) ensureMeta(ctx context.Context) error {
	c.metaMu.RLock()
	fresh := time.Since(c.metaAt) < metaTTL && len(c.perps) > 0
	c.metaMu.RUnlock()
	if fresh {
		return nil
	}

	var perpMeta metaResponse
	if err := c.postInfo(ctx, map[string]any{"type": "meta"}, &perpMeta); err != nil {
		return fmt.Errorf("hyperliquid: load perp meta: %w", err)
	}
	var spotMeta spotMetaResponse
	if err := c.postInfo(ctx, map[string]any{"type": "spotMeta"}, &spotMeta); err != nil {
		return fmt.Errorf("hyperliquid: load spot meta: %w", err)
	}

	perps := make(map[string]domain.MarketID, len(perpMeta.Universe))
	spots := make(map[string]domain.MarketID, len(spotMeta.Universe))
	byIndex := make(map[int]domain.MarketID, len(perpMeta.Universe)+len(spotMeta.Universe))

	for i, a := range perpMeta.Universe {
		if a.Delisted {
			continue
		}
		m := domain.MarketID{
			Symbol:     strings.ToUpper(a.Name),
			Index:      i,
			AssetIndex: i,
			SzDecimals: a.SzDecimals,
		}
		perps[m.Symbol] = m
		byIndex[m.Index] = m
	}

	tokensByIndex := make(map[int]spotToken, len(spotMeta.Tokens))
	for _, t := range spotMeta.Tokens {
		tokensByIndex[t.Index] = t
	}
	for _, p := range spotMeta.Universe {
		base, ok := tokensByIndex[p.Tokens[0]]
		if !ok {
			continue
		}
		m := domain.MarketID{
			Symbol:     strings.ToUpper(base.Name),
			Index:      spotIndexOffset + p.Index,
			AssetIndex: base.Index,
			IsSpot:     true,
			SzDecimals: base.SzDecimals,
		}
		spots[m.Symbol] = m
		byIndex[m.Index] = m
	}

	c.metaMu.Lock()
	c.perps = perps
	c.spots = spots
	c.byIndex = byIndex
	c.metaAt = time.Now()
	c.metaMu.Unlock()

	c.logger.Debug("market universe refreshed",
		slog.Int("perps", len(perps)),
		slog.Int("spots", len(spots)),
	)
	return nil
}

// assetContexts fetches live pricing contexts for the perp or spot
// universe. The response shape is [meta, contexts]; only the contexts half
// is needed.
func (c *Client) assetContexts(ctx context.Context, spot bool) ([]assetCtx, error) {
	infoType := "metaAndAssetCtxs"
	if spot {
		infoType = "spotMetaAndAssetCtxs"
	}

	var pair []json.RawMessage
	if err := c.postInfo(ctx, map[string]any{"type": infoType}, &pair); err != nil {
		return nil, err
	}
	if len(pair) < 2 {
		return nil, fmt.Errorf("hyperliquid: malformed asset contexts response: %w", domain.ErrVenueUnavailable)
	}

	var ctxs []assetCtx
	if err := json.Unmarshal(pair[1], &ctxs); err != nil {
		return nil, fmt.Errorf("hyperliquid: decode asset contexts: %w", err)
	}
	return ctxs, nil
}

// Compile-time interface check.
var _ domain.VenueClient = (*Client)(nil)
