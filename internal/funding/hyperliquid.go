package funding

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedged/internal/domain"
)

// fundingLookback bounds the history window requested per fetch; one hour
// of history always contains the latest hourly funding point.
const fundingLookback = 2 * time.Hour

// HyperliquidSource reads funding history from the exchange info endpoint.
type HyperliquidSource struct {
	client *resty.Client
}

// NewHyperliquidSource creates a source against the exchange base URL.
func NewHyperliquidSource(baseURL string) *HyperliquidSource {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(30 * time.Second)
	return &HyperliquidSource{client: client}
}

func (s *HyperliquidSource) Venue() domain.Venue { return domain.VenueHyperliquid }

type fundingHistoryEntry struct {
	Coin        string `json:"coin"`
	FundingRate string `json:"fundingRate"`
	Time        int64  `json:"time"` // unix millis
}

// FundingRate returns the most recent funding point for a coin.
func (s *HyperliquidSource) FundingRate(ctx context.Context, symbol string) (domain.FundingRate, error) {
	var history []fundingHistoryEntry
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"type":      "fundingHistory",
			"coin":      symbol,
			"startTime": time.Now().Add(-fundingLookback).UnixMilli(),
		}).
		SetResult(&history).
		Post("/info")
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("funding: hyperliquid %s: %w: %v",
			symbol, domain.ErrVenueUnavailable, err)
	}
	if resp.IsError() {
		return domain.FundingRate{}, fmt.Errorf("funding: hyperliquid %s: status %d: %w",
			symbol, resp.StatusCode(), domain.ErrVenueUnavailable)
	}
	if len(history) == 0 {
		return domain.FundingRate{}, fmt.Errorf("funding: hyperliquid %s: no history: %w",
			symbol, domain.ErrNotFound)
	}

	latest := history[len(history)-1]
	rate, err := decimal.NewFromString(latest.FundingRate)
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("funding: hyperliquid %s: parse rate %q: %w",
			symbol, latest.FundingRate, err)
	}
	return domain.FundingRate{
		Venue:  domain.VenueHyperliquid,
		Symbol: symbol,
		Rate:   rate,
		At:     time.UnixMilli(latest.Time),
	}, nil
}
