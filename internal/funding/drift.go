package funding

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedged/internal/domain"
)

// DriftSource reads funding rates from the program gateway.
type DriftSource struct {
	client *resty.Client
}

// NewDriftSource creates a source against the gateway base URL.
func NewDriftSource(baseURL string) *DriftSource {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(30 * time.Second)
	return &DriftSource{client: client}
}

func (s *DriftSource) Venue() domain.Venue { return domain.VenueDrift }

type gatewayFunding struct {
	Symbol string `json:"symbol"`
	Rate   string `json:"rate"`
	Ts     int64  `json:"ts"` // unix millis
}

// FundingRate returns the current funding rate for a perp market.
func (s *DriftSource) FundingRate(ctx context.Context, symbol string) (domain.FundingRate, error) {
	var payload gatewayFunding
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&payload).
		Get("/v2/funding/" + symbol)
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("funding: drift %s: %w: %v",
			symbol, domain.ErrVenueUnavailable, err)
	}
	if resp.StatusCode() == 404 {
		return domain.FundingRate{}, fmt.Errorf("funding: drift %s: %w", symbol, domain.ErrUnknownMarket)
	}
	if resp.IsError() {
		return domain.FundingRate{}, fmt.Errorf("funding: drift %s: status %d: %w",
			symbol, resp.StatusCode(), domain.ErrVenueUnavailable)
	}

	rate, err := decimal.NewFromString(payload.Rate)
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("funding: drift %s: parse rate %q: %w",
			symbol, payload.Rate, err)
	}
	return domain.FundingRate{
		Venue:  domain.VenueDrift,
		Symbol: symbol,
		Rate:   rate,
		At:     time.UnixMilli(payload.Ts),
	}, nil
}
