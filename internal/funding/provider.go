// Package funding fetches current funding rates per venue and market for
// the rebalance engine.
package funding

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/hedged/internal/domain"
)

// VenueSource fetches the live funding rate for one market on one venue.
type VenueSource interface {
	Venue() domain.Venue
	FundingRate(ctx context.Context, symbol string) (domain.FundingRate, error)
}

// RateCache is a read-through cache for recent rates. Implemented by
// cache/redis.FundingCache; nil disables caching.
type RateCache interface {
	Get(ctx context.Context, key domain.MarketKey) (domain.FundingRate, error)
	Set(ctx context.Context, rate domain.FundingRate) error
}

// Provider batch-fetches funding rates, one external call per distinct
// (venue, market) pair.
type Provider struct {
	sources map[domain.Venue]VenueSource
	cache   RateCache
	logger  *slog.Logger
}

// NewProvider builds a provider over the given venue sources. cache may be
// nil.
func NewProvider(cache RateCache, logger *slog.Logger, sources ...VenueSource) *Provider {
	m := make(map[domain.Venue]VenueSource, len(sources))
	for _, s := range sources {
		m[s.Venue()] = s
	}
	return &Provider{
		sources: m,
		cache:   cache,
		logger:  logger.With(slog.String("component", "funding")),
	}
}

// Rates resolves funding rates for the given market keys, deduplicating
// repeats. Markets whose rate cannot be fetched are logged and omitted from
// the result; the caller decides what a missing rate means.
func (p *Provider) Rates(ctx context.Context, keys []domain.MarketKey) map[domain.MarketKey]domain.FundingRate {
	out := make(map[domain.MarketKey]domain.FundingRate, len(keys))
	for _, key := range keys {
		if _, done := out[key]; done {
			continue
		}
		rate, err := p.rate(ctx, key)
		if err != nil {
			p.logger.Warn("funding rate unavailable",
				slog.String("venue", string(key.Venue)),
				slog.String("symbol", key.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		out[key] = rate
	}
	return out
}

func (p *Provider) rate(ctx context.Context, key domain.MarketKey) (domain.FundingRate, error) {
	if p.cache != nil {
		if rate, err := p.cache.Get(ctx, key); err == nil {
			return rate, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("funding cache read failed",
				slog.String("symbol", key.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	source, ok := p.sources[key.Venue]
	if !ok {
		return domain.FundingRate{}, domain.ErrUnknownMarket
	}
	rate, err := source.FundingRate(ctx, key.Symbol)
	if err != nil {
		return domain.FundingRate{}, err
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, rate); err != nil {
			p.logger.Warn("funding cache write failed",
				slog.String("symbol", key.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return rate, nil
}
