package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/hedged/internal/domain"
)

// FundingCache stores recent funding rates so a manual rebalance trigger
// right after a scheduled run does not re-fetch every market. Each rate is
// a hash at "funding:{venue}:{symbol}" with a short TTL.
type FundingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFundingCache creates a FundingCache backed by the given Client.
func NewFundingCache(c *Client, ttl time.Duration) *FundingCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &FundingCache{rdb: c.Underlying(), ttl: ttl}
}

func fundingKey(key domain.MarketKey) string {
	return "funding:" + string(key.Venue) + ":" + key.Symbol
}

// Set stores one funding rate.
func (fc *FundingCache) Set(ctx context.Context, rate domain.FundingRate) error {
	key := fundingKey(domain.MarketKey{Venue: rate.Venue, Symbol: rate.Symbol})
	fields := map[string]interface{}{
		"rate": rate.Rate.String(),
		"ts":   strconv.FormatInt(rate.At.UnixNano(), 10),
	}
	pipe := fc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, fc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set funding %s %s: %w", rate.Venue, rate.Symbol, err)
	}
	return nil
}

// Get retrieves one cached funding rate. Returns domain.ErrNotFound on a
// miss or an expired key.
func (fc *FundingCache) Get(ctx context.Context, key domain.MarketKey) (domain.FundingRate, error) {
	vals, err := fc.rdb.HGetAll(ctx, fundingKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.FundingRate{}, domain.ErrNotFound
		}
		return domain.FundingRate{}, fmt.Errorf("redis: get funding %s %s: %w", key.Venue, key.Symbol, err)
	}
	if len(vals) == 0 {
		return domain.FundingRate{}, domain.ErrNotFound
	}

	rate, err := decimal.NewFromString(vals["rate"])
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("redis: parse funding rate %q: %w", vals["rate"], err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("redis: parse funding ts %q: %w", vals["ts"], err)
	}
	return domain.FundingRate{
		Venue:  key.Venue,
		Symbol: key.Symbol,
		Rate:   rate,
		At:     time.Unix(0, tsNano),
	}, nil
}
