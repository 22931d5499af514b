package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// CachedSource wraps a primary Source with a Redis read-through cache so
// multiple engine instances can share one price view. Reads check Redis
// first and fall back to the primary; Publish writes through to both.
type CachedSource struct {
	primary Source
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedSource creates a Redis-backed wrapper around a primary source.
func NewCachedSource(primary Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{primary: primary, rdb: rdb, ttl: ttl}
}

// GetLatest implements Source.
func (s *CachedSource) GetLatest(ctx context.Context, symbol string) (decimal.Decimal, error) {
	val, err := s.rdb.Get(ctx, priceKey(symbol)).Result()
	if err == nil {
		if price, perr := decimal.NewFromString(val); perr == nil {
			return price, nil
		}
	}

	// Cache miss: read from primary and re-populate.
	price, err := s.primary.GetLatest(ctx, symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	s.rdb.Set(ctx, priceKey(symbol), price.String(), s.ttl)
	return price, nil
}

// Publish writes a fresh price through to Redis and the primary when the
// primary is a local Cache.
func (s *CachedSource) Publish(ctx context.Context, symbol string, price decimal.Decimal) {
	if cache, ok := s.primary.(*Cache); ok {
		cache.SetPrice(symbol, price)
	}
	s.rdb.Set(ctx, priceKey(symbol), price.String(), s.ttl)
}

func priceKey(symbol string) string { return fmt.Sprintf("price:%s", symbol) }
