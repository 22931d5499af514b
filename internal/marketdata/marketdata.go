// Package marketdata provides the read-only price source consumed by the
// risk validator and the position tracker refresh.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when no price is known for a symbol.
var ErrNoPrice = errors.New("marketdata: no price for symbol")

// Source serves the latest known price for a symbol.
type Source interface {
	GetLatest(ctx context.Context, symbol string) (decimal.Decimal, error)
}

const numShards = 16

// Cache is a sharded in-memory price cache. Feeds call SetPrice on every
// tick; readers never contend across symbols in different shards.
type Cache struct {
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]priceEntry
}

type priceEntry struct {
	price     decimal.Decimal
	updatedAt time.Time
}

// NewCache creates an empty price cache.
func NewCache() *Cache {
	c := &Cache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{items: make(map[string]priceEntry)}
	}
	return c
}

func (c *Cache) shardFor(symbol string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// SetPrice stores the latest price for a symbol.
func (c *Cache) SetPrice(symbol string, price decimal.Decimal) {
	s := c.shardFor(symbol)
	s.mu.Lock()
	s.items[symbol] = priceEntry{price: price, updatedAt: time.Now()}
	s.mu.Unlock()
}

// GetLatest implements Source.
func (c *Cache) GetLatest(_ context.Context, symbol string) (decimal.Decimal, error) {
	s := c.shardFor(symbol)
	s.mu.RLock()
	entry, ok := s.items[symbol]
	s.mu.RUnlock()
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}
	return entry.price, nil
}

// GetWithAge returns the price and how stale it is.
func (c *Cache) GetWithAge(symbol string) (decimal.Decimal, time.Duration, bool) {
	s := c.shardFor(symbol)
	s.mu.RLock()
	entry, ok := s.items[symbol]
	s.mu.RUnlock()
	if !ok {
		return decimal.Decimal{}, 0, false
	}
	return entry.price, time.Since(entry.updatedAt), true
}

// Len reports the number of cached symbols.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than maxAge and returns the count removed.
func (c *Cache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, s := range c.shards {
		s.mu.Lock()
		for sym, entry := range s.items {
			if entry.updatedAt.Before(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
