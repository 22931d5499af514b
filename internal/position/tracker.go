// Package position maintains the in-memory authoritative view of open
// positions per (exchange, symbol), updated on every fill and price tick.
package position

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/algotrendy/execution-engine/internal/events"
	"github.com/algotrendy/execution-engine/internal/model"
)

const numShards = 16

// Tracker is a sharded map of open positions. Mutations on one
// (exchange, symbol) key are serialized; different keys proceed
// independently. Lifecycle events are published to the bus, which may be
// nil when no observers are wired.
type Tracker struct {
	shards [numShards]*shard
	bus    *events.Bus
}

type shard struct {
	mu        sync.RWMutex
	positions map[string]*model.Position
}

// NewTracker creates an empty tracker publishing to bus (may be nil).
func NewTracker(bus *events.Bus) *Tracker {
	t := &Tracker{bus: bus}
	for i := 0; i < numShards; i++ {
		t.shards[i] = &shard{positions: make(map[string]*model.Position)}
	}
	return t
}

func (t *Tracker) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return t.shards[h.Sum32()%numShards]
}

// ApplyFill folds an executed fill into the position for
// (exchange, symbol). A fill on the same side grows the position and
// recomputes the volume-weighted average entry price; a fill on the
// opposite side reduces it, realizing PnL on the reduced portion, and
// flips it when the fill exceeds the open quantity. Returns a snapshot of
// the resulting position; the second return is false when the fill closed
// the position entirely.
func (t *Tracker) ApplyFill(exchange, symbol string, side model.Side, fillQty, fillPrice decimal.Decimal) (model.Position, bool) {
	key := model.PositionKey(exchange, symbol)
	s := t.shardFor(key)
	now := time.Now().UTC()

	s.mu.Lock()
	p, ok := s.positions[key]
	if !ok {
		p = &model.Position{
			Symbol:     symbol,
			Exchange:   exchange,
			Side:       side,
			Quantity:   fillQty,
			EntryPrice: fillPrice,
			OpenedAt:   now,
		}
		p.MarkToMarket(fillPrice, now)
		s.positions[key] = p
		snapshot := *p
		s.mu.Unlock()
		t.publish(events.PositionOpened, snapshot)
		return snapshot, true
	}

	if p.Side == side {
		// Same side: grow and recompute VWAP entry.
		newQty := p.Quantity.Add(fillQty)
		p.EntryPrice = p.EntryPrice.Mul(p.Quantity).
			Add(fillPrice.Mul(fillQty)).
			Div(newQty)
		p.Quantity = newQty
		p.MarkToMarket(fillPrice, now)
		snapshot := *p
		s.mu.Unlock()
		t.publish(events.PositionUpdated, snapshot)
		return snapshot, true
	}

	// Opposite side: realize PnL on the reduced portion.
	reduced := decimal.Min(fillQty, p.Quantity)
	realized := fillPrice.Sub(p.EntryPrice).Mul(reduced).Mul(p.Side.Sign())
	p.RealizedPnL = p.RealizedPnL.Add(realized)

	switch fillQty.Cmp(p.Quantity) {
	case -1: // partial reduce
		p.Quantity = p.Quantity.Sub(fillQty)
		p.MarkToMarket(fillPrice, now)
		snapshot := *p
		s.mu.Unlock()
		t.publish(events.PositionUpdated, snapshot)
		return snapshot, true

	case 0: // fully closed
		p.Quantity = decimal.Zero
		p.MarkToMarket(fillPrice, now)
		snapshot := *p
		delete(s.positions, key)
		s.mu.Unlock()
		t.publish(events.PositionClosed, snapshot)
		return snapshot, false

	default: // flip to the other side with the remainder
		closed := *p
		closed.Quantity = decimal.Zero
		closed.MarkToMarket(fillPrice, now)

		p.Side = side
		p.Quantity = fillQty.Sub(reduced)
		p.EntryPrice = fillPrice
		p.OpenedAt = now
		p.MarkToMarket(fillPrice, now)
		snapshot := *p
		s.mu.Unlock()
		t.publish(events.PositionClosed, closed)
		t.publish(events.PositionOpened, snapshot)
		return snapshot, true
	}
}

// UpdatePrice marks the position for (exchange, symbol) to the latest
// price, recomputing unrealized PnL and margin health. No-op when no
// position is open on that key.
func (t *Tracker) UpdatePrice(exchange, symbol string, price decimal.Decimal) {
	key := model.PositionKey(exchange, symbol)
	s := t.shardFor(key)

	s.mu.Lock()
	p, ok := s.positions[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	p.MarkToMarket(price, time.Now().UTC())
	snapshot := *p
	s.mu.Unlock()

	t.publish(events.PositionUpdated, snapshot)
}

// Get returns a snapshot of the position for (exchange, symbol).
func (t *Tracker) Get(exchange, symbol string) (model.Position, bool) {
	key := model.PositionKey(exchange, symbol)
	s := t.shardFor(key)

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[key]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// GetAll returns snapshots of every open position.
func (t *Tracker) GetAll() []model.Position {
	var out []model.Position
	for _, s := range t.shards {
		s.mu.RLock()
		for _, p := range s.positions {
			out = append(out, *p)
		}
		s.mu.RUnlock()
	}
	return out
}

// Count reports the number of open positions.
func (t *Tracker) Count() int {
	total := 0
	for _, s := range t.shards {
		s.mu.RLock()
		total += len(s.positions)
		s.mu.RUnlock()
	}
	return total
}

func (t *Tracker) publish(kind events.Kind, p model.Position) {
	if t.bus != nil {
		t.bus.Publish(kind, p)
	}
}
