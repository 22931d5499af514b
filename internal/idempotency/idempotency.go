// Package idempotency provides the coordination primitive that guarantees
// a logical order — identified by its client order id — reaches the venue
// at most once, no matter how many times submission is attempted
// concurrently or sequentially.
package idempotency

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/algotrendy/execution-engine/internal/model"
)

const numShards = 16

// SubmitFunc performs the actual venue submission.
type SubmitFunc func(ctx context.Context) (*model.Order, error)

// Coordinator serializes submissions per key. Keys hash to one of a fixed
// number of shards; each key owns its own mutex, so distinct keys never
// block each other and there is no global lock on the submission path.
//
// Completed results are retained for ttl so that late retries observe the
// original order instead of resubmitting. Failed submissions are never
// cached: the key stays retryable.
type Coordinator struct {
	shards [numShards]*shard
	ttl    time.Duration
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu          sync.Mutex
	done        bool
	order       *model.Order
	completedAt time.Time
}

// New creates a coordinator. ttl bounds how long completed entries are
// retained; zero means retain for the life of the process.
func New(ttl time.Duration) *Coordinator {
	c := &Coordinator{ttl: ttl}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return c
}

func (c *Coordinator) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// entryFor returns the live entry for key, creating one if absent.
// Expired completed entries are replaced so stale results cannot be
// replayed forever.
func (c *Coordinator) entryFor(key string) *entry {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok && c.expired(e) {
		ok = false
	}
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

// expired must only be called while holding the shard lock; it takes the
// entry lock briefly, which is safe because entry locks are never held
// while acquiring a shard lock.
func (c *Coordinator) expired(e *entry) bool {
	if c.ttl <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done && time.Since(e.completedAt) > c.ttl
}

// Execute runs submit exactly once for key. If a previous call already
// completed, the stored order is returned without invoking submit. If a
// previous call is in flight, Execute blocks until it finishes and then
// observes its result. On submit failure nothing is stored, so the next
// Execute for the same key attempts submission again.
func (c *Coordinator) Execute(ctx context.Context, key string, submit SubmitFunc) (*model.Order, error) {
	e := c.entryFor(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done {
		return copyOrder(e.order), nil
	}

	order, err := submit(ctx)
	if err != nil {
		return nil, err
	}

	e.order = copyOrder(order)
	e.done = true
	e.completedAt = time.Now()
	return order, nil
}

// Completed returns the stored order for key, if a submission completed
// and has not expired.
func (c *Coordinator) Completed(key string) (*model.Order, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.done || (c.ttl > 0 && time.Since(e.completedAt) > c.ttl) {
		return nil, false
	}
	return copyOrder(e.order), true
}

// Len reports the number of tracked keys across all shards.
func (c *Coordinator) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// Sweep removes completed entries older than the ttl and returns the
// number removed. No-op when ttl is zero.
func (c *Coordinator) Sweep() int {
	if c.ttl <= 0 {
		return 0
	}
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, e := range s.entries {
			if c.expired(e) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps expired entries on the given interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

func copyOrder(o *model.Order) *model.Order {
	if o == nil {
		return nil
	}
	dup := *o
	return &dup
}
