package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/algotrendy/execution-engine/internal/model"
)

func newOrder() *model.Order {
	return &model.Order{
		ID:              uuid.NewString(),
		ExchangeOrderID: uuid.NewString(),
		Status:          model.StatusOpen,
	}
}

func TestExecute_ConcurrentCallsSubmitOnce(t *testing.T) {
	c := New(0)
	var calls int32

	const n = 10
	results := make([]*model.Order, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			order, err := c.Execute(context.Background(), "key-1", func(context.Context) (*model.Order, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(10 * time.Millisecond) // widen the race window
				return newOrder(), nil
			})
			if err != nil {
				t.Errorf("call %d failed: %v", i, err)
				return
			}
			results[i] = order
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 submission, got %d", got)
	}
	for i := 1; i < n; i++ {
		if results[i] == nil || results[0] == nil {
			t.Fatal("missing result")
		}
		if results[i].ID != results[0].ID || results[i].ExchangeOrderID != results[0].ExchangeOrderID {
			t.Errorf("call %d observed a different order: %+v vs %+v", i, results[i], results[0])
		}
	}
}

func TestExecute_SequentialRetriesReturnSameOrder(t *testing.T) {
	c := New(0)
	var calls int

	var first *model.Order
	for i := 0; i < 3; i++ {
		order, err := c.Execute(context.Background(), "key-1", func(context.Context) (*model.Order, error) {
			calls++
			return newOrder(), nil
		})
		if err != nil {
			t.Fatalf("retry %d failed: %v", i, err)
		}
		if first == nil {
			first = order
		} else if order.ID != first.ID {
			t.Errorf("retry %d returned order %s, want %s", i, order.ID, first.ID)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 submission across 3 retries, got %d", calls)
	}
}

func TestExecute_DistinctKeysDoNotShare(t *testing.T) {
	c := New(0)
	var calls int32

	var wg sync.WaitGroup
	orders := make([]*model.Order, 2)
	for i, key := range []string{"key-a", "key-b"} {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			order, err := c.Execute(context.Background(), key, func(context.Context) (*model.Order, error) {
				atomic.AddInt32(&calls, 1)
				return newOrder(), nil
			})
			if err != nil {
				t.Errorf("key %s failed: %v", key, err)
				return
			}
			orders[i] = order
		}(i, key)
	}
	wg.Wait()

	if calls != 2 {
		t.Fatalf("expected 2 submissions, got %d", calls)
	}
	if orders[0].ID == orders[1].ID || orders[0].ExchangeOrderID == orders[1].ExchangeOrderID {
		t.Error("distinct keys must produce distinct orders")
	}
}

func TestExecute_FailureIsNotCached(t *testing.T) {
	c := New(0)
	calls := 0

	_, err := c.Execute(context.Background(), "key-1", func(context.Context) (*model.Order, error) {
		calls++
		return nil, errors.New("venue unavailable")
	})
	if err == nil {
		t.Fatal("expected first attempt to fail")
	}

	order, err := c.Execute(context.Background(), "key-1", func(context.Context) (*model.Order, error) {
		calls++
		return newOrder(), nil
	})
	if err != nil {
		t.Fatalf("retry after failure should succeed: %v", err)
	}
	if order == nil {
		t.Fatal("expected an order from the retry")
	}
	if calls != 2 {
		t.Errorf("expected the retry to resubmit, got %d calls", calls)
	}
}

func TestCompleted(t *testing.T) {
	c := New(0)

	if _, ok := c.Completed("key-1"); ok {
		t.Error("unknown key should not report completed")
	}

	submitted, _ := c.Execute(context.Background(), "key-1", func(context.Context) (*model.Order, error) {
		return newOrder(), nil
	})

	cached, ok := c.Completed("key-1")
	if !ok {
		t.Fatal("expected completed entry")
	}
	if cached.ID != submitted.ID {
		t.Errorf("cached order %s, want %s", cached.ID, submitted.ID)
	}

	// The cached copy must not alias the caller's order.
	cached.Status = model.StatusFilled
	again, _ := c.Completed("key-1")
	if again.Status == model.StatusFilled {
		t.Error("mutating a returned order must not change the stored entry")
	}
}

func TestSweep_RemovesExpiredEntries(t *testing.T) {
	c := New(10 * time.Millisecond)

	for _, key := range []string{"a", "b"} {
		c.Execute(context.Background(), key, func(context.Context) (*model.Order, error) {
			return newOrder(), nil
		})
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}

	time.Sleep(20 * time.Millisecond)
	if removed := c.Sweep(); removed != 2 {
		t.Errorf("expected 2 swept, got %d", removed)
	}
	if c.Len() != 0 {
		t.Errorf("expected empty coordinator, got %d", c.Len())
	}

	// After expiry the key is retryable again.
	var calls int
	c.Execute(context.Background(), "a", func(context.Context) (*model.Order, error) {
		calls++
		return newOrder(), nil
	})
	if calls != 1 {
		t.Errorf("expected resubmission after expiry, got %d calls", calls)
	}
}
