package limiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryLimiter_Allow_Basics(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	limiter := NewMemoryLimiter()

	limit := Limit{
		Rate:   10,
		Period: time.Second,
		Burst:  10,
	}

	id := Identity{Namespace: "test", Key: "user_1"}

	decision, err := limiter.Allow(ctx, id, limit)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}

	if !decision.Allow {
		t.Error("Expected request to be allowed, but got denied!")
	}

	if decision.Remaining != 9 {
		t.Errorf("Expected 9 remaining tokens got %d instead!", decision.Remaining)
	}
}

func TestMemoryLimiter_Exhaustion(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	limiter := NewMemoryLimiter()

	limit := Limit{
		Rate:   1,
		Period: time.Second,
		Burst:  5,
	}

	id := Identity{Namespace: "test", Key: "user_1"}

	for i := 0; i < 5; i++ {
		dec, _ := limiter.Allow(ctx, id, limit)
		if !dec.Allow {
			t.Fatalf("Request %d was unexpectedly denied", i)
		}
	}

	dec, _ := limiter.Allow(ctx, id, limit)
	if dec.Allow {
		t.Errorf("The 6th request should have been denied (Burst=5), but was allowed")
	}
	if !errors.Is(dec.Err(), ErrLimitExceeded) {
		t.Errorf("Expected denied decision to report ErrLimitExceeded, got %v", dec.Err())
	}
}

func TestMemoryLimiter_Refill(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	limiter := NewMemoryLimiter()

	limit := Limit{
		Rate:   10,
		Period: time.Second,
		Burst:  1,
	}

	id := Identity{Namespace: "test", Key: "user_1"}

	limiter.Allow(ctx, id, limit)

	dec, _ := limiter.Allow(ctx, id, limit)
	if dec.Allow {
		t.Fatal("Should be denied immediately")
	}

	time.Sleep(150 * time.Millisecond)

	dec, err := limiter.Allow(ctx, id, limit)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !dec.Allow {
		t.Errorf("Refill failed! Waited 150ms for a 100ms token but was denied.")
	}
}

// Race Test
func TestMemoryLimiter_ThreadSafety(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	limiter := NewMemoryLimiter()

	limit := Limit{
		Rate:   1,
		Burst:  100,
		Period: time.Minute,
	}

	id := Identity{Namespace: "test", Key: "user_1"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	wg.Add(100)
	for range 100 {
		go func() {
			defer wg.Done()
			dec, err := limiter.Allow(ctx, id, limit)
			if err == nil && dec.Allow {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("Expected 100 admitted requests, got %d", allowed)
	}
	dec, _ := limiter.Allow(ctx, id, limit)
	if dec.Allow {
		t.Errorf("Expected bucket to be exhausted after 100 concurrent requests, but 101st was allowed")
	}
}

func TestMemoryLimiter_Validation(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()
	id := Identity{Namespace: "test", Key: "user_1"}

	cases := []struct {
		name    string
		id      Identity
		limit   Limit
		permits int64
		want    error
	}{
		{"empty key", Identity{Namespace: "test"}, Limit{Rate: 1, Period: time.Second, Burst: 1}, 1, ErrEmptyKey},
		{"zero rate", id, Limit{Rate: 0, Period: time.Second, Burst: 1}, 1, ErrInvalidConfig},
		{"zero period", id, Limit{Rate: 1, Burst: 1}, 1, ErrInvalidConfig},
		{"zero burst", id, Limit{Rate: 1, Period: time.Second}, 1, ErrInvalidConfig},
		{"unknown algorithm", id, Limit{Algorithm: "leaky", Rate: 1, Period: time.Second, Burst: 1}, 1, ErrInvalidConfig},
		{"permits above capacity", id, Limit{Rate: 1, Period: time.Second, Burst: 2}, 3, ErrInvalidConfig},
		{"zero permits", id, Limit{Rate: 1, Period: time.Second, Burst: 2}, 0, ErrInvalidConfig},
		{"window permits above max", id, Limit{Algorithm: SlidingWindow, Rate: 2, Period: time.Second}, 3, ErrInvalidConfig},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := limiter.AllowN(ctx, tc.id, tc.limit, tc.permits)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func BenchmarkMemoryLimiter_Allow(b *testing.B) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	limiter := NewMemoryLimiter()

	limit := Limit{
		Rate:   1000,
		Burst:  100000,
		Period: time.Second,
	}
	id := Identity{Namespace: "test", Key: "user_1"}

	for b.Loop() {
		limiter.Allow(ctx, id, limit)
	}
}

func BenchmarkMemoryLimiter_SlidingWindow(b *testing.B) {
	ctx := context.Background()
	limiter := NewMemoryLimiter()

	limit := Limit{Algorithm: SlidingWindow, Rate: 100, Period: 10 * time.Millisecond}
	id := Identity{Namespace: "test", Key: "user_1"}

	for b.Loop() {
		limiter.Allow(ctx, id, limit)
	}
}
