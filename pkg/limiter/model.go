package limiter

import (
	"context"
	"fmt"
	"time"
)

type Namespace string

// Algorithm selects how a Limit is enforced.
type Algorithm string

const (
	// TokenBucket refills Rate tokens every Period up to Burst.
	TokenBucket Algorithm = "token_bucket"
	// SlidingWindow admits at most Rate requests in any trailing Period.
	SlidingWindow Algorithm = "sliding_window"
)

// Limit is the policy applied to one identity.
//
// For TokenBucket, Burst is the bucket capacity and Rate tokens are earned
// per Period. For SlidingWindow, Rate is the maximum number of requests in a
// window of length Period and Burst is ignored.
type Limit struct {
	Algorithm Algorithm
	Rate      int64
	Period    time.Duration
	Burst     int64
}

// Capacity is the largest number of permits a single call may ask for.
func (l Limit) Capacity() int64 {
	if l.algorithm() == SlidingWindow {
		return l.Rate
	}
	return l.Burst
}

func (l Limit) algorithm() Algorithm {
	if l.Algorithm == "" {
		return TokenBucket
	}
	return l.Algorithm
}

// Validate rejects limits that can never admit a request.
func (l Limit) Validate() error {
	switch l.algorithm() {
	case TokenBucket, SlidingWindow:
	default:
		return fmt.Errorf("unknown algorithm %q: %w", l.Algorithm, ErrInvalidConfig)
	}
	if l.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %d: %w", l.Rate, ErrInvalidConfig)
	}
	if l.Period < time.Microsecond {
		return fmt.Errorf("period must be at least 1µs, got %s: %w", l.Period, ErrInvalidConfig)
	}
	if l.algorithm() == TokenBucket && l.Burst <= 0 {
		return fmt.Errorf("burst must be positive, got %d: %w", l.Burst, ErrInvalidConfig)
	}
	return nil
}

type Decision struct {
	Allow      bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
	ResetTime  time.Time
}

// Err returns nil for an admitted request and an *ExceededError otherwise.
func (d Decision) Err() error {
	if d.Allow {
		return nil
	}
	return &ExceededError{RetryAfter: d.RetryAfter, ResetTime: d.ResetTime}
}

type Identity struct {
	Namespace Namespace
	Key       string
}

func (id Identity) String() string {
	return string(id.Namespace) + ":" + id.Key
}

type RateLimiter interface {
	Allow(ctx context.Context, id Identity, limit Limit) (Decision, error)
}
