package limiter

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/xid"
	"pkt.systems/pslog"

	"github.com/manenim/gateway-guard/pkg/clock"
	"github.com/manenim/gateway-guard/pkg/keystore"
	"github.com/manenim/gateway-guard/pkg/metrics"
)

// Limiter evaluates Limits against state held in a keystore.Store. Each check
// is a single script execution, so concurrent checks for the same identity
// from any number of processes sharing the store are serialized by the store.
type Limiter struct {
	store    keystore.Store
	prefix   string
	timeout  time.Duration
	recorder metrics.Recorder
	clock    clock.Clock
	logger   pslog.Logger
}

var _ RateLimiter = (*Limiter)(nil)

// NewLimiter builds a Limiter over store.
func NewLimiter(store keystore.Store, opts ...Option) *Limiter {
	l := newLimiter(opts)
	l.store = store
	return l
}

func newLimiter(opts []Option) *Limiter {
	l := &Limiter{
		prefix:   defaultPrefix,
		timeout:  defaultTimeout,
		recorder: metrics.NoOp{},
		clock:    clock.Real{},
		logger:   pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one permit for id under limit.
func (l *Limiter) Allow(ctx context.Context, id Identity, limit Limit) (Decision, error) {
	return l.AllowN(ctx, id, limit, 1)
}

// AllowN consumes permits for id under limit when they are all available and
// reports the decision. Nothing is consumed on denial.
func (l *Limiter) AllowN(ctx context.Context, id Identity, limit Limit, permits int64) (Decision, error) {
	if id.Key == "" {
		return Decision{}, ErrEmptyKey
	}
	if err := limit.Validate(); err != nil {
		return Decision{}, err
	}
	if permits <= 0 || permits > limit.Capacity() {
		return Decision{}, fmt.Errorf("permits %d outside 1..%d: %w", permits, limit.Capacity(), ErrInvalidConfig)
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	now := l.clock.Now()
	key := l.prefix + id.String()
	algorithm := limit.algorithm()

	var (
		dec Decision
		err error
	)
	switch algorithm {
	case SlidingWindow:
		dec, err = l.slidingWindow(ctx, key, limit, permits, now)
	default:
		dec, err = l.tokenBucket(ctx, key, limit, permits, now)
	}

	tags := map[string]string{"algorithm": string(algorithm)}
	l.recorder.Observe("ratelimit.latency", float64(time.Since(start))/float64(time.Millisecond), tags)
	if err != nil {
		l.recorder.Add("ratelimit.error", 1, tags)
		l.logger.Warn("limiter.check.failed", "key", key, "algorithm", algorithm, "error", err)
		return Decision{}, err
	}

	result := "allow"
	if !dec.Allow {
		result = "deny"
		l.logger.Debug("limiter.deny", "key", key, "algorithm", algorithm, "permits", permits, "retry_after", dec.RetryAfter)
	}
	l.recorder.Add("ratelimit.call", 1, map[string]string{"algorithm": string(algorithm), "result": result})
	return dec, nil
}

func (l *Limiter) tokenBucket(ctx context.Context, key string, limit Limit, permits int64, now time.Time) (Decision, error) {
	res, err := l.store.Eval(ctx, tokenBucketScript, []string{key},
		limit.Burst,
		limit.Rate,
		limit.Period.Microseconds(),
		now.UnixMicro(),
		permits,
		bucketTTL(limit).Milliseconds(),
	)
	if err != nil {
		return Decision{}, err
	}
	values, err := replyValues(res, 3)
	if err != nil {
		return Decision{}, err
	}
	allowed, err := keystore.ToInt64(values[0])
	if err != nil {
		return Decision{}, err
	}
	tokens, err := keystore.ToFloat(values[1])
	if err != nil {
		return Decision{}, err
	}
	retryUs, err := keystore.ToFloat(values[2])
	if err != nil {
		return Decision{}, err
	}

	retry := microsDuration(retryUs)
	return Decision{
		Allow:      allowed == 1,
		Limit:      limit.Burst,
		Remaining:  int64(math.Floor(tokens + epsilon)),
		RetryAfter: retry,
		ResetTime:  now.Add(retry),
	}, nil
}

func (l *Limiter) slidingWindow(ctx context.Context, key string, limit Limit, permits int64, now time.Time) (Decision, error) {
	window := limit.Period.Microseconds()
	nowUs := now.UnixMicro()
	res, err := l.store.Eval(ctx, slidingWindowScript, []string{key},
		window,
		limit.Rate,
		nowUs,
		nowUs-window,
		permits,
		xid.New().String(),
		windowTTL(limit).Milliseconds(),
	)
	if err != nil {
		return Decision{}, err
	}
	values, err := replyValues(res, 3)
	if err != nil {
		return Decision{}, err
	}
	allowed, err := keystore.ToInt64(values[0])
	if err != nil {
		return Decision{}, err
	}
	remaining, err := keystore.ToInt64(values[1])
	if err != nil {
		return Decision{}, err
	}
	retryUs, err := keystore.ToFloat(values[2])
	if err != nil {
		return Decision{}, err
	}

	retry := microsDuration(retryUs)
	return Decision{
		Allow:      allowed == 1,
		Limit:      limit.Rate,
		Remaining:  remaining,
		RetryAfter: retry,
		ResetTime:  now.Add(retry),
	}, nil
}

// bucketTTL keeps idle buckets around for twice the time a full refill takes,
// after which a fresh (full) bucket is indistinguishable from the stored one.
func bucketTTL(limit Limit) time.Duration {
	refill := time.Duration(float64(limit.Period) * float64(limit.Burst) / float64(limit.Rate))
	ttl := 2 * refill
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func windowTTL(limit Limit) time.Duration {
	ttl := limit.Period.Truncate(time.Millisecond) + time.Millisecond
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
