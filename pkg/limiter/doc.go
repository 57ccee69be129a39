// Package limiter provides distributed rate limiting with two interchangeable
// algorithms, Token Bucket and Sliding Window, evaluated atomically against a
// shared keystore.Store.
//
// The primary entry point is the RateLimiter interface:
//
//	dec, err := limiter.Allow(ctx, id, limit)
//
// The returned Decision contains whether the request is allowed, how many whole
// permits remain, and timing hints for callers that want to set rate-limit
// headers (for example, Retry-After).
//
// # Algorithms
//
// Limit.Algorithm selects the policy; the zero value is TokenBucket.
//
// Token Bucket:
//
//   - Each identity has a "bucket" holding up to Burst tokens.
//   - Rate tokens are earned per Period, proportionally to elapsed time, and
//     never beyond Burst.
//   - A check consuming n permits succeeds only if n tokens are available;
//     otherwise nothing is consumed and RetryAfter is
//     (n - tokens) * Period / Rate.
//
// Sliding Window:
//
//   - Each identity has a set of request timestamps.
//   - On every check, timestamps at or before now-Period are purged.
//   - A check for n permits succeeds when fewer than Rate-n+1 timestamps
//     remain; otherwise RetryAfter is the time until enough of the oldest
//     timestamps leave the window.
//
// Token buckets absorb bursts while enforcing a long-term average; sliding
// windows give a hard ceiling on any trailing interval.
//
// # Core Types
//
// Limit defines the policy:
//
//   - Algorithm: TokenBucket (default) or SlidingWindow
//   - Rate: tokens earned per Period, or requests allowed per window
//   - Period: refill interval, or window length
//   - Burst: bucket capacity (Token Bucket only)
//
// Identity defines "who" is being rate-limited. It is split into:
//
//   - Namespace: a logical grouping (for example, "user", "ip", "api_key")
//   - Key: the identifier within that namespace (for example, "user_123")
//
// Resolving a Key from a request is the caller's job; see the middleware
// packages for KeyFunc-based helpers.
//
// # Backends
//
// A Limiter is constructed over any keystore.Store:
//
//   - NewMemoryLimiter: an in-process limiter backed by keystore.MemoryStore.
//     This is useful for unit tests, local development, and single-instance
//     deployments. Because its state is local to the process, it does not
//     enforce a global limit across multiple replicas.
//
//   - NewRedisLimiter: a distributed limiter backed by Redis. Each check is a
//     single Lua script performing the read/compute/write cycle atomically,
//     which makes it safe to use across many application instances while
//     enforcing a single global budget per identity.
//
// # Concurrency
//
// Limiter holds no per-identity state of its own. Concurrency safety comes
// entirely from the store executing each script atomically.
//
// # Context and Error Policy
//
// Allow accepts a context.Context that is passed through to the store, bounded
// by the limiter's own timeout (WithTimeout).
//
// This package does not impose a "fail open" vs "fail closed" policy. If the
// store is unavailable or the context expires, Allow returns a non-nil error
// (wrapping keystore.ErrUnavailable for store failures) and the caller decides
// whether to deny traffic (protect the backend) or allow traffic (maximize
// availability). A denial is never an error: it is a Decision with Allow set
// to false, and Decision.Err converts it into an *ExceededError when an error
// value is more convenient.
//
// # Numeric Semantics
//
// Timestamps are integer microseconds taken from the limiter's clock, so
// refill arithmetic does not drift with the magnitude of epoch time. Token
// comparisons use a small epsilon to avoid spurious denials from float
// rounding.
//
// # Storage Details
//
// Keys are "{prefix}{namespace}:{key}" with a default prefix of "limiter:".
// A key must be used with a single algorithm:
//
//   - Token Bucket stores a hash with "tokens" (float) and "last_refill"
//     (microseconds since epoch).
//   - Sliding Window stores a sorted set of unique members scored by request
//     time in microseconds.
//
// Keys expire once idle for long enough that a fresh key is equivalent, so
// identities that stop sending requests do not leak memory.
//
// # Configuration
//
// Limiters are configured using the Functional Options pattern:
//
//	limiter, _ := NewRedisLimiter(client,
//		WithPrefix("myapp:rate:"),
//		WithTimeout(2*time.Second),
//		WithRecorder(myMetrics),
//	)
//
// Supported options:
//
//   - WithPrefix(string): Sets the key prefix (default "limiter:").
//   - WithTimeout(time.Duration): Sets the context timeout for store
//     operations (default 5s).
//   - WithRecorder(metrics.Recorder): Injects a custom metrics backend.
//   - WithClock(clock.Clock): Replaces the time source.
//   - WithLogger(pslog.Logger): Structured logging of denials and failures.
package limiter
