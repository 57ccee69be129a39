package middleware

import (
	"net/http"

	"pkt.systems/pslog"

	"github.com/manenim/gateway-guard/pkg/limiter"
)

type RateLimitOptions struct {
	Namespace limiter.Namespace
	Limit     limiter.Limit
	// KeyFunc defaults to DefaultKeyFunc("").
	KeyFunc KeyFunc
	// FailOpen admits requests when the limiter cannot reach its store.
	// The default rejects them with 503.
	FailOpen bool
	Logger   pslog.Logger
}

// RateLimit admits requests according to opts.Limit per key. Denied requests
// get 429 with Retry-After; admitted ones carry the X-RateLimit-* headers.
func RateLimit(rl limiter.RateLimiter, opts RateLimitOptions) func(http.Handler) http.Handler {
	keyFunc := opts.KeyFunc
	if keyFunc == nil {
		keyFunc = DefaultKeyFunc("")
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := keyFunc(r)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid rate limit key")
				return
			}

			dec, err := rl.Allow(r.Context(), limiter.Identity{Namespace: opts.Namespace, Key: key}, opts.Limit)
			if err != nil {
				if opts.FailOpen {
					logger.Warn("middleware.ratelimit.fail_open", "key", key, "error", err)
					next.ServeHTTP(w, r)
					return
				}
				logger.Error("middleware.ratelimit.error", "key", key, "error", err)
				respondError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}

			SetRateLimitHeaders(w.Header(), dec)
			if !dec.Allow {
				w.Header().Set("Retry-After", RetryAfterSeconds(dec.RetryAfter))
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
