package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"pkt.systems/pslog"

	"github.com/manenim/gateway-guard/pkg/lock"
)

type LockedOptions struct {
	// KeyFunc is required; requests without a key get 400.
	KeyFunc KeyFunc
	TTL     time.Duration
	// WaitTimeout is how long a request queues behind the current holder.
	WaitTimeout time.Duration
	Logger      pslog.Logger
}

// Locked serializes requests that resolve to the same key. A request that
// cannot take the lock within WaitTimeout gets 409 with a Retry-After hint.
func Locked(m *lock.Manager, opts LockedOptions) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	acquire := lock.AcquireOptions{TTL: opts.TTL, WaitTimeout: opts.WaitTimeout}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := opts.KeyFunc(r)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid lock key")
				return
			}

			err = m.WithLock(r.Context(), key, acquire, func(ctx context.Context, _ lock.Lease) error {
				next.ServeHTTP(w, r.WithContext(ctx))
				return nil
			})
			if err == nil {
				return
			}

			var denied *lock.DeniedError
			switch {
			case errors.As(err, &denied):
				w.Header().Set("Retry-After", RetryAfterSeconds(denied.RetryAfter))
				respondError(w, http.StatusConflict, "resource busy")
			case errors.Is(err, lock.ErrInvalidConfig):
				logger.Error("middleware.locked.config", "error", err)
				respondError(w, http.StatusInternalServerError, "lock misconfigured")
			case r.Context().Err() != nil:
				// client went away
			default:
				logger.Error("middleware.locked.error", "key", key, "error", err)
				respondError(w, http.StatusServiceUnavailable, "lock service unavailable")
			}
		})
	}
}
