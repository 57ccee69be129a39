// Package ginmiddleware adapts the rate limiter and lock manager to Gin.
package ginmiddleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"pkt.systems/pslog"

	"github.com/manenim/gateway-guard/pkg/limiter"
	"github.com/manenim/gateway-guard/pkg/lock"
	"github.com/manenim/gateway-guard/pkg/middleware"
)

// KeyFunc resolves the rate-limiting or lock key from the request.
type KeyFunc func(*gin.Context) (string, error)

// Options configure the Gin middleware behavior.
type Options struct {
	Namespace limiter.Namespace
	Limit     limiter.Limit
	KeyHeader string
	FailOpen  bool
	Logger    pslog.Logger
}

// RateLimit enforces rate limits for incoming Gin requests.
func RateLimit(rl limiter.RateLimiter, keyFunc KeyFunc, opts Options) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = DefaultKeyFunc(opts.KeyHeader)
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}

	return func(c *gin.Context) {
		key, err := keyFunc(c)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid rate limit key")
			return
		}

		dec, err := rl.Allow(c.Request.Context(), limiter.Identity{Namespace: opts.Namespace, Key: key}, opts.Limit)
		if err != nil {
			if opts.FailOpen {
				logger.Warn("gin.ratelimit.fail_open", "key", key, "error", err)
				c.Next()
				return
			}
			logger.Error("gin.ratelimit.error", "key", key, "error", err)
			respondError(c, http.StatusServiceUnavailable, "rate limiter unavailable")
			return
		}

		middleware.SetRateLimitHeaders(c.Writer.Header(), dec)

		if !dec.Allow {
			c.Header("Retry-After", middleware.RetryAfterSeconds(dec.RetryAfter))
			respondError(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		c.Next()
	}
}

// LockOptions configure Locked.
type LockOptions struct {
	TTL         time.Duration
	WaitTimeout time.Duration
	Logger      pslog.Logger
}

// Locked holds the lock on the request key for the rest of the chain.
func Locked(m *lock.Manager, keyFunc KeyFunc, opts LockOptions) gin.HandlerFunc {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	acquire := lock.AcquireOptions{TTL: opts.TTL, WaitTimeout: opts.WaitTimeout}

	return func(c *gin.Context) {
		key, err := keyFunc(c)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid lock key")
			return
		}

		err = m.WithLock(c.Request.Context(), key, acquire, func(ctx context.Context, _ lock.Lease) error {
			c.Next()
			return nil
		})
		if err == nil {
			return
		}

		var denied *lock.DeniedError
		switch {
		case errors.As(err, &denied):
			c.Header("Retry-After", middleware.RetryAfterSeconds(denied.RetryAfter))
			respondError(c, http.StatusConflict, "resource busy")
		case errors.Is(err, lock.ErrInvalidConfig):
			logger.Error("gin.locked.config", "error", err)
			respondError(c, http.StatusInternalServerError, "lock misconfigured")
		case c.Request.Context().Err() != nil:
			c.Abort()
		default:
			logger.Error("gin.locked.error", "key", key, "error", err)
			respondError(c, http.StatusServiceUnavailable, "lock service unavailable")
		}
	}
}

// DefaultKeyFunc resolves a key using header, Authorization, or client IP.
// An empty header means X-API-Key.
func DefaultKeyFunc(header string) KeyFunc {
	name := header
	if name == "" {
		name = "X-API-Key"
	}
	return func(c *gin.Context) (string, error) {
		if value := strings.TrimSpace(c.GetHeader(name)); value != "" {
			return value, nil
		}
		if auth := strings.TrimSpace(c.GetHeader("Authorization")); auth != "" {
			parts := strings.Fields(auth)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				return parts[1], nil
			}
			return auth, nil
		}

		if ip := c.ClientIP(); ip != "" {
			return ip, nil
		}

		return "", middleware.ErrNoKey
	}
}

// ParamKey uses a route parameter such as ":id".
func ParamKey(name string) KeyFunc {
	return func(c *gin.Context) (string, error) {
		if v := c.Param(name); v != "" {
			return v, nil
		}
		return "", middleware.ErrNoKey
	}
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, middleware.ErrorBody(message))
}
