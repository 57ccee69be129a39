package limiter

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyKey      = errors.New("empty rate limit key")
	ErrInvalidConfig = errors.New("invalid rate limiter configuration")
	ErrLimitExceeded = errors.New("rate limit exceeded")
)

// ExceededError is the error form of a denied Decision.
type ExceededError struct {
	RetryAfter time.Duration
	ResetTime  time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: retry after %s", e.RetryAfter)
}

func (e *ExceededError) Unwrap() error { return ErrLimitExceeded }
