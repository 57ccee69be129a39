package lock

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDenied        = errors.New("lock denied")
	ErrLeaseLost     = errors.New("lease lost")
	ErrInvalidConfig = errors.New("invalid lock configuration")
)

// DeniedError reports that another owner kept the lock for the whole wait.
type DeniedError struct {
	Key        string
	Waited     time.Duration
	RetryAfter time.Duration // remaining TTL of the current holder, 0 if unknown
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("lock %q denied: held by another owner (waited %s, retry after %s)",
		e.Key, e.Waited, e.RetryAfter)
}

func (e *DeniedError) Unwrap() error { return ErrDenied }
