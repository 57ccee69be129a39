package idempotency

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig     = errors.New("invalid idempotency configuration")
	ErrEmptyOperation    = errors.New("operation id must not be empty")
	ErrInvalidParams     = errors.New("invalid idempotency params")
	ErrDuplicateInFlight = errors.New("duplicate request in flight")
	ErrPreviousFailure   = errors.New("previous execution failed")
	ErrCorruptRecord     = errors.New("corrupt idempotency record")
)

// DuplicateError reports that another execution of the same fingerprint was
// still running when the caller gave up.
type DuplicateError struct {
	Fingerprint string
	FailFast    bool
}

func (e *DuplicateError) Error() string {
	if e.FailFast {
		return fmt.Sprintf("idempotency %s: duplicate request in flight", short(e.Fingerprint))
	}
	return fmt.Sprintf("idempotency %s: duplicate request still in flight after wait", short(e.Fingerprint))
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateInFlight }

// FailedError replays a cached failure.
type FailedError struct {
	Fingerprint string
	Message     string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("idempotency %s: previous execution failed: %s", short(e.Fingerprint), e.Message)
}

func (e *FailedError) Unwrap() error { return ErrPreviousFailure }

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
