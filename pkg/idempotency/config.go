package idempotency

import (
	"fmt"
	"time"
)

// DuplicatePolicy decides what a caller does when the same fingerprint is
// already executing.
type DuplicatePolicy int

const (
	// DuplicateWait polls for the outcome until Config.WaitTimeout.
	DuplicateWait DuplicatePolicy = iota
	// DuplicateFailFast returns ErrDuplicateInFlight immediately.
	DuplicateFailFast
)

// FailurePolicy decides whether a failed execution is cached.
type FailurePolicy int

const (
	CacheFailures FailurePolicy = iota
	DiscardFailures
)

type Config struct {
	// LockTTL bounds a single execution. A crashed executor blocks its
	// fingerprint for at most this long.
	LockTTL time.Duration
	// RecordTTL is how long an outcome is replayed after completion.
	RecordTTL time.Duration
	// WaitTimeout bounds how long DuplicateWait callers poll. Zero checks the
	// record and the lock once and does not wait.
	WaitTimeout  time.Duration
	PollInterval time.Duration
	Duplicate    DuplicatePolicy
	Failure      FailurePolicy
	// RenewInterval, when positive, keeps the execution lock alive while
	// work runs.
	RenewInterval time.Duration
}

// DefaultConfig returns recommended settings. NewGuard falls back to them for
// zero fields other than WaitTimeout and the policies.
func DefaultConfig() Config {
	return Config{
		LockTTL:      30 * time.Second,
		RecordTTL:    24 * time.Hour,
		WaitTimeout:  10 * time.Second,
		PollInterval: 50 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LockTTL == 0 {
		c.LockTTL = d.LockTTL
	}
	if c.RecordTTL == 0 {
		c.RecordTTL = d.RecordTTL
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Validate checks the configuration after zero fields take their defaults.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock ttl must be positive, got %s: %w", c.LockTTL, ErrInvalidConfig)
	}
	if c.RecordTTL <= 0 {
		return fmt.Errorf("record ttl must be positive, got %s: %w", c.RecordTTL, ErrInvalidConfig)
	}
	if c.WaitTimeout < 0 {
		return fmt.Errorf("wait timeout must not be negative, got %s: %w", c.WaitTimeout, ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s: %w", c.PollInterval, ErrInvalidConfig)
	}
	if c.RenewInterval < 0 || (c.RenewInterval > 0 && c.RenewInterval >= c.LockTTL) {
		return fmt.Errorf("renew interval %s must be below lock ttl %s: %w", c.RenewInterval, c.LockTTL, ErrInvalidConfig)
	}
	switch c.Duplicate {
	case DuplicateWait, DuplicateFailFast:
	default:
		return fmt.Errorf("unknown duplicate policy %d: %w", c.Duplicate, ErrInvalidConfig)
	}
	switch c.Failure {
	case CacheFailures, DiscardFailures:
	default:
		return fmt.Errorf("unknown failure policy %d: %w", c.Failure, ErrInvalidConfig)
	}
	return nil
}
