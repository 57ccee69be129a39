package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUnavailable reports that the backing store could not be reached or
	// failed to execute an operation.
	ErrUnavailable = errors.New("keystore unavailable")
	// ErrNoLocalScript is returned by MemoryStore for scripts without a Go
	// implementation.
	ErrNoLocalScript = errors.New("script has no local implementation")
)

// Store is the atomic key-value capability shared by the lock manager, the
// rate limiter and the idempotency guard. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the value stored at key. ok is false when the key is absent
	// or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores value at key. A ttl <= 0 stores the value without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsent stores value only when key does not exist and reports
	// whether it did.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only when it currently holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// CompareAndExpire resets the TTL of key only when it currently holds
	// expected.
	CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// TTL returns the remaining lifetime of key. ok is false when the key is
	// absent; a present key without expiry returns (0, true, nil).
	TTL(ctx context.Context, key string) (ttl time.Duration, ok bool, err error)
	// Eval runs s atomically with the supplied keys and arguments.
	Eval(ctx context.Context, s *Script, keys []string, args ...any) (any, error)
	Ping(ctx context.Context) error
}

// LocalFunc is the in-process implementation of a Script. It receives the
// arguments exactly as passed to Eval and must return values shaped like a
// Redis Lua reply: int64, string, or []any of those.
type LocalFunc func(tx Tx, keys []string, args []any) (any, error)

// Script couples a Lua body with an equivalent Go implementation.
type Script struct {
	name  string
	lua   *redis.Script
	local LocalFunc
}

// NewScript builds a Script. name is used in errors and logs only.
func NewScript(name, lua string, local LocalFunc) *Script {
	return &Script{
		name:  name,
		lua:   redis.NewScript(lua),
		local: local,
	}
}

// Name returns the script name.
func (s *Script) Name() string { return s.name }

// Tx is the view of a MemoryStore handed to a LocalFunc. All calls happen
// while the store is locked.
type Tx interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration)
	Delete(key string) bool
	HGet(key, field string) (string, bool)
	HSet(key string, values map[string]string)
	ZAdd(key string, score float64, member string)
	// ZRemRangeByScore removes members with score <= max and returns how
	// many were removed.
	ZRemRangeByScore(key string, max float64) int64
	ZCard(key string) int64
	// ZScoreAt returns the score at rank (0 is the lowest score).
	ZScoreAt(key string, rank int64) (float64, bool)
	PExpire(key string, ttl time.Duration) bool
}

func storeError(op, key string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("keystore %s %q: %w", op, key, err)
	case errors.Is(err, ErrUnavailable):
		return fmt.Errorf("keystore %s %q: %w", op, key, err)
	default:
		return fmt.Errorf("keystore %s %q: %w: %w", op, key, ErrUnavailable, err)
	}
}
