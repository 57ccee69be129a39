package lock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"pkt.systems/pslog"

	"github.com/manenim/gateway-guard/pkg/clock"
	"github.com/manenim/gateway-guard/pkg/keystore"
	"github.com/manenim/gateway-guard/pkg/metrics"
)

// Manager grants and releases leases stored in a keystore.Store. It keeps no
// lease state of its own and is safe for concurrent use.
type Manager struct {
	store    keystore.Store
	prefix   string
	instance string
	clock    clock.Clock
	logger   pslog.Logger
	recorder metrics.Recorder
}

func NewManager(store keystore.Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		prefix:   defaultPrefix,
		instance: xid.New().String(),
		clock:    clock.Real{},
		logger:   pslog.NoopLogger(),
		recorder: metrics.NoOp{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TryAcquire makes a single acquisition attempt.
func (m *Manager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	return m.Acquire(ctx, key, AcquireOptions{TTL: ttl})
}

// Acquire takes the lease on key, waiting up to opt.WaitTimeout for the
// current holder to release it or for its TTL to run out.
func (m *Manager) Acquire(ctx context.Context, key string, opt AcquireOptions) (Lease, error) {
	if key == "" {
		return Lease{}, fmt.Errorf("empty lock key: %w", ErrInvalidConfig)
	}
	if opt.TTL <= 0 {
		return Lease{}, fmt.Errorf("ttl must be positive, got %s: %w", opt.TTL, ErrInvalidConfig)
	}
	if opt.WaitTimeout < 0 {
		return Lease{}, fmt.Errorf("wait timeout must not be negative, got %s: %w", opt.WaitTimeout, ErrInvalidConfig)
	}
	opt = opt.withDefaults()

	storeKey := m.prefix + key
	token := m.newToken()
	start := m.clock.Now()
	deadline := start.Add(opt.WaitTimeout)
	logger := m.logger.With("key", key, "owner", token)

	var lastErr error
	for attempt := 0; ; attempt++ {
		ok, err := m.store.SetIfAbsent(ctx, storeKey, token, opt.TTL)
		if err == nil && !ok && lastErr != nil {
			// The previous attempt may have written the token before its
			// reply was lost.
			ok, err = m.holds(ctx, storeKey, token)
		}
		if err == nil && ok {
			now := m.clock.Now()
			m.recorder.Add("lock.acquire", 1, map[string]string{"result": "acquired"})
			m.recorder.Observe("lock.wait", durationMs(now.Sub(start)), nil)
			logger.Debug("lock.acquire.granted", "attempts", attempt+1, "ttl", opt.TTL)
			return Lease{
				Key:        key,
				Owner:      token,
				TTL:        opt.TTL,
				AcquiredAt: now,
				ExpiresAt:  now.Add(opt.TTL),
			}, nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				m.recorder.Add("lock.acquire", 1, map[string]string{"result": "error"})
				return Lease{}, fmt.Errorf("lock %q: %w", key, err)
			}
			logger.Warn("lock.acquire.store_error", "attempt", attempt+1, "error", err)
		}
		lastErr = err

		remaining := deadline.Sub(m.clock.Now())
		if remaining <= 0 {
			break
		}
		sleep := backoff(attempt, opt)
		if sleep > remaining {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			m.recorder.Add("lock.acquire", 1, map[string]string{"result": "error"})
			return Lease{}, fmt.Errorf("lock %q: %w", key, ctx.Err())
		case <-m.clock.After(sleep):
		}
	}

	waited := m.clock.Now().Sub(start)
	if lastErr != nil {
		m.recorder.Add("lock.acquire", 1, map[string]string{"result": "error"})
		logger.Error("lock.acquire.failed", "waited", waited, "error", lastErr)
		return Lease{}, fmt.Errorf("lock %q: acquire failed after %s: %w", key, waited, lastErr)
	}

	retry := m.remaining(ctx, storeKey)
	m.recorder.Add("lock.acquire", 1, map[string]string{"result": "denied"})
	logger.Debug("lock.acquire.denied", "waited", waited, "retry_after", retry)
	return Lease{}, &DeniedError{Key: key, Waited: waited, RetryAfter: retry}
}

// Release deletes the lease if it is still owned by lease.Owner. It reports
// false, without error, when the lease already expired or belongs to someone
// else.
func (m *Manager) Release(ctx context.Context, lease Lease) (bool, error) {
	ok, err := m.store.CompareAndDelete(ctx, m.prefix+lease.Key, lease.Owner)
	if err != nil {
		m.recorder.Add("lock.release", 1, map[string]string{"result": "error"})
		return false, fmt.Errorf("release %q: %w", lease.Key, err)
	}
	if !ok {
		m.recorder.Add("lock.release", 1, map[string]string{"result": "not_owner"})
		m.logger.Debug("lock.release.not_owner", "key", lease.Key, "owner", lease.Owner)
		return false, nil
	}
	m.recorder.Add("lock.release", 1, map[string]string{"result": "released"})
	return true, nil
}

// Renew resets the lease TTL to ttl if lease.Owner still holds it.
func (m *Manager) Renew(ctx context.Context, lease Lease, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		return lease, fmt.Errorf("ttl must be positive, got %s: %w", ttl, ErrInvalidConfig)
	}
	ok, err := m.store.CompareAndExpire(ctx, m.prefix+lease.Key, lease.Owner, ttl)
	if err != nil {
		m.recorder.Add("lock.renew", 1, map[string]string{"result": "error"})
		return lease, fmt.Errorf("renew %q: %w", lease.Key, err)
	}
	if !ok {
		m.recorder.Add("lock.renew", 1, map[string]string{"result": "lost"})
		return lease, fmt.Errorf("renew %q: %w", lease.Key, ErrLeaseLost)
	}
	m.recorder.Add("lock.renew", 1, map[string]string{"result": "renewed"})
	lease.TTL = ttl
	lease.ExpiresAt = m.clock.Now().Add(ttl)
	return lease, nil
}

// Inspect reports whether key is currently held and for how much longer.
func (m *Manager) Inspect(ctx context.Context, key string) (bool, time.Duration, error) {
	ttl, ok, err := m.store.TTL(ctx, m.prefix+key)
	if err != nil {
		return false, 0, fmt.Errorf("inspect %q: %w", key, err)
	}
	return ok, ttl, nil
}

// WithLock runs fn while holding the lease on key and releases it afterwards,
// even when ctx has been cancelled in the meantime.
func (m *Manager) WithLock(ctx context.Context, key string, opt AcquireOptions, fn func(ctx context.Context, lease Lease) error) error {
	lease, err := m.Acquire(ctx, key, opt)
	if err != nil {
		return err
	}
	defer func() {
		if _, err := m.Release(context.WithoutCancel(ctx), lease); err != nil {
			m.logger.Warn("lock.release.failed", "key", key, "error", err)
		}
	}()
	return fn(ctx, lease)
}

func (m *Manager) holds(ctx context.Context, storeKey, token string) (bool, error) {
	v, ok, err := m.store.Get(ctx, storeKey)
	if err != nil {
		return false, err
	}
	return ok && v == token, nil
}

func (m *Manager) remaining(ctx context.Context, storeKey string) time.Duration {
	ttl, ok, err := m.store.TTL(ctx, storeKey)
	if err != nil || !ok || ttl < 0 {
		return 0
	}
	return ttl
}

func (m *Manager) newToken() string {
	return m.instance + "-" + uuid.NewString()
}

func backoff(attempt int, opt AcquireOptions) time.Duration {
	sleep := time.Duration(float64(opt.MinBackoff) * math.Pow(1.5, float64(attempt)))
	if sleep < opt.MinBackoff || sleep > opt.MaxBackoff {
		sleep = opt.MaxBackoff
	}
	j := (rand.Float64()*2 - 1) * opt.JitterFrac
	out := time.Duration(float64(sleep) * (1 + j))
	if out <= 0 {
		return opt.MinBackoff
	}
	return out
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// IsDenied reports whether err means the lock is busy.
func IsDenied(err error) bool {
	return errors.Is(err, ErrDenied)
}
