package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// KeepAlive renews lease every interval until ctx is cancelled. The returned
// channel carries renewal errors and is closed when the loop exits:
//   - ErrLeaseLost: the lease is gone; the loop stops.
//   - store errors: reported (dropped if the channel is full) and retried.
//   - ErrInvalidConfig: the lease TTL or the interval cannot drive renewals;
//     the loop never starts.
//
// A non-positive interval defaults to a third of the lease TTL.
func (m *Manager) KeepAlive(ctx context.Context, lease Lease, interval time.Duration) <-chan error {
	errCh := make(chan error, 1)
	if interval <= 0 {
		interval = lease.TTL / 3
	}
	if lease.TTL <= 0 || interval <= 0 {
		errCh <- fmt.Errorf("keepalive %q: ttl %s, interval %s: %w", lease.Key, lease.TTL, interval, ErrInvalidConfig)
		close(errCh)
		return errCh
	}

	go func() {
		defer close(errCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.clock.After(interval):
			}
			if _, err := m.Renew(ctx, lease, lease.TTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case errCh <- err:
				default:
				}
				if errors.Is(err, ErrLeaseLost) {
					m.logger.Warn("lock.keepalive.lost", "key", lease.Key, "owner", lease.Owner)
					return
				}
			}
		}
	}()

	return errCh
}
