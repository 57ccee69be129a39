// Package lock implements named exclusive leases on top of a keystore.Store.
//
// A lease is a key holding a token unique to one Acquire call, written with
// SetIfAbsent and a TTL. Only the holder of the token can release or renew
// it, so an owner whose lease expired can never delete or extend a lease that
// another caller has since acquired. A crashed owner never deadlocks the key:
// the lease disappears when its TTL runs out.
//
//	lease, err := mgr.Acquire(ctx, "order-42", lock.AcquireOptions{
//		TTL:         5 * time.Second,
//		WaitTimeout: time.Second,
//	})
//	if errors.Is(err, lock.ErrDenied) {
//		// busy; DeniedError.RetryAfter hints when the holder's lease ends
//	}
//	defer mgr.Release(ctx, lease)
//
// Acquire never blocks beyond WaitTimeout. While waiting it polls with
// exponential backoff and jitter; store errors inside the wait are retried
// until the timeout and then returned as-is (wrapping
// keystore.ErrUnavailable). With a zero WaitTimeout a store error is returned
// immediately. Store failures are never treated as a granted lock.
package lock
