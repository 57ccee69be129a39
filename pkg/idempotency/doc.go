/*
Package idempotency runs an operation at most once per logical invocation.

An invocation is identified by a fingerprint: a SHA-256 digest of the
operation id, the caller id and a canonical JSON encoding of the parameters.
Canonical means map keys are sorted at every depth, so two parameter sets that
differ only in insertion order hash identically.

# Flow

RunOnce takes a lock on the fingerprint through lock.Manager. The winner checks
for an existing outcome, writes a PENDING record, runs the work and stores the
outcome as COMPLETED or FAILED for Config.RecordTTL. Callers that lose the lock
either poll for the outcome until Config.WaitTimeout (DuplicateWait) or fail
immediately with ErrDuplicateInFlight (DuplicateFailFast). Replays within the
record TTL return the cached payload with Result.Replayed set.

Whether a failed run is cached is a policy: CacheFailures replays the failure
as a *FailedError until the record expires, DiscardFailures deletes the record
so the next call runs the work again.

# Usage

	guard, err := idempotency.NewGuard(store, idempotency.Config{
		LockTTL:     30 * time.Second,
		RecordTTL:   24 * time.Hour,
		WaitTimeout: 5 * time.Second,
	})
	if err != nil {
		return err
	}
	res, err := guard.RunOnce(ctx, idempotency.Call{
		OperationID: "charge",
		CallerID:    userID,
		Params:      req,
	}, func(ctx context.Context) ([]byte, error) {
		return charge(ctx, req)
	})
*/
package idempotency
