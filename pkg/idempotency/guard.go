package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pkt.systems/pslog"

	"github.com/manenim/gateway-guard/pkg/clock"
	"github.com/manenim/gateway-guard/pkg/keystore"
	"github.com/manenim/gateway-guard/pkg/lock"
	"github.com/manenim/gateway-guard/pkg/metrics"
)

// Work is the operation guarded by RunOnce. Its payload is what replays
// receive.
type Work func(ctx context.Context) ([]byte, error)

// Result is the outcome of RunOnce.
type Result struct {
	Payload     []byte
	Replayed    bool
	Fingerprint string
}

// Guard deduplicates executions across every process sharing the store.
type Guard struct {
	store    keystore.Store
	locks    *lock.Manager
	cfg      Config
	prefix   string
	clock    clock.Clock
	logger   pslog.Logger
	recorder metrics.Recorder
}

// NewGuard validates cfg and builds a Guard on store. Zero durations other
// than WaitTimeout take DefaultConfig values.
func NewGuard(store keystore.Store, cfg Config, opts ...Option) (*Guard, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Guard{
		store:    store,
		cfg:      cfg,
		prefix:   defaultPrefix,
		clock:    clock.Real{},
		logger:   pslog.NoopLogger(),
		recorder: metrics.NoOp{},
	}
	for _, opt := range opts {
		opt(g)
	}
	g.locks = lock.NewManager(store,
		lock.WithPrefix(g.prefix+"lock:"),
		lock.WithClock(g.clock),
		lock.WithLogger(g.logger),
		lock.WithRecorder(g.recorder),
	)
	return g, nil
}

// Config returns the effective configuration.
func (g *Guard) Config() Config { return g.cfg }

// RunOnce executes work unless an execution with the same fingerprint already
// completed within the record TTL, in which case the cached outcome is
// returned. Concurrent duplicates wait or fail according to the duplicate
// policy; they never run work themselves while another execution holds the
// fingerprint. While waiting, store errors are retried until WaitTimeout and
// the last one is returned if the wait runs out.
func (g *Guard) RunOnce(ctx context.Context, call Call, work Work) (Result, error) {
	fp, err := Fingerprint(call)
	if err != nil {
		return Result{}, err
	}
	logger := g.logger.With("operation", call.OperationID, "fingerprint", short(fp))
	start := g.clock.Now()
	deadline := start.Add(g.cfg.WaitTimeout)

	var lastErr error
	for {
		rec, ok, err := g.load(ctx, fp)
		if err == nil && ok && rec.terminal() {
			return g.replay(logger, fp, rec)
		}
		if err == nil {
			lease, acquireErr := g.locks.Acquire(ctx, fp, lock.AcquireOptions{TTL: g.cfg.LockTTL})
			switch {
			case acquireErr == nil:
				return g.execute(ctx, logger, fp, lease, work)
			case errors.Is(acquireErr, lock.ErrDenied):
				if g.cfg.Duplicate == DuplicateFailFast {
					g.recorder.Add("idempotency.run", 1, map[string]string{"result": "duplicate"})
					logger.Info("idempotency.duplicate", "policy", "fail_fast")
					return Result{Fingerprint: fp}, &DuplicateError{Fingerprint: fp, FailFast: true}
				}
				lastErr = nil
			default:
				err = acquireErr
			}
		}
		if err != nil {
			if !g.retryable(ctx, err) {
				return g.fail(fp, err)
			}
			logger.Warn("idempotency.wait.store_error", "error", err)
			lastErr = err
		}

		remaining := deadline.Sub(g.clock.Now())
		if remaining <= 0 {
			if lastErr != nil {
				return g.fail(fp, lastErr)
			}
			g.recorder.Add("idempotency.run", 1, map[string]string{"result": "duplicate"})
			logger.Info("idempotency.duplicate", "policy", "wait", "waited", g.clock.Now().Sub(start))
			return Result{Fingerprint: fp}, &DuplicateError{Fingerprint: fp}
		}
		poll := g.cfg.PollInterval
		if poll > remaining {
			poll = remaining
		}
		select {
		case <-ctx.Done():
			return g.fail(fp, ctx.Err())
		case <-g.clock.After(poll):
		}
	}
}

// retryable reports whether a store error may be waited out.
func (g *Guard) retryable(ctx context.Context, err error) bool {
	return g.cfg.Duplicate == DuplicateWait &&
		ctx.Err() == nil &&
		errors.Is(err, keystore.ErrUnavailable)
}

func (g *Guard) execute(ctx context.Context, logger pslog.Logger, fp string, lease lock.Lease, work Work) (Result, error) {
	defer func() {
		if _, err := g.locks.Release(context.WithoutCancel(ctx), lease); err != nil {
			logger.Warn("idempotency.unlock.failed", "error", err)
		}
	}()

	// An execution may have finished between the first lookup and the lock.
	rec, ok, err := g.load(ctx, fp)
	if err != nil {
		return g.fail(fp, err)
	}
	if ok && rec.terminal() {
		return g.replay(logger, fp, rec)
	}

	now := g.clock.Now()
	pending := Record{Status: StatusPending, CreatedAt: now}
	if err := g.save(ctx, fp, pending, g.cfg.LockTTL); err != nil {
		return g.fail(fp, err)
	}

	workCtx := ctx
	if g.cfg.RenewInterval > 0 {
		var cancel context.CancelFunc
		workCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		errs := g.locks.KeepAlive(workCtx, lease, g.cfg.RenewInterval)
		go func() {
			for err := range errs {
				logger.Warn("idempotency.renew.failed", "error", err)
			}
		}()
	}

	payload, workErr := work(workCtx)
	elapsed := g.clock.Now().Sub(now)
	g.recorder.Observe("idempotency.work.duration", float64(elapsed)/float64(time.Millisecond), nil)

	storeCtx := context.WithoutCancel(ctx)
	if workErr != nil {
		g.recorder.Add("idempotency.run", 1, map[string]string{"result": "failed"})
		logger.Info("idempotency.work.failed", "error", workErr, "elapsed", elapsed)
		if g.cfg.Failure == DiscardFailures {
			if err := g.store.Delete(storeCtx, g.recordKey(fp)); err != nil {
				logger.Error("idempotency.record.discard_failed", "error", err)
				return Result{Fingerprint: fp}, errors.Join(workErr, err)
			}
			return Result{Fingerprint: fp}, workErr
		}
		failed := Record{
			Status:      StatusFailed,
			Error:       workErr.Error(),
			CreatedAt:   now,
			CompletedAt: g.clock.Now(),
		}
		if err := g.save(storeCtx, fp, failed, g.cfg.RecordTTL); err != nil {
			logger.Error("idempotency.record.save_failed", "error", err)
			return Result{Fingerprint: fp}, errors.Join(workErr, err)
		}
		return Result{Fingerprint: fp}, workErr
	}

	done := Record{
		Status:      StatusCompleted,
		Result:      payload,
		CreatedAt:   now,
		CompletedAt: g.clock.Now(),
	}
	res := Result{Payload: payload, Fingerprint: fp}
	if err := g.save(storeCtx, fp, done, g.cfg.RecordTTL); err != nil {
		g.recorder.Add("idempotency.run", 1, map[string]string{"result": "error"})
		logger.Error("idempotency.record.save_failed", "error", err)
		return res, fmt.Errorf("work completed but result was not recorded: %w", err)
	}
	g.recorder.Add("idempotency.run", 1, map[string]string{"result": "executed"})
	logger.Debug("idempotency.executed", "elapsed", elapsed)
	return res, nil
}

// Lookup returns the stored record for call, if any.
func (g *Guard) Lookup(ctx context.Context, call Call) (Record, bool, error) {
	fp, err := Fingerprint(call)
	if err != nil {
		return Record{}, false, err
	}
	return g.load(ctx, fp)
}

// Forget deletes the stored outcome for call so the next RunOnce executes
// again. It does not interrupt an execution in flight.
func (g *Guard) Forget(ctx context.Context, call Call) error {
	fp, err := Fingerprint(call)
	if err != nil {
		return err
	}
	if err := g.store.Delete(ctx, g.recordKey(fp)); err != nil {
		return fmt.Errorf("forget %s: %w", short(fp), err)
	}
	return nil
}

func (g *Guard) replay(logger pslog.Logger, fp string, rec Record) (Result, error) {
	res := Result{Payload: rec.Result, Replayed: true, Fingerprint: fp}
	if rec.Status == StatusFailed {
		g.recorder.Add("idempotency.run", 1, map[string]string{"result": "replayed_failure"})
		logger.Debug("idempotency.replay", "status", string(rec.Status))
		return res, &FailedError{Fingerprint: fp, Message: rec.Error}
	}
	g.recorder.Add("idempotency.run", 1, map[string]string{"result": "replayed"})
	logger.Debug("idempotency.replay", "status", string(rec.Status))
	return res, nil
}

func (g *Guard) fail(fp string, err error) (Result, error) {
	g.recorder.Add("idempotency.run", 1, map[string]string{"result": "error"})
	return Result{Fingerprint: fp}, fmt.Errorf("idempotency %s: %w", short(fp), err)
}

func (g *Guard) load(ctx context.Context, fp string) (Record, bool, error) {
	raw, ok, err := g.store.Get(ctx, g.recordKey(fp))
	if err != nil || !ok {
		return Record{}, false, err
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (g *Guard) save(ctx context.Context, fp string, rec Record, ttl time.Duration) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return g.store.Set(ctx, g.recordKey(fp), raw, ttl)
}

func (g *Guard) recordKey(fp string) string {
	return g.prefix + "rec:" + fp
}
