package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"pkt.systems/pslog"

	"github.com/manenim/gateway-guard/internal/config"
	"github.com/manenim/gateway-guard/pkg/idempotency"
	"github.com/manenim/gateway-guard/pkg/keystore"
	"github.com/manenim/gateway-guard/pkg/limiter"
	"github.com/manenim/gateway-guard/pkg/lock"
	"github.com/manenim/gateway-guard/pkg/metrics"
)

const sweepInterval = 30 * time.Second

// services holds everything the router needs. The store backend is chosen
// once here from cfg.Store.
type services struct {
	cfg      config.Config
	logger   pslog.Logger
	store    keystore.Store
	limiter  *limiter.Limiter
	locks    *lock.Manager
	guard    *idempotency.Guard
	registry *prometheus.Registry
	closers  []func()
}

func newServices(ctx context.Context, cfg config.Config, logger pslog.Logger) (*services, error) {
	svc := &services{cfg: cfg, logger: logger}

	var recorder metrics.Recorder = metrics.NoOp{}
	if cfg.MetricsEnabled {
		svc.registry = prometheus.NewRegistry()
		svc.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		recorder = metrics.NewPrometheus(svc.registry, "guard", nil)
	}

	switch cfg.Store {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		svc.store = keystore.NewRedisStore(client)
		svc.closers = append(svc.closers, func() { _ = client.Close() })
	case config.StoreMemory:
		mem := keystore.NewMemoryStore()
		svc.store = mem
		sweepCtx, cancel := context.WithCancel(ctx)
		go sweep(sweepCtx, mem, logger)
		svc.closers = append(svc.closers, cancel)
		logger.Warn("using in-process memory store; state is not shared between replicas")
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	svc.limiter = limiter.NewLimiter(svc.store,
		limiter.WithPrefix(cfg.Prefix+"rl:"),
		limiter.WithTimeout(cfg.StoreTimeout),
		limiter.WithRecorder(recorder),
		limiter.WithLogger(logger.With("component", "limiter")),
	)
	svc.locks = lock.NewManager(svc.store,
		lock.WithPrefix(cfg.Prefix+"lock:"),
		lock.WithRecorder(recorder),
		lock.WithLogger(logger.With("component", "lock")),
	)
	guard, err := idempotency.NewGuard(svc.store, cfg.Idempotency(),
		idempotency.WithPrefix(cfg.Prefix+"idem:"),
		idempotency.WithRecorder(recorder),
		idempotency.WithLogger(logger.With("component", "idempotency")),
	)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.guard = guard
	return svc, nil
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func sweep(ctx context.Context, mem *keystore.MemoryStore, logger pslog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mem.Sweep(); n > 0 {
				logger.Debug("memory store swept", "expired", n, "remaining", mem.Len())
			}
		}
	}
}
