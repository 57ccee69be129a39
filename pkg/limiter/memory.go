package limiter

import "github.com/manenim/gateway-guard/pkg/keystore"

// NewMemoryLimiter returns a Limiter backed by an in-process MemoryStore.
//
// It is safe for concurrent use by multiple goroutines, but its state is local
// to the process and is not shared across replicas. Use NewRedisLimiter when
// you need a single global limit across multiple instances.
func NewMemoryLimiter(opts ...Option) *Limiter {
	l := newLimiter(opts)
	l.store = keystore.NewMemoryStore(keystore.WithMemoryClock(l.clock))
	return l
}
