package limiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/manenim/gateway-guard/pkg/keystore"
)

// NewRedisLimiter returns a Limiter sharing its state through Redis. It pings
// the server once so misconfiguration surfaces at startup.
func NewRedisLimiter(client redis.UniversalClient, opts ...Option) (*Limiter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := keystore.NewRedisStore(client)
	if err := store.Ping(ctx); err != nil {
		return nil, err
	}
	return NewLimiter(store, opts...), nil
}
