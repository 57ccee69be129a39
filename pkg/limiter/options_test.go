package limiter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLimiter_Options(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	t.Run("WithPrefix", func(t *testing.T) {
		prefix := "custom_app:"
		key := fmt.Sprintf("opt_test_%d", time.Now().UnixNano())
		id := Identity{Namespace: "options", Key: key}
		limit := Limit{Rate: 1, Period: time.Second, Burst: 1}

		limiter, err := NewRedisLimiter(client, WithPrefix(prefix))
		if err != nil {
			t.Fatalf("Failed to create limiter: %v", err)
		}

		_, err = limiter.Allow(ctx, id, limit)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}

		// Verify the key uses the custom prefix
		expectedKey := prefix + string(id.Namespace) + ":" + id.Key
		exists, err := client.Exists(ctx, expectedKey).Result()
		if err != nil {
			t.Fatalf("Redis Exists failed: %v", err)
		}
		if exists == 0 {
			t.Errorf("Expected key %s to exist, but it does not", expectedKey)
		}
	})

	t.Run("DefaultPrefix", func(t *testing.T) {
		id := Identity{Namespace: "options", Key: "default"}
		limiter, err := NewRedisLimiter(client)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := limiter.Allow(ctx, id, Limit{Rate: 1, Period: time.Second, Burst: 1}); err != nil {
			t.Fatal(err)
		}
		if !mr.Exists("limiter:options:default") {
			t.Error("Expected key limiter:options:default to exist")
		}
		if ttl := mr.TTL("limiter:options:default"); ttl <= 0 {
			t.Errorf("Expected bucket key to carry a TTL, got %v", ttl)
		}
	})

	t.Run("WithTimeout", func(t *testing.T) {
		_, err := NewRedisLimiter(client, WithTimeout(10*time.Millisecond))
		if err != nil {
			t.Errorf("WithTimeout should not cause error on valid client: %v", err)
		}
	})
}

func TestNewRedisLimiter_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	if _, err := NewRedisLimiter(client); err == nil {
		t.Fatal("expected an error for an unreachable server")
	}
}
