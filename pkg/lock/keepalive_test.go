package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/manenim/gateway-guard/pkg/clock"
	"github.com/manenim/gateway-guard/pkg/keystore"
)

func waitPending(t *testing.T, mc *clock.Manual) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for mc.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("keepalive did not schedule a renewal")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestKeepAlive_ExtendsLease(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mc := clock.NewManual(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	store := keystore.NewMemoryStore(keystore.WithMemoryClock(mc))
	m := NewManager(store, WithClock(mc))

	lease, err := m.Acquire(ctx, "long-job", AcquireOptions{TTL: 3 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	errs := m.KeepAlive(ctx, lease, time.Second)

	for i := 0; i < 6; i++ {
		waitPending(t, mc)
		mc.Advance(time.Second)
	}
	waitPending(t, mc)

	held, ttl, err := m.Inspect(ctx, "long-job")
	if err != nil {
		t.Fatal(err)
	}
	if !held || ttl != 3*time.Second {
		t.Fatalf("Inspect = %v, %v; want held with a fresh 3s ttl", held, ttl)
	}

	cancel()
	for err := range errs {
		t.Fatalf("unexpected keepalive error: %v", err)
	}
}

func TestKeepAlive_ReportsLoss(t *testing.T) {
	ctx := context.Background()
	mc := clock.NewManual(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	store := keystore.NewMemoryStore(keystore.WithMemoryClock(mc))
	m := NewManager(store, WithClock(mc))

	lease, err := m.Acquire(ctx, "stolen", AcquireOptions{TTL: 3 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	errs := m.KeepAlive(ctx, lease, 0)

	if err := store.Delete(ctx, "lock:stolen"); err != nil {
		t.Fatal(err)
	}
	waitPending(t, mc)
	mc.Advance(time.Second)

	select {
	case err, ok := <-errs:
		if !ok || !errors.Is(err, ErrLeaseLost) {
			t.Fatalf("got %v (open=%v), want ErrLeaseLost", err, ok)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error after the lease was lost")
	}
	if _, ok := <-errs; ok {
		t.Fatal("channel should close after lease loss")
	}
}

func TestKeepAlive_RejectsUnusableLease(t *testing.T) {
	m := NewManager(keystore.NewMemoryStore())
	cases := []struct {
		name     string
		lease    Lease
		interval time.Duration
	}{
		{"zero lease", Lease{}, 0},
		{"ttl too short to split", Lease{Key: "k", TTL: 2 * time.Nanosecond}, 0},
		{"negative ttl with interval", Lease{Key: "k", TTL: -time.Second}, time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := m.KeepAlive(context.Background(), tc.lease, tc.interval)
			select {
			case err, ok := <-errs:
				if !ok || !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("err = %v (open %v), want ErrInvalidConfig", err, ok)
				}
			case <-time.After(time.Second):
				t.Fatal("no error reported")
			}
			if _, ok := <-errs; ok {
				t.Fatal("channel left open")
			}
		})
	}
}
