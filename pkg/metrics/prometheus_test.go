package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheus_AddAndObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "guard", nil)

	p.Add("ratelimit.call", 1, map[string]string{"result": "allow"})
	p.Add("ratelimit.call", 2, map[string]string{"result": "allow"})
	p.Add("ratelimit.call", 1, map[string]string{"result": "deny"})
	p.Observe("ratelimit.latency", 1.5, map[string]string{"algorithm": "token_bucket"})

	c := p.counters["ratelimit.call"]
	if got := testutil.ToFloat64(c.vec.WithLabelValues("allow")); got != 3 {
		t.Fatalf("allow counter = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.vec.WithLabelValues("deny")); got != 1 {
		t.Fatalf("deny counter = %v, want 1", got)
	}

	n, err := testutil.GatherAndCount(reg, "guard_ratelimit_latency_ms")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 latency series, got %d", n)
	}
}

func TestPrometheus_ExtraTagsDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "", nil)

	p.Add("lock.acquire", 1, map[string]string{"result": "ok"})
	p.Add("lock.acquire", 1, map[string]string{"result": "ok", "unexpected": "x"})

	c := p.counters["lock.acquire"]
	if got := testutil.ToFloat64(c.vec.WithLabelValues("ok")); got != 2 {
		t.Fatalf("counter = %v, want 2", got)
	}
}

func TestEnsure(t *testing.T) {
	if _, ok := Ensure(nil).(NoOp); !ok {
		t.Fatal("expected NoOp for nil recorder")
	}
}
