package idempotency

import (
	"pkt.systems/pslog"

	"github.com/manenim/gateway-guard/pkg/clock"
	"github.com/manenim/gateway-guard/pkg/metrics"
)

const defaultPrefix = "idem:"

type Option func(*Guard)

// WithPrefix sets the key prefix. Records live under prefix+"rec:" and
// execution locks under prefix+"lock:". Default "idem:".
func WithPrefix(prefix string) Option {
	return func(g *Guard) {
		g.prefix = prefix
	}
}

func WithClock(c clock.Clock) Option {
	return func(g *Guard) {
		g.clock = clock.Ensure(c)
	}
}

func WithLogger(logger pslog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(g *Guard) {
		g.recorder = metrics.Ensure(r)
	}
}
