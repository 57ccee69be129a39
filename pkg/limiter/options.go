package limiter

import (
	"time"

	"pkt.systems/pslog"

	"github.com/manenim/gateway-guard/pkg/clock"
	"github.com/manenim/gateway-guard/pkg/metrics"
)

const (
	defaultPrefix  = "limiter:"
	defaultTimeout = 5 * time.Second
)

type Option func(*Limiter)

// WithPrefix sets the key prefix (default "limiter:").
func WithPrefix(prefix string) Option {
	return func(l *Limiter) {
		l.prefix = prefix
	}
}

// WithTimeout bounds every store round-trip (default 5s). Zero disables the
// bound and leaves deadlines to the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		l.timeout = d
	}
}

// WithRecorder injects a metrics backend.
func WithRecorder(r metrics.Recorder) Option {
	return func(l *Limiter) {
		l.recorder = metrics.Ensure(r)
	}
}

// WithClock sets the time source used to timestamp checks.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		l.clock = clock.Ensure(c)
	}
}

func WithLogger(logger pslog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}
