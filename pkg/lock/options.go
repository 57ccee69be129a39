package lock

import (
	"pkt.systems/pslog"

	"github.com/manenim/gateway-guard/pkg/clock"
	"github.com/manenim/gateway-guard/pkg/metrics"
)

const defaultPrefix = "lock:"

type Option func(*Manager)

// WithPrefix sets the key prefix (default "lock:").
func WithPrefix(prefix string) Option {
	return func(m *Manager) {
		m.prefix = prefix
	}
}

// WithInstanceID sets the identifier embedded in every owner token. It
// defaults to a random xid per Manager.
func WithInstanceID(id string) Option {
	return func(m *Manager) {
		if id != "" {
			m.instance = id
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = clock.Ensure(c)
	}
}

func WithLogger(logger pslog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) {
		m.recorder = metrics.Ensure(r)
	}
}
