// Package metrics holds the recorder the coordination packages report to.
package metrics

// Recorder is the minimal metrics sink used by the limiter, lock manager and
// idempotency guard. Names are dotted ("ratelimit.call"); tags become labels.
type Recorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// NoOp discards everything. It lets hot paths call the recorder without a
// nil check.
type NoOp struct{}

func (NoOp) Add(name string, value float64, tags map[string]string)     {}
func (NoOp) Observe(name string, value float64, tags map[string]string) {}

// Ensure returns r when non-nil, otherwise NoOp.
func Ensure(r Recorder) Recorder {
	if r != nil {
		return r
	}
	return NoOp{}
}
