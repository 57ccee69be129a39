package lock

import "time"

// Lease is a granted lock. Pass it back to Release, Renew and KeepAlive.
type Lease struct {
	Key        string
	Owner      string
	TTL        time.Duration
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// AcquireOptions controls lease lifetime and waiting.
type AcquireOptions struct {
	TTL         time.Duration // required
	WaitTimeout time.Duration // 0 => single attempt
	MinBackoff  time.Duration // default 25ms
	MaxBackoff  time.Duration // default 1s
	JitterFrac  float64       // default 0.2 (20%)
}

func (o AcquireOptions) withDefaults() AcquireOptions {
	if o.MinBackoff <= 0 {
		o.MinBackoff = 25 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Second
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = o.MinBackoff
	}
	if o.JitterFrac <= 0 {
		o.JitterFrac = 0.2
	}
	return o
}
