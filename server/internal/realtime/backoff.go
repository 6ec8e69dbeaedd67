package realtime

import (
	"math/rand"
	"time"
)

// Reconnect controls how a Conn redials after losing its connection.
type Reconnect struct {
	Enabled    bool
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultReconnect is 1s doubling up to 60s.
var DefaultReconnect = Reconnect{
	Enabled:    true,
	Initial:    1 * time.Second,
	Max:        60 * time.Second,
	Multiplier: 2.0,
}

// Backoff implements truncated exponential backoff with jitter. It is not
// safe for concurrent use.
type Backoff struct {
	policy  Reconnect
	current time.Duration
}

// NewBackoff returns a Backoff following p. Unset fields take DefaultReconnect values.
func NewBackoff(p Reconnect) *Backoff {
	if p.Initial <= 0 {
		p.Initial = DefaultReconnect.Initial
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultReconnect.Multiplier
	}
	return &Backoff{policy: p, current: p.Initial}
}

// Next returns the current backoff duration and advances the internal state.
func (b *Backoff) Next() time.Duration {
	d := b.current
	// ±25% jitter
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * b.policy.Multiplier)
	if b.current > b.policy.Max {
		b.current = b.policy.Max
	}
	return d
}

// Reset restarts the sequence at the initial delay.
func (b *Backoff) Reset() {
	b.current = b.policy.Initial
}
