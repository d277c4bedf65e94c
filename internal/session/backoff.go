package session

import (
	"math"
	"math/rand"
	"time"
)

// Backoff is the reconnection delay schedule.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64
	MaxAttempts int

	// rand returns a value in [0,1). Tests pin it.
	rand func() float64
}

// DefaultBackoff is 1s doubling to 60s, ±10% jitter, three attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:     time.Second,
		Max:         60 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
		MaxAttempts: 3,
	}
}

// Base is the un-jittered delay before attempt n (1-based):
// min(Initial * Multiplier^(n-1), Max).
func (b Backoff) Base(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(n-1))
	if max := float64(b.Max); b.Max > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// Delay is Base(n) perturbed by uniform jitter of ±Jitter of that value and
// floored at Initial.
func (b Backoff) Delay(n int) time.Duration {
	base := b.Base(n)
	r := rand.Float64
	if b.rand != nil {
		r = b.rand
	}
	jitter := (r()*2 - 1) * b.Jitter * float64(base)
	d := time.Duration(float64(base) + jitter)
	if d < b.Initial {
		d = b.Initial
	}
	return d
}
