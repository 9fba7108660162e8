// Package backoff computes jittered exponential delays for the reconnect
// loops that keep workers attached to a driver across transport failures.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy shapes an exponential delay sequence. Attempt numbers start at 1.
type Policy struct {
	// Initial is the delay before the first retry. Zero or negative
	// disables waiting entirely.
	Initial time.Duration

	// Max caps the computed delay after growth and jitter. Zero means
	// uncapped.
	Max time.Duration

	// Factor is the growth applied per attempt. Values below 1 are
	// treated as 1 (constant delay).
	Factor float64

	// Jitter randomly extends each delay by up to this fraction of the
	// base value, in the range 0..1.
	Jitter float64
}

// Reconnect returns the policy used for agent socket redials: the seed
// delay doubles per consecutive failure and is capped at 30s.
func Reconnect(initial time.Duration) Policy {
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	return Policy{
		Initial: initial,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Delay returns the wait before the given attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) delay(attempt int, random float64) time.Duration {
	if p.Initial <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	exp := float64(attempt - 1)
	if exp < 0 {
		exp = 0
	}
	base := float64(p.Initial) * math.Pow(factor, exp)
	base += base * p.Jitter * random
	if p.Max > 0 && base > float64(p.Max) {
		base = float64(p.Max)
	}
	return time.Duration(base)
}
