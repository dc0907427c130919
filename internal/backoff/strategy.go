// Package backoff computes retry delays for the load-balanced transport.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay before retry number attempt (0-based).
type Strategy interface {
	Delay(attempt int, p Params) time.Duration
}

// Params bounds a strategy. Jitter is a fraction in [0, 1].
type Params struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultParams mirrors the transport defaults.
func DefaultParams() Params {
	return Params{
		Initial:    100 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// Exponential grows the delay by Multiplier each attempt and adds up to
// Jitter*delay of uniform noise, capped at Max.
type Exponential struct{}

func (Exponential) Delay(attempt int, p Params) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}

	d := time.Duration(float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt)))
	if d < 0 || d > p.Max {
		d = p.Max
	}

	if j := clamp(p.Jitter); j > 0 {
		d += time.Duration(float64(d) * j * rand.Float64())
		if d > p.Max {
			d = p.Max
		}
	}
	return d
}

// Decorrelated picks uniformly between Initial and min(Max, Initial*3^attempt).
// See https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/.
type Decorrelated struct{}

func (Decorrelated) Delay(attempt int, p Params) time.Duration {
	if attempt <= 0 {
		return p.Initial
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(p.Initial)
	upper := base * math.Pow(3, float64(attempt))
	if upper > float64(p.Max) || upper < 0 {
		upper = float64(p.Max)
	}
	if upper < base {
		upper = base
	}

	d := time.Duration(base + rand.Float64()*(upper-base))
	if d < 0 || d > p.Max {
		d = p.Max
	}
	return d
}

// ForName returns the strategy registered under name, defaulting to Exponential.
func ForName(name string) Strategy {
	switch name {
	case "decorrelated":
		return Decorrelated{}
	default:
		return Exponential{}
	}
}

func clamp(j float64) float64 {
	if j < 0 {
		return 0
	}
	if j > 1 {
		return 1
	}
	return j
}
