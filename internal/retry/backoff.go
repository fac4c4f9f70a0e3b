// Package retry maps a delivery's attempt count to the time of its next
// eligible retry: exponential growth from a fixed base, capped, with random
// jitter so endpoints failing together do not retry together.
package retry

import (
	"math/rand"
	"time"
)

// Policy is a pure backoff schedule. The zero value is unusable; use Default
// or build one from config.
type Policy struct {
	Base      time.Duration // delay before the first retry
	Cap       time.Duration // upper bound on the un-jittered delay
	JitterPct float64       // +/- fraction applied to the delay, 0.0-1.0
}

// Default matches the platform-wide retry contract: 30s, 1m, 2m, 4m... capped
// at one hour, +/-25% jitter.
func Default() Policy {
	return Policy{Base: 30 * time.Second, Cap: time.Hour, JitterPct: 0.25}
}

// Delay returns the jittered backoff for the given 1-based attempt number.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			d = p.Cap
			break
		}
	}
	if d > p.Cap {
		d = p.Cap
	}
	// jitter: +/- JitterPct, floored so the delay never collapses to zero
	j := 1 + (rand.Float64()*2-1)*p.JitterPct
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(d) * j)
}

// NextRetryAt returns the next-eligible timestamp for a delivery that has just
// completed its attempt-th try.
func (p Policy) NextRetryAt(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}
