package feed

import (
	"math/rand"
	"time"
)

// nextBackoff doubles the delay up to the cap. Retries continue
// indefinitely; only explicit shutdown stops the reconnect loop.
func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		cur = max
	}
	return cur
}

// withJitter spreads reconnect attempts over [d/2, d) so a fleet of
// instances does not hammer the provider in lockstep after an outage.
func withJitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)))
}
