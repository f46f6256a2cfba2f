// Package backoff computes reconnection delays: exponential growth from a
// 500ms base, capped at 30s, randomized within a ±20% band so clients that
// lost the same server do not retry in lockstep.
package backoff

import (
	"math/rand"
	"time"
)

const (
	base       = 500 * time.Millisecond
	ceiling    = 30 * time.Second
	floor      = 250 * time.Millisecond
	jitterFrac = 0.2
)

// Delay returns the wait before reconnect attempt number attempt (0-based).
// The result is always within [250ms, 36s].
func Delay(attempt int) time.Duration {
	return DelayWith(rand.Float64, attempt)
}

// DelayWith is Delay with an injectable uniform [0,1) source.
func DelayWith(rand01 func() float64, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := ceiling
	// 500ms * 2^7 already exceeds the cap; larger shifts would overflow.
	if attempt < 7 {
		d = min(ceiling, base<<attempt)
	}

	jitter := time.Duration(float64(d) * (rand01()*2 - 1) * jitterFrac)
	return max(floor, d+jitter)
}
