package router

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff constants: delay = min(cap, base*2^attempt) * U[0.5,1.5].
const (
	BackoffBase = 1 * time.Second
	BackoffCap  = 60 * time.Second

	// StableConnectionResets is how long a Connected state must hold
	// before the next disconnect resets backoff to attempt 0.
	StableConnectionResets = 30 * time.Second

	// DefaultFailoverThreshold is the consecutive-failure count that
	// triggers advancing to the next router endpoint.
	DefaultFailoverThreshold = 3
)

// newBackoff returns a cenkalti/backoff/v4 ExponentialBackOff configured
// so that RandomizationFactor=0.5 gives the
// interval*[0.5,1.5] jitter window cenkalti computes internally, and
// MaxElapsedTime=0 means it never gives up (router connects retry
// indefinitely).
func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = BackoffBase
	b.MaxInterval = BackoffCap
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
