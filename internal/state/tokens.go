package state

// TokenGenerator produces the monotonically increasing token sequence the
// router side of the protocol uses for mudlist/chanlist ids: each call returns a value strictly greater than every value returned
// before it, and at least `wallClockSeconds`. The gateway itself only ever
// consumes router-assigned tokens for mudlist/chanlist sync, and no
// gateway code path calls this generator; it is kept here as the single
// place that invariant is implemented and tested.
type TokenGenerator struct {
	last int64
}

// NewTokenGenerator returns a generator seeded at last (the highest token
// observed so far, 0 if none).
func NewTokenGenerator(last int64) *TokenGenerator {
	return &TokenGenerator{last: last}
}

// Next returns a token satisfying new >= max(last+1, wallClockSeconds) and
// strictly greater than every value this generator has returned before.
func (g *TokenGenerator) Next(wallClockSeconds int64) int64 {
	next := g.last + 1
	if wallClockSeconds > next {
		next = wallClockSeconds
	}
	g.last = next
	return next
}

// Last returns the most recently generated (or seeded) token.
func (g *TokenGenerator) Last() int64 {
	return g.last
}
