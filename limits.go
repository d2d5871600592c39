package main

// Operational limits — named constants for values that were previously
// scattered across multiple source files.
const (
	// DefaultRateLimitPerMinute is the token-bucket per-minute cap applied
	// to an API session when the configuration does not set one.
	DefaultRateLimitPerMinute = 60

	// DefaultRateLimitPerHour is the token-bucket per-hour cap applied to
	// an API session when the configuration does not set one.
	DefaultRateLimitPerHour = 1000
)
