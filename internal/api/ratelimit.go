package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// methodClass groups JSON-RPC methods that share one rate-limit bucket.
// Read-only lookups
// (who/finger/locate/mudlist/channel_list/channel_history) share a class
// separate from the messaging methods that actually emit I3 traffic, so a
// chatty `tell` caller can't also starve its own `mudlist` polling.
type methodClass string

const (
	classMessage methodClass = "message"
	classQuery   methodClass = "query"
	classControl methodClass = "control"
)

var methodClasses = map[string]methodClass{
	"tell":            classMessage,
	"emoteto":         classMessage,
	"channel_send":    classMessage,
	"channel_emote":   classMessage,
	"who":             classQuery,
	"finger":          classQuery,
	"locate":          classQuery,
	"mudlist":         classQuery,
	"channel_list":    classQuery,
	"channel_who":     classQuery,
	"channel_history": classQuery,
	"channel_join":    classControl,
	"channel_leave":   classControl,
	"subscribe":       classControl,
	"unsubscribe":     classControl,
	"reconnect":       classControl,
}

func classOf(method string) methodClass {
	if c, ok := methodClasses[method]; ok {
		return c
	}
	return classControl
}

// bucket is the two caps a token-bucket rate limiter enforces together:
// short-window (per-minute) burst control and a longer per-hour ceiling.
type bucket struct {
	minute *rate.Limiter
	hour   *rate.Limiter
}

// RateLimiter enforces the per-(session, method-class) token buckets.
// Exceeding either cap yields rate_limited and does NOT consume a token
// from the bucket that was not exceeded.
type RateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*bucket // key: sessionID + "\x00" + class
}

// NewRateLimiter builds a limiter for the given per-minute/per-hour caps.
// A non-positive cap disables that window's enforcement.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// Allow reports whether a call to method by sessionID is within its rate
// limits. On success it atomically consumes one token from each enabled
// window; on failure neither window is consumed.
func (rl *RateLimiter) Allow(sessionID, method string) bool {
	key := sessionID + "\x00" + string(classOf(method))

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{}
		if rl.cfg.PerMinute > 0 {
			b.minute = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.cfg.PerMinute)), rl.cfg.PerMinute)
		}
		if rl.cfg.PerHour > 0 {
			b.hour = rate.NewLimiter(rate.Every(time.Hour/time.Duration(rl.cfg.PerHour)), rl.cfg.PerHour)
		}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	// Reserve from both windows so a rejection from either refunds any
	// token already taken from the other — neither consumes on failure.
	// Reserving and cancelling at one shared instant matters: a Cancel
	// made after a reservation's act time has passed refunds nothing.
	now := time.Now()
	var minuteRes, hourRes *rate.Reservation
	if b.minute != nil {
		minuteRes = b.minute.ReserveN(now, 1)
		if minuteRes.DelayFrom(now) > 0 {
			minuteRes.CancelAt(now)
			return false
		}
	}
	if b.hour != nil {
		hourRes = b.hour.ReserveN(now, 1)
		if hourRes.DelayFrom(now) > 0 {
			hourRes.CancelAt(now)
			if minuteRes != nil {
				minuteRes.CancelAt(now)
			}
			return false
		}
	}
	return true
}
