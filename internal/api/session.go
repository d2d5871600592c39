package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"i3gw/gateway/internal/eventbus"
)

// Session is one authenticated API client. A
// session may outlive any single transport connection: a client that
// disconnects and reconnects within SessionTimeout presents its prior
// session_id to resume rather than re-authenticating.
type Session struct {
	ID          string
	MudName     string
	Permissions map[string]struct{}

	mu          sync.Mutex
	subscribed  map[eventbus.Type]struct{}
	channelSubs map[string]struct{}
	lastSeen    time.Time
}

// Subscriptions returns the session's current event-type and channel
// subscription sets, for Subscribe/Unsubscribe and eventbus.Subscribe.
func (s *Session) Subscriptions() ([]eventbus.Type, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]eventbus.Type, 0, len(s.subscribed))
	for t := range s.subscribed {
		types = append(types, t)
	}
	channels := make([]string, 0, len(s.channelSubs))
	for c := range s.channelSubs {
		channels = append(channels, c)
	}
	return types, channels
}

// SetSubscriptions replaces the session's subscription sets.
func (s *Session) SetSubscriptions(types []eventbus.Type, channels []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = make(map[eventbus.Type]struct{}, len(types))
	for _, t := range types {
		s.subscribed[t] = struct{}{}
	}
	s.channelSubs = make(map[string]struct{}, len(channels))
	for _, c := range channels {
		s.channelSubs[c] = struct{}{}
	}
}

// Wants reports whether e matches the session's current subscriptions,
// mirroring the bus's own "empty set means all" semantics so a
// connection's single forwarder goroutine can apply live filter changes
// without re-subscribing to the bus on every subscribe/unsubscribe call.
func (s *Session) Wants(e eventbus.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subscribed) > 0 {
		if _, ok := s.subscribed[e.Type]; !ok {
			return false
		}
	}
	if e.Channel != "" && len(s.channelSubs) > 0 {
		if _, ok := s.channelSubs[e.Channel]; !ok {
			return false
		}
	}
	return true
}

// Has reports whether the session holds permission.
func (s *Session) Has(permission string) bool {
	_, ok := s.Permissions[permission]
	return ok
}

// Touch updates last-seen for the session-timeout janitor.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) expired(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen) > timeout
}

// Sessions owns every live API session, keyed by session_id. Mutation
// is guarded by a single mutex; reads return the Session pointer directly
// since Session's own fields that change after creation are themselves
// internally synchronized.
type Sessions struct {
	mu      sync.Mutex
	byID    map[string]*Session
	timeout time.Duration
}

// NewSessions returns an empty session table with the given restore
// timeout.
func NewSessions(timeout time.Duration) *Sessions {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Sessions{byID: make(map[string]*Session), timeout: timeout}
}

// Create mints a new session for mudName with the given permission set.
func (s *Sessions) Create(mudName string, permissions []string) *Session {
	perms := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		perms[p] = struct{}{}
	}
	sess := &Session{
		ID:          uuid.NewString(),
		MudName:     mudName,
		Permissions: perms,
		subscribed:  make(map[eventbus.Type]struct{}),
		channelSubs: make(map[string]struct{}),
		lastSeen:    time.Now(),
	}
	s.mu.Lock()
	s.byID[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get returns a session by id if it exists and has not timed out.
func (s *Sessions) Get(id string, now time.Time) (*Session, bool) {
	s.mu.Lock()
	sess, ok := s.byID[id]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	if sess.expired(now, s.timeout) {
		s.Remove(id)
		return nil, false
	}
	return sess, true
}

// Remove deletes a session (explicit logout or timeout sweep).
func (s *Sessions) Remove(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}

// SweepExpired is the session-timeout janitor: it drops
// every session whose last activity exceeds the restore timeout.
func (s *Sessions) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.byID {
		if sess.expired(now, s.timeout) {
			delete(s.byID, id)
			removed++
		}
	}
	return removed
}

// Count reports the number of live sessions (for stats()).
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
