// Package registry implements the service registry: request/reply
// correlation between JSON-RPC API calls and fire-and-forget I3 packets,
// plus the single-use OOB auth token map.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"i3gw/gateway/internal/gwerr"
	"i3gw/gateway/internal/packet"
)

// DefaultCorrelationDeadline bounds how long a correlated request waits for
// its reply before yielding gateway_timeout.
const DefaultCorrelationDeadline = 30 * time.Second

// AuthTokenTTL is how long an issued OOB auth token remains valid.
const AuthTokenTTL = 10 * time.Minute

// pending is one outstanding correlated request awaiting a reply packet.
type pending struct {
	expectedTypes map[string]struct{}
	deadline      time.Time
	reply         chan *packet.Packet
}

// Registry correlates outbound API requests with their eventual I3 reply
// packets via a short-lived key embedded in `originator_user`, and owns the
// OOB auth-token map.
type Registry struct {
	log *slog.Logger

	mu      sync.Mutex
	pending map[string]*pending

	authMu  sync.Mutex
	authTok map[int64]authEntry
}

type authEntry struct {
	peerMud  string
	issuedAt time.Time
}

// New returns an empty Registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:     log,
		pending: make(map[string]*pending),
		authTok: make(map[int64]authEntry),
	}
}

// NewCorrelationKey mints a fresh `req-<hex>` key for a request that has no
// authenticated in-mud identity to embed in originator_user.
func NewCorrelationKey() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", gwerr.New(gwerr.BadPkt, "registry.NewCorrelationKey", err)
	}
	return "req-" + hex.EncodeToString(b[:]), nil
}

// Await registers a correlation key and blocks until a matching reply
// arrives (via Resolve), ctx is cancelled, or the deadline passes — in
// which case it returns a gwerr.BadProto error whose message starts with
// "gateway_timeout" (callers map this to JSON-RPC -32004). A cancelled
// ctx returns ctx.Err().
func (r *Registry) Await(ctx context.Context, key string, expectedTypes []string, deadline time.Duration) (*packet.Packet, error) {
	if deadline <= 0 {
		deadline = DefaultCorrelationDeadline
	}
	types := make(map[string]struct{}, len(expectedTypes))
	for _, t := range expectedTypes {
		types[t] = struct{}{}
	}
	p := &pending{expectedTypes: types, deadline: time.Now().Add(deadline), reply: make(chan *packet.Packet, 1)}

	r.mu.Lock()
	r.pending[key] = p
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, key)
		r.mu.Unlock()
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case reply := <-p.reply:
		return reply, nil
	case <-timer.C:
		return nil, gwerr.New(gwerr.BadProto, "registry.Await", fmt.Errorf("gateway_timeout: no reply for key %s", key))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve delivers an inbound reply packet to whichever pending request its
// target_user correlation key matches. Returns false if no pending request
// matches (the caller should treat the reply as unsolicited and drop it).
func (r *Registry) Resolve(pkt *packet.Packet) bool {
	key := pkt.TargetUser
	if key == "" {
		return false
	}
	r.mu.Lock()
	p, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	if len(p.expectedTypes) > 0 {
		if _, want := p.expectedTypes[pkt.Type]; !want {
			r.log.Warn("correlated reply had unexpected type", "key", key, "type", pkt.Type)
			return false
		}
	}
	select {
	case p.reply <- pkt:
		return true
	default:
		return false
	}
}

// SweepExpired is the periodic correlation-deadline janitor: it removes
// every pending entry whose deadline is before now and returns how many it
// removed. Await's own timer already enforces the deadline and deletes its
// entry on return, so the sweep usually finds nothing; it gives the
// gateway orchestrator a uniform janitor surface across registry/state/api.
func (r *Registry) SweepExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, p := range r.pending {
		if now.After(p.deadline) {
			delete(r.pending, key)
			removed++
		}
	}
	return removed
}

// IssueAuthToken generates a 63-bit cryptographically random token for
// auth-mud-req, associates it with the requesting peer mud, and stores it
// with a 10-minute TTL.
func (r *Registry) IssueAuthToken(peerMud string, now time.Time) (int64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, gwerr.New(gwerr.BadPkt, "registry.IssueAuthToken", err)
	}
	token := int64(binary.BigEndian.Uint64(b[:]) & 0x7FFFFFFFFFFFFFFF) // 63 bits
	r.authMu.Lock()
	r.authTok[token] = authEntry{peerMud: peerMud, issuedAt: now}
	r.authMu.Unlock()
	return token, nil
}

// ConsumeAuthToken validates and removes a single-use token. A second presentation of the same token, an unknown token,
// or an expired token all return gwerr.NotAllowed.
func (r *Registry) ConsumeAuthToken(token int64, now time.Time) (peerMud string, err error) {
	r.authMu.Lock()
	defer r.authMu.Unlock()
	entry, ok := r.authTok[token]
	if !ok {
		return "", gwerr.New(gwerr.NotAllowed, "registry.ConsumeAuthToken", nil)
	}
	delete(r.authTok, token)
	if now.Sub(entry.issuedAt) > AuthTokenTTL {
		return "", gwerr.New(gwerr.NotAllowed, "registry.ConsumeAuthToken", fmt.Errorf("token expired"))
	}
	return entry.peerMud, nil
}

// ExpireAuthTokens is the auth-token-expiry janitor: it
// drops tokens whose TTL has passed even if never presented.
func (r *Registry) ExpireAuthTokens(now time.Time) int {
	r.authMu.Lock()
	defer r.authMu.Unlock()
	removed := 0
	for tok, entry := range r.authTok {
		if now.Sub(entry.issuedAt) > AuthTokenTTL {
			delete(r.authTok, tok)
			removed++
		}
	}
	return removed
}
