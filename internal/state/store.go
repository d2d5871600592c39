package state

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"i3gw/gateway/internal/lpc"
)

// Default cache TTLs.
const (
	WhoCacheTTL    = 30 * time.Second
	FingerCacheTTL = 300 * time.Second
	LocateCacheTTL = 60 * time.Second

	alteredRingSize = 256
)

// Stats is a point-in-time counter snapshot.
type Stats struct {
	MudlistApplies    uint64
	ChanlistApplies   uint64
	MudlistDuplicate  uint64
	ChanlistDuplicate uint64
	WhoCacheHits      uint64
	FingerCacheHits   uint64
	LocateCacheHits   uint64
	UserCacheSize     int
	MudCount          int
	ChannelCount      int
}

// Store owns the gateway's replicated I3 directory state: mudlist,
// chanlist, reply caches, and the user cache. All mutating methods
// are meant to run on a single owner goroutine; reads return copies so
// callers never observe a half-applied delta and never need their own
// locking.
type Store struct {
	log *slog.Logger

	mu         sync.RWMutex
	muds       map[string]MudInfo
	mudlistID  int64
	channels   map[string]ChannelInfo
	chanlistID int64

	mudRing  *tokenRing
	chanRing *tokenRing

	mudTokens  map[string]int64 // token of the last delta applied to each mud
	chanTokens map[string]int64 // token of the last delta applied to each channel

	who    *ttlCache[lpc.Array]
	finger *ttlCache[lpc.Mapping]
	locate *ttlCache[lpc.Array]
	ucache map[string]string // username (lowercase) -> visname

	history map[string][]ChannelHistoryEntry

	// Counters backing Stats() use prometheus' Counter type as an
	// in-process tally only; no HTTP exposition registers them.
	mudlistApplies    prometheus.Counter
	chanlistApplies   prometheus.Counter
	mudlistDuplicate  prometheus.Counter
	chanlistDuplicate prometheus.Counter
	whoHits           prometheus.Counter
	fingerHits        prometheus.Counter
	locateHits        prometheus.Counter
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "i3gateway_" + name,
		Help: help,
	})
}

// counterValue reads a prometheus.Counter's current value without an
// HTTP exporter, by collecting it into the wire metric type directly.
func counterValue(c prometheus.Counter) uint64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return uint64(m.GetCounter().GetValue())
}

// New returns an empty Store seeded with the last known mudlist/chanlist
// ids (persisted across reconnects).
func New(log *slog.Logger, mudlistID, chanlistID int64) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		log:               log,
		muds:              make(map[string]MudInfo),
		channels:          make(map[string]ChannelInfo),
		mudlistID:         mudlistID,
		chanlistID:        chanlistID,
		mudRing:           newTokenRing(alteredRingSize),
		chanRing:          newTokenRing(alteredRingSize),
		mudTokens:         make(map[string]int64),
		chanTokens:        make(map[string]int64),
		who:               newTTLCache[lpc.Array](),
		finger:            newTTLCache[lpc.Mapping](),
		locate:            newTTLCache[lpc.Array](),
		ucache:            make(map[string]string),
		mudlistApplies:    newCounter("mudlist_applies_total", "mudlist deltas that advanced local_id"),
		chanlistApplies:   newCounter("chanlist_applies_total", "chanlist deltas that advanced local_id"),
		mudlistDuplicate:  newCounter("mudlist_duplicate_total", "mudlist deltas/altered tokens ignored as stale or duplicate"),
		chanlistDuplicate: newCounter("chanlist_duplicate_total", "chanlist deltas/altered tokens ignored as stale or duplicate"),
		whoHits:           newCounter("who_cache_hits_total", "who-reply cache hits"),
		fingerHits:        newCounter("finger_cache_hits_total", "finger-reply cache hits"),
		locateHits:        newCounter("locate_cache_hits_total", "locate-reply cache hits"),
	}
}

// ApplyMudlistDelta applies a `mudlist`/`mudlist-delta` payload keyed by
// token. Token monotonicity: only a token greater
// than the current local_id advances it; a stale or duplicate token still
// has its content applied, except for entries already set by a delta with
// a larger token, and does not move local_id backwards. The resulting
// directory is the same for any arrival order of the same deltas.
func (s *Store) ApplyMudlistDelta(token int64, delta lpc.Mapping) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range delta {
		name, ok := entry.Key.(lpc.String)
		if !ok {
			continue
		}
		info, present, valid := decodeMudInfo(string(name), entry.Val)
		if !valid {
			s.log.Warn("mudlist entry rejected", "mud", string(name))
			continue
		}
		if last, seen := s.mudTokens[string(name)]; seen && token < last {
			continue
		}
		s.mudTokens[string(name)] = token
		if !present {
			delete(s.muds, string(name))
			continue
		}
		s.muds[string(name)] = info
	}
	if token > s.mudlistID {
		s.mudlistID = token
		s.mudlistApplies.Inc()
	} else {
		s.mudlistDuplicate.Inc()
	}
	return s.mudlistID
}

// ApplyMudlistAltered applies a `mudlist-altered` payload, deduping by
// token via the 256-entry ring.
func (s *Store) ApplyMudlistAltered(token int64, delta lpc.Mapping) (applied bool, localID int64) {
	s.mu.Lock()
	if s.mudRing.seenBefore(token) {
		s.mu.Unlock()
		s.mudlistDuplicate.Inc()
		return false, s.mudlistID
	}
	s.mu.Unlock()
	return true, s.ApplyMudlistDelta(token, delta)
}

// ApplyChanlistDelta mirrors ApplyMudlistDelta for the channel directory.
func (s *Store) ApplyChanlistDelta(token int64, delta lpc.Mapping) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range delta {
		name, ok := entry.Key.(lpc.String)
		if !ok {
			continue
		}
		info, present, valid := decodeChannelInfo(string(name), entry.Val)
		if !valid {
			s.log.Warn("chanlist entry rejected", "channel", string(name))
			continue
		}
		if last, seen := s.chanTokens[string(name)]; seen && token < last {
			continue
		}
		s.chanTokens[string(name)] = token
		if !present {
			delete(s.channels, string(name))
			continue
		}
		s.channels[string(name)] = info
	}
	if token > s.chanlistID {
		s.chanlistID = token
		s.chanlistApplies.Inc()
	} else {
		s.chanlistDuplicate.Inc()
	}
	return s.chanlistID
}

// ApplyChanlistAltered mirrors ApplyMudlistAltered for the channel ring.
func (s *Store) ApplyChanlistAltered(token int64, delta lpc.Mapping) (applied bool, localID int64) {
	s.mu.Lock()
	if s.chanRing.seenBefore(token) {
		s.mu.Unlock()
		s.chanlistDuplicate.Inc()
		return false, s.chanlistID
	}
	s.mu.Unlock()
	return true, s.ApplyChanlistDelta(token, delta)
}

// GetMudlist returns a stable, name-ordered snapshot of every known mud.
func (s *Store) GetMudlist() []MudInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MudInfo, 0, len(s.muds))
	for _, m := range s.muds {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetChannels returns a stable, name-ordered snapshot of every known channel.
func (s *Store) GetChannels() []ChannelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChannelInfo, 0, len(s.channels))
	for _, c := range s.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LookupMud returns one mud's directory entry.
func (s *Store) LookupMud(name string) (MudInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.muds[name]
	return m, ok
}

// LookupChannel returns one channel's directory entry.
func (s *Store) LookupChannel(name string) (ChannelInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[name]
	return c, ok
}

// MudlistID and ChanlistID report the current local_id of each directory
// (persisted across reconnects and sent in startup-req-3).
func (s *Store) MudlistID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mudlistID
}

func (s *Store) ChanlistID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chanlistID
}

// CacheWho stores a who-reply's data for mud, expiring after WhoCacheTTL.
func (s *Store) CacheWho(mud string, data lpc.Array, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.who.set(mud, data, WhoCacheTTL, now)
}

// LookupWho returns a cached who-reply if it hasn't expired.
func (s *Store) LookupWho(mud string, now time.Time) (lpc.Array, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.who.get(mud, now)
	if ok {
		s.whoHits.Inc()
	}
	return v, ok
}

// CacheFinger stores a finger-reply's info mapping for mud+user.
func (s *Store) CacheFinger(mud, user string, info lpc.Mapping, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finger.set(mud+"\x00"+user, info, FingerCacheTTL, now)
}

// LookupFinger returns a cached finger-reply if it hasn't expired.
func (s *Store) LookupFinger(mud, user string, now time.Time) (lpc.Mapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.finger.get(mud+"\x00"+user, now)
	if ok {
		s.fingerHits.Inc()
	}
	return v, ok
}

// CacheLocate stores a locate-reply's location list for user.
func (s *Store) CacheLocate(user string, locations lpc.Array, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locate.set(user, locations, LocateCacheTTL, now)
}

// LookupLocate returns a cached locate-reply if it hasn't expired.
func (s *Store) LookupLocate(user string, now time.Time) (lpc.Array, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.locate.get(user, now)
	if ok {
		s.locateHits.Inc()
	}
	return v, ok
}

// ExpireCaches drops every who/finger/locate entry whose TTL has passed
// (the cache-TTL-expiry janitor, default every 10s).
func (s *Store) ExpireCaches(now time.Time) (who, finger, locate int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.who.expire(now), s.finger.expire(now), s.locate.expire(now)
}

// UpdateUser records a `ucache-update`: the user cache is unbounded until
// explicitly superseded.
func (s *Store) UpdateUser(username, visname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ucache[username] = visname
}

// LookupUser returns the cached visname for username, if known.
func (s *Store) LookupUser(username string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.ucache[username]
	return v, ok
}

// Stats returns a point-in-time counter snapshot for observability.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		MudlistApplies:    counterValue(s.mudlistApplies),
		ChanlistApplies:   counterValue(s.chanlistApplies),
		MudlistDuplicate:  counterValue(s.mudlistDuplicate),
		ChanlistDuplicate: counterValue(s.chanlistDuplicate),
		WhoCacheHits:      counterValue(s.whoHits),
		FingerCacheHits:   counterValue(s.fingerHits),
		LocateCacheHits:   counterValue(s.locateHits),
		UserCacheSize:     len(s.ucache),
		MudCount:          len(s.muds),
		ChannelCount:      len(s.channels),
	}
}
