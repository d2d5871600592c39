// Package eventbus fans typed I3-derived events out to subscribed API
// sessions, with a bounded per-session queue and an overflow policy
// that marks the session a slow consumer instead of blocking the producer.
package eventbus

import (
	"log/slog"
	"sync"
)

// Type enumerates the event kinds the bus carries.
type Type string

const (
	TellReceived         Type = "tell_received"
	EmotetoReceived      Type = "emoteto_received"
	ChannelMessage       Type = "channel_message"
	ChannelEmote         Type = "channel_emote"
	ChannelTargetedEmote Type = "channel_targeted_emote"
	MudOnline            Type = "mud_online"
	MudOffline           Type = "mud_offline"
	ChannelJoined        Type = "channel_joined"
	ChannelLeft          Type = "channel_left"
	ErrorOccurred        Type = "error_occurred"
	GatewayReconnected   Type = "gateway_reconnected"
	EventsDropped        Type = "events_dropped"
)

// DefaultQueueSize is the bounded per-session delivery queue capacity.
const DefaultQueueSize = 256

// Event is one typed payload posted to the bus.
type Event struct {
	Type    Type
	Channel string // "" unless Type is channel-scoped
	Data    any
}

// subscriber is one API session's delivery queue plus its subscriptions.
type subscriber struct {
	id           string
	queue        chan Event
	eventTypes   map[Type]struct{}
	channels     map[string]struct{}
	slowConsumer bool
	droppedCount int
}

func (s *subscriber) wants(e Event) bool {
	if len(s.eventTypes) > 0 {
		if _, ok := s.eventTypes[e.Type]; !ok {
			return false
		}
	}
	if e.Channel != "" && len(s.channels) > 0 {
		if _, ok := s.channels[e.Channel]; !ok {
			return false
		}
	}
	return true
}

// Bus is the single owner of all subscriber queues. Publish is meant to be
// called from one goroutine so fan-out ordering within one inbound packet's
// derived events is preserved.
type Bus struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscriber
}

// New returns an empty Bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log, subs: make(map[string]*subscriber)}
}

// Subscribe registers a session with the given subscriptions and returns
// its delivery queue. An empty eventTypes/channels set means "all".
func (b *Bus) Subscribe(sessionID string, eventTypes []Type, channels []string, queueSize int) <-chan Event {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	s := &subscriber{
		id:         sessionID,
		queue:      make(chan Event, queueSize),
		eventTypes: toSet(eventTypes),
		channels:   toStringSet(channels),
	}
	b.mu.Lock()
	b.subs[sessionID] = s
	b.mu.Unlock()
	return s.queue
}

// Unsubscribe removes a session and closes its queue.
func (b *Bus) Unsubscribe(sessionID string) {
	b.mu.Lock()
	s, ok := b.subs[sessionID]
	if ok {
		delete(b.subs, sessionID)
	}
	b.mu.Unlock()
	if ok {
		close(s.queue)
	}
}

// Publish delivers e to every matching subscriber. On a full queue the
// subscriber is marked a slow consumer, its oldest queued events are
// evicted, and an events_dropped summary takes their place.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.queue <- e:
		default:
			b.dropOldestAndDeliver(s, e)
		}
	}
}

// dropOldestAndDeliver implements the overflow policy: the session
// is marked slow_consumer, its oldest queued events are evicted to make
// room, and a summary events_dropped{count} event replaces them so the
// session learns how much it missed instead of silently losing data.
func (b *Bus) dropOldestAndDeliver(s *subscriber, e Event) {
	evicted := 0
	for i := 0; i < 2; i++ {
		select {
		case <-s.queue:
			evicted++
		default:
		}
	}

	b.mu.Lock()
	s.slowConsumer = true
	s.droppedCount += evicted
	count := s.droppedCount
	b.mu.Unlock()

	select {
	case s.queue <- Event{Type: EventsDropped, Data: count}:
		b.mu.Lock()
		s.droppedCount = 0
		b.mu.Unlock()
	default:
	}
	select {
	case s.queue <- e:
	default:
		// Queue filled again between the eviction and this send; the
		// event is lost but counted toward the next overflow's summary.
		b.mu.Lock()
		s.droppedCount++
		b.mu.Unlock()
	}
}

// IsSlowConsumer reports whether a session has ever overflowed its queue.
func (b *Bus) IsSlowConsumer(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[sessionID]
	return ok && s.slowConsumer
}

func toSet(types []Type) map[Type]struct{} {
	if len(types) == 0 {
		return nil
	}
	m := make(map[Type]struct{}, len(types))
	for _, t := range types {
		m[t] = struct{}{}
	}
	return m
}

func toStringSet(ss []string) map[string]struct{} {
	if len(ss) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}
