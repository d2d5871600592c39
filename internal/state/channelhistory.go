package state

import "time"

// ChannelHistorySize bounds how many recent messages are retained per
// channel for the `channel_history` API method; older entries are
// evicted once the bound is reached, mirroring the altered-token ring's
// fixed-capacity eviction in ring.go.
const ChannelHistorySize = 50

// ChannelHistoryEntry is one retained channel-m/channel-e delivery.
type ChannelHistoryEntry struct {
	Visname string
	Message string
	Emote   bool
	When    time.Time
}

// RecordChannelMessage appends one delivered channel message/emote to the
// channel's bounded history (called by the service registry's channel
// handler as it forwards an inbound channel-m/-e to the event bus).
func (s *Store) RecordChannelMessage(channel, visname, message string, emote bool, when time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history == nil {
		s.history = make(map[string][]ChannelHistoryEntry)
	}
	entries := append(s.history[channel], ChannelHistoryEntry{Visname: visname, Message: message, Emote: emote, When: when})
	if len(entries) > ChannelHistorySize {
		entries = entries[len(entries)-ChannelHistorySize:]
	}
	s.history[channel] = entries
}

// ChannelHistory returns a copy of the retained history for channel,
// oldest first.
func (s *Store) ChannelHistory(channel string) []ChannelHistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[channel]
	out := make([]ChannelHistoryEntry, len(entries))
	copy(out, entries)
	return out
}
