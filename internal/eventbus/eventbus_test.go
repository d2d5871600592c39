package eventbus

import (
	"fmt"
	"testing"
)

// TestSubscriptionFanOutOrder: M subscribers to
// channel C all receive exactly one channel_message event per inbound
// channel-m on C, in the same order.
func TestSubscriptionFanOutOrder(t *testing.T) {
	b := New(nil)
	const subscribers = 5
	queues := make([]<-chan Event, subscribers)
	for i := 0; i < subscribers; i++ {
		queues[i] = b.Subscribe(fmt.Sprintf("sess-%d", i), []Type{ChannelMessage}, []string{"chat"}, 16)
	}

	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: ChannelMessage, Channel: "chat", Data: i})
	}

	for i, q := range queues {
		for want := 0; want < 3; want++ {
			ev := <-q
			if ev.Data != want {
				t.Errorf("subscriber %d: event %d = %v, want %d", i, want, ev.Data, want)
			}
		}
	}
}

func TestUnsubscribedChannelNotDelivered(t *testing.T) {
	b := New(nil)
	q := b.Subscribe("sess-1", []Type{ChannelMessage}, []string{"chat"}, 16)
	b.Publish(Event{Type: ChannelMessage, Channel: "other-channel", Data: "x"})
	select {
	case ev := <-q:
		t.Fatalf("unexpected delivery: %+v", ev)
	default:
	}
}

func TestUnfilteredEventTypeDeliversAll(t *testing.T) {
	b := New(nil)
	q := b.Subscribe("sess-1", nil, nil, 16)
	b.Publish(Event{Type: MudOnline, Data: "SomeMud"})
	ev := <-q
	if ev.Type != MudOnline {
		t.Errorf("got %v", ev.Type)
	}
}

func TestOverflowDropsOldestAndSummarizes(t *testing.T) {
	b := New(nil)
	q := b.Subscribe("sess-1", nil, nil, 2)

	b.Publish(Event{Type: TellReceived, Data: 1})
	b.Publish(Event{Type: TellReceived, Data: 2})
	b.Publish(Event{Type: TellReceived, Data: 3}) // overflow: drops events 1 and 2

	first := <-q
	second := <-q
	if first.Type != EventsDropped {
		t.Errorf("expected events_dropped summary first, got %v", first.Type)
	}
	if second.Data != 3 {
		t.Errorf("expected surviving event 3, got %v", second.Data)
	}
	if !b.IsSlowConsumer("sess-1") {
		t.Error("session should be marked slow_consumer")
	}
}

func TestUnsubscribeClosesQueue(t *testing.T) {
	b := New(nil)
	q := b.Subscribe("sess-1", nil, nil, 4)
	b.Unsubscribe("sess-1")
	if _, ok := <-q; ok {
		t.Error("queue should be closed after Unsubscribe")
	}
}
