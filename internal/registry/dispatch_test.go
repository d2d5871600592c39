package registry

import (
	"context"
	"testing"
	"time"

	"i3gw/gateway/internal/eventbus"
	"i3gw/gateway/internal/lpc"
	"i3gw/gateway/internal/packet"
	"i3gw/gateway/internal/state"
)

type fakeSender struct {
	sent []lpc.Array
	err  error
}

func (f *fakeSender) Enqueue(arr lpc.Array) error {
	f.sent = append(f.sent, arr)
	return f.err
}

func decodeOrFatal(t *testing.T, arr lpc.Array) *packet.Packet {
	t.Helper()
	pkt, err := packet.Decode(arr)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return pkt
}

func TestDispatcherPublishesTellReceived(t *testing.T) {
	store := state.New(nil, 0, 0)
	bus := eventbus.New(nil)
	reg := New(nil)
	dsp := NewDispatcher(nil, "OurMud", store, bus, reg, nil)

	events := bus.Subscribe("sess1", []eventbus.Type{eventbus.TellReceived}, nil, 4)

	arr := packet.NewTell("tell", packet.Header{OrigMud: "OtherMud", OrigUser: "jane", TargetMud: "OurMud"}, "Jane", "hi")
	dsp.Dispatch(context.Background(), decodeOrFatal(t, arr))

	select {
	case e := <-events:
		te, ok := e.Data.(TellEvent)
		if !ok || te.Message != "hi" || te.FromUser != "jane" {
			t.Fatalf("unexpected event: %+v", e)
		}
	default:
		t.Fatal("expected a tell_received event")
	}
}

func TestDispatcherRecordsChannelHistory(t *testing.T) {
	store := state.New(nil, 0, 0)
	bus := eventbus.New(nil)
	reg := New(nil)
	dsp := NewDispatcher(nil, "OurMud", store, bus, reg, nil)

	arr := packet.NewChannelMsg("channel-m", packet.Header{OrigMud: "OtherMud", OrigUser: "jane"}, "chat", "Jane", "hello")
	dsp.Dispatch(context.Background(), decodeOrFatal(t, arr))

	hist := store.ChannelHistory("chat")
	if len(hist) != 1 || hist[0].Message != "hello" || hist[0].Visname != "Jane" {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestDispatcherCachesWhoReplyAndResolves(t *testing.T) {
	store := state.New(nil, 0, 0)
	bus := eventbus.New(nil)
	reg := New(nil)
	dsp := NewDispatcher(nil, "OurMud", store, bus, reg, nil)

	key, err := NewCorrelationKey()
	if err != nil {
		t.Fatalf("NewCorrelationKey: %v", err)
	}

	type result struct {
		pkt *packet.Packet
		err error
	}
	done := make(chan result, 1)
	go func() {
		pkt, err := reg.Await(context.Background(), key, []string{"who-reply"}, 0)
		done <- result{pkt, err}
	}()
	time.Sleep(10 * time.Millisecond) // let Await register the key

	arr := lpc.Array{
		lpc.String("who-reply"), lpc.Int(0), lpc.String("OtherMud"), lpc.Int(0), lpc.String("OurMud"), lpc.String(key),
		lpc.Array{},
	}
	dsp.Dispatch(context.Background(), decodeOrFatal(t, arr))

	r := <-done
	if r.err != nil {
		t.Fatalf("Await: %v", r.err)
	}
	if r.pkt.Type != "who-reply" {
		t.Fatalf("unexpected packet: %+v", r.pkt)
	}
	if _, ok := store.LookupWho("OtherMud", time.Now()); !ok {
		t.Error("expected who cache to be populated")
	}
}

func TestDispatcherAnswersAuthMudReq(t *testing.T) {
	store := state.New(nil, 0, 0)
	bus := eventbus.New(nil)
	reg := New(nil)
	sender := &fakeSender{}
	dsp := NewDispatcher(nil, "OurMud", store, bus, reg, sender)

	arr := lpc.Array{
		lpc.String("auth-mud-req"), lpc.Int(0), lpc.String("PeerMud"), lpc.Int(0), lpc.String("OurMud"), lpc.Int(0),
	}
	dsp.Dispatch(context.Background(), decodeOrFatal(t, arr))

	if len(sender.sent) != 1 || sender.sent[0][0].(lpc.String) != "auth-mud-reply" {
		t.Fatalf("expected an auth-mud-reply to be enqueued, got %+v", sender.sent)
	}
}
