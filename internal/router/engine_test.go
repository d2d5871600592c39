package router

import (
	"context"
	"testing"

	"i3gw/gateway/internal/lpc"
	"i3gw/gateway/internal/packet"
	"i3gw/gateway/internal/state"
)

type recordingDispatcher struct {
	got []*packet.Packet
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, pkt *packet.Packet) {
	d.got = append(d.got, pkt)
}

func TestEngineHandshakeAppliesStartupReply(t *testing.T) {
	store := state.New(nil, 0, 0)
	var captured Credentials
	eng := NewEngine(nil, Identity{MudName: "OurMud"}, Credentials{}, store, nil, func(c Credentials) {
		captured = c
	})

	var sent lpc.Array
	send := func(arr lpc.Array) error { sent = arr; return nil }

	reply := lpc.Array{
		lpc.String("startup-reply"), lpc.Int(0), lpc.String("*router"), lpc.Int(0), lpc.Int(0), lpc.Int(0),
		lpc.Int(999), lpc.Int(10), lpc.Int(5),
		lpc.Mapping{{Key: lpc.String("*router"), Val: lpc.Array{lpc.String("router.example"), lpc.Int(8080)}}},
	}
	replies := []lpc.Array{reply}
	readOne := func(ctx context.Context) (lpc.Array, error) {
		r := replies[0]
		replies = replies[1:]
		return r, nil
	}

	var refreshedWith []Endpoint
	refresh := func(eps []Endpoint) bool { refreshedWith = eps; return true }

	hs := eng.Handshake(refresh)
	if err := hs(context.Background(), send, readOne); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if sent == nil || sent[0].(lpc.String) != "startup-req-3" {
		t.Fatalf("expected startup-req-3 to be sent, got %v", sent)
	}
	if captured.Password != 999 || captured.MudlistID != 10 || captured.ChanlistID != 5 {
		t.Errorf("credentials not captured: %+v", captured)
	}
	if len(refreshedWith) != 1 || refreshedWith[0].Host != "router.example" {
		t.Errorf("endpoints not refreshed: %+v", refreshedWith)
	}
}

func TestEngineOnPacketRoutesMudlistDelta(t *testing.T) {
	store := state.New(nil, 0, 0)
	eng := NewEngine(nil, Identity{MudName: "OurMud"}, Credentials{}, store, nil, nil)

	arr := lpc.Array{
		lpc.String("mudlist-delta"), lpc.Int(0), lpc.String("*router"), lpc.Int(0), lpc.Int(0), lpc.Int(0),
		lpc.Int(5),
		lpc.Mapping{{Key: lpc.String("Foo"), Val: lpc.Int(0)}},
	}
	eng.OnPacket(context.Background())(arr)
	if store.MudlistID() != 5 {
		t.Errorf("MudlistID = %d, want 5", store.MudlistID())
	}
}

func TestEngineOnPacketDropsMisrouted(t *testing.T) {
	store := state.New(nil, 0, 0)
	dsp := &recordingDispatcher{}
	eng := NewEngine(nil, Identity{MudName: "OurMud"}, Credentials{}, store, dsp, nil)

	arr := lpc.Array{
		lpc.String("tell"), lpc.Int(5), lpc.String("OtherMud"), lpc.String("jane"),
		lpc.String("SomeoneElsesMud"), lpc.String("bob"), lpc.String("Jane"), lpc.String("hi"),
	}
	eng.OnPacket(context.Background())(arr)
	if len(dsp.got) != 0 {
		t.Error("misrouted packet should not reach the dispatcher")
	}
}

func TestEngineOnPacketForwardsTellToDispatcher(t *testing.T) {
	store := state.New(nil, 0, 0)
	dsp := &recordingDispatcher{}
	eng := NewEngine(nil, Identity{MudName: "OurMud"}, Credentials{}, store, dsp, nil)

	arr := lpc.Array{
		lpc.String("tell"), lpc.Int(5), lpc.String("OtherMud"), lpc.String("jane"),
		lpc.String("OurMud"), lpc.String("bob"), lpc.String("Jane"), lpc.String("hi"),
	}
	eng.OnPacket(context.Background())(arr)
	if len(dsp.got) != 1 || dsp.got[0].Type != "tell" {
		t.Fatalf("expected tell forwarded, got %+v", dsp.got)
	}
}
