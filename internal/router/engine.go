package router

import (
	"context"
	"log/slog"

	"i3gw/gateway/internal/eventbus"
	"i3gw/gateway/internal/gwerr"
	"i3gw/gateway/internal/lpc"
	"i3gw/gateway/internal/packet"
	"i3gw/gateway/internal/state"
)

// Dispatcher receives every decoded packet that isn't consumed by the
// session engine itself (handshake and list-sync packets are handled here;
// everything else is the service registry's job).
type Dispatcher interface {
	Dispatch(ctx context.Context, pkt *packet.Packet)
}

// Identity is the mud's own identity and declared metadata, sent on every
// handshake.
type Identity struct {
	MudName  string
	Metadata packet.MudMetadata
}

// Credentials is the router-assigned password and last-known list ids,
// persisted across reconnects.
type Credentials struct {
	Password   int64
	MudlistID  int64
	ChanlistID int64
}

// Engine is the router session engine: it drives the handshake,
// feeds list-sync deltas into the state store, drops misrouted packets,
// and forwards everything else to a Dispatcher. It does not change a
// packet's TTL.
type Engine struct {
	log    *slog.Logger
	ident  Identity
	store  *state.Store
	dsp    Dispatcher
	onAuth func(Credentials)
	bus    *eventbus.Bus

	creds      Credentials
	handshakes int
}

// SetBus wires an event bus so mudlist transitions (a mud flipping between
// up and down) are published as mud_online/mud_offline events. A
// nil bus (the default) disables this publishing.
func (e *Engine) SetBus(bus *eventbus.Bus) {
	e.bus = bus
}

// NewEngine builds a session engine bound to one identity and state store.
// onAuth is called with the (possibly renewed) password and list ids after
// every successful startup-reply, so the caller can persist them.
func NewEngine(log *slog.Logger, ident Identity, creds Credentials, store *state.Store, dsp Dispatcher, onAuth func(Credentials)) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log, ident: ident, store: store, dsp: dsp, onAuth: onAuth, creds: creds}
}

// Handshake implements HandshakeFunc: send startup-req-3, await
// startup-reply, refresh router endpoints if the list's head changed, and
// hand the connection manager back control.
func (e *Engine) Handshake(refresh func([]Endpoint) bool) HandshakeFunc {
	return func(ctx context.Context, send func(lpc.Array) error, readOne func(context.Context) (lpc.Array, error)) error {
		h := packet.Header{OrigMud: e.ident.MudName, TTL: 1}
		req := packet.NewStartupReq3(h, e.creds.Password, e.creds.MudlistID, e.creds.ChanlistID, e.ident.Metadata)
		if err := send(req); err != nil {
			return err
		}
		for {
			arr, err := readOne(ctx)
			if err != nil {
				return err
			}
			pkt, err := packet.Decode(arr)
			if err != nil {
				e.log.Warn("handshake: malformed packet", "err", err)
				continue
			}
			if pkt.Type != "startup-reply" {
				// A router may interleave other packets before the
				// reply; only startup-reply completes the handshake.
				continue
			}
			reply, ok := pkt.Payload.(*packet.StartupReplyPayload)
			if !ok {
				return gwerr.New(gwerr.BadPkt, "router.handshake", nil)
			}
			e.creds = Credentials{Password: reply.Password, MudlistID: reply.MudlistID, ChanlistID: reply.ChanlistID}
			if e.onAuth != nil {
				e.onAuth(e.creds)
			}
			if refresh != nil {
				refresh(endpointsFromMapping(reply.Routers))
			}
			e.handshakes++
			if e.handshakes > 1 && e.bus != nil {
				e.bus.Publish(eventbus.Event{Type: eventbus.GatewayReconnected})
			}
			return nil
		}
	}
}

// endpointsFromMapping decodes a startup-reply router_list mapping of
// name -> Array{host, port} into Endpoints.
func endpointsFromMapping(m lpc.Mapping) []Endpoint {
	out := make([]Endpoint, 0, len(m))
	for _, entry := range m {
		name, ok := entry.Key.(lpc.String)
		if !ok {
			continue
		}
		arr, ok := entry.Val.(lpc.Array)
		if !ok || len(arr) < 2 {
			continue
		}
		host, ok := arr[0].(lpc.String)
		if !ok {
			continue
		}
		port, ok := arr[1].(lpc.Int)
		if !ok {
			continue
		}
		out = append(out, Endpoint{Name: string(name), Host: string(host), Port: int(port), Preferred: true})
	}
	return out
}

// OnPacket handles one decoded inbound packet for the Connected state:
// log and drop misrouted packets (no error packet is sent back), apply list-sync packets
// directly to the state store, and forward everything else to the
// Dispatcher.
func (e *Engine) OnPacket(ctx context.Context) OnPacket {
	return func(arr lpc.Array) {
		pkt, err := packet.Decode(arr)
		if err != nil {
			e.log.Warn("dropping malformed packet", "err", err)
			return
		}
		if pkt.TargetMud != "" && pkt.TargetMud != e.ident.MudName {
			e.log.Warn("dropping misrouted packet", "type", pkt.Type, "target_mud", pkt.TargetMud)
			return
		}
		switch payload := pkt.Payload.(type) {
		case *packet.MudlistPayload:
			e.applyMudlistDelta(payload.MudlistID, payload.Info, false)
			return
		case *packet.ChanlistReplyPayload:
			e.store.ApplyChanlistDelta(payload.ChanlistID, payload.Channels)
			return
		case *packet.ListDeltaPayload:
			switch pkt.Type {
			case "mudlist-delta":
				e.applyMudlistDelta(payload.Token, payload.Delta, false)
			case "mudlist-altered":
				e.applyMudlistDelta(payload.Token, payload.Delta, true)
			case "chanlist-delta":
				e.store.ApplyChanlistDelta(payload.Token, payload.Delta)
			case "chanlist-altered":
				e.store.ApplyChanlistAltered(payload.Token, payload.Delta)
			}
			return
		case *packet.UcacheUpdatePayload:
			e.store.UpdateUser(payload.Username, payload.Visname)
			return
		}
		if e.dsp != nil {
			e.dsp.Dispatch(ctx, pkt)
		}
	}
}

// Shutdown builds the outbound `shutdown` packet the engine sends (best
// effort, bounded by 2s by the caller) before closing the socket.
func (e *Engine) Shutdown(restartDelay int64) lpc.Array {
	h := packet.Header{OrigMud: e.ident.MudName}
	return packet.NewShutdown(h, restartDelay)
}

// applyMudlistDelta applies one mudlist/mudlist-delta/mudlist-altered
// payload and, if an event bus is wired, publishes mud_online/mud_offline
// for each mud named in the delta whose up/down state crossed.
// Looking the prior state up before applying is the only way to detect the
// transition, since Store.Apply* only reports the resulting local_id.
func (e *Engine) applyMudlistDelta(token int64, delta lpc.Mapping, altered bool) {
	var before map[string]state.MudInfo
	var beforeOK map[string]bool
	if e.bus != nil {
		before = make(map[string]state.MudInfo, len(delta))
		beforeOK = make(map[string]bool, len(delta))
		for _, entry := range delta {
			name, ok := entry.Key.(lpc.String)
			if !ok {
				continue
			}
			info, ok := e.store.LookupMud(string(name))
			before[string(name)] = info
			beforeOK[string(name)] = ok
		}
	}

	if altered {
		e.store.ApplyMudlistAltered(token, delta)
	} else {
		e.store.ApplyMudlistDelta(token, delta)
	}

	if e.bus == nil {
		return
	}
	for _, entry := range delta {
		name, ok := entry.Key.(lpc.String)
		if !ok {
			continue
		}
		after, afterOK := e.store.LookupMud(string(name))
		wasUp := beforeOK[string(name)] && before[string(name)].State == state.MudUp
		isUp := afterOK && after.State == state.MudUp
		switch {
		case !wasUp && isUp:
			e.bus.Publish(eventbus.Event{Type: eventbus.MudOnline, Data: after})
		case wasUp && !isUp:
			e.bus.Publish(eventbus.Event{Type: eventbus.MudOffline, Data: string(name)})
		}
	}
}
