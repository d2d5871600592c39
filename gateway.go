package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"i3gw/gateway/internal/api"
	"i3gw/gateway/internal/config"
	"i3gw/gateway/internal/eventbus"
	"i3gw/gateway/internal/lpc"
	"i3gw/gateway/internal/packet"
	"i3gw/gateway/internal/persist"
	"i3gw/gateway/internal/registry"
	"i3gw/gateway/internal/router"
	"i3gw/gateway/internal/state"
)

// Janitor intervals. Named here rather than buried in Run so they read
// as one policy surface.
const (
	sessionSweepInterval    = 30 * time.Second
	cacheExpiryInterval     = 10 * time.Second
	authTokenSweepInterval  = 60 * time.Second
	persistSnapshotInterval = 60 * time.Second
	shutdownGrace           = 5 * time.Second
	routerFlushGrace        = 2 * time.Second

	defaultRouterPasswordKey = "default"
)

// mgrSender adapts a *router.Manager, assigned only after construction
// completes, to registry.Sender. The dispatcher is built before the
// manager exists (the manager's own OnPacket wraps the dispatcher via the
// session engine), so Enqueue indirects through a pointer that is filled in
// once New returns; by the time any packet reaches the dispatcher the
// manager is already live.
type mgrSender struct {
	mgr **router.Manager
}

func (s mgrSender) Enqueue(arr lpc.Array) error {
	return (*s.mgr).Enqueue(arr)
}

// Gateway wires every gateway component together (components 1-9): the LPC
// codec and packet model are used throughout but own no runtime state; the
// connection manager, session engine, state store, service registry, event
// bus, persisted-state file, and API server are each owned here and driven
// by one task apiece, coordinated under a single errgroup.
type Gateway struct {
	log *slog.Logger
	cfg config.Config

	store   *state.Store
	persist *persist.Store
	reg     *registry.Registry
	bus     *eventbus.Bus
	mgr     *router.Manager
	engine  *router.Engine
	apiSrv  *api.Server
	ws      *api.WSHandler
	tcp     *api.TCPServer

	credsMu sync.Mutex
	creds   router.Credentials

	closing atomic.Bool
}

// NewGateway loads persisted state and constructs every component, wiring
// the circular router<->dispatcher<->session-engine dependency via
// mgrSender.
func NewGateway(log *slog.Logger, cfg config.Config) (*Gateway, error) {
	if log == nil {
		log = slog.Default()
	}

	ps, err := persist.Open(cfg.State.PersistPath, log)
	if err != nil {
		return nil, err
	}
	saved, err := ps.Load()
	if err != nil {
		ps.Close()
		return nil, err
	}

	st := state.New(log, saved.MudlistID, saved.ChanlistID)
	if len(saved.LastMudlist) > 0 {
		st.ApplyMudlistDelta(saved.MudlistID, saved.LastMudlist)
	}
	if len(saved.LastChanlist) > 0 {
		st.ApplyChanlistDelta(saved.ChanlistID, saved.LastChanlist)
	}

	bus := eventbus.New(log)
	reg := registry.New(log)

	g := &Gateway{
		log:     log,
		cfg:     cfg,
		store:   st,
		persist: ps,
		reg:     reg,
		bus:     bus,
		creds: router.Credentials{
			Password:   saved.RouterPasswords[defaultRouterPasswordKey],
			MudlistID:  saved.MudlistID,
			ChanlistID: saved.ChanlistID,
		},
	}

	var mgr *router.Manager
	sender := mgrSender{mgr: &mgr}
	dsp := registry.NewDispatcher(log, cfg.Mud.Name, st, bus, reg, sender)

	ident := router.Identity{MudName: cfg.Mud.Name, Metadata: mudMetadata(cfg.Mud)}
	engine := router.NewEngine(log, ident, g.creds, st, dsp, g.onAuth)
	engine.SetBus(bus)
	g.engine = engine

	mgrCfg := router.Config{
		Log:              log,
		Endpoints:        cfg.Router.Endpoints,
		IdleTimeout:      cfg.Router.IdleTimeout,
		HandshakeTimeout: cfg.Router.HandshakeTimeout,
		OnHandshake: engine.Handshake(func(eps []router.Endpoint) bool {
			changed := mgr.RefreshEndpoints(eps)
			if changed {
				// The reply named a different preferred router: finish
				// this session, then reconnect to it after the settle
				// delay.
				mgr.ReconnectToPreferred(router.DefaultSettleDelay)
			}
			return changed
		}),
		OnPacket: engine.OnPacket(context.Background()),
	}
	mgr = router.New(mgrCfg)
	g.mgr = mgr

	deps := &api.Deps{
		MudName:   cfg.Mud.Name,
		Router:    mgr,
		State:     st,
		Registry:  reg,
		Bus:       bus,
		Reconnect: g.reconnect,
	}
	g.apiSrv = api.NewServer(log, cfg.API, deps, g.IsClosing)
	g.ws = api.NewWSHandler(log, g.apiSrv)
	g.tcp = api.NewTCPServer(log, g.apiSrv)

	return g, nil
}

// defaultServices is the service map announced in startup-req-3 when the
// configuration does not declare one: the services this gateway actually
// implements handlers for.
var defaultServices = map[string]int64{
	"tell":    1,
	"emoteto": 1,
	"channel": 1,
	"who":     1,
	"finger":  1,
	"locate":  1,
	"ucache":  1,
	"auth":    1,
}

func mudMetadata(m config.MudConfig) packet.MudMetadata {
	declared := m.Services
	if len(declared) == 0 {
		declared = defaultServices
	}
	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names)
	services := make(lpc.Mapping, 0, len(names))
	for _, name := range names {
		services = append(services, lpc.MapEntry{Key: lpc.String(name), Val: lpc.Int(declared[name])})
	}
	return packet.MudMetadata{
		PlayerPort:  m.PlayerPort,
		ImudTCPPort: m.OobTCPPort,
		ImudUDPPort: m.OobUDPPort,
		Mudlib:      m.Mudlib,
		BaseMudlib:  m.BaseMudlib,
		Driver:      m.Driver,
		MudType:     m.MudType,
		OpenStatus:  m.OpenStatus,
		AdminEmail:  m.AdminEmail,
		Services:    services,
		OtherData:   lpc.Mapping{},
	}
}

// onAuth records the router-assigned password/list ids after every
// successful handshake; the persisted-state snapshot janitor
// picks these up on its next tick rather than writing to disk inline.
func (g *Gateway) onAuth(creds router.Credentials) {
	g.credsMu.Lock()
	g.creds = creds
	g.credsMu.Unlock()
}

// reconnect is exposed to the API's `reconnect` method: it drops
// the live router link so the connection manager's run loop redials the
// preferred endpoint. A no-op when the link is already down (the run loop
// is reconnecting on its own).
func (g *Gateway) reconnect() error {
	g.log.Info("reconnect requested via API", "state", g.mgr.State())
	g.mgr.ReconnectToPreferred(0)
	return nil
}

// IsClosing reports whether the gateway has begun graceful shutdown, so
// in-flight API requests receive gateway_shutting_down.
func (g *Gateway) IsClosing() bool {
	return g.closing.Load()
}

// Run starts every task and
// blocks until ctx is cancelled, then drains with a bounded grace period.
// tlsCfg is optional; when non-nil the websocket listener serves WSS
// instead of plain WS.
func (g *Gateway) Run(ctx context.Context, wsAddr, tcpAddr string, tlsCfg *tls.Config) error {
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		return g.mgr.Run(gctx)
	})

	grp.Go(func() error {
		return g.runJanitors(gctx)
	})

	if wsAddr != "" {
		e := newEchoServer(g.ws, "/ws")
		srv := &http.Server{Addr: wsAddr, Handler: e}
		grp.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		grp.Go(func() error {
			var err error
			if tlsCfg != nil {
				g.log.Info("api: wss listening", "addr", wsAddr)
				var ln net.Listener
				ln, err = tls.Listen("tcp", wsAddr, tlsCfg)
				if err == nil {
					err = srv.Serve(ln)
				}
			} else {
				g.log.Info("api: ws listening", "addr", wsAddr)
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if tcpAddr != "" {
		ln, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			return err
		}
		grp.Go(func() error {
			g.log.Info("api: tcp listening", "addr", tcpAddr)
			return g.tcp.Serve(gctx, ln)
		})
	}

	grp.Go(func() error {
		<-gctx.Done()
		g.closing.Store(true)
		// Best-effort shutdown notice to the router: flush the outbound
		// queue within a bounded window, then close the link.
		g.mgr.Shutdown(g.engine.Shutdown(0), routerFlushGrace)
		return nil
	})

	err := grp.Wait()
	g.snapshot()
	g.persist.Close()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// runJanitors drives every periodic maintenance task on its own ticker:
// session-timeout sweep, cache-TTL expiry, auth-token expiry, and the
// persisted-state snapshot.
func (g *Gateway) runJanitors(ctx context.Context) error {
	sessionTicker := time.NewTicker(sessionSweepInterval)
	defer sessionTicker.Stop()
	cacheTicker := time.NewTicker(cacheExpiryInterval)
	defer cacheTicker.Stop()
	authTicker := time.NewTicker(authTokenSweepInterval)
	defer authTicker.Stop()
	snapshotTicker := time.NewTicker(persistSnapshotInterval)
	defer snapshotTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-sessionTicker.C:
			if n := g.apiSrv.Sessions().SweepExpired(now); n > 0 {
				g.log.Debug("session sweep", "removed", n)
			}
			if n := g.reg.SweepExpired(now); n > 0 {
				g.log.Debug("correlation sweep", "removed", n)
			}
		case now := <-cacheTicker.C:
			who, finger, locate := g.store.ExpireCaches(now)
			if who+finger+locate > 0 {
				g.log.Debug("cache expiry", "who", who, "finger", finger, "locate", locate)
			}
		case now := <-authTicker.C:
			if n := g.reg.ExpireAuthTokens(now); n > 0 {
				g.log.Debug("auth token sweep", "removed", n)
			}
		case <-snapshotTicker.C:
			g.snapshot()
		}
	}
}

// snapshot persists the current credentials and directory state.
func (g *Gateway) snapshot() {
	g.credsMu.Lock()
	creds := g.creds
	g.credsMu.Unlock()

	st := persist.State{
		RouterPasswords: map[string]int64{defaultRouterPasswordKey: creds.Password},
		MudlistID:       g.store.MudlistID(),
		ChanlistID:      g.store.ChanlistID(),
		LastMudlist:     mudlistToMapping(g.store.GetMudlist()),
		LastChanlist:    channelsToMapping(g.store.GetChannels()),
	}
	if err := g.persist.Save(st); err != nil {
		g.log.Warn("persist: snapshot failed", "err", err)
	}
}

func mudlistToMapping(muds []state.MudInfo) lpc.Mapping {
	out := make(lpc.Mapping, 0, len(muds))
	for _, m := range muds {
		out = append(out, lpc.MapEntry{Key: lpc.String(m.Name), Val: encodeMudInfoForSnapshot(m)})
	}
	return out
}

func channelsToMapping(chans []state.ChannelInfo) lpc.Mapping {
	out := make(lpc.Mapping, 0, len(chans))
	for _, c := range chans {
		out = append(out, lpc.MapEntry{Key: lpc.String(c.Name), Val: encodeChannelInfoForSnapshot(c)})
	}
	return out
}

// encodeMudInfoForSnapshot mirrors decodeMudInfo's 13-field array shape so a
// restored snapshot feeds straight back through ApplyMudlistDelta on the
// next cold start.
func encodeMudInfoForSnapshot(m state.MudInfo) lpc.Array {
	services := m.Services
	if services == nil {
		services = lpc.Mapping{}
	}
	other := m.OtherData
	if other == nil {
		other = lpc.Mapping{}
	}
	return lpc.Array{
		lpc.Int(m.State), lpc.String(m.IP), lpc.Int(m.PlayerPort),
		lpc.Int(m.OobTCPPort), lpc.Int(m.OobUDPPort),
		lpc.String(m.Mudlib), lpc.String(m.BaseMudlib), lpc.String(m.Driver),
		lpc.String(m.MudType), lpc.String(m.OpenStatus), lpc.String(m.AdminEmail),
		services, other,
	}
}

// encodeChannelInfoForSnapshot mirrors decodeChannelInfo's 5-field shape.
func encodeChannelInfoForSnapshot(c state.ChannelInfo) lpc.Array {
	return lpc.Array{
		lpc.String(c.HostMud), lpc.Int(c.Type),
		stringSetToArray(c.Admitted), stringSetToArray(c.Banned), stringSetToArray(c.Listeners),
	}
}

func stringSetToArray(set map[string]struct{}) lpc.Array {
	out := make(lpc.Array, 0, len(set))
	for s := range set {
		out = append(out, lpc.String(s))
	}
	return out
}
