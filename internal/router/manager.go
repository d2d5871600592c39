package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"i3gw/gateway/internal/gwerr"
	"i3gw/gateway/internal/lpc"
)

// DefaultOutboundQueueSize is the bounded outbound packet queue's capacity.
const DefaultOutboundQueueSize = 1024

// DefaultIdleTimeout is how long a Connected link may go without any bytes
// before it is declared dead.
const DefaultIdleTimeout = 300 * time.Second

// DefaultHandshakeTimeout bounds waiting for startup-reply.
const DefaultHandshakeTimeout = 30 * time.Second

// DefaultSettleDelay is how long a live session is kept after a
// startup-reply names a different preferred router, before reconnecting to
// it.
const DefaultSettleDelay = 5 * time.Second

// Dialer opens a TCP connection to one router endpoint. Exists as an
// interface point so tests can substitute net.Pipe or an in-memory fake
// instead of a real socket.
type Dialer func(ctx context.Context, ep Endpoint) (net.Conn, error)

// DialTCP is the production Dialer.
func DialTCP(ctx context.Context, ep Endpoint) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", ep.Host, ep.Port))
}

// HandshakeFunc runs the startup-req-3/startup-reply exchange once a TCP
// connection is established. send writes a packet to the connection
// directly (bypassing the outbound queue, since Handshaking precedes
// Connected); readOne blocks for the next decoded inbound packet or ctx
// cancellation/handshake_timeout.
type HandshakeFunc func(ctx context.Context, send func(lpc.Array) error, readOne func(context.Context) (lpc.Array, error)) error

// OnPacket is invoked synchronously, in arrival order, for every packet
// decoded from a Connected link.
type OnPacket func(lpc.Array)

// Manager is the connection manager: one TCP link to one router at a time,
// its state machine, reconnect/backoff, and router failover. Each live
// connection gets its own read loop and a mutex-guarded write path.
type Manager struct {
	log               *slog.Logger
	dial              Dialer
	endpoints         *endpointList
	idleTimeout       time.Duration
	handshakeTimeout  time.Duration
	queueSize         int
	failoverThreshold int
	onHandshake       HandshakeFunc
	onPacket          OnPacket

	writeMu sync.Mutex

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	connectedSince      time.Time
	bo                  *backoff.ExponentialBackOff
	conn                net.Conn
	outbound            chan lpc.Array
	maxFrame            int
}

// Config bundles Manager construction parameters.
type Config struct {
	Log               *slog.Logger
	Endpoints         []Endpoint
	Dial              Dialer
	IdleTimeout       time.Duration
	HandshakeTimeout  time.Duration
	QueueSize         int
	FailoverThreshold int
	OnHandshake       HandshakeFunc
	OnPacket          OnPacket
	MaxFrame          int
}

// New builds a Manager in the Disconnected state.
func New(cfg Config) *Manager {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Dial == nil {
		cfg.Dial = DialTCP
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultOutboundQueueSize
	}
	if cfg.FailoverThreshold <= 0 {
		cfg.FailoverThreshold = DefaultFailoverThreshold
	}
	if cfg.MaxFrame <= 0 {
		cfg.MaxFrame = lpc.DefaultMaxFrame
	}
	return &Manager{
		log:               cfg.Log,
		dial:              cfg.Dial,
		endpoints:         newEndpointList(cfg.Endpoints),
		idleTimeout:       cfg.IdleTimeout,
		handshakeTimeout:  cfg.HandshakeTimeout,
		queueSize:         cfg.QueueSize,
		failoverThreshold: cfg.FailoverThreshold,
		onHandshake:       cfg.OnHandshake,
		onPacket:          cfg.OnPacket,
		maxFrame:          cfg.MaxFrame,
		state:             Disconnected,
		bo:                newBackoff(),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Enqueue submits a packet for the write loop. Non-blocking: returns
// gwerr.QueueFull immediately if the outbound queue is full.
func (m *Manager) Enqueue(arr lpc.Array) error {
	m.mu.Lock()
	out := m.outbound
	m.mu.Unlock()
	if out == nil {
		return gwerr.New(gwerr.ConnectFailed, "router.Enqueue", errors.New("not connected"))
	}
	select {
	case out <- arr:
		return nil
	default:
		return gwerr.New(gwerr.QueueFull, "router.Enqueue", nil)
	}
}

// RefreshEndpoints replaces the router list from a startup-reply and
// reports whether the preferred head entry changed.
func (m *Manager) RefreshEndpoints(endpoints []Endpoint) bool {
	return m.endpoints.Refresh(endpoints)
}

// Run drives the connection manager state machine until ctx is cancelled.
// It reconnects indefinitely with backoff and fails over between router
// endpoints; callers run this in its own task.
func (m *Manager) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			m.setState(Closed)
			return ctx.Err()
		}

		ep, ok := m.endpoints.Current()
		if !ok {
			return gwerr.New(gwerr.ConnectFailed, "router.Run", errors.New("no router endpoints configured"))
		}

		m.setState(Connecting)
		conn, err := m.dial(ctx, ep)
		if err != nil {
			m.log.Warn("router dial failed", "router", ep.Name, "err", err)
			m.recordFailure()
			if !m.sleepBackoff(ctx) {
				return ctx.Err()
			}
			continue
		}

		err = m.runConnection(ctx, conn)
		if m.State() == Closed {
			// Shutdown closed the link; terminal.
			return nil
		}
		if err != nil {
			m.log.Warn("router session ended", "router", ep.Name, "err", err)
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
		}
		m.recordFailure()
		if !m.sleepBackoff(ctx) {
			return ctx.Err()
		}
	}
}

func (m *Manager) recordFailure() {
	m.mu.Lock()
	m.consecutiveFailures++
	advance := m.consecutiveFailures >= m.failoverThreshold
	m.mu.Unlock()
	if advance {
		m.endpoints.Advance()
		m.mu.Lock()
		m.consecutiveFailures = 0
		m.mu.Unlock()
	}
	m.setState(Reconnecting)
}

func (m *Manager) sleepBackoff(ctx context.Context) bool {
	d := m.bo.NextBackOff()
	if d == backoff.Stop {
		d = BackoffCap
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// runConnection drives one TCP connection through Handshaking, Connected,
// and back out (on error/EOF). It always returns the non-nil error that
// ended the connection; Run recognises a local Shutdown by the Closed
// state, not by this return value.
func (m *Manager) runConnection(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	m.mu.Lock()
	m.conn = conn
	m.outbound = make(chan lpc.Array, m.queueSize)
	m.mu.Unlock()

	m.setState(Handshaking)

	hsCtx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()

	decoder := lpc.NewFrameDecoder(m.maxFrame)
	readOne := func(ctx context.Context) (lpc.Array, error) {
		return m.readFrame(ctx, conn, decoder)
	}
	send := func(arr lpc.Array) error {
		_, err := conn.Write(lpc.EncodeFrame(arr))
		return err
	}

	if m.onHandshake != nil {
		if err := m.onHandshake(hsCtx, send, readOne); err != nil {
			return gwerr.New(gwerr.HandshakeTimeout, "router.handshake", err)
		}
	}

	m.setState(Connected)
	m.mu.Lock()
	m.connectedSince = time.Now()
	m.consecutiveFailures = 0
	out := m.outbound
	m.mu.Unlock()

	connStop := make(chan struct{})
	defer close(connStop)
	writeErrCh := make(chan error, 1)
	go m.writeLoop(conn, out, connStop, writeErrCh)

	readErr := m.readLoop(ctx, conn, decoder)

	m.mu.Lock()
	stable := !m.connectedSince.IsZero() && time.Since(m.connectedSince) >= StableConnectionResets
	m.mu.Unlock()
	if stable {
		m.bo.Reset()
		m.mu.Lock()
		m.consecutiveFailures = 0
		m.mu.Unlock()
	}

	select {
	case werr := <-writeErrCh:
		if readErr == nil {
			readErr = werr
		}
	default:
	}
	return readErr
}

// writeLoop drains the connection's outbound queue until the connection is
// torn down. stop, not a channel close, ends the loop: the queue itself is
// never closed so a racing Enqueue can never panic.
func (m *Manager) writeLoop(conn net.Conn, out <-chan lpc.Array, stop <-chan struct{}, errCh chan<- error) {
	for {
		select {
		case arr := <-out:
			m.writeMu.Lock()
			_, err := conn.Write(lpc.EncodeFrame(arr))
			m.writeMu.Unlock()
			if err != nil {
				errCh <- err
				return
			}
		case <-stop:
			errCh <- nil
			return
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn net.Conn, decoder *lpc.FrameDecoder) error {
	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(m.idleTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
			for {
				v, derr := decoder.Next()
				if derr != nil {
					if gwerr.Is(derr, gwerr.ShortRead) {
						break
					}
					return derr
				}
				arr, ok := v.(lpc.Array)
				if !ok {
					return gwerr.New(gwerr.BadPkt, "router.readLoop", errors.New("top-level value is not an array"))
				}
				if m.onPacket != nil {
					m.onPacket(arr)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return gwerr.New(gwerr.IdleTimeout, "router.readLoop", err)
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return gwerr.New(gwerr.IdleTimeout, "router.readLoop", err)
			}
			return err
		}
	}
}

// ReconnectToPreferred closes the active connection after delay so the run
// loop redials the head of the endpoint list. The current session
// stays live for the settle window; a zero delay drops the link at once.
func (m *Manager) ReconnectToPreferred(delay time.Duration) {
	time.AfterFunc(delay, func() {
		m.mu.Lock()
		conn := m.conn
		st := m.state
		m.mu.Unlock()
		if conn != nil && st == Connected {
			m.log.Info("reconnecting to preferred router")
			conn.Close()
		}
	})
}

// Shutdown waits up to grace for the outbound queue to drain, writes arr
// (the session engine's shutdown packet) as the final frame, and
// closes the socket. A no-op unless a connection is live.
func (m *Manager) Shutdown(arr lpc.Array, grace time.Duration) {
	m.mu.Lock()
	conn := m.conn
	out := m.outbound
	st := m.state
	m.mu.Unlock()
	if conn == nil || st != Connected {
		return
	}

	deadline := time.Now().Add(grace)
	for len(out) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	m.writeMu.Lock()
	conn.SetWriteDeadline(deadline)
	conn.Write(lpc.EncodeFrame(arr))
	m.writeMu.Unlock()
	m.setState(Closed)
	conn.Close()
}

// readFrame reads exactly one frame for use during the handshake, honoring
// ctx cancellation/deadline.
func (m *Manager) readFrame(ctx context.Context, conn net.Conn, decoder *lpc.FrameDecoder) (lpc.Array, error) {
	buf := make([]byte, 4096)
	for {
		if v, err := decoder.Next(); err == nil {
			arr, ok := v.(lpc.Array)
			if !ok {
				return nil, gwerr.New(gwerr.BadPkt, "router.readFrame", errors.New("top-level value is not an array"))
			}
			return arr, nil
		} else if !gwerr.Is(err, gwerr.ShortRead) {
			return nil, err
		}
		if dl, ok := ctx.Deadline(); ok {
			conn.SetReadDeadline(dl)
		}
		n, err := conn.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
		}
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}
