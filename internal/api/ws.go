package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const wsWriteTimeout = 5 * time.Second

// WSHandler serves the websocket transport of the API server: one upgraded
// connection per client, a read loop dispatching requests and a dedicated
// send goroutine so a slow client can't block the dispatcher.
type WSHandler struct {
	log      *slog.Logger
	srv      *Server
	upgrader websocket.Upgrader
}

// NewWSHandler builds a websocket transport bound to srv.
func NewWSHandler(log *slog.Logger, srv *Server) *WSHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WSHandler{
		log: log,
		srv: srv,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds the websocket route on an Echo router.
func (h *WSHandler) Register(e *echo.Echo, path string) {
	e.GET(path, h.handle)
}

func (h *WSHandler) handle(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Debug("ws upgrade failed", "remote", c.RealIP(), "err", err)
		return err
	}
	h.serveConn(c.Request().Context(), conn, c.RealIP())
	return nil
}

func (h *WSHandler) serveConn(ctx context.Context, conn *websocket.Conn, remote string) {
	defer conn.Close()
	conn.SetReadLimit(1 << 20)

	var sessionID string
	var forwarderStarted bool
	send := make(chan []byte, 32)
	stop := make(chan struct{}) // closed when the read loop exits
	done := make(chan struct{}) // closed when the writer exits
	defer close(stop)

	go func() {
		defer close(done)
		for {
			select {
			case b := <-send:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					h.log.Debug("ws write error", "remote", remote, "err", err)
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	defer func() {
		if sessionID != "" {
			h.srv.Bus().Unsubscribe(sessionID)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("ws unexpected close", "remote", remote, "session", sessionID, "err", err)
			}
			return
		}
		resp := h.srv.HandleFrame(ctx, &sessionID, data)
		if !forwarderStarted && sessionID != "" {
			forwarderStarted = true
			go forwardEvents(ctx, h.srv, sessionID, send, done)
		}
		if resp == nil {
			continue
		}
		select {
		case send <- resp:
		case <-done:
			return
		}
	}
}

// forwardEvents subscribes sessionID to every bus event and pushes the
// ones the session currently wants onto its connection's send channel.
// Filtering is re-evaluated per event against the session's live
// subscription state, so subscribe/unsubscribe take effect immediately
// without re-subscribing to the bus.
func forwardEvents(ctx context.Context, srv *Server, sessionID string, send chan<- []byte, done <-chan struct{}) {
	sess, ok := srv.Sessions().Get(sessionID, time.Now())
	if !ok {
		return
	}
	events := srv.Bus().Subscribe(sessionID, nil, nil, 0)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if !sess.Wants(e) {
				continue
			}
			b := EncodeEvent(e)
			if b == nil {
				continue
			}
			select {
			case send <- b:
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
