package api

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"time"
)

const tcpWriteTimeout = 5 * time.Second

// TCPServer serves the line-delimited TCP transport of the API server:
// one JSON-RPC request or batch array per line, and one response line per
// input line that yields a response (a batch's responses share one array
// line).
type TCPServer struct {
	log *slog.Logger
	srv *Server
}

// NewTCPServer builds a TCP transport bound to srv.
func NewTCPServer(log *slog.Logger, srv *Server) *TCPServer {
	if log == nil {
		log = slog.Default()
	}
	return &TCPServer{log: log, srv: srv}
}

// Serve accepts connections on ln until ctx is cancelled or Accept fails.
func (t *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		go t.serveConn(ctx, conn)
	}
}

func (t *TCPServer) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

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
				_ = conn.SetWriteDeadline(time.Now().Add(tcpWriteTimeout))
				if _, err := conn.Write(append(b, '\n')); err != nil {
					t.log.Debug("tcp write error", "remote", remote, "err", err)
					conn.Close()
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
			t.srv.Bus().Unsubscribe(sessionID)
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := t.srv.HandleFrame(ctx, &sessionID, line)
		if !forwarderStarted && sessionID != "" {
			forwarderStarted = true
			go forwardEvents(ctx, t.srv, sessionID, send, done)
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
	if err := scanner.Err(); err != nil {
		t.log.Debug("tcp read error", "remote", remote, "session", sessionID, "err", err)
	}
}
