package router

import (
	"context"
	"net"
	"testing"
	"time"

	"i3gw/gateway/internal/lpc"
)

// fakeRouter plays the remote end of a net.Pipe connection: it reads one
// frame (expected to be startup-req-3), replies with startup-reply, then
// sends one more packet if extra is non-nil. It leaves the connection open.
func fakeRouter(t *testing.T, conn net.Conn, extra lpc.Array) {
	t.Helper()
	decoder := lpc.NewFrameDecoder(0)
	buf := make([]byte, 4096)
	readFrame := func() lpc.Array {
		for {
			v, err := decoder.Next()
			if err == nil {
				return v.(lpc.Array)
			}
			n, rerr := conn.Read(buf)
			if n > 0 {
				decoder.Feed(buf[:n])
			}
			if rerr != nil {
				t.Logf("fakeRouter read error: %v", rerr)
				return nil
			}
		}
	}

	req := readFrame()
	if req == nil || req[0].(lpc.String) != "startup-req-3" {
		t.Errorf("fakeRouter: expected startup-req-3, got %v", req)
		return
	}
	reply := lpc.Array{
		lpc.String("startup-reply"), lpc.Int(0), lpc.String("*router"), lpc.Int(0), lpc.Int(0), lpc.Int(0),
		lpc.Int(1), lpc.Int(0), lpc.Int(0), lpc.Mapping{},
	}
	conn.Write(lpc.EncodeFrame(reply))
	if extra != nil {
		conn.Write(lpc.EncodeFrame(extra))
	}
}

func TestManagerHandshakeThenDeliversPacket(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	tellPkt := lpc.Array{
		lpc.String("tell"), lpc.Int(5), lpc.String("*router"), lpc.Int(0),
		lpc.String("OurMud"), lpc.String("bob"), lpc.String("Bob"), lpc.String("hi"),
	}
	go fakeRouter(t, serverConn, tellPkt)

	received := make(chan lpc.Array, 4)
	handshakeDone := make(chan struct{})

	m := New(Config{
		Endpoints: []Endpoint{{Name: "*router", Host: "x", Port: 1}},
		Dial: func(ctx context.Context, ep Endpoint) (net.Conn, error) {
			return clientConn, nil
		},
		OnHandshake: func(ctx context.Context, send func(lpc.Array) error, readOne func(context.Context) (lpc.Array, error)) error {
			if err := send(lpc.Array{lpc.String("startup-req-3")}); err != nil {
				return err
			}
			arr, err := readOne(ctx)
			if err != nil {
				return err
			}
			if arr[0].(lpc.String) != "startup-reply" {
				t.Errorf("expected startup-reply, got %v", arr)
			}
			close(handshakeDone)
			return nil
		},
		OnPacket: func(arr lpc.Array) { received <- arr },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	select {
	case <-handshakeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}

	select {
	case arr := <-received:
		if arr[0].(lpc.String) != "tell" {
			t.Errorf("expected tell packet, got %v", arr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive post-handshake packet")
	}

	if m.State() != Connected {
		t.Errorf("state = %v, want Connected", m.State())
	}
}

func TestManagerEnqueueRejectsWhenNotConnected(t *testing.T) {
	m := New(Config{Endpoints: []Endpoint{{Name: "*router"}}})
	if err := m.Enqueue(lpc.Array{lpc.String("tell")}); err == nil {
		t.Error("expected error enqueueing before any connection exists")
	}
}
