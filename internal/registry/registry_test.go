package registry

import (
	"context"
	"strings"
	"testing"
	"time"

	"i3gw/gateway/internal/packet"
)

func TestCorrelationKeyFormat(t *testing.T) {
	key, err := NewCorrelationKey()
	if err != nil {
		t.Fatalf("NewCorrelationKey: %v", err)
	}
	if !strings.HasPrefix(key, "req-") {
		t.Errorf("key %q missing req- prefix", key)
	}
	if len(key) != len("req-")+16 {
		t.Errorf("key %q unexpected length", key)
	}
}

func TestAwaitResolvedByMatchingKey(t *testing.T) {
	r := New(nil)
	key, _ := NewCorrelationKey()

	done := make(chan *packet.Packet, 1)
	go func() {
		p, err := r.Await(context.Background(), key, []string{"locate-reply"}, time.Second)
		if err != nil {
			t.Errorf("Await: %v", err)
		}
		done <- p
	}()

	time.Sleep(10 * time.Millisecond)
	reply := &packet.Packet{Header: packet.Header{Type: "locate-reply", TargetUser: key}}
	if !r.Resolve(reply) {
		t.Fatal("Resolve should find the pending request")
	}
	select {
	case p := <-done:
		if p.Type != "locate-reply" {
			t.Errorf("got type %q", p.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Await did not return")
	}
}

func TestAwaitTimesOutWithoutReply(t *testing.T) {
	r := New(nil)
	key, _ := NewCorrelationKey()
	_, err := r.Await(context.Background(), key, nil, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected gateway_timeout error")
	}
}

func TestResolveUnmatchedKeyReturnsFalse(t *testing.T) {
	r := New(nil)
	reply := &packet.Packet{Header: packet.Header{Type: "locate-reply", TargetUser: "req-deadbeef"}}
	if r.Resolve(reply) {
		t.Error("Resolve should report false for an unknown key")
	}
}

// TestAuthTokenSingleUse: a token is consumable exactly once.
func TestAuthTokenSingleUse(t *testing.T) {
	r := New(nil)
	now := time.Now()
	token, err := r.IssueAuthToken("OtherMud", now)
	if err != nil {
		t.Fatalf("IssueAuthToken: %v", err)
	}

	peer, err := r.ConsumeAuthToken(token, now)
	if err != nil || peer != "OtherMud" {
		t.Fatalf("first consume: peer=%q err=%v", peer, err)
	}

	_, err = r.ConsumeAuthToken(token, now)
	if err == nil {
		t.Fatal("second consume of the same token should fail")
	}
}

func TestAuthTokenExpiry(t *testing.T) {
	r := New(nil)
	issued := time.Now()
	token, _ := r.IssueAuthToken("OtherMud", issued)

	_, err := r.ConsumeAuthToken(token, issued.Add(AuthTokenTTL+time.Second))
	if err == nil {
		t.Fatal("expired token should fail to consume")
	}
}

func TestExpireAuthTokensJanitor(t *testing.T) {
	r := New(nil)
	issued := time.Now()
	r.IssueAuthToken("A", issued)
	r.IssueAuthToken("B", issued)

	removed := r.ExpireAuthTokens(issued.Add(AuthTokenTTL + time.Second))
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
}

func TestTokenIs63Bit(t *testing.T) {
	r := New(nil)
	for i := 0; i < 50; i++ {
		tok, _ := r.IssueAuthToken("X", time.Now())
		if tok < 0 {
			t.Fatalf("token %d is negative, must fit in 63 bits", tok)
		}
	}
}
