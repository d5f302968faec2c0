package signal

import (
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/adapters/auth"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRoomRateLimiter(2, time.Second)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("alice") || !rl.Allow("alice") {
		t.Fatal("attempts within limit rejected")
	}
	if rl.Allow("alice") {
		t.Fatal("third attempt in window allowed")
	}
	if !rl.Allow("bob") {
		t.Fatal("limit leaked across participants")
	}
	now = now.Add(1500 * time.Millisecond)
	if !rl.Allow("alice") {
		t.Fatal("attempt after window rejected")
	}
	if _, ok := rl.history["bob"]; ok {
		t.Fatal("stale participant not pruned")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRoomRateLimiter(0, time.Second)
	for range 100 {
		if !rl.Allow("alice") {
			t.Fatal("disabled limiter rejected")
		}
	}
}

func TestIdentify(t *testing.T) {
	open := &SignalWSController{}
	id, _, err := open.identify(joinPayload{Room: "r1", ParticipantID: "alice"}, "cookie")
	if err != nil || id != "alice" {
		t.Fatalf("payload id = %q, %v", id, err)
	}
	id, _, _ = open.identify(joinPayload{Room: "r1"}, "cookie")
	if id != "cookie" {
		t.Fatalf("fallback id = %q, want cookie", id)
	}

	v := auth.NewVerifier("s3cret", "")
	secured := &SignalWSController{Auth: v}
	tok, _ := v.Issue("carol", "", "Carol", time.Minute)
	id, meta, err := secured.identify(joinPayload{Room: "r1", ParticipantID: "mallory", Token: tok}, "cookie")
	if err != nil || id != "carol" || meta.DisplayName != "Carol" {
		t.Fatalf("token identity = %q %+v %v", id, meta, err)
	}
	if _, _, err := secured.identify(joinPayload{Room: "r1", ParticipantID: "mallory"}, "cookie"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("missing token err = %v", err)
	}
}

func TestConnQueue(t *testing.T) {
	c := &WsSignalConn{id: "c1", send: make(chan core.Frame, 1)}
	if err := c.TrySend(core.Frame("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.TrySend(core.Frame("b")); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("full queue err = %v", err)
	}
	c.Close()
	c.Close()
	if err := c.TrySend(core.Frame("c")); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("closed err = %v", err)
	}
	if f, ok := <-c.send; !ok || string(f) != "a" {
		t.Fatal("queued frame lost on close")
	}
}
