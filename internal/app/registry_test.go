package app

import (
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/core/coretest"
	"github.com/dkeye/Huddle/internal/domain"
)

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry(nil, time.Hour)
	conn := coretest.NewConn()

	if _, had, err := reg.Begin("c1", conn, "alice", "r1"); err != nil || had {
		t.Fatalf("begin: had=%v err=%v", had, err)
	}
	if _, _, err := reg.Begin("c1", conn, "bob", "r1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("one identity per connection, got %v", err)
	}

	reg.Notify("alice", core.Event{Type: core.EventPong})
	if len(conn.Events()) != 0 {
		t.Fatal("joining sessions must not receive room events")
	}
	if err := reg.Admit("c1"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Admit("c1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("double admit: %v", err)
	}
	reg.Notify("alice", core.Event{Type: core.EventPong})
	if got := conn.Types(); len(got) != 1 || got[0] != core.EventPong {
		t.Fatalf("joined session events: %v", got)
	}

	info, err := reg.Leave("c1")
	if err != nil || info.Participant != "alice" {
		t.Fatalf("leave: %+v %v", info, err)
	}
	if reg.StateOf("alice") != domain.SessionClosed {
		t.Fatal("left participant must be closed")
	}
	if _, err := reg.Leave("c1"); !errors.Is(err, domain.ErrNotJoined) {
		t.Fatalf("leave twice: %v", err)
	}
}

func TestRegistryDropAndExpire(t *testing.T) {
	reg := NewRegistry(nil, 20*time.Millisecond)
	expired := make(chan domain.ParticipantID, 1)
	reg.OnExpire(func(p domain.ParticipantID, room domain.RoomCode) {
		if room != "r1" {
			t.Errorf("expired from %s", room)
		}
		expired <- p
	})

	reg.Begin("c1", coretest.NewConn(), "alice", "r1")
	reg.Admit("c1")
	info, ok := reg.Drop("c1")
	if !ok || info.State != domain.SessionReconnecting {
		t.Fatalf("drop: %+v %v", info, ok)
	}
	if got := reg.Members("r1"); len(got) != 1 {
		t.Fatalf("reconnecting participant is still a member: %v", got)
	}

	select {
	case p := <-expired:
		if p != "alice" {
			t.Fatalf("expired %s", p)
		}
	case <-time.After(time.Second):
		t.Fatal("reconnection window never elapsed")
	}
	if reg.StateOf("alice") != domain.SessionClosed || len(reg.Members("r1")) != 0 {
		t.Fatal("expired participant must be closed")
	}
}

func TestRegistryReconnectCancelsExpiry(t *testing.T) {
	reg := NewRegistry(nil, 30*time.Millisecond)
	expired := make(chan domain.ParticipantID, 1)
	reg.OnExpire(func(p domain.ParticipantID, _ domain.RoomCode) { expired <- p })

	reg.Begin("c1", coretest.NewConn(), "alice", "r1")
	reg.Admit("c1")
	reg.Drop("c1")

	prior, had, err := reg.Begin("c2", coretest.NewConn(), "alice", "r1")
	if err != nil || !had || prior.State != domain.SessionReconnecting {
		t.Fatalf("rejoin must see the reconnecting session: %+v had=%v err=%v", prior, had, err)
	}
	reg.Admit("c2")
	if reg.StateOf("alice") != domain.SessionJoined {
		t.Fatalf("state %s", reg.StateOf("alice"))
	}
	select {
	case <-expired:
		t.Fatal("reconnected participant expired")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestRegistryNewConnectionReplacesJoined(t *testing.T) {
	reg := NewRegistry(nil, time.Hour)
	old := coretest.NewConn()
	reg.Begin("c1", old, "alice", "r1")
	reg.Admit("c1")

	prior, had, _ := reg.Begin("c2", coretest.NewConn(), "alice", "r1")
	if !had || prior.State != domain.SessionJoined {
		t.Fatalf("prior: %+v", prior)
	}
	if got := old.EventsOf(core.EventSessionReplaced); len(got) != 1 || !old.Closed() {
		t.Fatal("replaced connection must be told and closed")
	}
	if _, ok := reg.Lookup("c1"); ok {
		t.Fatal("old connection must no longer resolve")
	}
	if _, ok := reg.Drop("c1"); ok {
		t.Fatal("dropping the replaced connection must not touch the new session")
	}
	if err := reg.Admit("c1"); err == nil {
		t.Fatal("stale admit must fail")
	}
}

func TestRegistryBackpressureKicks(t *testing.T) {
	reg := NewRegistry(SimplePolicy{}, time.Hour)
	conn := coretest.NewConn()
	reg.Begin("c1", conn, "alice", "r1")
	reg.Admit("c1")

	conn.SetFull(true)
	reg.Notify("alice", core.Event{Type: core.EventNewProducer, ProducerID: "p1"})
	if !conn.Closed() {
		t.Fatal("a full outbound queue must not drop silently")
	}
}

func TestRegistryCloseRoom(t *testing.T) {
	reg := NewRegistry(nil, time.Hour)
	for i, pid := range []domain.ParticipantID{"alice", "bob"} {
		conn := core.ConnID([]string{"c1", "c2"}[i])
		reg.Begin(conn, coretest.NewConn(), pid, "r1")
		reg.Admit(conn)
	}
	reg.Begin("c3", coretest.NewConn(), "carol", "r2")
	reg.Admit("c3")

	if n := reg.CloseRoom("r1", []domain.ParticipantID{"alice", "bob", "carol"}); n != 2 {
		t.Fatalf("closed %d sessions", n)
	}
	if reg.StateOf("carol") != domain.SessionJoined {
		t.Fatal("other rooms untouched")
	}
	if _, ok := reg.Lookup("c1"); ok {
		t.Fatal("failed room's sessions must be gone")
	}
}
