package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/core/coretest"
	"github.com/dkeye/Huddle/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	events map[domain.ParticipantID][]core.Event
}

func newRecorder() *recorder {
	return &recorder{events: make(map[domain.ParticipantID][]core.Event)}
}

func (r *recorder) Notify(to domain.ParticipantID, ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[to] = append(r.events[to], ev)
}

func (r *recorder) of(to domain.ParticipantID, typ core.EventType) []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Event
	for _, ev := range r.events[to] {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.events)
}

func newTestRoom(t *testing.T, grace time.Duration, onEmpty func(*Room)) (*Room, *coretest.Engine, *recorder) {
	t.Helper()
	engine := coretest.NewEngine()
	w, err := engine.CreateWorker(context.Background(), core.WorkerSettings{})
	if err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	room := NewRoom("r1", w, rec, RoomOptions{EmptyGrace: grace}, onEmpty)
	t.Cleanup(room.Close)
	return room, engine, rec
}

func mustJoin(t *testing.T, room *Room, id domain.ParticipantID) JoinResult {
	t.Helper()
	res, err := room.Join(context.Background(), JoinParams{Participant: id})
	if err != nil {
		t.Fatalf("join %s: %v", id, err)
	}
	return res
}

func mustTransport(t *testing.T, room *Room, id domain.ParticipantID, dir domain.Direction) domain.TransportID {
	t.Helper()
	info, err := room.CreateTransport(context.Background(), id, dir, "")
	if err != nil {
		t.Fatalf("transport %s/%s: %v", id, dir, err)
	}
	return info.ID
}

func mustProduce(t *testing.T, room *Room, id domain.ParticipantID, tid domain.TransportID, kind domain.MediaKind) domain.ProducerID {
	t.Helper()
	pid, err := room.Produce(context.Background(), id, tid, kind, domain.RtpParameters{}, "")
	if err != nil {
		t.Fatalf("produce %s: %v", id, err)
	}
	return pid
}

func TestRoomJoinIsIdempotent(t *testing.T) {
	room, _, rec := newTestRoom(t, time.Hour, nil)
	mustJoin(t, room, "alice")
	res := mustJoin(t, room, "bob")
	if res.Rejoined || len(res.Participants) != 1 || res.Participants[0].ID != "alice" {
		t.Fatalf("bob should see alice, got %+v", res)
	}
	if got := rec.of("alice", core.EventParticipantJoined); len(got) != 1 || got[0].ParticipantID != "bob" {
		t.Fatalf("alice should hear about bob once, got %+v", got)
	}

	again := mustJoin(t, room, "alice")
	if !again.Rejoined {
		t.Fatal("second join must be a rejoin")
	}
	if got := rec.of("bob", core.EventParticipantJoined); len(got) != 0 {
		t.Fatalf("rejoin must not re-announce the participant, got %+v", got)
	}
	if got := room.Participants(); len(got) != 2 {
		t.Fatalf("participants: %v", got)
	}
}

func TestRoomTransportRules(t *testing.T) {
	room, _, rec := newTestRoom(t, time.Hour, nil)
	ctx := context.Background()

	if _, err := room.CreateTransport(ctx, "ghost", domain.DirectionSend, ""); domain.CodeOf(err) != domain.CodeInvalidState {
		t.Fatalf("non-member: want InvalidState, got %v", err)
	}
	mustJoin(t, room, "alice")
	if _, err := room.CreateTransport(ctx, "alice", "sideways", ""); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("bad direction: %v", err)
	}
	tid := mustTransport(t, room, "alice", domain.DirectionSend)
	if _, err := room.CreateTransport(ctx, "alice", domain.DirectionSend, ""); !errors.Is(err, domain.ErrDuplicateTransport) {
		t.Fatalf("want DuplicateTransport, got %v", err)
	}
	mustTransport(t, room, "alice", domain.DirectionRecv)

	params := domain.ConnectParams{DtlsParameters: domain.DtlsParameters{Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA"}}}}
	if err := room.ConnectTransport(ctx, "alice", tid, params, "req-1"); err != nil {
		t.Fatal(err)
	}
	if err := room.ConnectTransport(ctx, "alice", tid, params, ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("second connect: %v", err)
	}
	connected := rec.of("alice", core.EventTransportConnected)
	if len(connected) != 1 || connected[0].RequestID != "req-1" {
		t.Fatalf("transport-connected reply: %+v", connected)
	}
}

func TestRoomProduceAnnouncesRegisteredProducer(t *testing.T) {
	room, _, rec := newTestRoom(t, time.Hour, nil)
	mustJoin(t, room, "alice")
	mustJoin(t, room, "bob")
	send := mustTransport(t, room, "alice", domain.DirectionSend)

	if _, err := room.Produce(context.Background(), "alice", send, "smell", domain.RtpParameters{}, ""); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("bad kind: %v", err)
	}
	pid := mustProduce(t, room, "alice", send, domain.MediaKindVideo)

	got := rec.of("bob", core.EventNewProducer)
	if len(got) != 1 || got[0].ProducerID != pid || got[0].ParticipantID != "alice" || got[0].Kind != domain.MediaKindVideo {
		t.Fatalf("bob's new-producer: %+v", got)
	}
	if got := rec.of("alice", core.EventNewProducer); len(got) != 0 {
		t.Fatalf("owner must not be told about its own producer: %+v", got)
	}
	res := mustJoin(t, room, "carol")
	if len(res.Producers) != 1 || res.Producers[0].ID != pid {
		t.Fatalf("late joiner must see the producer, got %+v", res.Producers)
	}
}

func TestRoomProducerIDsAreUnique(t *testing.T) {
	room, engine, _ := newTestRoom(t, time.Hour, nil)

	const n = 8
	sends := make([]domain.TransportID, n)
	for i := range n {
		id := domain.ParticipantID(fmt.Sprintf("p%d", i))
		mustJoin(t, room, id)
		sends[i] = mustTransport(t, room, id, domain.DirectionSend)
	}
	var wg sync.WaitGroup
	ids := make([]domain.ProducerID, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pid, err := room.Produce(context.Background(), domain.ParticipantID(fmt.Sprintf("p%d", i)), sends[i], domain.MediaKindAudio, domain.RtpParameters{}, "")
			if err != nil {
				t.Error(err)
			}
			ids[i] = pid
		}()
	}
	wg.Wait()
	seen := map[domain.ProducerID]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate producer id %s", id)
		}
		seen[id] = true
	}

	engine.ForceProducerID = ids[0]
	_, err := room.Produce(context.Background(), "p1", sends[1], domain.MediaKindVideo, domain.RtpParameters{}, "")
	if !errors.Is(err, domain.ErrDuplicateResource) {
		t.Fatalf("reused engine id must be refused, got %v", err)
	}
	if got := len(room.Producers()); got != n {
		t.Fatalf("want %d live producers, got %d", n, got)
	}
}

func TestRoomConsume(t *testing.T) {
	room, engine, rec := newTestRoom(t, time.Hour, nil)
	ctx := context.Background()
	mustJoin(t, room, "alice")
	mustJoin(t, room, "bob")
	pid := mustProduce(t, room, "alice", mustTransport(t, room, "alice", domain.DirectionSend), domain.MediaKindVideo)

	if _, err := room.Consume(ctx, "bob", pid, nil, ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("consume without recv transport: %v", err)
	}
	mustTransport(t, room, "bob", domain.DirectionRecv)
	info, err := room.Consume(ctx, "bob", pid, nil, "req-9")
	if err != nil {
		t.Fatal(err)
	}
	if info.ProducerID != pid || info.Participant != "alice" {
		t.Fatalf("consumer info: %+v", info)
	}
	if got := rec.of("bob", core.EventConsumed); len(got) != 1 || got[0].RequestID != "req-9" || got[0].Consumer == nil {
		t.Fatalf("consumed reply: %+v", got)
	}
	if _, err := room.Consume(ctx, "bob", pid, nil, ""); !errors.Is(err, domain.ErrAlreadyConsuming) {
		t.Fatalf("want AlreadyConsuming, got %v", err)
	}
	if _, err := room.Consume(ctx, "alice", pid, nil, ""); !errors.Is(err, domain.ErrBadRequest) {
		t.Fatalf("self-consume: %v", err)
	}

	if err := room.CloseProducer("alice", pid, ""); err != nil {
		t.Fatal(err)
	}
	if !engine.IsClosed(string(info.ID)) {
		t.Fatal("consumer of a closed producer must be closed")
	}
	if got := rec.of("bob", core.EventProducerClosed); len(got) != 1 || got[0].ProducerID != pid {
		t.Fatalf("producer-closed to bob: %+v", got)
	}
	_, err = room.Consume(ctx, "bob", pid, nil, "")
	if !errors.Is(err, domain.ErrProducerNotFound) || domain.CodeOf(err) != domain.CodeNotFound {
		t.Fatalf("consume closed producer: want NotFound, got %v", err)
	}
	if view, _ := room.View("bob"); len(view.Consumers) != 0 {
		t.Fatalf("no consumer entity may exist, got %+v", view.Consumers)
	}
}

func TestRoomPause(t *testing.T) {
	room, _, rec := newTestRoom(t, time.Hour, nil)
	mustJoin(t, room, "alice")
	mustJoin(t, room, "bob")
	pid := mustProduce(t, room, "alice", mustTransport(t, room, "alice", domain.DirectionSend), domain.MediaKindAudio)
	mustTransport(t, room, "bob", domain.DirectionRecv)
	info, err := room.Consume(context.Background(), "bob", pid, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := room.SetProducerPaused("alice", pid, true, "p1"); err != nil {
		t.Fatal(err)
	}
	if got := room.Producers(); len(got) != 1 || !got[0].Paused {
		t.Fatalf("producer not paused: %+v", got)
	}
	if got := rec.of("alice", core.EventProducerPaused); len(got) != 1 || got[0].RequestID != "p1" {
		t.Fatalf("owner reply: %+v", got)
	}
	if got := rec.of("bob", core.EventProducerPaused); len(got) != 1 || got[0].ProducerID != pid {
		t.Fatalf("peer broadcast: %+v", got)
	}
	if err := room.SetProducerPaused("bob", pid, true, ""); !errors.Is(err, domain.ErrProducerNotFound) {
		t.Fatalf("pausing a peer's producer: %v", err)
	}
	if err := room.SetProducerPaused("alice", pid, false, ""); err != nil {
		t.Fatal(err)
	}
	if got := rec.of("bob", core.EventProducerResumed); len(got) != 1 {
		t.Fatalf("resume broadcast: %+v", got)
	}

	if err := room.SetConsumerPaused("bob", info.ID, true, "c1"); err != nil {
		t.Fatal(err)
	}
	if got := rec.of("bob", core.EventConsumerPaused); len(got) != 1 || got[0].RequestID != "c1" || got[0].ProducerID != pid {
		t.Fatalf("consumer-paused: %+v", got)
	}
	if got := rec.of("alice", core.EventConsumerPaused); len(got) != 0 {
		t.Fatalf("consumer pause leaked to producer owner: %+v", got)
	}
	if err := room.SetConsumerPaused("bob", "nope", true, ""); !errors.Is(err, domain.ErrConsumerNotFound) {
		t.Fatalf("unknown consumer: %v", err)
	}
}

func TestRoomEngineFailureDoesNotMutate(t *testing.T) {
	room, engine, rec := newTestRoom(t, time.Hour, nil)
	mustJoin(t, room, "alice")
	mustJoin(t, room, "bob")
	send := mustTransport(t, room, "alice", domain.DirectionSend)

	engine.BeforeProduce = func(context.Context) error { return errors.New("rtp parameters rejected") }
	_, err := room.Produce(context.Background(), "alice", send, domain.MediaKindAudio, domain.RtpParameters{}, "")
	if domain.CodeOf(err) != domain.CodeEngineFailure {
		t.Fatalf("want EngineFailure, got %v", err)
	}
	if len(room.Producers()) != 0 || len(rec.of("bob", core.EventNewProducer)) != 0 {
		t.Fatal("failed produce must leave no trace")
	}
}

func TestRoomCancelledCallClosesLateResource(t *testing.T) {
	room, engine, _ := newTestRoom(t, time.Hour, nil)
	mustJoin(t, room, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	engine.BeforeTransport = func(context.Context) error {
		cancel()
		return nil
	}
	_, err := room.CreateTransport(ctx, "alice", domain.DirectionSend, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want Canceled, got %v", err)
	}
	created := engine.Created("transport")
	if len(created) != 1 || !engine.IsClosed(created[0]) {
		t.Fatalf("late transport must be closed: %v", created)
	}
	if view, _ := room.View("alice"); len(view.Transports) != 0 {
		t.Fatalf("transport registered after cancel: %v", view.Transports)
	}
}

func TestRoomLeaveTearsDown(t *testing.T) {
	room, engine, rec := newTestRoom(t, time.Hour, nil)
	mustJoin(t, room, "alice")
	mustJoin(t, room, "bob")
	send := mustTransport(t, room, "alice", domain.DirectionSend)
	pid := mustProduce(t, room, "alice", send, domain.MediaKindAudio)
	mustTransport(t, room, "bob", domain.DirectionRecv)
	cons, err := room.Consume(context.Background(), "bob", pid, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	if !room.Leave("alice") {
		t.Fatal("alice was a member")
	}
	if room.Leave("alice") {
		t.Fatal("second leave must report false")
	}
	for _, id := range []string{string(send), string(pid), string(cons.ID)} {
		if !engine.IsClosed(id) {
			t.Errorf("%s left open", id)
		}
	}
	if got := rec.of("bob", core.EventParticipantLeft); len(got) != 1 || got[0].ParticipantID != "alice" {
		t.Fatalf("participant-left: %+v", got)
	}
	if got := rec.of("bob", core.EventProducerClosed); len(got) != 1 {
		t.Fatalf("producer-closed: %+v", got)
	}
}

func TestRoomEmptyGrace(t *testing.T) {
	emptied := make(chan *Room, 1)
	room, _, _ := newTestRoom(t, 20*time.Millisecond, func(r *Room) { emptied <- r })

	mustJoin(t, room, "alice")
	room.Leave("alice")
	mustJoin(t, room, "alice")
	select {
	case <-emptied:
		t.Fatal("rejoin within grace must keep the room")
	case <-time.After(60 * time.Millisecond):
	}

	room.Leave("alice")
	select {
	case got := <-emptied:
		if got != room || !room.Closed() {
			t.Fatal("room not closed after grace")
		}
	case <-time.After(time.Second):
		t.Fatal("empty room never destroyed")
	}
	if _, err := room.Join(context.Background(), JoinParams{Participant: "alice"}); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("join on destroyed room: %v", err)
	}
}

func TestRoomStaleEmptyTimer(t *testing.T) {
	var emptied int
	room, _, _ := newTestRoom(t, time.Hour, func(*Room) { emptied++ })

	mustJoin(t, room, "alice")
	room.Leave("alice")
	room.mu.Lock()
	stale := room.emptyGen
	room.mu.Unlock()

	// A timer that already fired must not close the schedule that replaced it.
	mustJoin(t, room, "alice")
	room.Leave("alice")
	room.expireEmpty(stale)
	if room.Closed() || emptied != 0 {
		t.Fatal("stale timer closed the room")
	}

	mustJoin(t, room, "alice")
	room.expireEmpty(stale + 1)
	if room.Closed() {
		t.Fatal("timer closed an occupied room")
	}

	room.Leave("alice")
	room.mu.Lock()
	cur := room.emptyGen
	room.mu.Unlock()
	room.expireEmpty(cur)
	if !room.Closed() || emptied != 1 {
		t.Fatalf("closed=%v emptied=%d", room.Closed(), emptied)
	}
}

func TestRoomZeroGraceChurn(t *testing.T) {
	var emptied atomic.Int32
	room, _, _ := newTestRoom(t, 0, func(*Room) { emptied.Add(1) })

	for i := 0; i < 200; i++ {
		if _, err := room.Join(context.Background(), JoinParams{Participant: "alice"}); err != nil {
			if !errors.Is(err, ErrRoomClosed) {
				t.Fatal(err)
			}
			break
		}
		room.Leave("alice")
	}
	deadline := time.Now().Add(time.Second)
	for !room.Closed() || emptied.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("empty room never destroyed")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	if n := emptied.Load(); n != 1 {
		t.Fatalf("room emptied %d times", n)
	}
}

func TestRoomFail(t *testing.T) {
	room, engine, rec := newTestRoom(t, time.Hour, nil)
	mustJoin(t, room, "alice")
	mustJoin(t, room, "bob")
	send := mustTransport(t, room, "alice", domain.DirectionSend)

	ids := room.Fail("worker died")
	if len(ids) != 2 {
		t.Fatalf("failed members: %v", ids)
	}
	for _, id := range ids {
		if got := rec.of(id, core.EventRoomFailed); len(got) != 1 || got[0].Reason != "worker died" {
			t.Fatalf("%s room-failed: %+v", id, got)
		}
	}
	if engine.IsClosed(string(send)) {
		t.Fatal("no engine calls are made on a failed room")
	}
	if room.Fail("again") != nil {
		t.Fatal("second Fail must be a no-op")
	}
	if !room.Closed() || len(room.Participants()) != 0 {
		t.Fatal("failed room must be closed and empty")
	}
}

func TestRoomRejoinReconciles(t *testing.T) {
	room, engine, rec := newTestRoom(t, time.Hour, nil)
	mustJoin(t, room, "alice")
	mustJoin(t, room, "bob")
	send := mustTransport(t, room, "alice", domain.DirectionSend)
	keep := mustProduce(t, room, "alice", send, domain.MediaKindAudio)
	drop := mustProduce(t, room, "alice", send, domain.MediaKindVideo)
	rec.reset()

	claim := &Claim{Producers: []domain.ProducerID{keep, "p-lost"}}
	res, err := room.Join(context.Background(), JoinParams{Participant: "alice", Claim: claim})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Rejoined {
		t.Fatal("want rejoin")
	}
	if !engine.IsClosed(string(drop)) || engine.IsClosed(string(keep)) {
		t.Fatal("only the unclaimed producer must close")
	}
	if got := rec.of("alice", core.EventReproduce); len(got) != 1 || got[0].ProducerID != "p-lost" {
		t.Fatalf("reproduce: %+v", got)
	}
	if got := rec.of("bob", core.EventProducerClosed); len(got) != 1 || got[0].ProducerID != drop {
		t.Fatalf("bob producer-closed: %+v", got)
	}

	rec.reset()
	res, err = room.Join(context.Background(), JoinParams{Participant: "alice", Claim: claim})
	if err != nil {
		t.Fatal(err)
	}
	if res.Plan.Mutates() {
		t.Fatalf("second reconciliation mutated: %+v", res.Plan)
	}
	if got := rec.of("bob", core.EventProducerClosed); len(got) != 0 {
		t.Fatalf("peers must not see changes on the second pass: %+v", got)
	}
}
