package sfu

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Huddle/internal/domain"
)

type chanSource chan *rtp.Packet

func (s chanSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-s
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

type panicSource struct{}

func (panicSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	panic("boom")
}

func newTrack(t *testing.T, id string) *webrtc.TrackLocalStaticRTP {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, id, "stream")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	return track
}

func TestOutTrackPauseDoesNotReviveDeleted(t *testing.T) {
	ot := NewOutTrack("c1", nil)
	ot.SetPaused(true)
	if ot.State() != TrackStatePaused {
		t.Fatalf("state = %v, want paused", ot.State())
	}
	ot.SetPaused(false)
	if ot.State() != TrackStateOk {
		t.Fatalf("state = %v, want ok", ot.State())
	}
	ot.MarkDelete()
	ot.SetPaused(false)
	ot.SetPaused(true)
	if ot.State() != TrackStateDelete {
		t.Fatalf("state = %v, want delete", ot.State())
	}
}

func TestAddSubscriberRequestsKeyframe(t *testing.T) {
	m := NewRelayManager(nil)
	src := make(chanSource)
	defer close(src)

	keyframes := make(chan struct{}, 4)
	m.StartRelay(context.Background(), "p1", src, func() error {
		keyframes <- struct{}{}
		return nil
	})
	if !m.HasRelay("p1") {
		t.Fatal("relay not registered")
	}
	if err := m.AddSubscriber("p1", NewOutTrack("c1", newTrack(t, "c1"))); err != nil {
		t.Fatalf("add subscriber: %v", err)
	}
	select {
	case <-keyframes:
	case <-time.After(time.Second):
		t.Fatal("no keyframe request on subscribe")
	}

	if err := m.AddSubscriber("missing", NewOutTrack("c2", newTrack(t, "c2"))); !errors.Is(err, domain.ErrProducerNotFound) {
		t.Fatalf("err = %v, want ErrProducerNotFound", err)
	}
	if err := m.RequestKeyframe("missing"); !errors.Is(err, domain.ErrProducerNotFound) {
		t.Fatalf("err = %v, want ErrProducerNotFound", err)
	}
}

func TestSubscriberPauseAndRemove(t *testing.T) {
	m := NewRelayManager(nil)
	src := make(chanSource)
	m.StartRelay(context.Background(), "p1", src, nil)

	ot := NewOutTrack("c1", newTrack(t, "c1"))
	if err := m.AddSubscriber("p1", ot); err != nil {
		t.Fatalf("add subscriber: %v", err)
	}
	m.SetSubscriberPaused("p1", "c1", true)
	if ot.State() != TrackStatePaused {
		t.Fatalf("state = %v, want paused", ot.State())
	}
	src <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}

	m.RemoveSubscriber("p1", "c1")
	if ot.State() != TrackStateDelete {
		t.Fatalf("state = %v, want delete", ot.State())
	}
	close(src)
}

func TestStopRelayDeletesSubscribers(t *testing.T) {
	m := NewRelayManager(nil)
	src := make(chanSource)
	defer close(src)
	m.StartRelay(context.Background(), "p1", src, nil)
	ot := NewOutTrack("c1", newTrack(t, "c1"))
	_ = m.AddSubscriber("p1", ot)

	m.StopRelay("p1")
	if m.HasRelay("p1") {
		t.Fatal("relay still registered")
	}
	if ot.State() != TrackStateDelete {
		t.Fatalf("state = %v, want delete", ot.State())
	}
	m.StopRelay("p1")
}

func TestRelayPanicReportsFault(t *testing.T) {
	faults := make(chan error, 1)
	m := NewRelayManager(func(err error) { faults <- err })
	m.StartRelay(context.Background(), "p1", panicSource{}, nil)

	select {
	case err := <-faults:
		if err == nil {
			t.Fatal("nil fault")
		}
	case <-time.After(time.Second):
		t.Fatal("panic not reported")
	}
}
