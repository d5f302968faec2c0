package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodeOf(t *testing.T) {
	cases := map[ErrorCode]error{
		CodeNotFound:          ErrProducerNotFound,
		CodeDuplicateResource: ErrAlreadyConsuming,
		CodeInvalidState:      fmt.Errorf("create transport: %w", ErrNotJoined),
		CodeEngineUnavailable: ErrEngineUnavailable,
		CodeEngineFailure:     EngineError("produce", errors.New("rtp parameters rejected")),
		CodeTimeout:           context.DeadlineExceeded,
		CodeCancelled:         context.Canceled,
		CodeInternal:          errors.New("boom"),
	}
	for want, err := range cases {
		if got := CodeOf(err); got != want {
			t.Errorf("CodeOf(%v) = %s, want %s", err, got, want)
		}
	}
}

func TestEngineErrorKeepsKinds(t *testing.T) {
	err := EngineError("consume", ErrProducerNotFound)
	if !errors.Is(err, ErrNotFound) || errors.Is(err, ErrEngineFailure) {
		t.Fatalf("not-found from the engine must stay NotFound, got %v", err)
	}
	if EngineError("consume", nil) != nil {
		t.Fatal("nil must stay nil")
	}
	if got := EngineError("produce", context.Canceled); got != context.Canceled {
		t.Fatalf("context errors pass through, got %v", got)
	}
}

func TestValidation(t *testing.T) {
	if err := ParticipantID("").Validate(); !errors.Is(err, ErrParticipantIDEmpty) {
		t.Fatalf("empty id: %v", err)
	}
	if err := ParticipantID(strings.Repeat("a", MaxParticipantIDLen+1)).Validate(); !errors.Is(err, ErrParticipantIDTooLong) {
		t.Fatalf("long id: %v", err)
	}
	if err := RoomCode("  ").Validate(); !errors.Is(err, ErrRoomCodeEmpty) {
		t.Fatalf("blank room: %v", err)
	}
	meta := Metadata{}
	if err := meta.SetDisplayName(strings.Repeat("x", MaxDisplayNameLen+1)); !errors.Is(err, ErrDisplayNameTooLong) {
		t.Fatalf("long name: %v", err)
	}
	if _, ok := (RtpCapabilities{Codecs: DefaultCodecs()}).Find("VIDEO/vp8"); !ok {
		t.Fatal("codec lookup must ignore case")
	}
}
