package core

import (
	"github.com/goccy/go-json"

	"github.com/dkeye/Huddle/internal/domain"
)

type EventType string

const (
	EventJoined             EventType = "joined"
	EventParticipantJoined  EventType = "participant-joined"
	EventParticipantLeft    EventType = "participant-left"
	EventNewProducer        EventType = "new-producer"
	EventProducerClosed     EventType = "producer-closed"
	EventProducerPaused     EventType = "producer-paused"
	EventProducerResumed    EventType = "producer-resumed"
	EventConsumerPaused     EventType = "consumer-paused"
	EventConsumerResumed    EventType = "consumer-resumed"
	EventTransportCreated   EventType = "transport-created"
	EventTransportConnected EventType = "transport-connected"
	EventTransportClosed    EventType = "transport-closed"
	EventProduced           EventType = "produced"
	EventConsumed           EventType = "consumed"
	EventReproduce          EventType = "reproduce"
	EventRoomFailed         EventType = "room-failed"
	EventSessionReplaced    EventType = "session-replaced"
	EventLeft               EventType = "left"
	EventPong               EventType = "pong"
	EventError              EventType = "error"
)

// Event is the single outbound message shape; unused fields are omitted on the wire.
type Event struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"requestId,omitempty"`

	Room          domain.RoomCode      `json:"room,omitempty"`
	ParticipantID domain.ParticipantID `json:"participantId,omitempty"`
	ProducerID    domain.ProducerID    `json:"producerId,omitempty"`
	ConsumerID    domain.ConsumerID    `json:"consumerId,omitempty"`
	TransportID   domain.TransportID   `json:"transportId,omitempty"`
	Kind          domain.MediaKind     `json:"kind,omitempty"`
	Rejoined      bool                 `json:"rejoined,omitempty"`

	RtpCapabilities *domain.RtpCapabilities `json:"routerRtpCapabilities,omitempty"`
	Producers       []domain.ProducerInfo   `json:"producers,omitempty"`
	Participants    []domain.Member         `json:"participants,omitempty"`
	Participant     *domain.Member          `json:"participant,omitempty"`
	Transport       *domain.TransportInfo   `json:"transport,omitempty"`
	Consumer        *domain.ConsumerInfo    `json:"consumer,omitempty"`

	Code    domain.ErrorCode `json:"code,omitempty"`
	Message string           `json:"message,omitempty"`
	Reason  string           `json:"reason,omitempty"`
}

func (e Event) Encode() (Frame, error) {
	return json.Marshal(e)
}

func DecodeEvent(f Frame) (Event, error) {
	var e Event
	err := json.Unmarshal(f, &e)
	return e, err
}

// ErrorEvent builds the error reply for a failed request.
func ErrorEvent(requestID string, err error) Event {
	return Event{
		Type:      EventError,
		RequestID: requestID,
		Code:      domain.CodeOf(err),
		Message:   err.Error(),
	}
}
