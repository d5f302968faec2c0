package core

//go:generate mockgen -source=engine_iface.go -destination=mock/engine_mock.go -package=mock -exclude_interfaces=Router,Transport,Producer,Consumer

import (
	"context"

	"github.com/dkeye/Huddle/internal/domain"
)

type WorkerSettings struct {
	LogLevel   string
	RTCMinPort uint16
	RTCMaxPort uint16
}

// MediaEngine spawns media workers. Every call may be slow and must honour ctx.
type MediaEngine interface {
	CreateWorker(ctx context.Context, settings WorkerSettings) (Worker, error)
}

type Worker interface {
	ID() domain.WorkerID
	CreateRouter(ctx context.Context, codecs []domain.RtpCodec) (Router, error)
	// Died delivers one error when the worker dies and is then closed.
	// A graceful Close closes it without a value.
	Died() <-chan error
	Close()
}

type Router interface {
	ID() string
	RtpCapabilities() domain.RtpCapabilities
	CreateWebRtcTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	Close()
}

type TransportOptions struct {
	Direction   domain.Direction
	Participant domain.ParticipantID
}

type Transport interface {
	ID() domain.TransportID
	Params() domain.TransportParams
	Connect(ctx context.Context, params domain.ConnectParams) error
	Produce(ctx context.Context, kind domain.MediaKind, rtp domain.RtpParameters) (Producer, error)
	Consume(ctx context.Context, producer domain.ProducerID, caps domain.RtpCapabilities) (Consumer, error)
	Close()
}

type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Pause() error
	Resume() error
	Close()
}

type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	RtpParameters() domain.RtpParameters
	Pause() error
	Resume() error
	Close()
}
