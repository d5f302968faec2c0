package signal

import (
	"context"

	"github.com/dkeye/Huddle/internal/domain"
)

// Successful media requests are answered by the room, in commit order.

type createTransportPayload struct {
	Direction domain.Direction `json:"direction"`
}

func (ctl *SignalWSController) handleCreateTransport(ctx context.Context, conn *WsSignalConn, requestID string, data []byte) error {
	p, err := decode[createTransportPayload](data)
	if err != nil {
		return err
	}
	_, err = ctl.Orch.CreateTransport(ctx, conn.id, p.Direction, requestID)
	return err
}

type connectTransportPayload struct {
	TransportID    domain.TransportID    `json:"transportId"`
	DtlsParameters domain.DtlsParameters `json:"dtlsParameters"`
	IceParameters  *domain.IceParameters `json:"iceParameters,omitempty"`
	IceCandidates  []domain.IceCandidate `json:"iceCandidates,omitempty"`
}

func (ctl *SignalWSController) handleConnectTransport(ctx context.Context, conn *WsSignalConn, requestID string, data []byte) error {
	p, err := decode[connectTransportPayload](data)
	if err != nil {
		return err
	}
	return ctl.Orch.ConnectTransport(ctx, conn.id, p.TransportID, domain.ConnectParams{
		DtlsParameters: p.DtlsParameters,
		IceParameters:  p.IceParameters,
		IceCandidates:  p.IceCandidates,
	}, requestID)
}

type producePayload struct {
	TransportID   domain.TransportID   `json:"transportId"`
	Kind          domain.MediaKind     `json:"kind"`
	RtpParameters domain.RtpParameters `json:"rtpParameters"`
}

func (ctl *SignalWSController) handleProduce(ctx context.Context, conn *WsSignalConn, requestID string, data []byte) error {
	p, err := decode[producePayload](data)
	if err != nil {
		return err
	}
	_, err = ctl.Orch.Produce(ctx, conn.id, p.TransportID, p.Kind, p.RtpParameters, requestID)
	return err
}

type consumePayload struct {
	ProducerID      domain.ProducerID       `json:"producerId"`
	RtpCapabilities *domain.RtpCapabilities `json:"rtpCapabilities,omitempty"`
}

func (ctl *SignalWSController) handleConsume(ctx context.Context, conn *WsSignalConn, requestID string, data []byte) error {
	p, err := decode[consumePayload](data)
	if err != nil {
		return err
	}
	_, err = ctl.Orch.Consume(ctx, conn.id, p.ProducerID, p.RtpCapabilities, requestID)
	return err
}

type producerPayload struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

func (ctl *SignalWSController) handleCloseProducer(conn *WsSignalConn, requestID string, data []byte) error {
	p, err := decode[producerPayload](data)
	if err != nil {
		return err
	}
	return ctl.Orch.CloseProducer(conn.id, p.ProducerID, requestID)
}

func (ctl *SignalWSController) handleProducerPause(conn *WsSignalConn, requestID string, paused bool, data []byte) error {
	p, err := decode[producerPayload](data)
	if err != nil {
		return err
	}
	return ctl.Orch.SetProducerPaused(conn.id, p.ProducerID, paused, requestID)
}

type consumerPayload struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

func (ctl *SignalWSController) handleConsumerPause(conn *WsSignalConn, requestID string, paused bool, data []byte) error {
	p, err := decode[consumerPayload](data)
	if err != nil {
		return err
	}
	return ctl.Orch.SetConsumerPaused(conn.id, p.ConsumerID, paused, requestID)
}
