package orch

import (
	"context"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

func (o *Orchestrator) CreateTransport(ctx context.Context, conn core.ConnID, dir domain.Direction, requestID string) (domain.TransportInfo, error) {
	info, room, err := o.session(conn)
	if err != nil {
		return domain.TransportInfo{}, err
	}
	ctx, cancel := o.callContext(ctx)
	defer cancel()
	return room.CreateTransport(ctx, info.Participant, dir, requestID)
}

func (o *Orchestrator) ConnectTransport(ctx context.Context, conn core.ConnID, tid domain.TransportID, params domain.ConnectParams, requestID string) error {
	info, room, err := o.session(conn)
	if err != nil {
		return err
	}
	ctx, cancel := o.callContext(ctx)
	defer cancel()
	return room.ConnectTransport(ctx, info.Participant, tid, params, requestID)
}

func (o *Orchestrator) Produce(ctx context.Context, conn core.ConnID, tid domain.TransportID, kind domain.MediaKind, rtp domain.RtpParameters, requestID string) (domain.ProducerID, error) {
	info, room, err := o.session(conn)
	if err != nil {
		return "", err
	}
	ctx, cancel := o.callContext(ctx)
	defer cancel()
	return room.Produce(ctx, info.Participant, tid, kind, rtp, requestID)
}

func (o *Orchestrator) Consume(ctx context.Context, conn core.ConnID, producer domain.ProducerID, caps *domain.RtpCapabilities, requestID string) (domain.ConsumerInfo, error) {
	info, room, err := o.session(conn)
	if err != nil {
		return domain.ConsumerInfo{}, err
	}
	ctx, cancel := o.callContext(ctx)
	defer cancel()
	return room.Consume(ctx, info.Participant, producer, caps, requestID)
}

func (o *Orchestrator) CloseProducer(conn core.ConnID, producer domain.ProducerID, requestID string) error {
	info, room, err := o.session(conn)
	if err != nil {
		return err
	}
	return room.CloseProducer(info.Participant, producer, requestID)
}

func (o *Orchestrator) SetProducerPaused(conn core.ConnID, producer domain.ProducerID, paused bool, requestID string) error {
	info, room, err := o.session(conn)
	if err != nil {
		return err
	}
	return room.SetProducerPaused(info.Participant, producer, paused, requestID)
}

func (o *Orchestrator) SetConsumerPaused(conn core.ConnID, consumer domain.ConsumerID, paused bool, requestID string) error {
	info, room, err := o.session(conn)
	if err != nil {
		return err
	}
	return room.SetConsumerPaused(info.Participant, consumer, paused, requestID)
}
