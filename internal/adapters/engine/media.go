package engine

import (
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Huddle/internal/domain"
)

type Producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	codec     domain.RtpCodec
	transport *Transport
	receiver  *webrtc.RTPReceiver
	closeOnce sync.Once
}

func (p *Producer) ID() domain.ProducerID  { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) Pause() error {
	p.transport.router.relays.SetPaused(p.id, true)
	return nil
}

// Resume restarts forwarding and asks the sender for a fresh keyframe.
func (p *Producer) Resume() error {
	p.transport.router.relays.SetPaused(p.id, false)
	if err := p.transport.router.relays.RequestKeyframe(p.id); err != nil {
		p.transport.logger.Debug().Err(err).Str("producer", string(p.id)).Msg("keyframe request failed")
	}
	return nil
}

func (p *Producer) Close() {
	p.closeOnce.Do(func() {
		r := p.transport.router
		r.relays.StopRelay(p.id)
		r.removeProducer(p.id)
		p.transport.forgetProducer(p.id)
		if err := p.receiver.Stop(); err != nil {
			p.transport.logger.Debug().Err(err).Str("producer", string(p.id)).Msg("receiver stop")
		}
	})
}

type Consumer struct {
	id        domain.ConsumerID
	producer  domain.ProducerID
	kind      domain.MediaKind
	transport *Transport
	sender    *webrtc.RTPSender
	rtp       domain.RtpParameters
	closeOnce sync.Once
}

func (c *Consumer) ID() domain.ConsumerID               { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID       { return c.producer }
func (c *Consumer) Kind() domain.MediaKind              { return c.kind }
func (c *Consumer) RtpParameters() domain.RtpParameters { return c.rtp }

func (c *Consumer) Pause() error {
	c.transport.router.relays.SetSubscriberPaused(c.producer, c.id, true)
	return nil
}

func (c *Consumer) Resume() error {
	relays := c.transport.router.relays
	relays.SetSubscriberPaused(c.producer, c.id, false)
	if err := relays.RequestKeyframe(c.producer); err != nil {
		c.transport.logger.Debug().Err(err).Str("consumer", string(c.id)).Msg("keyframe request failed")
	}
	return nil
}

func (c *Consumer) Close() {
	c.closeOnce.Do(func() {
		c.transport.router.relays.RemoveSubscriber(c.producer, c.id)
		c.transport.forgetConsumer(c.id)
		if err := c.sender.Stop(); err != nil {
			c.transport.logger.Debug().Err(err).Str("consumer", string(c.id)).Msg("sender stop")
		}
	})
}

// readRTCP forwards keyframe requests from the receiving client to the producer.
func (c *Consumer) readRTCP() {
	relays := c.transport.router.relays
	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if err := relays.RequestKeyframe(c.producer); err != nil {
					c.transport.logger.Debug().Err(err).Str("consumer", string(c.id)).Msg("keyframe relay failed")
				}
			}
		}
	}
}
