package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if !ok {
				log.Debug().Str("module", "signal").Str("conn", string(c.id)).Msg("writePump channel closed")
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("writePump ping error")
				return
			}
		}
	}
}

// readPump feeds frames to dispatch. Its exit cancels the connection context, which
// aborts any engine call dispatch is waiting on.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn, inbound chan<- []byte) {
	defer func() {
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump closing")
		cancel()
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case inbound <- data:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch handles one request at a time, in arrival order.
func (ctl *SignalWSController) dispatch(ctx context.Context, c *WsSignalConn, clientToken string, inbound <-chan []byte) {
	defer func() {
		c.Close()
		ctl.Orch.OnDisconnect(c.id)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-inbound:
			ctl.handleSignal(ctx, c, clientToken, data)
		}
	}
}

type envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, c *WsSignalConn, clientToken string, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("bad json")
		ctl.sendError(c, "", fmt.Errorf("%w: %w", domain.ErrBadRequest, err))
		return
	}

	var err error
	switch env.Type {
	case "join":
		err = ctl.handleJoin(ctx, c, clientToken, env.RequestID, data)
	case "leave":
		err = ctl.handleLeave(c, env.RequestID)
	case "createTransport":
		err = ctl.handleCreateTransport(ctx, c, env.RequestID, data)
	case "connectTransport":
		err = ctl.handleConnectTransport(ctx, c, env.RequestID, data)
	case "produce":
		err = ctl.handleProduce(ctx, c, env.RequestID, data)
	case "consume":
		err = ctl.handleConsume(ctx, c, env.RequestID, data)
	case "closeProducer":
		err = ctl.handleCloseProducer(c, env.RequestID, data)
	case "pauseProducer", "resumeProducer":
		err = ctl.handleProducerPause(c, env.RequestID, env.Type == "pauseProducer", data)
	case "pauseConsumer", "resumeConsumer":
		err = ctl.handleConsumerPause(c, env.RequestID, env.Type == "pauseConsumer", data)
	case "ping":
		ctl.handlePing(c, env.RequestID)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		err = fmt.Errorf("%w: unknown message type %q", domain.ErrBadRequest, env.Type)
	}
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("type", env.Type).Msg("request failed")
		ctl.sendError(c, env.RequestID, err)
	}
}

func decode[T any](data []byte) (T, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %w", domain.ErrBadRequest, err)
	}
	return p, nil
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, requestID string, err error) {
	ctl.sendEvent(c, core.ErrorEvent(requestID, err))
}

// sendEvent queues a direct reply. A full queue kicks the connection, like the
// room events do under the default policy.
func (ctl *SignalWSController) sendEvent(c *WsSignalConn, ev core.Event) {
	f, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendEvent encode")
		return
	}
	if err := c.TrySend(f); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("event", string(ev.Type)).Msg("reply not queued")
		if errors.Is(err, ErrBackpressure) {
			c.Close()
		}
	}
}
