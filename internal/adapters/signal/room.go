package signal

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
)

var ErrRateLimited = fmt.Errorf("%w: too many join attempts", domain.ErrBadRequest)

type joinPayload struct {
	Room            domain.RoomCode         `json:"room"`
	ParticipantID   domain.ParticipantID    `json:"participantId,omitempty"`
	Token           string                  `json:"token,omitempty"`
	Metadata        domain.Metadata         `json:"metadata"`
	RtpCapabilities *domain.RtpCapabilities `json:"rtpCapabilities,omitempty"`
	Reconnect       *app.Claim              `json:"reconnect,omitempty"`
}

// identify picks the participant id: the token subject when tokens are required,
// otherwise the payload id falling back to the client cookie.
func (ctl *SignalWSController) identify(p joinPayload, clientToken string) (domain.ParticipantID, domain.Metadata, error) {
	meta := p.Metadata
	if ctl.Auth.Enabled() {
		id, err := ctl.Auth.Verify(p.Token)
		if err != nil {
			return "", meta, err
		}
		if id.Room != "" && id.Room != p.Room {
			return "", meta, fmt.Errorf("%w: token is for another room", domain.ErrUnauthorized)
		}
		if id.DisplayName != "" {
			meta.DisplayName = id.DisplayName
		}
		return id.Participant, meta, nil
	}
	if p.ParticipantID != "" {
		return p.ParticipantID, meta, nil
	}
	return domain.ParticipantID(clientToken), meta, nil
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, conn *WsSignalConn, clientToken, requestID string, data []byte) error {
	p, err := decode[joinPayload](data)
	if err != nil {
		return err
	}
	pid, meta, err := ctl.identify(p, clientToken)
	if err != nil {
		return err
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(pid) {
		return ErrRateLimited
	}

	res, err := ctl.Orch.Join(ctx, conn.id, conn, orch.JoinRequest{
		Room:            p.Room,
		Participant:     pid,
		Metadata:        meta,
		RtpCapabilities: p.RtpCapabilities,
		Claim:           p.Reconnect,
		RequestID:       requestID,
	})
	if err != nil {
		return err
	}
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("participant", string(pid)).
		Str("room", string(p.Room)).Bool("rejoined", res.Rejoined).Int("producers", len(res.Producers)).Msg("joined")
	return nil
}

func (ctl *SignalWSController) handleLeave(conn *WsSignalConn, requestID string) error {
	if err := ctl.Orch.Leave(conn.id); err != nil {
		return err
	}
	ctl.sendEvent(conn, core.Event{Type: core.EventLeft, RequestID: requestID})
	return nil
}
