package domain

import "strings"

type (
	WorkerID    string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool {
	return d == DirectionSend || d == DirectionRecv
}

type TransportState string

const (
	TransportNew        TransportState = "new"
	TransportConnecting TransportState = "connecting"
	TransportConnected  TransportState = "connected"
	TransportClosed     TransportState = "closed"
)

// RtpCodec is a router-level codec. The mapstructure tags let it come straight from config.
type RtpCodec struct {
	Kind        MediaKind `json:"kind" mapstructure:"kind"`
	MimeType    string    `json:"mimeType" mapstructure:"mime_type"`
	ClockRate   uint32    `json:"clockRate" mapstructure:"clock_rate"`
	Channels    uint16    `json:"channels,omitempty" mapstructure:"channels"`
	PayloadType uint8     `json:"preferredPayloadType" mapstructure:"payload_type"`
	SDPFmtpLine string    `json:"sdpFmtpLine,omitempty" mapstructure:"sdp_fmtp_line"`
}

// DefaultCodecs is used when the configuration does not list any.
func DefaultCodecs() []RtpCodec {
	return []RtpCodec{
		{Kind: MediaKindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2, PayloadType: 111, SDPFmtpLine: "minptime=10;useinbandfec=1"},
		{Kind: MediaKindVideo, MimeType: "video/VP8", ClockRate: 90000, PayloadType: 96},
		{Kind: MediaKindVideo, MimeType: "video/VP9", ClockRate: 90000, PayloadType: 98, SDPFmtpLine: "profile-id=0"},
	}
}

type RtpCapabilities struct {
	Codecs []RtpCodec `json:"codecs"`
}

// Find returns the codec with the given mime type, compared case-insensitively.
func (c RtpCapabilities) Find(mimeType string) (RtpCodec, bool) {
	for _, codec := range c.Codecs {
		if strings.EqualFold(codec.MimeType, mimeType) {
			return codec, true
		}
	}
	return RtpCodec{}, false
}

type RtpCodecParameters struct {
	MimeType    string `json:"mimeType"`
	PayloadType uint8  `json:"payloadType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
	SDPFmtpLine string `json:"sdpFmtpLine,omitempty"`
}

type RtpEncoding struct {
	SSRC uint32 `json:"ssrc"`
	RID  string `json:"rid,omitempty"`
}

type RtpParameters struct {
	Mid       string               `json:"mid,omitempty"`
	Codecs    []RtpCodecParameters `json:"codecs"`
	Encodings []RtpEncoding        `json:"encodings"`
}

// IceParameters, IceCandidate and DtlsParameters are opaque to the orchestration layer;
// only the engine adapter interprets them.
type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Address    string `json:"address"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

type TransportParams struct {
	IceParameters  IceParameters  `json:"iceParameters"`
	IceCandidates  []IceCandidate `json:"iceCandidates"`
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}

type ConnectParams struct {
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
	IceParameters  *IceParameters `json:"iceParameters,omitempty"`
	IceCandidates  []IceCandidate `json:"iceCandidates,omitempty"`
}

type TransportInfo struct {
	ID        TransportID     `json:"id"`
	Direction Direction       `json:"direction"`
	Params    TransportParams `json:"params"`
}

type ProducerInfo struct {
	ID          ProducerID    `json:"id"`
	Participant ParticipantID `json:"participantId"`
	Kind        MediaKind     `json:"kind"`
	Paused      bool          `json:"paused,omitempty"`
}

type ConsumerInfo struct {
	ID            ConsumerID    `json:"id"`
	ProducerID    ProducerID    `json:"producerId"`
	Participant   ParticipantID `json:"participantId"`
	Kind          MediaKind     `json:"kind"`
	RtpParameters RtpParameters `json:"rtpParameters"`
	Paused        bool          `json:"paused,omitempty"`
}
