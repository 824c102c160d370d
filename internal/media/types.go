package media

import (
	"sort"
	"strings"

	"github.com/dkeye/videoroom/internal/domain"
)

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type RtpCodecCapability struct {
	Kind                 domain.MediaKind  `json:"kind"`
	MimeType             string            `json:"mimeType"`
	PreferredPayloadType uint8             `json:"preferredPayloadType"`
	ClockRate            uint32            `json:"clockRate"`
	Channels             uint16            `json:"channels,omitempty"`
	Parameters           map[string]string `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback    `json:"rtcpFeedback,omitempty"`
}

// FmtpLine renders Parameters as an SDP fmtp value with sorted keys.
func (c RtpCodecCapability) FmtpLine() string {
	keys := make([]string, 0, len(c.Parameters))
	for k := range c.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + c.Parameters[k]
	}
	return strings.Join(parts, ";")
}

type RtpCapabilities struct {
	Codecs []RtpCodecCapability `json:"codecs"`
}

// Supports reports whether caps has a codec with the same mime type and
// clock rate. Mime types compare case-insensitively.
func (caps RtpCapabilities) Supports(c RtpCodecCapability) bool {
	for _, have := range caps.Codecs {
		if strings.EqualFold(have.MimeType, c.MimeType) && have.ClockRate == c.ClockRate {
			return true
		}
	}
	return false
}

type RtpCodecParameters struct {
	MimeType     string            `json:"mimeType"`
	PayloadType  uint8             `json:"payloadType"`
	ClockRate    uint32            `json:"clockRate"`
	Channels     uint16            `json:"channels,omitempty"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback    `json:"rtcpFeedback,omitempty"`
}

type RtpEncoding struct {
	SSRC uint32 `json:"ssrc"`
}

type RtpParameters struct {
	MID       string               `json:"mid,omitempty"`
	Codecs    []RtpCodecParameters `json:"codecs"`
	Encodings []RtpEncoding        `json:"encodings"`
}

type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite,omitempty"`
}

type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DtlsParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

type TransportOptions struct {
	Producing bool
	// Tags the transport in logs.
	RoomID domain.RoomID
	UserID domain.UserID
}

// TransportInfo is what a client needs to build its side of the transport.
type TransportInfo struct {
	ID             domain.TransportID `json:"id"`
	IceParameters  IceParameters      `json:"iceParameters"`
	IceCandidates  []IceCandidate     `json:"iceCandidates"`
	DtlsParameters DtlsParameters     `json:"dtlsParameters"`
}

// ConnectParams completes the handshake. The ICE fields carry the client's
// side of the connectivity checks.
type ConnectParams struct {
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
	IceParameters  *IceParameters `json:"iceParameters,omitempty"`
	IceCandidates  []IceCandidate `json:"iceCandidates,omitempty"`
}

type ProduceParams struct {
	Kind          domain.MediaKind `json:"kind"`
	RtpParameters RtpParameters    `json:"rtpParameters"`
}

type ConsumeParams struct {
	ProducerID      domain.ProducerID `json:"producerId"`
	RtpCapabilities RtpCapabilities   `json:"rtpCapabilities"`
	Paused          bool              `json:"-"`
}

type ConsumerInfo struct {
	ID            domain.ConsumerID `json:"id"`
	ProducerID    domain.ProducerID `json:"producerId"`
	Kind          domain.MediaKind  `json:"kind"`
	RtpParameters RtpParameters     `json:"rtpParameters"`
}

func InfoOf(c Consumer) ConsumerInfo {
	return ConsumerInfo{ID: c.ID(), ProducerID: c.ProducerID(), Kind: c.Kind(), RtpParameters: c.RtpParameters()}
}

// DefaultCodecs is the router codec set: one audio and two video codecs.
func DefaultCodecs() []RtpCodecCapability {
	videoFeedback := []RtcpFeedback{{Type: "nack"}, {Type: "nack", Parameter: "pli"}, {Type: "goog-remb"}}
	return []RtpCodecCapability{
		{
			Kind:                 domain.KindAudio,
			MimeType:             "audio/opus",
			PreferredPayloadType: 111,
			ClockRate:            48000,
			Channels:             2,
			Parameters:           map[string]string{"minptime": "10", "useinbandfec": "1"},
		},
		{
			Kind:                 domain.KindVideo,
			MimeType:             "video/VP8",
			PreferredPayloadType: 96,
			ClockRate:            90000,
			RtcpFeedback:         videoFeedback,
		},
		{
			Kind:                 domain.KindVideo,
			MimeType:             "video/H264",
			PreferredPayloadType: 102,
			ClockRate:            90000,
			Parameters: map[string]string{
				"packetization-mode":      "1",
				"profile-level-id":        "42e01f",
				"level-asymmetry-allowed": "1",
			},
			RtcpFeedback: videoFeedback,
		},
	}
}
