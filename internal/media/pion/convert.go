package pion

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/media"
)

func codecType(k domain.MediaKind) webrtc.RTPCodecType {
	if k == domain.KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func toCodecCapability(c media.RtpCodecCapability) webrtc.RTPCodecCapability {
	fb := make([]webrtc.RTCPFeedback, len(c.RtcpFeedback))
	for i, f := range c.RtcpFeedback {
		fb[i] = webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter}
	}
	return webrtc.RTPCodecCapability{
		MimeType:     c.MimeType,
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		SDPFmtpLine:  c.FmtpLine(),
		RTCPFeedback: fb,
	}
}

func fromICEParameters(p webrtc.ICEParameters) media.IceParameters {
	return media.IceParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, IceLite: p.ICELite}
}

func toICEParameters(p media.IceParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, ICELite: p.IceLite}
}

func fromICECandidates(in []webrtc.ICECandidate) []media.IceCandidate {
	out := make([]media.IceCandidate, len(in))
	for i, c := range in {
		out[i] = media.IceCandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
			TCPType:    c.TCPType,
		}
	}
	return out
}

func toICECandidates(in []media.IceCandidate) ([]webrtc.ICECandidate, error) {
	out := make([]webrtc.ICECandidate, 0, len(in))
	for _, c := range in {
		proto, err := webrtc.NewICEProtocol(c.Protocol)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", c.Foundation, err)
		}
		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.IP,
			Protocol:   proto,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
			TCPType:    c.TCPType,
		})
	}
	return out, nil
}

func fromDTLSParameters(p webrtc.DTLSParameters) media.DtlsParameters {
	fps := make([]media.DtlsFingerprint, len(p.Fingerprints))
	for i, f := range p.Fingerprints {
		fps[i] = media.DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value}
	}
	return media.DtlsParameters{Role: p.Role.String(), Fingerprints: fps}
}

func toDTLSParameters(p media.DtlsParameters) webrtc.DTLSParameters {
	fps := make([]webrtc.DTLSFingerprint, len(p.Fingerprints))
	for i, f := range p.Fingerprints {
		fps[i] = webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value}
	}
	role := webrtc.DTLSRoleAuto
	switch strings.ToLower(p.Role) {
	case "client":
		role = webrtc.DTLSRoleClient
	case "server":
		role = webrtc.DTLSRoleServer
	}
	return webrtc.DTLSParameters{Role: role, Fingerprints: fps}
}

// sendParameters turns the sender's negotiated parameters into what the
// client needs for its receiver, keeping only the codec the track carries.
func sendParameters(mid string, p webrtc.RTPSendParameters, codec media.RtpCodecCapability) media.RtpParameters {
	out := media.RtpParameters{MID: mid}
	for _, c := range p.Codecs {
		if !strings.EqualFold(c.MimeType, codec.MimeType) {
			continue
		}
		out.Codecs = append(out.Codecs, media.RtpCodecParameters{
			MimeType:     c.MimeType,
			PayloadType:  uint8(c.PayloadType),
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			Parameters:   codec.Parameters,
			RtcpFeedback: codec.RtcpFeedback,
		})
		break
	}
	for _, e := range p.Encodings {
		out.Encodings = append(out.Encodings, media.RtpEncoding{SSRC: uint32(e.SSRC)})
	}
	return out
}
