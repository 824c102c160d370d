package pion

import (
	"context"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/media"
)

func TestRouterCapabilities(t *testing.T) {
	w, err := NewEngine(Config{}).CreateWorker(context.Background(), 0)
	require.NoError(t, err)
	defer w.Close()

	r, err := w.CreateRouter(context.Background(), media.DefaultCodecs())
	require.NoError(t, err)
	caps := r.RtpCapabilities()
	assert.Len(t, caps.Codecs, 3)
	assert.False(t, r.CanConsume("missing", caps))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	_, err = r.CreateWebRtcTransport(context.Background(), media.TransportOptions{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRouterForgetsClosedTransports(t *testing.T) {
	w, err := NewEngine(Config{}).CreateWorker(context.Background(), 0)
	require.NoError(t, err)
	defer w.Close()
	mr, err := w.CreateRouter(context.Background(), media.DefaultCodecs())
	require.NoError(t, err)
	r := mr.(*Router)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := r.CreateWebRtcTransport(ctx, media.TransportOptions{Producing: true})
	if err != nil {
		t.Skipf("no ICE candidates in this environment: %v", err)
	}
	b, err := r.CreateWebRtcTransport(ctx, media.TransportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, r.transportCount())

	require.NoError(t, a.Close())
	assert.Equal(t, 1, r.transportCount())

	closed := make(chan struct{})
	b.OnClose(func() { close(closed) })
	require.NoError(t, r.Close())
	<-closed
	assert.Equal(t, 0, r.transportCount())
}

func TestBadPortRange(t *testing.T) {
	_, err := NewEngine(Config{MinPort: 5000, MaxPort: 4000}).CreateWorker(context.Background(), 0)
	assert.Error(t, err)
}

func TestDTLSRoleConversion(t *testing.T) {
	for _, role := range []string{"client", "server", "auto"} {
		p := toDTLSParameters(media.DtlsParameters{Role: role, Fingerprints: []media.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA"}}})
		back := fromDTLSParameters(p)
		assert.Equal(t, role, back.Role)
		assert.Equal(t, "AA", back.Fingerprints[0].Value)
	}
}

func TestICECandidateConversion(t *testing.T) {
	in := []media.IceCandidate{{Foundation: "f", Priority: 7, IP: "10.0.0.1", Protocol: "udp", Port: 40001, Type: "host"}}
	out, err := toICECandidates(in)
	require.NoError(t, err)
	assert.Equal(t, in, fromICECandidates(out))

	_, err = toICECandidates([]media.IceCandidate{{Protocol: "sctp", Type: "host"}})
	assert.Error(t, err)
}

func TestSendParametersKeepsTrackCodec(t *testing.T) {
	vp8 := media.DefaultCodecs()[1]
	p := webrtc.RTPSendParameters{
		RTPParameters: webrtc.RTPParameters{Codecs: []webrtc.RTPCodecParameters{
			{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/H264", ClockRate: 90000}, PayloadType: 102},
			{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: "video/VP8", ClockRate: 90000}, PayloadType: 96},
		}},
		Encodings: []webrtc.RTPEncodingParameters{{RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: 1234}}},
	}
	got := sendParameters("c1", p, vp8)
	require.Len(t, got.Codecs, 1)
	assert.Equal(t, uint8(96), got.Codecs[0].PayloadType)
	assert.Equal(t, []media.RtpEncoding{{SSRC: 1234}}, got.Encodings)
	assert.Equal(t, "c1", got.MID)
}

func TestRelayDropsClosedSinks(t *testing.T) {
	logger := zerolog.Nop()
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "a", "s")
	require.NoError(t, err)

	r := newRelay()
	live, closed, paused := &sink{track: track}, &sink{track: track}, &sink{track: track}
	closed.set(sinkClosed)
	paused.set(sinkPaused)
	r.add("live", live)
	r.add("closed", closed)
	r.add("paused", paused)

	r.forward(&rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}, &logger)
	r.mu.RLock()
	assert.Len(t, r.sinks, 2)
	assert.NotContains(t, r.sinks, domain.ConsumerID("closed"))
	r.mu.RUnlock()

	r.remove("live")
	assert.Equal(t, sinkClosed, live.get())
	r.closeAll()
	assert.Equal(t, sinkClosed, paused.get())
}

func TestHooksRunOnce(t *testing.T) {
	var h hooks
	calls := 0
	h.onClose(func() { calls++ })
	require.True(t, h.markClosed())
	assert.False(t, h.markClosed())
	h.fire()
	h.fire()
	assert.Equal(t, 1, calls)

	h.onClose(func() { calls++ })
	assert.Equal(t, 2, calls, "late hooks run immediately")
}
