package pion

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/media"
)

type Producer struct {
	hooks
	id          domain.ProducerID
	kind        domain.MediaKind
	codec       media.RtpCodecCapability
	transport   *Transport
	receiver    *webrtc.RTPReceiver
	ssrc        uint32
	payloadType uint8
	relay       *relay
	paused      atomic.Bool
	logger      zerolog.Logger
}

func newProducer(t *Transport, kind domain.MediaKind, codec media.RtpCodecCapability, receiver *webrtc.RTPReceiver, ssrc uint32, pt uint8) *Producer {
	p := &Producer{
		id:          domain.ProducerID(uuid.NewString()),
		kind:        kind,
		codec:       codec,
		transport:   t,
		receiver:    receiver,
		ssrc:        ssrc,
		payloadType: pt,
		relay:       newRelay(),
	}
	p.logger = t.logger.With().Str("producer", string(p.id)).Str("kind", string(kind)).Logger()
	return p
}

// start binds the receiver to the client's stream and runs the relay.
func (p *Producer) start() {
	if p.isClosed() {
		return
	}
	err := p.receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(p.ssrc),
				PayloadType: webrtc.PayloadType(p.payloadType),
			},
		}},
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("receive failed")
		_ = p.Close()
		return
	}
	p.logger.Info().Msg("producer receiving")
	go p.relay.loop(p.receiver.Track(), p.paused.Load, &p.logger)
	go p.drainRTCP()
	if p.kind == domain.KindVideo {
		_ = p.requestKeyFrame()
	}
}

// drainRTCP keeps the receiver's interceptors fed; pion needs RTCP read.
func (p *Producer) drainRTCP() {
	for {
		if _, _, err := p.receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

func (p *Producer) requestKeyFrame() error {
	return p.transport.writeRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: p.ssrc}})
}

func (p *Producer) ID() domain.ProducerID  { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }
func (p *Producer) Paused() bool           { return p.paused.Load() }

func (p *Producer) Pause() error {
	p.paused.Store(true)
	p.logger.Debug().Msg("paused")
	return nil
}

func (p *Producer) Resume() error {
	p.paused.Store(false)
	p.logger.Debug().Msg("resumed")
	if p.kind == domain.KindVideo {
		_ = p.requestKeyFrame()
	}
	return nil
}

func (p *Producer) Close() error {
	if !p.markClosed() {
		return nil
	}
	p.relay.closeAll()
	if err := p.receiver.Stop(); err != nil {
		p.logger.Debug().Err(err).Msg("receiver stop")
	}
	p.fire()
	p.logger.Info().Msg("producer closed")
	return nil
}

func (p *Producer) OnClose(fn func()) { p.onClose(fn) }
