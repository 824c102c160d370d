package pion

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/media"
)

// Transport is the server side of one client transport. Connect starts the
// ICE and DTLS handshakes in the background; RTP flows once ready closes.
type Transport struct {
	hooks
	id     domain.TransportID
	router *Router
	opts   media.TransportOptions
	logger zerolog.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	info     media.TransportInfo

	connectOnce sync.Once
	ready       chan struct{}
	// stop is closed with the transport; background work watches it.
	stop chan struct{}
}

func newTransport(ctx context.Context, r *Router, opts media.TransportOptions) (*Transport, error) {
	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: r.worker.ice})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	ice := r.api.NewICETransport(gatherer)
	dtls, err := r.api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	t := &Transport{
		id:       domain.TransportID(uuid.NewString()),
		router:   r,
		opts:     opts,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
		ready:    make(chan struct{}),
		stop:     make(chan struct{}),
	}
	t.logger = log.With().Str("module", "media.pion").
		Str("transport", string(t.id)).
		Str("room", string(opts.RoomID)).
		Str("user", string(opts.UserID)).
		Bool("producing", opts.Producing).
		Logger()

	if err := t.gather(ctx); err != nil {
		t.teardown()
		return nil, err
	}
	return t, nil
}

func (t *Transport) gather(ctx context.Context) error {
	done := make(chan struct{})
	var once sync.Once
	t.gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(done) })
		}
	})
	if err := t.gatherer.Gather(); err != nil {
		return fmt.Errorf("gather: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("gather: %w", domain.ErrUpstreamTimeout)
	}

	iceParams, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("ice parameters: %w", err)
	}
	candidates, err := t.gatherer.GetLocalCandidates()
	if err != nil {
		return fmt.Errorf("ice candidates: %w", err)
	}
	dtlsParams, err := t.dtls.GetLocalParameters()
	if err != nil {
		return fmt.Errorf("dtls parameters: %w", err)
	}
	t.info = media.TransportInfo{
		ID:             t.id,
		IceParameters:  fromICEParameters(iceParams),
		IceCandidates:  fromICECandidates(candidates),
		DtlsParameters: fromDTLSParameters(dtlsParams),
	}
	t.logger.Debug().Int("candidates", len(candidates)).Msg("gathered")
	return nil
}

func (t *Transport) ID() domain.TransportID    { return t.id }
func (t *Transport) Info() media.TransportInfo { return t.info }

// Connect takes the client's DTLS parameters and ICE credentials. A second
// connect is a conflict.
func (t *Transport) Connect(_ context.Context, params media.ConnectParams) error {
	if t.isClosed() {
		return fmt.Errorf("transport %s: %w", t.id, domain.ErrNotFound)
	}
	if params.IceParameters == nil || len(params.DtlsParameters.Fingerprints) == 0 {
		return fmt.Errorf("ice parameters and dtls fingerprints are required: %w", domain.ErrInvalidRequest)
	}
	candidates, err := toICECandidates(params.IceCandidates)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	started := false
	t.connectOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("transport %s already connected: %w", t.id, domain.ErrConflict)
	}
	if err := t.ice.SetRemoteCandidates(candidates); err != nil {
		return fmt.Errorf("remote candidates: %w", err)
	}
	go t.handshake(toICEParameters(*params.IceParameters), toDTLSParameters(params.DtlsParameters))
	return nil
}

// handshake blocks in pion until ICE and DTLS are up, so it runs on its
// own goroutine. Failure closes the transport.
func (t *Transport) handshake(ice webrtc.ICEParameters, dtls webrtc.DTLSParameters) {
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(nil, ice, &role); err != nil {
		t.logger.Warn().Err(err).Msg("ice start failed")
		_ = t.Close()
		return
	}
	if err := t.dtls.Start(dtls); err != nil {
		t.logger.Warn().Err(err).Msg("dtls start failed")
		_ = t.Close()
		return
	}
	t.dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		if s == webrtc.DTLSTransportStateClosed || s == webrtc.DTLSTransportStateFailed {
			t.logger.Info().Str("dtls_state", s.String()).Msg("transport lost")
			_ = t.Close()
		}
	})
	close(t.ready)
	t.logger.Info().Msg("transport connected")
}

// whenReady runs fn once the handshake finished, or never if the
// transport closes first.
func (t *Transport) whenReady(fn func()) {
	go func() {
		select {
		case <-t.ready:
			fn()
		case <-t.stop:
		}
	}()
}

func (t *Transport) Produce(_ context.Context, params media.ProduceParams) (media.Producer, error) {
	if t.isClosed() {
		return nil, fmt.Errorf("transport %s: %w", t.id, domain.ErrNotFound)
	}
	if !t.opts.Producing {
		return nil, fmt.Errorf("transport %s is not a send transport: %w", t.id, domain.ErrInvalidRequest)
	}
	rp := params.RtpParameters
	if len(rp.Codecs) == 0 || len(rp.Encodings) == 0 || rp.Encodings[0].SSRC == 0 {
		return nil, fmt.Errorf("rtp parameters need a codec and an ssrc: %w", domain.ErrInvalidRequest)
	}
	codec, ok := t.router.codecFor(params.Kind, rp.Codecs[0].MimeType)
	if !ok {
		return nil, fmt.Errorf("codec %s not supported: %w", rp.Codecs[0].MimeType, domain.ErrInvalidRequest)
	}
	receiver, err := t.router.api.NewRTPReceiver(codecType(params.Kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}

	p := newProducer(t, params.Kind, codec, receiver, rp.Encodings[0].SSRC, rp.Codecs[0].PayloadType)
	t.router.addProducer(p)
	t.onClose(func() { _ = p.Close() })
	t.whenReady(p.start)
	return p, nil
}

func (t *Transport) Consume(_ context.Context, params media.ConsumeParams) (media.Consumer, error) {
	if t.isClosed() {
		return nil, fmt.Errorf("transport %s: %w", t.id, domain.ErrNotFound)
	}
	if t.opts.Producing {
		return nil, fmt.Errorf("transport %s is not a receive transport: %w", t.id, domain.ErrInvalidRequest)
	}
	prod, ok := t.router.producer(params.ProducerID)
	if !ok || prod.isClosed() {
		return nil, fmt.Errorf("producer %s: %w", params.ProducerID, domain.ErrNotFound)
	}

	id := domain.ConsumerID(uuid.NewString())
	track, err := webrtc.NewTrackLocalStaticRTP(toCodecCapability(prod.codec), string(id), string(prod.id))
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.router.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}

	c := newConsumer(id, t, prod, sender, track, params.Paused)
	t.onClose(func() { _ = c.Close() })
	prod.onClose(func() { _ = c.Close() })
	t.whenReady(c.start)
	return c, nil
}

func (t *Transport) writeRTCP(pkts []rtcp.Packet) error {
	select {
	case <-t.ready:
	default:
		return fmt.Errorf("transport %s not connected: %w", t.id, domain.ErrConflict)
	}
	_, err := t.dtls.WriteRTCP(pkts)
	return err
}

func (t *Transport) Close() error {
	if !t.markClosed() {
		return nil
	}
	close(t.stop)
	t.teardown()
	t.fire()
	t.logger.Info().Msg("transport closed")
	return nil
}

func (t *Transport) teardown() {
	if err := t.dtls.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("dtls stop")
	}
	if err := t.ice.Stop(); err != nil {
		t.logger.Debug().Err(err).Msg("ice stop")
	}
	if err := t.gatherer.Close(); err != nil {
		t.logger.Debug().Err(err).Msg("gatherer close")
	}
}

func (t *Transport) OnClose(fn func()) { t.onClose(fn) }
