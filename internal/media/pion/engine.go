// Package pion implements the media engine on pion/webrtc's ORTC objects:
// every transport is an ICE gatherer, an ICE transport and a DTLS transport,
// producers are RTP receivers and consumers are RTP senders fed by a relay.
package pion

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/media"
)

type Config struct {
	// AnnouncedIP replaces host candidate addresses when set.
	AnnouncedIP string
	MinPort     uint16
	MaxPort     uint16
	ICEServers  []string
}

// Engine creates workers that share one pion SettingEngine.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) settings() (webrtc.SettingEngine, error) {
	var se webrtc.SettingEngine
	if e.cfg.MinPort != 0 || e.cfg.MaxPort != 0 {
		if err := se.SetEphemeralUDPPortRange(e.cfg.MinPort, e.cfg.MaxPort); err != nil {
			return se, fmt.Errorf("port range %d-%d: %w", e.cfg.MinPort, e.cfg.MaxPort, err)
		}
	}
	if e.cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{e.cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	return se, nil
}

func (e *Engine) CreateWorker(_ context.Context, index int) (media.Worker, error) {
	se, err := e.settings()
	if err != nil {
		return nil, err
	}
	w := &Worker{
		id:       fmt.Sprintf("pion-%d", index),
		settings: se,
		ice:      iceServers(e.cfg.ICEServers),
		routers:  make(map[domain.RouterID]*Router),
	}
	log.Info().Str("module", "media.pion").Str("worker", w.id).Msg("worker ready")
	return w, nil
}

func iceServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

type Worker struct {
	id       string
	settings webrtc.SettingEngine
	ice      []webrtc.ICEServer

	mu      sync.Mutex
	routers map[domain.RouterID]*Router
	closed  bool
}

func (w *Worker) ID() string { return w.id }

// CreateRouter builds a pion API whose media engine knows exactly codecs.
func (w *Worker) CreateRouter(_ context.Context, codecs []media.RtpCodecCapability) (media.Router, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range codecs {
		if err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: toCodecCapability(c),
			PayloadType:        webrtc.PayloadType(c.PreferredPayloadType),
		}, codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}
	r := &Router{
		id:         domain.RouterID(uuid.NewString()),
		worker:     w,
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(w.settings)),
		codecs:     codecs,
		producers:  make(map[domain.ProducerID]*Producer),
		transports: make(map[domain.TransportID]*Transport),
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, fmt.Errorf("worker %s closed", w.id)
	}
	w.routers[r.id] = r
	return r, nil
}

func (w *Worker) Close() error {
	w.mu.Lock()
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()
	for _, r := range routers {
		_ = r.Close()
	}
	return nil
}

type Router struct {
	hooks
	id     domain.RouterID
	worker *Worker
	api    *webrtc.API
	codecs []media.RtpCodecCapability

	mu         sync.RWMutex
	producers  map[domain.ProducerID]*Producer
	transports map[domain.TransportID]*Transport
}

func (r *Router) ID() domain.RouterID { return r.id }

func (r *Router) RtpCapabilities() media.RtpCapabilities {
	return media.RtpCapabilities{Codecs: append([]media.RtpCodecCapability(nil), r.codecs...)}
}

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts media.TransportOptions) (media.Transport, error) {
	if r.isClosed() {
		return nil, fmt.Errorf("router %s: %w", r.id, domain.ErrNotFound)
	}
	t, err := newTransport(ctx, r, opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	closed := r.isClosed()
	if !closed {
		r.transports[t.id] = t
	}
	r.mu.Unlock()
	if closed {
		_ = t.Close()
		return nil, fmt.Errorf("router %s: %w", r.id, domain.ErrNotFound)
	}
	t.onClose(func() {
		r.mu.Lock()
		delete(r.transports, t.id)
		r.mu.Unlock()
	})
	return t, nil
}

func (r *Router) transportCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transports)
}

func (r *Router) CanConsume(id domain.ProducerID, caps media.RtpCapabilities) bool {
	r.mu.RLock()
	p, ok := r.producers[id]
	r.mu.RUnlock()
	return ok && !p.isClosed() && caps.Supports(p.codec)
}

// codecFor returns the router codec matching a client's codec parameters.
func (r *Router) codecFor(kind domain.MediaKind, mime string) (media.RtpCodecCapability, bool) {
	for _, c := range r.codecs {
		if c.Kind == kind && strings.EqualFold(c.MimeType, mime) {
			return c, true
		}
	}
	return media.RtpCodecCapability{}, false
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
	p.onClose(func() {
		r.mu.Lock()
		delete(r.producers, p.id)
		r.mu.Unlock()
	})
}

func (r *Router) producer(id domain.ProducerID) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) Close() error {
	if !r.markClosed() {
		return nil
	}
	r.worker.mu.Lock()
	delete(r.worker.routers, r.id)
	r.worker.mu.Unlock()

	r.mu.Lock()
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()
	for _, t := range transports {
		_ = t.Close()
	}
	r.fire()
	return nil
}

func (r *Router) OnClose(fn func()) { r.onClose(fn) }

// hooks is the close state shared by every engine object. Close callbacks
// run once, outside any lock.
type hooks struct {
	hmu    sync.Mutex
	closed bool
	fns    []func()
}

func (h *hooks) onClose(fn func()) {
	h.hmu.Lock()
	if h.closed {
		h.hmu.Unlock()
		fn()
		return
	}
	h.fns = append(h.fns, fn)
	h.hmu.Unlock()
}

// markClosed reports whether this call closed the object.
func (h *hooks) markClosed() bool {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	return true
}

func (h *hooks) fire() {
	h.hmu.Lock()
	fns := h.fns
	h.fns = nil
	h.hmu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (h *hooks) isClosed() bool {
	h.hmu.Lock()
	defer h.hmu.Unlock()
	return h.closed
}
