// Package mediatest is an in-memory media engine for tests.
package mediatest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/media"
)

var ErrClosed = errors.New("mediatest: closed")

// Engine hands out fake workers. FailWorker makes CreateWorker fail for
// that index; leave it negative for no failure.
type Engine struct {
	FailWorker int

	seq     atomic.Int64
	mu      sync.Mutex
	workers []*Worker
}

func NewEngine() *Engine { return &Engine{FailWorker: -1} }

func (e *Engine) next(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, e.seq.Add(1))
}

func (e *Engine) CreateWorker(_ context.Context, index int) (media.Worker, error) {
	if index == e.FailWorker {
		return nil, fmt.Errorf("mediatest: worker %d refused to start", index)
	}
	w := &Worker{engine: e, id: fmt.Sprintf("worker-%d", index)}
	e.mu.Lock()
	e.workers = append(e.workers, w)
	e.mu.Unlock()
	return w, nil
}

func (e *Engine) Workers() []*Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Worker(nil), e.workers...)
}

type closer struct {
	mu      sync.Mutex
	closed  bool
	onClose []func()
}

func (c *closer) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

func (c *closer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	fns := c.onClose
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return nil
}

func (c *closer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type Worker struct {
	closer
	engine  *Engine
	id      string
	routers atomic.Int32
}

func (w *Worker) ID() string { return w.id }

// Routers counts the routers created on this worker.
func (w *Worker) Routers() int { return int(w.routers.Load()) }

func (w *Worker) CreateRouter(_ context.Context, codecs []media.RtpCodecCapability) (media.Router, error) {
	if w.Closed() {
		return nil, ErrClosed
	}
	w.routers.Add(1)
	return &Router{
		engine:    w.engine,
		id:        domain.RouterID(w.engine.next("router")),
		caps:      media.RtpCapabilities{Codecs: codecs},
		producers: make(map[domain.ProducerID]*Producer),
	}, nil
}

type Router struct {
	closer
	engine *Engine
	id     domain.RouterID
	caps   media.RtpCapabilities

	mu        sync.Mutex
	producers map[domain.ProducerID]*Producer
}

func (r *Router) ID() domain.RouterID                    { return r.id }
func (r *Router) RtpCapabilities() media.RtpCapabilities { return r.caps }

func (r *Router) CreateWebRtcTransport(_ context.Context, opts media.TransportOptions) (media.Transport, error) {
	if r.Closed() {
		return nil, ErrClosed
	}
	id := domain.TransportID(r.engine.next("transport"))
	t := &Transport{router: r, id: id, producing: opts.Producing}
	r.OnClose(func() { _ = t.Close() })
	return t, nil
}

// CanConsume needs the producer on this router and a matching codec.
func (r *Router) CanConsume(id domain.ProducerID, caps media.RtpCapabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[id]
	r.mu.Unlock()
	if !ok || p.Closed() {
		return false
	}
	for _, c := range r.caps.Codecs {
		if c.Kind == p.kind && caps.Supports(c) {
			return true
		}
	}
	return false
}

type Transport struct {
	closer
	router    *Router
	id        domain.TransportID
	producing bool
	connected atomic.Bool
}

func (t *Transport) ID() domain.TransportID { return t.id }
func (t *Transport) Connected() bool        { return t.connected.Load() }

func (t *Transport) Info() media.TransportInfo {
	return media.TransportInfo{
		ID:             t.id,
		IceParameters:  media.IceParameters{UsernameFragment: "ufrag-" + string(t.id), Password: "pwd"},
		IceCandidates:  []media.IceCandidate{{Foundation: "1", IP: "127.0.0.1", Port: 40000, Protocol: "udp", Type: "host"}},
		DtlsParameters: media.DtlsParameters{Role: "auto", Fingerprints: []media.DtlsFingerprint{{Algorithm: "sha-256", Value: "00"}}},
	}
}

func (t *Transport) Connect(_ context.Context, params media.ConnectParams) error {
	if t.Closed() {
		return ErrClosed
	}
	if len(params.DtlsParameters.Fingerprints) == 0 {
		return fmt.Errorf("mediatest: no fingerprints: %w", domain.ErrInvalidRequest)
	}
	t.connected.Store(true)
	return nil
}

func (t *Transport) Produce(_ context.Context, params media.ProduceParams) (media.Producer, error) {
	if t.Closed() {
		return nil, ErrClosed
	}
	p := &Producer{id: domain.ProducerID(t.router.engine.next("producer")), kind: params.Kind}
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	t.OnClose(func() { _ = p.Close() })
	p.OnClose(func() {
		t.router.mu.Lock()
		delete(t.router.producers, p.id)
		t.router.mu.Unlock()
	})
	return p, nil
}

func (t *Transport) Consume(_ context.Context, params media.ConsumeParams) (media.Consumer, error) {
	if t.Closed() {
		return nil, ErrClosed
	}
	t.router.mu.Lock()
	p, ok := t.router.producers[params.ProducerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("mediatest: producer %s: %w", params.ProducerID, domain.ErrNotFound)
	}
	c := &Consumer{id: domain.ConsumerID(t.router.engine.next("consumer")), producer: p.id, kind: p.kind}
	c.paused.Store(params.Paused)
	t.OnClose(func() { _ = c.Close() })
	p.OnClose(func() { _ = c.Close() })
	return c, nil
}

type Producer struct {
	closer
	id     domain.ProducerID
	kind   domain.MediaKind
	paused atomic.Bool
}

func (p *Producer) ID() domain.ProducerID  { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }
func (p *Producer) Paused() bool           { return p.paused.Load() }
func (p *Producer) Pause() error           { p.paused.Store(true); return nil }
func (p *Producer) Resume() error          { p.paused.Store(false); return nil }

type Consumer struct {
	closer
	id        domain.ConsumerID
	producer  domain.ProducerID
	kind      domain.MediaKind
	paused    atomic.Bool
	keyframes atomic.Int32
}

func (c *Consumer) ID() domain.ConsumerID         { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID { return c.producer }
func (c *Consumer) Kind() domain.MediaKind        { return c.kind }
func (c *Consumer) Paused() bool                  { return c.paused.Load() }
func (c *Consumer) Resume() error                 { c.paused.Store(false); return nil }
func (c *Consumer) KeyFrames() int                { return int(c.keyframes.Load()) }

func (c *Consumer) RtpParameters() media.RtpParameters {
	mime := "audio/opus"
	if c.kind == domain.KindVideo {
		mime = "video/VP8"
	}
	return media.RtpParameters{
		MID:       strings.TrimPrefix(string(c.id), "consumer-"),
		Codecs:    []media.RtpCodecParameters{{MimeType: mime}},
		Encodings: []media.RtpEncoding{{SSRC: 1}},
	}
}

func (c *Consumer) RequestKeyFrame() error {
	if c.Closed() {
		return ErrClosed
	}
	c.keyframes.Add(1)
	return nil
}
