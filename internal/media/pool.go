package media

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/metrics"
)

type PoolConfig struct {
	// Workers defaults to runtime.NumCPU().
	Workers  int
	Strategy Strategy
	// Codecs defaults to DefaultCodecs().
	Codecs []RtpCodecCapability
}

type transportEntry struct {
	t      Transport
	router domain.RouterID
}

type producerEntry struct {
	p         Producer
	transport domain.TransportID
}

type consumerEntry struct {
	c         Consumer
	transport domain.TransportID
}

// Pool owns every media object of the process. Engine calls happen outside
// the lock; the maps only record what exists.
type Pool struct {
	engine   Engine
	size     int
	strategy Strategy
	codecs   []RtpCodecCapability

	mu         sync.RWMutex
	workers    []Worker
	caps       *RtpCapabilities
	routers    map[domain.RouterID]Router
	transports map[domain.TransportID]transportEntry
	producers  map[domain.ProducerID]producerEntry
	consumers  map[domain.ConsumerID]consumerEntry
}

func NewPool(engine Engine, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Strategy == nil {
		cfg.Strategy = RandomStrategy{}
	}
	if len(cfg.Codecs) == 0 {
		cfg.Codecs = DefaultCodecs()
	}
	return &Pool{
		engine:     engine,
		size:       cfg.Workers,
		strategy:   cfg.Strategy,
		codecs:     cfg.Codecs,
		routers:    make(map[domain.RouterID]Router),
		transports: make(map[domain.TransportID]transportEntry),
		producers:  make(map[domain.ProducerID]producerEntry),
		consumers:  make(map[domain.ConsumerID]consumerEntry),
	}
}

// Start creates every worker concurrently. A single failure closes the ones
// already created and returns ErrFatalSetup.
func (p *Pool) Start(ctx context.Context) error {
	workers := make([]Worker, p.size)
	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		g.Go(func() error {
			w, err := p.engine.CreateWorker(gctx, i)
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			workers[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, w := range workers {
			if w != nil {
				err = multierr.Append(err, w.Close())
			}
		}
		return fmt.Errorf("%w: media workers: %w", domain.ErrFatalSetup, err)
	}

	p.mu.Lock()
	p.workers = workers
	p.mu.Unlock()
	log.Info().Str("module", "media.pool").Int("workers", len(workers)).Msg("media workers started")
	return nil
}

// Worker picks a worker with the configured strategy.
func (p *Pool) Worker() (Worker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.workers) == 0 {
		return nil, fmt.Errorf("%w: media pool not started", domain.ErrFatalSetup)
	}
	return p.workers[p.strategy.Pick(len(p.workers))], nil
}

// CreateRouter allocates a router with the fixed codec set. The first
// router's capabilities are cached for every client query.
func (p *Pool) CreateRouter(ctx context.Context) (Router, error) {
	w, err := p.Worker()
	if err != nil {
		return nil, err
	}
	r, err := w.CreateRouter(ctx, p.codecs)
	if err != nil {
		return nil, fmt.Errorf("create router on worker %s: %w", w.ID(), err)
	}
	p.mu.Lock()
	p.routers[r.ID()] = r
	if p.caps == nil {
		caps := r.RtpCapabilities()
		p.caps = &caps
	}
	p.updateGaugesLocked()
	p.mu.Unlock()
	log.Info().Str("module", "media.pool").Str("router", string(r.ID())).Str("worker", w.ID()).Msg("router created")
	return r, nil
}

// RtpCapabilities returns the cached router capabilities.
func (p *Pool) RtpCapabilities() (RtpCapabilities, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.caps == nil {
		return RtpCapabilities{}, fmt.Errorf("no router created yet: %w", domain.ErrNotFound)
	}
	return *p.caps, nil
}

func (p *Pool) Router(id domain.RouterID) (Router, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.routers[id]
	if !ok {
		return nil, fmt.Errorf("router %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

func (p *Pool) Transport(id domain.TransportID) (Transport, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.transports[id]
	if !ok {
		return nil, fmt.Errorf("transport %s: %w", id, domain.ErrNotFound)
	}
	return e.t, nil
}

func (p *Pool) Producer(id domain.ProducerID) (Producer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.producers[id]
	if !ok {
		return nil, fmt.Errorf("producer %s: %w", id, domain.ErrNotFound)
	}
	return e.p, nil
}

func (p *Pool) Consumer(id domain.ConsumerID) (Consumer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.consumers[id]
	if !ok {
		return nil, fmt.Errorf("consumer %s: %w", id, domain.ErrNotFound)
	}
	return e.c, nil
}

func (p *Pool) CreateTransport(ctx context.Context, routerID domain.RouterID, opts TransportOptions) (Transport, error) {
	r, err := p.Router(routerID)
	if err != nil {
		return nil, err
	}
	t, err := r.CreateWebRtcTransport(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("create transport on router %s: %w", routerID, err)
	}
	id := t.ID()
	p.mu.Lock()
	p.transports[id] = transportEntry{t: t, router: routerID}
	p.updateGaugesLocked()
	p.mu.Unlock()
	t.OnClose(func() { p.DisposeTransport(id) })
	return t, nil
}

func (p *Pool) ConnectTransport(ctx context.Context, id domain.TransportID, params ConnectParams) error {
	t, err := p.Transport(id)
	if err != nil {
		return err
	}
	if err := t.Connect(ctx, params); err != nil {
		return fmt.Errorf("connect transport %s: %w", id, err)
	}
	return nil
}

func (p *Pool) Produce(ctx context.Context, transportID domain.TransportID, params ProduceParams) (Producer, error) {
	t, err := p.Transport(transportID)
	if err != nil {
		return nil, err
	}
	prod, err := t.Produce(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("produce %s on transport %s: %w", params.Kind, transportID, err)
	}
	id := prod.ID()
	p.mu.Lock()
	p.producers[id] = producerEntry{p: prod, transport: transportID}
	p.updateGaugesLocked()
	p.mu.Unlock()
	prod.OnClose(func() { p.DisposeProducer(id) })
	return prod, nil
}

// Consume checks that the router can serve the producer to caps before
// asking the transport for a consumer.
func (p *Pool) Consume(ctx context.Context, routerID domain.RouterID, transportID domain.TransportID, params ConsumeParams) (Consumer, error) {
	r, err := p.Router(routerID)
	if err != nil {
		return nil, err
	}
	if !r.CanConsume(params.ProducerID, params.RtpCapabilities) {
		return nil, fmt.Errorf("router %s cannot serve producer %s: %w", routerID, params.ProducerID, domain.ErrInvalidRequest)
	}
	t, err := p.Transport(transportID)
	if err != nil {
		return nil, err
	}
	c, err := t.Consume(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("consume %s on transport %s: %w", params.ProducerID, transportID, err)
	}
	id := c.ID()
	p.mu.Lock()
	_, alive := p.producers[params.ProducerID]
	if alive {
		p.consumers[id] = consumerEntry{c: c, transport: transportID}
		p.updateGaugesLocked()
	}
	p.mu.Unlock()
	if !alive {
		_ = c.Close()
		return nil, fmt.Errorf("producer %s closed: %w", params.ProducerID, domain.ErrNotFound)
	}
	c.OnClose(func() { p.DisposeConsumer(id) })
	return c, nil
}

// DisposeConsumer closes and forgets a consumer. Unknown ids are a no-op.
func (p *Pool) DisposeConsumer(id domain.ConsumerID) {
	p.mu.Lock()
	e, ok := p.consumers[id]
	if ok {
		delete(p.consumers, id)
		p.updateGaugesLocked()
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	if err := e.c.Close(); err != nil {
		log.Warn().Err(err).Str("module", "media.pool").Str("consumer", string(id)).Msg("close consumer")
	}
}

// DisposeProducer closes a producer and every consumer of it. Unknown ids
// are a no-op.
func (p *Pool) DisposeProducer(id domain.ProducerID) {
	p.mu.Lock()
	e, ok := p.producers[id]
	var fed []domain.ConsumerID
	if ok {
		delete(p.producers, id)
		for cid, ce := range p.consumers {
			if ce.c.ProducerID() == id {
				fed = append(fed, cid)
			}
		}
		p.updateGaugesLocked()
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	for _, cid := range fed {
		p.DisposeConsumer(cid)
	}
	if err := e.p.Close(); err != nil {
		log.Warn().Err(err).Str("module", "media.pool").Str("producer", string(id)).Msg("close producer")
	}
}

// DisposeTransport closes a transport with its producers and consumers.
// Unknown ids are a no-op.
func (p *Pool) DisposeTransport(id domain.TransportID) {
	p.mu.Lock()
	e, ok := p.transports[id]
	var (
		producers []domain.ProducerID
		consumers []domain.ConsumerID
	)
	if ok {
		delete(p.transports, id)
		for pid, pe := range p.producers {
			if pe.transport == id {
				producers = append(producers, pid)
			}
		}
		for cid, ce := range p.consumers {
			if ce.transport == id {
				consumers = append(consumers, cid)
			}
		}
		p.updateGaugesLocked()
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	for _, cid := range consumers {
		p.DisposeConsumer(cid)
	}
	for _, pid := range producers {
		p.DisposeProducer(pid)
	}
	if err := e.t.Close(); err != nil {
		log.Warn().Err(err).Str("module", "media.pool").Str("transport", string(id)).Msg("close transport")
	}
}

// DisposeRouter closes a router and every transport created on it. Unknown
// ids are a no-op.
func (p *Pool) DisposeRouter(id domain.RouterID) {
	p.mu.Lock()
	r, ok := p.routers[id]
	var transports []domain.TransportID
	if ok {
		delete(p.routers, id)
		for tid, te := range p.transports {
			if te.router == id {
				transports = append(transports, tid)
			}
		}
		p.updateGaugesLocked()
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	for _, tid := range transports {
		p.DisposeTransport(tid)
	}
	if err := r.Close(); err != nil {
		log.Warn().Err(err).Str("module", "media.pool").Str("router", string(id)).Msg("close router")
	}
	log.Info().Str("module", "media.pool").Str("router", string(id)).Msg("router disposed")
}

// Counts reports live objects by kind.
func (p *Pool) Counts() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.countsLocked()
}

func (p *Pool) countsLocked() map[string]int {
	return map[string]int{
		"router":    len(p.routers),
		"transport": len(p.transports),
		"producer":  len(p.producers),
		"consumer":  len(p.consumers),
	}
}

func (p *Pool) updateGaugesLocked() {
	for kind, n := range p.countsLocked() {
		metrics.MediaResources.WithLabelValues(kind).Set(float64(n))
	}
}

// Close disposes every router and stops the workers.
func (p *Pool) Close() error {
	p.mu.RLock()
	routers := make([]domain.RouterID, 0, len(p.routers))
	for id := range p.routers {
		routers = append(routers, id)
	}
	p.mu.RUnlock()
	for _, id := range routers {
		p.DisposeRouter(id)
	}

	p.mu.Lock()
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()
	var err error
	for _, w := range workers {
		err = multierr.Append(err, w.Close())
	}
	return err
}
