package pion

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/videoroom/internal/domain"
)

type sinkState int32

const (
	sinkActive sinkState = iota
	sinkPaused
	sinkClosed
)

// sink is the outgoing track of one consumer.
type sink struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func (s *sink) get() sinkState   { return sinkState(s.state.Load()) }
func (s *sink) set(st sinkState) { s.state.Store(int32(st)) }

// relay copies the packets of one producer to the sinks of its consumers.
type relay struct {
	mu    sync.RWMutex
	sinks map[domain.ConsumerID]*sink
}

func newRelay() *relay {
	return &relay{sinks: make(map[domain.ConsumerID]*sink)}
}

// loop reads until the source fails.
func (r *relay) loop(src *webrtc.TrackRemote, paused func() bool, logger *zerolog.Logger) {
	for {
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("relay source ended")
			r.closeAll()
			return
		}
		if paused() {
			continue
		}
		r.forward(pkt, logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.sinks)
	r.mu.RUnlock()

	var dirty []domain.ConsumerID
	for id, s := range snapshot {
		switch s.get() {
		case sinkClosed:
			dirty = append(dirty, id)
		case sinkPaused:
		case sinkActive:
			if err := s.track.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("consumer", string(id)).Msg("relay write failed, dropping sink")
				s.set(sinkClosed)
				dirty = append(dirty, id)
			}
		}
	}
	if len(dirty) > 0 {
		r.mu.Lock()
		for _, id := range dirty {
			delete(r.sinks, id)
		}
		r.mu.Unlock()
	}
}

func (r *relay) add(id domain.ConsumerID, s *sink) {
	r.mu.Lock()
	r.sinks[id] = s
	r.mu.Unlock()
}

func (r *relay) remove(id domain.ConsumerID) {
	r.mu.Lock()
	if s, ok := r.sinks[id]; ok {
		s.set(sinkClosed)
		delete(r.sinks, id)
	}
	r.mu.Unlock()
}

func (r *relay) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sinks {
		s.set(sinkClosed)
	}
}
