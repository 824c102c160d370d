// Package signaling is the Media Session service: per-user RPCs over the
// media pool and the push stream of producer events.
package signaling

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/directory"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/media"
)

// ProducePolicy decides what a second produce of the same kind does.
type ProducePolicy string

const (
	PolicyReplace ProducePolicy = "replace"
	PolicyReject  ProducePolicy = "reject"
)

func PolicyFor(name string) ProducePolicy {
	if name == string(PolicyReject) {
		return PolicyReject
	}
	return PolicyReplace
}

// Pool is the media pool surface the service calls.
type Pool interface {
	RtpCapabilities() (media.RtpCapabilities, error)
	CreateTransport(ctx context.Context, routerID domain.RouterID, opts media.TransportOptions) (media.Transport, error)
	ConnectTransport(ctx context.Context, id domain.TransportID, params media.ConnectParams) error
	Produce(ctx context.Context, transportID domain.TransportID, params media.ProduceParams) (media.Producer, error)
	Consume(ctx context.Context, routerID domain.RouterID, transportID domain.TransportID, params media.ConsumeParams) (media.Consumer, error)
	Producer(id domain.ProducerID) (media.Producer, error)
	Consumer(id domain.ConsumerID) (media.Consumer, error)
	DisposeProducer(id domain.ProducerID)
}

type Config struct {
	ProducePolicy ProducePolicy
	EventBuffer   int
}

type Service struct {
	pool   Pool
	dir    *directory.Directory
	hub    *Hub
	policy ProducePolicy
	logger zerolog.Logger
}

func NewService(pool Pool, dir *directory.Directory, cfg Config) *Service {
	if cfg.ProducePolicy == "" {
		cfg.ProducePolicy = PolicyReplace
	}
	s := &Service{
		pool:   pool,
		dir:    dir,
		hub:    NewHub(cfg.EventBuffer),
		policy: cfg.ProducePolicy,
		logger: log.With().Str("module", "signaling").Logger(),
	}
	dir.OnUserRemoved(func(u *directory.User) { s.hub.CloseOwner(u) })
	return s
}

func (s *Service) Hub() *Hub { return s.hub }

func (s *Service) user(uid domain.UserID) (*directory.User, error) {
	return s.dir.User(uid)
}

func (s *Service) RtpCapabilities(_ context.Context, uid domain.UserID) (media.RtpCapabilities, error) {
	if _, err := s.user(uid); err != nil {
		return media.RtpCapabilities{}, err
	}
	return s.pool.RtpCapabilities()
}

// CreateWebRtcTransport creates the caller's send or receive transport. A
// user holds at most one of each.
func (s *Service) CreateWebRtcTransport(ctx context.Context, uid domain.UserID, producing bool) (media.TransportInfo, error) {
	u, err := s.user(uid)
	if err != nil {
		return media.TransportInfo{}, err
	}
	var info media.TransportInfo
	err = u.Do(func(res *directory.Resources) error {
		if id := res.Transport(producing); id != "" {
			return fmt.Errorf("user %s already has %s transport %s: %w", uid, role(producing), id, domain.ErrConflict)
		}
		t, err := s.pool.CreateTransport(ctx, u.RouterID(), media.TransportOptions{
			Producing: producing,
			RoomID:    u.RoomID(),
			UserID:    uid,
		})
		if err != nil {
			return err
		}
		res.SetTransport(producing, t.ID())
		info = t.Info()
		return nil
	})
	if err != nil {
		return media.TransportInfo{}, err
	}
	s.logger.Info().Str("user", string(uid)).Str("transport", string(info.ID)).Str("role", role(producing)).Msg("transport created")
	return info, nil
}

func (s *Service) ConnectWebRtcTransport(ctx context.Context, uid domain.UserID, id domain.TransportID, params media.ConnectParams) error {
	u, err := s.user(uid)
	if err != nil {
		return err
	}
	return u.Do(func(res *directory.Resources) error {
		if id == "" || (id != res.SendTransport && id != res.RecvTransport) {
			return fmt.Errorf("transport %s of user %s: %w", id, uid, domain.ErrNotFound)
		}
		return s.pool.ConnectTransport(ctx, id, params)
	})
}

// Produce publishes a track on the caller's send transport and announces it
// to the room.
func (s *Service) Produce(ctx context.Context, uid domain.UserID, params media.ProduceParams) (domain.ProducerID, error) {
	if !params.Kind.Valid() {
		return "", fmt.Errorf("kind %q: %w", params.Kind, domain.ErrInvalidRequest)
	}
	u, err := s.user(uid)
	if err != nil {
		return "", err
	}
	var id domain.ProducerID
	err = u.Do(func(res *directory.Resources) error {
		if res.SendTransport == "" {
			return fmt.Errorf("user %s has no send transport: %w", uid, domain.ErrNotFound)
		}
		if old, ok := res.Producers[params.Kind]; ok {
			if s.policy == PolicyReject {
				return fmt.Errorf("user %s already produces %s: %w", uid, params.Kind, domain.ErrConflict)
			}
			delete(res.Producers, params.Kind)
			s.pool.DisposeProducer(old)
			s.logger.Info().Str("user", string(uid)).Str("producer", string(old)).Msg("producer replaced")
		}
		p, err := s.pool.Produce(ctx, res.SendTransport, params)
		if err != nil {
			return err
		}
		res.Producers[params.Kind] = p.ID()
		id = p.ID()
		return nil
	})
	if err != nil {
		return "", err
	}
	s.hub.Publish(domain.SignalingEvent{Type: domain.ProducerCreated, RoomID: u.RoomID(), UserID: uid, ProducerID: id})
	s.logger.Info().Str("user", string(uid)).Str("producer", string(id)).Str("kind", string(params.Kind)).Msg("producer created")
	return id, nil
}

// Consume creates a paused consumer of producerID on the caller's receive
// transport.
func (s *Service) Consume(ctx context.Context, uid domain.UserID, producerID domain.ProducerID, caps media.RtpCapabilities) (media.ConsumerInfo, error) {
	u, err := s.user(uid)
	if err != nil {
		return media.ConsumerInfo{}, err
	}
	var info media.ConsumerInfo
	err = u.Do(func(res *directory.Resources) error {
		if res.RecvTransport == "" {
			return fmt.Errorf("user %s has no receive transport: %w", uid, domain.ErrNotFound)
		}
		c, err := s.pool.Consume(ctx, u.RouterID(), res.RecvTransport, media.ConsumeParams{
			ProducerID:      producerID,
			RtpCapabilities: caps,
			Paused:          true,
		})
		if err != nil {
			return err
		}
		res.Consumers[c.ID()] = producerID
		info = media.InfoOf(c)
		return nil
	})
	if err != nil {
		return media.ConsumerInfo{}, err
	}
	s.logger.Info().Str("user", string(uid)).Str("consumer", string(info.ID)).Str("producer", string(producerID)).Msg("consumer created")
	return info, nil
}

// ConsumeResume starts a consumer the caller owns and asks for a keyframe.
func (s *Service) ConsumeResume(_ context.Context, uid domain.UserID, id domain.ConsumerID) error {
	u, err := s.user(uid)
	if err != nil {
		return err
	}
	return u.Do(func(res *directory.Resources) error {
		if _, ok := res.Consumers[id]; !ok {
			return fmt.Errorf("consumer %s of user %s: %w", id, uid, domain.ErrNotFound)
		}
		c, err := s.pool.Consumer(id)
		if err != nil {
			delete(res.Consumers, id)
			return err
		}
		if err := c.Resume(); err != nil {
			return fmt.Errorf("resume consumer %s: %w", id, err)
		}
		if err := c.RequestKeyFrame(); err != nil {
			s.logger.Warn().Err(err).Str("consumer", string(id)).Msg("keyframe request failed")
		}
		return nil
	})
}

func (s *Service) PauseProducer(_ context.Context, uid domain.UserID, kind domain.MediaKind) error {
	return s.toggle(uid, kind, true)
}

func (s *Service) ResumeProducer(_ context.Context, uid domain.UserID, kind domain.MediaKind) error {
	return s.toggle(uid, kind, false)
}

// toggle announces only actual state changes.
func (s *Service) toggle(uid domain.UserID, kind domain.MediaKind, pause bool) error {
	u, err := s.user(uid)
	if err != nil {
		return err
	}
	var (
		id      domain.ProducerID
		changed bool
	)
	err = u.Do(func(res *directory.Resources) error {
		var ok bool
		if id, ok = res.Producers[kind]; !ok {
			return fmt.Errorf("%s producer of user %s: %w", kind, uid, domain.ErrNotFound)
		}
		p, err := s.pool.Producer(id)
		if err != nil {
			delete(res.Producers, kind)
			return err
		}
		if p.Paused() == pause {
			return nil
		}
		changed = true
		if pause {
			return p.Pause()
		}
		return p.Resume()
	})
	if err != nil || !changed {
		return err
	}
	typ := domain.ProducerResumed
	if pause {
		typ = domain.ProducerPaused
	}
	s.hub.Publish(domain.SignalingEvent{Type: typ, RoomID: u.RoomID(), UserID: uid, ProducerID: id})
	s.logger.Debug().Str("user", string(uid)).Str("producer", string(id)).Str("event", string(typ)).Msg("producer toggled")
	return nil
}

// Producers lists the producers of every other user in the caller's room.
func (s *Service) Producers(_ context.Context, uid domain.UserID) ([]domain.ProducerInfo, error) {
	u, err := s.user(uid)
	if err != nil {
		return nil, err
	}
	out := []domain.ProducerInfo{}
	for _, peer := range s.dir.Peers(u.RoomID(), uid) {
		for kind, id := range peer.Snapshot().Producers {
			out = append(out, domain.ProducerInfo{UserID: peer.ID(), ProducerID: id, Kind: kind})
		}
	}
	slices.SortFunc(out, func(a, b domain.ProducerInfo) int {
		return cmp.Or(cmp.Compare(a.UserID, b.UserID), cmp.Compare(a.Kind, b.Kind))
	})
	return out, nil
}

// Subscribe opens the caller's event stream.
func (s *Service) Subscribe(uid domain.UserID) (*Subscriber, error) {
	u, err := s.user(uid)
	if err != nil {
		return nil, err
	}
	sub := s.hub.SubscribeOwned(u, u.RoomID(), uid)
	if u.Gone() {
		s.hub.Unsubscribe(sub)
		return nil, fmt.Errorf("user %s: %w", uid, domain.ErrNotJoined)
	}
	return sub, nil
}

func (s *Service) Close() { s.hub.Close() }

func role(producing bool) string {
	if producing {
		return "send"
	}
	return "receive"
}
