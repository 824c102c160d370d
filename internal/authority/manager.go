// Package authority owns the canonical room state: joins and leaves, the
// single-session rule, the fixed-rate simulation tick, chat and the room
// lifecycle events sent to the Media Session service.
package authority

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/broker"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/metrics"
	"github.com/dkeye/videoroom/internal/physics"
)

var ErrShuttingDown = domain.NewReasonError(domain.ErrUpstreamTimeout, domain.ReasonServerShutdown)

type Config struct {
	TickRate         int
	Capacity         int
	ChatMaxLength    int
	ChatRateLimit    int
	ChatRateInterval time.Duration
	Backpressure     string
	Level            *physics.Level
	Spawner          physics.Spawner
}

func (c *Config) withDefaults() {
	if c.TickRate <= 0 {
		c.TickRate = physics.TickRate
	}
	if c.Capacity <= 0 {
		c.Capacity = 6
	}
	if c.ChatMaxLength <= 0 {
		c.ChatMaxLength = domain.MaxChatMessageLength
	}
}

// transition marks a room id that is being created or disposed. Joins for
// that id wait on done.
type transition struct {
	done     chan struct{}
	creating bool
	err      error
}

type Manager struct {
	cfg      Config
	events   *Events
	registry *Registry
	policy   Policy

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	rooms       map[domain.RoomID]*Room
	transitions map[domain.RoomID]*transition
	closed      bool

	// manualTick leaves the tick loop to the caller (tests).
	manualTick bool
}

func NewManager(cfg Config, b Broker) *Manager {
	cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:         cfg,
		events:      NewEvents(b),
		registry:    NewRegistry(),
		policy:      PolicyFor(cfg.Backpressure),
		ctx:         ctx,
		cancel:      cancel,
		rooms:       make(map[domain.RoomID]*Room),
		transitions: make(map[domain.RoomID]*transition),
	}
}

func (m *Manager) Registry() *Registry { return m.registry }

// Ticket is an authenticated join that holds a place in a room whose media
// router exists. Exactly one of Admit or Cancel must follow.
type Ticket struct {
	m        *Manager
	room     *Room
	identity domain.Identity

	once sync.Once
}

func (t *Ticket) RoomID() domain.RoomID { return t.room.id }

// Prepare authenticates the identity against the single-session rule and
// makes sure the room exists, creating it through the broker when this is
// its first join.
func (m *Manager) Prepare(ctx context.Context, roomID domain.RoomID, identity domain.Identity) (*Ticket, error) {
	if roomID == "" || identity.ID == "" {
		return nil, fmt.Errorf("room and user ids are required: %w", domain.ErrInvalidRequest)
	}
	if err := m.registry.Claim(identity.ID, roomID); err != nil {
		metrics.JoinFailures.WithLabelValues(domain.ReasonUserAlreadyInRoom).Inc()
		return nil, err
	}
	room, err := m.acquire(ctx, roomID)
	if err != nil {
		m.registry.Release(identity.ID, nil)
		reason := domain.ReasonOf(err)
		if reason == "" {
			reason = "OTHER"
		}
		metrics.JoinFailures.WithLabelValues(reason).Inc()
		log.Warn().Err(err).Str("module", "authority.manager").
			Str("room", string(roomID)).Str("user", string(identity.ID)).Msg("join rejected")
		return nil, err
	}
	return &Ticket{m: m, room: room, identity: identity}, nil
}

// acquire returns the room with a reservation held. Creation of a new id is
// serialized: the first caller sends room:created and every concurrent
// caller waits for its outcome.
func (m *Manager) acquire(ctx context.Context, id domain.RoomID) (*Room, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrShuttingDown
		}
		if r, ok := m.rooms[id]; ok {
			err := r.reserve()
			m.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return r, nil
		}
		if t, ok := m.transitions[id]; ok {
			m.mu.Unlock()
			select {
			case <-t.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if t.creating && t.err != nil && !errors.Is(t.err, context.Canceled) {
				return nil, t.err
			}
			continue
		}

		t := &transition{done: make(chan struct{}), creating: true}
		m.transitions[id] = t
		m.mu.Unlock()

		err := m.events.RoomCreated(ctx, id)
		if err != nil {
			// The media side may still allocate after a timeout. The id stays
			// blocked until the dispose is out, so no retry can overtake it.
			m.events.RoomDisposed(m.ctx, id)
		}

		m.mu.Lock()
		delete(m.transitions, id)
		orphaned := err == nil && m.closed
		if orphaned {
			err = ErrShuttingDown
		}
		t.err = err
		var r *Room
		if err == nil {
			r = newRoom(id, m.cfg, m.policy)
			r.reserved = 1
			m.rooms[id] = r
			if !m.manualTick {
				r.start(m.ctx, m.cfg.TickRate)
			}
			metrics.RoomsActive.Inc()
		}
		close(t.done)
		m.mu.Unlock()

		if orphaned {
			m.events.RoomDisposed(m.ctx, id)
		}
		if err != nil {
			return nil, err
		}
		log.Info().Str("module", "authority.manager").Str("room", string(id)).Msg("room created")
		return r, nil
	}
}

// Admit spawns the user, assigns a screen slot, announces user:connected
// and sends the joiner its snapshot. The session is Active on return.
func (t *Ticket) Admit(conn Conn, opts domain.JoinOptions) (*Session, error) {
	first := false
	t.once.Do(func() { first = true })
	if !first {
		return nil, fmt.Errorf("ticket already used: %w", domain.ErrConflict)
	}

	m := t.m
	s := &Session{m: m, room: t.room, identity: t.identity, conn: conn, state: StateAdmitted}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !m.registry.Bind(t.identity.ID, s) {
		m.registry.Release(t.identity.ID, nil)
		t.release()
		return nil, domain.NewReasonError(domain.ErrAuthFailed, domain.ReasonSessionRevoked)
	}
	snapshot, err := t.room.admit(s, opts)
	if err != nil {
		m.registry.Release(t.identity.ID, s)
		t.release()
		return nil, err
	}
	m.events.UserConnected(m.ctx, t.identity.ID, t.room.id)
	metrics.UsersActive.Inc()

	if snapshot != nil {
		if sendErr := conn.TrySend(snapshot); sendErr != nil {
			t.room.onBackpressure(s, sendErr)
		}
	}
	s.state = StateActive
	t.room.systemChat(t.identity.DisplayName() + " joined the room")
	return s, nil
}

// Cancel gives back a ticket that will not be admitted.
func (t *Ticket) Cancel() {
	t.once.Do(func() {
		t.m.registry.Release(t.identity.ID, nil)
		t.release()
	})
}

// release returns the reservation and disposes the room if nobody else
// holds it.
func (t *Ticket) release() {
	m := t.m
	m.mu.Lock()
	empty := t.room.unreserve()
	tr := m.beginDispose(t.room, empty)
	m.mu.Unlock()
	m.finishDispose(t.room, tr)
}

// beginDispose removes an unused room from the map and blocks its id until
// finishDispose has announced room:disposed. Called with m.mu held.
func (m *Manager) beginDispose(r *Room, empty bool) *transition {
	if !empty || m.rooms[r.id] != r {
		return nil
	}
	delete(m.rooms, r.id)
	tr := &transition{done: make(chan struct{})}
	m.transitions[r.id] = tr
	return tr
}

func (m *Manager) finishDispose(r *Room, tr *transition) {
	if tr == nil {
		return
	}
	r.stop()
	m.events.RoomDisposed(m.ctx, r.id)
	metrics.RoomsActive.Dec()
	log.Info().Str("module", "authority.manager").Str("room", string(r.id)).Msg("room disposed")

	m.mu.Lock()
	if m.transitions[r.id] == tr {
		delete(m.transitions, r.id)
	}
	close(tr.done)
	m.mu.Unlock()
}

// leave is Session.Leave under the session lock.
func (m *Manager) leave(s *Session) {
	id, r := s.identity.ID, s.room

	m.mu.Lock()
	empty := r.remove(id)
	tr := m.beginDispose(r, empty)
	m.mu.Unlock()

	metrics.UsersActive.Dec()
	m.events.UserDisconnected(m.ctx, id, r.id)
	m.registry.Release(id, s)
	if tr == nil {
		r.systemChat(s.identity.DisplayName() + " left the room")
	}
	m.finishDispose(r, tr)
}

// Evict closes the live connection of a user, or makes its pending join
// fail. It reports whether the user was known.
func (m *Manager) Evict(id domain.UserID, reason string) bool {
	s, ok := m.registry.Revoke(id)
	if !ok {
		return false
	}
	if s != nil {
		s.Kick(domain.NewReasonError(domain.ErrAuthFailed, reason))
	}
	log.Info().Str("module", "authority.manager").Str("user", string(id)).Str("reason", reason).Msg("evicted")
	return true
}

// HandleRevoked is the broker handler for session:revoked.
func (m *Manager) HandleRevoked(_ context.Context, msg *broker.Message) {
	var ev domain.SessionRevoked
	if err := msg.Decode(&ev); err != nil || ev.UserID == "" {
		log.Warn().Err(err).Str("module", "authority.manager").Msg("bad session:revoked payload")
		return
	}
	m.Evict(ev.UserID, domain.ReasonSessionRevoked)
}

// Room returns a running room.
func (m *Manager) Room(id domain.RoomID) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Rooms lists the running rooms sorted by id.
func (m *Manager) Rooms() []domain.RoomInfo {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	out := make([]domain.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close kicks every session and stops all rooms. New joins fail with
// SERVER_SHUTDOWN.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	for _, s := range m.registry.Sessions() {
		s.Kick(ErrShuttingDown)
	}

	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for id, r := range m.rooms {
		rooms = append(rooms, r)
		delete(m.rooms, id)
	}
	m.mu.Unlock()
	for _, r := range rooms {
		r.stop()
		m.events.RoomDisposed(m.ctx, r.id)
		metrics.RoomsActive.Dec()
	}
	m.cancel()
	log.Info().Str("module", "authority.manager").Msg("all rooms closed")
}
