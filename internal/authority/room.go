package authority

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/metrics"
	"github.com/dkeye/videoroom/internal/physics"
)

const ReasonChatRateLimited = "CHAT_RATE_LIMITED"

type member struct {
	session  *Session
	identity domain.Identity
	color    uint32
	slot     int
	// sent is the state every member was last patched with; nil until the
	// first patch after joining.
	sent   *UserState
	resync bool
}

func (m *member) state(p physics.State) UserState {
	return UserState{
		Name:       m.identity.DisplayName(),
		Email:      m.identity.Email,
		AvatarURL:  m.identity.AvatarURL,
		Color:      m.color,
		ScreenSlot: m.slot,
		Position:   p.Position,
		Yaw:        p.Yaw,
		Pitch:      p.Pitch,
	}
}

// Room is one running simulation. Everything under mu is owned by the room;
// sends to clients happen after mu is released and never block.
type Room struct {
	id       domain.RoomID
	capacity int
	chatMax  int
	policy   Policy
	limiter  *ChatLimiter
	logger   zerolog.Logger

	mu       sync.Mutex
	physics  *physics.Room
	slots    *Slots
	members  map[domain.UserID]*member
	reserved int
	inputs   map[domain.UserID]domain.Input
	removed  []domain.UserID
	tick     uint64
	closed   bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newRoom(id domain.RoomID, cfg Config, policy Policy) *Room {
	return &Room{
		id:       id,
		capacity: cfg.Capacity,
		chatMax:  cfg.ChatMaxLength,
		policy:   policy,
		limiter:  NewChatLimiter(cfg.ChatRateLimit, cfg.ChatRateInterval),
		logger:   log.With().Str("module", "authority.room").Str("room", string(id)).Logger(),
		physics: physics.NewRoom(physics.RoomOptions{
			Level:   cfg.Level,
			Screens: cfg.Capacity,
			Spawner: cfg.Spawner,
		}),
		slots:   NewSlots(cfg.Capacity),
		members: make(map[domain.UserID]*member),
		inputs:  make(map[domain.UserID]domain.Input),
		done:    make(chan struct{}),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

// start runs the tick loop until stop.
func (r *Room) start(ctx context.Context, tickRate int) {
	ctx, r.cancel = context.WithCancel(ctx)
	interval := time.Second / time.Duration(tickRate)
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		r.logger.Info().Dur("interval", interval).Msg("tick loop started")
		for {
			select {
			case <-ctx.Done():
				r.logger.Info().Uint64("tick", r.Tick()).Msg("tick loop stopped")
				return
			case <-ticker.C:
				r.Step()
			}
		}
	}()
}

// stop ends the tick loop and frees the world. Safe to call on a room that
// was never started.
func (r *Room) stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	r.mu.Lock()
	r.closed = true
	r.physics.Close()
	r.mu.Unlock()
}

func (r *Room) Tick() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tick
}

func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// reserve holds a place for a pending join.
func (r *Room) reserve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("room %s: %w", r.id, domain.ErrNotFound)
	}
	if len(r.members)+r.reserved >= r.capacity {
		return domain.NewReasonError(domain.ErrRoomFull, domain.ReasonRoomFull)
	}
	r.reserved++
	return nil
}

// unreserve gives a place back and reports whether the room is now unused.
func (r *Room) unreserve() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reserved > 0 {
		r.reserved--
	}
	return len(r.members) == 0 && r.reserved == 0
}

// admit turns a reservation into a member: spawn body, take a slot and
// build the joiner's snapshot.
func (r *Room) admit(s *Session, opts domain.JoinOptions) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reserved > 0 {
		r.reserved--
	}
	if r.closed {
		return nil, ErrShuttingDown
	}
	slot, ok := r.slots.Occupy()
	if !ok {
		return nil, domain.NewReasonError(domain.ErrRoomFull, domain.ReasonRoomFull)
	}
	id := s.identity.ID
	r.physics.AddUser(id)
	m := &member{session: s, identity: s.identity, color: opts.UserColor, slot: slot}
	r.members[id] = m

	snap := RoomSnapshot{Tick: r.tick, Users: make(map[domain.UserID]UserState, len(r.members))}
	for uid, other := range r.members {
		if other.sent != nil {
			snap.Users[uid] = *other.sent
			continue
		}
		if u, ok := r.physics.User(uid); ok {
			snap.Users[uid] = other.state(u.State())
		}
	}
	r.logger.Info().Str("user", string(id)).Int("slot", slot).Int("members", len(r.members)).Msg("user admitted")
	return encodeFrame(MsgRoomJoined, RoomJoined{UserID: id, State: snap})
}

// remove drops a member and reports whether the room is now unused.
func (r *Room) remove(id domain.UserID) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		r.slots.Free(m.slot)
		r.physics.RemoveUser(id)
		delete(r.members, id)
		delete(r.inputs, id)
		r.removed = append(r.removed, id)
		r.limiter.Forget(id)
		r.logger.Info().Str("user", string(id)).Int("slot", m.slot).Int("members", len(r.members)).Msg("user removed")
	}
	return len(r.members) == 0 && r.reserved == 0
}

// input buffers a sample for the next tick. Later samples win field by
// field; a jump press survives until the tick consumes it.
func (r *Room) input(id domain.UserID, in domain.Input) error {
	if !finite(in.Yaw) || !finite(in.Pitch) {
		return fmt.Errorf("input yaw/pitch must be finite: %w", domain.ErrInvalidRequest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; !ok {
		return fmt.Errorf("user %s: %w", id, domain.ErrNotJoined)
	}
	if prev, ok := r.inputs[id]; ok && prev.Action.Has(domain.ActionJump) {
		in.Action |= domain.ActionJump
	}
	r.inputs[id] = in
	return nil
}

// chat rebroadcasts a user line to every member, sender included.
func (r *Room) chat(id domain.UserID, message string) error {
	r.mu.Lock()
	_, ok := r.members[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("user %s: %w", id, domain.ErrNotJoined)
	}
	if !r.limiter.Allow(id) {
		return domain.NewReasonError(domain.ErrInvalidRequest, ReasonChatRateLimited)
	}
	r.broadcastChat(userChat(id, message, r.chatMax, time.Now()))
	return nil
}

func (r *Room) systemChat(message string) {
	r.broadcastChat(systemChat(message, time.Now()))
}

func (r *Room) broadcastChat(msg domain.ChatMessage) {
	frame, err := encodeFrame(MsgChatMessage, msg)
	if err != nil {
		r.logger.Error().Err(err).Msg("encode chat")
		return
	}
	for _, s := range r.sessions() {
		if err := s.conn.TrySend(frame); err != nil {
			r.onBackpressure(s, err)
		}
	}
}

func (r *Room) sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.session)
	}
	return out
}

type delivery struct {
	session *Session
	frame   []byte
}

// Step runs one tick: apply buffered input, advance physics, then send each
// member the changed state. A failure for one user is logged and skipped.
func (r *Room) Step() {
	start := time.Now()
	out := r.advance()
	for _, d := range out {
		if err := d.session.conn.TrySend(d.frame); err != nil {
			r.onBackpressure(d.session, err)
		}
	}
	metrics.TickDuration.Observe(time.Since(start).Seconds())
}

func (r *Room) advance() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	for id, in := range r.inputs {
		r.physics.ApplyInput(id, in)
		delete(r.inputs, id)
	}
	r.physics.Step(func(id domain.UserID, err error) {
		r.logger.Warn().Err(err).Str("user", string(id)).Uint64("tick", r.tick).Msg("user step failed")
	})
	r.tick++

	patch := StatePatch{Tick: r.tick, Users: make(map[domain.UserID]*UserPatch), Removed: r.removed}
	full := StatePatch{Tick: r.tick, Full: true, Users: make(map[domain.UserID]*UserPatch), Removed: r.removed}
	r.removed = nil

	for _, u := range r.physics.Users() {
		m, ok := r.members[u.ID()]
		if !ok {
			continue
		}
		next, err := r.readState(m, u)
		if err != nil {
			r.logger.Warn().Err(err).Str("user", string(u.ID())).Uint64("tick", r.tick).Msg("user state skipped")
			continue
		}
		if p := diffUser(m.sent, next); !p.empty() {
			patch.Users[u.ID()] = p
		}
		full.Users[u.ID()] = diffUser(nil, next)
		m.sent = &next
	}

	var patchFrame, fullFrame []byte
	if len(patch.Users) > 0 || len(patch.Removed) > 0 {
		patchFrame = r.encodePatch(patch)
	}
	out := make([]delivery, 0, len(r.members))
	for _, m := range r.members {
		switch {
		case m.resync:
			if fullFrame == nil {
				fullFrame = r.encodePatch(full)
			}
			m.resync = false
			out = append(out, delivery{session: m.session, frame: fullFrame})
		case patchFrame != nil:
			out = append(out, delivery{session: m.session, frame: patchFrame})
		}
	}
	return out
}

func (r *Room) readState(m *member, u *physics.User) (st UserState, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("read state: %v", rec)
		}
	}()
	return m.state(u.State()), nil
}

func (r *Room) encodePatch(p StatePatch) []byte {
	b, err := encodeFrame(MsgStatePatch, p)
	if err != nil {
		r.logger.Error().Err(err).Uint64("tick", p.Tick).Msg("encode patch")
		return nil
	}
	return b
}

func (r *Room) onBackpressure(s *Session, err error) {
	id := s.identity.ID
	switch r.policy.OnBackpressure(r.id, id) {
	case Resync:
		r.mu.Lock()
		if m, ok := r.members[id]; ok {
			m.resync = true
		}
		r.mu.Unlock()
		r.logger.Debug().Err(err).Str("user", string(id)).Msg("client lagging, resync scheduled")
	case KickMember:
		r.logger.Warn().Err(err).Str("user", string(id)).Msg("client lagging, kicking")
		go s.Kick(fmt.Errorf("send buffer full: %w", domain.ErrConflict))
	case NoAction:
	}
}

// info is the listing view.
func (r *Room) info() domain.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.RoomInfo{ID: r.id, Users: len(r.members), Capacity: r.capacity}
}

// memberSlot reports the slot held by id, or -1.
func (r *Room) memberSlot(id domain.UserID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok {
		return m.slot
	}
	return -1
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
