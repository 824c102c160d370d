package signaling

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/domain"
)

const DefaultEventBuffer = 32

// Subscriber is one live event stream of a user in a room.
type Subscriber struct {
	room  domain.RoomID
	user  domain.UserID
	owner any
	ch    chan domain.SignalingEvent
	done  chan struct{}
	once  sync.Once
}

func (s *Subscriber) RoomID() domain.RoomID { return s.room }
func (s *Subscriber) UserID() domain.UserID { return s.user }

// Events never closes; select on Done as well.
func (s *Subscriber) Events() <-chan domain.SignalingEvent { return s.ch }

// Done is closed when the stream ends.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) end() { s.once.Do(func() { close(s.done) }) }

// Hub fans signaling events out to the subscribers of a room. A subscriber
// never receives events about its own user. Full buffers drop the event.
type Hub struct {
	buffer int

	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[*Subscriber]struct{})}
}

func (h *Hub) Subscribe(room domain.RoomID, user domain.UserID) *Subscriber {
	return h.SubscribeOwned(nil, room, user)
}

// SubscribeOwned ties the stream to owner, a comparable handle such as the
// directory entry of the user; CloseOwner ends it.
func (h *Hub) SubscribeOwned(owner any, room domain.RoomID, user domain.UserID) *Subscriber {
	s := &Subscriber{
		room:  room,
		user:  user,
		owner: owner,
		ch:    make(chan domain.SignalingEvent, h.buffer),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	log.Debug().Str("module", "signaling.hub").Str("room", string(room)).Str("user", string(user)).Msg("subscribed")
	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.end()
}

// Publish delivers ev and returns how many subscribers took it.
func (h *Hub) Publish(ev domain.SignalingEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for s := range h.subs {
		if s.room != ev.RoomID || s.user == ev.UserID {
			continue
		}
		select {
		case s.ch <- ev:
			n++
		default:
			log.Warn().
				Str("module", "signaling.hub").
				Str("room", string(s.room)).
				Str("user", string(s.user)).
				Str("event", string(ev.Type)).
				Msg("subscriber buffer full, event dropped")
		}
	}
	return n
}

// CloseOwner ends every stream opened for owner. Streams of a later entry
// for the same user id stay open.
func (h *Hub) CloseOwner(owner any) {
	if owner == nil {
		return
	}
	h.mu.Lock()
	var gone []*Subscriber
	for s := range h.subs {
		if s.owner == owner {
			gone = append(gone, s)
			delete(h.subs, s)
		}
	}
	h.mu.Unlock()
	for _, s := range gone {
		s.end()
	}
}

func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscriber]struct{})
	h.mu.Unlock()
	for s := range subs {
		s.end()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
