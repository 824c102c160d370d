package authority

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/domain"
)

type registryEntry struct {
	room    domain.RoomID
	session *Session // nil until the ticket is admitted
	revoked bool
}

// Registry enforces one live connection per user id. An entry exists from
// the moment a join is authenticated until its session is gone.
type Registry struct {
	mu    sync.RWMutex
	users map[domain.UserID]*registryEntry
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[domain.UserID]*registryEntry)}
}

// Claim reserves id for a join into room. A second claim fails with
// USER_ALREADY_IN_ROOM until the first is released.
func (r *Registry) Claim(id domain.UserID, room domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; ok {
		log.Info().Str("module", "authority.registry").Str("user", string(id)).Msg("duplicate session rejected")
		return domain.NewReasonError(domain.ErrUserAlreadyInRoom, domain.ReasonUserAlreadyInRoom)
	}
	r.users[id] = &registryEntry{room: room}
	log.Debug().Str("module", "authority.registry").Str("user", string(id)).Str("room", string(room)).Msg("claimed")
	return nil
}

// Bind attaches the admitted session to a claim. It fails if the claim was
// revoked or released in the meantime.
func (r *Registry) Bind(id domain.UserID, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[id]
	if !ok || e.revoked || e.session != nil {
		return false
	}
	e.session = s
	return true
}

// Release drops the claim on id if it is still owned by s. A nil s releases
// a claim that was never bound.
func (r *Registry) Release(id domain.UserID, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[id]
	if !ok || e.session != s {
		return
	}
	delete(r.users, id)
	log.Debug().Str("module", "authority.registry").Str("user", string(id)).Msg("released")
}

// Revoke returns the live session of id, if any. A claim still waiting for
// admission is marked so that its Admit fails.
func (r *Registry) Revoke(id domain.UserID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.users[id]
	if !ok {
		return nil, false
	}
	if e.session == nil {
		e.revoked = true
		return nil, true
	}
	return e.session, true
}

func (r *Registry) Session(id domain.UserID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[id]
	if !ok || e.session == nil {
		return nil, false
	}
	return e.session, true
}

// Sessions returns every bound session.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.users))
	for _, e := range r.users {
		if e.session != nil {
			out = append(out, e.session)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
