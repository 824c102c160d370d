package authority

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/domain"
)

// Conn is the client transport. TrySend must never block.
type Conn interface {
	TrySend(frame []byte) error
	Close()
}

type SessionState int32

const (
	StateAdmitted SessionState = iota
	StateActive
	StateGone
)

func (s SessionState) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StateActive:
		return "active"
	case StateGone:
		return "gone"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// Session is one admitted connection. It is created by Ticket.Admit and
// ends with Leave or Kick.
type Session struct {
	m        *Manager
	room     *Room
	identity domain.Identity
	conn     Conn

	mu    sync.Mutex
	state SessionState
}

func (s *Session) UserID() domain.UserID     { return s.identity.ID }
func (s *Session) RoomID() domain.RoomID     { return s.room.id }
func (s *Session) Identity() domain.Identity { return s.identity }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Slot returns the screen slot currently held, or -1 once gone.
func (s *Session) Slot() int {
	return s.room.memberSlot(s.identity.ID)
}

// HandleMessage dispatches one client frame. Errors are for the caller to
// report back to this client only.
func (s *Session) HandleMessage(data []byte) error {
	if s.State() != StateActive {
		return fmt.Errorf("session %s is %s: %w", s.identity.ID, s.State(), domain.ErrNotJoined)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("bad frame: %w", domain.ErrInvalidRequest)
	}
	switch f.Type {
	case MsgUserInput:
		var in domain.Input
		if err := json.Unmarshal(f.Data, &in); err != nil {
			return fmt.Errorf("bad %s: %w", f.Type, domain.ErrInvalidRequest)
		}
		return s.room.input(s.identity.ID, in)
	case MsgChatMessage:
		var req chatRequest
		if err := json.Unmarshal(f.Data, &req); err != nil {
			return fmt.Errorf("bad %s: %w", f.Type, domain.ErrInvalidRequest)
		}
		if req.Message == "" {
			return nil
		}
		return s.room.chat(s.identity.ID, req.Message)
	default:
		return fmt.Errorf("unknown message type %q: %w", f.Type, domain.ErrInvalidRequest)
	}
}

// Leave runs Leaving -> Gone: free the slot, drop the user, announce the
// disconnect and dispose the room if it was the last member. Idempotent.
func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateGone {
		return
	}
	s.state = StateGone
	s.m.leave(s)
	s.conn.Close()
}

// Kick tells the client why and leaves.
func (s *Session) Kick(reason error) {
	if s.State() == StateGone {
		return
	}
	_ = s.conn.TrySend(EncodeError(reason))
	log.Info().Str("module", "authority.session").
		Str("user", string(s.identity.ID)).
		Str("room", string(s.room.id)).
		Str("reason", domain.ReasonOf(reason)).
		Msg("kicked")
	s.Leave()
}
