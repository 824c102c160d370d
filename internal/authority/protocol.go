package authority

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/videoroom/internal/domain"
)

// Client message types.
const (
	MsgUserInput   = "user:input"
	MsgChatMessage = "chat:message"
	MsgRoomJoined  = "room:joined"
	MsgStatePatch  = "state:patch"
	MsgError       = "error"
)

// Frame is the envelope of every client message in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type chatRequest struct {
	Message string `json:"message"`
}

// UserState is the full replicated state of one user.
type UserState struct {
	Name       string      `json:"name,omitempty"`
	Email      string      `json:"email,omitempty"`
	AvatarURL  string      `json:"avatarUrl,omitempty"`
	Color      uint32      `json:"color"`
	ScreenSlot int         `json:"screenSlot"`
	Position   domain.Vec3 `json:"position"`
	Yaw        float64     `json:"yaw"`
	Pitch      float64     `json:"pitch"`
}

// UserPatch carries only the fields that changed since the last patch.
type UserPatch struct {
	Name       *string      `json:"name,omitempty"`
	Email      *string      `json:"email,omitempty"`
	AvatarURL  *string      `json:"avatarUrl,omitempty"`
	Color      *uint32      `json:"color,omitempty"`
	ScreenSlot *int         `json:"screenSlot,omitempty"`
	Position   *domain.Vec3 `json:"position,omitempty"`
	Yaw        *float64     `json:"yaw,omitempty"`
	Pitch      *float64     `json:"pitch,omitempty"`
}

func (p *UserPatch) empty() bool {
	return p.Name == nil && p.Email == nil && p.AvatarURL == nil && p.Color == nil &&
		p.ScreenSlot == nil && p.Position == nil && p.Yaw == nil && p.Pitch == nil
}

// diffUser returns the patch turning prev into next. A nil prev yields every field.
func diffUser(prev *UserState, next UserState) *UserPatch {
	p := &UserPatch{}
	if prev == nil {
		p.Name, p.Email, p.AvatarURL = &next.Name, &next.Email, &next.AvatarURL
		p.Color, p.ScreenSlot = &next.Color, &next.ScreenSlot
		p.Position, p.Yaw, p.Pitch = &next.Position, &next.Yaw, &next.Pitch
		return p
	}
	if prev.Name != next.Name {
		p.Name = &next.Name
	}
	if prev.Email != next.Email {
		p.Email = &next.Email
	}
	if prev.AvatarURL != next.AvatarURL {
		p.AvatarURL = &next.AvatarURL
	}
	if prev.Color != next.Color {
		p.Color = &next.Color
	}
	if prev.ScreenSlot != next.ScreenSlot {
		p.ScreenSlot = &next.ScreenSlot
	}
	if prev.Position != next.Position {
		p.Position = &next.Position
	}
	if prev.Yaw != next.Yaw {
		p.Yaw = &next.Yaw
	}
	if prev.Pitch != next.Pitch {
		p.Pitch = &next.Pitch
	}
	return p
}

// RoomSnapshot is the full room state.
type RoomSnapshot struct {
	Tick  uint64                      `json:"tick"`
	Users map[domain.UserID]UserState `json:"users"`
}

type RoomJoined struct {
	UserID domain.UserID `json:"userId"`
	State  RoomSnapshot  `json:"state"`
}

// StatePatch is sent every tick that changed something. Full marks a patch
// that carries every field of every user, used to resync a lagging client.
type StatePatch struct {
	Tick    uint64                       `json:"tick"`
	Full    bool                         `json:"full,omitempty"`
	Users   map[domain.UserID]*UserPatch `json:"users,omitempty"`
	Removed []domain.UserID              `json:"removed,omitempty"`
}

type ErrorFrame struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// ErrorCode maps an error to the kind code clients switch on.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuthFailed), errors.Is(err, domain.ErrUserAlreadyInRoom):
		return "AUTH_FAILED"
	case errors.Is(err, domain.ErrRoomFull):
		return "ROOM_FULL"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return "UPSTREAM_TIMEOUT"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNotJoined):
		return "NOT_FOUND"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, domain.ErrConflict):
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}

// NewErrorFrame builds the error frame for err.
func NewErrorFrame(err error) ErrorFrame {
	return ErrorFrame{Code: ErrorCode(err), Reason: domain.ReasonOf(err)}
}

func encodeFrame(typ string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: typ, Data: data})
}

// EncodeError renders err as a ready-to-send error frame.
func EncodeError(err error) []byte {
	b, encErr := encodeFrame(MsgError, NewErrorFrame(err))
	if encErr != nil {
		return []byte(`{"type":"error","data":{"code":"INTERNAL"}}`)
	}
	return b
}
