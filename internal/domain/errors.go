package domain

import "errors"

// Error kinds. Callers match them with errors.Is.
var (
	ErrAuthFailed        = errors.New("auth failed")
	ErrUserAlreadyInRoom = errors.New("user already in room")
	ErrNotFound          = errors.New("not found")
	ErrNotJoined         = errors.New("not joined")
	ErrConflict          = errors.New("conflict")
	ErrRoomFull          = errors.New("room full")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrFatalSetup        = errors.New("fatal setup")
	ErrInvalidRequest    = errors.New("invalid request")
)

// Reason codes sent to clients.
const (
	ReasonMissingAccessToken = "MISSING_ACCESS_TOKEN"
	ReasonInvalidAccessToken = "INVALID_ACCESS_TOKEN"
	ReasonUserAlreadyInRoom  = "USER_ALREADY_IN_ROOM"
	ReasonRoomUnavailable    = "ROOM_UNAVAILABLE"
	ReasonRoomFull           = "ROOM_FULL"
	ReasonSessionRevoked     = "SESSION_REVOKED"
	ReasonServerShutdown     = "SERVER_SHUTDOWN"
)

// ReasonError attaches a client-facing reason code to an error kind.
type ReasonError struct {
	Kind   error
	Reason string
}

func NewReasonError(kind error, reason string) *ReasonError {
	return &ReasonError{Kind: kind, Reason: reason}
}

func (e *ReasonError) Error() string { return e.Kind.Error() + ": " + e.Reason }

func (e *ReasonError) Unwrap() error { return e.Kind }

// ReasonOf returns the reason code carried by err, or "" if it has none.
func ReasonOf(err error) string {
	var re *ReasonError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}
