package authority

import "github.com/dkeye/videoroom/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	// Resync sends the lagging client a full state patch on the next tick.
	Resync
	KickMember
)

// Policy decides what happens to a client whose send buffer is full.
type Policy interface {
	OnBackpressure(room domain.RoomID, user domain.UserID) BackpressureAction
}

type ResyncPolicy struct{}

func (ResyncPolicy) OnBackpressure(domain.RoomID, domain.UserID) BackpressureAction { return Resync }

type KickPolicy struct{}

func (KickPolicy) OnBackpressure(domain.RoomID, domain.UserID) BackpressureAction {
	return KickMember
}

// PolicyFor maps the room.backpressure setting to a Policy.
func PolicyFor(name string) Policy {
	if name == "kick" {
		return KickPolicy{}
	}
	return ResyncPolicy{}
}
