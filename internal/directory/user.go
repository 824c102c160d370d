package directory

import (
	"fmt"
	"maps"
	"sync"

	"github.com/dkeye/videoroom/internal/domain"
)

// Resources are the media objects a user owns.
type Resources struct {
	SendTransport domain.TransportID
	RecvTransport domain.TransportID
	Producers     map[domain.MediaKind]domain.ProducerID
	// Consumers maps each consumer to the producer it receives.
	Consumers map[domain.ConsumerID]domain.ProducerID
}

// Transport returns the transport of the given role.
func (r *Resources) Transport(producing bool) domain.TransportID {
	if producing {
		return r.SendTransport
	}
	return r.RecvTransport
}

func (r *Resources) SetTransport(producing bool, id domain.TransportID) {
	if producing {
		r.SendTransport = id
	} else {
		r.RecvTransport = id
	}
}

func (r *Resources) clone() Resources {
	return Resources{
		SendTransport: r.SendTransport,
		RecvTransport: r.RecvTransport,
		Producers:     maps.Clone(r.Producers),
		Consumers:     maps.Clone(r.Consumers),
	}
}

// User is one directory user. Every change to its resources goes through
// Do, so calls for the same user run one at a time.
type User struct {
	id     domain.UserID
	room   domain.RoomID
	router domain.RouterID

	mu   sync.Mutex
	gone bool
	res  Resources
}

func newUser(id domain.UserID, room domain.RoomID, router domain.RouterID) *User {
	return &User{
		id:     id,
		room:   room,
		router: router,
		res: Resources{
			Producers: make(map[domain.MediaKind]domain.ProducerID),
			Consumers: make(map[domain.ConsumerID]domain.ProducerID),
		},
	}
}

func (u *User) ID() domain.UserID         { return u.id }
func (u *User) RoomID() domain.RoomID     { return u.room }
func (u *User) RouterID() domain.RouterID { return u.router }

// Do runs fn with the user's resources under the user's lock. It fails with
// ErrNotJoined once the user has left.
func (u *User) Do(fn func(*Resources) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.gone {
		return fmt.Errorf("user %s: %w", u.id, domain.ErrNotJoined)
	}
	return fn(&u.res)
}

// Snapshot returns a copy of the current resources.
func (u *User) Snapshot() Resources {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.res.clone()
}

func (u *User) Gone() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.gone
}

// retire marks the user gone and hands back what it owned. It reports false
// if the user was already retired.
func (u *User) retire() (Resources, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.gone {
		return Resources{}, false
	}
	u.gone = true
	res := u.res.clone()
	u.res = Resources{}
	return res, true
}
