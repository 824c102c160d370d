package physics

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/dkeye/videoroom/internal/domain"
)

var ErrUnstableBody = errors.New("physics: body state is not finite")

// Spawner picks a spawn point uniformly over a disk of Radius at Height.
type Spawner struct {
	Radius float64
	Height float64
	// Float returns uniforms in [0, 1). Defaults to math/rand/v2.
	Float func() float64
}

func (s Spawner) Sample() mgl64.Vec3 {
	f := s.Float
	if f == nil {
		f = rand.Float64
	}
	r := s.Radius * math.Sqrt(f())
	theta := 2 * math.Pi * f()
	return mgl64.Vec3{r * math.Cos(theta), s.Height, r * math.Sin(theta)}
}

type RoomOptions struct {
	Level   *Level
	Screens int
	Spawner Spawner
	// World defaults to the built-in engine at Timestep.
	World World
}

// Room owns one world and the avatar of every user in it. Like User it
// belongs to the room tick goroutine.
type Room struct {
	world   World
	spawner Spawner
	users   map[domain.UserID]*User
	order   []domain.UserID
}

func NewRoom(opts RoomOptions) *Room {
	w := opts.World
	if w == nil {
		w = NewEngineWorld(Timestep)
	}
	level := opts.Level
	if level == nil {
		level = &Level{}
	}
	level.build(w, opts.Screens)

	sp := opts.Spawner
	if sp.Radius == 0 && sp.Height == 0 {
		sp.Radius, sp.Height = SpawnRadius, SpawnHeight
	}
	return &Room{world: w, spawner: sp, users: make(map[domain.UserID]*User)}
}

// AddUser creates a body at a sampled spawn point. Adding a present user
// returns the existing avatar.
func (r *Room) AddUser(id domain.UserID) *User {
	if u, ok := r.users[id]; ok {
		return u
	}
	u := newUser(id, r.world, r.spawner.Sample())
	r.users[id] = u
	r.order = append(r.order, id)
	return u
}

func (r *Room) User(id domain.UserID) (*User, bool) {
	u, ok := r.users[id]
	return u, ok
}

// RemoveUser is a no-op for unknown ids.
func (r *Room) RemoveUser(id domain.UserID) {
	u, ok := r.users[id]
	if !ok {
		return
	}
	u.dispose()
	delete(r.users, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Room) ApplyInput(id domain.UserID, in domain.Input) {
	if u, ok := r.users[id]; ok {
		u.ApplyInput(in)
	}
}

// Users returns the avatars in join order.
func (r *Room) Users() []*User {
	out := make([]*User, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.users[id])
	}
	return out
}

func (r *Room) Len() int { return len(r.users) }

// Step runs every user controller, then the world. A controller that panics
// or leaves its body in a non-finite state is reported through onError and
// respawned; the other users are unaffected.
func (r *Room) Step(onError func(domain.UserID, error)) {
	for _, id := range r.order {
		if err := r.stepUser(r.users[id]); err != nil && onError != nil {
			onError(id, err)
		}
	}
	r.world.Step()
	for _, id := range r.order {
		u := r.users[id]
		if !u.Healthy() {
			r.respawn(u)
			if onError != nil {
				onError(id, ErrUnstableBody)
			}
		}
	}
}

func (r *Room) stepUser(u *User) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("physics: user %s step panicked: %v", u.id, rec)
			r.respawn(u)
		}
	}()
	u.Step()
	return nil
}

func (r *Room) respawn(u *User) {
	p := r.spawner.Sample()
	u.SetPosition(domain.Vec3{X: p.X(), Y: p.Y(), Z: p.Z()})
	u.lastSent = nil
}

// Close removes every body.
func (r *Room) Close() {
	for _, u := range r.users {
		u.dispose()
	}
	r.users = make(map[domain.UserID]*User)
	r.order = nil
}
