// Package directory mirrors the Authority's rooms and users inside the
// Media Session service. It is written only from room lifecycle events and
// owns which media resources belong to which user.
package directory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/media"
	"github.com/dkeye/videoroom/internal/metrics"
)

// RouterPool is the part of the media pool the directory drives.
type RouterPool interface {
	CreateRouter(ctx context.Context) (media.Router, error)
	DisposeRouter(id domain.RouterID)
	DisposeTransport(id domain.TransportID)
	DisposeProducer(id domain.ProducerID)
	DisposeConsumer(id domain.ConsumerID)
}

type Room struct {
	ID       domain.RoomID
	RouterID domain.RouterID
	users    map[domain.UserID]*User
}

type Directory struct {
	pool RouterPool

	mu        sync.RWMutex
	rooms     map[domain.RoomID]*Room
	users     map[domain.UserID]*User
	listeners []func(*User)
}

func New(pool RouterPool) *Directory {
	return &Directory{
		pool:  pool,
		rooms: make(map[domain.RoomID]*Room),
		users: make(map[domain.UserID]*User),
	}
}

// OnUserRemoved registers fn to run after a user's resources are released.
func (d *Directory) OnUserRemoved(fn func(*User)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// CreateRoom allocates a router for id. A room that already exists is left
// alone and reported as success.
func (d *Directory) CreateRoom(ctx context.Context, id domain.RoomID) error {
	d.mu.RLock()
	_, exists := d.rooms[id]
	d.mu.RUnlock()
	if exists {
		log.Debug().Str("module", "directory").Str("room", string(id)).Msg("room already present")
		return nil
	}

	router, err := d.pool.CreateRouter(ctx)
	if err != nil {
		return fmt.Errorf("room %s: %w", id, err)
	}

	d.mu.Lock()
	if _, exists = d.rooms[id]; !exists {
		d.rooms[id] = &Room{ID: id, RouterID: router.ID(), users: make(map[domain.UserID]*User)}
		metrics.RoomsActive.Inc()
	}
	d.mu.Unlock()
	if exists {
		d.pool.DisposeRouter(router.ID())
		return nil
	}
	log.Info().Str("module", "directory").Str("room", string(id)).Str("router", string(router.ID())).Msg("room created")
	return nil
}

// DisposeRoom releases every user of the room and its router. Unknown ids
// are a no-op.
func (d *Directory) DisposeRoom(id domain.RoomID) {
	d.mu.Lock()
	room, ok := d.rooms[id]
	var users []*User
	if ok {
		delete(d.rooms, id)
		for uid, u := range room.users {
			users = append(users, u)
			delete(d.users, uid)
		}
		metrics.RoomsActive.Dec()
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	for _, u := range users {
		d.release(u)
	}
	d.pool.DisposeRouter(room.RouterID)
	log.Info().Str("module", "directory").Str("room", string(id)).Int("users", len(users)).Msg("room disposed")
}

// AddUser registers a user in an existing room. A stale entry for the same
// user id is released first.
func (d *Directory) AddUser(userID domain.UserID, roomID domain.RoomID) (*User, error) {
	d.mu.Lock()
	room, ok := d.rooms[roomID]
	if !ok {
		d.mu.Unlock()
		log.Warn().Str("module", "directory").Str("room", string(roomID)).Str("user", string(userID)).Msg("user for unknown room dropped")
		return nil, fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	stale := d.detachLocked(userID)
	u := newUser(userID, room.ID, room.RouterID)
	room.users[userID] = u
	d.users[userID] = u
	metrics.UsersActive.Inc()
	d.mu.Unlock()

	if stale != nil {
		d.release(stale)
	}
	log.Info().Str("module", "directory").Str("room", string(roomID)).Str("user", string(userID)).Msg("user added")
	return u, nil
}

// RemoveUser releases the user's resources. Unknown ids are a no-op.
func (d *Directory) RemoveUser(userID domain.UserID) {
	d.mu.Lock()
	u := d.detachLocked(userID)
	d.mu.Unlock()
	if u == nil {
		return
	}
	d.release(u)
	log.Info().Str("module", "directory").Str("room", string(u.room)).Str("user", string(userID)).Msg("user removed")
}

func (d *Directory) detachLocked(userID domain.UserID) *User {
	u, ok := d.users[userID]
	if !ok {
		return nil
	}
	delete(d.users, userID)
	if room, ok := d.rooms[u.room]; ok {
		delete(room.users, userID)
	}
	metrics.UsersActive.Dec()
	return u
}

// release marks u gone and disposes everything it owned. Consumers go first
// so that producers are never torn down under a live consumer record.
func (d *Directory) release(u *User) {
	res, ok := u.retire()
	if !ok {
		return
	}
	for cid := range res.Consumers {
		d.pool.DisposeConsumer(cid)
	}
	for _, pid := range res.Producers {
		d.pool.DisposeProducer(pid)
	}
	if res.SendTransport != "" {
		d.pool.DisposeTransport(res.SendTransport)
	}
	if res.RecvTransport != "" {
		d.pool.DisposeTransport(res.RecvTransport)
	}

	d.mu.RLock()
	listeners := slices.Clone(d.listeners)
	d.mu.RUnlock()
	for _, fn := range listeners {
		fn(u)
	}
}

// User returns the live directory user. A missing user is ErrNotJoined.
func (d *Directory) User(id domain.UserID) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotJoined)
	}
	return u, nil
}

func (d *Directory) Room(id domain.RoomID) (*Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[id]
	return r, ok
}

// Peers lists the users of roomID other than except.
func (d *Directory) Peers(roomID domain.RoomID, except domain.UserID) []*User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*User, 0, len(room.users))
	for id, u := range room.users {
		if id != except {
			out = append(out, u)
		}
	}
	return out
}

// Len reports rooms and users.
func (d *Directory) Len() (rooms, users int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms), len(d.users)
}

// Close disposes every room.
func (d *Directory) Close() {
	d.mu.RLock()
	ids := make([]domain.RoomID, 0, len(d.rooms))
	for id := range d.rooms {
		ids = append(ids, id)
	}
	d.mu.RUnlock()
	for _, id := range ids {
		d.DisposeRoom(id)
	}
}
