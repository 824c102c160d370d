package directory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/videoroom/internal/broker"
	"github.com/dkeye/videoroom/internal/broker/natstest"
	"github.com/dkeye/videoroom/internal/directory"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/media"
	"github.com/dkeye/videoroom/internal/media/mediatest"
)

func startPool(t *testing.T) *media.Pool {
	t.Helper()
	p := media.NewPool(mediatest.NewEngine(), media.PoolConfig{Workers: 1})
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// publish gives u a send transport with a producer of kind and returns the
// producer id.
func publish(t *testing.T, p *media.Pool, u *directory.User, kind domain.MediaKind) domain.ProducerID {
	t.Helper()
	ctx := context.Background()
	var id domain.ProducerID
	require.NoError(t, u.Do(func(res *directory.Resources) error {
		tr, err := p.CreateTransport(ctx, u.RouterID(), media.TransportOptions{Producing: true})
		if err != nil {
			return err
		}
		res.SetTransport(true, tr.ID())
		prod, err := p.Produce(ctx, tr.ID(), media.ProduceParams{Kind: kind})
		if err != nil {
			return err
		}
		res.Producers[kind] = prod.ID()
		id = prod.ID()
		return nil
	}))
	return id
}

func subscribe(t *testing.T, p *media.Pool, u *directory.User, producer domain.ProducerID) domain.ConsumerID {
	t.Helper()
	ctx := context.Background()
	caps, err := p.RtpCapabilities()
	require.NoError(t, err)
	var id domain.ConsumerID
	require.NoError(t, u.Do(func(res *directory.Resources) error {
		tr, err := p.CreateTransport(ctx, u.RouterID(), media.TransportOptions{})
		if err != nil {
			return err
		}
		res.SetTransport(false, tr.ID())
		c, err := p.Consume(ctx, u.RouterID(), tr.ID(), media.ConsumeParams{ProducerID: producer, RtpCapabilities: caps, Paused: true})
		if err != nil {
			return err
		}
		res.Consumers[c.ID()] = producer
		id = c.ID()
		return nil
	}))
	return id
}

func TestCreateRoomTwiceKeepsOneRouter(t *testing.T) {
	p := startPool(t)
	d := directory.New(p)
	require.NoError(t, d.CreateRoom(context.Background(), "r1"))
	require.NoError(t, d.CreateRoom(context.Background(), "r1"))

	assert.Equal(t, 1, p.Counts()["router"])
	rooms, users := d.Len()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 0, users)
}

func TestMissingEntriesAreDistinct(t *testing.T) {
	d := directory.New(startPool(t))

	_, err := d.AddUser("A", "nowhere")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = d.User("A")
	assert.ErrorIs(t, err, domain.ErrNotJoined)
	assert.NotErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRemoveUserDisposesResources(t *testing.T) {
	p := startPool(t)
	d := directory.New(p)
	require.NoError(t, d.CreateRoom(context.Background(), "r1"))
	a, err := d.AddUser("A", "r1")
	require.NoError(t, err)
	b, err := d.AddUser("B", "r1")
	require.NoError(t, err)

	prod := publish(t, p, a, domain.KindVideo)
	subscribe(t, p, b, prod)
	assert.Equal(t, map[string]int{"router": 1, "transport": 2, "producer": 1, "consumer": 1}, p.Counts())

	var removed []domain.UserID
	d.OnUserRemoved(func(u *directory.User) { removed = append(removed, u.ID()) })

	d.RemoveUser("B")
	d.RemoveUser("B")
	assert.Equal(t, map[string]int{"router": 1, "transport": 1, "producer": 1, "consumer": 0}, p.Counts())
	assert.Equal(t, []domain.UserID{"B"}, removed)
	assert.ErrorIs(t, b.Do(func(*directory.Resources) error { return nil }), domain.ErrNotJoined)
	assert.True(t, b.Gone())

	peers := d.Peers("r1", "B")
	require.Len(t, peers, 1)
	assert.Equal(t, domain.UserID("A"), peers[0].ID())
}

func TestDisposeRoomIsIdempotent(t *testing.T) {
	p := startPool(t)
	d := directory.New(p)
	require.NoError(t, d.CreateRoom(context.Background(), "r1"))
	a, _ := d.AddUser("A", "r1")
	b, _ := d.AddUser("B", "r1")
	prod := publish(t, p, a, domain.KindAudio)
	subscribe(t, p, b, prod)

	d.DisposeRoom("r1")
	d.DisposeRoom("r1")

	assert.Equal(t, map[string]int{"router": 0, "transport": 0, "producer": 0, "consumer": 0}, p.Counts())
	rooms, users := d.Len()
	assert.Zero(t, rooms)
	assert.Zero(t, users)
	assert.True(t, a.Gone())
	assert.True(t, b.Gone())
}

func TestRejoinReleasesStaleUser(t *testing.T) {
	p := startPool(t)
	d := directory.New(p)
	require.NoError(t, d.CreateRoom(context.Background(), "r1"))
	old, _ := d.AddUser("A", "r1")
	publish(t, p, old, domain.KindAudio)

	fresh, err := d.AddUser("A", "r1")
	require.NoError(t, err)
	assert.True(t, old.Gone())
	assert.False(t, fresh.Gone())
	assert.Equal(t, 0, p.Counts()["producer"])
	assert.Empty(t, fresh.Snapshot().Producers)
}

func TestControllerFollowsLifecycle(t *testing.T) {
	url := natstest.Run(t)
	sfu, err := broker.Connect(broker.Config{URL: url, Name: "sfu", RequestTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sfu.Close() })
	authority, err := broker.Connect(broker.Config{URL: url, Name: "authority", RequestTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = authority.Close() })

	p := startPool(t)
	d := directory.New(p)
	c := directory.NewController(d)
	require.NoError(t, c.Start(sfu))
	t.Cleanup(func() { _ = c.Stop() })
	require.NoError(t, sfu.Flush())

	ctx := context.Background()
	var reply domain.RoomCreatedReply
	require.NoError(t, authority.Request(ctx, domain.SubjectRoomCreated, domain.RoomCreated{RoomID: "r1"}, &reply))
	assert.True(t, reply.Success)
	assert.Equal(t, 1, p.Counts()["router"], "router exists once the reply arrives")

	require.NoError(t, authority.Publish(ctx, domain.SubjectUserConnected, domain.UserConnected{UserID: "A", RoomID: "r1"}))
	require.NoError(t, authority.Publish(ctx, domain.SubjectUserConnected, domain.UserConnected{UserID: "ghost", RoomID: "r9"}))
	require.Eventually(t, func() bool {
		_, err := d.User("A")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	_, err = d.User("ghost")
	assert.ErrorIs(t, err, domain.ErrNotJoined)

	require.NoError(t, authority.Publish(ctx, domain.SubjectUserDisconnected, domain.UserDisconnected{UserID: "A", RoomID: "r1"}))
	require.NoError(t, authority.Publish(ctx, domain.SubjectRoomDisposed, domain.RoomDisposed{RoomID: "r1"}))
	require.Eventually(t, func() bool {
		rooms, users := d.Len()
		return rooms == 0 && users == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, p.Counts()["router"])
}

func TestControllerRepliesFailure(t *testing.T) {
	// an unstarted pool cannot allocate routers
	p := media.NewPool(mediatest.NewEngine(), media.PoolConfig{Workers: 1})
	c := directory.NewController(directory.New(p))

	url := natstest.Run(t)
	sfu, err := broker.Connect(broker.Config{URL: url, Name: "sfu"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sfu.Close() })
	require.NoError(t, c.Start(sfu))
	require.NoError(t, sfu.Flush())

	var reply domain.RoomCreatedReply
	require.NoError(t, sfu.Request(context.Background(), domain.SubjectRoomCreated, domain.RoomCreated{RoomID: "r1"}, &reply))
	assert.False(t, reply.Success)
	assert.NotEmpty(t, reply.Error)
}
