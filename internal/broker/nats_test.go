package broker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/videoroom/internal/broker"
	"github.com/dkeye/videoroom/internal/broker/natstest"
	"github.com/dkeye/videoroom/internal/domain"
)

func connect(t *testing.T, url string, timeout time.Duration) *broker.NATS {
	t.Helper()
	c, err := broker.Connect(broker.Config{URL: url, Name: t.Name(), RequestTimeout: timeout})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRequestReply(t *testing.T) {
	url := natstest.Run(t)
	server := connect(t, url, time.Second)
	client := connect(t, url, time.Second)

	_, err := server.Subscribe(func(ctx context.Context, msg *broker.Message) {
		var req domain.RoomCreated
		require.NoError(t, msg.Decode(&req))
		assert.NotEmpty(t, msg.ID)
		assert.True(t, msg.IsRequest())
		_ = msg.Respond(domain.RoomCreatedReply{Success: req.RoomID == "r1"})
	}, domain.SubjectRoomCreated)
	require.NoError(t, err)
	require.NoError(t, server.Flush())

	var reply domain.RoomCreatedReply
	err = client.Request(context.Background(), domain.SubjectRoomCreated, domain.RoomCreated{RoomID: "r1"}, &reply)
	require.NoError(t, err)
	assert.True(t, reply.Success)
}

func TestRequestWithoutResponderIsRetryable(t *testing.T) {
	url := natstest.Run(t)
	client := connect(t, url, 200*time.Millisecond)

	err := client.Request(context.Background(), domain.SubjectRoomCreated, domain.RoomCreated{RoomID: "r1"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
}

func TestRequestTimeout(t *testing.T) {
	url := natstest.Run(t)
	server := connect(t, url, time.Second)
	client := connect(t, url, 100*time.Millisecond)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	_, err := server.Subscribe(func(ctx context.Context, msg *broker.Message) {
		<-release
	}, domain.SubjectRoomCreated)
	require.NoError(t, err)
	require.NoError(t, server.Flush())

	err = client.Request(context.Background(), domain.SubjectRoomCreated, domain.RoomCreated{RoomID: "r1"}, nil)
	assert.ErrorIs(t, err, domain.ErrUpstreamTimeout)
}

func TestSubscribeKeepsOrderAcrossSubjects(t *testing.T) {
	url := natstest.Run(t)
	sub := connect(t, url, time.Second)
	pub := connect(t, url, time.Second)

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	_, err := sub.Subscribe(func(ctx context.Context, msg *broker.Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg.Subject)
		if len(got) == 4 {
			close(done)
		}
	}, domain.RoomEvents...)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, domain.SubjectUserConnected, domain.UserConnected{UserID: "a", RoomID: "r1"}))
	require.NoError(t, pub.Publish(ctx, domain.SubjectUserDisconnected, domain.UserDisconnected{UserID: "a", RoomID: "r1"}))
	require.NoError(t, pub.Publish(ctx, domain.SubjectUserConnected, domain.UserConnected{UserID: "b", RoomID: "r1"}))
	require.NoError(t, pub.Publish(ctx, domain.SubjectRoomDisposed, domain.RoomDisposed{RoomID: "r1"}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for messages")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		domain.SubjectUserConnected,
		domain.SubjectUserDisconnected,
		domain.SubjectUserConnected,
		domain.SubjectRoomDisposed,
	}, got)
}

func TestRespondToPublishFails(t *testing.T) {
	url := natstest.Run(t)
	c := connect(t, url, time.Second)

	errs := make(chan error, 1)
	_, err := c.Subscribe(func(ctx context.Context, msg *broker.Message) {
		errs <- msg.Respond(struct{}{})
	}, domain.SubjectRoomDisposed)
	require.NoError(t, err)

	require.NoError(t, c.Publish(context.Background(), domain.SubjectRoomDisposed, domain.RoomDisposed{RoomID: "r1"}))
	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestCloseIsIdempotentForSubscriptions(t *testing.T) {
	url := natstest.Run(t)
	c, err := broker.Connect(broker.Config{URL: url, Name: "close"})
	require.NoError(t, err)

	sub, err := c.Subscribe(func(context.Context, *broker.Message) {}, domain.SubjectRoomDisposed)
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}
