package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/videoroom/internal/adapters/ws"
	"github.com/dkeye/videoroom/internal/auth"
	"github.com/dkeye/videoroom/internal/authority"
	"github.com/dkeye/videoroom/internal/domain"
)

// mediaSide acknowledges every room:created and records the rest.
type mediaSide struct {
	mu       sync.Mutex
	subjects []string
}

func (m *mediaSide) Publish(_ context.Context, subject string, _ any) error {
	m.mu.Lock()
	m.subjects = append(m.subjects, subject)
	m.mu.Unlock()
	return nil
}

func (m *mediaSide) Request(_ context.Context, subject string, _, reply any) error {
	m.mu.Lock()
	m.subjects = append(m.subjects, subject)
	m.mu.Unlock()
	if r, ok := reply.(*domain.RoomCreatedReply); ok {
		r.Success = true
	}
	return nil
}

func (m *mediaSide) seen(subject string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subjects {
		if s == subject {
			return true
		}
	}
	return false
}

type server struct {
	url     string
	auth    *auth.Manager
	manager *authority.Manager
	media   *mediaSide
}

func start(t *testing.T) *server {
	t.Helper()
	a := auth.NewManager(auth.Config{Secret: "test-secret"})
	media := &mediaSide{}
	m := authority.NewManager(authority.Config{Capacity: 2}, media)
	t.Cleanup(m.Close)

	h := ws.NewHandler(m, a, ws.Config{PongWait: 2 * time.Second, WriteTimeout: time.Second})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(context.Background(), w, r, "test")
	}))
	t.Cleanup(srv.Close)
	return &server{url: "ws" + strings.TrimPrefix(srv.URL, "http"), auth: a, manager: m, media: media}
}

func (s *server) dial(t *testing.T, user domain.UserID) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if user != "" {
		token, err := s.auth.Issue(domain.Identity{ID: user, Email: string(user) + "@example.com"}, time.Minute)
		require.NoError(t, err)
		header.Set("Authorization", "Bearer "+token)
	}
	c, _, err := websocket.DefaultDialer.Dial(s.url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sendJoin(t *testing.T, c *websocket.Conn, room string) {
	t.Helper()
	data, _ := json.Marshal(map[string]any{"roomId": room, "userColor": 0x00ff00})
	require.NoError(t, c.WriteJSON(authority.Frame{Type: ws.MsgJoin, Data: data}))
}

// readUntil returns the data of the first frame of type typ.
func readUntil(t *testing.T, c *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f authority.Frame
		require.NoError(t, c.ReadJSON(&f))
		if f.Type == typ {
			return f.Data
		}
	}
}

func TestJoinSendsSnapshot(t *testing.T) {
	s := start(t)
	c := s.dial(t, "A")
	sendJoin(t, c, "r1")

	var joined authority.RoomJoined
	require.NoError(t, json.Unmarshal(readUntil(t, c, authority.MsgRoomJoined), &joined))
	assert.Equal(t, domain.UserID("A"), joined.UserID)
	assert.Contains(t, joined.State.Users, domain.UserID("A"))
	assert.True(t, s.media.seen(domain.SubjectRoomCreated))
	assert.True(t, s.media.seen(domain.SubjectUserConnected))
}

func TestJoinWithoutToken(t *testing.T) {
	s := start(t)
	c := s.dial(t, "")
	sendJoin(t, c, "r1")

	var ef authority.ErrorFrame
	require.NoError(t, json.Unmarshal(readUntil(t, c, authority.MsgError), &ef))
	assert.Equal(t, domain.ReasonMissingAccessToken, ef.Reason)
	assert.Empty(t, s.manager.Rooms())
}

func TestSecondConnectionIsRejected(t *testing.T) {
	s := start(t)
	first := s.dial(t, "A")
	sendJoin(t, first, "r1")
	readUntil(t, first, authority.MsgRoomJoined)

	second := s.dial(t, "A")
	sendJoin(t, second, "r1")
	var ef authority.ErrorFrame
	require.NoError(t, json.Unmarshal(readUntil(t, second, authority.MsgError), &ef))
	assert.Equal(t, domain.ReasonUserAlreadyInRoom, ef.Reason)
}

func TestBadFrameGetsErrorAndKeepsSession(t *testing.T) {
	s := start(t)
	c := s.dial(t, "A")
	sendJoin(t, c, "r1")
	readUntil(t, c, authority.MsgRoomJoined)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport"}`)))
	var ef authority.ErrorFrame
	require.NoError(t, json.Unmarshal(readUntil(t, c, authority.MsgError), &ef))
	assert.Equal(t, "INVALID_REQUEST", ef.Code)

	_, ok := s.manager.Registry().Session("A")
	assert.True(t, ok)
}

func TestDisconnectLeavesRoom(t *testing.T) {
	s := start(t)
	c := s.dial(t, "A")
	sendJoin(t, c, "r1")
	readUntil(t, c, authority.MsgRoomJoined)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool {
		return s.media.seen(domain.SubjectRoomDisposed)
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.manager.Registry().Len())
}

func TestEvictionClosesSocket(t *testing.T) {
	s := start(t)
	c := s.dial(t, "A")
	sendJoin(t, c, "r1")
	readUntil(t, c, authority.MsgRoomJoined)

	require.True(t, s.manager.Evict("A", domain.ReasonSessionRevoked))
	var ef authority.ErrorFrame
	require.NoError(t, json.Unmarshal(readUntil(t, c, authority.MsgError), &ef))
	assert.Equal(t, domain.ReasonSessionRevoked, ef.Reason)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}
