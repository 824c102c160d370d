package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapters "github.com/dkeye/videoroom/internal/adapters/http"
	"github.com/dkeye/videoroom/internal/adapters/ws"
	"github.com/dkeye/videoroom/internal/auth"
	"github.com/dkeye/videoroom/internal/authority"
	"github.com/dkeye/videoroom/internal/directory"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/media"
	"github.com/dkeye/videoroom/internal/media/mediatest"
	"github.com/dkeye/videoroom/internal/signaling"
)

type sfu struct {
	handler http.Handler
	auth    *auth.Manager
}

func newSFU(t *testing.T) *sfu {
	t.Helper()
	pool := media.NewPool(mediatest.NewEngine(), media.PoolConfig{Workers: 1})
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() { _ = pool.Close() })
	dir := directory.New(pool)
	require.NoError(t, dir.CreateRoom(context.Background(), "r1"))
	for _, u := range []domain.UserID{"A", "B"} {
		_, err := dir.AddUser(u, "r1")
		require.NoError(t, err)
	}
	svc := signaling.NewService(pool, dir, signaling.Config{})
	t.Cleanup(svc.Close)

	a := auth.NewManager(auth.Config{Secret: "s3cret"})
	return &sfu{handler: adapters.SFURouter(adapters.RouterConfig{Mode: "test"}, svc, a), auth: a}
}

func (s *sfu) token(t *testing.T, user domain.UserID) string {
	t.Helper()
	tok, err := s.auth.Issue(domain.Identity{ID: user, Email: string(user) + "@example.com"}, time.Minute)
	require.NoError(t, err)
	return tok
}

func (s *sfu) call(t *testing.T, user domain.UserID, rpc string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/signaling/"+rpc, strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.AddCookie(&http.Cookie{Name: auth.DefaultCookieName, Value: s.token(t, user)})
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorBody struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func TestRPCNeedsToken(t *testing.T) {
	s := newSFU(t)
	w := s.call(t, "", signaling.RPCGetRtpCapabilities, struct{}{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, errorBody{Code: "AUTH_FAILED", Reason: domain.ReasonMissingAccessToken}, decode[errorBody](t, w))
}

func TestRPCForUnknownUser(t *testing.T) {
	s := newSFU(t)
	w := s.call(t, "Z", signaling.RPCGetRtpCapabilities, struct{}{})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.call(t, "A", "teleport", struct{}{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRPCFlow(t *testing.T) {
	s := newSFU(t)

	w := s.call(t, "A", signaling.RPCGetRtpCapabilities, struct{}{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[media.RtpCapabilities](t, w).Codecs, 3)

	w = s.call(t, "A", signaling.RPCCreateWebRtcTransport, signaling.CreateTransportRequest{IsProducer: true})
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[media.TransportInfo](t, w)
	assert.NotEmpty(t, info.ID)

	w = s.call(t, "A", signaling.RPCCreateWebRtcTransport, signaling.CreateTransportRequest{IsProducer: true})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.call(t, "A", signaling.RPCConnectWebRtcTransport, signaling.ConnectTransportRequest{
		TransportID:    info.ID,
		DtlsParameters: media.DtlsParameters{Fingerprints: []media.DtlsFingerprint{{Algorithm: "sha-256", Value: "AB"}}},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.call(t, "A", signaling.RPCProduceWebRtcTransport, signaling.ProduceRequest{Kind: domain.KindVideo})
	require.Equal(t, http.StatusOK, w.Code)
	prod := decode[signaling.ProduceResponse](t, w).ProducerID

	w = s.call(t, "B", signaling.RPCGetProducers, struct{}{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []domain.ProducerInfo{{UserID: "A", ProducerID: prod, Kind: domain.KindVideo}}, decode[signaling.ProducersResponse](t, w).Producers)

	w = s.call(t, "B", signaling.RPCConsumeResume, signaling.ConsumeResumeRequest{ConsumerID: "not-mine"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.call(t, "A", signaling.RPCPauseProducer, signaling.KindRequest{Kind: domain.KindVideo})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEventStream(t *testing.T) {
	s := newSFU(t)
	srv := httptest.NewServer(s.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/signaling/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token(t, "B"))
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Equal(t, http.StatusOK, s.call(t, "A", signaling.RPCCreateWebRtcTransport, signaling.CreateTransportRequest{IsProducer: true}).Code)
	w := s.call(t, "A", signaling.RPCProduceWebRtcTransport, signaling.ProduceRequest{Kind: domain.KindAudio})
	require.Equal(t, http.StatusOK, w.Code)
	prod := decode[signaling.ProduceResponse](t, w).ProducerID

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data:")
		if !ok {
			continue
		}
		var f signaling.EventFrame
		require.NoError(t, json.Unmarshal([]byte(data), &f))
		assert.Equal(t, domain.ProducerCreated, f.Type)
		assert.Equal(t, signaling.EventData{UserID: "A", ProducerID: prod}, f.Data)
		return
	}
	t.Fatalf("stream ended without an event: %v", sc.Err())
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{auth.ErrMissingToken, http.StatusUnauthorized},
		{domain.NewReasonError(domain.ErrAuthFailed, domain.ReasonUserAlreadyInRoom), http.StatusConflict},
		{domain.ErrUserAlreadyInRoom, http.StatusConflict},
		{fmt.Errorf("x: %w", domain.ErrNotJoined), http.StatusNotFound},
		{domain.ErrRoomFull, http.StatusConflict},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrUpstreamTimeout, http.StatusServiceUnavailable},
		{domain.ErrInvalidRequest, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, adapters.StatusOf(tc.err), tc.err.Error())
	}
}

type noBroker struct{}

func (noBroker) Publish(context.Context, string, any) error      { return nil }
func (noBroker) Request(context.Context, string, any, any) error { return nil }

func TestAuthorityRoutes(t *testing.T) {
	m := authority.NewManager(authority.Config{}, noBroker{})
	t.Cleanup(m.Close)
	a := auth.NewManager(auth.Config{Secret: "s3cret"})
	ready := errors.New("broker down")
	r := adapters.AuthorityRouter(context.Background(), adapters.RouterConfig{
		Mode:   "test",
		Secret: "cookie-secret",
		Ready:  func() error { return ready },
	}, m, ws.NewHandler(m, a, ws.Config{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"rooms":[]}`, w.Body.String())
	assert.Contains(t, w.Header().Get("Set-Cookie"), "videoroom=")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ready = nil
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "videoroom_rooms_active")
}
