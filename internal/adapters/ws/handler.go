package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/authority"
	"github.com/dkeye/videoroom/internal/domain"
)

// MsgJoin is the first frame a client sends.
const MsgJoin = "room:join"

type joinRequest struct {
	RoomID domain.RoomID `json:"roomId"`
	domain.JoinOptions
}

// Authenticator resolves the caller of an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (domain.Identity, error)
}

// Handler upgrades client connections and runs the join protocol on them.
type Handler struct {
	manager  *authority.Manager
	auth     Authenticator
	cfg      Config
	upgrader websocket.Upgrader
}

func NewHandler(m *authority.Manager, auth Authenticator, cfg Config) *Handler {
	cfg.withDefaults()
	return &Handler{
		manager: m,
		auth:    auth,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve takes over the request. clientID only tags the log lines.
func (h *Handler) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, clientID string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.ws").Msg("ws upgrade")
		return
	}
	logger := log.With().Str("module", "adapters.ws").Str("client", clientID).Logger()
	conn := newConn(ws, h.cfg, logger)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.writePump(ctx)
	}()
	defer func() {
		conn.Close()
		select {
		case <-done:
		case <-time.After(h.cfg.WriteTimeout):
		}
		cancel()
	}()

	sess, err := h.join(ctx, r, conn)
	if err != nil {
		logger.Info().Err(err).Msg("join failed")
		_ = conn.TrySend(authority.EncodeError(err))
		return
	}
	logger = logger.With().Str("user", string(sess.UserID())).Str("room", string(sess.RoomID())).Logger()
	logger.Info().Int("slot", sess.Slot()).Msg("joined")

	conn.readPump(func(data []byte) {
		if err := sess.HandleMessage(data); err != nil {
			logger.Debug().Err(err).Msg("message rejected")
			_ = conn.TrySend(authority.EncodeError(err))
		}
	})
	sess.Leave()
	logger.Info().Msg("left")
}

// join reads the join frame, then authenticates, prepares and admits.
func (h *Handler) join(ctx context.Context, r *http.Request, conn *Conn) (*authority.Session, error) {
	data, err := conn.readFirst(h.cfg.PongWait)
	if err != nil {
		return nil, fmt.Errorf("no join frame: %w", domain.ErrInvalidRequest)
	}
	var f authority.Frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != MsgJoin {
		return nil, fmt.Errorf("expected %s: %w", MsgJoin, domain.ErrInvalidRequest)
	}
	var req joinRequest
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &req); err != nil {
			return nil, fmt.Errorf("bad join payload: %w", domain.ErrInvalidRequest)
		}
	}
	if req.RoomID == "" {
		req.RoomID = domain.RoomID(r.URL.Query().Get("roomId"))
	}

	identity, err := h.auth.Authenticate(r)
	if err != nil {
		return nil, err
	}
	ticket, err := h.manager.Prepare(ctx, req.RoomID, identity)
	if err != nil {
		return nil, err
	}
	sess, err := ticket.Admit(conn, req.JoinOptions)
	if err != nil {
		return nil, err
	}
	return sess, nil
}
