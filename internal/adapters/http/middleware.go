package http

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/adapters/ws"
	"github.com/dkeye/videoroom/internal/domain"
)

const (
	sessionName    = "videoroom"
	keyClientID    = "client_id"
	keyIdentity    = "identity"
	clientIDMaxAge = 3600 * 24 * 7
)

// ClientSession keeps a random per-browser id in a signed cookie session.
// It only correlates log lines across reconnects.
func ClientSession(secret string) []gin.HandlerFunc {
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", MaxAge: clientIDMaxAge, HttpOnly: true})
	return []gin.HandlerFunc{sessions.Sessions(sessionName, store), clientID}
}

func clientID(c *gin.Context) {
	s := sessions.Default(c)
	id, _ := s.Get(keyClientID).(string)
	if id == "" {
		id = uuid.NewString()
		s.Set(keyClientID, id)
		if err := s.Save(); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("save client session")
		}
	}
	c.Set(keyClientID, id)
	c.Next()
}

// RequireIdentity verifies the caller's access token and stores the
// identity on the context.
func RequireIdentity(a ws.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := a.Authenticate(c.Request)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(keyIdentity, identity)
		c.Next()
	}
}

func identityOf(c *gin.Context) domain.Identity {
	v, _ := c.Get(keyIdentity)
	id, _ := v.(domain.Identity)
	return id
}
