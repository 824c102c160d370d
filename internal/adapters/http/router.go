// Package http builds the gin engines of both services.
package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/adapters/ws"
	"github.com/dkeye/videoroom/internal/authority"
)

type RouterConfig struct {
	Mode   string
	Secret string
	// Ready reports whether the service can take traffic; nil means always.
	Ready func() error
}

func newEngine(cfg RouterConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}
	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		if cfg.Ready != nil {
			if err := cfg.Ready(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// AuthorityRouter serves the client socket and the room listing.
func AuthorityRouter(ctx context.Context, cfg RouterConfig, m *authority.Manager, h *ws.Handler) *gin.Engine {
	r := newEngine(cfg)
	r.Use(ClientSession(cfg.Secret)...)

	r.GET("/ws", func(c *gin.Context) {
		h.Serve(ctx, c.Writer, c.Request, c.GetString(keyClientID))
	})

	api := r.Group("/api")
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": m.Rooms()})
	})

	log.Info().Str("module", "adapters.http").Str("service", "authority").Msg("router setup")
	return r
}
