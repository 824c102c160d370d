package http

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/adapters/ws"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/media"
	"github.com/dkeye/videoroom/internal/metrics"
	"github.com/dkeye/videoroom/internal/signaling"
)

const eventKeepAlive = 15 * time.Second

// SFURouter serves the signaling RPCs and the event stream. Every route
// under /signaling needs a valid access token.
func SFURouter(cfg RouterConfig, svc *signaling.Service, a ws.Authenticator) *gin.Engine {
	r := newEngine(cfg)
	g := r.Group("/signaling", RequireIdentity(a))
	g.POST("/:rpc", rpcHandler(svc))
	g.GET("/events", eventsHandler(svc))

	log.Info().Str("module", "adapters.http").Str("service", "sfu").Msg("router setup")
	return r
}

func bind(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		return fmt.Errorf("bad body: %w", domain.ErrInvalidRequest)
	}
	return nil
}

func rpcHandler(svc *signaling.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		rpc := c.Param("rpc")
		uid := identityOf(c).ID
		ctx := c.Request.Context()

		var (
			resp any
			err  error
		)
		switch rpc {
		case signaling.RPCGetRtpCapabilities:
			resp, err = svc.RtpCapabilities(ctx, uid)

		case signaling.RPCCreateWebRtcTransport:
			var req signaling.CreateTransportRequest
			if err = bind(c, &req); err == nil {
				resp, err = svc.CreateWebRtcTransport(ctx, uid, req.IsProducer)
			}

		case signaling.RPCConnectWebRtcTransport:
			var req signaling.ConnectTransportRequest
			if err = bind(c, &req); err == nil {
				err = svc.ConnectWebRtcTransport(ctx, uid, req.TransportID, media.ConnectParams{
					DtlsParameters: req.DtlsParameters,
					IceParameters:  req.IceParameters,
					IceCandidates:  req.IceCandidates,
				})
				resp = gin.H{}
			}

		case signaling.RPCProduceWebRtcTransport:
			var req signaling.ProduceRequest
			if err = bind(c, &req); err == nil {
				var id domain.ProducerID
				id, err = svc.Produce(ctx, uid, media.ProduceParams{Kind: req.Kind, RtpParameters: req.RtpParameters})
				resp = signaling.ProduceResponse{ProducerID: id}
			}

		case signaling.RPCConsume:
			var req signaling.ConsumeRequest
			if err = bind(c, &req); err == nil {
				resp, err = svc.Consume(ctx, uid, req.ProducerID, req.RtpCapabilities)
			}

		case signaling.RPCConsumeResume:
			var req signaling.ConsumeResumeRequest
			if err = bind(c, &req); err == nil {
				err = svc.ConsumeResume(ctx, uid, req.ConsumerID)
				resp = gin.H{}
			}

		case signaling.RPCPauseProducer, signaling.RPCResumeProducer:
			var req signaling.KindRequest
			if err = bind(c, &req); err == nil {
				if rpc == signaling.RPCPauseProducer {
					err = svc.PauseProducer(ctx, uid, req.Kind)
				} else {
					err = svc.ResumeProducer(ctx, uid, req.Kind)
				}
				resp = gin.H{}
			}

		case signaling.RPCGetProducers:
			var list []domain.ProducerInfo
			list, err = svc.Producers(ctx, uid)
			resp = signaling.ProducersResponse{Producers: list}

		default:
			err = fmt.Errorf("unknown rpc %q: %w", rpc, domain.ErrNotFound)
		}

		if err != nil {
			metrics.SignalingErrors.WithLabelValues(rpc).Inc()
			log.Debug().Err(err).Str("module", "adapters.http").Str("rpc", rpc).Str("user", string(uid)).Msg("rpc failed")
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// eventsHandler streams the caller's room events as Server-Sent Events
// until the client goes away or the user leaves the room.
func eventsHandler(svc *signaling.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := identityOf(c).ID
		sub, err := svc.Subscribe(uid)
		if err != nil {
			abortWithError(c, err)
			return
		}
		defer svc.Hub().Unsubscribe(sub)

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		c.Writer.Flush()

		keepAlive := time.NewTicker(eventKeepAlive)
		defer keepAlive.Stop()
		c.Stream(func(io.Writer) bool {
			select {
			case ev := <-sub.Events():
				c.SSEvent("message", signaling.NewEventFrame(ev))
				return true
			case <-keepAlive.C:
				_, _ = c.Writer.WriteString(": keep-alive\n\n")
				return true
			case <-sub.Done():
				return false
			case <-c.Request.Context().Done():
				return false
			}
		})
		log.Debug().Str("module", "adapters.http").Str("user", string(uid)).Msg("event stream closed")
	}
}
