package pion

import (
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/media"
)

type Consumer struct {
	hooks
	id       domain.ConsumerID
	producer *Producer
	sender   *webrtc.RTPSender
	sink     *sink
	params   media.RtpParameters
	logger   zerolog.Logger
}

func newConsumer(id domain.ConsumerID, t *Transport, p *Producer, sender *webrtc.RTPSender, track *webrtc.TrackLocalStaticRTP, paused bool) *Consumer {
	c := &Consumer{
		id:       id,
		producer: p,
		sender:   sender,
		sink:     &sink{track: track},
		params:   sendParameters(string(id), sender.GetParameters(), p.codec),
	}
	if paused {
		c.sink.set(sinkPaused)
	}
	c.logger = t.logger.With().Str("consumer", string(id)).Str("producer", string(p.id)).Logger()
	return c
}

func (c *Consumer) start() {
	if c.isClosed() {
		return
	}
	if err := c.sender.Send(c.sender.GetParameters()); err != nil {
		c.logger.Warn().Err(err).Msg("send failed")
		_ = c.Close()
		return
	}
	c.producer.relay.add(c.id, c.sink)
	go c.readRTCP()
	c.logger.Info().Msg("consumer sending")
}

// readRTCP forwards the client's keyframe requests to the producer.
func (c *Consumer) readRTCP() {
	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				_ = c.producer.requestKeyFrame()
			}
		}
	}
}

func (c *Consumer) ID() domain.ConsumerID              { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID      { return c.producer.id }
func (c *Consumer) Kind() domain.MediaKind             { return c.producer.kind }
func (c *Consumer) RtpParameters() media.RtpParameters { return c.params }
func (c *Consumer) Paused() bool                       { return c.sink.get() == sinkPaused }

func (c *Consumer) Resume() error {
	if c.isClosed() {
		return domain.ErrNotFound
	}
	c.sink.set(sinkActive)
	return nil
}

// RequestKeyFrame asks the producing client for a fresh keyframe.
func (c *Consumer) RequestKeyFrame() error {
	if c.producer.kind != domain.KindVideo {
		return nil
	}
	return c.producer.requestKeyFrame()
}

func (c *Consumer) Close() error {
	if !c.markClosed() {
		return nil
	}
	c.sink.set(sinkClosed)
	c.producer.relay.remove(c.id)
	if err := c.sender.Stop(); err != nil {
		c.logger.Debug().Err(err).Msg("sender stop")
	}
	c.fire()
	c.logger.Info().Msg("consumer closed")
	return nil
}

func (c *Consumer) OnClose(fn func()) { c.onClose(fn) }
