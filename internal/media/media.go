// Package media is the Media Router Pool: a set of engine workers, the
// routers allocated on them and every transport, producer and consumer
// created through them, keyed by id.
package media

import (
	"context"

	"github.com/dkeye/videoroom/internal/domain"
)

// Engine is the media transport engine.
type Engine interface {
	CreateWorker(ctx context.Context, index int) (Worker, error)
}

type Worker interface {
	ID() string
	CreateRouter(ctx context.Context, codecs []RtpCodecCapability) (Router, error)
	Close() error
}

type Router interface {
	ID() domain.RouterID
	RtpCapabilities() RtpCapabilities
	CreateWebRtcTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	// CanConsume reports whether producerID lives on this router and can be
	// sent to a client with caps.
	CanConsume(producerID domain.ProducerID, caps RtpCapabilities) bool
	Close() error
}

// Transport is one WebRTC transport. Close is idempotent; OnClose runs once
// whichever side closed it.
type Transport interface {
	ID() domain.TransportID
	Info() TransportInfo
	Connect(ctx context.Context, params ConnectParams) error
	Produce(ctx context.Context, params ProduceParams) (Producer, error)
	Consume(ctx context.Context, params ConsumeParams) (Consumer, error)
	Close() error
	OnClose(fn func())
}

type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Paused() bool
	Pause() error
	Resume() error
	Close() error
	OnClose(fn func())
}

type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	RtpParameters() RtpParameters
	Paused() bool
	Resume() error
	RequestKeyFrame() error
	Close() error
	OnClose(fn func())
}
