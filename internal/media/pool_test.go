package media_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/media"
	"github.com/dkeye/videoroom/internal/media/mediatest"
)

func startPool(t *testing.T, workers int, strategy media.Strategy) (*media.Pool, *mediatest.Engine) {
	t.Helper()
	engine := mediatest.NewEngine()
	p := media.NewPool(engine, media.PoolConfig{Workers: workers, Strategy: strategy})
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Close() })
	return p, engine
}

var connect = media.ConnectParams{
	DtlsParameters: media.DtlsParameters{Fingerprints: []media.DtlsFingerprint{{Algorithm: "sha-256", Value: "AB"}}},
}

func TestStartFailureIsFatal(t *testing.T) {
	engine := mediatest.NewEngine()
	engine.FailWorker = 2
	p := media.NewPool(engine, media.PoolConfig{Workers: 4})

	err := p.Start(context.Background())
	require.ErrorIs(t, err, domain.ErrFatalSetup)
	for _, w := range engine.Workers() {
		assert.True(t, w.Closed(), "worker %s left running", w.ID())
	}
	_, err = p.Worker()
	assert.ErrorIs(t, err, domain.ErrFatalSetup)
}

func TestRoundRobinStrategy(t *testing.T) {
	p, engine := startPool(t, 3, media.StrategyFor("round_robin"))
	for i := 0; i < 6; i++ {
		_, err := p.CreateRouter(context.Background())
		require.NoError(t, err)
	}
	for _, w := range engine.Workers() {
		assert.Equal(t, 2, w.Routers(), w.ID())
	}
}

func TestRandomStrategyStaysInRange(t *testing.T) {
	s := media.StrategyFor("random")
	for i := 0; i < 100; i++ {
		n := s.Pick(3)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, 3)
	}
}

func TestCapabilitiesCachedFromFirstRouter(t *testing.T) {
	p, _ := startPool(t, 1, nil)
	_, err := p.RtpCapabilities()
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = p.CreateRouter(context.Background())
	require.NoError(t, err)
	caps, err := p.RtpCapabilities()
	require.NoError(t, err)
	require.Len(t, caps.Codecs, 3)
	assert.Equal(t, "audio/opus", caps.Codecs[0].MimeType)
	assert.Equal(t, "video/VP8", caps.Codecs[1].MimeType)
	assert.Equal(t, "video/H264", caps.Codecs[2].MimeType)
	assert.Equal(t, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", caps.Codecs[2].FmtpLine())
}

func TestProduceConsumeLifecycle(t *testing.T) {
	ctx := context.Background()
	p, _ := startPool(t, 1, nil)
	r, err := p.CreateRouter(ctx)
	require.NoError(t, err)

	send, err := p.CreateTransport(ctx, r.ID(), media.TransportOptions{Producing: true})
	require.NoError(t, err)
	recv, err := p.CreateTransport(ctx, r.ID(), media.TransportOptions{})
	require.NoError(t, err)
	require.NoError(t, p.ConnectTransport(ctx, send.ID(), connect))
	assert.ErrorIs(t, p.ConnectTransport(ctx, "missing", connect), domain.ErrNotFound)

	prod, err := p.Produce(ctx, send.ID(), media.ProduceParams{Kind: domain.KindVideo})
	require.NoError(t, err)

	caps, _ := p.RtpCapabilities()
	cons, err := p.Consume(ctx, r.ID(), recv.ID(), media.ConsumeParams{ProducerID: prod.ID(), RtpCapabilities: caps, Paused: true})
	require.NoError(t, err)
	assert.True(t, cons.Paused())
	assert.Equal(t, prod.ID(), media.InfoOf(cons).ProducerID)

	_, err = p.Consume(ctx, r.ID(), recv.ID(), media.ConsumeParams{ProducerID: prod.ID()})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest, "no codec in common")

	// Closing the producer takes its consumers along.
	p.DisposeProducer(prod.ID())
	_, err = p.Consumer(cons.ID())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, cons.(*mediatest.Consumer).Closed())
	assert.Equal(t, map[string]int{"router": 1, "transport": 2, "producer": 0, "consumer": 0}, p.Counts())
}

func TestDisposeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, _ := startPool(t, 1, nil)
	r, _ := p.CreateRouter(ctx)
	tr, _ := p.CreateTransport(ctx, r.ID(), media.TransportOptions{Producing: true})
	prod, _ := p.Produce(ctx, tr.ID(), media.ProduceParams{Kind: domain.KindAudio})

	for i := 0; i < 2; i++ {
		p.DisposeProducer(prod.ID())
		p.DisposeConsumer("nope")
		p.DisposeTransport(tr.ID())
		p.DisposeRouter(r.ID())
	}
	assert.Equal(t, map[string]int{"router": 0, "transport": 0, "producer": 0, "consumer": 0}, p.Counts())
}

func TestEngineSideCloseIsPruned(t *testing.T) {
	ctx := context.Background()
	p, _ := startPool(t, 1, nil)
	r, _ := p.CreateRouter(ctx)
	send, _ := p.CreateTransport(ctx, r.ID(), media.TransportOptions{Producing: true})
	recv, _ := p.CreateTransport(ctx, r.ID(), media.TransportOptions{})
	prod, _ := p.Produce(ctx, send.ID(), media.ProduceParams{Kind: domain.KindAudio})
	caps, _ := p.RtpCapabilities()
	_, err := p.Consume(ctx, r.ID(), recv.ID(), media.ConsumeParams{ProducerID: prod.ID(), RtpCapabilities: caps})
	require.NoError(t, err)

	// The network side drops the send transport.
	require.NoError(t, send.Close())
	assert.Equal(t, map[string]int{"router": 1, "transport": 1, "producer": 0, "consumer": 0}, p.Counts())
}

func TestDisposeRouterCascades(t *testing.T) {
	ctx := context.Background()
	p, _ := startPool(t, 2, nil)
	r1, _ := p.CreateRouter(ctx)
	r2, _ := p.CreateRouter(ctx)
	t1, _ := p.CreateTransport(ctx, r1.ID(), media.TransportOptions{})
	t2, _ := p.CreateTransport(ctx, r2.ID(), media.TransportOptions{})

	p.DisposeRouter(r1.ID())
	_, err := p.Transport(t1.ID())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = p.Transport(t2.ID())
	assert.NoError(t, err)
	_, err = p.CreateTransport(ctx, r1.ID(), media.TransportOptions{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
