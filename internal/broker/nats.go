package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/dkeye/videoroom/internal/domain"
)

const (
	DefaultRequestTimeout = 5 * time.Second
	subscriptionBuffer    = 256
	drainTimeout          = 10 * time.Second
)

type Config struct {
	URL            string
	Name           string
	RequestTimeout time.Duration
	// Queue, when set, makes every subscription a queue subscription so that
	// replicas share the load.
	Queue string
}

// NATS implements Client over a single NATS connection.
type NATS struct {
	nc      *nats.Conn
	timeout time.Duration
	queue   string
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed chan struct{}

	mu   sync.Mutex
	subs []*Subscription
	wg   sync.WaitGroup
}

// Connect dials the broker. The connection keeps retrying in the background
// if the first attempt fails.
func Connect(cfg Config) (*NATS, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	logger := log.With().Str("module", "broker").Str("url", cfg.URL).Logger()
	closed := make(chan struct{})

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			close(closed)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger.Info().Msg("connected")
	return &NATS{
		nc:      nc,
		timeout: cfg.RequestTimeout,
		queue:   cfg.Queue,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		closed:  closed,
	}, nil
}

// Publish is fire-and-forget.
func (c *NATS) Publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(subject, "", payload)
	if err != nil {
		return err
	}
	if err := c.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	c.logger.Debug().Str("subject", subject).Msg("published")
	return nil
}

// Request sends payload and waits for one reply, bounded by the configured
// timeout. Expiry and missing responders both wrap domain.ErrUpstreamTimeout:
// callers retry, they never read it as "does not exist".
func (c *NATS) Request(ctx context.Context, subject string, payload, reply any) error {
	id := uuid.NewString()
	data, err := encode(subject, id, payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
		return fmt.Errorf("request %s (%s): %w", subject, id, domain.ErrUpstreamTimeout)
	case errors.Is(err, nats.ErrNoResponders):
		return fmt.Errorf("request %s (%s): no responders: %w", subject, id, domain.ErrUpstreamTimeout)
	default:
		return fmt.Errorf("request %s (%s): %w", subject, id, err)
	}

	env, err := decodeEnvelope(subject, msg.Data)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", subject, err)
	}
	return nil
}

// Subscribe delivers every message published on any of subjects to handler,
// sequentially and in connection order. All subjects share one channel, so a
// message published after another is never handled before it.
func (c *NATS) Subscribe(handler Handler, subjects ...string) (*Subscription, error) {
	if len(subjects) == 0 {
		return nil, fmt.Errorf("subscribe: no subjects")
	}
	s := &Subscription{
		ch:   make(chan *nats.Msg, subscriptionBuffer),
		stop: make(chan struct{}),
	}
	for _, subject := range subjects {
		var (
			sub *nats.Subscription
			err error
		)
		if c.queue != "" {
			sub, err = c.nc.ChanQueueSubscribe(subject, c.queue, s.ch)
		} else {
			sub, err = c.nc.ChanSubscribe(subject, s.ch)
		}
		if err != nil {
			_ = s.Unsubscribe()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		s.loop(c.ctx, handler, c.logger)
	}()
	c.logger.Info().Strs("subjects", subjects).Str("queue", c.queue).Msg("subscribed")
	return s, nil
}

// Close drains subscriptions, waits for in-flight handlers and releases the
// connection.
func (c *NATS) Close() error {
	var err error
	if !c.nc.IsClosed() {
		if derr := c.nc.Drain(); derr != nil {
			err = multierr.Append(err, fmt.Errorf("drain: %w", derr))
			c.nc.Close()
		}
	}
	select {
	case <-c.closed:
	case <-time.After(drainTimeout):
		c.nc.Close()
		err = multierr.Append(err, fmt.Errorf("drain timed out after %s", drainTimeout))
	}

	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, s := range subs {
		s.halt()
	}
	c.wg.Wait()
	c.cancel()
	c.logger.Info().Msg("connection closed")
	return err
}

// Flush blocks until the server has processed everything sent so far,
// including subscriptions registered by Subscribe.
func (c *NATS) Flush() error {
	return c.nc.Flush()
}

// IsConnected reports whether the connection is currently up.
func (c *NATS) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

type Subscription struct {
	subs []*nats.Subscription
	ch   chan *nats.Msg
	stop chan struct{}
	once sync.Once
}

// Unsubscribe stops delivery. Messages already buffered are still handled.
func (s *Subscription) Unsubscribe() error {
	var err error
	for _, sub := range s.subs {
		if sub.IsValid() {
			err = multierr.Append(err, sub.Unsubscribe())
		}
	}
	s.halt()
	return err
}

func (s *Subscription) halt() {
	s.once.Do(func() {
		if s.stop != nil {
			close(s.stop)
		}
	})
}

func (s *Subscription) loop(ctx context.Context, handler Handler, logger zerolog.Logger) {
	for {
		select {
		case m := <-s.ch:
			dispatch(ctx, handler, m, logger)
		case <-s.stop:
			for {
				select {
				case m := <-s.ch:
					dispatch(ctx, handler, m, logger)
				default:
					return
				}
			}
		}
	}
}

func dispatch(ctx context.Context, handler Handler, m *nats.Msg, logger zerolog.Logger) {
	env, err := decodeEnvelope(m.Subject, m.Data)
	if err != nil {
		logger.Error().Err(err).Str("subject", m.Subject).Msg("dropping malformed message")
		return
	}
	msg := &Message{Subject: m.Subject, ID: env.ID, Data: env.Data}
	if m.Reply != "" {
		msg.respond = m.Respond
	}
	handler(ctx, msg)
}
