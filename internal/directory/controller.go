package directory

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/broker"
	"github.com/dkeye/videoroom/internal/domain"
)

// Controller feeds the directory from the room lifecycle subjects.
type Controller struct {
	dir    *Directory
	sub    *broker.Subscription
	logger zerolog.Logger
}

func NewController(dir *Directory) *Controller {
	return &Controller{
		dir:    dir,
		logger: log.With().Str("module", "directory.controller").Logger(),
	}
}

// Start subscribes to every room event on one ordered subscription.
func (c *Controller) Start(b broker.Client) error {
	sub, err := b.Subscribe(c.Handle, domain.RoomEvents...)
	if err != nil {
		return err
	}
	c.sub = sub
	return nil
}

func (c *Controller) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Unsubscribe()
}

// Handle applies one lifecycle message.
func (c *Controller) Handle(ctx context.Context, msg *broker.Message) {
	switch msg.Subject {
	case domain.SubjectRoomCreated:
		var ev domain.RoomCreated
		if err := msg.Decode(&ev); err != nil {
			c.logger.Error().Err(err).Msg("bad room:created")
			c.reply(msg, domain.RoomCreatedReply{Error: err.Error()})
			return
		}
		reply := domain.RoomCreatedReply{Success: true}
		if err := c.dir.CreateRoom(ctx, ev.RoomID); err != nil {
			c.logger.Error().Err(err).Str("room", string(ev.RoomID)).Msg("router allocation failed")
			reply = domain.RoomCreatedReply{Error: err.Error()}
		}
		c.reply(msg, reply)

	case domain.SubjectRoomDisposed:
		var ev domain.RoomDisposed
		if err := msg.Decode(&ev); err != nil {
			c.logger.Error().Err(err).Msg("bad room:disposed")
			return
		}
		c.dir.DisposeRoom(ev.RoomID)

	case domain.SubjectUserConnected:
		var ev domain.UserConnected
		if err := msg.Decode(&ev); err != nil {
			c.logger.Error().Err(err).Msg("bad user:connected")
			return
		}
		// unknown rooms are logged by AddUser
		_, _ = c.dir.AddUser(ev.UserID, ev.RoomID)

	case domain.SubjectUserDisconnected:
		var ev domain.UserDisconnected
		if err := msg.Decode(&ev); err != nil {
			c.logger.Error().Err(err).Msg("bad user:disconnected")
			return
		}
		if u, err := c.dir.User(ev.UserID); err == nil && u.RoomID() != ev.RoomID {
			c.logger.Warn().Str("user", string(ev.UserID)).Str("room", string(ev.RoomID)).Msg("disconnect for a room the user already left")
			return
		}
		c.dir.RemoveUser(ev.UserID)

	default:
		c.logger.Warn().Str("subject", msg.Subject).Msg("unexpected subject")
	}
}

func (c *Controller) reply(msg *broker.Message, r domain.RoomCreatedReply) {
	if !msg.IsRequest() {
		return
	}
	if err := msg.Respond(r); err != nil {
		c.logger.Warn().Err(err).Msg("reply failed")
	}
}
