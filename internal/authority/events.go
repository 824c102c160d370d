package authority

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/domain"
)

var errRoomUnavailable = domain.NewReasonError(domain.ErrUpstreamTimeout, domain.ReasonRoomUnavailable)

// Broker is the part of broker.Client the Authority talks through.
type Broker interface {
	Publish(ctx context.Context, subject string, payload any) error
	Request(ctx context.Context, subject string, payload, reply any) error
}

// Events emits the room lifecycle to the Media Session service.
type Events struct {
	broker Broker
}

func NewEvents(b Broker) *Events {
	return &Events{broker: b}
}

// RoomCreated blocks until the media side confirms router allocation. Any
// failure is ROOM_UNAVAILABLE; a timeout keeps its retryable kind.
func (e *Events) RoomCreated(ctx context.Context, room domain.RoomID) error {
	var reply domain.RoomCreatedReply
	err := e.broker.Request(ctx, domain.SubjectRoomCreated, domain.RoomCreated{RoomID: room}, &reply)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("room %s: %w: %v", room, errRoomUnavailable, err)
	}
	if !reply.Success {
		return fmt.Errorf("room %s: %w: media side refused: %s", room, errRoomUnavailable, reply.Error)
	}
	return nil
}

func (e *Events) RoomDisposed(ctx context.Context, room domain.RoomID) {
	e.publish(ctx, domain.SubjectRoomDisposed, domain.RoomDisposed{RoomID: room})
}

func (e *Events) UserConnected(ctx context.Context, user domain.UserID, room domain.RoomID) {
	e.publish(ctx, domain.SubjectUserConnected, domain.UserConnected{UserID: user, RoomID: room})
}

func (e *Events) UserDisconnected(ctx context.Context, user domain.UserID, room domain.RoomID) {
	e.publish(ctx, domain.SubjectUserDisconnected, domain.UserDisconnected{UserID: user, RoomID: room})
}

// publish is fire-and-forget; failures are only logged.
func (e *Events) publish(ctx context.Context, subject string, payload any) {
	if err := e.broker.Publish(ctx, subject, payload); err != nil {
		log.Error().Err(err).Str("module", "authority.events").Str("subject", subject).Msg("publish failed")
	}
}
