package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkeye/videoroom/internal/domain"
)

func TestHubFilters(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe("r1", "A")
	b := h.Subscribe("r1", "B")
	other := h.Subscribe("r2", "C")

	n := h.Publish(domain.SignalingEvent{Type: domain.ProducerCreated, RoomID: "r1", UserID: "A", ProducerID: "p1"})
	assert.Equal(t, 1, n)
	assert.Len(t, b.ch, 1)
	assert.Empty(t, a.ch)
	assert.Empty(t, other.ch)
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub(1)
	b := h.Subscribe("r1", "B")
	ev := domain.SignalingEvent{Type: domain.ProducerPaused, RoomID: "r1", UserID: "A"}

	assert.Equal(t, 1, h.Publish(ev))
	assert.Equal(t, 0, h.Publish(ev))
	assert.Len(t, b.ch, 1)
}

func TestHubCloseOwner(t *testing.T) {
	h := NewHub(0)
	stale, fresh := new(int), new(int)
	b1 := h.SubscribeOwned(stale, "r1", "B")
	b2 := h.SubscribeOwned(stale, "r1", "B")
	rejoined := h.SubscribeOwned(fresh, "r1", "B")
	c := h.Subscribe("r1", "C")

	h.CloseOwner(stale)
	h.CloseOwner(nil)
	for _, s := range []*Subscriber{b1, b2} {
		select {
		case <-s.Done():
		default:
			t.Fatal("stream of the stale entry still open")
		}
	}
	select {
	case <-rejoined.Done():
		t.Fatal("stream of the new entry was closed")
	default:
	}
	assert.Equal(t, 2, h.Len())

	h.Unsubscribe(rejoined)
	h.Unsubscribe(c)
	h.Unsubscribe(c)
	assert.Equal(t, 0, h.Len())
}

func TestEventFrame(t *testing.T) {
	f := NewEventFrame(domain.SignalingEvent{Type: domain.ProducerResumed, RoomID: "r1", UserID: "A", ProducerID: "p"})
	assert.Equal(t, EventFrame{Type: domain.ProducerResumed, Data: EventData{UserID: "A", ProducerID: "p"}}, f)
}
