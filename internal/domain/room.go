package domain

type (
	RoomID      string
	RouterID    string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

// JoinOptions is what a client sends along with its join request.
type JoinOptions struct {
	UserColor uint32 `json:"userColor"`
}

// RoomInfo is a read-only view for the room listing API.
type RoomInfo struct {
	ID       RoomID `json:"id"`
	Users    int    `json:"users"`
	Capacity int    `json:"capacity"`
}
