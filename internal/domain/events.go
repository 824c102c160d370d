package domain

// Broker subjects shared by the Authority and the Media Session service.
const (
	SubjectRoomCreated      = "room:created"
	SubjectRoomDisposed     = "room:disposed"
	SubjectUserConnected    = "user:connected"
	SubjectUserDisconnected = "user:disconnected"
	SubjectSessionRevoked   = "session:revoked"
)

// RoomEvents lists the lifecycle subjects in the order they are subscribed.
var RoomEvents = []string{
	SubjectRoomCreated,
	SubjectRoomDisposed,
	SubjectUserConnected,
	SubjectUserDisconnected,
}

type RoomCreated struct {
	RoomID RoomID `json:"roomId"`
}

// RoomCreatedReply is sent back only after the router is allocated.
type RoomCreatedReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type RoomDisposed struct {
	RoomID RoomID `json:"roomId"`
}

type UserConnected struct {
	UserID UserID `json:"userId"`
	RoomID RoomID `json:"roomId"`
}

type UserDisconnected struct {
	UserID UserID `json:"userId"`
	RoomID RoomID `json:"roomId"`
}

type SessionRevoked struct {
	UserID UserID `json:"userId"`
}
