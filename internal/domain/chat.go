package domain

const MaxChatMessageLength = 1000

type ChatMessageType string

const (
	ChatUser   ChatMessageType = "user"
	ChatSystem ChatMessageType = "system"
)

// ChatMessage is what the Authority rebroadcasts; Timestamp is unix milliseconds.
type ChatMessage struct {
	Type      ChatMessageType `json:"type"`
	UserID    UserID          `json:"userId,omitempty"`
	Message   string          `json:"message"`
	Timestamp int64           `json:"timestamp"`
}
