package domain

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == KindAudio || k == KindVideo }

type SignalingEventType string

const (
	ProducerCreated SignalingEventType = "producer:created"
	ProducerPaused  SignalingEventType = "producer:paused"
	ProducerResumed SignalingEventType = "producer:resumed"
)

// SignalingEvent is pushed to every peer of RoomID except UserID.
type SignalingEvent struct {
	Type       SignalingEventType `json:"type"`
	RoomID     RoomID             `json:"-"`
	UserID     UserID             `json:"userId"`
	ProducerID ProducerID         `json:"producerId"`
}

// ProducerInfo is one entry of the getProducers listing.
type ProducerInfo struct {
	UserID     UserID     `json:"userId"`
	ProducerID ProducerID `json:"producerId"`
	Kind       MediaKind  `json:"kind"`
}
