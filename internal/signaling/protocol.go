package signaling

import (
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/media"
)

// RPC names as they appear on the wire.
const (
	RPCGetRtpCapabilities     = "getRtpCapabilities"
	RPCCreateWebRtcTransport  = "createWebRtcTransport"
	RPCConnectWebRtcTransport = "connectWebRtcTransport"
	RPCProduceWebRtcTransport = "produceWebRtcTransport"
	RPCConsume                = "consume"
	RPCConsumeResume          = "consumeResume"
	RPCPauseProducer          = "pauseProducer"
	RPCResumeProducer         = "resumeProducer"
	RPCGetProducers           = "getProducers"
)

type CreateTransportRequest struct {
	IsProducer bool `json:"isProducer"`
}

type ConnectTransportRequest struct {
	TransportID    domain.TransportID   `json:"transportId"`
	DtlsParameters media.DtlsParameters `json:"dtlsParameters"`
	IceParameters  *media.IceParameters `json:"iceParameters,omitempty"`
	IceCandidates  []media.IceCandidate `json:"iceCandidates,omitempty"`
}

type ProduceRequest struct {
	Kind          domain.MediaKind    `json:"kind"`
	RtpParameters media.RtpParameters `json:"rtpParameters"`
}

type ProduceResponse struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type ConsumeRequest struct {
	ProducerID      domain.ProducerID     `json:"producerId"`
	RtpCapabilities media.RtpCapabilities `json:"rtpCapabilities"`
}

type ConsumeResumeRequest struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

type KindRequest struct {
	Kind domain.MediaKind `json:"kind"`
}

type ProducersResponse struct {
	Producers []domain.ProducerInfo `json:"producers"`
}

// EventFrame is how a push event is written to the stream.
type EventFrame struct {
	Type domain.SignalingEventType `json:"type"`
	Data EventData                 `json:"data"`
}

type EventData struct {
	UserID     domain.UserID     `json:"userId"`
	ProducerID domain.ProducerID `json:"producerId"`
}

func NewEventFrame(ev domain.SignalingEvent) EventFrame {
	return EventFrame{Type: ev.Type, Data: EventData{UserID: ev.UserID, ProducerID: ev.ProducerID}}
}
