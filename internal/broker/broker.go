// Package broker is the only channel between the Room Authority and the
// Media Session service: publish, request-reply with a bounded wait, and
// ordered subscriptions over NATS.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
)

// Client is what both services depend on.
type Client interface {
	Publish(ctx context.Context, subject string, payload any) error
	Request(ctx context.Context, subject string, payload, reply any) error
	Subscribe(handler Handler, subjects ...string) (*Subscription, error)
	Close() error
}

// Handler receives messages one at a time, in delivery order.
type Handler func(ctx context.Context, msg *Message)

// Envelope wraps every payload on the wire.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Pattern string          `json:"pattern"`
	Data    json.RawMessage `json:"data"`
}

type Message struct {
	Subject string
	ID      string
	Data    json.RawMessage

	respond func([]byte) error
}

// Decode unmarshals the envelope data into v.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("empty payload on %s", m.Subject)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Subject, err)
	}
	return nil
}

// IsRequest reports whether the sender waits for Respond.
func (m *Message) IsRequest() bool { return m.respond != nil }

// Respond answers a request message. Responding to a plain publish is an error.
func (m *Message) Respond(payload any) error {
	if m.respond == nil {
		return fmt.Errorf("message on %s has no reply subject", m.Subject)
	}
	data, err := encode(m.Subject, m.ID, payload)
	if err != nil {
		return err
	}
	return m.respond(data)
}

func encode(subject, id string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	return json.Marshal(Envelope{ID: id, Pattern: subject, Data: data})
}

func decodeEnvelope(subject string, raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode %s envelope: %w", subject, err)
	}
	return env, nil
}
