package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

// NewEnvelope wraps payload for the wire. correlationID is the order id or
// client id the event is about.
func NewEnvelope(eventType, producer, correlationID string, payload any) (orders.Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return orders.Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// UnwrapPayload decodes an envelope's payload into T.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

// DecodeChange reads a change envelope. The envelope's event id wins over the
// payload's so redeliveries of one message dedup together.
func DecodeChange(b []byte) (orders.ChangeEvent, error) {
	var env orders.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return orders.ChangeEvent{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType != orders.EventOrderChanged {
		return orders.ChangeEvent{}, fmt.Errorf("unexpected event type %q", env.EventType)
	}
	ev, err := UnwrapPayload[orders.ChangeEvent](env.Payload)
	if err != nil {
		return orders.ChangeEvent{}, err
	}
	if env.EventID != "" {
		ev.EventID = env.EventID
	}
	return ev, nil
}
