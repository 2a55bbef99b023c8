// Package event defines the domain event contract shared by every service
// on the bus: the wire envelope, the per-type payload union, and the
// encode/decode boundary where payload shapes are validated.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of domain event and doubles as the broker
// routing key.
type Type string

const (
	TypeOrderCreated     Type = "order.created"
	TypeOrderPaid        Type = "order.paid"
	TypeOrderCancelled   Type = "order.cancelled"
	TypePaymentSucceeded Type = "payment.succeeded"
	TypePaymentFailed    Type = "payment.failed"
	TypeUserCreated      Type = "user.created"
)

// ErrMalformed marks a message body that cannot be decoded into a known
// event shape. Malformed messages are terminal: retrying them can never
// succeed, so consumers dead-letter them immediately.
var ErrMalformed = errors.New("malformed event")

// Event is an immutable fact published for other services to react to.
// CorrelationID ties together all events and side-effect attempts of one
// logical business transaction and doubles as the idempotency key.
type Event struct {
	Type          Type
	ID            string
	Timestamp     time.Time
	CorrelationID string
	Payload       Payload
}

// New builds an event with a fresh id and the current timestamp.
func New(correlationID string, payload Payload) *Event {
	return &Event{
		Type:          payload.EventType(),
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       payload,
	}
}

// Validate checks the envelope invariants a publisher must satisfy.
func (e *Event) Validate() error {
	if e.Type == "" {
		return errors.New("event type must not be empty")
	}
	if e.ID == "" {
		return errors.New("event id must not be empty")
	}
	if e.CorrelationID == "" {
		return errors.New("correlation id must not be empty")
	}
	if e.Payload == nil {
		return errors.New("payload must not be nil")
	}
	if e.Payload.EventType() != e.Type {
		return fmt.Errorf("payload type %q does not match event type %q", e.Payload.EventType(), e.Type)
	}
	return nil
}

// envelope is the wire form of an event.
type envelope struct {
	EventType     Type            `json:"eventType"`
	EventID       string          `json:"eventId"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
}

// Marshal encodes the event as the wire envelope.
func (e *Event) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return json.Marshal(envelope{
		EventType:     e.Type,
		EventID:       e.ID,
		Timestamp:     e.Timestamp,
		CorrelationID: e.CorrelationID,
		Payload:       payload,
	})
}

// Unmarshal decodes a wire envelope and resolves the payload union by
// event type. All schema validation happens here, once, so handlers
// downstream work with concrete types.
func Unmarshal(body []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.EventID == "" || env.CorrelationID == "" {
		return nil, fmt.Errorf("%w: missing eventId or correlationId", ErrMalformed)
	}

	payload, err := decodePayload(env.EventType, env.Payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		Type:          env.EventType,
		ID:            env.EventID,
		Timestamp:     env.Timestamp,
		CorrelationID: env.CorrelationID,
		Payload:       payload,
	}, nil
}
