// Package entity implements the status state machine shared by the
// notification, order and payment pipelines. Every status change goes
// through the fixed transition table; terminal entities are frozen.
package entity

import (
	"time"

	"github.com/google/uuid"
)

// Status of a pipeline entity.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
	StatusSucceeded  Status = "succeeded"
	StatusCancelled  Status = "cancelled"
)

// MaxRetries bounds both transport-level redelivery and business-level
// re-attempts of the side effect.
const MaxRetries = 3

// transitions is the authoritative edge set. A status absent from the map
// or mapped to an empty set is terminal.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusSucceeded:  true,
		StatusFailed:     true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusSucceeded: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusFailed: {
		StatusRetrying:  true,
		StatusCancelled: true,
	},
	StatusRetrying: {
		StatusProcessing: true,
		StatusSucceeded:  true,
		StatusFailed:     true,
		StatusCancelled:  true,
	},
	StatusSucceeded: {},
	StatusCancelled: {},
}

// Terminal reports whether the status has no outgoing edges.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether the table allows s -> to.
func (s Status) CanTransition(to Status) bool {
	return transitions[s][to]
}

// Kind distinguishes the three entity families that share this machine.
type Kind string

const (
	KindNotification Kind = "notification"
	KindOrder        Kind = "order"
	KindPayment      Kind = "payment"
)

// Entity is a persisted record of one side-effect attempt chain. The
// (CorrelationID, EventType, Channel) tuple is unique in storage and is
// the idempotency key for at-least-once delivery.
type Entity struct {
	ID               string
	Kind             Kind
	CorrelationID    string
	EventType        string
	Channel          string
	Status           Status
	Retries          int
	LastError        string
	ProviderRef      string
	ProviderResponse string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      time.Time
}

// New creates an entity in the initial pending status.
func New(kind Kind, correlationID, eventType, channel string) *Entity {
	now := time.Now().UTC()
	return &Entity{
		ID:            uuid.NewString(),
		Kind:          kind,
		CorrelationID: correlationID,
		EventType:     eventType,
		Channel:       channel,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsTerminal reports whether the entity reached a terminal status.
func (e *Entity) IsTerminal() bool {
	return e.Status.Terminal()
}

// CanBeModified is the inverse of IsTerminal.
func (e *Entity) CanBeModified() bool {
	return !e.IsTerminal()
}

// CanRetry holds iff the entity sits in the retryable failure status and
// its attempt budget is not exhausted.
func (e *Entity) CanRetry() bool {
	return e.Status == StatusFailed && e.Retries < MaxRetries
}

// changeStatus validates the edge against the transition table and applies
// it. The entity is left unchanged on an illegal call.
func (e *Entity) changeStatus(to Status) error {
	if !e.Status.CanTransition(to) {
		return &InvalidTransitionError{From: e.Status, To: to}
	}
	e.Status = to
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkProcessing moves pending/retrying -> processing and records the
// provider reference the attempt will run against.
func (e *Entity) MarkProcessing(providerRef string) error {
	if err := e.changeStatus(StatusProcessing); err != nil {
		return err
	}
	e.ProviderRef = providerRef
	return nil
}

// MarkSucceeded moves the entity to the success-terminal status, records
// the provider response and stamps completion.
func (e *Entity) MarkSucceeded(providerResponse string) error {
	if err := e.changeStatus(StatusSucceeded); err != nil {
		return err
	}
	e.ProviderResponse = providerResponse
	e.LastError = ""
	e.CompletedAt = e.UpdatedAt
	return nil
}

// MarkFailed records the failure reason and moves to the retryable
// failed status.
func (e *Entity) MarkFailed(reason string) error {
	if err := e.changeStatus(StatusFailed); err != nil {
		return err
	}
	e.LastError = reason
	return nil
}

// MarkRetrying moves failed -> retrying. It refuses with
// ErrMaxRetriesExceeded once the attempt budget is spent.
func (e *Entity) MarkRetrying() error {
	if e.Status == StatusFailed && e.Retries >= MaxRetries {
		return ErrMaxRetriesExceeded
	}
	return e.changeStatus(StatusRetrying)
}

// IncrementRetry bumps the attempt counter. Callers invoke it once per
// retry attempt, independently of the status change.
func (e *Entity) IncrementRetry() {
	e.Retries++
	e.UpdatedAt = time.Now().UTC()
}

// Cancel moves any non-terminal entity to the cancelled terminal status.
func (e *Entity) Cancel(reason string) error {
	if err := e.changeStatus(StatusCancelled); err != nil {
		return err
	}
	if reason != "" {
		e.LastError = reason
	}
	e.CompletedAt = e.UpdatedAt
	return nil
}
