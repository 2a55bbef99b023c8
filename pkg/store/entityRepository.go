// Package store provides the persistence port for pipeline entities and
// its PostgreSQL, MongoDB and Cloud Spanner backends.
package store

import (
	"context"
	"errors"

	"github.com/zoff-tech/go-eventbus/pkg/entity"
)

var (
	// ErrNotFound indicates no entity matches the lookup.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateKey indicates the storage-level unique constraint on
	// (correlation_id, event_type, channel) rejected an insert. Callers
	// treat it as "already processed" and reload the existing row.
	ErrDuplicateKey = errors.New("duplicate idempotency key")
)

// EntityRepository defines the database operations for pipeline entities.
type EntityRepository interface {
	// Insert persists a new entity. Returns ErrDuplicateKey when another
	// entity already holds the same (correlationID, eventType, channel).
	Insert(ctx context.Context, e *entity.Entity) error
	// Update persists the mutable fields of an existing entity.
	Update(ctx context.Context, e *entity.Entity) error
	// GetByID loads an entity by primary key.
	GetByID(ctx context.Context, id string) (*entity.Entity, error)
	// FindByCorrelation loads the entity holding the idempotency key, or
	// ErrNotFound when none exists.
	FindByCorrelation(ctx context.Context, correlationID, eventType, channel string) (*entity.Entity, error)
	// FetchRetryable returns entities with status=failed and a remaining
	// attempt budget, oldest first.
	FetchRetryable(ctx context.Context, limit int) ([]*entity.Entity, error)
}
