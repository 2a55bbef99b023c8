package pipeline

import (
	"context"
	"errors"

	"github.com/zoff-tech/go-eventbus/pkg/entity"
	"github.com/zoff-tech/go-eventbus/pkg/store"
)

// Guard answers "has this effect already been applied?" for a correlation
// key. The lookup is an optimization only; the storage-level unique
// constraint is what actually protects against racing duplicates.
type Guard struct {
	repo store.EntityRepository
}

func NewGuard(repo store.EntityRepository) *Guard {
	return &Guard{repo: repo}
}

// FindExisting returns the entity holding the (correlationID, eventType,
// channel) key, or nil when none exists.
func (g *Guard) FindExisting(ctx context.Context, correlationID, eventType, channel string) (*entity.Entity, error) {
	e, err := g.repo.FindByCorrelation(ctx, correlationID, eventType, channel)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}
