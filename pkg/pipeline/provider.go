package pipeline

import (
	"context"
	"fmt"

	"github.com/zoff-tech/go-eventbus/pkg/entity"
)

// Provider is the side-effect port: send a notification, charge a payment
// provider, reserve stock. Implementations live outside this module.
type Provider interface {
	// Name identifies the provider; recorded on the entity as the
	// provider reference.
	Name() string
	// Invoke performs the side effect for the entity and returns the raw
	// provider response. Invoke may be called more than once per entity
	// across retries.
	Invoke(ctx context.Context, e *entity.Entity) (string, error)
}

// invokeProvider shields callers from provider panics; a panicking
// provider is treated as a failed attempt.
func invokeProvider(ctx context.Context, p Provider, e *entity.Entity) (resp string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	return p.Invoke(ctx, e)
}
