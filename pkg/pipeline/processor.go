package pipeline

import (
	"context"
	"errors"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-eventbus/pkg/entity"
	"github.com/zoff-tech/go-eventbus/pkg/event"
	"github.com/zoff-tech/go-eventbus/pkg/store"
)

// Processor is the "create and send" use case: it guards on the
// idempotency key, materializes the state-machine entity, invokes the
// side-effect port and persists the outcome. At-least-once delivery is
// safe because a redelivered event either finds a terminal entity (no-op)
// or resumes the non-terminal one it crashed on.
type Processor struct {
	repo     store.EntityRepository
	guard    *Guard
	provider Provider
	kind     entity.Kind
	channel  string
	tracer   trace.Tracer
}

func NewProcessor(repo store.EntityRepository, provider Provider, kind entity.Kind, channel string) *Processor {
	return &Processor{
		repo:     repo,
		guard:    NewGuard(repo),
		provider: provider,
		kind:     kind,
		channel:  channel,
		tracer:   otel.Tracer("go-eventbus"),
	}
}

// Process applies the event exactly once per idempotency key.
func (p *Processor) Process(ctx context.Context, evt *event.Event) (*entity.Entity, error) {
	ctx, span := p.tracer.Start(ctx, "ProcessEvent", trace.WithAttributes(
		attribute.String("event.id", evt.ID),
		attribute.String("event.type", string(evt.Type)),
		attribute.String("event.correlation_id", evt.CorrelationID),
		attribute.String("entity.kind", string(p.kind)),
	))
	defer span.End()

	e, err := p.guard.FindExisting(ctx, evt.CorrelationID, string(evt.Type), p.channel)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if e == nil {
		e = entity.New(p.kind, evt.CorrelationID, string(evt.Type), p.channel)
		if err := p.repo.Insert(ctx, e); err != nil {
			if !errors.Is(err, store.ErrDuplicateKey) {
				span.RecordError(err)
				return nil, err
			}
			// Lost the race against another consumer instance; their row
			// is authoritative.
			e, err = p.repo.FindByCorrelation(ctx, evt.CorrelationID, string(evt.Type), p.channel)
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
		}
	}

	if e.IsTerminal() {
		// Redelivery of an already-completed effect (crash before ack):
		// return the existing entity, never touch the provider again.
		span.SetAttributes(attribute.String("entity.status", string(e.Status)))
		return e, nil
	}

	result, err := p.attempt(ctx, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// attempt drives the entity through one side-effect attempt, persisting
// the outcome unconditionally so state survives even when the caller
// fails afterwards.
func (p *Processor) attempt(ctx context.Context, e *entity.Entity) (*entity.Entity, error) {
	if e.Status == entity.StatusFailed {
		// A redelivered message found an entity whose earlier attempt
		// failed; re-drive it under the same budget as a business retry.
		if !e.CanRetry() {
			return e, ErrNotRetryable
		}
		if err := e.MarkRetrying(); err != nil {
			return e, err
		}
		e.IncrementRetry()
		if err := p.repo.Update(ctx, e); err != nil {
			return e, err
		}
	}

	if e.Status != entity.StatusProcessing {
		if err := e.MarkProcessing(p.provider.Name()); err != nil {
			return e, err
		}
		if err := p.repo.Update(ctx, e); err != nil {
			return e, err
		}
	}

	resp, invokeErr := invokeProvider(ctx, p.provider, e)
	if invokeErr != nil {
		if markErr := e.MarkFailed(invokeErr.Error()); markErr != nil {
			log.Printf("Failed to mark entity %s failed: %v", e.ID, markErr)
		}
	} else {
		if markErr := e.MarkSucceeded(resp); markErr != nil {
			log.Printf("Failed to mark entity %s succeeded: %v", e.ID, markErr)
		}
	}

	// Persist before propagating: the failure must be durable on the
	// entity even if the caller then nacks or crashes.
	if err := p.repo.Update(ctx, e); err != nil {
		return e, err
	}

	if invokeErr != nil {
		if isTerminal(invokeErr) {
			return e, invokeErr
		}
		return e, &ProviderError{Err: invokeErr}
	}
	return e, nil
}

func isTerminal(err error) bool {
	var t interface{ Terminal() bool }
	return errors.As(err, &t) && t.Terminal()
}
