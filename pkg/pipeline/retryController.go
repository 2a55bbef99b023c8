package pipeline

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-eventbus/pkg/entity"
	"github.com/zoff-tech/go-eventbus/pkg/store"
)

// RetryController re-attempts the side effect of entities persisted in
// the failed status. This is business-level retry, distinct from
// transport-level message redelivery: it operates on durable records, not
// in-flight messages, and is driven by operators or a periodic job.
type RetryController struct {
	repo     store.EntityRepository
	provider Provider
	tracer   trace.Tracer
}

func NewRetryController(repo store.EntityRepository, provider Provider) *RetryController {
	return &RetryController{
		repo:     repo,
		provider: provider,
		tracer:   otel.Tracer("go-eventbus"),
	}
}

// Retry re-attempts a single failed entity. It fails with
// store.ErrNotFound when the id is unknown and ErrNotRetryable when the
// status or attempt count forbids a retry; the entity is unchanged in
// both cases.
func (c *RetryController) Retry(ctx context.Context, entityID string) (e *entity.Entity, retErr error) {
	ctx, span := c.tracer.Start(ctx, "RetryEntity", trace.WithAttributes(
		attribute.String("entity.id", entityID),
	))
	defer span.End()
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
	}()

	e, err := c.repo.GetByID(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if !e.CanRetry() {
		return e, ErrNotRetryable
	}

	if err := e.MarkRetrying(); err != nil {
		return e, err
	}
	e.IncrementRetry()
	// Persist the retrying status before touching the provider: a crash
	// mid-attempt leaves a durable record instead of a silently lost one.
	if err := c.repo.Update(ctx, e); err != nil {
		return e, err
	}

	// Persist the outcome no matter how the attempt ends.
	defer func() {
		if err := c.repo.Update(ctx, e); err != nil {
			log.Printf("Failed to persist entity %s after retry attempt: %v", e.ID, err)
			if retErr == nil {
				retErr = err
			}
		}
	}()

	resp, invokeErr := invokeProvider(ctx, c.provider, e)
	if invokeErr != nil {
		if markErr := e.MarkFailed(invokeErr.Error()); markErr != nil {
			log.Printf("Failed to mark entity %s failed: %v", e.ID, markErr)
		}
		return e, &ProviderError{Err: invokeErr}
	}

	if err := e.MarkSucceeded(resp); err != nil {
		return e, err
	}
	return e, nil
}

// RetryEligible scans for failed entities with remaining budget, oldest
// first, and retries each independently. Individual failures are logged
// and skipped so one poisoned entity cannot stall the batch.
func (c *RetryController) RetryEligible(ctx context.Context, limit int) (int, error) {
	ctx, span := c.tracer.Start(ctx, "RetryEligible", trace.WithAttributes(
		attribute.Int("limit", limit),
	))
	defer span.End()

	entities, err := c.repo.FetchRetryable(ctx, limit)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	succeeded := 0
	for _, e := range entities {
		if _, err := c.Retry(ctx, e.ID); err != nil {
			log.Printf("Retry of entity %s failed: %v", e.ID, err)
			continue
		}
		succeeded++
	}

	span.SetAttributes(
		attribute.Int("entities.scanned", len(entities)),
		attribute.Int("entities.succeeded", succeeded),
	)
	return succeeded, nil
}
