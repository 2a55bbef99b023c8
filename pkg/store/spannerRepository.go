package store

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/spanner"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/zoff-tech/go-eventbus/pkg/entity"
)

type SpannerRepository struct {
	client *spanner.Client
}

func NewSpannerRepository(client *spanner.Client) *SpannerRepository {
	return &SpannerRepository{client: client}
}

const spannerEntityColumns = `id, kind, correlation_id, event_type, channel, status, retries,
       last_error, provider_ref, provider_response, created_at, updated_at, completed_at`

func (s *SpannerRepository) Insert(ctx context.Context, e *entity.Entity) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Insert")
	defer span.End()

	start := time.Now()
	m := spanner.Insert("pipeline_entities",
		[]string{"id", "kind", "correlation_id", "event_type", "channel", "status",
			"retries", "last_error", "provider_ref", "provider_response",
			"created_at", "updated_at", "completed_at"},
		[]interface{}{e.ID, string(e.Kind), e.CorrelationID, e.EventType, e.Channel,
			string(e.Status), int64(e.Retries), e.LastError, e.ProviderRef,
			e.ProviderResponse, e.CreatedAt, e.UpdatedAt, spannerNullTime(e.CompletedAt)})
	if _, err := s.client.Apply(ctx, []*spanner.Mutation{m}); err != nil {
		// The unique index on the idempotency key surfaces as AlreadyExists.
		if spanner.ErrCode(err) == codes.AlreadyExists {
			return ErrDuplicateKey
		}
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, "spanner", "Insert", 1, time.Since(start))
	return nil
}

func (s *SpannerRepository) Update(ctx context.Context, e *entity.Entity) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Update")
	defer span.End()

	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		stmt := spanner.Statement{
			SQL: `UPDATE pipeline_entities
                  SET status = @status, retries = @retries, last_error = @lastError,
                      provider_ref = @providerRef, provider_response = @providerResponse,
                      updated_at = @updatedAt, completed_at = @completedAt
                  WHERE id = @id`,
			Params: map[string]interface{}{
				"status":           string(e.Status),
				"retries":          int64(e.Retries),
				"lastError":        e.LastError,
				"providerRef":      e.ProviderRef,
				"providerResponse": e.ProviderResponse,
				"updatedAt":        e.UpdatedAt,
				"completedAt":      spannerNullTime(e.CompletedAt),
				"id":               e.ID,
			},
		}
		count, err := txn.Update(ctx, stmt)
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
	}
	return err
}

func (s *SpannerRepository) GetByID(ctx context.Context, id string) (*entity.Entity, error) {
	return s.queryOne(ctx, "GetByID", spanner.Statement{
		SQL:    `SELECT ` + spannerEntityColumns + ` FROM pipeline_entities WHERE id = @id`,
		Params: map[string]interface{}{"id": id},
	})
}

func (s *SpannerRepository) FindByCorrelation(ctx context.Context, correlationID, eventType, channel string) (*entity.Entity, error) {
	return s.queryOne(ctx, "FindByCorrelation", spanner.Statement{
		SQL: `SELECT ` + spannerEntityColumns + ` FROM pipeline_entities
              WHERE correlation_id = @correlationID AND event_type = @eventType AND channel = @channel`,
		Params: map[string]interface{}{
			"correlationID": correlationID,
			"eventType":     eventType,
			"channel":       channel,
		},
	})
}

func (s *SpannerRepository) FetchRetryable(ctx context.Context, limit int) ([]*entity.Entity, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "FetchRetryable")
	defer span.End()

	start := time.Now()
	stmt := spanner.Statement{
		SQL: `SELECT ` + spannerEntityColumns + ` FROM pipeline_entities
              WHERE status = @status AND retries < @maxRetries
              ORDER BY created_at ASC
              LIMIT @limit`,
		Params: map[string]interface{}{
			"status":     string(entity.StatusFailed),
			"maxRetries": int64(entity.MaxRetries),
			"limit":      int64(limit),
		},
	}

	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	var entities []*entity.Entity
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		e, err := scanSpannerEntity(row)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		entities = append(entities, e)
	}

	addDBStatsToSpan(span, "spanner", "FetchRetryable", len(entities), time.Since(start))
	return entities, nil
}

func (s *SpannerRepository) queryOne(ctx context.Context, operation string, stmt spanner.Statement) (*entity.Entity, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, operation)
	defer span.End()

	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	row, err := iter.Next()
	if err == iterator.Done {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return scanSpannerEntity(row)
}

func scanSpannerEntity(row *spanner.Row) (*entity.Entity, error) {
	var (
		e           entity.Entity
		kind        string
		status      string
		retries     int64
		completedAt spanner.NullTime
	)
	if err := row.Columns(&e.ID, &kind, &e.CorrelationID, &e.EventType, &e.Channel,
		&status, &retries, &e.LastError, &e.ProviderRef, &e.ProviderResponse,
		&e.CreatedAt, &e.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	e.Kind = entity.Kind(kind)
	e.Status = entity.Status(status)
	e.Retries = int(retries)
	if completedAt.Valid {
		e.CompletedAt = completedAt.Time
	}
	return &e, nil
}

func spannerNullTime(t time.Time) spanner.NullTime {
	return spanner.NullTime{Time: t, Valid: !t.IsZero()}
}
