package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/zoff-tech/go-eventbus/pkg/entity"
)

const pqUniqueViolation = "23505"

const entityColumns = `id, kind, correlation_id, event_type, channel, status, retries,
       last_error, provider_ref, provider_response, created_at, updated_at, completed_at`

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (p *PostgresRepository) Insert(ctx context.Context, e *entity.Entity) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Insert")
	defer span.End()

	start := time.Now()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO pipeline_entities (`+entityColumns+`)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.Kind, e.CorrelationID, e.EventType, e.Channel, e.Status, e.Retries,
		e.LastError, e.ProviderRef, e.ProviderResponse, e.CreatedAt, e.UpdatedAt,
		nullTime(e.CompletedAt))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateKey
		}
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, "postgresql", "Insert", 1, time.Since(start))
	return nil
}

func (p *PostgresRepository) Update(ctx context.Context, e *entity.Entity) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "Update")
	defer span.End()

	start := time.Now()
	res, err := p.db.ExecContext(ctx,
		`UPDATE pipeline_entities
         SET status=$1, retries=$2, last_error=$3, provider_ref=$4,
             provider_response=$5, updated_at=$6, completed_at=$7
         WHERE id=$8`,
		e.Status, e.Retries, e.LastError, e.ProviderRef,
		e.ProviderResponse, e.UpdatedAt, nullTime(e.CompletedAt), e.ID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	addDBStatsToSpan(span, "postgresql", "Update", 1, time.Since(start))
	return nil
}

func (p *PostgresRepository) GetByID(ctx context.Context, id string) (*entity.Entity, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "GetByID")
	defer span.End()

	row := p.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM pipeline_entities WHERE id=$1`, id)
	return scanEntity(row)
}

func (p *PostgresRepository) FindByCorrelation(ctx context.Context, correlationID, eventType, channel string) (*entity.Entity, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "FindByCorrelation")
	defer span.End()

	row := p.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM pipeline_entities
         WHERE correlation_id=$1 AND event_type=$2 AND channel=$3`,
		correlationID, eventType, channel)
	return scanEntity(row)
}

func (p *PostgresRepository) FetchRetryable(ctx context.Context, limit int) ([]*entity.Entity, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "FetchRetryable")
	defer span.End()

	start := time.Now()
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM pipeline_entities
         WHERE status=$1 AND retries < $2
         ORDER BY created_at ASC
         LIMIT $3`,
		entity.StatusFailed, entity.MaxRetries, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var entities []*entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "postgresql", "FetchRetryable", len(entities), time.Since(start))
	return entities, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (*entity.Entity, error) {
	var e entity.Entity
	var completedAt sql.NullTime
	err := row.Scan(&e.ID, &e.Kind, &e.CorrelationID, &e.EventType, &e.Channel,
		&e.Status, &e.Retries, &e.LastError, &e.ProviderRef, &e.ProviderResponse,
		&e.CreatedAt, &e.UpdatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if completedAt.Valid {
		e.CompletedAt = completedAt.Time
	}
	return &e, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
