package store

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "go-eventbus"

func addDBStatsToSpan(span trace.Span, system, operation string, rowCount int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("rowCount", rowCount),
		attribute.String("db.system", system),
		attribute.String("db.operation", operation),
		attribute.Float64("db.execution_time_ms", float64(duration.Milliseconds())),
	)
}
