package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DBSpanConfig describes a database operation for span naming
type DBSpanConfig struct {
	Operation string // SELECT, INSERT, UPDATE, DELETE
	Table     string
}

// StartDBSpan starts a span for a database operation
func StartDBSpan(ctx context.Context, cfg DBSpanConfig) (context.Context, trace.Span) {
	ctx, span := GetTracer("database").Start(ctx, cfg.Operation+" "+cfg.Table,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", cfg.Operation),
			attribute.String("db.sql.table", cfg.Table),
		),
	)
	return ctx, span
}

// EndDBSpan records the result of a database operation and ends the span
func EndDBSpan(span trace.Span, err error, rowsAffected int64) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if rowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
	}
	span.End()
}
