package obs

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type pgxSpanKey struct{}

// PGXTracer emits a span per SQL statement executed through the pool.
type PGXTracer struct{}

// TraceQueryStart opens a span named after the leading SQL verb.
func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := "query"
	if fields := strings.Fields(data.SQL); len(fields) > 0 {
		op = strings.ToLower(fields[0])
	}
	ctx, span := otel.Tracer("snippy.db").Start(ctx, "db."+op, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", compactSQL(data.SQL)),
	))
	return context.WithValue(ctx, pgxSpanKey{}, span)
}

// TraceQueryEnd closes the span. pgx.ErrNoRows is an expected outcome
// for the settlement lookups, not a failure.
func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(pgxSpanKey{}).(trace.Span)
	if !ok {
		return
	}
	if data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows) {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	}
	span.End()
}

func compactSQL(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}
