package execution

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("cosim/execution")
	meter  = otel.GetMeterProvider().Meter("cosim/execution")
)

// startSpan opens a span for one bulk operation of an execution.
func (e *Execution) startSpan(name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("cosim.execution_id", e.id),
		attribute.String("cosim.execution", e.name),
		attribute.Float64("cosim.time", e.simTime),
	)
	return tracer.Start(context.Background(), name, trace.WithAttributes(attrs...))
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// count adds one to the named counter. Instruments are created lazily and
// failures to create them are ignored.
func (e *Execution) count(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	attrs = append(attrs, attribute.String("cosim.execution", e.name))
	if counter, err := meter.Int64Counter(name); err == nil {
		counter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
