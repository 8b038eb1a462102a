package observability

import (
	"context"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"collabdir/internal/core"
)

var _ core.Tracer = (*OTelTracer)(nil)

// OTelTracer starts an OpenTelemetry span per service operation.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer returns a tracer named name from tp.
func NewOTelTracer(tp trace.TracerProvider, name string) *OTelTracer {
	return &OTelTracer{tracer: tp.Tracer(name)}
}

// Start implements core.Tracer.
func (t *OTelTracer) Start(ctx context.Context, operation string) (context.Context, core.TraceSpan) {
	ctx, span := t.tracer.Start(ctx, operation, trace.WithAttributes(attribute.String("collabdir.operation", operation)))
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

// End records err, classified by the error taxonomy, and ends the span.
func (s otelSpan) End(err error) {
	if err != nil {
		kind := core.Classify(err)
		s.span.SetAttributes(attribute.String("error.kind", string(kind)))
		if kind == core.KindInternal {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, "internal error")
		} else {
			s.span.SetStatus(codes.Error, string(kind))
		}
	}
	s.span.End()
}

// NewStdoutTracerProvider exports spans as JSON to w. Callers shut the
// provider down to flush pending spans.
func NewStdoutTracerProvider(w io.Writer, serviceName string) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	), nil
}
