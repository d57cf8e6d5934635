// Package observability wires OpenTelemetry tracing around E3 request
// lifecycles and extension dispatch, optional everywhere it's used: a nil
// SpanManager (or the Noop implementation) costs nothing.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("e3/coordinator")

// SpanManager brackets an E3 request's lifetime and each extension's
// handling of one event with a span, so a slow aggregator or a stuck
// committee finalization shows up in a trace instead of only in logs.
type SpanManager interface {
	StartRequestSpan(ctx context.Context, e3ID string) (context.Context, trace.Span)
	StartExtensionSpan(ctx context.Context, extension, eventType string) (context.Context, trace.Span)
	EndSpanWithError(span trace.Span, err error)
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager using the global OTel tracer
// provider; configure the provider (otel.SetTracerProvider) before use.
func NewSpanManager() SpanManager { return &otelSpanManager{} }

func (m *otelSpanManager) StartRequestSpan(ctx context.Context, e3ID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "e3.request",
		trace.WithAttributes(attribute.String("e3.id", e3ID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartExtensionSpan(ctx context.Context, extension, eventType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "e3.extension."+extension,
		trace.WithAttributes(
			attribute.String("extension.name", extension),
			attribute.String("event.type", eventType),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Noop is a SpanManager that does nothing, used when tracing isn't
// configured.
type Noop struct{}

func (Noop) StartRequestSpan(ctx context.Context, e3ID string) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (Noop) StartExtensionSpan(ctx context.Context, extension, eventType string) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (Noop) EndSpanWithError(trace.Span, error) {}

func (Noop) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
