package zcomm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hunyxv/zcomm"

var (
	_ propagation.TextMapCarrier = Header(nil)

	propagator = propagation.TraceContext{}
)

// Attribute keys recorded on spans.
var (
	AttrRequestID = attribute.Key("zcomm.request_id")
	AttrCallerTag = attribute.Key("zcomm.caller_tag")
	AttrCommKind  = attribute.Key("zcomm.comm_kind")
)

// StartSpan starts a span with the globally registered tracer provider.
func StartSpan(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...))
}

// EndSpan records err (if any) and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// InjectTrace writes the W3C trace context of ctx into h.
func InjectTrace(ctx context.Context, h Header) {
	propagator.Inject(ctx, h)
}

// ExtractTrace returns ctx carrying the remote span context found in h.
func ExtractTrace(ctx context.Context, h Header) context.Context {
	if h == nil {
		return ctx
	}
	return propagator.Extract(ctx, h)
}
