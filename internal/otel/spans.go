package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by spans and metrics.
var (
	AttrSessionID    = attribute.Key("chatgate.session.id")
	AttrModel        = attribute.Key("chatgate.llm.model")
	AttrRule         = attribute.Key("chatgate.router.rule")
	AttrMaxTokens    = attribute.Key("chatgate.llm.max_tokens")
	AttrTokensInput  = attribute.Key("chatgate.llm.tokens.input")
	AttrTokensOutput = attribute.Key("chatgate.llm.tokens.output")
	AttrErrorClass   = attribute.Key("chatgate.llm.error_class")
	AttrRoute        = attribute.Key("chatgate.http.route")
	AttrStatus       = attribute.Key("chatgate.http.status")
)

// StartSpan starts an internal span with the given attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request.
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound LLM call.
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
