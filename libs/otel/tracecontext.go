package otelx

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
)

// W3C field names as persisted on outbox and reminder rows.
const (
	traceparentKey = "traceparent"
	tracestateKey  = "tracestate"
)

// The W3C propagator is used directly rather than through the global, so
// trace columns round-trip even in binaries that never call Setup.
var w3c propagation.TraceContext

// TraceContextStrings flattens the active span context into the two W3C
// header values. Both come back empty when no span is recording.
func TraceContextStrings(ctx context.Context) (traceparent string, tracestate string) {
	carrier := propagation.MapCarrier{}
	w3c.Inject(ctx, carrier)
	return carrier[traceparentKey], carrier[tracestateKey]
}

// ContextWithTraceContext rebuilds a context from values captured earlier
// with TraceContextStrings. Without a traceparent there is nothing to
// resume and ctx is returned unchanged.
func ContextWithTraceContext(ctx context.Context, traceparent string, tracestate string) context.Context {
	if traceparent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{traceparentKey: traceparent}
	if tracestate != "" {
		carrier[tracestateKey] = tracestate
	}
	return w3c.Extract(ctx, carrier)
}
