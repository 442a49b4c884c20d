package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ASH-specific semantic convention attributes, attached to the spans and
// RED metrics the engine emits around issue_context and verify.
var (
	AttrContextID  = attribute.Key("ash.context.id")
	AttrBinding    = attribute.Key("ash.binding")
	AttrMode       = attribute.Key("ash.mode")
	AttrProtocol   = attribute.Key("ash.protocol")
	AttrVerifyCode = attribute.Key("ash.verify.code")
	AttrValid      = attribute.Key("ash.verify.valid")

	AttrContentType   = attribute.Key("ash.canonicalize.content_type")
	AttrStoreBackend  = attribute.Key("ash.store.backend")
	AttrStoreDuration = attribute.Key("ash.store.duration_ms")
)

// ContextIssued builds the attribute set recorded when issue_context mints
// a new context.
func ContextIssued(contextID, binding, mode, protocol string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrContextID.String(contextID),
		AttrBinding.String(binding),
		AttrMode.String(mode),
		AttrProtocol.String(protocol),
	}
}

// VerifyAttempt builds the attribute set recorded for a verify call,
// whatever its outcome.
func VerifyAttempt(contextID, binding, code string, valid bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrContextID.String(contextID),
		AttrBinding.String(binding),
		AttrVerifyCode.String(code),
		AttrValid.Bool(valid),
	}
}

// CanonicalizeAttempt builds the attribute set recorded around a
// canonicalization call.
func CanonicalizeAttempt(contentType string, ok bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrContentType.String(contentType),
		AttrValid.Bool(ok),
	}
}

// StoreOperation builds the attribute set recorded around a ContextStore
// call, identifying which backend served it.
func StoreOperation(backend, op string, durationMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrStoreBackend.String(backend),
		attribute.String("ash.store.op", op),
		AttrStoreDuration.Float64(durationMs),
	}
}

// SpanFromContext extracts the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err on the current span, if any.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
