// Package observability provides OpenTelemetry tracing and metrics for the
// ASH server and engine. It implements production-ready observability
// following cloud-native best practices.
//
// # Tracing and metrics
//
// Initialize a Provider at application startup:
//
//	p, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "ash-server",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//	})
//	defer p.Shutdown(ctx)
//
// Create spans manually:
//
//	ctx, span := p.StartSpan(ctx, "ash.issue_context")
//	defer span.End()
//
// Or instrument an entire operation, recording the RED metrics and ending
// the span in one call:
//
//	ctx, finish := p.TrackOperation(ctx, "ash.verify")
//	result, err := engine.Verify(ctx, req)
//	finish(err)
//
// Record ASH-specific attributes on a span or metric using the helpers in
// ash.go, e.g. observability.VerifyAttempt(contextID, binding, code, valid).
package observability
