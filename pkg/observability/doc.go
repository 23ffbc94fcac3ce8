// Package observability provides OpenTelemetry tracing and metrics, both
// exported over OTLP gRPC, for the gate. It implements production-ready observability following
// cloud-native best practices.
//
// # Tracing and metrics
//
// Initialize at application startup:
//
//	p, err := observability.New(ctx, &observability.Config{
//		Enabled:      true,
//		ServiceName:  "uniplex-gate",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//	})
//	defer p.Shutdown(ctx)
//
// Track a pipeline step end to end:
//
//	ctx, finish := p.TrackOperation(ctx, "verify.signature", observability.AttrAction.String(action))
//	defer finish(err)
//
// # Audit and health
//
// The AuditLog records per-call attestations for the Tool Wrapper, and
// HealthRegistry tallies permit/deny and cache-staleness counters for a
// status endpoint or metrics exporter.
package observability
