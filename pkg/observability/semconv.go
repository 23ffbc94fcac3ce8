// Package observability — gate-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Gate-specific semantic convention attributes, attached to pipeline and
// cache spans/metrics.
var (
	AttrAction       = attribute.Key("gate.action")
	AttrSessionID    = attribute.Key("gate.session_id")
	AttrCredentialID = attribute.Key("gate.credential_id")
	AttrIssuerID     = attribute.Key("gate.issuer_id")

	AttrPipelineStep = attribute.Key("gate.pipeline.step")
	AttrDecision     = attribute.Key("gate.pipeline.decision")
	AttrDenialCode   = attribute.Key("gate.pipeline.denial_code")

	AttrCacheEntry   = attribute.Key("gate.cache.entry")
	AttrCacheFresh   = attribute.Key("gate.cache.fresh")
	AttrCacheAgeMs   = attribute.Key("gate.cache.age_ms")

	AttrObligationID = attribute.Key("gate.obligation.id")
	AttrToolName     = attribute.Key("gate.tool.name")
	AttrCostCents    = attribute.Key("gate.receipt.cost_cents")
)

// PipelineStepOperation creates attributes for a single verification
// pipeline step (SPEC_FULL.md §4.6).
func PipelineStepOperation(action, step, decision string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAction.String(action),
		AttrPipelineStep.String(step),
		AttrDecision.String(decision),
	}
}

// DenialOperation creates attributes for a denied verification outcome.
func DenialOperation(action, denialCode string, credentialID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAction.String(action),
		AttrDenialCode.String(denialCode),
		AttrCredentialID.String(credentialID),
	}
}

// CacheLookupOperation creates attributes for a cache-store read, recording
// whether the entry was fresh at lookup time.
func CacheLookupOperation(entry string, fresh bool, ageMs int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCacheEntry.String(entry),
		AttrCacheFresh.Bool(fresh),
		AttrCacheAgeMs.Int64(ageMs),
	}
}

// ToolCallOperation creates attributes for a Tool Wrapper invocation.
func ToolCallOperation(toolName, sessionID, decision string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrToolName.String(toolName),
		AttrSessionID.String(sessionID),
		AttrDecision.String(decision),
	}
}

// ReceiptOperation creates attributes for a consumption receipt issuance.
func ReceiptOperation(credentialID string, costCents int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCredentialID.String(credentialID),
		AttrCostCents.Int64(costCents),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records an error, if any, on the current span.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
