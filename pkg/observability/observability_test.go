package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "uniplex-gate", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
	require.False(t, config.Insecure)
}

func TestNewProviderWithTLS(t *testing.T) {
	config := &Config{
		Enabled:  true,
		Insecure: false,
		CertFile: "/path/to/cert.pem",
		KeyFile:  "/path/to/key.pem",
		CAFile:   "/path/to/ca.pem",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	p, err := New(ctx, config)
	if err != nil {
		t.Logf("provider creation failed (expected in test env): %v", err)
	} else {
		require.NotNil(t, p)
	}
}

func TestNewProviderDisabled(t *testing.T) {
	config := &Config{Enabled: false}

	p, err := New(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestNewProviderDisabledUnderDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	config := &Config{Enabled: false}
	p, err := New(ctx, config)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestTrackOperation(t *testing.T) {
	config := &Config{Enabled: false}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	attrs := []attribute.KeyValue{attribute.String("test.key", "test.value")}

	newCtx, finish := p.TrackOperation(ctx, "test.operation", attrs...)
	require.NotNil(t, newCtx)

	time.Sleep(1 * time.Millisecond)
	finish(nil)
}

func TestTrackOperationWithError(t *testing.T) {
	config := &Config{Enabled: false}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	_, finish := p.TrackOperation(ctx, "test.operation.error")

	finish(errors.New("test error"))
}

func TestRecordMetrics(t *testing.T) {
	config := &Config{Enabled: false}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordRequest(ctx, attribute.String("test", "value"))
	p.RecordError(ctx, errors.New("test"), attribute.String("test", "value"))
	p.RecordDuration(ctx, 100*time.Millisecond, attribute.String("test", "value"))
}

func TestStartSpan(t *testing.T) {
	config := &Config{Enabled: false}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx := context.Background()
	newCtx, span := p.StartSpan(ctx, "test.span")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	span.End()
}

func TestShutdown(t *testing.T) {
	config := &Config{Enabled: false}

	p, err := New(context.Background(), config)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, p.Shutdown(ctx))
}

// Gate-specific semantic helpers.

func TestPipelineStepOperation(t *testing.T) {
	attrs := PipelineStepOperation("flights:book", "signature_verify", "permit")
	require.Len(t, attrs, 3)
	require.Equal(t, "gate.action", string(attrs[0].Key))
	require.Equal(t, "flights:book", attrs[0].Value.AsString())
}

func TestDenialOperation(t *testing.T) {
	attrs := DenialOperation("flights:book", "constraint_violated", "cred-123")
	require.Len(t, attrs, 3)
	require.Equal(t, "gate.pipeline.denial_code", string(attrs[1].Key))
	require.Equal(t, "constraint_violated", attrs[1].Value.AsString())
}

func TestCacheLookupOperation(t *testing.T) {
	attrs := CacheLookupOperation("catalog", true, 1500)
	require.Len(t, attrs, 3)
	require.Equal(t, "gate.cache.fresh", string(attrs[1].Key))
	require.Equal(t, true, attrs[1].Value.AsBool())
}

func TestToolCallOperation(t *testing.T) {
	attrs := ToolCallOperation("flights.search", "session-1", "permit")
	require.Len(t, attrs, 3)
	require.Equal(t, "gate.tool.name", string(attrs[0].Key))
}

func TestReceiptOperation(t *testing.T) {
	attrs := ReceiptOperation("cred-123", 4250)
	require.Len(t, attrs, 2)
	require.Equal(t, "gate.receipt.cost_cents", string(attrs[1].Key))
	require.Equal(t, int64(4250), attrs[1].Value.AsInt64())
}

func TestSpanFromContext(t *testing.T) {
	ctx := context.Background()
	span := SpanFromContext(ctx)
	require.NotNil(t, span)
}

func TestAddSpanEvent(t *testing.T) {
	ctx := context.Background()
	AddSpanEvent(ctx, "test.event", attribute.String("key", "value"))
}

func TestSetSpanStatus(t *testing.T) {
	ctx := context.Background()
	SetSpanStatus(ctx, errors.New("test error"))
	SetSpanStatus(ctx, nil)
}
