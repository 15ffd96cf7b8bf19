package temporal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	commonpb "go.temporal.io/api/common/v1"
	"go.temporal.io/sdk/converter"

	"github.com/agentex/agentex-go/runtime/agent/tracing"
)

type headerMap map[string]*commonpb.Payload

func (h headerMap) Set(key string, value *commonpb.Payload) { h[key] = value }

func (h headerMap) Get(key string) (*commonpb.Payload, bool) {
	v, ok := h[key]
	return v, ok
}

func (h headerMap) ForEachKey(fn func(string, *commonpb.Payload) error) error {
	for k, v := range h {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func TestPropagatorRoundTrip(t *testing.T) {
	p := NewCorrelationPropagator()
	want := tracing.Correlation{TaskID: "task-1", TraceID: "trace-1", ParentSpanID: "span-1"}
	headers := headerMap{}

	require.NoError(t, p.Inject(tracing.WithCorrelation(context.Background(), want), headers))
	require.Len(t, headers, 3)

	var taskID string
	require.NoError(t, converter.GetDefaultDataConverter().FromPayload(headers[HeaderTaskID], &taskID))
	require.Equal(t, "task-1", taskID)

	ctx, err := p.Extract(context.Background(), headers)
	require.NoError(t, err)
	got, ok := tracing.CorrelationFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestPropagatorSkipsEmptyFields(t *testing.T) {
	p := NewCorrelationPropagator()
	headers := headerMap{}
	require.NoError(t, p.Inject(tracing.WithCorrelation(context.Background(), tracing.Correlation{TaskID: "t"}), headers))
	require.Len(t, headers, 1)
	_, ok := headers[HeaderTraceID]
	require.False(t, ok)
}

func TestPropagatorWithoutCorrelation(t *testing.T) {
	p := NewCorrelationPropagator()
	headers := headerMap{}
	require.NoError(t, p.Inject(context.Background(), headers))
	require.Empty(t, headers)

	ctx, err := p.Extract(context.Background(), headers)
	require.NoError(t, err)
	_, ok := tracing.CorrelationFromContext(ctx)
	require.False(t, ok)
}

func TestPropagatorRejectsMalformedHeader(t *testing.T) {
	p := NewCorrelationPropagator()
	payload, err := converter.GetDefaultDataConverter().ToPayload(42)
	require.NoError(t, err)
	_, err = p.Extract(context.Background(), headerMap{HeaderTaskID: payload})
	require.ErrorContains(t, err, "decode header context-task-id")
}
