package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentex/agentex-go/runtime/agent/telemetry"
)

func TestNoopImplementations(t *testing.T) {
	ctx := context.Background()
	logger := telemetry.LoggerOrNoop(nil)
	logger.Debug(ctx, "debug", "k", "v")
	logger.Error(ctx, "error", "err", errors.New("boom"))

	metrics := telemetry.MetricsOrNoop(nil)
	metrics.IncCounter(telemetry.MetricTurnInterrupted, 1, "task_id", "t1")
	metrics.RecordTimer(telemetry.MetricInvokeDuration, time.Second)

	tracer := telemetry.TracerOrNoop(nil)
	newCtx, span := tracer.Start(ctx, "op")
	require.Equal(t, ctx, newCtx)
	span.AddEvent("event", "k", 1)
	span.SetStatus(codes.Error, "failed")
	span.RecordError(errors.New("boom"))
	span.End()
}

func TestAttributes(t *testing.T) {
	attrs := telemetry.Attributes("s", "v", "i", 2, "b", true, 3, "skipped", "f", 1.5, "o", struct{ A int }{1}, "dangling")
	require.Equal(t, []attribute.KeyValue{
		attribute.String("s", "v"),
		attribute.Int("i", 2),
		attribute.Bool("b", true),
		attribute.Float64("f", 1.5),
		attribute.String("o", "{1}"),
		attribute.String("dangling", ""),
	}, attrs)
}

func TestMergeContext(t *testing.T) {
	member, err := baggage.NewMember("task_id", "t1")
	require.NoError(t, err)
	bag, err := baggage.New(member)
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{2},
		TraceFlags: trace.FlagsSampled,
	})
	base := baggage.ContextWithBaggage(context.Background(), bag)
	base = trace.ContextWithSpanContext(base, sc)

	merged := telemetry.MergeContext(context.Background(), base)
	require.Equal(t, "t1", baggage.FromContext(merged).Member("task_id").Value())
	require.Equal(t, sc, trace.SpanContextFromContext(merged))

	ctx := context.Background()
	require.Equal(t, ctx, telemetry.MergeContext(ctx, nil))
}
