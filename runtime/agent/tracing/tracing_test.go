package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartSpanChainsCorrelation(t *testing.T) {
	rec := NewRecorder()
	tr := New(Options{Processors: []Processor{rec}})

	ctx := WithCorrelation(context.Background(), Correlation{TraceID: "trace-1", ParentSpanID: "root", TaskID: "task-1"})
	ctx, parent := tr.StartSpan(ctx, "turn", map[string]any{"text": "hi"})
	_, child := tr.StartSpan(ctx, "streaming_model_get_response", nil)

	p, c := parent.Record(), child.Record()
	require.Equal(t, "trace-1", p.TraceID)
	require.Equal(t, "root", p.ParentID)
	require.Equal(t, "task-1", p.TaskID)
	require.Equal(t, "trace-1", c.TraceID)
	require.Equal(t, p.ID, c.ParentID)

	corr, ok := CorrelationFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, p.ID, corr.ParentSpanID)
	require.Len(t, rec.Started(), 2)
}

func TestStartSpanWithoutCorrelationCreatesTrace(t *testing.T) {
	_, s := New(Options{}).StartSpan(context.Background(), "x", nil)
	rec := s.Record()
	require.NotEmpty(t, rec.TraceID)
	require.Empty(t, rec.ParentID)
}

func TestSpanEndNotifiesOnce(t *testing.T) {
	rec := NewRecorder()
	_, s := New(Options{Processors: []Processor{rec}}).StartSpan(context.Background(), "x", "in")
	s.SetOutput("first")
	s.SetOutput("final")
	s.SetError(errors.New("boom"))
	s.End()
	s.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "final", ended[0].Output)
	require.Equal(t, "boom", ended[0].Error)
	require.False(t, ended[0].EndedAt.IsZero())
}

type panicking struct{}

func (panicking) OnSpanStart(context.Context, SpanRecord) { panic("start") }
func (panicking) OnSpanEnd(context.Context, SpanRecord)   { panic("end") }

func TestProcessorPanicIsContained(t *testing.T) {
	rec := NewRecorder()
	tr := New(Options{Processors: []Processor{panicking{}, rec}})
	require.NotPanics(t, func() {
		_, s := tr.StartSpan(context.Background(), "x", nil)
		s.End()
	})
	require.Len(t, rec.Ended(), 1)
}

func TestNoopTracer(t *testing.T) {
	ctx := context.Background()
	got, s := OrNoop(nil).StartSpan(ctx, "x", 1)
	require.Equal(t, ctx, got)
	s.SetOutput(2)
	s.End()
	require.Equal(t, 2, s.Record().Output)
}
