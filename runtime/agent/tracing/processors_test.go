package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentex/agentex-go/runtime/agent/telemetry"
)

type (
	fakeTracer struct {
		spans []*fakeSpan
	}

	fakeSpan struct {
		name   string
		events []string
		status codes.Code
		desc   string
		ended  bool
	}
)

func (f *fakeTracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, telemetry.Span) {
	s := &fakeSpan{name: name}
	f.spans = append(f.spans, s)
	return ctx, s
}

func (s *fakeSpan) End(...trace.SpanEndOption)              { s.ended = true }
func (s *fakeSpan) AddEvent(name string, _ ...any)          { s.events = append(s.events, name) }
func (s *fakeSpan) RecordError(error, ...trace.EventOption) {}
func (s *fakeSpan) SetStatus(code codes.Code, desc string) {
	s.status = code
	s.desc = desc
}

func TestOTelProcessorMirrorsSpans(t *testing.T) {
	ft := &fakeTracer{}
	tr := New(Options{Processors: []Processor{NewOTelProcessor(ft)}})

	_, ok := tr.StartSpan(context.Background(), "ok", nil)
	ok.End()
	_, failed := tr.StartSpan(context.Background(), "failed", nil)
	failed.SetError(context.DeadlineExceeded)
	failed.End()

	require.Len(t, ft.spans, 2)
	require.Equal(t, "ok", ft.spans[0].name)
	require.True(t, ft.spans[0].ended)
	require.Equal(t, codes.Ok, ft.spans[0].status)
	require.Equal(t, []string{"agentex.span.start", "agentex.span.end"}, ft.spans[0].events)
	require.Equal(t, codes.Error, ft.spans[1].status)
	require.Equal(t, "context deadline exceeded", ft.spans[1].desc)
}

func TestTruncated(t *testing.T) {
	require.Equal(t, "", truncated(nil))
	require.Equal(t, `{"a":1}`, truncated(map[string]int{"a": 1}))
	long := make([]byte, maxAttributeLen*2)
	for i := range long {
		long[i] = 'x'
	}
	require.Len(t, truncated(string(long)), maxAttributeLen)
}
