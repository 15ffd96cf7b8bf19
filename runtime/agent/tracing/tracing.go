// Package tracing records agent spans (model calls, turns) and fans them out
// to processors. Spans are correlated through a trace ID, the ID of the parent
// span and the task ID, all carried in the context so they survive workflow
// and activity boundaries (see engine/temporal's header propagator).
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentex/agentex-go/runtime/agent/telemetry"
)

type (
	// Tracer starts spans.
	Tracer interface {
		// StartSpan starts a span named name with the given input. The
		// returned context carries the span so nested spans become its
		// children.
		StartSpan(ctx context.Context, name string, input any) (context.Context, Span)
	}

	// Span is an in-flight span. End is idempotent.
	Span interface {
		// Record returns a snapshot of the span.
		Record() SpanRecord
		// SetOutput records the span output. The last value set before End wins.
		SetOutput(output any)
		// SetError marks the span as failed.
		SetError(err error)
		// End completes the span and notifies processors once.
		End()
	}

	// Processor observes span lifecycle events. Implementations must be safe
	// for concurrent use.
	Processor interface {
		OnSpanStart(ctx context.Context, rec SpanRecord)
		OnSpanEnd(ctx context.Context, rec SpanRecord)
	}

	// SpanRecord is the data of a span.
	SpanRecord struct {
		ID        string    `json:"id"`
		TraceID   string    `json:"trace_id"`
		ParentID  string    `json:"parent_id,omitempty"`
		TaskID    string    `json:"task_id,omitempty"`
		Name      string    `json:"name"`
		Input     any       `json:"input,omitempty"`
		Output    any       `json:"output,omitempty"`
		Error     string    `json:"error,omitempty"`
		StartedAt time.Time `json:"started_at"`
		EndedAt   time.Time `json:"ended_at,omitzero"`
	}

	// Options configures the tracer returned by New.
	Options struct {
		// Processors receive every span start and end in order.
		Processors []Processor
		// Logger reports processor panics.
		Logger telemetry.Logger
	}

	tracer struct {
		processors []Processor
		logger     telemetry.Logger
	}

	span struct {
		t   *tracer
		ctx context.Context

		mu   sync.Mutex
		rec  SpanRecord
		once sync.Once
	}

	noopSpan struct{ rec SpanRecord }

	noopTracer struct{}
)

// New returns a Tracer that fans spans out to opts.Processors.
func New(opts Options) Tracer {
	return &tracer{
		processors: opts.Processors,
		logger:     telemetry.LoggerOrNoop(opts.Logger),
	}
}

// Noop returns a Tracer whose spans are discarded.
func Noop() Tracer { return noopTracer{} }

// OrNoop returns t or a no-op tracer when t is nil.
func OrNoop(t Tracer) Tracer {
	if t == nil {
		return noopTracer{}
	}
	return t
}

func (t *tracer) StartSpan(ctx context.Context, name string, input any) (context.Context, Span) {
	corr, _ := CorrelationFromContext(ctx)
	if corr.TraceID == "" {
		corr.TraceID = uuid.NewString()
	}
	s := &span{
		t: t,
		rec: SpanRecord{
			ID:        uuid.NewString(),
			TraceID:   corr.TraceID,
			ParentID:  corr.ParentSpanID,
			TaskID:    corr.TaskID,
			Name:      name,
			Input:     input,
			StartedAt: time.Now(),
		},
	}
	corr.ParentSpanID = s.rec.ID
	ctx = WithCorrelation(ctx, corr)
	s.ctx = context.WithoutCancel(ctx)
	for _, p := range t.processors {
		t.notify(ctx, func() { p.OnSpanStart(ctx, s.rec) })
	}
	return ctx, s
}

func (t *tracer) notify(ctx context.Context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error(ctx, "tracing processor panicked", "panic", r)
		}
	}()
	fn()
}

func (s *span) Record() SpanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

func (s *span) SetOutput(output any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Output = output
}

func (s *span) SetError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Error = err.Error()
}

func (s *span) End() {
	s.once.Do(func() {
		s.mu.Lock()
		s.rec.EndedAt = time.Now()
		rec := s.rec
		s.mu.Unlock()
		for _, p := range s.t.processors {
			s.t.notify(s.ctx, func() { p.OnSpanEnd(s.ctx, rec) })
		}
	})
}

func (noopTracer) StartSpan(ctx context.Context, name string, input any) (context.Context, Span) {
	return ctx, &noopSpan{rec: SpanRecord{Name: name, Input: input}}
}

func (s *noopSpan) Record() SpanRecord   { return s.rec }
func (s *noopSpan) SetOutput(output any) { s.rec.Output = output }
func (s *noopSpan) SetError(error)       {}
func (s *noopSpan) End()                 {}
