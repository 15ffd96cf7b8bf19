package tracing

import (
	"context"
	"encoding/json"
	"sync"

	"go.opentelemetry.io/otel/codes"

	"github.com/agentex/agentex-go/runtime/agent/telemetry"
)

// maxAttributeLen bounds serialized input and output attached to OTEL spans.
const maxAttributeLen = 4096

type (
	// OTelProcessor mirrors agent spans into telemetry spans.
	OTelProcessor struct {
		tracer telemetry.Tracer

		mu    sync.Mutex
		spans map[string]telemetry.Span
	}

	// Recorder keeps ended spans in memory. It is used by tests and by the
	// CLI to print a run summary.
	Recorder struct {
		mu      sync.Mutex
		started []SpanRecord
		ended   []SpanRecord
	}
)

// NewOTelProcessor returns a processor starting one telemetry span per agent
// span. A nil tracer uses the global OTEL tracer provider.
func NewOTelProcessor(t telemetry.Tracer) *OTelProcessor {
	if t == nil {
		t = telemetry.NewOTelTracer()
	}
	return &OTelProcessor{tracer: t, spans: make(map[string]telemetry.Span)}
}

func (p *OTelProcessor) OnSpanStart(ctx context.Context, rec SpanRecord) {
	_, s := p.tracer.Start(ctx, rec.Name)
	s.AddEvent("agentex.span.start",
		"agentex.span_id", rec.ID,
		"agentex.trace_id", rec.TraceID,
		"agentex.parent_id", rec.ParentID,
		"agentex.task_id", rec.TaskID,
		"agentex.input", truncated(rec.Input),
	)
	p.mu.Lock()
	p.spans[rec.ID] = s
	p.mu.Unlock()
}

func (p *OTelProcessor) OnSpanEnd(_ context.Context, rec SpanRecord) {
	p.mu.Lock()
	s, ok := p.spans[rec.ID]
	delete(p.spans, rec.ID)
	p.mu.Unlock()
	if !ok {
		return
	}
	s.AddEvent("agentex.span.end", "agentex.output", truncated(rec.Output))
	if rec.Error != "" {
		s.SetStatus(codes.Error, rec.Error)
	} else {
		s.SetStatus(codes.Ok, "")
	}
	s.End()
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) OnSpanStart(_ context.Context, rec SpanRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, rec)
}

func (r *Recorder) OnSpanEnd(_ context.Context, rec SpanRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, rec)
}

// Started returns the records of started spans in start order.
func (r *Recorder) Started() []SpanRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SpanRecord(nil), r.started...)
}

// Ended returns the records of ended spans in end order.
func (r *Recorder) Ended() []SpanRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SpanRecord(nil), r.ended...)
}

func truncated(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err.Error()
	}
	if len(b) > maxAttributeLen {
		b = b[:maxAttributeLen]
	}
	return string(b)
}
