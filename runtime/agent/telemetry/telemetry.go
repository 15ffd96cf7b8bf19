// Package telemetry defines the logging, metrics and tracing contracts used by
// the agent runtime and their Clue/OpenTelemetry implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the structured logger used throughout the runtime. keyvals are
// alternating keys and values.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics records runtime counters and timers. tags are alternating keys and
// values.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
}

// Tracer starts OpenTelemetry spans.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
}

// Span is an in-flight span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// Metric names recorded by the runtime.
const (
	MetricTurnInterrupted     = "agentex.turn.interrupted"
	MetricGuardrailFailed     = "agentex.turn.guardrail_failed"
	MetricTranslatorAnomaly   = "agentex.translator.anomaly"
	MetricInvokeDuration      = "agentex.invoke.duration"
	MetricHeartbeatsRecorded  = "agentex.activity.heartbeats"
	MetricRateLimiterBackoffs = "agentex.model.rate_limit_backoffs"
	MetricMaxTurnsExceeded    = "agentex.runner.max_turns_exceeded"
)

// LoggerOrNoop returns l or a no-op logger when l is nil.
func LoggerOrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// MetricsOrNoop returns m or a no-op recorder when m is nil.
func MetricsOrNoop(m Metrics) Metrics {
	if m == nil {
		return NoopMetrics{}
	}
	return m
}

// TracerOrNoop returns t or a no-op tracer when t is nil.
func TracerOrNoop(t Tracer) Tracer {
	if t == nil {
		return NoopTracer{}
	}
	return t
}
