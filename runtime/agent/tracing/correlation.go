package tracing

import "context"

type (
	// Correlation ties spans and messages of one task together across
	// process boundaries.
	Correlation struct {
		TraceID      string `json:"trace_id,omitempty"`
		ParentSpanID string `json:"parent_span_id,omitempty"`
		TaskID       string `json:"task_id,omitempty"`
	}

	correlationKey struct{}
)

// WithCorrelation returns a child context carrying c.
func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	return context.WithValue(ctx, correlationKey{}, c)
}

// CorrelationFromContext returns the correlation carried by ctx.
func CorrelationFromContext(ctx context.Context) (Correlation, bool) {
	c, ok := ctx.Value(correlationKey{}).(Correlation)
	return c, ok
}

// IsZero reports whether no field is set.
func (c Correlation) IsZero() bool {
	return c == Correlation{}
}
