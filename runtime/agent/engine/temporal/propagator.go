package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/workflow"

	"github.com/agentex/agentex-go/runtime/agent/tracing"
)

// Temporal header keys carrying task correlation.
const (
	HeaderTaskID       = "context-task-id"
	HeaderTraceID      = "context-trace-id"
	HeaderParentSpanID = "context-parent-span-id"
)

type (
	correlationPropagator struct {
		dc converter.DataConverter
	}

	workflowCorrelationKey struct{}
)

// NewCorrelationPropagator returns a context propagator copying the
// tracing.Correlation of the caller context into Temporal headers and back
// into workflow and activity contexts.
func NewCorrelationPropagator() workflow.ContextPropagator {
	return &correlationPropagator{dc: converter.GetDefaultDataConverter()}
}

// CorrelationFromWorkflow returns the correlation extracted from the headers
// of the workflow.
func CorrelationFromWorkflow(ctx workflow.Context) (tracing.Correlation, bool) {
	c, ok := ctx.Value(workflowCorrelationKey{}).(tracing.Correlation)
	return c, ok
}

func (p *correlationPropagator) Inject(ctx context.Context, w workflow.HeaderWriter) error {
	c, ok := tracing.CorrelationFromContext(ctx)
	if !ok {
		return nil
	}
	return p.write(c, w)
}

func (p *correlationPropagator) Extract(ctx context.Context, r workflow.HeaderReader) (context.Context, error) {
	c, found, err := p.read(r)
	if err != nil || !found {
		return ctx, err
	}
	return tracing.WithCorrelation(ctx, c), nil
}

func (p *correlationPropagator) InjectFromWorkflow(ctx workflow.Context, w workflow.HeaderWriter) error {
	c, ok := CorrelationFromWorkflow(ctx)
	if !ok {
		return nil
	}
	return p.write(c, w)
}

func (p *correlationPropagator) ExtractToWorkflow(ctx workflow.Context, r workflow.HeaderReader) (workflow.Context, error) {
	c, found, err := p.read(r)
	if err != nil || !found {
		return ctx, err
	}
	return workflow.WithValue(ctx, workflowCorrelationKey{}, c), nil
}

func (p *correlationPropagator) write(c tracing.Correlation, w workflow.HeaderWriter) error {
	for _, kv := range correlationFields(&c) {
		if *kv.value == "" {
			continue
		}
		payload, err := p.dc.ToPayload(*kv.value)
		if err != nil {
			return fmt.Errorf("encode header %s: %w", kv.key, err)
		}
		w.Set(kv.key, payload)
	}
	return nil
}

func (p *correlationPropagator) read(r workflow.HeaderReader) (tracing.Correlation, bool, error) {
	var c tracing.Correlation
	found := false
	for _, kv := range correlationFields(&c) {
		payload, ok := r.Get(kv.key)
		if !ok {
			continue
		}
		if err := p.dc.FromPayload(payload, kv.value); err != nil {
			return c, false, fmt.Errorf("decode header %s: %w", kv.key, err)
		}
		found = true
	}
	return c, found, nil
}

type headerField struct {
	key   string
	value *string
}

func correlationFields(c *tracing.Correlation) []headerField {
	return []headerField{
		{HeaderTaskID, &c.TaskID},
		{HeaderTraceID, &c.TraceID},
		{HeaderParentSpanID, &c.ParentSpanID},
	}
}
