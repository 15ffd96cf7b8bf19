package temporal

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/agentex/agentex-go/runtime/agent/api"
	"github.com/agentex/agentex-go/runtime/agent/engine"
	"github.com/agentex/agentex-go/runtime/agent/tracing"
)

type temporalWorkflowContext struct {
	engine     *Engine
	ctx        workflow.Context
	workflowID string
	runID      string
	baseCtx    context.Context
}

// NewWorkflowContext adapts a Temporal workflow.Context into an
// engine.WorkflowContext. Use it from workflows that are registered directly
// on a Temporal worker but still call the runner.
func NewWorkflowContext(e *Engine, ctx workflow.Context) engine.WorkflowContext {
	return newTemporalWorkflowContext(e, ctx)
}

func newTemporalWorkflowContext(e *Engine, ctx workflow.Context) *temporalWorkflowContext {
	info := workflow.GetInfo(ctx)
	wfCtx := &temporalWorkflowContext{
		engine:     e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
		baseCtx:    e.workflowBaseContext(info.WorkflowExecution.RunID),
	}
	e.trackWorkflowContext(wfCtx.runID, wfCtx)
	return wfCtx
}

// Context returns a Go context carrying the workflow context and the task
// correlation extracted from the workflow headers.
func (w *temporalWorkflowContext) Context() context.Context {
	ctx := w.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if c, ok := CorrelationFromWorkflow(w.ctx); ok {
		ctx = tracing.WithCorrelation(ctx, c)
	}
	return engine.WithWorkflowContext(ctx, w)
}

func (w *temporalWorkflowContext) WorkflowID() string {
	return w.workflowID
}

func (w *temporalWorkflowContext) RunID() string {
	return w.runID
}

func (w *temporalWorkflowContext) Now() time.Time {
	return workflow.Now(w.ctx)
}

func (w *temporalWorkflowContext) ExecuteInvokeActivity(ctx context.Context, call engine.InvokeActivityCall) (*api.InvokeResult, error) {
	if call.Name == "" {
		return nil, errors.New("invoke activity name is required")
	}
	if call.Input == nil {
		return nil, errors.New("invoke activity input is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	actx := workflow.WithActivityOptions(w.ctx, w.activityOptionsFor(call.Name, call.Options))
	var out *api.InvokeResult
	if err := workflow.ExecuteActivity(actx, call.Name, call.Input).Get(actx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *temporalWorkflowContext) activityOptionsFor(name string, override engine.ActivityOptions) workflow.ActivityOptions {
	opts := override.Merge(w.engine.activityDefaultsFor(name)).Merge(engine.DefaultActivityOptions())
	queue := opts.Queue
	if queue == "" {
		queue = w.engine.defaultQueue
	}
	return workflow.ActivityOptions{
		TaskQueue:           queue,
		StartToCloseTimeout: opts.StartToCloseTimeout,
		HeartbeatTimeout:    opts.HeartbeatTimeout,
		RetryPolicy:         convertRetryPolicy(opts.RetryPolicy),
	}
}

func (e *Engine) activityDefaultsFor(name string) engine.ActivityOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activityOptions[name]
}

func convertRetryPolicy(r engine.RetryPolicy) *temporal.RetryPolicy {
	if r.IsZero() {
		return nil
	}
	policy := &temporal.RetryPolicy{}
	if r.MaxAttempts > 0 {
		//nolint:gosec // attempts are small configuration values
		policy.MaximumAttempts = int32(r.MaxAttempts)
	}
	if r.InitialInterval > 0 {
		policy.InitialInterval = r.InitialInterval
	}
	if r.BackoffCoefficient > 0 {
		policy.BackoffCoefficient = r.BackoffCoefficient
	}
	return policy
}
