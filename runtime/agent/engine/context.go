package engine

import "context"

// wfCtxKey is the private context key used to stash a WorkflowContext inside a
// Go context.
type wfCtxKey struct{}

// activityCtxKey marks contexts that originate from an activity invocation.
type activityCtxKey struct{}

// WithWorkflowContext returns a child context that carries wf.
func WithWorkflowContext(ctx context.Context, wf WorkflowContext) context.Context {
	return context.WithValue(ctx, wfCtxKey{}, wf)
}

// WithActivityContext returns a child context that is marked as an activity
// invocation context. Code running in an activity must not schedule further
// activities even when the context still references the workflow.
func WithActivityContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, activityCtxKey{}, true)
}

// IsActivityContext reports whether ctx is marked as originating from an
// activity invocation.
func IsActivityContext(ctx context.Context) bool {
	b, ok := ctx.Value(activityCtxKey{}).(bool)
	return ok && b
}

// WorkflowContextFromContext extracts a WorkflowContext from ctx if present.
func WorkflowContextFromContext(ctx context.Context) WorkflowContext {
	if wf, ok := ctx.Value(wfCtxKey{}).(WorkflowContext); ok {
		return wf
	}
	return nil
}

// InWorkflow reports whether ctx carries a workflow context and is not an
// activity context, that is whether side effects must be scheduled as
// activities.
func InWorkflow(ctx context.Context) bool {
	return WorkflowContextFromContext(ctx) != nil && !IsActivityContext(ctx)
}
