// Package engine defines the durable execution abstractions used to run agent
// invocations inside workflows. Adapters (Temporal, in-memory) translate these
// types into backend primitives so the runner never depends on a specific
// workflow runtime.
//
// Workflow handlers run deterministically: every model call goes through the
// invoke activity scheduled with WorkflowContext.ExecuteInvokeActivity. The
// activity itself may perform arbitrary I/O and reports liveness with
// Heartbeat.
//
//	eng, _ := temporal.New(temporal.Options{...})
//	defer eng.Close()
//
//	r := runner.New(runner.Options{Model: model, Streams: streams})
//	_ = r.RegisterActivity(ctx, eng)
//	_ = eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
//		Name:    "agentex.turn",
//		Handler: func(wctx engine.WorkflowContext, req *api.InvokeRequest) (*api.InvokeResult, error) {
//			return r.InvokeAgent(wctx.Context(), req)
//		},
//	})
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/agentex/agentex-go/runtime/agent/api"
)

const (
	// DefaultStartToCloseTimeout bounds a single invoke activity attempt.
	DefaultStartToCloseTimeout = 600 * time.Second
	// DefaultHeartbeatTimeout is the maximum gap between activity heartbeats.
	DefaultHeartbeatTimeout = 600 * time.Second
)

// ErrWorkflowNotFound indicates that no workflow execution exists for the given identifier.
var ErrWorkflowNotFound = errors.New("workflow not found")

type (
	// Engine registers workflows and the invoke activity and starts workflow
	// executions.
	Engine interface {
		// RegisterWorkflow registers a workflow definition with the engine.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterInvokeActivity registers the activity that runs an agent
		// invocation outside of the deterministic workflow thread.
		RegisterInvokeActivity(ctx context.Context, def InvokeActivityDefinition) error

		// StartWorkflow initiates a new workflow execution and returns a handle
		// for interacting with it.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowContext exposes the deterministic operations available to
	// workflow handlers.
	WorkflowContext interface {
		// Context returns a Go context carrying this WorkflowContext. Code that
		// receives it (the runner) detects workflow execution through
		// WorkflowContextFromContext.
		Context() context.Context

		// WorkflowID returns the workflow identifier.
		WorkflowID() string

		// RunID returns the identifier of the current run.
		RunID() string

		// ExecuteInvokeActivity schedules the invoke activity and blocks until
		// it completes.
		ExecuteInvokeActivity(ctx context.Context, call InvokeActivityCall) (*api.InvokeResult, error)

		// Now returns the workflow time.
		Now() time.Time
	}

	// WorkflowHandle represents a running workflow.
	WorkflowHandle interface {
		// Wait blocks until the workflow completes and returns its result.
		Wait(ctx context.Context) (*api.InvokeResult, error)
		// Cancel requests cancellation of the workflow.
		Cancel(ctx context.Context) error
	}

	// WorkflowFunc is the workflow entry point.
	WorkflowFunc func(wctx WorkflowContext, req *api.InvokeRequest) (*api.InvokeResult, error)

	// WorkflowDefinition binds a workflow name to its handler.
	WorkflowDefinition struct {
		// Name is the workflow type name.
		Name string
		// TaskQueue overrides the engine default queue.
		TaskQueue string
		// Handler runs the workflow.
		Handler WorkflowFunc
	}

	// WorkflowStartRequest describes a workflow execution to start.
	WorkflowStartRequest struct {
		// ID is the unique workflow identifier.
		ID string
		// Workflow is the registered workflow name.
		Workflow string
		// TaskQueue overrides the workflow definition queue.
		TaskQueue string
		// Input is passed to the workflow handler.
		Input *api.InvokeRequest
		// RetryPolicy applies to the whole workflow execution.
		RetryPolicy RetryPolicy
	}

	// InvokeActivityFunc runs an agent invocation. ctx is marked as an
	// activity context and carries a Heartbeater.
	InvokeActivityFunc func(ctx context.Context, req *api.InvokeRequest) (*api.InvokeResult, error)

	// InvokeActivityDefinition binds the activity name to its handler and
	// default options.
	InvokeActivityDefinition struct {
		Name    string
		Handler InvokeActivityFunc
		Options ActivityOptions
	}

	// InvokeActivityCall describes one scheduling of the invoke activity.
	// Zero-valued options fall back to the registered defaults.
	InvokeActivityCall struct {
		Name    string
		Input   *api.InvokeRequest
		Options ActivityOptions
	}

	// ActivityOptions configure activity scheduling.
	ActivityOptions struct {
		// Queue is the task queue; empty means the engine default.
		Queue string
		// StartToCloseTimeout bounds a single attempt.
		StartToCloseTimeout time.Duration
		// HeartbeatTimeout is the maximum allowed gap between heartbeats.
		HeartbeatTimeout time.Duration
		// RetryPolicy controls retries.
		RetryPolicy RetryPolicy
	}

	// RetryPolicy defines retry semantics shared by workflows and activities.
	RetryPolicy struct {
		// MaxAttempts caps the total attempts. Zero means the backend default.
		MaxAttempts int
		// InitialInterval is the delay before the first retry.
		InitialInterval time.Duration
		// BackoffCoefficient multiplies the delay after each retry.
		BackoffCoefficient float64
	}
)

// DefaultActivityOptions returns the options applied to the invoke activity
// when none are configured: ten minute start-to-close and heartbeat timeouts
// and a single attempt.
func DefaultActivityOptions() ActivityOptions {
	return ActivityOptions{
		StartToCloseTimeout: DefaultStartToCloseTimeout,
		HeartbeatTimeout:    DefaultHeartbeatTimeout,
		RetryPolicy:         RetryPolicy{MaxAttempts: 1},
	}
}

// Merge returns o with zero fields filled from defaults.
func (o ActivityOptions) Merge(defaults ActivityOptions) ActivityOptions {
	if o.Queue == "" {
		o.Queue = defaults.Queue
	}
	if o.StartToCloseTimeout == 0 {
		o.StartToCloseTimeout = defaults.StartToCloseTimeout
	}
	if o.HeartbeatTimeout == 0 {
		o.HeartbeatTimeout = defaults.HeartbeatTimeout
	}
	if o.RetryPolicy.MaxAttempts == 0 {
		o.RetryPolicy.MaxAttempts = defaults.RetryPolicy.MaxAttempts
	}
	if o.RetryPolicy.InitialInterval == 0 {
		o.RetryPolicy.InitialInterval = defaults.RetryPolicy.InitialInterval
	}
	if o.RetryPolicy.BackoffCoefficient == 0 {
		o.RetryPolicy.BackoffCoefficient = defaults.RetryPolicy.BackoffCoefficient
	}
	return o
}

// IsZero reports whether no retry setting is configured.
func (r RetryPolicy) IsZero() bool {
	return r.MaxAttempts == 0 && r.InitialInterval == 0 && r.BackoffCoefficient == 0
}
