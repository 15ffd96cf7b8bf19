// Package inmem provides an in-memory implementation of the workflow engine
// for tests and local development. Workflows run in goroutines of the calling
// process; nothing is durable or replay-safe.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentex/agentex-go/runtime/agent/api"
	"github.com/agentex/agentex-go/runtime/agent/engine"
)

// RunStatus is the lifecycle state of an in-memory workflow execution.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

type (
	// Engine is the in-memory engine.Engine.
	Engine struct {
		mu         sync.RWMutex
		workflows  map[string]engine.WorkflowDefinition
		activities map[string]engine.InvokeActivityDefinition
		statuses   map[string]RunStatus

		heartbeats atomic.Int64
	}

	handle struct {
		cancel context.CancelFunc
		done   chan struct{}
		result *api.InvokeResult
		err    error
	}

	wfCtx struct {
		ctx   context.Context
		id    string
		runID string
		eng   *Engine
	}
)

var _ engine.Engine = (*Engine)(nil)

// New returns an empty in-memory engine.
func New() *Engine {
	return &Engine{
		workflows:  make(map[string]engine.WorkflowDefinition),
		activities: make(map[string]engine.InvokeActivityDefinition),
		statuses:   make(map[string]RunStatus),
	}
}

// RegisterWorkflow registers def.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Handler == nil || def.Name == "" {
		return errors.New("invalid workflow definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

// RegisterInvokeActivity registers the invoke activity.
func (e *Engine) RegisterInvokeActivity(_ context.Context, def engine.InvokeActivityDefinition) error {
	if def.Name == "" {
		return errors.New("invoke activity name is required")
	}
	if def.Handler == nil {
		return errors.New("invoke activity handler is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.activities[def.Name]; dup {
		return fmt.Errorf("invoke activity %q already registered", def.Name)
	}
	e.activities[def.Name] = def
	return nil
}

// StartWorkflow runs the workflow handler in a new goroutine. The workflow
// ID doubles as the run ID.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	if req.ID == "" {
		return nil, errors.New("workflow id is required")
	}
	e.mu.Lock()
	def, ok := e.workflows[req.Workflow]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("workflow %q not registered", req.Workflow)
	}
	if e.statuses[req.ID] == RunStatusRunning {
		e.mu.Unlock()
		return nil, fmt.Errorf("workflow %q is already running", req.ID)
	}
	e.statuses[req.ID] = RunStatusRunning
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	wctx := &wfCtx{ctx: runCtx, id: req.ID, runID: req.ID, eng: e}
	h := &handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer cancel()
		h.result, h.err = def.Handler(wctx, req.Input)

		status := RunStatusCompleted
		switch {
		case h.err == nil:
		case errors.Is(h.err, context.Canceled):
			status = RunStatusCanceled
		default:
			status = RunStatusFailed
		}
		e.mu.Lock()
		e.statuses[req.ID] = status
		e.mu.Unlock()
	}()
	return h, nil
}

// QueryRunStatus returns the status of the workflow identified by runID.
func (e *Engine) QueryRunStatus(_ context.Context, runID string) (RunStatus, error) {
	if runID == "" {
		return "", errors.New("run id is required")
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	status, ok := e.statuses[runID]
	if !ok {
		return "", engine.ErrWorkflowNotFound
	}
	return status, nil
}

// Heartbeats returns the number of heartbeats recorded by activities.
func (e *Engine) Heartbeats() int64 {
	return e.heartbeats.Load()
}

func (h *handle) Wait(ctx context.Context) (*api.InvokeResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.result, h.err
	}
}

func (h *handle) Cancel(context.Context) error {
	h.cancel()
	return nil
}

func (w *wfCtx) Context() context.Context {
	return engine.WithWorkflowContext(w.ctx, w)
}

func (w *wfCtx) WorkflowID() string {
	return w.id
}

func (w *wfCtx) RunID() string {
	return w.runID
}

func (w *wfCtx) Now() time.Time {
	return time.Now()
}

// ExecuteInvokeActivity runs the registered activity synchronously. It
// applies the start-to-close timeout and retries according to the merged
// retry policy.
func (w *wfCtx) ExecuteInvokeActivity(ctx context.Context, call engine.InvokeActivityCall) (*api.InvokeResult, error) {
	if call.Name == "" {
		return nil, errors.New("invoke activity name is required")
	}
	if call.Input == nil {
		return nil, errors.New("invoke activity input is required")
	}
	w.eng.mu.RLock()
	def, ok := w.eng.activities[call.Name]
	w.eng.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("invoke activity %q not registered", call.Name)
	}
	opts := call.Options.Merge(def.Options).Merge(engine.DefaultActivityOptions())

	attempts := opts.RetryPolicy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := opts.RetryPolicy.InitialInterval
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			if c := opts.RetryPolicy.BackoffCoefficient; c > 1 {
				delay = time.Duration(float64(delay) * c)
			}
		}
		out, err := w.runActivity(ctx, def, call.Input, opts.StartToCloseTimeout)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (w *wfCtx) runActivity(ctx context.Context, def engine.InvokeActivityDefinition, in *api.InvokeRequest, timeout time.Duration) (*api.InvokeResult, error) {
	actx, cancel := withOptionalTimeout(ctx, timeout)
	defer cancel()
	actx = engine.WithActivityContext(engine.WithWorkflowContext(actx, w))
	actx = engine.WithHeartbeater(actx, engine.HeartbeaterFunc(func(context.Context, ...any) {
		w.eng.heartbeats.Add(1)
	}))
	return def.Handler(actx, in)
}

func withOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, timeout)
}
