package temporal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/agentex/agentex-go/runtime/agent/api"
	"github.com/agentex/agentex-go/runtime/agent/engine"
	"github.com/agentex/agentex-go/runtime/agent/provider"
	"github.com/agentex/agentex-go/runtime/agent/telemetry"
)

type countingMetrics struct {
	mu       sync.Mutex
	counters map[string]float64
}

func (m *countingMetrics) IncCounter(name string, value float64, _ ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]float64)
	}
	m.counters[name] += value
}

func (m *countingMetrics) RecordTimer(string, time.Duration, ...string) {}

func newTestEngine(metrics telemetry.Metrics) *Engine {
	return &Engine{
		defaultQueue:    "agentex",
		logger:          telemetry.NewNoopLogger(),
		metrics:         telemetry.MetricsOrNoop(metrics),
		workers:         make(map[string]*workerBundle),
		workflows:       make(map[string]engine.WorkflowDefinition),
		activityOptions: make(map[string]engine.ActivityOptions),
	}
}

func TestInvokeActivityRunsFromWorkflow(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	metrics := &countingMetrics{}
	e := newTestEngine(metrics)

	act := engine.InvokeActivityDefinition{
		Name: "agentex.invoke_agent",
		Handler: func(ctx context.Context, req *api.InvokeRequest) (*api.InvokeResult, error) {
			if !engine.IsActivityContext(ctx) {
				return nil, errors.New("not an activity context")
			}
			if engine.InWorkflow(ctx) {
				return nil, errors.New("activity context must not schedule activities")
			}
			engine.Heartbeat(ctx, "progress")
			return &api.InvokeResult{FinalOutput: "echo: " + req.Input[0].Content, NextIndex: req.StartIndex + 1}, nil
		},
	}
	wf := engine.WorkflowDefinition{
		Name: "agentex.turn",
		Handler: func(wctx engine.WorkflowContext, req *api.InvokeRequest) (*api.InvokeResult, error) {
			if !engine.InWorkflow(wctx.Context()) {
				return nil, errors.New("workflow context not attached")
			}
			return wctx.ExecuteInvokeActivity(wctx.Context(), engine.InvokeActivityCall{Name: act.Name, Input: req})
		},
	}
	env.RegisterActivityWithOptions(e.activityFunc(act), activity.RegisterOptions{Name: act.Name})
	env.RegisterWorkflowWithOptions(e.workflowFunc(wf), workflow.RegisterOptions{Name: wf.Name})

	var beats int
	env.SetOnActivityHeartbeatListener(func(*activity.Info, converter.EncodedValues) { beats++ })

	env.ExecuteWorkflow(wf.Name, &api.InvokeRequest{
		TaskID:     "task-1",
		Agent:      "support",
		Input:      []provider.InputItem{provider.UserMessage("hi")},
		StartIndex: 3,
	})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out *api.InvokeResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "echo: hi", out.FinalOutput)
	require.Equal(t, 4, out.NextIndex)
	require.Equal(t, 1, beats)
	require.InDelta(t, 1, metrics.counters[telemetry.MetricHeartbeatsRecorded], 0)
}

func TestInvokeActivityErrorFailsWorkflow(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	e := newTestEngine(nil)

	act := engine.InvokeActivityDefinition{
		Name: "agentex.invoke_agent",
		Handler: func(context.Context, *api.InvokeRequest) (*api.InvokeResult, error) {
			return nil, errors.New("model unavailable")
		},
	}
	wf := engine.WorkflowDefinition{
		Name: "agentex.turn",
		Handler: func(wctx engine.WorkflowContext, req *api.InvokeRequest) (*api.InvokeResult, error) {
			return wctx.ExecuteInvokeActivity(wctx.Context(), engine.InvokeActivityCall{Name: act.Name, Input: req})
		},
	}
	env.RegisterActivityWithOptions(e.activityFunc(act), activity.RegisterOptions{Name: act.Name})
	env.RegisterWorkflowWithOptions(e.workflowFunc(wf), workflow.RegisterOptions{Name: wf.Name})

	env.ExecuteWorkflow(wf.Name, &api.InvokeRequest{TaskID: "task-1", Agent: "support"})
	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	require.Contains(t, err.Error(), "model unavailable")
}

func TestActivityOptionsFor(t *testing.T) {
	e := newTestEngine(nil)
	e.activityOptions["invoke"] = engine.ActivityOptions{Queue: "models", HeartbeatTimeout: time.Minute}
	w := &temporalWorkflowContext{engine: e}

	opts := w.activityOptionsFor("invoke", engine.ActivityOptions{StartToCloseTimeout: time.Hour})
	require.Equal(t, "models", opts.TaskQueue)
	require.Equal(t, time.Hour, opts.StartToCloseTimeout)
	require.Equal(t, time.Minute, opts.HeartbeatTimeout)
	require.NotNil(t, opts.RetryPolicy)
	require.EqualValues(t, 1, opts.RetryPolicy.MaximumAttempts)

	opts = w.activityOptionsFor("unknown", engine.ActivityOptions{})
	require.Equal(t, "agentex", opts.TaskQueue)
	require.Equal(t, engine.DefaultStartToCloseTimeout, opts.StartToCloseTimeout)
	require.Equal(t, engine.DefaultHeartbeatTimeout, opts.HeartbeatTimeout)
}

func TestConvertRetryPolicy(t *testing.T) {
	require.Nil(t, convertRetryPolicy(engine.RetryPolicy{}))
	rp := convertRetryPolicy(engine.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, BackoffCoefficient: 2})
	require.EqualValues(t, 3, rp.MaximumAttempts)
	require.Equal(t, time.Second, rp.InitialInterval)
	require.InDelta(t, 2.0, rp.BackoffCoefficient, 0)
}

func TestNewRequiresQueueAndClient(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "temporal engine: worker options must include a default task queue")
	_, err = New(Options{WorkerOptions: WorkerOptions{TaskQueue: "q"}, Instrumentation: InstrumentationOptions{DisableTracing: true, DisableMetrics: true}})
	require.EqualError(t, err, "temporal engine: client options are required when Client is nil")
}
