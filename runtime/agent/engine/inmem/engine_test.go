package inmem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentex/agentex-go/runtime/agent/api"
	"github.com/agentex/agentex-go/runtime/agent/engine"
)

func TestInvokeActivityFromWorkflow(t *testing.T) {
	eng := New()
	ctx := context.Background()

	require.NoError(t, eng.RegisterInvokeActivity(ctx, engine.InvokeActivityDefinition{
		Name: "invoke",
		Handler: func(actx context.Context, req *api.InvokeRequest) (*api.InvokeResult, error) {
			require.True(t, engine.IsActivityContext(actx))
			require.NotNil(t, engine.WorkflowContextFromContext(actx))
			engine.Heartbeat(actx)
			return &api.InvokeResult{FinalOutput: "hello " + req.TaskID}, nil
		},
	}))
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "turn",
		Handler: func(wctx engine.WorkflowContext, req *api.InvokeRequest) (*api.InvokeResult, error) {
			require.True(t, engine.InWorkflow(wctx.Context()))
			return wctx.ExecuteInvokeActivity(wctx.Context(), engine.InvokeActivityCall{Name: "invoke", Input: req})
		},
	}))

	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "run-1",
		Workflow: "turn",
		Input:    &api.InvokeRequest{TaskID: "t1", Agent: "a"},
	})
	require.NoError(t, err)
	out, err := h.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "hello t1", out.FinalOutput)
	require.EqualValues(t, 1, eng.Heartbeats())

	status, err := eng.QueryRunStatus(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, status)
}

func TestInvokeActivityRetries(t *testing.T) {
	eng := New()
	ctx := context.Background()
	calls := 0
	require.NoError(t, eng.RegisterInvokeActivity(ctx, engine.InvokeActivityDefinition{
		Name: "invoke",
		Handler: func(context.Context, *api.InvokeRequest) (*api.InvokeResult, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("transient")
			}
			return &api.InvokeResult{}, nil
		},
		Options: engine.ActivityOptions{RetryPolicy: engine.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond}},
	}))
	w := &wfCtx{ctx: ctx, id: "wf", runID: "wf", eng: eng}
	_, err := w.ExecuteInvokeActivity(ctx, engine.InvokeActivityCall{Name: "invoke", Input: &api.InvokeRequest{}})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestInvokeActivityDefaultsToSingleAttempt(t *testing.T) {
	eng := New()
	ctx := context.Background()
	calls := 0
	require.NoError(t, eng.RegisterInvokeActivity(ctx, engine.InvokeActivityDefinition{
		Name: "invoke",
		Handler: func(context.Context, *api.InvokeRequest) (*api.InvokeResult, error) {
			calls++
			return nil, errors.New("boom")
		},
	}))
	w := &wfCtx{ctx: ctx, id: "wf", runID: "wf", eng: eng}
	_, err := w.ExecuteInvokeActivity(ctx, engine.InvokeActivityCall{Name: "invoke", Input: &api.InvokeRequest{}})
	require.EqualError(t, err, "boom")
	require.Equal(t, 1, calls)
}

func TestWorkflowCancel(t *testing.T) {
	eng := New()
	ctx := context.Background()
	started := make(chan struct{})
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "block",
		Handler: func(wctx engine.WorkflowContext, _ *api.InvokeRequest) (*api.InvokeResult, error) {
			close(started)
			<-wctx.Context().Done()
			return nil, wctx.Context().Err()
		},
	}))
	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "run-2", Workflow: "block"})
	require.NoError(t, err)
	<-started
	require.NoError(t, h.Cancel(ctx))
	_, err = h.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	status, err := eng.QueryRunStatus(ctx, "run-2")
	require.NoError(t, err)
	require.Equal(t, RunStatusCanceled, status)
}

func TestRegistrationErrors(t *testing.T) {
	eng := New()
	ctx := context.Background()
	require.Error(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{Name: "x"}))
	require.Error(t, eng.RegisterInvokeActivity(ctx, engine.InvokeActivityDefinition{Name: "x"}))
	_, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "r", Workflow: "missing"})
	require.Error(t, err)
	_, err = eng.QueryRunStatus(ctx, "missing")
	require.ErrorIs(t, err, engine.ErrWorkflowNotFound)
}
