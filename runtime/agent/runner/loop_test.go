package runner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentex/agentex-go/runtime/agent/api"
	"github.com/agentex/agentex-go/runtime/agent/message"
	"github.com/agentex/agentex-go/runtime/agent/provider"
	"github.com/agentex/agentex-go/runtime/agent/provider/providertest"
	"github.com/agentex/agentex-go/runtime/agent/runner"
	"github.com/agentex/agentex-go/runtime/agent/stream"
)

func weatherAgent(handler provider.ToolHandler) runner.Agent {
	return runner.Agent{
		Name: "weather",
		Tools: []provider.Tool{provider.FunctionTool{
			Name:       "get_weather",
			Parameters: map[string]any{"type": "object"},
			Handler:    handler,
		}},
	}
}

func TestRunAutoSendExecutesTools(t *testing.T) {
	model := providertest.NewModel(
		providertest.ToolCallResponse("fc_1", "call_1", "get_weather", `{"city":"Paris"}`),
		providertest.TextResponse("msg_1", "Sunny in Paris"),
	)
	var gotArgs string
	f := newFixture(t, model, weatherAgent(func(_ context.Context, args string) (string, error) {
		gotArgs = args
		return `{"forecast":"sunny"}`, nil
	}))

	out, err := f.runner.RunAutoSend(context.Background(), &api.InvokeRequest{
		TaskID: "task-1",
		Agent:  "weather",
		Input:  []provider.InputItem{provider.UserMessage("weather in Paris?")},
	})
	require.NoError(t, err)
	require.Equal(t, `{"city":"Paris"}`, gotArgs)
	require.Equal(t, "Sunny in Paris", out.FinalOutput)
	require.Equal(t, 2, out.Turns)
	require.Equal(t, 3, out.NextIndex)
	require.Equal(t, []provider.InputItem{
		provider.FunctionCallInput(provider.ToolCall{CallID: "call_1", Name: "get_weather", Arguments: `{"city":"Paris"}`}),
		provider.FunctionOutputInput("call_1", `{"forecast":"sunny"}`),
		provider.AssistantMessage("Sunny in Paris"),
	}, out.NewItems)

	// Tool request at 0, tool response at 1, final text at 2.
	req := f.sink.Index("task-1", 0)
	require.Equal(t, []message.UpdateType{message.UpdateFull, message.UpdateDone}, updateTypes(req))
	reqContent := req[0].(message.FullUpdate).Content.(message.ToolRequestContent)
	require.Equal(t, "call_1", reqContent.ToolCallID)
	require.Equal(t, map[string]any{"city": "Paris"}, reqContent.Arguments)

	resp := f.sink.Index("task-1", 1)
	require.Equal(t, []message.UpdateType{message.UpdateFull, message.UpdateDone}, updateTypes(resp))
	require.Equal(t, `{"forecast":"sunny"}`, resp[0].(message.FullUpdate).Content.(message.ToolResponseContent).Content)

	require.Equal(t, message.UpdateStart, f.sink.Index("task-1", 2)[0].Type())

	second := model.Requests()[1]
	require.Len(t, second.Input, 3)
	require.Equal(t, provider.InputFunctionCallOutput, second.Input[2].Kind)

	v := stream.NewValidator()
	for _, u := range f.sink.Updates("task-1") {
		require.NoError(t, v.Observe(u))
	}
	require.NoError(t, v.Finish())
}

func TestRunAutoSendReportsToolErrorsToModel(t *testing.T) {
	model := providertest.NewModel(
		providertest.ToolCallResponse("fc_1", "call_1", "get_weather", `{}`),
		providertest.TextResponse("msg_1", "Sorry"),
	)
	f := newFixture(t, model, weatherAgent(func(context.Context, string) (string, error) {
		return "", errors.New("api quota")
	}))

	out, err := f.runner.RunAutoSend(context.Background(), &api.InvokeRequest{TaskID: "t", Agent: "weather"})
	require.NoError(t, err)
	require.Equal(t, "Sorry", out.FinalOutput)
	require.Contains(t, model.Requests()[1].Input[1].Output, "api quota")
}

func TestRunAutoSendUnknownTool(t *testing.T) {
	model := providertest.NewModel(
		providertest.ToolCallResponse("fc_1", "call_1", "launch", `{}`),
		providertest.TextResponse("msg_1", "ok"),
	)
	f := newFixture(t, model)
	_, err := f.runner.RunAutoSend(context.Background(), &api.InvokeRequest{TaskID: "t", Agent: "support"})
	require.NoError(t, err)
	require.Equal(t, `Error: tool "launch" not found.`, model.Requests()[1].Input[1].Output)
}

func TestRunAutoSendRejectsInvalidArguments(t *testing.T) {
	model := providertest.NewModel(
		providertest.ToolCallResponse("fc_1", "call_1", "get_weather", `{"days":"three"}`),
		providertest.TextResponse("msg_1", "Which city?"),
	)
	called := false
	agent := weatherAgent(func(context.Context, string) (string, error) {
		called = true
		return "sunny", nil
	})
	agent.Tools = []provider.Tool{provider.FunctionTool{
		Name: "get_weather",
		Parameters: map[string]any{
			"type":     "object",
			"required": []string{"city"},
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
				"days": map[string]any{"type": "integer"},
			},
		},
		Handler: agent.Tools[0].(provider.FunctionTool).Handler,
	}}
	f := newFixture(t, model, agent)

	out, err := f.runner.RunAutoSend(context.Background(), &api.InvokeRequest{TaskID: "t", Agent: "weather"})
	require.NoError(t, err)
	require.False(t, called)
	require.Equal(t, "Which city?", out.FinalOutput)

	output := model.Requests()[1].Input[1].Output
	require.Contains(t, output, "An error occurred while running the tool. Please try again. Error: invalid arguments:")
	require.Contains(t, output, "city")
	resp := f.sink.Index("t", 1)
	require.Equal(t, output, resp[0].(message.FullUpdate).Content.(message.ToolResponseContent).Content)
}

func TestRunAutoSendRejectsMalformedArguments(t *testing.T) {
	model := providertest.NewModel(
		providertest.ToolCallResponse("fc_1", "call_1", "get_weather", `{"city":`),
		providertest.TextResponse("msg_1", "ok"),
	)
	called := false
	f := newFixture(t, model, weatherAgent(func(context.Context, string) (string, error) {
		called = true
		return "", nil
	}))

	_, err := f.runner.RunAutoSend(context.Background(), &api.InvokeRequest{TaskID: "t", Agent: "weather"})
	require.NoError(t, err)
	require.False(t, called)
	require.Contains(t, model.Requests()[1].Input[1].Output, "arguments are not valid JSON")
}

func TestRunAutoSendMaxTurns(t *testing.T) {
	model := providertest.NewModel(
		providertest.ToolCallResponse("fc_1", "call_1", "get_weather", `{}`),
		providertest.ToolCallResponse("fc_2", "call_2", "get_weather", `{}`),
	)
	f := newFixture(t, model, weatherAgent(func(context.Context, string) (string, error) { return "again", nil }))

	_, err := f.runner.RunAutoSend(context.Background(), &api.InvokeRequest{TaskID: "t", Agent: "weather", MaxTurns: 2})
	require.ErrorIs(t, err, runner.ErrMaxTurnsExceeded)
	require.Len(t, model.Requests(), 2)
}

func TestRunAutoSendHandoff(t *testing.T) {
	triage := runner.Agent{
		Name:     "triage",
		Handoffs: []provider.Handoff{{AgentName: "Billing"}},
	}
	billing := runner.Agent{Name: "Billing", Instructions: "You handle invoices."}
	model := providertest.NewModel(
		providertest.ToolCallResponse("fc_1", "call_1", "transfer_to_billing", `{}`),
		providertest.TextResponse("msg_1", "Here is your invoice"),
	)
	f := newFixture(t, model, triage, billing)

	out, err := f.runner.RunAutoSend(context.Background(), &api.InvokeRequest{TaskID: "t", Agent: "triage"})
	require.NoError(t, err)
	require.Equal(t, "Here is your invoice", out.FinalOutput)
	reqs := model.Requests()
	require.Equal(t, "You handle invoices.", reqs[1].Instructions)
	require.Equal(t, `{"assistant":"Billing"}`, reqs[1].Input[1].Output)
	resp := f.sink.Index("t", 1)
	require.Equal(t, `{"assistant":"Billing"}`, resp[0].(message.FullUpdate).Content.(message.ToolResponseContent).Content)
}

func TestRunAutoSendHandoffOutputEscapesName(t *testing.T) {
	triage := runner.Agent{
		Name:     "triage",
		Handoffs: []provider.Handoff{{AgentName: `Billing "EU"`}},
	}
	billing := runner.Agent{Name: `Billing "EU"`}
	model := providertest.NewModel(
		providertest.ToolCallResponse("fc_1", "call_1", "transfer_to_billing__eu_", `{}`),
		providertest.TextResponse("msg_1", "done"),
	)
	f := newFixture(t, model, triage, billing)

	_, err := f.runner.RunAutoSend(context.Background(), &api.InvokeRequest{TaskID: "t", Agent: "triage"})
	require.NoError(t, err)
	require.JSONEq(t, `{"assistant":"Billing \"EU\""}`, model.Requests()[1].Input[1].Output)
}

func TestRunAutoSendStopsOnSinkFailure(t *testing.T) {
	model := providertest.NewModel(providertest.ToolCallResponse("fc_1", "call_1", "get_weather", `{}`))
	f := newFixture(t, model, weatherAgent(func(context.Context, string) (string, error) { return "x", nil }))
	boom := errors.New("sink closed")
	f.sink.SetFail(boom)

	_, err := f.runner.RunAutoSend(context.Background(), &api.InvokeRequest{TaskID: "t", Agent: "weather"})
	require.ErrorIs(t, err, boom)
}
