package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentex/agentex-go/runtime/agent/api"
	"github.com/agentex/agentex-go/runtime/agent/engine"
	"github.com/agentex/agentex-go/runtime/agent/message"
	"github.com/agentex/agentex-go/runtime/agent/provider"
	"github.com/agentex/agentex-go/runtime/agent/telemetry"
)

// handoffOutput is the tool output sent to the model after a handoff.
type handoffOutput struct {
	Assistant string `json:"assistant"`
}

// loop runs the auto-send agent loop. Each model call is followed by a tool
// request and a tool response message per function call, every message is
// completed (Full then Done) before the next one starts.
func (r *Runner) loop(ctx context.Context, agent Agent, req *api.InvokeRequest) (*api.InvokeResult, error) {
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = r.maxTurns
	}
	input := append([]provider.InputItem(nil), req.Input...)
	index := req.StartIndex
	out := &api.InvokeResult{NextIndex: index}

	for turn := 0; turn < maxTurns; turn++ {
		res, err := r.callModel(ctx, agent, req.TaskID, input, index)
		if err != nil {
			return nil, err
		}
		accumulate(out, res)
		input = append(input, inputItems(res.Output)...)
		index = res.NextIndex
		if len(res.ToolCalls) == 0 {
			return out, nil
		}

		next := agent
		for _, call := range res.ToolCalls {
			if _, err := r.streams.Emit(ctx, req.TaskID, index, toolRequest(call)); err != nil {
				return nil, fmt.Errorf("runner: emit tool request %s: %w", call.CallID, err)
			}
			index++

			output, handoff := r.execute(ctx, agent, call)
			if handoff != nil {
				next = *handoff
			}
			if _, err := r.streams.Emit(ctx, req.TaskID, index, toolResponse(call, output)); err != nil {
				return nil, fmt.Errorf("runner: emit tool response %s: %w", call.CallID, err)
			}
			index++

			item := provider.FunctionOutputInput(call.CallID, output)
			input = append(input, item)
			out.NewItems = append(out.NewItems, item)
		}
		out.NextIndex = index
		agent = next
		engine.Heartbeat(ctx, turn+1)
	}
	r.logger.Warn(ctx, "agent loop exceeded max turns", "task_id", req.TaskID, "agent", agent.Name, "max_turns", maxTurns)
	r.metrics.IncCounter(telemetry.MetricMaxTurnsExceeded, 1, "agent", agent.Name)
	return nil, fmt.Errorf("%w (%d)", ErrMaxTurnsExceeded, maxTurns)
}

// execute runs the function tool or handoff named by call and returns the
// output sent back to the model. Tool failures are reported to the model
// rather than aborting the loop. When call is a handoff the target agent is
// returned.
func (r *Runner) execute(ctx context.Context, agent Agent, call provider.ToolCall) (string, *Agent) {
	for _, h := range agent.Handoffs {
		if h.ToolName() != call.Name {
			continue
		}
		target, err := r.agent(h.AgentName)
		if err != nil {
			r.logger.Warn(ctx, "handoff target not registered", "agent", h.AgentName, "err", err)
			return fmt.Sprintf("Error: agent %q is not available.", h.AgentName), nil
		}
		b, err := json.Marshal(handoffOutput{Assistant: target.Name})
		if err != nil {
			r.logger.Warn(ctx, "encode handoff output", "agent", target.Name, "err", err)
			return fmt.Sprintf("Error: handoff to %q failed.", target.Name), nil
		}
		return string(b), &target
	}
	for _, t := range agent.Tools {
		ft, ok := t.(provider.FunctionTool)
		if !ok || ft.Name != call.Name {
			continue
		}
		if ft.Handler == nil {
			return fmt.Sprintf("Error: tool %q has no handler.", call.Name), nil
		}
		if sch := r.schema(agent.Name, ft.Name); sch != nil {
			if err := validateArguments(sch, call.Arguments); err != nil {
				r.logger.Warn(ctx, "tool arguments rejected", "tool", call.Name, "call_id", call.CallID, "err", err)
				return fmt.Sprintf("An error occurred while running the tool. Please try again. Error: invalid arguments: %s", err), nil
			}
		}
		output, err := ft.Handler(ctx, call.Arguments)
		if err != nil {
			r.logger.Warn(ctx, "tool failed", "tool", call.Name, "call_id", call.CallID, "err", err)
			return fmt.Sprintf("An error occurred while running the tool. Please try again. Error: %s", err), nil
		}
		return output, nil
	}
	r.logger.Warn(ctx, "model called an unknown tool", "tool", call.Name, "call_id", call.CallID)
	return fmt.Sprintf("Error: tool %q not found.", call.Name), nil
}

func toolRequest(call provider.ToolCall) message.ToolRequestContent {
	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			args = map[string]any{"raw": call.Arguments}
		}
	}
	return message.ToolRequestContent{
		Author:     message.AuthorAgent,
		ToolCallID: call.CallID,
		Name:       call.Name,
		Arguments:  args,
		Style:      message.StyleStatic,
	}
}

func toolResponse(call provider.ToolCall, output string) message.ToolResponseContent {
	return message.ToolResponseContent{
		Author:     message.AuthorAgent,
		ToolCallID: call.CallID,
		Name:       call.Name,
		Content:    output,
		Style:      message.StyleStatic,
	}
}

// accumulate folds a model response into out. Fields describing the last
// response are replaced; usage and new items accumulate.
func accumulate(out *api.InvokeResult, res *provider.Result) {
	out.ResponseID = res.ResponseID
	out.Output = res.Output
	out.FinalOutput = res.Text
	out.ToolCalls = res.ToolCalls
	out.NewItems = append(out.NewItems, inputItems(res.Output)...)
	out.NextIndex = res.NextIndex
	out.Turns++
	out.Usage.InputTokens += res.Usage.InputTokens
	out.Usage.OutputTokens += res.Usage.OutputTokens
	out.Usage.ReasoningTokens += res.Usage.ReasoningTokens
	out.Usage.TotalTokens += res.Usage.TotalTokens
}
