// Package api defines the payloads that cross the workflow/activity boundary
// of the agent runtime. Every type here must round-trip through the engine
// data converter (JSON).
package api

import (
	"errors"

	"github.com/agentex/agentex-go/runtime/agent/provider"
)

type (
	// InvokeRequest asks the runtime to run a registered agent against the
	// given input. It is the input of the invoke activity and of the turn
	// workflow.
	InvokeRequest struct {
		// TaskID identifies the task whose message stream receives updates.
		TaskID string `json:"task_id"`
		// Agent is the name of a registered agent.
		Agent string `json:"agent"`
		// Input is the conversation handed to the model.
		Input []provider.InputItem `json:"input"`
		// StartIndex is the first stream index used for output items.
		StartIndex int `json:"start_index"`
		// AutoSend runs the tool loop: tool calls are surfaced as messages,
		// executed and fed back to the model until it stops calling tools.
		AutoSend bool `json:"auto_send,omitempty"`
		// MaxTurns bounds the tool loop. Zero means the runner default.
		MaxTurns int `json:"max_turns,omitempty"`
	}

	// InvokeResult is the outcome of an agent invocation.
	InvokeResult struct {
		// ResponseID is the provider identifier of the last model response.
		ResponseID string `json:"response_id,omitempty"`
		// Output holds the output items of the last model response.
		Output []provider.OutputItem `json:"output"`
		// FinalOutput is the text of the last model response.
		FinalOutput string `json:"final_output"`
		// NewItems are the input items produced during the invocation
		// (assistant messages, function calls and their outputs).
		NewItems []provider.InputItem `json:"new_items"`
		// ToolCalls are the function calls of the last model response.
		ToolCalls []provider.ToolCall `json:"tool_calls,omitempty"`
		// Usage sums token usage over every model call.
		Usage provider.Usage `json:"usage"`
		// NextIndex is the next free stream index.
		NextIndex int `json:"next_index"`
		// Turns counts model calls.
		Turns int `json:"turns"`
	}
)

// Validate reports whether the request can be executed.
func (r *InvokeRequest) Validate() error {
	if r == nil {
		return errors.New("invoke request is required")
	}
	if r.TaskID == "" {
		return errors.New("invoke request: task id is required")
	}
	if r.Agent == "" {
		return errors.New("invoke request: agent is required")
	}
	if r.StartIndex < 0 {
		return errors.New("invoke request: start index must not be negative")
	}
	return nil
}
