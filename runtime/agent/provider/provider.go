// Package provider defines the streaming model contract consumed by the agent
// runtime and translates provider stream events into task message updates.
//
// Model adapters (features/model/openai, features/model/anthropic) convert
// their SDK streams into the closed Event union declared here. The Translator
// consumes that union and drives streaming contexts so every output item
// becomes a well-formed sequence of message updates.
package provider

import (
	"context"
	"encoding/json"
	"errors"
)

type (
	// Model streams a model response.
	Model interface {
		// Stream starts a streaming response. The returned stream yields
		// events until io.EOF.
		Stream(ctx context.Context, req *Request) (EventStream, error)
	}

	// EventStream yields provider events. Recv returns io.EOF after the last
	// event. Close releases the underlying connection and may be called at
	// any time.
	EventStream interface {
		Recv() (Event, error)
		Close() error
	}

	// Request is a provider-agnostic model request.
	Request struct {
		// Model identifies the provider model. Adapters fall back to their
		// configured default when empty.
		Model string
		// Instructions is the system prompt.
		Instructions string
		// Input is the conversation so far.
		Input []InputItem
		// Tools available to the model.
		Tools []Tool
		// Handoffs are exposed to the model as function tools.
		Handoffs []Handoff
		// Settings tune generation.
		Settings Settings
	}

	// Settings tune generation. Zero values leave provider defaults.
	Settings struct {
		Temperature       *float64
		TopP              *float64
		MaxOutputTokens   int64
		ToolChoice        string
		ParallelToolCalls *bool
		// ReasoningEffort is one of "minimal", "low", "medium", "high".
		ReasoningEffort string
		// ReasoningSummary is one of "auto", "concise", "detailed".
		ReasoningSummary string
		// JSONSchema, when set, requests structured output matching the schema.
		JSONSchema map[string]any
		// Metadata is forwarded to providers that accept request metadata.
		Metadata map[string]string
	}

	// InputKind discriminates input items.
	InputKind string

	// InputItem is one entry of the model input.
	InputItem struct {
		Kind InputKind `json:"kind"`
		// Role is "user", "assistant", "system" or "developer" for messages.
		Role    string `json:"role,omitempty"`
		Content string `json:"content,omitempty"`
		// CallID, Name and Arguments describe function calls; CallID and Output
		// describe function call outputs.
		CallID    string `json:"call_id,omitempty"`
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
		Output    string `json:"output,omitempty"`
	}

	// ItemType is the type of a model output item.
	ItemType string

	// OutputItem is a completed model output item.
	OutputItem struct {
		Type ItemType `json:"type"`
		ID   string   `json:"id"`
		// Text is the message text for message items.
		Text string `json:"text,omitempty"`
		// CallID, Name and Arguments are set for function calls.
		CallID    string `json:"call_id,omitempty"`
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
		// Summary and Content are set for reasoning items.
		Summary []string `json:"summary,omitempty"`
		Content []string `json:"content,omitempty"`
		// Raw holds the provider payload for item types the runtime does not
		// interpret (hosted tool calls).
		Raw json.RawMessage `json:"raw,omitempty"`
	}

	// Usage reports token consumption.
	Usage struct {
		InputTokens     int64 `json:"input_tokens"`
		OutputTokens    int64 `json:"output_tokens"`
		ReasoningTokens int64 `json:"reasoning_tokens"`
		TotalTokens     int64 `json:"total_tokens"`
	}

	// ToolCall is a finalized function call.
	ToolCall struct {
		ID        string `json:"id"`
		CallID    string `json:"call_id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}
)

const (
	InputMessage            InputKind = "message"
	InputFunctionCall       InputKind = "function_call"
	InputFunctionCallOutput InputKind = "function_call_output"

	ItemMessage      ItemType = "message"
	ItemReasoning    ItemType = "reasoning"
	ItemFunctionCall ItemType = "function_call"
)

// ErrRateLimited is wrapped by adapters when the provider rejects a request
// because of rate limits.
var ErrRateLimited = errors.New("provider: rate limited")

// UserMessage returns a user message input item.
func UserMessage(text string) InputItem {
	return InputItem{Kind: InputMessage, Role: "user", Content: text}
}

// AssistantMessage returns an assistant message input item.
func AssistantMessage(text string) InputItem {
	return InputItem{Kind: InputMessage, Role: "assistant", Content: text}
}

// FunctionCallInput returns the input item replaying call.
func FunctionCallInput(call ToolCall) InputItem {
	return InputItem{Kind: InputFunctionCall, CallID: call.CallID, Name: call.Name, Arguments: call.Arguments}
}

// FunctionOutputInput returns the input item carrying the output of callID.
func FunctionOutputInput(callID, output string) InputItem {
	return InputItem{Kind: InputFunctionCallOutput, CallID: callID, Output: output}
}

// ToolCalls returns the function calls in items.
func ToolCalls(items []OutputItem) []ToolCall {
	var calls []ToolCall
	for _, it := range items {
		if it.Type == ItemFunctionCall {
			calls = append(calls, ToolCall{ID: it.ID, CallID: it.CallID, Name: it.Name, Arguments: it.Arguments})
		}
	}
	return calls
}
