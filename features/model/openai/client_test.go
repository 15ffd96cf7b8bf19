package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/responses"
	"github.com/stretchr/testify/require"

	openaimodel "github.com/agentex/agentex-go/features/model/openai"
	"github.com/agentex/agentex-go/runtime/agent/provider"
)

type stubResponses struct {
	params responses.ResponseNewParams
	events []string
	err    error
}

func (s *stubResponses) NewStreaming(_ context.Context, body responses.ResponseNewParams, _ ...option.RequestOption) *ssestream.Stream[responses.ResponseStreamEventUnion] {
	s.params = body
	return ssestream.NewStream[responses.ResponseStreamEventUnion](&testDecoder{data: s.events, err: s.err}, nil)
}

// testDecoder feeds fixed JSON payloads to the ssestream.Stream.
type testDecoder struct {
	data []string
	i    int
	err  error
}

func (d *testDecoder) Event() ssestream.Event {
	return ssestream.Event{Data: []byte(d.data[d.i-1])}
}

func (d *testDecoder) Next() bool {
	if d.i >= len(d.data) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return d.err }

const (
	messageAdded = `{"type":"response.output_item.added","sequence_number":1,"output_index":0,
		"item":{"type":"message","id":"msg_1","role":"assistant","status":"in_progress","content":[]}}`
	textDelta1 = `{"type":"response.output_text.delta","sequence_number":2,"item_id":"msg_1","output_index":0,"content_index":0,"delta":"Hel"}`
	textDelta2 = `{"type":"response.output_text.delta","sequence_number":3,"item_id":"msg_1","output_index":0,"content_index":0,"delta":"lo"}`
	messageDone = `{"type":"response.output_item.done","sequence_number":4,"output_index":0,
		"item":{"type":"message","id":"msg_1","role":"assistant","status":"completed",
		"content":[{"type":"output_text","text":"Hello","annotations":[]}]}}`
	responseCompleted = `{"type":"response.completed","sequence_number":5,"response":{
		"id":"resp_1","object":"response","status":"completed","model":"gpt-4o",
		"output":[{"type":"message","id":"msg_1","role":"assistant","status":"completed",
			"content":[{"type":"output_text","text":"Hello","annotations":[]}]}],
		"usage":{"input_tokens":3,"output_tokens":2,"total_tokens":5,
			"input_tokens_details":{"cached_tokens":0},"output_tokens_details":{"reasoning_tokens":1}}}}`
)

func newClient(t *testing.T, stub *stubResponses) *openaimodel.Client {
	t.Helper()
	client, err := openaimodel.New(openaimodel.Options{Client: stub, DefaultModel: "gpt-4o"})
	require.NoError(t, err)
	return client
}

func drain(t *testing.T, s provider.EventStream) ([]provider.Event, error) {
	t.Helper()
	var out []provider.Event
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

func TestStreamTranslatesTextEvents(t *testing.T) {
	stub := &stubResponses{events: []string{messageAdded, textDelta1, textDelta2, messageDone, responseCompleted}}
	client := newClient(t, stub)

	s, err := client.Stream(context.Background(), &provider.Request{Input: []provider.InputItem{provider.UserMessage("hi")}})
	require.NoError(t, err)
	events, err := drain(t, s)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	msg := provider.OutputItem{Type: provider.ItemMessage, ID: "msg_1", Text: "Hello"}
	require.Equal(t, []provider.Event{
		provider.ItemAdded{Item: provider.OutputItem{Type: provider.ItemMessage, ID: "msg_1"}},
		provider.TextDelta{ItemID: "msg_1", Delta: "Hel"},
		provider.TextDelta{ItemID: "msg_1", Delta: "lo"},
		provider.ItemDone{Item: msg},
		provider.Completed{
			ResponseID: "resp_1",
			Output:     []provider.OutputItem{msg},
			Usage:      provider.Usage{InputTokens: 3, OutputTokens: 2, ReasoningTokens: 1, TotalTokens: 5},
		},
	}, events)
}

func TestStreamTranslatesToolAndReasoningEvents(t *testing.T) {
	stub := &stubResponses{events: []string{
		`{"type":"response.output_item.added","output_index":0,"item":{"type":"reasoning","id":"rs_1","summary":[]}}`,
		`{"type":"response.reasoning_summary_part.added","item_id":"rs_1","output_index":0,"summary_index":0,"part":{"type":"summary_text","text":""}}`,
		`{"type":"response.reasoning_summary_text.delta","item_id":"rs_1","output_index":0,"summary_index":0,"delta":"think"}`,
		`{"type":"response.reasoning_summary_part.done","item_id":"rs_1","output_index":0,"summary_index":0,"part":{"type":"summary_text","text":"think"}}`,
		`{"type":"response.reasoning_text.delta","item_id":"rs_1","output_index":0,"content_index":1,"delta":"raw"}`,
		`{"type":"response.output_item.added","output_index":1,"item":{"type":"function_call","id":"fc_1","call_id":"call_1","name":"lookup","arguments":""}}`,
		`{"type":"response.function_call_arguments.delta","item_id":"fc_1","output_index":1,"delta":"{\"q\":"}`,
		`{"type":"response.function_call_arguments.done","item_id":"fc_1","output_index":1,"arguments":"{\"q\":1}"}`,
		`{"type":"response.in_progress","sequence_number":9}`,
	}}
	client := newClient(t, stub)

	s, err := client.Stream(context.Background(), &provider.Request{})
	require.NoError(t, err)
	events, err := drain(t, s)
	require.NoError(t, err)

	require.Equal(t, []provider.Event{
		provider.ItemAdded{Item: provider.OutputItem{Type: provider.ItemReasoning, ID: "rs_1"}},
		provider.ReasoningSummaryPartAdded{ItemID: "rs_1"},
		provider.ReasoningSummaryDelta{ItemID: "rs_1", Delta: "think"},
		provider.ReasoningSummaryPartDone{ItemID: "rs_1", Text: "think"},
		provider.ReasoningContentDelta{ItemID: "rs_1", ContentIndex: 1, Delta: "raw"},
		provider.ItemAdded{OutputIndex: 1, Item: provider.OutputItem{Type: provider.ItemFunctionCall, ID: "fc_1", CallID: "call_1", Name: "lookup"}},
		provider.ArgumentsDelta{ItemID: "fc_1", OutputIndex: 1, Delta: `{"q":`},
		provider.ArgumentsDone{ItemID: "fc_1", OutputIndex: 1, Arguments: `{"q":1}`},
		provider.Unknown{Type: "response.in_progress"},
	}, events)
}

func TestStreamErrors(t *testing.T) {
	t.Run("transport", func(t *testing.T) {
		stub := &stubResponses{events: []string{textDelta1}, err: errors.New("connection reset")}
		s, err := newClient(t, stub).Stream(context.Background(), &provider.Request{})
		require.NoError(t, err)
		events, err := drain(t, s)
		require.Len(t, events, 1)
		require.ErrorContains(t, err, "connection reset")
	})
	t.Run("failed response", func(t *testing.T) {
		stub := &stubResponses{events: []string{
			`{"type":"response.failed","response":{"id":"resp_1","status":"failed","error":{"code":"server_error","message":"overloaded"}}}`,
		}}
		s, err := newClient(t, stub).Stream(context.Background(), &provider.Request{})
		require.NoError(t, err)
		_, err = drain(t, s)
		require.EqualError(t, err, "openai: response failed: overloaded")
		_, err = s.Recv()
		require.ErrorIs(t, err, io.EOF)
	})
}

func TestStreamEncodesRequest(t *testing.T) {
	stub := &stubResponses{}
	client := newClient(t, stub)
	temp := 0.2
	_, err := client.Stream(context.Background(), &provider.Request{
		Model:        "gpt-4.1",
		Instructions: "Be brief.",
		Input: []provider.InputItem{
			provider.UserMessage("hi"),
			provider.AssistantMessage("hello"),
			provider.FunctionCallInput(provider.ToolCall{CallID: "call_1", Name: "lookup", Arguments: `{}`}),
			provider.FunctionOutputInput("call_1", "42"),
		},
		Tools: []provider.Tool{
			provider.FunctionTool{Name: "lookup", Description: "Search", Parameters: map[string]any{"type": "object"}, Strict: true},
			provider.WebSearchTool{SearchContextSize: "low", City: "Paris"},
			provider.FileSearchTool{VectorStoreIDs: []string{"vs_1"}, IncludeSearchResults: true},
		},
		Handoffs: []provider.Handoff{{AgentName: "Billing Agent"}},
		Settings: provider.Settings{
			Temperature: &temp,
			ToolChoice:  "lookup",
			JSONSchema:  map[string]any{"type": "object"},
			Metadata:    map[string]string{"task_id": "t1"},
		},
	})
	require.NoError(t, err)

	data, err := json.Marshal(stub.params)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))

	require.Equal(t, "gpt-4.1", body["model"])
	require.Equal(t, "Be brief.", body["instructions"])
	require.Equal(t, 0.2, body["temperature"])
	require.Equal(t, map[string]any{"task_id": "t1"}, body["metadata"])
	require.Equal(t, []any{"file_search_call.results"}, body["include"])

	input := body["input"].([]any)
	require.Len(t, input, 4)
	require.Equal(t, "user", input[0].(map[string]any)["role"])
	require.Equal(t, "assistant", input[1].(map[string]any)["role"])
	require.Equal(t, "function_call", input[2].(map[string]any)["type"])
	require.Equal(t, "function_call_output", input[3].(map[string]any)["type"])
	require.Equal(t, "42", input[3].(map[string]any)["output"])

	tools := body["tools"].([]any)
	require.Len(t, tools, 4)
	fn := tools[0].(map[string]any)
	require.Equal(t, "function", fn["type"])
	require.Equal(t, "lookup", fn["name"])
	require.Equal(t, "Search", fn["description"])
	require.Equal(t, true, fn["strict"])
	web := tools[1].(map[string]any)
	require.Equal(t, "web_search_preview", web["type"])
	require.Equal(t, "Paris", web["user_location"].(map[string]any)["city"])
	require.Equal(t, "file_search", tools[2].(map[string]any)["type"])
	require.Equal(t, "transfer_to_billing_agent", tools[3].(map[string]any)["name"])

	require.Equal(t, "lookup", body["tool_choice"].(map[string]any)["name"])
	format := body["text"].(map[string]any)["format"].(map[string]any)
	require.Equal(t, "json_schema", format["type"])
	require.Equal(t, map[string]any{"type": "object"}, format["schema"])
}

func TestStreamUsesDefaultModel(t *testing.T) {
	stub := &stubResponses{}
	_, err := newClient(t, stub).Stream(context.Background(), &provider.Request{
		Settings: provider.Settings{ToolChoice: "required"},
	})
	require.NoError(t, err)
	data, err := json.Marshal(stub.params)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	require.Equal(t, "gpt-4o", body["model"])
	require.Equal(t, "required", body["tool_choice"])
}

func TestStreamRejectsInvalidRequests(t *testing.T) {
	client := newClient(t, &stubResponses{})
	ctx := context.Background()

	_, err := client.Stream(ctx, &provider.Request{Settings: provider.Settings{ToolChoice: "missing"}})
	require.EqualError(t, err, `openai: tool choice "missing" does not match any function tool`)

	_, err = client.Stream(ctx, &provider.Request{Input: []provider.InputItem{{Kind: provider.InputMessage, Role: "tool"}}})
	require.EqualError(t, err, `openai: unsupported message role "tool"`)

	_, err = client.Stream(ctx, &provider.Request{Tools: []provider.Tool{provider.ComputerTool{}, provider.ComputerTool{}}})
	require.ErrorIs(t, err, provider.ErrMultipleComputerTools)

	_, err = client.Stream(ctx, nil)
	require.EqualError(t, err, "openai: request is required")
}

func TestNewValidation(t *testing.T) {
	_, err := openaimodel.New(openaimodel.Options{DefaultModel: "gpt-4o"})
	require.EqualError(t, err, "openai client is required")
	_, err = openaimodel.New(openaimodel.Options{Client: &stubResponses{}})
	require.EqualError(t, err, "default model is required")
	_, err = openaimodel.NewFromAPIKey("", "gpt-4o")
	require.EqualError(t, err, "api key is required")
}
