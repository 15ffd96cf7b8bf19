package anthropic

import (
	"errors"
	"io"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentex/agentex-go/runtime/agent/provider"
)

// testDecoder feeds a fixed sequence of events to the ssestream.Stream.
type testDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return d.err }

func sse(typ, data string) ssestream.Event {
	return ssestream.Event{Type: typ, Data: []byte(data)}
}

var (
	messageStart = sse("message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant",
		"model":"claude-sonnet-4-5","content":[],"stop_reason":null,"usage":{"input_tokens":7,"output_tokens":1}}}`)
	textStart  = sse("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)
	textDelta1 = sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`)
	textDelta2 = sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`)
	textStop   = sse("content_block_stop", `{"type":"content_block_stop","index":0}`)
	toolStart  = sse("content_block_start", `{"type":"content_block_start","index":1,
		"content_block":{"type":"tool_use","id":"toolu_1","name":"lookup_order","input":{}}}`)
	toolDelta1   = sse("content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"id\":"}}`)
	toolDelta2   = sse("content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"42}"}}`)
	toolStop     = sse("content_block_stop", `{"type":"content_block_stop","index":1}`)
	messageDelta = sse("message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":12}}`)
	messageStop  = sse("message_stop", `{"type":"message_stop"}`)
)

func newTestStream(names map[string]string, err error, events ...ssestream.Event) *eventStream {
	dec := &testDecoder{events: events, err: err}
	return newEventStream(ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil), names)
}

func drainEvents(t *testing.T, s *eventStream) ([]provider.Event, error) {
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

func TestEventStreamTextAndToolCall(t *testing.T) {
	s := newTestStream(map[string]string{"lookup_order": "orders.lookup"}, nil,
		messageStart, textStart, textDelta1, textDelta2, textStop,
		toolStart, toolDelta1, toolDelta2, toolStop, messageDelta, messageStop)
	defer func() { _ = s.Close() }()

	events, err := drainEvents(t, s)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	want := []string{
		"response.output_item.added",
		"response.output_text.delta",
		"response.output_text.delta",
		"response.output_item.done",
		"response.output_item.added",
		"response.function_call_arguments.delta",
		"response.function_call_arguments.delta",
		"response.function_call_arguments.done",
		"response.output_item.done",
		"response.completed",
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %#v", len(events), len(want), events)
	}
	for i, ev := range events {
		if ev.EventType() != want[i] {
			t.Fatalf("event %d: got %q, want %q", i, ev.EventType(), want[i])
		}
	}

	added := events[0].(provider.ItemAdded)
	if added.Item.Type != provider.ItemMessage || added.Item.ID != "msg_1_0" {
		t.Fatalf("unexpected message item %#v", added.Item)
	}
	if d := events[1].(provider.TextDelta); d.ItemID != "msg_1_0" || d.Delta != "Hel" {
		t.Fatalf("unexpected text delta %#v", d)
	}
	if done := events[3].(provider.ItemDone); done.Item.Text != "Hello" {
		t.Fatalf("unexpected message text %q", done.Item.Text)
	}
	tool := events[4].(provider.ItemAdded)
	if tool.Item.Name != "orders.lookup" || tool.Item.CallID != "toolu_1" || tool.OutputIndex != 1 {
		t.Fatalf("unexpected tool item %#v", tool)
	}
	if args := events[7].(provider.ArgumentsDone); args.Arguments != `{"id":42}` {
		t.Fatalf("unexpected arguments %q", args.Arguments)
	}
	completed := events[9].(provider.Completed)
	if completed.ResponseID != "msg_1" {
		t.Fatalf("unexpected response id %q", completed.ResponseID)
	}
	if len(completed.Output) != 2 || completed.Output[1].Arguments != `{"id":42}` {
		t.Fatalf("unexpected output %#v", completed.Output)
	}
	if completed.Usage.InputTokens != 7 || completed.Usage.OutputTokens != 12 || completed.Usage.TotalTokens != 19 {
		t.Fatalf("unexpected usage %#v", completed.Usage)
	}
}

func TestEventStreamThinking(t *testing.T) {
	s := newTestStream(nil, nil,
		messageStart,
		sse("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":"","signature":""}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"Let me think"}}`),
		sse("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig"}}`),
		sse("content_block_stop", `{"type":"content_block_stop","index":0}`),
		messageStop)

	events, err := drainEvents(t, s)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events: %#v", len(events), events)
	}
	if added := events[0].(provider.ItemAdded); added.Item.Type != provider.ItemReasoning {
		t.Fatalf("unexpected item %#v", added.Item)
	}
	if d := events[1].(provider.ReasoningContentDelta); d.Delta != "Let me think" || d.ItemID != "msg_1_0" {
		t.Fatalf("unexpected reasoning delta %#v", d)
	}
	done := events[2].(provider.ItemDone)
	if len(done.Item.Content) != 1 || done.Item.Content[0] != "Let me think" {
		t.Fatalf("unexpected reasoning content %#v", done.Item.Content)
	}
}

func TestEventStreamEmptyToolArguments(t *testing.T) {
	s := newTestStream(nil, nil, messageStart, toolStart, toolStop, messageStop)

	events, err := drainEvents(t, s)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if args := events[1].(provider.ArgumentsDone); args.Arguments != "{}" {
		t.Fatalf("unexpected arguments %q", args.Arguments)
	}
	if name := events[2].(provider.ItemDone).Item.Name; name != "lookup_order" {
		t.Fatalf("unexpected tool name %q", name)
	}
}

func TestEventStreamTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	s := newTestStream(nil, boom, messageStart, textStart, textDelta1)

	events, err := drainEvents(t, s)
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected the events received before the failure, got %#v", events)
	}
	if _, err := s.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after failure, got %v", err)
	}
}

func TestEventStreamUnknownBlockDelta(t *testing.T) {
	s := newTestStream(nil, nil, messageStart, textDelta1)

	_, err := drainEvents(t, s)
	if err == nil {
		t.Fatal("expected error for delta without block start")
	}
}
