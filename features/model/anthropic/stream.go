package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentex/agentex-go/runtime/agent/provider"
)

// eventStream adapts an Anthropic Messages stream to provider.EventStream.
// One Anthropic event may yield several provider events; the extra ones are
// queued and returned by subsequent Recv calls.
type eventStream struct {
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	// toolNames maps provider-visible tool names back to canonical names.
	toolNames map[string]string

	pending    []provider.Event
	blocks     map[int]*blockBuffer
	output     []provider.OutputItem
	responseID string
	usage      provider.Usage
	done       bool
}

// blockBuffer accumulates one streamed content block.
type blockBuffer struct {
	item provider.OutputItem
	buf  strings.Builder
}

func newEventStream(stream *ssestream.Stream[sdk.MessageStreamEventUnion], toolNames map[string]string) *eventStream {
	return &eventStream{
		stream:    stream,
		toolNames: toolNames,
		blocks:    make(map[int]*blockBuffer),
	}
}

func (s *eventStream) Recv() (provider.Event, error) {
	for len(s.pending) == 0 {
		if s.done {
			return nil, io.EOF
		}
		if !s.stream.Next() {
			s.done = true
			if err := s.stream.Err(); err != nil {
				return nil, streamError(err)
			}
			return nil, io.EOF
		}
		if err := s.handle(s.stream.Current()); err != nil {
			s.done = true
			s.pending = nil
			return nil, err
		}
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

func (s *eventStream) Close() error {
	s.done = true
	s.pending = nil
	return s.stream.Close()
}

func (s *eventStream) emit(evs ...provider.Event) {
	s.pending = append(s.pending, evs...)
}

func (s *eventStream) handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		s.responseID = ev.Message.ID
		s.usage.InputTokens = ev.Message.Usage.InputTokens
		s.blocks = make(map[int]*blockBuffer)
		s.output = nil
	case sdk.ContentBlockStartEvent:
		return s.startBlock(int(ev.Index), ev.ContentBlock)
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		b := s.blocks[idx]
		if b == nil {
			return fmt.Errorf("anthropic stream: delta for unknown content block %d", idx)
		}
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			b.buf.WriteString(delta.Text)
			s.emit(provider.TextDelta{ItemID: b.item.ID, OutputIndex: idx, Delta: delta.Text})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			b.buf.WriteString(delta.PartialJSON)
			s.emit(provider.ArgumentsDelta{ItemID: b.item.ID, OutputIndex: idx, Delta: delta.PartialJSON})
		case sdk.ThinkingDelta:
			if delta.Thinking == "" {
				return nil
			}
			b.buf.WriteString(delta.Thinking)
			s.emit(provider.ReasoningContentDelta{ItemID: b.item.ID, Delta: delta.Thinking})
		}
	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		b := s.blocks[idx]
		if b == nil {
			return nil
		}
		delete(s.blocks, idx)
		item := b.item
		switch item.Type {
		case provider.ItemMessage:
			item.Text = b.buf.String()
		case provider.ItemFunctionCall:
			item.Arguments = finalArguments(b.buf.String())
			s.emit(provider.ArgumentsDone{ItemID: item.ID, OutputIndex: idx, Arguments: item.Arguments})
		case provider.ItemReasoning:
			if text := b.buf.String(); text != "" {
				item.Content = []string{text}
			}
		}
		s.output = append(s.output, item)
		s.emit(provider.ItemDone{OutputIndex: idx, Item: item})
	case sdk.MessageDeltaEvent:
		s.usage.OutputTokens = ev.Usage.OutputTokens
	case sdk.MessageStopEvent:
		s.usage.TotalTokens = s.usage.InputTokens + s.usage.OutputTokens
		s.emit(provider.Completed{
			ResponseID: s.responseID,
			Output:     append([]provider.OutputItem(nil), s.output...),
			Usage:      s.usage,
		})
	}
	return nil
}

func (s *eventStream) startBlock(idx int, block sdk.ContentBlockStartEventContentBlockUnion) error {
	b := &blockBuffer{}
	switch v := block.AsAny().(type) {
	case sdk.TextBlock:
		b.item = provider.OutputItem{Type: provider.ItemMessage, ID: s.blockID(idx)}
		b.buf.WriteString(v.Text)
	case sdk.ToolUseBlock:
		if v.ID == "" {
			return errors.New("anthropic stream: tool use block missing id")
		}
		if v.Name == "" {
			return fmt.Errorf("anthropic stream: tool use block %q missing name", v.ID)
		}
		// A tool name that was not advertised in the request is surfaced as
		// is so the agent loop can report it as unknown.
		name := v.Name
		if canonical, ok := s.toolNames[name]; ok {
			name = canonical
		}
		b.item = provider.OutputItem{Type: provider.ItemFunctionCall, ID: v.ID, CallID: v.ID, Name: name}
	case sdk.ThinkingBlock:
		b.item = provider.OutputItem{Type: provider.ItemReasoning, ID: s.blockID(idx)}
		b.buf.WriteString(v.Thinking)
	case sdk.RedactedThinkingBlock:
		b.item = provider.OutputItem{Type: provider.ItemReasoning, ID: s.blockID(idx), Raw: json.RawMessage(block.RawJSON())}
	default:
		b.item = provider.OutputItem{
			Type: provider.ItemType(block.Type),
			ID:   s.blockID(idx),
			Raw:  json.RawMessage(block.RawJSON()),
		}
	}
	s.blocks[idx] = b
	s.emit(provider.ItemAdded{OutputIndex: idx, Item: b.item})
	return nil
}

// blockID derives an item identifier for blocks the API does not name.
func (s *eventStream) blockID(idx int) string {
	return fmt.Sprintf("%s_%d", s.responseID, idx)
}

func finalArguments(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "{}"
	}
	return raw
}

// streamError wraps transport errors, marking HTTP 429 responses with
// provider.ErrRateLimited.
func streamError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("anthropic stream: %w: %w", provider.ErrRateLimited, err)
	}
	return fmt.Errorf("anthropic stream: %w", err)
}
