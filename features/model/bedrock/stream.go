package bedrock

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/uuid"

	"github.com/agentex/agentex-go/runtime/agent/provider"
)

// eventStream adapts a ConverseStream event stream to provider.EventStream.
// Converse only announces tool use blocks; text and reasoning blocks are
// opened by their first delta. The response completes when the event
// channel closes after a message stop, so the trailing metadata event is
// folded into the usage.
type eventStream struct {
	ctx    context.Context
	stream *bedrockruntime.ConverseStreamEventStream
	events <-chan brtypes.ConverseStreamOutput
	// toolNames maps provider-visible tool names back to canonical names.
	toolNames map[string]string

	pending    []provider.Event
	blocks     map[int]*blockBuffer
	output     []provider.OutputItem
	responseID string
	usage      provider.Usage
	stopped    bool
	done       bool
}

// blockBuffer accumulates one streamed content block.
type blockBuffer struct {
	item provider.OutputItem
	buf  strings.Builder
}

func newEventStream(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream, toolNames map[string]string) *eventStream {
	return &eventStream{
		ctx:        ctx,
		stream:     stream,
		events:     stream.Events(),
		toolNames:  toolNames,
		blocks:     make(map[int]*blockBuffer),
		responseID: "bedrock_" + uuid.NewString(),
	}
}

func (s *eventStream) Recv() (provider.Event, error) {
	for len(s.pending) == 0 {
		if s.done {
			return nil, io.EOF
		}
		select {
		case <-s.ctx.Done():
			s.done = true
			return nil, s.ctx.Err()
		case ev, ok := <-s.events:
			if !ok {
				s.done = true
				if err := s.stream.Err(); err != nil {
					return nil, streamError(err)
				}
				if s.stopped {
					s.usage.TotalTokens = max(s.usage.TotalTokens, s.usage.InputTokens+s.usage.OutputTokens)
					s.emit(provider.Completed{
						ResponseID: s.responseID,
						Output:     append([]provider.OutputItem(nil), s.output...),
						Usage:      s.usage,
					})
					continue
				}
				return nil, io.EOF
			}
			if err := s.handle(ev); err != nil {
				s.done = true
				s.pending = nil
				return nil, err
			}
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

func (s *eventStream) handle(event brtypes.ConverseStreamOutput) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		s.blocks = make(map[int]*blockBuffer)
		s.output = nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		toolUse, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse)
		if !ok {
			return nil
		}
		id := deref(toolUse.Value.ToolUseId)
		if id == "" {
			return fmt.Errorf("bedrock stream: tool use block %d missing id", idx)
		}
		name := deref(toolUse.Value.Name)
		if name == "" {
			return fmt.Errorf("bedrock stream: tool use block %q missing name", id)
		}
		// A tool name that was not advertised in the request is surfaced as
		// is so the agent loop can report it as unknown.
		item := provider.OutputItem{Type: provider.ItemFunctionCall, ID: id, CallID: id, Name: canonicalToolName(name, s.toolNames)}
		s.open(idx, item)
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		return s.delta(idx, ev.Value.Delta)
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		s.finish(idx)
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		// Blocks left open by the model are completed before the response.
		for _, idx := range slices.Sorted(maps.Keys(s.blocks)) {
			s.finish(idx)
		}
		s.stopped = true
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if u := ev.Value.Usage; u != nil {
			s.usage.InputTokens = int64(deref(u.InputTokens))
			s.usage.OutputTokens = int64(deref(u.OutputTokens))
			s.usage.TotalTokens = int64(deref(u.TotalTokens))
		}
	default:
		s.emit(provider.Unknown{Type: fmt.Sprintf("bedrock.%T", event)})
	}
	return nil
}

func (s *eventStream) delta(idx int, delta brtypes.ContentBlockDelta) error {
	switch d := delta.(type) {
	case *brtypes.ContentBlockDeltaMemberText:
		if d.Value == "" {
			return nil
		}
		b, err := s.block(idx, provider.ItemMessage)
		if err != nil {
			return err
		}
		b.buf.WriteString(d.Value)
		s.emit(provider.TextDelta{ItemID: b.item.ID, OutputIndex: idx, Delta: d.Value})
	case *brtypes.ContentBlockDeltaMemberReasoningContent:
		text, ok := d.Value.(*brtypes.ReasoningContentBlockDeltaMemberText)
		if !ok || text.Value == "" {
			// Signatures and redacted content are not surfaced.
			return nil
		}
		b, err := s.block(idx, provider.ItemReasoning)
		if err != nil {
			return err
		}
		b.buf.WriteString(text.Value)
		s.emit(provider.ReasoningContentDelta{ItemID: b.item.ID, Delta: text.Value})
	case *brtypes.ContentBlockDeltaMemberToolUse:
		b := s.blocks[idx]
		if b == nil || b.item.Type != provider.ItemFunctionCall {
			return fmt.Errorf("bedrock stream: tool input for unknown content block %d", idx)
		}
		in := deref(d.Value.Input)
		if in == "" {
			return nil
		}
		b.buf.WriteString(in)
		s.emit(provider.ArgumentsDelta{ItemID: b.item.ID, OutputIndex: idx, Delta: in})
	}
	return nil
}

// block returns the open block at idx, opening one of type typ on the first
// delta.
func (s *eventStream) block(idx int, typ provider.ItemType) (*blockBuffer, error) {
	if b := s.blocks[idx]; b != nil {
		if b.item.Type != typ {
			return nil, fmt.Errorf("bedrock stream: %s delta for %s content block %d", typ, b.item.Type, idx)
		}
		return b, nil
	}
	return s.open(idx, provider.OutputItem{Type: typ, ID: fmt.Sprintf("%s_%d", s.responseID, idx)}), nil
}

func (s *eventStream) open(idx int, item provider.OutputItem) *blockBuffer {
	b := &blockBuffer{item: item}
	s.blocks[idx] = b
	s.emit(provider.ItemAdded{OutputIndex: idx, Item: item})
	return b
}

func (s *eventStream) finish(idx int) {
	b := s.blocks[idx]
	if b == nil {
		return
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
}

func contentIndex(idx *int32) (int, error) {
	if idx == nil {
		return 0, fmt.Errorf("bedrock stream: content block index missing")
	}
	return int(*idx), nil
}

func finalArguments(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "{}"
	}
	return raw
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
