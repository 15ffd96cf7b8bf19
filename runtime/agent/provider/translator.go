package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/agentex/agentex-go/runtime/agent/message"
	"github.com/agentex/agentex-go/runtime/agent/stream"
	"github.com/agentex/agentex-go/runtime/agent/telemetry"
)

type (
	// TranslatorOptions configures a Translator.
	TranslatorOptions struct {
		// Streams opens the streaming contexts. Required.
		Streams *stream.Service
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
	}

	// Translator turns provider event streams into task message updates.
	// Reasoning items stream as reasoning messages that end with a static Full
	// update, message items stream as text messages, and function calls are
	// accumulated into ToolCalls returned with the Result.
	Translator struct {
		streams *stream.Service
		logger  telemetry.Logger
		metrics telemetry.Metrics
	}

	// TranslateRequest identifies the stream to translate.
	TranslateRequest struct {
		TaskID string
		Events EventStream
		// StartIndex is the message index assigned to the first opened
		// message. Later messages get consecutive indices.
		StartIndex int
	}

	// Result summarizes a translated response.
	Result struct {
		ResponseID string
		// Output is the provider's final output when it sent one, the items
		// accumulated from the stream otherwise.
		Output    []OutputItem
		Text      string
		ToolCalls []ToolCall
		Usage     Usage
		// NextIndex is the first message index not used by this response.
		NextIndex int
	}

	translation struct {
		*Translator
		taskID    string
		next      int
		texts     map[string]*textItem
		textOrder []string
		done      map[string]bool
		reasoning *reasoningItem
		history   map[string]*reasoningItem // per item, across reopened messages
		calls     map[int]*callAccumulator
		items     []OutputItem
		completed *Completed
	}

	textItem struct {
		sc  *stream.Context
		buf strings.Builder
	}

	reasoningItem struct {
		itemID    string
		sc        *stream.Context
		summaries []string
		contents  []string
	}

	callAccumulator struct {
		id     string
		callID string
		name   string
		args   strings.Builder
	}
)

// NewTranslator returns a Translator.
func NewTranslator(opts TranslatorOptions) (*Translator, error) {
	if opts.Streams == nil {
		return nil, errors.New("provider: streaming service is required")
	}
	return &Translator{
		streams: opts.Streams,
		logger:  telemetry.LoggerOrNoop(opts.Logger),
		metrics: telemetry.MetricsOrNoop(opts.Metrics),
	}, nil
}

// Translate consumes req.Events until io.EOF and streams the resulting
// messages for req.TaskID. Every message opened during translation is closed
// before Translate returns, whatever the outcome.
func (t *Translator) Translate(ctx context.Context, req TranslateRequest) (res *Result, err error) {
	if req.Events == nil {
		return nil, errors.New("provider: event stream is required")
	}
	tr := &translation{
		Translator: t,
		taskID:     req.TaskID,
		next:       req.StartIndex,
		texts:      make(map[string]*textItem),
		done:       make(map[string]bool),
		history:    make(map[string]*reasoningItem),
		calls:      make(map[int]*callAccumulator),
	}
	defer func() {
		if cerr := tr.closeAll(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, cerr)
			res = nil
		}
	}()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev, err := req.Events.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("provider: receive event: %w", err)
		}
		if err := tr.handle(ctx, ev); err != nil {
			return nil, err
		}
	}
	return tr.result(), nil
}

func (tr *translation) handle(ctx context.Context, ev Event) error {
	if tr.completed != nil {
		tr.anomaly(ctx, ev, eventItemID(ev))
		return nil
	}
	switch e := ev.(type) {
	case ItemAdded:
		return tr.itemAdded(ctx, e)
	case TextDelta:
		if tr.done[e.ItemID] {
			tr.anomaly(ctx, ev, e.ItemID)
			return nil
		}
		ti, err := tr.text(ctx, e.ItemID)
		if err != nil {
			return err
		}
		ti.buf.WriteString(e.Delta)
		return ti.sc.Delta(ctx, message.TextDelta{TextDelta: e.Delta})
	case ArgumentsDelta:
		acc, ok := tr.calls[e.OutputIndex]
		if !ok {
			tr.anomaly(ctx, ev, e.ItemID)
			return nil
		}
		acc.args.WriteString(e.Delta)
	case ArgumentsDone:
		if acc, ok := tr.calls[e.OutputIndex]; ok {
			acc.args.Reset()
			acc.args.WriteString(e.Arguments)
		}
	case ReasoningSummaryDelta:
		if tr.done[e.ItemID] {
			tr.anomaly(ctx, ev, e.ItemID)
			return nil
		}
		r, err := tr.openReasoning(ctx, e.ItemID)
		if err != nil {
			return err
		}
		r.summaries = appendAt(r.summaries, e.SummaryIndex, e.Delta)
		h := tr.historyOf(e.ItemID)
		h.summaries = appendAt(h.summaries, e.SummaryIndex, e.Delta)
		return r.sc.Delta(ctx, message.ReasoningSummaryDelta{SummaryIndex: e.SummaryIndex, SummaryDelta: e.Delta})
	case ReasoningContentDelta:
		if tr.done[e.ItemID] {
			tr.anomaly(ctx, ev, e.ItemID)
			return nil
		}
		r, err := tr.openReasoning(ctx, e.ItemID)
		if err != nil {
			return err
		}
		r.contents = appendAt(r.contents, e.ContentIndex, e.Delta)
		h := tr.historyOf(e.ItemID)
		h.contents = appendAt(h.contents, e.ContentIndex, e.Delta)
		return r.sc.Delta(ctx, message.ReasoningContentDelta{ContentIndex: e.ContentIndex, ContentDelta: e.Delta})
	case ReasoningSummaryPartAdded:
		if tr.done[e.ItemID] {
			tr.anomaly(ctx, ev, e.ItemID)
			return nil
		}
		_, err := tr.openReasoning(ctx, e.ItemID)
		return err
	case ReasoningSummaryPartDone:
		if r := tr.reasoning; r != nil && r.itemID == e.ItemID && len(nonEmpty(r.summaries)) > 0 {
			return tr.finishReasoning(ctx)
		}
	case ItemDone:
		return tr.itemDone(ctx, e)
	case Completed:
		tr.completed = &e
		return tr.closeAll(ctx)
	default:
		tr.logger.Debug(ctx, "ignoring provider event", "task_id", tr.taskID, "event", ev.EventType())
	}
	return nil
}

func (tr *translation) itemAdded(ctx context.Context, e ItemAdded) error {
	switch e.Item.Type {
	case ItemReasoning:
		_, err := tr.openReasoning(ctx, e.Item.ID)
		return err
	case ItemFunctionCall:
		acc := &callAccumulator{id: e.Item.ID, callID: e.Item.CallID, name: e.Item.Name}
		acc.args.WriteString(e.Item.Arguments)
		tr.calls[e.OutputIndex] = acc
	}
	return nil
}

func (tr *translation) itemDone(ctx context.Context, e ItemDone) error {
	item := e.Item
	switch item.Type {
	case ItemReasoning:
		if h, ok := tr.history[item.ID]; ok {
			if len(item.Summary) == 0 {
				item.Summary = nonEmpty(h.summaries)
			}
			if len(item.Content) == 0 {
				item.Content = nonEmpty(h.contents)
			}
		}
		if r := tr.reasoning; r != nil && r.itemID == item.ID {
			if err := tr.finishReasoning(ctx); err != nil {
				return err
			}
		}
	case ItemMessage:
		if ti, ok := tr.texts[item.ID]; ok {
			if item.Text == "" {
				item.Text = ti.buf.String()
			}
			if _, err := ti.sc.Close(ctx); err != nil {
				return err
			}
		}
	case ItemFunctionCall:
		if acc, ok := tr.calls[e.OutputIndex]; ok {
			item.ID, item.CallID, item.Name = acc.id, acc.callID, acc.name
			if acc.args.Len() > 0 {
				item.Arguments = acc.args.String()
			}
			delete(tr.calls, e.OutputIndex)
		}
	}
	if item.ID != "" {
		tr.done[item.ID] = true
	}
	tr.items = append(tr.items, item)
	return nil
}

func (tr *translation) text(ctx context.Context, itemID string) (*textItem, error) {
	if ti, ok := tr.texts[itemID]; ok {
		return ti, nil
	}
	initial := message.TextContent{Author: message.AuthorAgent, Format: message.FormatMarkdown, Style: message.StyleStatic}
	sc, err := tr.streams.Open(ctx, tr.taskID, tr.nextIndex(), initial)
	if err != nil {
		return nil, err
	}
	ti := &textItem{sc: sc}
	tr.texts[itemID] = ti
	tr.textOrder = append(tr.textOrder, itemID)
	return ti, nil
}

// openReasoning returns the reasoning message of itemID, finishing the
// reasoning of any other item first.
func (tr *translation) openReasoning(ctx context.Context, itemID string) (*reasoningItem, error) {
	if r := tr.reasoning; r != nil {
		if r.itemID == itemID {
			return r, nil
		}
		if err := tr.finishReasoning(ctx); err != nil {
			return nil, err
		}
	}
	initial := message.ReasoningContent{
		Author:  message.AuthorAgent,
		Summary: []string{},
		Content: []string{},
		Style:   message.StyleActive,
	}
	sc, err := tr.streams.Open(ctx, tr.taskID, tr.nextIndex(), initial)
	if err != nil {
		return nil, err
	}
	tr.reasoning = &reasoningItem{itemID: itemID, sc: sc}
	return tr.reasoning, nil
}

// finishReasoning sends the complete reasoning as a static Full update and
// closes its message.
func (tr *translation) finishReasoning(ctx context.Context) error {
	r := tr.reasoning
	if r == nil {
		return nil
	}
	tr.reasoning = nil
	summary, content := nonEmpty(r.summaries), nonEmpty(r.contents)
	var errs []error
	if len(summary) > 0 || len(content) > 0 {
		full := message.ReasoningContent{Author: message.AuthorAgent, Summary: summary, Content: content, Style: message.StyleStatic}
		if err := r.sc.Full(ctx, full); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := r.sc.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// closeAll closes every open message.
func (tr *translation) closeAll(ctx context.Context) error {
	var errs []error
	if r := tr.reasoning; r != nil {
		tr.reasoning = nil
		if _, err := r.sc.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range tr.textOrder {
		if _, err := tr.texts[id].sc.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (tr *translation) result() *Result {
	res := &Result{Output: tr.items, NextIndex: tr.next}
	if c := tr.completed; c != nil {
		res.ResponseID = c.ResponseID
		res.Usage = c.Usage
		if len(c.Output) > 0 {
			res.Output = c.Output
		}
	}
	var text strings.Builder
	for _, it := range res.Output {
		if it.Type == ItemMessage {
			text.WriteString(it.Text)
		}
	}
	res.Text = text.String()
	res.ToolCalls = ToolCalls(res.Output)
	return res
}

func (tr *translation) historyOf(itemID string) *reasoningItem {
	h, ok := tr.history[itemID]
	if !ok {
		h = &reasoningItem{itemID: itemID}
		tr.history[itemID] = h
	}
	return h
}

func (tr *translation) nextIndex() int {
	i := tr.next
	tr.next++
	return i
}

func (tr *translation) anomaly(ctx context.Context, ev Event, itemID string) {
	tr.logger.Warn(ctx, "dropping provider event for completed or unknown item",
		"task_id", tr.taskID, "event", ev.EventType(), "item_id", itemID)
	tr.metrics.IncCounter(telemetry.MetricTranslatorAnomaly, 1, "event", ev.EventType())
}

// eventItemID returns the item an event refers to, if any.
func eventItemID(ev Event) string {
	switch e := ev.(type) {
	case ItemAdded:
		return e.Item.ID
	case ItemDone:
		return e.Item.ID
	case TextDelta:
		return e.ItemID
	case ArgumentsDelta:
		return e.ItemID
	case ArgumentsDone:
		return e.ItemID
	case ReasoningSummaryDelta:
		return e.ItemID
	case ReasoningContentDelta:
		return e.ItemID
	case ReasoningSummaryPartAdded:
		return e.ItemID
	case ReasoningSummaryPartDone:
		return e.ItemID
	}
	return ""
}

func appendAt(list []string, i int, s string) []string {
	if i < 0 {
		i = 0
	}
	for len(list) <= i {
		list = append(list, "")
	}
	list[i] += s
	return list
}

func nonEmpty(list []string) []string {
	var out []string
	for _, s := range list {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
