package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/agentex/agentex-go/runtime/agent/message"
	"github.com/agentex/agentex-go/runtime/agent/provider"
	"github.com/agentex/agentex-go/runtime/agent/stream"
	"github.com/agentex/agentex-go/runtime/agent/telemetry"
	"github.com/agentex/agentex-go/runtime/agent/tracing"
)

// run is one turn in flight.
type run struct {
	c         *Coordinator
	taskID    string
	stateID   string
	messageID string
	text      string
	st        *ConversationState
	sink      stream.Sink
	span      tracing.Span

	// held are response deltas waiting for the guardrails.
	held []string
}

// respond streams the answer to the turn message at index 0 and persists the
// conversation. Processing info is cleared and Done sent on every path.
func (r *run) respond(ctx context.Context) (err error) {
	c := r.c
	r.st.ConversationHistory = append(r.st.ConversationHistory, Entry{Role: RoleUser, Content: r.text})
	if err := r.sink.Send(ctx, r.taskID, message.Start(0, message.NewText(""))); err != nil {
		c.clearProcessing(context.WithoutCancel(ctx), r.taskID, r.stateID, r.messageID)
		return err
	}

	gctx, cancelGuardrails := context.WithCancel(ctx)
	verdict := make(chan guardrailOutcome, 1)
	var g errgroup.Group
	g.Go(func() error {
		verdict <- c.runGuardrails(gctx, r.text, r.st.Clone())
		return nil
	})
	defer func() {
		cancelGuardrails()
		_ = g.Wait()
		cleanup := context.WithoutCancel(ctx)
		c.clearProcessing(cleanup, r.taskID, r.stateID, r.messageID)
		if derr := r.sink.Send(cleanup, r.taskID, message.Done(0)); derr != nil {
			err = errors.Join(err, derr)
		}
	}()

	outcome, response, interrupted, err := r.streamResponse(ctx, verdict)
	if err != nil || interrupted {
		return err
	}

	var text string
	if outcome.passed() {
		text = response.Text()
		doc := map[string]any{ResponseTextField: text}
		if c.format == FormatJSON {
			doc = nil
			if err := json.Unmarshal([]byte(response.Document()), &doc); err != nil {
				return fmt.Errorf("turn: decode response: %w", err)
			}
		}
		if c.onResponse != nil {
			if err := c.onResponse(ctx, r.st, doc, r.span); err != nil {
				return err
			}
		} else {
			r.span.SetOutput(doc)
		}
	} else {
		failed := outcome.failed[0]
		c.logger.Info(ctx, "guardrail failed, regenerating response", "task_id", r.taskID, "guardrail", failed.Name())
		var interrupted bool
		text, interrupted, err = r.streamOverride(ctx, failed.OutcomePrompt())
		if err != nil || interrupted {
			return err
		}
		r.span.SetOutput(map[string]any{ResponseTextField: text, "guardrails_hit": outcome.names()})
	}

	r.st.ConversationHistory = append(r.st.ConversationHistory, Entry{Role: RoleAssistant, Content: text})
	if c.finish != nil {
		if err := c.finish(ctx, r.taskID, r.st, r.sink); err != nil {
			return err
		}
	}
	r.st.ProcessingInfo = nil
	r.st.StateVersion++
	return c.persist(ctx, r.taskID, r.stateID, r.st)
}

// responseStream turns model text into user text.
type responseStream interface {
	Feed(chunk string) string
	Text() string
	Document() string
}

// streamResponse streams the primary generation. Deltas are held until the
// guardrails pass and discarded when one fails. interrupted is true when a
// newer message took over the conversation.
func (r *run) streamResponse(ctx context.Context, verdict <-chan guardrailOutcome) (outcome guardrailOutcome, response responseStream, interrupted bool, err error) {
	c := r.c
	events, err := r.generate(ctx, "")
	if err != nil {
		return outcome, nil, false, err
	}
	defer r.closeStream(ctx, events)

	response = &textStream{}
	if c.format == FormatJSON {
		response = newFieldStream(ResponseTextField)
	}
	resolved := false
	for {
		chunk, ok, err := nextText(events)
		if err != nil {
			return outcome, nil, false, fmt.Errorf("turn: stream response: %w", err)
		}
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return outcome, nil, false, err
		}
		if r.interrupted(ctx) {
			return outcome, nil, true, nil
		}
		if !resolved {
			select {
			case outcome = <-verdict:
				resolved = true
				if outcome.passed() {
					if err := r.flush(ctx); err != nil {
						return outcome, nil, false, err
					}
				}
			default:
			}
		}
		if resolved && !outcome.passed() {
			return outcome, response, false, nil
		}
		delta := response.Feed(chunk)
		if delta == "" {
			continue
		}
		if !resolved {
			r.held = append(r.held, delta)
			continue
		}
		if err := r.sendDelta(ctx, delta); err != nil {
			return outcome, nil, false, err
		}
	}
	if !resolved {
		select {
		case outcome = <-verdict:
		case <-ctx.Done():
			return outcome, nil, false, ctx.Err()
		}
		if outcome.passed() {
			if err := r.flush(ctx); err != nil {
				return outcome, nil, false, err
			}
		}
	}
	return outcome, response, false, nil
}

// streamOverride streams a plain text generation instructed by prompt.
// interrupted is true when a newer message took over the conversation.
func (r *run) streamOverride(ctx context.Context, prompt string) (_ string, interrupted bool, _ error) {
	events, err := r.generate(ctx, prompt)
	if err != nil {
		return "", false, err
	}
	defer r.closeStream(ctx, events)
	var text strings.Builder
	for {
		chunk, ok, err := nextText(events)
		if err != nil {
			return "", false, fmt.Errorf("turn: stream response: %w", err)
		}
		if !ok {
			return text.String(), false, nil
		}
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		if r.interrupted(ctx) {
			return "", true, nil
		}
		text.WriteString(chunk)
		if err := r.sendDelta(ctx, chunk); err != nil {
			return "", false, err
		}
	}
}

// interrupted reports whether a newer message flagged this turn.
func (r *run) interrupted(ctx context.Context) bool {
	c := r.c
	if !c.interrupted(ctx, r.taskID, r.messageID) {
		return false
	}
	c.logger.Info(ctx, "turn interrupted by a newer message", "task_id", r.taskID, "message_id", r.messageID)
	c.metrics.IncCounter(telemetry.MetricTurnInterrupted, 1, "agent", c.agentID)
	return true
}

// generate starts a model stream over the recent history. A non-empty
// override replaces the prompt and asks for plain text.
func (r *run) generate(ctx context.Context, override string) (provider.EventStream, error) {
	c := r.c
	history := r.st.ConversationHistory
	if len(history) > c.historyMaxTurns {
		history = history[len(history)-c.historyMaxTurns:]
	}
	input := make([]provider.InputItem, 0, len(history))
	for _, e := range history {
		input = append(input, provider.InputItem{Kind: provider.InputMessage, Role: e.Role, Content: e.Content})
	}
	settings := c.settings
	settings.JSONSchema = nil
	if override == "" && c.format == FormatJSON {
		settings.JSONSchema = c.schema
	}
	events, err := c.model.Stream(ctx, &provider.Request{
		Model:        c.modelName,
		Instructions: c.prompt(r.st, override),
		Input:        input,
		Settings:     settings,
	})
	if err != nil {
		return nil, fmt.Errorf("turn: start model stream: %w", err)
	}
	return events, nil
}

func (r *run) flush(ctx context.Context) error {
	held := r.held
	r.held = nil
	for _, d := range held {
		if err := r.sendDelta(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) sendDelta(ctx context.Context, text string) error {
	return r.sink.Send(ctx, r.taskID, message.Stream(0, message.TextDelta{TextDelta: text}))
}

func (r *run) closeStream(ctx context.Context, events provider.EventStream) {
	if err := events.Close(); err != nil {
		r.c.logger.Debug(ctx, "closing model stream failed", "task_id", r.taskID, "err", err)
	}
}

// textStream passes text through.
type textStream struct {
	b strings.Builder
}

func (t *textStream) Feed(chunk string) string {
	t.b.WriteString(chunk)
	return chunk
}

func (t *textStream) Text() string     { return t.b.String() }
func (t *textStream) Document() string { return t.b.String() }

// nextText returns the next text delta of events. ok is false at the end of
// the stream.
func nextText(events provider.EventStream) (string, bool, error) {
	for {
		ev, err := events.Recv()
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		if d, ok := ev.(provider.TextDelta); ok && d.Delta != "" {
			return d.Delta, true, nil
		}
	}
}

// collectText returns the message text of a complete response. The
// completed output wins over the streamed deltas.
func collectText(events provider.EventStream) (string, error) {
	var b strings.Builder
	for {
		ev, err := events.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		switch e := ev.(type) {
		case provider.TextDelta:
			b.WriteString(e.Delta)
		case provider.Completed:
			var out strings.Builder
			for _, it := range e.Output {
				if it.Type == provider.ItemMessage {
					out.WriteString(it.Text)
				}
			}
			if out.Len() > 0 {
				b.Reset()
				b.WriteString(out.String())
			}
		}
	}
}
