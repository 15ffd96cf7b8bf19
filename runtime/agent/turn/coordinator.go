// Package turn coordinates conversational turns. A turn streams the agent
// response to a user message while the configured guardrails check the
// message concurrently: output is held back until every guardrail passes and
// replaced by a guardrail specific answer when one fails. A newer message
// arriving while a turn is in flight interrupts it through a handshake on the
// persisted conversation state, and the newer turn answers the merged
// utterance.
package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentex/agentex-go/runtime/agent/message"
	"github.com/agentex/agentex-go/runtime/agent/provider"
	"github.com/agentex/agentex-go/runtime/agent/state"
	"github.com/agentex/agentex-go/runtime/agent/stream"
	"github.com/agentex/agentex-go/runtime/agent/telemetry"
	"github.com/agentex/agentex-go/runtime/agent/tracing"
)

const (
	// SpanMessageSend names the span wrapping each handled message.
	SpanMessageSend = "handle_message_send"
	// ResponseTextField is the field of JSON responses streamed to the user.
	ResponseTextField = "response_text"
	// ApologyText is sent to the user when a turn fails.
	ApologyText = "I apologize, but I encountered an error. Could you please try again?"

	DefaultProcessingTimeout  = 5 * time.Second
	DefaultInterruptWait      = 5 * time.Second
	DefaultPollInterval       = 200 * time.Millisecond
	DefaultGuardrailMinLength = 5
	DefaultHistoryMaxTurns    = 1000
)

// ResponseFormat selects how model output is turned into user text.
type ResponseFormat int

const (
	// FormatText streams model text as is.
	FormatText ResponseFormat = iota
	// FormatJSON requests a JSON object and streams its response_text field.
	FormatJSON
)

type (
	// TurnInput is a user message.
	TurnInput struct {
		TaskID string
		Text   string
	}

	// PromptFunc returns the system prompt of a generation. override is the
	// outcome prompt of a failed guardrail, empty otherwise.
	PromptFunc func(st *ConversationState, override string) string

	// ResponseFunc updates the state from the decoded final response. It
	// owns the turn span output.
	ResponseFunc func(ctx context.Context, st *ConversationState, response map[string]any, span tracing.Span) error

	// FinishFunc runs after the response was streamed and may send
	// additional messages. Changes to st are persisted with the turn.
	FinishFunc func(ctx context.Context, taskID string, st *ConversationState, sink stream.Sink) error

	// Options configures a Coordinator.
	Options struct {
		// Store persists conversation states. Required.
		Store state.Store
		// Model generates responses. Required.
		Model provider.Model
		// AgentID keys the conversation state of a task. Required.
		AgentID string
		// ModelName selects the provider model.
		ModelName    string
		Instructions string
		// Prompt builds the system prompt. By default the outcome prompt of a
		// failed guardrail replaces Instructions.
		Prompt   PromptFunc
		Settings provider.Settings
		// Guardrails check every user message.
		Guardrails []Guardrail
		// ResponseFormat defaults to FormatText.
		ResponseFormat ResponseFormat
		// ResponseSchema is the JSON schema requested with FormatJSON. It
		// must declare a string response_text property. Defaults to an
		// object holding only response_text.
		ResponseSchema map[string]any
		OnResponse     ResponseFunc
		FinishTurn     FinishFunc
		// ProcessingTimeout is the age after which an in-flight turn is
		// considered crashed.
		ProcessingTimeout time.Duration
		// InterruptWait bounds the wait for an interrupted turn to stop.
		InterruptWait time.Duration
		// PollInterval is the period of state reads while waiting.
		PollInterval time.Duration
		// GuardrailMinLength is the length at or under which messages skip
		// guardrails. Negative values check every message.
		GuardrailMinLength int
		// HistoryMaxTurns bounds the history sent to the model.
		HistoryMaxTurns int
		Tracer          tracing.Tracer
		Logger          telemetry.Logger
		Metrics         telemetry.Metrics
		// Now defaults to time.Now.
		Now func() time.Time
	}

	// Coordinator runs conversational turns.
	Coordinator struct {
		store              state.Store
		model              provider.Model
		agentID            string
		modelName          string
		prompt             PromptFunc
		settings           provider.Settings
		guardrails         []Guardrail
		format             ResponseFormat
		schema             map[string]any
		onResponse         ResponseFunc
		finish             FinishFunc
		processingTimeout  time.Duration
		interruptWait      time.Duration
		pollInterval       time.Duration
		guardrailMinLength int
		historyMaxTurns    int
		tracer             tracing.Tracer
		logger             telemetry.Logger
		metrics            telemetry.Metrics
		now                func() time.Time
	}
)

// New returns a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("turn: state store is required")
	}
	if opts.Model == nil {
		return nil, errors.New("turn: model is required")
	}
	if opts.AgentID == "" {
		return nil, errors.New("turn: agent id is required")
	}
	for _, g := range opts.Guardrails {
		if g == nil {
			return nil, errors.New("turn: nil guardrail")
		}
	}
	c := &Coordinator{
		store:              opts.Store,
		model:              opts.Model,
		agentID:            opts.AgentID,
		modelName:          opts.ModelName,
		prompt:             opts.Prompt,
		settings:           opts.Settings,
		guardrails:         opts.Guardrails,
		format:             opts.ResponseFormat,
		schema:             opts.ResponseSchema,
		onResponse:         opts.OnResponse,
		finish:             opts.FinishTurn,
		processingTimeout:  durationOr(opts.ProcessingTimeout, DefaultProcessingTimeout),
		interruptWait:      durationOr(opts.InterruptWait, DefaultInterruptWait),
		pollInterval:       durationOr(opts.PollInterval, DefaultPollInterval),
		guardrailMinLength: opts.GuardrailMinLength,
		historyMaxTurns:    opts.HistoryMaxTurns,
		tracer:             tracing.OrNoop(opts.Tracer),
		logger:             telemetry.LoggerOrNoop(opts.Logger),
		metrics:            telemetry.MetricsOrNoop(opts.Metrics),
		now:                opts.Now,
	}
	if c.prompt == nil {
		instructions := opts.Instructions
		c.prompt = func(_ *ConversationState, override string) string {
			if override != "" {
				return override
			}
			return instructions
		}
	}
	if c.schema == nil {
		c.schema = map[string]any{
			"type": "object",
			"properties": map[string]any{
				ResponseTextField: map[string]any{"type": "string"},
			},
			"required":             []string{ResponseTextField},
			"additionalProperties": false,
		}
	}
	if c.guardrailMinLength == 0 {
		c.guardrailMinLength = DefaultGuardrailMinLength
	}
	if c.historyMaxTurns <= 0 {
		c.historyMaxTurns = DefaultHistoryMaxTurns
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// HandleMessage dispatches a task message: text starts a turn and data
// replaces the conversation state.
func (c *Coordinator) HandleMessage(ctx context.Context, taskID string, content message.Content, sink stream.Sink) error {
	switch m := content.(type) {
	case message.TextContent:
		return c.SendTurn(ctx, TurnInput{TaskID: taskID, Text: m.Content}, sink)
	case message.DataContent:
		return c.InitState(ctx, taskID, m.Data, sink)
	case nil:
		return errors.New("turn: message content is required")
	default:
		return fmt.Errorf("turn: unsupported content kind %q", content.Kind())
	}
}

// SendTurn answers a user message. Updates are sent to sink: the response
// streams at index 0, which is always terminated by Done. Failures other
// than cancellation also send an apology at index 1. The error is returned
// in every case.
func (c *Coordinator) SendTurn(ctx context.Context, in TurnInput, sink stream.Sink) error {
	if in.TaskID == "" {
		return errors.New("turn: task id is required")
	}
	if sink == nil {
		return errors.New("turn: sink is required")
	}
	return c.handle(ctx, in.TaskID, map[string]any{"task_id": in.TaskID, "content": in.Text}, sink, func(ctx context.Context, span tracing.Span) error {
		return c.sendTurn(ctx, span, in, sink)
	})
}

// InitState replaces the conversation state of the task with data and
// confirms at index 0.
func (c *Coordinator) InitState(ctx context.Context, taskID string, data map[string]any, sink stream.Sink) error {
	if taskID == "" {
		return errors.New("turn: task id is required")
	}
	if sink == nil {
		return errors.New("turn: sink is required")
	}
	return c.handle(ctx, taskID, map[string]any{"task_id": taskID, "data": data}, sink, func(ctx context.Context, span tracing.Span) error {
		st, err := DecodeState(data)
		if err != nil {
			return fmt.Errorf("turn: invalid conversation state: %w", err)
		}
		doc, err := st.Data()
		if err != nil {
			return fmt.Errorf("turn: encode conversation state: %w", err)
		}
		rec, err := c.store.Create(ctx, taskID, c.agentID, doc)
		if err != nil {
			return fmt.Errorf("turn: create conversation state: %w", err)
		}
		text := fmt.Sprintf("Successfully initialized conversation state. State ID: %s", rec.ID)
		span.SetOutput(map[string]any{ResponseTextField: text})
		return sendFull(ctx, sink, taskID, 0, text)
	})
}

// handle runs fn in the message span. Failures that are not cancellations
// are reported to the user with an apology.
func (c *Coordinator) handle(ctx context.Context, taskID string, input any, sink stream.Sink, fn func(context.Context, tracing.Span) error) error {
	if _, ok := tracing.CorrelationFromContext(ctx); !ok {
		ctx = tracing.WithCorrelation(ctx, tracing.Correlation{TraceID: taskID, TaskID: taskID})
	}
	ctx, span := c.tracer.StartSpan(ctx, SpanMessageSend, input)
	defer span.End()

	err := fn(ctx, span)
	if err == nil {
		return nil
	}
	span.SetError(err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	c.logger.Error(ctx, "message handling failed", "task_id", taskID, "err", err)
	span.SetOutput(map[string]any{"error": err.Error()})
	if aerr := sendFull(context.WithoutCancel(ctx), sink, taskID, 1, ApologyText); aerr != nil {
		err = errors.Join(err, aerr)
	}
	return err
}

func (c *Coordinator) sendTurn(ctx context.Context, span tracing.Span, in TurnInput, sink stream.Sink) error {
	messageID := in.TaskID + ":" + uuid.NewString()
	st, stateID := c.loadState(ctx, in.TaskID)

	text, interrupted, err := c.interrupt(ctx, in.TaskID, stateID, st, messageID, in.Text)
	if err != nil {
		return err
	}
	if interrupted {
		st, stateID = c.loadState(ctx, in.TaskID)
	}
	st.ProcessingInfo = &ProcessingInfo{
		MessageID:      messageID,
		MessageContent: text,
		StartedAt:      unixSeconds(c.now()),
	}
	if err := c.persist(ctx, in.TaskID, stateID, st); err != nil {
		return err
	}
	r := &run{
		c:         c,
		taskID:    in.TaskID,
		stateID:   stateID,
		messageID: messageID,
		text:      text,
		st:        st,
		sink:      sink,
		span:      span,
	}
	return r.respond(ctx)
}

// loadState returns the conversation state of the task, creating it when
// missing. When the store cannot create it the turn runs on an unsaved
// state and stateID is empty.
func (c *Coordinator) loadState(ctx context.Context, taskID string) (*ConversationState, string) {
	rec, err := c.store.Get(ctx, taskID, c.agentID)
	if err == nil {
		st, derr := DecodeState(rec.Data)
		if derr == nil {
			return st, rec.ID
		}
		err = derr
	}
	if !errors.Is(err, state.ErrNotFound) {
		c.logger.Warn(ctx, "failed to load conversation state, creating a new one", "task_id", taskID, "err", err)
	}
	st := &ConversationState{ConversationHistory: []Entry{}}
	doc, err := st.Data()
	if err == nil {
		rec, err = c.store.Create(ctx, taskID, c.agentID, doc)
	}
	if err != nil {
		c.logger.Warn(ctx, "failed to create conversation state, continuing without persistence", "task_id", taskID, "err", err)
		return st, ""
	}
	return st, rec.ID
}

// persist writes st unless the conversation runs without persistence.
func (c *Coordinator) persist(ctx context.Context, taskID, stateID string, st *ConversationState) error {
	if stateID == "" {
		return nil
	}
	doc, err := st.Data()
	if err != nil {
		return fmt.Errorf("turn: encode conversation state: %w", err)
	}
	if _, err := c.store.Update(ctx, stateID, taskID, c.agentID, doc); err != nil {
		return fmt.Errorf("turn: update conversation state: %w", err)
	}
	return nil
}

// processingInfo reads the current processing info of the task.
func (c *Coordinator) processingInfo(ctx context.Context, taskID string) (*ProcessingInfo, error) {
	rec, err := c.store.Get(ctx, taskID, c.agentID)
	if err != nil {
		return nil, err
	}
	st, err := DecodeState(rec.Data)
	if err != nil {
		return nil, err
	}
	return st.ProcessingInfo, nil
}

func sendFull(ctx context.Context, sink stream.Sink, taskID string, index int, text string) error {
	if err := sink.Send(ctx, taskID, message.Full(index, message.NewText(text))); err != nil {
		return err
	}
	return sink.Send(ctx, taskID, message.Done(index))
}

func durationOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
