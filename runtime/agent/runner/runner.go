// Package runner runs registered agents against a streaming model. It is the
// bridge between plain Go callers and durable workflows: InvokeAgent detects a
// workflow context and schedules the invoke activity, and runs the model call
// directly (with heartbeats and a tracing span) everywhere else.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentex/agentex-go/runtime/agent/api"
	"github.com/agentex/agentex-go/runtime/agent/engine"
	"github.com/agentex/agentex-go/runtime/agent/provider"
	"github.com/agentex/agentex-go/runtime/agent/stream"
	"github.com/agentex/agentex-go/runtime/agent/telemetry"
	"github.com/agentex/agentex-go/runtime/agent/tracing"
)

const (
	// ActivityName is the name of the invoke activity.
	ActivityName = "agentex.invoke_agent"
	// SpanModelResponse names the span wrapping each model call.
	SpanModelResponse = "streaming_model_get_response"
	// DefaultMaxTurns bounds the auto-send loop.
	DefaultMaxTurns = 10
)

var (
	// ErrMaxTurnsExceeded is returned when the auto-send loop is still
	// receiving tool calls after the maximum number of model calls.
	ErrMaxTurnsExceeded = errors.New("runner: max turns exceeded")
	// ErrUnknownAgent is returned when a request names an agent that is not
	// registered.
	ErrUnknownAgent = errors.New("runner: unknown agent")
)

type (
	// Agent describes a model configuration the runner can invoke.
	Agent struct {
		// Name identifies the agent in invoke requests.
		Name string
		// Model is the provider model; empty uses the adapter default.
		Model        string
		Instructions string
		Tools        []provider.Tool
		// Handoffs name other registered agents the model may transfer to.
		Handoffs []provider.Handoff
		Settings provider.Settings
	}

	// Options configures a Runner.
	Options struct {
		// Model streams responses. Required.
		Model provider.Model
		// Streams publishes message updates. Required.
		Streams *stream.Service
		// Tracer records model call spans. Defaults to a no-op tracer.
		Tracer  tracing.Tracer
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		// HeartbeatInterval is the period of activity heartbeats while a
		// model call is in flight. Defaults to engine.DefaultHeartbeatInterval.
		HeartbeatInterval time.Duration
		// ActivityOptions configure the invoke activity. Zero fields use
		// engine.DefaultActivityOptions.
		ActivityOptions engine.ActivityOptions
		// MaxTurns bounds the auto-send loop. Defaults to DefaultMaxTurns.
		MaxTurns int
	}

	// Runner invokes registered agents.
	Runner struct {
		model      provider.Model
		streams    *stream.Service
		translator *provider.Translator
		tracer     tracing.Tracer
		logger     telemetry.Logger
		metrics    telemetry.Metrics
		heartbeat  time.Duration
		activity   engine.ActivityOptions
		maxTurns   int

		mu     sync.RWMutex
		agents map[string]Agent
		// schemas holds the compiled argument schemas of each agent's
		// function tools, keyed by agent then tool name.
		schemas map[string]map[string]*jsonschema.Schema
	}

	spanInput struct {
		TaskID     string `json:"task_id"`
		Agent      string `json:"agent"`
		Model      string `json:"model,omitempty"`
		InputItems int    `json:"input_items"`
		Tools      int    `json:"tools"`
		StartIndex int    `json:"start_index"`
	}

	spanOutput struct {
		NewItems    []provider.InputItem `json:"new_items"`
		FinalOutput string               `json:"final_output"`
	}
)

// New returns a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Model == nil {
		return nil, errors.New("runner: model is required")
	}
	if opts.Streams == nil {
		return nil, errors.New("runner: streaming service is required")
	}
	logger := telemetry.LoggerOrNoop(opts.Logger)
	metrics := telemetry.MetricsOrNoop(opts.Metrics)
	translator, err := provider.NewTranslator(provider.TranslatorOptions{Streams: opts.Streams, Logger: logger, Metrics: metrics})
	if err != nil {
		return nil, err
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Runner{
		model:      opts.Model,
		streams:    opts.Streams,
		translator: translator,
		tracer:     tracing.OrNoop(opts.Tracer),
		logger:     logger,
		metrics:    metrics,
		heartbeat:  opts.HeartbeatInterval,
		activity:   opts.ActivityOptions.Merge(engine.DefaultActivityOptions()),
		maxTurns:   maxTurns,
		agents:     make(map[string]Agent),
		schemas:    make(map[string]map[string]*jsonschema.Schema),
	}, nil
}

// Register adds agent to the runner. Tool definitions are validated and
// function tool parameters compiled so configuration errors surface before
// any stream is opened.
func (r *Runner) Register(agent Agent) error {
	if agent.Name == "" {
		return errors.New("runner: agent name is required")
	}
	req := provider.Request{Tools: agent.Tools, Handoffs: agent.Handoffs}
	if err := provider.ValidateTools(req.AllTools()); err != nil {
		return fmt.Errorf("runner: agent %q: %w", agent.Name, err)
	}
	schemas, err := compileParameters(agent.Tools)
	if err != nil {
		return fmt.Errorf("runner: agent %q: %w", agent.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.agents[agent.Name]; dup {
		return fmt.Errorf("runner: agent %q already registered", agent.Name)
	}
	r.agents[agent.Name] = agent
	r.schemas[agent.Name] = schemas
	return nil
}

// RegisterActivity registers the invoke activity on eng.
func (r *Runner) RegisterActivity(ctx context.Context, eng engine.Engine) error {
	return eng.RegisterInvokeActivity(ctx, engine.InvokeActivityDefinition{
		Name:    ActivityName,
		Handler: r.invoke,
		Options: r.activity,
	})
}

// InvokeAgent runs the agent named by req. When ctx belongs to a workflow
// the invocation is scheduled as the invoke activity, otherwise it runs in
// the calling goroutine.
func (r *Runner) InvokeAgent(ctx context.Context, req *api.InvokeRequest) (*api.InvokeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if engine.InWorkflow(ctx) {
		wf := engine.WorkflowContextFromContext(ctx)
		return wf.ExecuteInvokeActivity(ctx, engine.InvokeActivityCall{Name: ActivityName, Input: req, Options: r.activity})
	}
	return r.invoke(ctx, req)
}

// RunAutoSend runs the agent in a loop: every tool call is surfaced as a
// tool request message, executed, surfaced as a tool response message and
// fed back to the model, until the model answers without tool calls.
func (r *Runner) RunAutoSend(ctx context.Context, req *api.InvokeRequest) (*api.InvokeResult, error) {
	if req == nil {
		return nil, errors.New("invoke request is required")
	}
	cp := *req
	cp.AutoSend = true
	return r.InvokeAgent(ctx, &cp)
}

func (r *Runner) invoke(ctx context.Context, req *api.InvokeRequest) (*api.InvokeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	agent, err := r.agent(req.Agent)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		r.metrics.RecordTimer(telemetry.MetricInvokeDuration, time.Since(start), "agent", req.Agent)
	}()
	if req.AutoSend {
		return r.loop(ctx, agent, req)
	}
	res, err := r.callModel(ctx, agent, req.TaskID, req.Input, req.StartIndex)
	if err != nil {
		return nil, err
	}
	out := &api.InvokeResult{}
	accumulate(out, res)
	return out, nil
}

// callModel streams one model response through the translator. The span
// output is set exactly once when the call returns, whatever the outcome.
func (r *Runner) callModel(ctx context.Context, agent Agent, taskID string, input []provider.InputItem, index int) (res *provider.Result, err error) {
	modelReq := &provider.Request{
		Model:        agent.Model,
		Instructions: agent.Instructions,
		Input:        input,
		Tools:        agent.Tools,
		Handoffs:     agent.Handoffs,
		Settings:     agent.Settings,
	}
	if err := provider.ValidateTools(modelReq.AllTools()); err != nil {
		return nil, err
	}

	ctx, span := r.tracer.StartSpan(ctx, SpanModelResponse, spanInput{
		TaskID:     taskID,
		Agent:      agent.Name,
		Model:      agent.Model,
		InputItems: len(input),
		Tools:      len(modelReq.Tools) + len(modelReq.Handoffs),
		StartIndex: index,
	})
	defer func() {
		out := spanOutput{}
		if res != nil {
			out.NewItems = inputItems(res.Output)
			out.FinalOutput = res.Text
		}
		span.SetOutput(out)
		span.SetError(err)
		span.End()
	}()

	err = engine.RunWithHeartbeat(ctx, r.heartbeat, func(ctx context.Context) error {
		events, err := r.model.Stream(ctx, modelReq)
		if err != nil {
			return fmt.Errorf("runner: start model stream: %w", err)
		}
		defer func() {
			if cerr := events.Close(); cerr != nil {
				r.logger.Debug(ctx, "closing model stream failed", "task_id", taskID, "err", cerr)
			}
		}()
		res, err = r.translator.Translate(ctx, provider.TranslateRequest{TaskID: taskID, Events: events, StartIndex: index})
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Runner) agent(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return a, nil
}

// schema returns the compiled parameters of the function tool of the named
// agent, nil when the tool declares none.
func (r *Runner) schema(agent, tool string) *jsonschema.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[agent][tool]
}

// inputItems converts model output into the input items replaying it.
func inputItems(output []provider.OutputItem) []provider.InputItem {
	var items []provider.InputItem
	for _, it := range output {
		switch it.Type {
		case provider.ItemMessage:
			items = append(items, provider.AssistantMessage(it.Text))
		case provider.ItemFunctionCall:
			items = append(items, provider.FunctionCallInput(provider.ToolCall{ID: it.ID, CallID: it.CallID, Name: it.Name, Arguments: it.Arguments}))
		}
	}
	return items
}
