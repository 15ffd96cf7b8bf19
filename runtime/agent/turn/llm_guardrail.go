package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/agentex/agentex-go/runtime/agent/provider"
	"github.com/agentex/agentex-go/runtime/agent/telemetry"
)

const defaultGuardrailPrompt = `Evaluate if this user message violates the {{.Name}} policy:

User message: {{.UserMessage}}

Previous assistant message: {{or .PreviousAssistantMessage "None"}}

Respond with a JSON object containing:
- "pass": true if the message is acceptable, false if it violates the policy
- "reason": brief explanation of your decision
`

const defaultGuardrailInstructions = `You are a policy compliance classifier for the %s guardrail.

Evaluate the user's message and determine if it passes or fails the policy check.

Respond ONLY with valid JSON matching this schema:
{
    "pass": true/false,
    "reason": "brief explanation"
}

Be objective and consistent in your evaluations.`

var verdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"pass":   map[string]any{"type": "boolean"},
		"reason": map[string]any{"type": "string"},
	},
	"required":             []string{"pass", "reason"},
	"additionalProperties": false,
}

type (
	// LLMGuardrailOptions configures an LLMGuardrail.
	LLMGuardrailOptions struct {
		Name              string
		OutcomePrompt     string
		OutcomePromptFile string
		// Prompt is a text/template rendered with Name, UserMessage,
		// PreviousAssistantMessage and the entries of Vars. A generic policy
		// prompt is used when empty.
		Prompt string
		// Instructions is the classifier system prompt.
		Instructions string
		// Model classifies the message. Required.
		Model provider.Model
		// ModelName selects the provider model.
		ModelName string
		Vars      map[string]any
		Logger    telemetry.Logger
	}

	// LLMGuardrail asks a model whether a message passes a policy. The model
	// must answer with {"pass": bool, "reason": string}.
	LLMGuardrail struct {
		name         string
		outcome      string
		instructions string
		modelName    string
		tmpl         *template.Template
		model        provider.Model
		vars         map[string]any
		logger       telemetry.Logger
	}

	verdict struct {
		Pass   *bool  `json:"pass"`
		Reason string `json:"reason"`
	}
)

// NewLLMGuardrail returns a guardrail classifying messages with a model.
func NewLLMGuardrail(opts LLMGuardrailOptions) (*LLMGuardrail, error) {
	if opts.Name == "" {
		return nil, errors.New("turn: guardrail name is required")
	}
	if opts.Model == nil {
		return nil, fmt.Errorf("turn: guardrail %q: model is required", opts.Name)
	}
	outcome, err := LoadOutcomePrompt(opts.OutcomePrompt, opts.OutcomePromptFile)
	if err != nil {
		return nil, fmt.Errorf("turn: guardrail %q: %w", opts.Name, err)
	}
	src := opts.Prompt
	if src == "" {
		src = defaultGuardrailPrompt
	}
	tmpl, err := template.New(opts.Name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("turn: guardrail %q: parse prompt: %w", opts.Name, err)
	}
	instructions := opts.Instructions
	if instructions == "" {
		instructions = fmt.Sprintf(defaultGuardrailInstructions, opts.Name)
	}
	return &LLMGuardrail{
		name:         opts.Name,
		outcome:      outcome,
		instructions: instructions,
		modelName:    opts.ModelName,
		tmpl:         tmpl,
		model:        opts.Model,
		vars:         opts.Vars,
		logger:       telemetry.LoggerOrNoop(opts.Logger),
	}, nil
}

func (g *LLMGuardrail) Name() string          { return g.name }
func (g *LLMGuardrail) OutcomePrompt() string { return g.outcome }

// Check renders the prompt, asks the model and returns its verdict.
func (g *LLMGuardrail) Check(ctx context.Context, text string, st *ConversationState) (bool, error) {
	prompt, err := g.render(text, st)
	if err != nil {
		return false, err
	}
	events, err := g.model.Stream(ctx, &provider.Request{
		Model:        g.modelName,
		Instructions: g.instructions,
		Input:        []provider.InputItem{provider.UserMessage(prompt)},
		Settings:     provider.Settings{JSONSchema: verdictSchema},
	})
	if err != nil {
		return false, fmt.Errorf("guardrail %q: start model stream: %w", g.name, err)
	}
	defer events.Close() //nolint:errcheck
	out, err := collectText(events)
	if err != nil {
		return false, fmt.Errorf("guardrail %q: %w", g.name, err)
	}
	var v verdict
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		return false, fmt.Errorf("guardrail %q: decode verdict: %w", g.name, err)
	}
	if v.Pass == nil {
		return false, fmt.Errorf("guardrail %q: verdict is missing pass", g.name)
	}
	g.logger.Info(ctx, "guardrail verdict", "guardrail", g.name, "pass", *v.Pass, "reason", v.Reason)
	return *v.Pass, nil
}

func (g *LLMGuardrail) render(text string, st *ConversationState) (string, error) {
	data := make(map[string]any, len(g.vars)+3)
	for k, v := range g.vars {
		data[k] = v
	}
	data["Name"] = g.name
	data["UserMessage"] = text
	data["PreviousAssistantMessage"] = ""
	if st != nil {
		if prev, ok := st.LastAssistantMessage(); ok {
			data["PreviousAssistantMessage"] = prev
		}
	}
	var b strings.Builder
	if err := g.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("guardrail %q: render prompt: %w", g.name, err)
	}
	return b.String(), nil
}
