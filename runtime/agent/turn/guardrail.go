package turn

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/agentex/agentex-go/runtime/agent/telemetry"
)

// ErrOutcomePromptRequired is returned when a guardrail is built without an
// outcome prompt.
var ErrOutcomePromptRequired = errors.New("turn: outcome prompt or outcome prompt file is required")

type (
	// Guardrail checks user messages before the agent response is released.
	// When Check fails the turn discards the generated response and answers
	// with a new generation instructed by OutcomePrompt.
	Guardrail interface {
		// Name identifies the guardrail in logs, metrics and spans.
		Name() string
		// OutcomePrompt is the system prompt used when the check fails.
		OutcomePrompt() string
		// Check reports whether text passes. Errors count as failures.
		Check(ctx context.Context, text string, st *ConversationState) (bool, error)
	}

	// CheckFunc is the check of a guardrail built with NewGuardrail.
	CheckFunc func(ctx context.Context, text string, st *ConversationState) (bool, error)

	funcGuardrail struct {
		name    string
		outcome string
		check   CheckFunc
	}

	// guardrailOutcome is the combined result of all guardrails of a turn.
	guardrailOutcome struct {
		failed []Guardrail
	}
)

// NewGuardrail returns a guardrail running check. The outcome prompt is
// outcomePrompt or, when empty, the content of outcomePromptFile.
func NewGuardrail(name, outcomePrompt, outcomePromptFile string, check CheckFunc) (Guardrail, error) {
	if name == "" {
		return nil, errors.New("turn: guardrail name is required")
	}
	if check == nil {
		return nil, fmt.Errorf("turn: guardrail %q: check is required", name)
	}
	prompt, err := LoadOutcomePrompt(outcomePrompt, outcomePromptFile)
	if err != nil {
		return nil, fmt.Errorf("turn: guardrail %q: %w", name, err)
	}
	return &funcGuardrail{name: name, outcome: prompt, check: check}, nil
}

// LoadOutcomePrompt returns prompt when set and the content of file
// otherwise.
func LoadOutcomePrompt(prompt, file string) (string, error) {
	if prompt != "" {
		return prompt, nil
	}
	if file == "" {
		return "", ErrOutcomePromptRequired
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read outcome prompt: %w", err)
	}
	return string(b), nil
}

func (g *funcGuardrail) Name() string          { return g.name }
func (g *funcGuardrail) OutcomePrompt() string { return g.outcome }

func (g *funcGuardrail) Check(ctx context.Context, text string, st *ConversationState) (bool, error) {
	return g.check(ctx, text, st)
}

func (o guardrailOutcome) passed() bool { return len(o.failed) == 0 }

func (o guardrailOutcome) names() []string {
	names := make([]string, len(o.failed))
	for i, g := range o.failed {
		names[i] = g.Name()
	}
	return names
}

// runGuardrails runs every guardrail concurrently and returns the failed
// ones in declaration order. Short messages skip the checks entirely.
func (c *Coordinator) runGuardrails(ctx context.Context, text string, st *ConversationState) guardrailOutcome {
	if len(c.guardrails) == 0 || len([]rune(text)) <= c.guardrailMinLength {
		return guardrailOutcome{}
	}
	results := make([]bool, len(c.guardrails))
	var g errgroup.Group
	for i, gr := range c.guardrails {
		g.Go(func() error {
			results[i] = c.check(ctx, gr, text, st)
			return nil
		})
	}
	_ = g.Wait()

	var out guardrailOutcome
	for i, ok := range results {
		if !ok {
			out.failed = append(out.failed, c.guardrails[i])
			c.metrics.IncCounter(telemetry.MetricGuardrailFailed, 1, "guardrail", c.guardrails[i].Name())
		}
	}
	return out
}

// check runs one guardrail. Errors and panics fail the check.
func (c *Coordinator) check(ctx context.Context, g Guardrail, text string, st *ConversationState) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(ctx, "guardrail panicked", "guardrail", g.Name(), "panic", fmt.Sprint(r))
			ok = false
		}
	}()
	ok, err := g.Check(ctx, text, st)
	if err != nil {
		c.logger.Error(ctx, "guardrail check failed", "guardrail", g.Name(), "err", err)
		return false
	}
	if !ok {
		c.logger.Info(ctx, "guardrail rejected message", "guardrail", g.Name())
	}
	return ok
}
