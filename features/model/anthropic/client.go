// Package anthropic provides a provider.Model backed by the Anthropic Claude
// Messages streaming API. It translates provider requests into
// anthropic.MessageNewParams using github.com/anthropics/anthropic-sdk-go and
// maps the streamed content blocks (text, tool use, thinking) back into
// provider events.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentex/agentex-go/runtime/agent/provider"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by the
	// adapter. It is satisfied by *sdk.MessageService so callers can pass either a
	// real client or a stub in tests.
	MessagesClient interface {
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures the Anthropic adapter.
	Options struct {
		// Client issues the Messages calls.
		Client MessagesClient
		// DefaultModel is the Claude model identifier used when
		// provider.Request.Model is empty. Prefer the anthropic-sdk-go Model
		// constants, for example string(sdk.ModelClaudeSonnet4_5_20250929).
		DefaultModel string
		// MaxTokens is the completion cap used when a request does not set
		// Settings.MaxOutputTokens. Defaults to 4096.
		MaxTokens int64
		// ThinkingBudget, when positive, overrides the budget derived from
		// Settings.ReasoningEffort.
		ThinkingBudget int64
	}

	// Client implements provider.Model on top of Anthropic Claude Messages.
	Client struct {
		msg          MessagesClient
		defaultModel string
		maxTok       int64
		think        int64
	}
)

const (
	defaultMaxTokens = 4096
	// minThinkingBudget is the smallest thinking budget the API accepts.
	minThinkingBudget = 1024
)

var _ provider.Model = (*Client)(nil)

// New builds an Anthropic-backed model from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		msg:          opts.Client,
		defaultModel: opts.DefaultModel,
		maxTok:       maxTokens,
		think:        opts.ThinkingBudget,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string, opts ...option.RequestOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return New(Options{Client: &ac.Messages, DefaultModel: defaultModel})
}

// Stream invokes Messages.NewStreaming and adapts the streamed content blocks
// into provider events.
func (c *Client) Stream(ctx context.Context, req *provider.Request) (provider.EventStream, error) {
	if req == nil {
		return nil, errors.New("anthropic: request is required")
	}
	params, provToCanon, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, streamError(err)
	}
	return newEventStream(stream, provToCanon), nil
}

func (c *Client) prepareRequest(req *provider.Request) (sdk.MessageNewParams, map[string]string, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	all := req.AllTools()
	if err := provider.ValidateTools(all); err != nil {
		return sdk.MessageNewParams{}, nil, err
	}
	tools, canonToProv, provToCanon, err := encodeTools(all)
	if err != nil {
		return sdk.MessageNewParams{}, nil, err
	}
	msgs, system, err := encodeMessages(req.Input, canonToProv)
	if err != nil {
		return sdk.MessageNewParams{}, nil, err
	}
	s := req.Settings
	maxTokens := s.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	params := sdk.MessageNewParams{
		MaxTokens: maxTokens,
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if req.Instructions != "" {
		system = append([]sdk.TextBlockParam{{Text: req.Instructions}}, system...)
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if s.Temperature != nil {
		params.Temperature = sdk.Float(*s.Temperature)
	}
	if s.TopP != nil {
		params.TopP = sdk.Float(*s.TopP)
	}
	if s.JSONSchema != nil {
		return sdk.MessageNewParams{}, nil, errors.New("anthropic: structured output is not supported")
	}
	if uid := s.Metadata["user_id"]; uid != "" {
		params.Metadata = sdk.MetadataParam{UserID: sdk.String(uid)}
	}
	budget := c.thinkingBudget(s.ReasoningEffort)
	if budget > 0 {
		if budget < minThinkingBudget {
			return sdk.MessageNewParams{}, nil, fmt.Errorf("anthropic: thinking budget %d must be >= %d", budget, minThinkingBudget)
		}
		if budget >= maxTokens {
			return sdk.MessageNewParams{}, nil, fmt.Errorf("anthropic: thinking budget %d must be less than max_tokens %d", budget, maxTokens)
		}
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(budget)
	}
	tc, err := encodeToolChoice(s.ToolChoice, s.ParallelToolCalls, canonToProv)
	if err != nil {
		return sdk.MessageNewParams{}, nil, err
	}
	params.ToolChoice = tc
	return params, provToCanon, nil
}

// thinkingBudget maps a reasoning effort onto a thinking token budget. Zero
// disables extended thinking.
func (c *Client) thinkingBudget(effort string) int64 {
	if effort == "" || effort == "minimal" {
		return 0
	}
	if c.think > 0 {
		return c.think
	}
	switch effort {
	case "low":
		return minThinkingBudget
	case "high":
		return 16384
	default:
		return 4096
	}
}

func encodeMessages(items []provider.InputItem, nameMap map[string]string) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	var (
		conversation []sdk.MessageParam
		system       []sdk.TextBlockParam
		role         string
		blocks       []sdk.ContentBlockParamUnion
	)
	flush := func() {
		if len(blocks) == 0 {
			return
		}
		if role == "assistant" {
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		} else {
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		}
		blocks = nil
	}
	// Anthropic requires alternating roles: consecutive items with the same
	// role are merged into one message.
	add := func(r string, b sdk.ContentBlockParamUnion) {
		if r != role {
			flush()
			role = r
		}
		blocks = append(blocks, b)
	}
	for _, it := range items {
		switch it.Kind {
		case provider.InputMessage, "":
			switch it.Role {
			case "system", "developer":
				if it.Content != "" {
					system = append(system, sdk.TextBlockParam{Text: it.Content})
				}
			case "user", "", "assistant":
				if it.Content == "" {
					continue
				}
				r := it.Role
				if r == "" {
					r = "user"
				}
				add(r, sdk.NewTextBlock(it.Content))
			default:
				return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", it.Role)
			}
		case provider.InputFunctionCall:
			if it.Name == "" {
				return nil, nil, errors.New("anthropic: function call input missing name")
			}
			name := it.Name
			if sanitized, ok := nameMap[name]; ok {
				name = sanitized
			}
			add("assistant", sdk.NewToolUseBlock(it.CallID, toolInput(it.Arguments), name))
		case provider.InputFunctionCallOutput:
			add("user", sdk.NewToolResultBlock(it.CallID, it.Output, false))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported input kind %q", it.Kind)
		}
	}
	flush()
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func toolInput(arguments string) json.RawMessage {
	trimmed := strings.TrimSpace(arguments)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(trimmed)
}

func encodeToolChoice(choice string, parallel *bool, canonToProv map[string]string) (sdk.ToolChoiceUnionParam, error) {
	disableParallel := parallel != nil && !*parallel
	switch choice {
	case "":
		if !disableParallel {
			return sdk.ToolChoiceUnionParam{}, nil
		}
		return sdk.ToolChoiceUnionParam{OfAuto: &sdk.ToolChoiceAutoParam{DisableParallelToolUse: sdk.Bool(true)}}, nil
	case "auto":
		auto := &sdk.ToolChoiceAutoParam{}
		if disableParallel {
			auto.DisableParallelToolUse = sdk.Bool(true)
		}
		return sdk.ToolChoiceUnionParam{OfAuto: auto}, nil
	case "none":
		none := sdk.NewToolChoiceNoneParam()
		return sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case "required":
		anyTool := &sdk.ToolChoiceAnyParam{}
		if disableParallel {
			anyTool.DisableParallelToolUse = sdk.Bool(true)
		}
		return sdk.ToolChoiceUnionParam{OfAny: anyTool}, nil
	default:
		sanitized, ok := canonToProv[choice]
		if !ok {
			return sdk.ToolChoiceUnionParam{}, fmt.Errorf("anthropic: tool choice %q does not match any function tool", choice)
		}
		tc := sdk.ToolChoiceParamOfTool(sanitized)
		if disableParallel && tc.OfTool != nil {
			tc.OfTool.DisableParallelToolUse = sdk.Bool(true)
		}
		return tc, nil
	}
}
