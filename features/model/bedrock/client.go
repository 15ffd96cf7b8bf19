// Package bedrock provides a provider.Model backed by the AWS Bedrock
// ConverseStream API. Requests are split into system blocks and alternating
// user/assistant messages, function tools are encoded into Bedrock's
// ToolConfiguration, and the streamed content blocks (text, tool use,
// reasoning) are mapped back into provider events.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/agentex/agentex-go/runtime/agent/provider"
	"github.com/agentex/agentex-go/runtime/agent/telemetry"
)

type (
	// RuntimeClient is the subset of the Bedrock runtime used by the adapter.
	// NewRuntime adapts a *bedrockruntime.Client; tests pass fakes.
	RuntimeClient interface {
		ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error)
	}

	// StreamOutput is satisfied by *bedrockruntime.ConverseStreamOutput.
	StreamOutput interface {
		GetStream() *bedrockruntime.ConverseStreamEventStream
	}

	// Options configures the Bedrock adapter.
	Options struct {
		// Runtime issues the ConverseStream calls. Required.
		Runtime RuntimeClient
		// DefaultModel is the model or inference profile identifier used
		// when provider.Request.Model is empty.
		DefaultModel string
		// MaxTokens is the completion cap used when a request does not set
		// Settings.MaxOutputTokens. Zero lets Bedrock pick its default.
		MaxTokens int64
		// ThinkingBudget, when positive, overrides the budget derived from
		// Settings.ReasoningEffort.
		ThinkingBudget int64
		Logger         telemetry.Logger
	}

	// Client implements provider.Model on top of Bedrock ConverseStream.
	Client struct {
		runtime      RuntimeClient
		defaultModel string
		maxTok       int64
		think        int64
		logger       telemetry.Logger
	}

	sdkRuntime struct {
		c *bedrockruntime.Client
	}
)

const (
	// minThinkingBudget is the smallest thinking budget Claude models accept.
	minThinkingBudget = 1024
)

var _ provider.Model = (*Client)(nil)

// New builds a Bedrock-backed model from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		runtime:      opts.Runtime,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		think:        opts.ThinkingBudget,
		logger:       telemetry.LoggerOrNoop(opts.Logger),
	}, nil
}

// NewFromConfig constructs a client from an AWS configuration, typically
// loaded with config.LoadDefaultConfig.
func NewFromConfig(cfg aws.Config, defaultModel string, optFns ...func(*bedrockruntime.Options)) (*Client, error) {
	return New(Options{
		Runtime:      NewRuntime(bedrockruntime.NewFromConfig(cfg, optFns...)),
		DefaultModel: defaultModel,
		Logger:       telemetry.NewClueLogger(),
	})
}

// NewRuntime adapts the AWS SDK client to RuntimeClient.
func NewRuntime(c *bedrockruntime.Client) RuntimeClient {
	return sdkRuntime{c: c}
}

func (r sdkRuntime) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (StreamOutput, error) {
	out, err := r.c.ConverseStream(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stream invokes ConverseStream and adapts the streamed content blocks into
// provider events.
func (c *Client) Stream(ctx context.Context, req *provider.Request) (provider.EventStream, error) {
	if req == nil {
		return nil, errors.New("bedrock: request is required")
	}
	input, provToCanon, err := c.prepareRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, streamError(err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return newEventStream(ctx, stream, provToCanon), nil
}

func (c *Client) prepareRequest(ctx context.Context, req *provider.Request) (*bedrockruntime.ConverseStreamInput, map[string]string, error) {
	s := req.Settings
	if s.JSONSchema != nil {
		return nil, nil, errors.New("bedrock: structured output is not supported")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	all := req.AllTools()
	if err := provider.ValidateTools(all); err != nil {
		return nil, nil, err
	}
	toolConfig, canonToSan, sanToCanon, err := encodeTools(all, s.ToolChoice)
	if err != nil {
		return nil, nil, err
	}
	// Bedrock rejects tool_use and tool_result blocks without a tool
	// configuration.
	if toolConfig == nil && hasToolBlocks(req.Input) {
		return nil, nil, errors.New("bedrock: input contains function calls but no tools are provided")
	}
	msgs, system, err := encodeMessages(ctx, req.Input, canonToSan, c.logger)
	if err != nil {
		return nil, nil, err
	}
	if req.Instructions != "" {
		system = append([]brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.Instructions}}, system...)
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(modelID),
		Messages: msgs,
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	maxTokens := s.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if cfg := inferenceConfig(maxTokens, s); cfg != nil {
		input.InferenceConfig = cfg
	}
	if budget := c.thinkingBudget(s.ReasoningEffort); budget > 0 {
		if budget < minThinkingBudget {
			return nil, nil, fmt.Errorf("bedrock: thinking budget %d must be >= %d", budget, minThinkingBudget)
		}
		if maxTokens > 0 && budget >= maxTokens {
			return nil, nil, fmt.Errorf("bedrock: thinking budget %d must be less than max tokens %d", budget, maxTokens)
		}
		fields := map[string]any{
			"thinking": map[string]any{"type": "enabled", "budget_tokens": budget},
		}
		input.AdditionalModelRequestFields = document.NewLazyDocument(&fields)
	}
	return input, sanToCanon, nil
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

func inferenceConfig(maxTokens int64, s provider.Settings) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens)) //nolint:gosec // AWS SDK requires int32
	}
	if s.Temperature != nil {
		cfg.Temperature = aws.Float32(float32(*s.Temperature))
	}
	if s.TopP != nil {
		cfg.TopP = aws.Float32(float32(*s.TopP))
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil && cfg.TopP == nil {
		return nil
	}
	return &cfg
}

func encodeMessages(ctx context.Context, items []provider.InputItem, nameMap map[string]string, logger telemetry.Logger) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var (
		conversation []brtypes.Message
		system       []brtypes.SystemContentBlock
		role         brtypes.ConversationRole
		blocks       []brtypes.ContentBlock
	)
	flush := func() {
		if len(blocks) == 0 {
			return
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
		blocks = nil
	}
	// Converse requires alternating roles: consecutive items with the same
	// role are merged into one message.
	add := func(r brtypes.ConversationRole, b brtypes.ContentBlock) {
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
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: it.Content})
				}
			case "user", "":
				if it.Content != "" {
					add(brtypes.ConversationRoleUser, &brtypes.ContentBlockMemberText{Value: it.Content})
				}
			case "assistant":
				if it.Content != "" {
					add(brtypes.ConversationRoleAssistant, &brtypes.ContentBlockMemberText{Value: it.Content})
				}
			default:
				return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", it.Role)
			}
		case provider.InputFunctionCall:
			if it.Name == "" {
				return nil, nil, errors.New("bedrock: function call input missing name")
			}
			name, ok := nameMap[it.Name]
			if !ok {
				return nil, nil, fmt.Errorf("bedrock: function call %q is not in the current tool configuration", it.Name)
			}
			add(brtypes.ConversationRoleAssistant, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
				ToolUseId: aws.String(it.CallID),
				Name:      aws.String(name),
				Input:     argumentsDocument(ctx, it.Arguments, logger),
			}})
		case provider.InputFunctionCallOutput:
			add(brtypes.ConversationRoleUser, &brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
				ToolUseId: aws.String(it.CallID),
				Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: it.Output}},
			}})
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported input kind %q", it.Kind)
		}
	}
	flush()
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

// argumentsDocument decodes raw function call arguments into a document.
// Invalid arguments are replaced with an empty object.
func argumentsDocument(ctx context.Context, arguments string, logger telemetry.Logger) document.Interface {
	var v any = map[string]any{}
	if trimmed := strings.TrimSpace(arguments); trimmed != "" {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			logger.Warn(ctx, "bedrock: dropping invalid function call arguments", "err", err)
		} else {
			v = decoded
		}
	}
	return lazyDocument(v)
}

func lazyDocument(v any) document.Interface {
	return document.NewLazyDocument(&v)
}

func hasToolBlocks(items []provider.InputItem) bool {
	for _, it := range items {
		if it.Kind == provider.InputFunctionCall || it.Kind == provider.InputFunctionCallOutput {
			return true
		}
	}
	return false
}

// isRateLimited reports whether err is a Bedrock throttling error or an HTTP
// 429 response.
func isRateLimited(err error) bool {
	if errors.Is(err, provider.ErrRateLimited) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusTooManyRequests
}

// streamError wraps transport errors, marking throttling with
// provider.ErrRateLimited.
func streamError(err error) error {
	if isRateLimited(err) {
		return fmt.Errorf("bedrock stream: %w: %w", provider.ErrRateLimited, err)
	}
	return fmt.Errorf("bedrock stream: %w", err)
}
