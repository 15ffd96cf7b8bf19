// Package openai provides a provider.Model backed by the OpenAI Responses
// streaming API. It converts provider requests and tools into Responses
// parameters using github.com/openai/openai-go and maps the server-sent
// events back to the provider event union.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/agentex/agentex-go/runtime/agent/provider"
)

// ResponsesClient captures the subset of the openai-go client used by the
// adapter. *responses.ResponseService satisfies it.
type ResponsesClient interface {
	NewStreaming(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) *ssestream.Stream[responses.ResponseStreamEventUnion]
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ResponsesClient
	DefaultModel string
}

// Client implements provider.Model via the OpenAI Responses API.
type Client struct {
	responses ResponsesClient
	model     string
}

// schemaName names the structured output format sent with JSON schema
// requests.
const schemaName = "response"

var _ provider.Model = (*Client)(nil)

// New builds an OpenAI-backed model from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{responses: opts.Client, model: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string, opts ...option.RequestOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	cl := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return New(Options{Client: &cl.Responses, DefaultModel: defaultModel})
}

// Stream opens a Responses stream for req.
func (c *Client) Stream(ctx context.Context, req *provider.Request) (provider.EventStream, error) {
	if req == nil {
		return nil, errors.New("openai: request is required")
	}
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	return &eventStream{stream: c.responses.NewStreaming(ctx, params)}, nil
}

func (c *Client) buildParams(req *provider.Request) (responses.ResponseNewParams, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	input, err := encodeInput(req.Input)
	if err != nil {
		return responses.ResponseNewParams{}, err
	}
	all := req.AllTools()
	if err := provider.ValidateTools(all); err != nil {
		return responses.ResponseNewParams{}, err
	}
	tools, include, err := encodeTools(all)
	if err != nil {
		return responses.ResponseNewParams{}, err
	}
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(modelID),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: input},
		Tools: tools,
	}
	if req.Instructions != "" {
		params.Instructions = openai.String(req.Instructions)
	}
	if len(include) > 0 {
		params.Include = include
	}
	s := req.Settings
	if s.Temperature != nil {
		params.Temperature = openai.Float(*s.Temperature)
	}
	if s.TopP != nil {
		params.TopP = openai.Float(*s.TopP)
	}
	if s.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(s.MaxOutputTokens)
	}
	if s.ParallelToolCalls != nil {
		params.ParallelToolCalls = openai.Bool(*s.ParallelToolCalls)
	}
	switch s.ToolChoice {
	case "":
	case "auto", "none", "required":
		params.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{
			OfToolChoiceMode: param.NewOpt(responses.ToolChoiceOptions(s.ToolChoice)),
		}
	default:
		if !hasFunction(all, s.ToolChoice) {
			return responses.ResponseNewParams{}, fmt.Errorf("openai: tool choice %q does not match any function tool", s.ToolChoice)
		}
		params.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{
			OfFunctionTool: &responses.ToolChoiceFunctionParam{Name: s.ToolChoice},
		}
	}
	if s.ReasoningEffort != "" || s.ReasoningSummary != "" {
		params.Reasoning = shared.ReasoningParam{
			Effort:  shared.ReasoningEffort(s.ReasoningEffort),
			Summary: shared.ReasoningSummary(s.ReasoningSummary),
		}
	}
	if s.JSONSchema != nil {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:   schemaName,
					Schema: s.JSONSchema,
				},
			},
		}
	}
	if len(s.Metadata) > 0 {
		params.Metadata = shared.Metadata(s.Metadata)
	}
	return params, nil
}

func encodeInput(items []provider.InputItem) (responses.ResponseInputParam, error) {
	out := make(responses.ResponseInputParam, 0, len(items))
	for _, it := range items {
		switch it.Kind {
		case provider.InputMessage, "":
			role, err := encodeRole(it.Role)
			if err != nil {
				return nil, err
			}
			out = append(out, responses.ResponseInputItemParamOfMessage(it.Content, role))
		case provider.InputFunctionCall:
			out = append(out, responses.ResponseInputItemParamOfFunctionCall(it.Arguments, it.CallID, it.Name))
		case provider.InputFunctionCallOutput:
			out = append(out, responses.ResponseInputItemParamOfFunctionCallOutput(it.CallID, it.Output))
		default:
			return nil, fmt.Errorf("openai: unsupported input kind %q", it.Kind)
		}
	}
	return out, nil
}

func encodeRole(role string) (responses.EasyInputMessageRole, error) {
	switch role {
	case "user", "":
		return responses.EasyInputMessageRoleUser, nil
	case "assistant":
		return responses.EasyInputMessageRoleAssistant, nil
	case "system":
		return responses.EasyInputMessageRoleSystem, nil
	case "developer":
		return responses.EasyInputMessageRoleDeveloper, nil
	}
	return "", fmt.Errorf("openai: unsupported message role %q", role)
}

func hasFunction(tools []provider.Tool, name string) bool {
	for _, t := range tools {
		if ft, ok := t.(provider.FunctionTool); ok && ft.Name == name {
			return true
		}
	}
	return false
}

// eventStream adapts the SSE stream to provider.EventStream. Transport and
// decoding errors are returned from Recv as is.
type eventStream struct {
	stream *ssestream.Stream[responses.ResponseStreamEventUnion]
	done   bool
}

func (s *eventStream) Recv() (provider.Event, error) {
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
	ev, err := translateEvent(s.stream.Current())
	if err != nil {
		s.done = true
		return nil, err
	}
	return ev, nil
}

func (s *eventStream) Close() error {
	s.done = true
	return s.stream.Close()
}

// streamError wraps transport errors, marking HTTP 429 responses with
// provider.ErrRateLimited.
func streamError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("openai stream: %w: %w", provider.ErrRateLimited, err)
	}
	return fmt.Errorf("openai stream: %w", err)
}
