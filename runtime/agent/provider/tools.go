package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

type (
	// ToolKind discriminates tool definitions.
	ToolKind string

	// Tool is a tool made available to the model. Adapters convert each kind
	// to their provider representation.
	Tool interface {
		Kind() ToolKind
	}

	// ToolHandler executes a function tool. arguments is the raw JSON emitted
	// by the model; the returned string is sent back as the call output.
	ToolHandler func(ctx context.Context, arguments string) (string, error)

	// FunctionTool is a tool implemented by the agent.
	FunctionTool struct {
		Name        string
		Description string
		// Parameters is the JSON schema of the arguments.
		Parameters map[string]any
		Strict     bool
		// Handler runs the tool when the agent loop executes tool calls.
		Handler ToolHandler
	}

	// WebSearchTool enables provider-hosted web search.
	WebSearchTool struct {
		// SearchContextSize is "low", "medium" or "high".
		SearchContextSize string
		City              string
		Country           string
		Region            string
		Timezone          string
	}

	// FileSearchTool enables provider-hosted search over vector stores.
	FileSearchTool struct {
		VectorStoreIDs []string
		MaxNumResults  int64
		// IncludeSearchResults requests the raw search results in the output.
		IncludeSearchResults bool
	}

	// ComputerTool enables computer use. At most one is allowed per request.
	ComputerTool struct {
		// Environment is "browser", "mac", "windows", "ubuntu" or "linux".
		Environment   string
		DisplayWidth  int64
		DisplayHeight int64
	}

	// CodeInterpreterTool enables provider-hosted code execution.
	CodeInterpreterTool struct {
		// ContainerID selects an existing container; empty means auto.
		ContainerID string
	}

	// ImageGenerationTool enables provider-hosted image generation.
	ImageGenerationTool struct {
		Model   string
		Quality string
		Size    string
	}

	// LocalShellTool lets the model request shell commands run by the agent.
	LocalShellTool struct{}

	// HostedMCPTool exposes a remote MCP server to the model.
	HostedMCPTool struct {
		ServerLabel  string
		ServerURL    string
		AllowedTools []string
		// RequireApproval is "always" or "never".
		RequireApproval string
		Headers         map[string]string
	}

	// PassthroughTool is forwarded verbatim to the provider. Type is the
	// provider tool type and Config the remaining fields.
	PassthroughTool struct {
		Type   string
		Config map[string]any
	}

	// Handoff transfers the conversation to another agent. It is exposed to
	// the model as a function tool.
	Handoff struct {
		AgentName   string
		Description string
		Parameters  map[string]any
	}
)

const (
	KindFunction        ToolKind = "function"
	KindWebSearch       ToolKind = "web_search"
	KindFileSearch      ToolKind = "file_search"
	KindComputer        ToolKind = "computer_use"
	KindCodeInterpreter ToolKind = "code_interpreter"
	KindImageGeneration ToolKind = "image_generation"
	KindLocalShell      ToolKind = "local_shell"
	KindHostedMCP       ToolKind = "hosted_mcp"
	KindPassthrough     ToolKind = "passthrough"
)

// ErrMultipleComputerTools is returned when a request declares more than one
// computer tool.
var ErrMultipleComputerTools = errors.New("provider: at most one computer tool is allowed")

func (FunctionTool) Kind() ToolKind        { return KindFunction }
func (WebSearchTool) Kind() ToolKind       { return KindWebSearch }
func (FileSearchTool) Kind() ToolKind      { return KindFileSearch }
func (ComputerTool) Kind() ToolKind        { return KindComputer }
func (CodeInterpreterTool) Kind() ToolKind { return KindCodeInterpreter }
func (ImageGenerationTool) Kind() ToolKind { return KindImageGeneration }
func (LocalShellTool) Kind() ToolKind      { return KindLocalShell }
func (HostedMCPTool) Kind() ToolKind       { return KindHostedMCP }
func (PassthroughTool) Kind() ToolKind     { return KindPassthrough }

// ToolName returns the function name the model calls to hand off.
func (h Handoff) ToolName() string {
	var b strings.Builder
	b.WriteString("transfer_to_")
	for _, r := range strings.TrimSpace(h.AgentName) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Tool returns the function tool representing the handoff.
func (h Handoff) Tool() FunctionTool {
	params := h.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false}
	}
	desc := h.Description
	if desc == "" {
		desc = fmt.Sprintf("Handoff to the %s agent to handle the request.", h.AgentName)
	}
	return FunctionTool{Name: h.ToolName(), Description: desc, Parameters: params, Strict: true}
}

// ValidateTools checks tool definitions before a stream is opened.
func ValidateTools(tools []Tool) error {
	computers := 0
	names := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		switch v := t.(type) {
		case ComputerTool:
			computers++
		case FunctionTool:
			if v.Name == "" {
				return errors.New("provider: function tool name is required")
			}
			if _, dup := names[v.Name]; dup {
				return fmt.Errorf("provider: duplicate function tool %q", v.Name)
			}
			names[v.Name] = struct{}{}
		case HostedMCPTool:
			if v.ServerLabel == "" || v.ServerURL == "" {
				return errors.New("provider: hosted MCP tool requires a server label and URL")
			}
		case PassthroughTool:
			if v.Type == "" {
				return errors.New("provider: passthrough tool type is required")
			}
		case nil:
			return errors.New("provider: nil tool")
		}
	}
	if computers > 1 {
		return ErrMultipleComputerTools
	}
	return nil
}

// AllTools returns the request tools followed by the handoff tools.
func (r *Request) AllTools() []Tool {
	out := make([]Tool, 0, len(r.Tools)+len(r.Handoffs))
	out = append(out, r.Tools...)
	for _, h := range r.Handoffs {
		out = append(out, h.Tool())
	}
	return out
}
