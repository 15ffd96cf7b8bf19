package openai

import (
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"

	"github.com/agentex/agentex-go/runtime/agent/provider"
)

// includeFileSearchResults asks the API to return file search hits.
const includeFileSearchResults = "file_search_call.results"

// encodeTools converts provider tools. Function tools use the typed SDK
// params; hosted tools are sent as raw JSON objects so every tool type the
// API accepts can be expressed.
func encodeTools(tools []provider.Tool) ([]responses.ToolUnionParam, []responses.ResponseIncludable, error) {
	if len(tools) == 0 {
		return nil, nil, nil
	}
	out := make([]responses.ToolUnionParam, 0, len(tools))
	var include []responses.ResponseIncludable
	for _, t := range tools {
		switch v := t.(type) {
		case provider.FunctionTool:
			params := v.Parameters
			if params == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tool := responses.ToolParamOfFunction(v.Name, params, v.Strict)
			if v.Description != "" {
				tool.OfFunction.Description = openai.String(v.Description)
			}
			out = append(out, tool)
		case provider.FileSearchTool:
			if v.IncludeSearchResults {
				include = append(include, responses.ResponseIncludable(includeFileSearchResults))
			}
			out = append(out, rawTool(fileSearch(v)))
		default:
			raw, err := hostedTool(t)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, rawTool(raw))
		}
	}
	return out, include, nil
}

func rawTool(m map[string]any) responses.ToolUnionParam {
	return param.Override[responses.ToolUnionParam](m)
}

func hostedTool(t provider.Tool) (map[string]any, error) {
	switch v := t.(type) {
	case provider.WebSearchTool:
		m := map[string]any{"type": "web_search_preview"}
		setString(m, "search_context_size", v.SearchContextSize)
		if v.City != "" || v.Country != "" || v.Region != "" || v.Timezone != "" {
			loc := map[string]any{"type": "approximate"}
			setString(loc, "city", v.City)
			setString(loc, "country", v.Country)
			setString(loc, "region", v.Region)
			setString(loc, "timezone", v.Timezone)
			m["user_location"] = loc
		}
		return m, nil
	case provider.ComputerTool:
		return map[string]any{
			"type":           "computer_use_preview",
			"environment":    v.Environment,
			"display_width":  v.DisplayWidth,
			"display_height": v.DisplayHeight,
		}, nil
	case provider.CodeInterpreterTool:
		var container any = map[string]any{"type": "auto"}
		if v.ContainerID != "" {
			container = v.ContainerID
		}
		return map[string]any{"type": "code_interpreter", "container": container}, nil
	case provider.ImageGenerationTool:
		m := map[string]any{"type": "image_generation"}
		setString(m, "model", v.Model)
		setString(m, "quality", v.Quality)
		setString(m, "size", v.Size)
		return m, nil
	case provider.LocalShellTool:
		return map[string]any{"type": "local_shell"}, nil
	case provider.HostedMCPTool:
		m := map[string]any{
			"type":         "mcp",
			"server_label": v.ServerLabel,
			"server_url":   v.ServerURL,
		}
		if len(v.AllowedTools) > 0 {
			m["allowed_tools"] = v.AllowedTools
		}
		setString(m, "require_approval", v.RequireApproval)
		if len(v.Headers) > 0 {
			m["headers"] = v.Headers
		}
		return m, nil
	case provider.PassthroughTool:
		m := make(map[string]any, len(v.Config)+1)
		for k, val := range v.Config {
			m[k] = val
		}
		m["type"] = v.Type
		return m, nil
	}
	return nil, fmt.Errorf("openai: unsupported tool kind %q", t.Kind())
}

func fileSearch(v provider.FileSearchTool) map[string]any {
	m := map[string]any{
		"type":             "file_search",
		"vector_store_ids": v.VectorStoreIDs,
	}
	if v.MaxNumResults > 0 {
		m["max_num_results"] = v.MaxNumResults
	}
	return m
}

func setString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}
