package anthropic

import (
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/agentex/agentex-go/runtime/agent/provider"
)

// maxToolNameLen is the longest tool name the Messages API accepts.
const maxToolNameLen = 64

// encodeTools converts provider tools into Messages tool params. Function
// tool names are sanitized to the characters the API allows; the returned
// maps translate between the names in both directions.
func encodeTools(tools []provider.Tool) ([]sdk.ToolUnionParam, map[string]string, map[string]string, error) {
	if len(tools) == 0 {
		return nil, nil, nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	canonToSan := make(map[string]string, len(tools))
	sanToCanon := make(map[string]string, len(tools))
	for _, t := range tools {
		switch v := t.(type) {
		case provider.FunctionTool:
			sanitized := sanitizeToolName(v.Name)
			if prev, ok := sanToCanon[sanitized]; ok && prev != v.Name {
				return nil, nil, nil, fmt.Errorf("anthropic: tool name %q sanitizes to %q which collides with %q", v.Name, sanitized, prev)
			}
			sanToCanon[sanitized] = v.Name
			canonToSan[v.Name] = sanitized
			u := sdk.ToolUnionParamOfTool(inputSchema(v.Parameters), sanitized)
			if u.OfTool != nil && v.Description != "" {
				u.OfTool.Description = sdk.String(v.Description)
			}
			out = append(out, u)
		case provider.WebSearchTool:
			m := map[string]any{"type": "web_search_20250305", "name": "web_search"}
			if v.City != "" || v.Country != "" || v.Region != "" || v.Timezone != "" {
				loc := map[string]any{"type": "approximate"}
				setString(loc, "city", v.City)
				setString(loc, "country", v.Country)
				setString(loc, "region", v.Region)
				setString(loc, "timezone", v.Timezone)
				m["user_location"] = loc
			}
			out = append(out, rawTool(m))
		case provider.ComputerTool:
			out = append(out, rawTool(map[string]any{
				"type":              "computer_20250124",
				"name":              "computer",
				"display_width_px":  v.DisplayWidth,
				"display_height_px": v.DisplayHeight,
			}))
		case provider.CodeInterpreterTool:
			out = append(out, rawTool(map[string]any{"type": "code_execution_20250522", "name": "code_execution"}))
		case provider.PassthroughTool:
			m := make(map[string]any, len(v.Config)+1)
			for k, val := range v.Config {
				m[k] = val
			}
			m["type"] = v.Type
			out = append(out, rawTool(m))
		default:
			return nil, nil, nil, fmt.Errorf("anthropic: tool kind %q is not supported", t.Kind())
		}
	}
	return out, canonToSan, sanToCanon, nil
}

func rawTool(m map[string]any) sdk.ToolUnionParam {
	return param.Override[sdk.ToolUnionParam](m)
}

func setString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// inputSchema converts a JSON schema object into the SDK schema param. A nil
// schema means the tool takes no arguments.
func inputSchema(schema map[string]any) sdk.ToolInputSchemaParam {
	if schema == nil {
		return sdk.ToolInputSchemaParam{Properties: map[string]any{}}
	}
	return sdk.ToolInputSchemaParam{ExtraFields: schema}
}

// sanitizeToolName replaces any rune the API rejects with '_' and truncates
// the result to the maximum tool name length.
func sanitizeToolName(in string) string {
	if isProviderSafeToolName(in) {
		return in
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		if isToolNameRune(r) {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	if len(out) > maxToolNameLen {
		out = out[:maxToolNameLen]
	}
	return string(out)
}

func isProviderSafeToolName(name string) bool {
	if name == "" || len(name) > maxToolNameLen {
		return false
	}
	for _, r := range name {
		if !isToolNameRune(r) {
			return false
		}
	}
	return true
}

func isToolNameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '_' || r == '-'
}
