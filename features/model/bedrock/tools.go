package bedrock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentex/agentex-go/runtime/agent/provider"
)

const (
	maxToolNameLen = 64
	toolHashLen    = 8
)

// encodeTools converts function tools into a Bedrock tool configuration.
// Names are sanitized to the characters Bedrock allows; the returned maps
// translate between the names in both directions. Hosted tools have no
// Converse equivalent and are rejected.
func encodeTools(tools []provider.Tool, choice string) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(tools) == 0 {
		switch choice {
		case "", "auto", "none":
			return nil, nil, nil, nil
		}
		return nil, nil, nil, fmt.Errorf("bedrock: tool choice %q is set but no tools are defined", choice)
	}
	list := make([]brtypes.Tool, 0, len(tools))
	canonToSan := make(map[string]string, len(tools))
	sanToCanon := make(map[string]string, len(tools))
	for _, t := range tools {
		ft, ok := t.(provider.FunctionTool)
		if !ok {
			return nil, nil, nil, fmt.Errorf("bedrock: tool kind %q is not supported", t.Kind())
		}
		sanitized := SanitizeToolName(ft.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != ft.Name {
			return nil, nil, nil, fmt.Errorf("bedrock: tool name %q sanitizes to %q which collides with %q", ft.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = ft.Name
		canonToSan[ft.Name] = sanitized
		var schema any = ft.Parameters
		if ft.Parameters == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		spec := brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: lazyDocument(schema)},
		}
		if ft.Description != "" {
			spec.Description = aws.String(ft.Description)
		}
		list = append(list, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	cfg := &brtypes.ToolConfiguration{Tools: list}
	switch choice {
	case "", "auto", "none":
		// Converse has no "none" choice; the configuration stays so earlier
		// tool blocks remain valid.
	case "required":
		cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{Value: brtypes.AnyToolChoice{}}
	default:
		sanitized, ok := canonToSan[choice]
		if !ok {
			return nil, nil, nil, fmt.Errorf("bedrock: tool choice %q does not match any function tool", choice)
		}
		cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(sanitized)}}
	}
	return cfg, canonToSan, sanToCanon, nil
}

// SanitizeToolName maps a tool name to one Bedrock accepts: [a-zA-Z0-9_-]+
// with at most 64 bytes. Dots become underscores. Names over the limit are
// truncated and suffixed with a stable hash so distinct names stay distinct.
func SanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	sanitized := string(out)
	if len(sanitized) <= maxToolNameLen {
		return sanitized
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:toolHashLen]
	return sanitized[:maxToolNameLen-1-toolHashLen] + "_" + suffix
}

// canonicalToolName maps a streamed tool name back to the request name.
// Some models prefix tool names with "$FUNCTIONS.".
func canonicalToolName(name string, toolNames map[string]string) string {
	name = strings.TrimPrefix(name, "$FUNCTIONS.")
	if canonical, ok := toolNames[name]; ok {
		return canonical
	}
	return name
}
