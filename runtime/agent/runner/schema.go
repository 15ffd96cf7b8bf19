package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentex/agentex-go/runtime/agent/provider"
)

// compileParameters compiles the parameters schema of every function tool.
// Tools without parameters accept any arguments and have no entry.
func compileParameters(tools []provider.Tool) (map[string]*jsonschema.Schema, error) {
	schemas := make(map[string]*jsonschema.Schema)
	for _, t := range tools {
		ft, ok := t.(provider.FunctionTool)
		if !ok || len(ft.Parameters) == 0 {
			continue
		}
		sch, err := compileSchema(ft.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", ft.Name, err)
		}
		schemas[ft.Name] = sch
	}
	return schemas, nil
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}
	// Each tool gets its own compiler, so a fixed resource name is enough.
	const url = "parameters.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add parameters resource: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile parameters: %w", err)
	}
	return sch, nil
}

// validateArguments checks the raw JSON arguments of a tool call against
// sch. Empty arguments validate as an empty object.
func validateArguments(sch *jsonschema.Schema, args string) error {
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	v, err := jsonschema.UnmarshalJSON(strings.NewReader(args))
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return sch.Validate(v)
}
