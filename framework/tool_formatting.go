package framework

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExampleCall renders the documented call envelope for a tool.
func ExampleCall(spec ToolSpec) string {
	args := spec.Example
	if args == nil {
		args = map[string]interface{}{}
	}
	encoded, err := json.Marshal(ToolCall{Name: spec.Name, Args: args})
	if err != nil {
		return fmt.Sprintf(`{"call":%q,"args":{}}`, spec.Name)
	}
	return string(encoded)
}

// RenderToolsToPrompt converts tool definitions into the prompt section the
// model copies its JSON calls from.
func RenderToolsToPrompt(specs []ToolSpec) string {
	if len(specs) == 0 {
		return "No tools available."
	}
	var b strings.Builder
	b.WriteString("[Tools]\n")
	for _, spec := range specs {
		fmt.Fprintf(&b, "%s: %s\n%s\n\n", spec.Name, spec.Description, ExampleCall(spec))
	}
	b.WriteString("Emit one JSON object per operation; several objects run in order.")
	return b.String()
}
