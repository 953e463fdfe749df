package framework

import (
	"encoding/json"
	"strings"
)

// InferenceRule maps an unlabeled argument object onto a tool when its keys
// match. Remap may rewrite the arguments into the tool's canonical keys; a nil
// Remap passes the object through unchanged.
type InferenceRule struct {
	Name  string
	Tool  string
	Match func(obj map[string]interface{}) bool
	Remap func(obj map[string]interface{}) map[string]interface{}
}

// DefaultInferenceRules lists the shape heuristics in priority order. The
// first matching rule wins.
var DefaultInferenceRules = []InferenceRule{
	{Name: "formula_pattern", Tool: "formula_generator", Match: hasAny("pattern")},
	{Name: "format_keys", Tool: "set_format", Match: hasAny("fillColor", "bgColor", "bold", "color")},
	{Name: "chart_type", Tool: "create_chart", Match: hasAny("chartType")},
	{Name: "write_cells", Tool: "write_to_excel", Match: hasAll("startCell", "data")},
	{
		Name:  "write_alias",
		Tool:  "write_to_excel",
		Match: hasAll("targetCell", "value"),
		Remap: func(obj map[string]interface{}) map[string]interface{} {
			return map[string]interface{}{"startCell": obj["targetCell"], "data": obj["value"]}
		},
	},
	{Name: "image_payload", Tool: "insert_image", Match: hasAny("base64", "image")},
	{Name: "image_prompt", Tool: "generate_image", Match: hasAny("prompt")},
	{Name: "diagnostic_mode", Tool: "run_all_tests", Match: hasAny("mode")},
}

// Extractor pulls tool calls out of free-form model output.
type Extractor struct {
	Known func(name string) bool
	Rules []InferenceRule
}

// NewExtractor builds an extractor that accepts names registered in registry.
func NewExtractor(registry *ToolRegistry) *Extractor {
	return &Extractor{Known: registry.Has, Rules: DefaultInferenceRules}
}

var quoteNormalizer = strings.NewReplacer("“", `"`, "”", `"`)

// Extract scans text for embedded JSON objects and returns the tool calls they
// describe, in order of appearance. Spans that fail to parse or match nothing
// are skipped.
func (e *Extractor) Extract(text string) []ToolCall {
	var calls []ToolCall
	for _, span := range ScanObjects(text) {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(quoteNormalizer.Replace(span)), &obj); err != nil || obj == nil {
			continue
		}
		if call, ok := e.classify(obj); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// ExtractToolCalls is a convenience wrapper around NewExtractor(registry).Extract.
func ExtractToolCalls(text string, registry *ToolRegistry) []ToolCall {
	return NewExtractor(registry).Extract(text)
}

func (e *Extractor) known(name string) bool {
	if e.Known == nil {
		return true
	}
	return e.Known(name)
}

func (e *Extractor) classify(obj map[string]interface{}) (ToolCall, bool) {
	if name, ok := obj["call"].(string); ok && name != "" && e.known(name) {
		args, _ := obj["args"].(map[string]interface{})
		if args == nil {
			args = map[string]interface{}{}
		}
		return ToolCall{Name: name, Args: args}, true
	}
	rule, ok := e.Infer(obj)
	if !ok || !e.known(rule.Tool) {
		return ToolCall{}, false
	}
	args := obj
	if rule.Remap != nil {
		args = rule.Remap(obj)
	}
	return ToolCall{Name: rule.Tool, Args: args}, true
}

// Infer returns the first rule whose predicate matches obj.
func (e *Extractor) Infer(obj map[string]interface{}) (InferenceRule, bool) {
	for _, rule := range e.Rules {
		if rule.Match != nil && rule.Match(obj) {
			return rule, true
		}
	}
	return InferenceRule{}, false
}

// ScanObjects returns the top-level brace-balanced spans of text from left to
// right. Braces are counted without regard to string literals; an unbalanced
// opening brace ends the scan.
func ScanObjects(text string) []string {
	var spans []string
	from := 0
	for from < len(text) {
		rel := strings.IndexByte(text[from:], '{')
		if rel < 0 {
			break
		}
		start := from + rel
		depth := 0
		end := -1
		for i := start; i < len(text); i++ {
			switch text[i] {
			case '{':
				depth++
			case '}':
				depth--
			}
			if depth == 0 {
				end = i
				break
			}
		}
		if end < 0 {
			break
		}
		spans = append(spans, text[start:end+1])
		from = end + 1
	}
	return spans
}

func hasAny(keys ...string) func(map[string]interface{}) bool {
	return func(obj map[string]interface{}) bool {
		for _, key := range keys {
			if truthy(obj[key]) {
				return true
			}
		}
		return false
	}
}

func hasAll(keys ...string) func(map[string]interface{}) bool {
	return func(obj map[string]interface{}) bool {
		for _, key := range keys {
			if !truthy(obj[key]) {
				return false
			}
		}
		return true
	}
}

// truthy mirrors loose truthiness of decoded JSON: null, false, 0 and "" do
// not count as present.
func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	default:
		return true
	}
}
