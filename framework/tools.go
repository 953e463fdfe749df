package framework

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Tool defines an operation the model may request against the host document.
// Executors return a short status line; lines starting with "SUCCESS:" report
// success and anything beginning with "ERROR:" is a recoverable failure the
// model should react to. Exceptional host faults are returned as errors.
type Tool interface {
	Spec() ToolSpec
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolSpec is the metadata rendered into prompts.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Example     map[string]interface{} `json:"example,omitempty"`
}

// ToolFunc adapts a plain function into a Tool.
type ToolFunc struct {
	spec ToolSpec
	fn   func(ctx context.Context, args map[string]interface{}) (string, error)
}

// NewTool binds an executor to its metadata.
func NewTool(spec ToolSpec, fn func(ctx context.Context, args map[string]interface{}) (string, error)) *ToolFunc {
	return &ToolFunc{spec: spec, fn: fn}
}

// Spec returns the tool metadata.
func (t *ToolFunc) Spec() ToolSpec { return t.spec }

// Execute runs the bound executor.
func (t *ToolFunc) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return t.fn(ctx, args)
}

// ToolCall is a request, extracted from model output, to run one tool.
type ToolCall struct {
	Name string                 `json:"call"`
	Args map[string]interface{} `json:"args"`
}

// ToolResult records the outcome of one dispatched call. Exactly one of the
// two variants is populated: Output on success, Err on failure.
type ToolResult struct {
	Name   string
	Output string
	Err    error
}

// Failed reports whether the call raised or returned a failure status.
func (r ToolResult) Failed() bool {
	if r.Err != nil {
		return true
	}
	trimmed := strings.TrimSpace(r.Output)
	return strings.HasPrefix(trimmed, "ERROR") || strings.HasPrefix(trimmed, "Error")
}

// String renders the result the way it is folded back into the conversation.
func (r ToolResult) String() string {
	if r.Err != nil {
		err := r.Err
		var execErr *ToolExecutionError
		if errors.As(err, &execErr) && execErr.Err != nil {
			err = execErr.Err
		}
		return fmt.Sprintf("%s: Error: %v", r.Name, err)
	}
	return fmt.Sprintf("%s: %s", r.Name, r.Output)
}

// ToolRegistry maps tool names to executors. It is built once from a static
// table and never mutated afterwards, so lookups need no locking.
type ToolRegistry struct {
	tools map[string]Tool
	names []string
}

// NewToolRegistry builds a registry instance from the provided tools.
func NewToolRegistry(tools ...Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{tools: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		name := tool.Spec().Name
		if name == "" {
			return nil, fmt.Errorf("tool without name")
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("tool %s already registered", name)
		}
		r.tools[name] = tool
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Has reports whether name is registered.
func (r *ToolRegistry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.tools[name]
	return ok
}

// Get fetches a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered names in sorted order.
func (r *ToolRegistry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Describe returns every tool's metadata, sorted by name.
func (r *ToolRegistry) Describe() []ToolSpec {
	if r == nil {
		return nil
	}
	specs := make([]ToolSpec, 0, len(r.names))
	for _, name := range r.names {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Execute dispatches a call and always materializes a ToolResult. Executor
// errors and panics are converted into ToolExecutionError failures.
func (r *ToolRegistry) Execute(ctx context.Context, call ToolCall) (result ToolResult) {
	result.Name = call.Name
	tool, ok := r.Get(call.Name)
	if !ok {
		result.Err = fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
		return result
	}
	args := call.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	defer func() {
		if rec := recover(); rec != nil {
			result.Output = ""
			result.Err = &ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	out, err := tool.Execute(ctx, args)
	if err != nil {
		result.Err = &ToolExecutionError{Tool: call.Name, Err: err}
		return result
	}
	result.Output = out
	return result
}
