package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/martinemde/agentcore/unifiedllm"
)

// ToolOutput is what a tool hands back to the executor. A tool reports an
// expected failure with Success=false and Error set; returning a Go error has
// the same effect.
type ToolOutput struct {
	Success bool
	Output  any
	Error   string
}

// OK wraps a successful output.
func OK(output any) ToolOutput { return ToolOutput{Success: true, Output: output} }

// Fail builds a failed output with a formatted message.
func Fail(format string, args ...any) ToolOutput {
	return ToolOutput{Error: fmt.Sprintf(format, args...)}
}

// Tool is anything the model can invoke by name. InputSchema may return any
// shape unifiedllm.NormalizeToolSchema understands.
type Tool interface {
	Name() string
	Description() string
	InputSchema() any
	Execute(ctx context.Context, args map[string]any) (ToolOutput, error)
}

// FuncTool adapts a plain function to the Tool interface.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	Schema          any
	Fn              func(ctx context.Context, args map[string]any) (ToolOutput, error)
}

func (t *FuncTool) Name() string        { return t.ToolName }
func (t *FuncTool) Description() string { return t.ToolDescription }
func (t *FuncTool) InputSchema() any    { return t.Schema }

func (t *FuncTool) Execute(ctx context.Context, args map[string]any) (ToolOutput, error) {
	return t.Fn(ctx, args)
}

// ToolSet is the lookup the executor needs.
type ToolSet interface {
	Get(name string) Tool
}

// ToolRegistry manages tool registration and lookup. Specs are reported in
// registration order so requests are stable across calls.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool. Replacing keeps the original position.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

// Unregister removes a tool from the registry.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a registered tool by name, or nil if not found.
func (r *ToolRegistry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns tool names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Specs describes every tool for a ChatRequest.
func (r *ToolRegistry) Specs() []unifiedllm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]unifiedllm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		specs = append(specs, unifiedllm.ToolSpec{
			Name:        name,
			Description: tool.Description(),
			Parameters:  unifiedllm.NormalizeToolSchema(tool.InputSchema()),
		})
	}
	return specs
}

// Clone returns a shallow copy of the registry; tools themselves are shared.
func (r *ToolRegistry) Clone() *ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewToolRegistry()
	for _, name := range r.order {
		clone.tools[name] = r.tools[name]
	}
	clone.order = append(clone.order, r.order...)
	return clone
}

// MergeFrom copies all tools from other into this registry. Existing tools
// with the same name are overwritten.
func (r *ToolRegistry) MergeFrom(other *ToolRegistry) {
	for _, name := range other.Names() {
		if tool := other.Get(name); tool != nil {
			r.Register(tool)
		}
	}
}

// Filter returns a registry holding only the tools whose names match at
// least one doublestar pattern. No patterns means everything is allowed.
func (r *ToolRegistry) Filter(patterns []string) (*ToolRegistry, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid tool pattern %q", p)
		}
	}
	if len(patterns) == 0 {
		return r.Clone(), nil
	}
	out := NewToolRegistry()
	for _, name := range r.Names() {
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, name); ok {
				out.Register(r.Get(name))
				break
			}
		}
	}
	return out, nil
}

// GetStringArg extracts a string argument from parsed tool arguments.
func GetStringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetIntArg extracts an integer argument from parsed tool arguments.
func GetIntArg(args map[string]any, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// GetBoolArg extracts a boolean argument from parsed tool arguments.
func GetBoolArg(args map[string]any, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
