package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"
)

// Tool is a named capability the reasoning loop can invoke.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]string) (string, error)
}

// ToolError describes a failed tool invocation.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// Registry holds the available tools. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool, or false when unknown.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the registered tool names sorted for stable prompts.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the named tool and wraps the outcome as a ToolResult.
func (r *Registry) Execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	tool, ok := r.Get(call.Name)
	if !ok {
		return types.ToolResult{
			ID:      call.ID,
			Content: fmt.Sprintf("unknown tool: %s", call.Name),
			IsError: true,
		}
	}

	args := map[string]string{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return types.ToolResult{
				ID:      call.ID,
				Content: fmt.Sprintf("invalid arguments for %s: %v", call.Name, err),
				IsError: true,
			}
		}
	}

	output, err := tool.Execute(ctx, args)
	if err != nil {
		return types.ToolResult{ID: call.ID, Content: err.Error(), IsError: true}
	}
	return types.ToolResult{ID: call.ID, Content: output}
}
