package tool

import (
	"fmt"
	"sync"

	"github.com/youssefsiam38/assistantpg/types"
)

// Registry holds the built-in tool implementations by type.
type Registry struct {
	mu    sync.RWMutex
	tools map[types.ToolType]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[types.ToolType]Tool)}
}

// Register adds a tool. Registering a type twice returns an error.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Type()]; exists {
		return fmt.Errorf("tool already registered: %s", t.Type())
	}
	r.tools[t.Type()] = t
	return nil
}

// Get returns the tool for a type.
func (r *Registry) Get(toolType types.ToolType) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[toolType]
	return t, ok
}
