package agents

import (
	"fmt"
	"sync"

	"github.com/relayops/agent-runtime/internal/domain"
	"github.com/relayops/agent-runtime/internal/errval"
)

// Registry is an in-process agent resolver mapping agent names to executable
// handles.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]domain.AgentHandle
}

func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]domain.AgentHandle),
	}
}

func (r *Registry) Register(name string, handle domain.AgentHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[name] = handle
}

func (r *Registry) Resolve(name string) (domain.AgentHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errval.ErrAgentNotFound, name)
	}

	return handle, nil
}
