package domain

import "context"

// InvokeOptions carries the execution context of a task into the agent call.
// MethodName, when set, overrides the agent's default entry point.
type InvokeOptions struct {
	UserID     string
	SessionID  string
	MethodName string
}

// AgentHandle is an executable agent instance. The response shape is opaque to
// the runtime; plain text is extracted from it defensively after the call.
type AgentHandle interface {
	Invoke(ctx context.Context, prompt string, opts InvokeOptions) (any, error)
}

// AgentResolver resolves an agent name to an executable handle. Resolution
// failure is a task-level error, not a process error.
type AgentResolver interface {
	Resolve(name string) (AgentHandle, error)
}
