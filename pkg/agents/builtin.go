package agents

import (
	"context"
	"strings"

	"github.com/relayops/agent-runtime/internal/domain"
)

// Response is a structured agent response whose text is exposed through the
// RenderedText accessor.
type Response struct {
	Text  string
	Model string
}

func (r *Response) RenderedText() string {
	return r.Text
}

// EchoAgent answers with the prompt itself. Useful as a liveness probe for
// the whole dispatch pipeline.
type EchoAgent struct{}

func NewEchoAgent() EchoAgent {
	return EchoAgent{}
}

func (EchoAgent) Invoke(ctx context.Context, prompt string, opts domain.InvokeOptions) (any, error) {
	if opts.MethodName == "shout" {
		return strings.ToUpper(prompt), nil
	}

	return prompt, nil
}

// ReverseAgent answers with the prompt reversed, wrapped in a structured
// response.
type ReverseAgent struct{}

func NewReverseAgent() ReverseAgent {
	return ReverseAgent{}
}

func (ReverseAgent) Invoke(ctx context.Context, prompt string, opts domain.InvokeOptions) (any, error) {
	runes := []rune(prompt)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}

	return &Response{Text: string(runes), Model: "builtin/reverse"}, nil
}

// NewDefaultRegistry returns a registry preloaded with the built-in agents.
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()
	registry.Register("echo", NewEchoAgent())
	registry.Register("reverse", NewReverseAgent())
	return registry
}
