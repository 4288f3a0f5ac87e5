package service

import "fmt"

// TextRenderer is the "rendered text" accessor some agent responses expose.
type TextRenderer interface {
	RenderedText() string
}

// OutputProvider is the "output" accessor some agent responses expose.
type OutputProvider interface {
	Output() string
}

// ExtractText pulls plain text out of an opaque agent response. The chain is
// ordered: string passthrough, rendered-text accessor, output accessor,
// Stringer, generic formatting.
func ExtractText(response any) string {
	if response == nil {
		return ""
	}

	if s, ok := response.(string); ok {
		return s
	}
	if r, ok := response.(TextRenderer); ok {
		return r.RenderedText()
	}
	if o, ok := response.(OutputProvider); ok {
		return o.Output()
	}
	if s, ok := response.(fmt.Stringer); ok {
		return s.String()
	}

	return fmt.Sprintf("%v", response)
}
