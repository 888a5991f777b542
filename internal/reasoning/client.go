// Package reasoning wraps the text-completion backend the stages consume.
// The backend has no structured contract: it takes a prompt and returns
// free text that is expected to embed one JSON object somewhere.
package reasoning

import "context"

// Client is the single capability the pipeline needs from a reasoning
// backend. Implementations are selected once at process start and injected
// into the stages.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
