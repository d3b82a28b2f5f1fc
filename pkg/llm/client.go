// Package llm defines the text-completion contract the compiler and repair
// engine consume, plus the opencode subprocess implementation.
package llm

import "context"

// CompletionRequest is a single-turn text completion request.
type CompletionRequest struct {
	System string
	Prompt string
	// ModelKey selects the provider/model alias; resolution happens outside
	// this package. Empty uses the runner's default.
	ModelKey string
}

// Client produces a single completed text for a request. Implementations:
// OpencodeClient (production), StubClient (tests).
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
