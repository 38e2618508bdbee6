// Package core provides the foundational types shared across vineflow:
// node kinds, the execution context, token accounting, and the completion
// collaborator interface used by llm nodes.
package core

import (
	"context"
)

// Kind identifies the type of a catalog node.
// The set of kinds is intentionally small.
type Kind string

const (
	// KindFunc is a plain function node.
	KindFunc Kind = "func"

	// KindValidate is an input-validating function node. A validation
	// error aborts the run.
	KindValidate Kind = "validate"

	// KindLLM is a prompt-templated completion call.
	KindLLM Kind = "llm"

	// KindStructuredLLM is a schema-validated structured completion call.
	KindStructuredLLM Kind = "structured-llm"
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) Kind {
	return Kind(s)
}

// Valid reports whether k is one of the defined node kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindFunc, KindValidate, KindLLM, KindStructuredLLM:
		return true
	}
	return false
}

// NodeFunc is the callable backing func and validate nodes.
// The returned value is written to the node's declared output key by the
// engine; nodes may also read and write the shared context directly.
type NodeFunc func(ctx context.Context, c Context) (any, error)

// TokenUsage tracks token consumption reported by the completion collaborator.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add combines two TokenUsage values.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// CompletionRequest is the transport-agnostic request for a completion call.
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	Schema      map[string]any // structured output constraints, nil for text
	Temperature *float64
	MaxTokens   *int
}

// CompletionResponse captures the output of a completion call.
type CompletionResponse struct {
	Text  string
	JSON  map[string]any // populated when Schema was set and output parsed
	Usage TokenUsage
}

// CompletionClient abstracts the external completion collaborator.
// Implementations adapt a concrete provider; the engine treats the call as
// an opaque asynchronous operation and performs no retries.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// CompletionFunc adapts a function to the CompletionClient interface.
type CompletionFunc func(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

// Complete invokes the wrapped function.
func (f CompletionFunc) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return f(ctx, req)
}

// Ensure interface compliance at compile time.
var _ CompletionClient = (CompletionFunc)(nil)
