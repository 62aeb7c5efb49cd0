// Package llm provides the external provider contracts for language-model
// completion and embedding generation, concrete HTTP clients for Ollama and
// OpenAI, and the resilience wrappers (circuit breaker, retry with backoff,
// rate limiting) that every provider call goes through.
package llm

import "context"

// TextGenerator is the language-model completion contract.
// All prompts use single-string completion style (not chat threading).
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the embedding provider contract.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
