package domain

import (
	"context"
	"fmt"
)

// KeyPrefix namespaces every key mailrag writes to a shared key-value store.
const KeyPrefix = "mailrag:"

// DefaultDimensions is the vector size of text-embedding-ada-002.
const DefaultDimensions = 1536

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// HealthChecker verifies provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// EmbeddingOutcome is either a real embedding or a zero-vector substitute
// produced after a provider failure. Degraded outcomes must never be cached.
type EmbeddingOutcome struct {
	vector []float32
	reason error
}

// Embedded wraps a vector returned by a provider.
func Embedded(vec []float32) EmbeddingOutcome {
	return EmbeddingOutcome{vector: vec}
}

// Degraded returns an all-zero vector of the given dimension tagged with the failure reason.
func Degraded(dim int, reason error) EmbeddingOutcome {
	return EmbeddingOutcome{vector: make([]float32, dim), reason: reason}
}

// Vector returns the embedding (zero-filled when degraded).
func (o EmbeddingOutcome) Vector() []float32 { return o.vector }

// IsDegraded reports whether the vector is a substitute.
func (o EmbeddingOutcome) IsDegraded() bool { return o.reason != nil }

// Reason returns the provider failure behind a degraded outcome, nil otherwise.
func (o EmbeddingOutcome) Reason() error { return o.reason }

// InstructionEmbedder is a domain decorator that prepends instruction text before embedding.
type InstructionEmbedder struct {
	inner       Embedder
	instruction string
}

// NewInstructionEmbedder creates a decorator that prepends instruction text.
// An empty instruction returns inner unchanged.
func NewInstructionEmbedder(inner Embedder, instruction string) Embedder {
	if instruction == "" {
		return inner
	}
	return &InstructionEmbedder{inner: inner, instruction: instruction}
}

// Embed prepends instruction and delegates to inner embedder.
func (e *InstructionEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	result, err := e.inner.Embed(ctx, e.instruction+text)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("instruction embed: %w", err)
	}
	return result, nil
}
