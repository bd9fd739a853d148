// Package embeddings provides interfaces and implementations for embedding
// providers, plus the document/query asymmetry the retrieval layer depends
// on.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrUnavailable indicates the embedding provider could not be reached. On
// journal writes the caller skips the embedding; on search it aborts.
var ErrUnavailable = errors.New("embedding provider unavailable")

// QueryPrefix is prepended to search queries before embedding. Retrieval
// models are trained with this instruction asymmetry; collapsing document and
// query embedding breaks ranking.
const QueryPrefix = "Represent this sentence for searching relevant passages: "

// Provider defines the interface for embedding providers.
type Provider interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider name.
	Name() string

	// Dimension returns the embedding dimension.
	Dimension() int
}

// Config contains common configuration for embedding providers.
type Config struct {
	Provider string `yaml:"provider"` // openai
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// Embedder wraps a Provider with unit normalisation and the query-prefix
// discipline. All vectors it returns have norm 1, so cosine similarity
// reduces to a dot product downstream.
type Embedder struct {
	provider Provider
}

// New creates an Embedder over the given provider.
func New(provider Provider) *Embedder {
	return &Embedder{provider: provider}
}

// Dimension returns the provider's embedding dimension.
func (e *Embedder) Dimension() int { return e.provider.Dimension() }

// EmbedDocument embeds a document, topic or journal entry.
func (e *Embedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

// EmbedQuery embeds a search query, prepending the retrieval instruction
// prefix.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, QueryPrefix+text)
}

func (e *Embedder) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(vec) != e.provider.Dimension() {
		return nil, fmt.Errorf("provider returned %d dims, expected %d", len(vec), e.provider.Dimension())
	}
	return Normalize(vec), nil
}

// Normalize scales a vector to unit length. A zero vector is returned
// unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Dot computes the dot product of two vectors. Over unit vectors this is the
// cosine similarity.
func Dot(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
