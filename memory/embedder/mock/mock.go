// Package mock provides a deterministic embedder for tests and offline runs.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder generates deterministic embeddings based on a text hash. Equal
// texts get equal vectors; different texts are close to orthogonal, so it
// gives no real semantic similarity.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder. Non-positive dimensions default to 384.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 384 // Match all-MiniLM-L6-v2 dimensions
	}
	return &Embedder{dimensions: dimensions}
}

// Name identifies the embedder in persisted signatures.
func (m *Embedder) Name() string { return "mock" }

// Embed creates a deterministic unit vector from text.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		// Simple LCG (Linear Congruential Generator)
		seed = seed*6364136223846793005 + 1442695040888963407
		// Convert to [-1, 1] range
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// EmbedMany embeds each text in order.
func (m *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i], _ = m.Embed(ctx, text)
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
