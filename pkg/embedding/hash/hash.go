// Package hash provides a deterministic, fully offline embedding backend.
//
// Vectors are derived from an FNV hash of the input text, so identical texts
// always map to identical vectors. The vectors carry no semantics beyond
// exact-text identity; the backend exists as a fallback of last resort so the
// client keeps functioning with no network and no local model installed, and
// as a fast provider for tests.
package hash

import (
	"context"
	"hash/fnv"
	"math"
)

// Client is a deterministic hash-based embedding backend.
// It implements the embedding.Provider interface.
type Client struct {
	dimensions int
}

// NewClient creates a new hash embedding client.
//
// dimensions defaults to 384 when 0 is given.
func NewClient(dimensions int) *Client {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Client{dimensions: dimensions}
}

// Embed creates a deterministic unit vector from the text hash.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float64, c.dimensions)
	for i := 0; i < c.dimensions; i++ {
		// Linear congruential generator seeded by the text hash.
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float64(int64(seed)) / float64(math.MaxInt64)
	}

	return normalize(embedding), nil
}

// EmbedBatch embeds each text independently.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	embeddings := make([][]float64, len(texts))
	for i, text := range texts {
		embedding, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = embedding
	}
	return embeddings, nil
}

// Dimensions returns the vector dimensions.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}

func normalize(v []float64) []float64 {
	var sum float64
	for _, val := range v {
		sum += val * val
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}

	for i := range v {
		v[i] /= norm
	}
	return v
}
