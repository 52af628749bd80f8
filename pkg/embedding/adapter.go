package embedding

import (
	"context"
	"fmt"
)

// Adapter turns text into embeddings, failing over from a primary backend to
// a local fallback on any request error (network, auth, quota).
//
// Failover is silent to the caller except for the Source tag on the result.
// Only when both backends fail does the adapter return an error; persistence
// paths treat that as a hard error so no record is ever stored without its
// vector.
//
// Example:
//
//	remote, _ := openai.NewClient(&openai.Config{APIKey: key})
//	adapter := embedding.NewAdapter(remote, hash.NewClient(384))
//	result, err := adapter.Embed(ctx, "user likes coffee")
type Adapter struct {
	// primary is the configured backend, tried first.
	primary Provider

	// fallback is the local backend used when primary fails.
	fallback Provider
}

// NewAdapter creates a failover adapter over a primary and a fallback
// provider. fallback may be nil, in which case primary errors are returned
// directly.
func NewAdapter(primary, fallback Provider) *Adapter {
	return &Adapter{
		primary:  primary,
		fallback: fallback,
	}
}

// Embed converts a single text into a vector, with failover.
func (a *Adapter) Embed(ctx context.Context, text string) (*Result, error) {
	vector, err := a.primary.Embed(ctx, text)
	if err == nil {
		return &Result{Vector: vector, Dimensions: len(vector), Source: SourceRemote}, nil
	}

	if a.fallback == nil {
		return nil, err
	}

	vector, fallbackErr := a.fallback.Embed(ctx, text)
	if fallbackErr != nil {
		return nil, fmt.Errorf("embedding failed (primary: %v): %w", err, fallbackErr)
	}

	return &Result{Vector: vector, Dimensions: len(vector), Source: SourceLocal}, nil
}

// EmbedBatch converts multiple texts into vectors, with failover.
//
// The whole batch fails over together: mixing backends within one batch
// would produce vectors of different dimensions for records created in the
// same operation.
func (a *Adapter) EmbedBatch(ctx context.Context, texts []string) ([]*Result, error) {
	vectors, err := a.primary.EmbedBatch(ctx, texts)
	if err == nil {
		return tagResults(vectors, SourceRemote), nil
	}

	if a.fallback == nil {
		return nil, err
	}

	vectors, fallbackErr := a.fallback.EmbedBatch(ctx, texts)
	if fallbackErr != nil {
		return nil, fmt.Errorf("batch embedding failed (primary: %v): %w", err, fallbackErr)
	}

	return tagResults(vectors, SourceLocal), nil
}

// Dimensions returns the primary backend's vector dimensions.
//
// The fallback may produce different dimensions; the similarity layer
// tolerates the mismatch by excluding such pairs from ranking.
func (a *Adapter) Dimensions() int {
	return a.primary.Dimensions()
}

// Close closes both backends, returning the first error encountered.
func (a *Adapter) Close() error {
	err := a.primary.Close()
	if a.fallback != nil {
		if fallbackErr := a.fallback.Close(); err == nil {
			err = fallbackErr
		}
	}
	return err
}

func tagResults(vectors [][]float64, source string) []*Result {
	results := make([]*Result, len(vectors))
	for i, v := range vectors {
		results[i] = &Result{Vector: v, Dimensions: len(v), Source: source}
	}
	return results
}
