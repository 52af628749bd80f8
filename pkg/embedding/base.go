// Package embedding provides interfaces for text embedding providers and the
// failover adapter that hides multiple backends behind a single contract.
package embedding

import "context"

// Provider defines the interface for embedding providers.
//
// All embedding backends (OpenAI, Ollama, the offline hash fallback) must
// implement this interface.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings.
	//
	// Backends that support server-side batching issue a single request;
	// others fall back to per-text calls. The returned slice matches the
	// input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of vectors produced by this provider.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}

// Source tags record which backend produced an embedding.
const (
	// SourceRemote marks vectors produced by the configured hosted backend.
	SourceRemote = "remote"

	// SourceLocal marks vectors produced by the local fallback backend.
	SourceLocal = "local"
)

// Result is an embedding together with its provenance.
type Result struct {
	// Vector is the embedding vector.
	Vector []float64

	// Dimensions is the length of Vector.
	Dimensions int

	// Source tags the backend that produced the vector (SourceRemote or
	// SourceLocal). Callers use it for diagnostics only; the vector is
	// usable either way.
	Source string
}
