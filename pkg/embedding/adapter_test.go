package embedding_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchat/ember/pkg/embedding"
	"github.com/emberchat/ember/pkg/embedding/hash"
)

// stubProvider is a scripted embedding.Provider for adapter tests.
type stubProvider struct {
	vector []float64
	err    error
	calls  int
}

func (s *stubProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

func (s *stubProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vectors[i] = s.vector
	}
	return vectors, nil
}

func (s *stubProvider) Dimensions() int { return len(s.vector) }
func (s *stubProvider) Close() error    { return nil }

func TestAdapterPrimarySuccess(t *testing.T) {
	primary := &stubProvider{vector: []float64{1, 2, 3}}
	fallback := &stubProvider{vector: []float64{9, 9}}
	adapter := embedding.NewAdapter(primary, fallback)

	result, err := adapter.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, embedding.SourceRemote, result.Source)
	assert.Equal(t, []float64{1, 2, 3}, result.Vector)
	assert.Equal(t, 3, result.Dimensions)
	assert.Zero(t, fallback.calls, "fallback must not be called when primary succeeds")
}

func TestAdapterFailsOverSilently(t *testing.T) {
	primary := &stubProvider{err: errors.New("quota exceeded")}
	fallback := &stubProvider{vector: []float64{4, 5}}
	adapter := embedding.NewAdapter(primary, fallback)

	result, err := adapter.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, embedding.SourceLocal, result.Source)
	assert.Equal(t, []float64{4, 5}, result.Vector)
}

func TestAdapterBothFail(t *testing.T) {
	primary := &stubProvider{err: errors.New("network down")}
	fallback := &stubProvider{err: errors.New("model missing")}
	adapter := embedding.NewAdapter(primary, fallback)

	_, err := adapter.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
	assert.Contains(t, err.Error(), "model missing")
}

func TestAdapterNoFallback(t *testing.T) {
	wantErr := errors.New("auth failed")
	adapter := embedding.NewAdapter(&stubProvider{err: wantErr}, nil)

	_, err := adapter.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, wantErr)
}

func TestAdapterBatchFailover(t *testing.T) {
	primary := &stubProvider{err: errors.New("timeout")}
	fallback := &stubProvider{vector: []float64{1}}
	adapter := embedding.NewAdapter(primary, fallback)

	results, err := adapter.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, embedding.SourceLocal, r.Source)
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	client := hash.NewClient(64)

	a, err := client.Embed(context.Background(), "user likes coffee")
	require.NoError(t, err)
	b, err := client.Embed(context.Background(), "user likes coffee")
	require.NoError(t, err)
	c, err := client.Embed(context.Background(), "user likes tea")
	require.NoError(t, err)

	assert.Equal(t, a, b, "same text must produce the same vector")
	assert.NotEqual(t, a, c, "different text must produce a different vector")
	assert.Len(t, a, 64)

	// Unit length
	var norm float64
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-9)
}

func TestHashEmbedderDefaults(t *testing.T) {
	client := hash.NewClient(0)
	assert.Equal(t, 384, client.Dimensions())
}
