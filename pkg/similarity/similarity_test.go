package similarity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/emberchat/ember/pkg/similarity"
)

func TestCosine(t *testing.T) {
	// Identical vectors
	score, err := similarity.Cosine([]float64{1, 2, 3}, []float64{1, 2, 3})
	assert.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)

	// Orthogonal vectors
	score, err = similarity.Cosine([]float64{1, 0}, []float64{0, 1})
	assert.NoError(t, err)
	assert.InDelta(t, 0.0, score, 1e-9)

	// Opposite vectors
	score, err = similarity.Cosine([]float64{1, 0}, []float64{-1, 0})
	assert.NoError(t, err)
	assert.InDelta(t, -1.0, score, 1e-9)
}

func TestCosineZeroNorm(t *testing.T) {
	score, err := similarity.Cosine([]float64{0, 0, 0}, []float64{1, 2, 3})
	assert.NoError(t, err)
	assert.Equal(t, 0.0, score)
}

func TestCosineDimensionMismatch(t *testing.T) {
	_, err := similarity.Cosine([]float64{1, 2, 3}, []float64{1, 2})
	assert.ErrorIs(t, err, similarity.ErrDimensionMismatch)
}

func TestTopKRanking(t *testing.T) {
	query := []float64{1, 0}
	candidates := []similarity.Candidate{
		{ID: 1, Vector: []float64{0, 1}},     // score 0
		{ID: 2, Vector: []float64{1, 0}},     // score 1
		{ID: 3, Vector: []float64{1, 1}},     // score ~0.707
		{ID: 4, Vector: []float64{0.5, 0.1}}, // score ~0.98
	}

	matches := similarity.TopK(query, candidates, 2, 0.5)
	assert.Len(t, matches, 2)
	assert.Equal(t, int64(2), matches[0].ID)
	assert.Equal(t, int64(4), matches[1].ID)
}

func TestTopKFiltersBelowThreshold(t *testing.T) {
	query := []float64{1, 0}
	candidates := []similarity.Candidate{
		{ID: 1, Vector: []float64{0, 1}},
		{ID: 2, Vector: []float64{-1, 0}},
	}

	matches := similarity.TopK(query, candidates, 10, 0.1)
	assert.Empty(t, matches)
}

func TestTopKSkipsMismatchedDimensions(t *testing.T) {
	query := []float64{1, 0}
	candidates := []similarity.Candidate{
		{ID: 1, Vector: []float64{1, 0, 0}}, // wrong dimensions, must be excluded
		{ID: 2, Vector: []float64{1, 0}},
	}

	matches := similarity.TopK(query, candidates, 10, 0.0)
	assert.Len(t, matches, 1)
	assert.Equal(t, int64(2), matches[0].ID)
}

func TestTopKStableTieOrder(t *testing.T) {
	query := []float64{1, 0}
	candidates := []similarity.Candidate{
		{ID: 7, Vector: []float64{2, 0}},
		{ID: 8, Vector: []float64{3, 0}},
		{ID: 9, Vector: []float64{4, 0}},
	}

	// All candidates score exactly 1.0; input order must be preserved.
	matches := similarity.TopK(query, candidates, 3, 0.0)
	assert.Equal(t, []int64{7, 8, 9}, []int64{matches[0].ID, matches[1].ID, matches[2].ID})
}

func TestTopKNoLimit(t *testing.T) {
	query := []float64{1, 0}
	candidates := []similarity.Candidate{
		{ID: 1, Vector: []float64{1, 0}},
		{ID: 2, Vector: []float64{1, 0.1}},
	}

	matches := similarity.TopK(query, candidates, 0, 0.0)
	assert.Len(t, matches, 2)
}
