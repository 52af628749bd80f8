// Package similarity provides vector similarity math for the memory engine.
//
// It implements cosine similarity and top-K ranking over candidate vectors.
// Dimension mismatches are reported as errors rather than silently returning
// zero, so callers can decide how to treat vectors produced by a different
// embedding model.
package similarity

import (
	"errors"
	"math"
	"sort"
)

// ErrDimensionMismatch indicates that two vectors have different lengths.
//
// Callers that rank heterogeneous embeddings (e.g. memories embedded under
// different models over the product's lifetime) catch this error and treat
// the pair as "not similar" instead of failing the whole operation.
var ErrDimensionMismatch = errors.New("similarity: vector dimension mismatch")

// Cosine calculates the cosine similarity between two vectors.
//
// The formula is: similarity = (A · B) / (||A|| * ||B||)
//
// Returns a value between -1.0 and 1.0, or ErrDimensionMismatch if the
// vectors have different lengths. Vectors with zero norm yield 0.
func Cosine(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Candidate is a vector with an identifier, used as TopK input.
type Candidate struct {
	// ID identifies the record the vector belongs to.
	ID int64

	// Vector is the embedding of the record.
	Vector []float64
}

// Match is a ranked TopK result.
type Match struct {
	// ID identifies the matched candidate.
	ID int64

	// Score is the cosine similarity against the query vector.
	Score float64
}

// TopK returns the k candidates most similar to the query vector.
//
// Candidates below minScore are filtered out, the rest are sorted by score
// descending and truncated to k. Ties keep the input order (stable sort).
// Candidates whose dimensions do not match the query are skipped entirely,
// which lets embeddings from different models coexist in one store.
//
// A k of 0 or less means no limit.
func TopK(query []float64, candidates []Candidate, k int, minScore float64) []Match {
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		score, err := Cosine(query, c.Vector)
		if err != nil {
			// Different embedding model; treat as not similar.
			continue
		}
		if score < minScore {
			continue
		}
		matches = append(matches, Match{ID: c.ID, Score: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}

	return matches
}
