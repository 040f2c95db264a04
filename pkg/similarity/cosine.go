// Package similarity provides vector similarity utilities for tag-space scoring.
package similarity

import "math"

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value in [-1, 1], where 1 means identical direction.
// Vectors of different length, empty vectors and zero-norm vectors yield exactly 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) {
		return 0
	}
	// Guard against floating point drift just outside the range.
	return math.Max(-1, math.Min(1, sim))
}

// UserVector projects tag weights onto the vocabulary ordering.
// Tags missing from weights map to 0.
func UserVector(weights map[string]float64, vocabulary []string) []float64 {
	vec := make([]float64, len(vocabulary))
	for i, tag := range vocabulary {
		vec[i] = weights[tag]
	}
	return vec
}

// VenueVector builds the binary presence vector of venueTags over the vocabulary ordering.
func VenueVector(venueTags map[string]struct{}, vocabulary []string) []float64 {
	vec := make([]float64, len(vocabulary))
	for i, tag := range vocabulary {
		if _, ok := venueTags[tag]; ok {
			vec[i] = 1
		}
	}
	return vec
}
