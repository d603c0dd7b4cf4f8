// Package vectors provides small float32 vector helpers shared by the
// in-memory tiers and the mock capability provider.
package vectors

import "math"

// MinMagnitude guards cosine similarity against near-zero vectors.
const MinMagnitude = 1e-10

// Cosine returns the cosine similarity between a and b. Mismatched lengths
// or vectors with magnitude below MinMagnitude yield 0 rather than NaN/Inf.
func Cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	magA := math.Sqrt(normA)
	magB := math.Sqrt(normB)
	if magA < MinMagnitude || magB < MinMagnitude {
		return 0
	}

	return float32(dot / (magA * magB))
}

// Normalize scales v to unit length in place and returns it. Near-zero
// vectors are returned unchanged.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	mag := math.Sqrt(norm)
	if mag < MinMagnitude {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / mag)
	}
	return v
}
