package testutils

import "math/rand/v2"

// ConformanceDimension is the embedding length used by the shared driver
// specs.
const ConformanceDimension = 4

// Embedding returns a dim-length vector starting with values and padded
// with zeros.
func Embedding(dim int, values ...float32) []float32 {
	v := make([]float32, dim)
	copy(v, values)
	return v
}

// RandomEmbedding returns a dim-length vector with components in [-1, 1).
func RandomEmbedding(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = r.Float32()*2 - 1
	}
	return v
}
