package embedding

import (
	"fmt"
	"math"

	"github.com/poiesic/convoy/core"
)

// degenerateNorm is the norm below which a vector cannot be normalized.
const degenerateNorm = 1e-12

// MeanPool averages vectors element-wise in float64, summing in input order.
func MeanPool(vectors [][]float32) ([]float64, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no vectors to pool", core.ErrDegenerateVector)
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d entries, want %d", core.ErrDimensionMismatch, i, len(v), dim)
		}
		for j, x := range v {
			sum[j] += float64(x)
		}
	}
	n := float64(len(vectors))
	for j := range sum {
		sum[j] /= n
	}
	return sum, nil
}

// Normalize scales v to unit Euclidean length.
// It fails with core.ErrDegenerateVector when the norm is numerically zero.
func Normalize(v []float64) ([]float32, error) {
	var sq float64
	for _, x := range v {
		sq += x * x
	}
	norm := math.Sqrt(sq)
	if norm < degenerateNorm {
		return nil, fmt.Errorf("%w: norm %g", core.ErrDegenerateVector, norm)
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out, nil
}

// Aggregate rolls a set of vectors up one level: mean, then a single normalization.
func Aggregate(vectors [][]float32) ([]float32, error) {
	mean, err := MeanPool(vectors)
	if err != nil {
		return nil, err
	}
	return Normalize(mean)
}

// SquaredDistance returns the squared Euclidean distance between a and b.
// Vectors of different width are compared over the shorter prefix.
func SquaredDistance(a, b []float32) float32 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}
