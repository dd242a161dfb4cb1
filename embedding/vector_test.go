package embedding

import (
	"math"
	"testing"

	"github.com/poiesic/convoy/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestMeanPool(t *testing.T) {
	mean, err := MeanPool([][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, mean)

	_, err = MeanPool(nil)
	assert.ErrorIs(t, err, core.ErrDegenerateVector)

	_, err = MeanPool([][]float32{{1, 2}, {3}})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestNormalize(t *testing.T) {
	v, err := Normalize([]float64{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-7)
	assert.InDelta(t, 0.8, v[1], 1e-7)

	_, err = Normalize([]float64{0, 0, 0})
	assert.ErrorIs(t, err, core.ErrDegenerateVector)

	_, err = Normalize([]float64{1e-14, 0})
	assert.ErrorIs(t, err, core.ErrDegenerateVector)
}

func TestAggregate(t *testing.T) {
	vectors := [][]float32{
		{0.6, 0.8, 0},
		{0, 0.6, 0.8},
		{0.8, 0, 0.6},
	}

	a, err := Aggregate(vectors)
	require.NoError(t, err)
	b, err := Aggregate(vectors)
	require.NoError(t, err)

	assert.Equal(t, a, b, "aggregation must be deterministic")
	assert.InDelta(t, 1.0, norm(a), 1e-6)

	_, err = Aggregate([][]float32{{1, 0}, {-1, 0}})
	assert.ErrorIs(t, err, core.ErrDegenerateVector)
}

func TestAggregate_TwoLevelRollup(t *testing.T) {
	// messages normalize before the conversation mean
	m1, err := Aggregate([][]float32{{1, 0}, {1, 0}})
	require.NoError(t, err)
	m2, err := Aggregate([][]float32{{0, 1}})
	require.NoError(t, err)
	conv, err := Aggregate([][]float32{m1, m2})
	require.NoError(t, err)

	assert.InDelta(t, conv[0], conv[1], 1e-7)
	assert.InDelta(t, 1.0, norm(conv), 1e-6)
}

func TestSquaredDistance(t *testing.T) {
	assert.Equal(t, float32(0), SquaredDistance([]float32{1, 2}, []float32{1, 2}))
	assert.InDelta(t, 2.0, SquaredDistance([]float32{1, 0}, []float32{0, 1}), 1e-7)
	assert.InDelta(t, 4.0, SquaredDistance([]float32{1, 0}, []float32{-1, 0}), 1e-7)
}
