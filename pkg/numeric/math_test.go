package numeric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentile(t *testing.T) {
	values := []float64{3, 1, 4, 1, 5}
	assert.Equal(t, 1.0, Percentile(values, 0))
	assert.Equal(t, 5.0, Percentile(values, 100))
	assert.Equal(t, 3.0, Percentile(values, 50))
	// rank 0.25*4 = 1 -> sorted[1]
	assert.Equal(t, 1.0, Percentile(values, 25))
	// rank 0.9*4 = 3.6 -> 4 + 0.6*(5-4)
	assert.InDelta(t, 4.6, Percentile(values, 90), 1e-12)
	assert.Equal(t, []float64{3, 1, 4, 1, 5}, values, "input must not be reordered")
	assert.True(t, math.IsNaN(Percentile(nil, 50)))
}

func TestNegativeRuns(t *testing.T) {
	assert.Equal(t, []int{3}, NegativeRuns([]float64{-1, -1, -1, 2, 2, 2}))
	assert.Equal(t, []int{1, 2, 1}, NegativeRuns([]float64{-1, 0, -2, -3, 1, -0.1}))
	assert.Nil(t, NegativeRuns([]float64{0, 1, 2}))
}

func TestArgMinFirstOccurrence(t *testing.T) {
	assert.Equal(t, 1, ArgMin([]float64{3, 1, 2, 1}))
	assert.Equal(t, -1, ArgMin(nil))
	assert.Equal(t, 2, ArgMin([]float64{math.NaN(), 5, 4}))
}

func TestMeanAndSum(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.5, Mean([]float64{1, 2, 3, 4}), 1e-12)
	assert.InDelta(t, 10.0, Sum([]float64{1, 2, 3, 4}), 1e-12)
}
