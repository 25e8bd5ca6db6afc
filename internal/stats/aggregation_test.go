package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMean(t *testing.T) {
	assert.Zero(t, Mean(nil))
	assert.InDelta(t, 2.5, Mean([]float64{1, 2, 3, 4}), 1e-9)
}

func TestMedianDoesNotReorderInput(t *testing.T) {
	values := []float64{5, 1, 3}
	assert.Equal(t, 3.0, Median(values))
	assert.Equal(t, []float64{5, 1, 3}, values)
	assert.Equal(t, 2.5, Median([]float64{4, 1, 2, 3}))
}

func TestMax(t *testing.T) {
	assert.Zero(t, Max(nil))
	assert.Equal(t, 9.0, Max([]float64{3, 9, -1}))
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	assert.Equal(t, 1.0, Percentile(values, 0))
	assert.Equal(t, 11.0, Percentile(values, 100))
	assert.Equal(t, 11.0, Percentile(values, 250))
	assert.InDelta(t, 10.5, Percentile(values, 95), 1e-9)
	assert.Zero(t, Percentile(nil, 50))
}
