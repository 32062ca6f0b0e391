package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantile(t *testing.T) {
	tests := []struct {
		name string
		data []float64
		q    float64
		want float64
	}{
		{name: "median odd", data: []float64{3, 1, 2}, q: 0.5, want: 2},
		{name: "median even", data: []float64{4, 1, 3, 2}, q: 0.5, want: 2.5},
		{name: "interpolated", data: []float64{0, 10}, q: 0.9, want: 9},
		{name: "lower bound", data: []float64{5, 7, 9}, q: 0, want: 5},
		{name: "upper bound", data: []float64{5, 7, 9}, q: 1, want: 9},
		{name: "ignores non finite", data: []float64{math.NaN(), 1, math.Inf(1), 3}, q: 0.5, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Quantile(tt.data, tt.q), 1e-12)
		})
	}
}

func TestQuantileNoFiniteValues(t *testing.T) {
	assert.True(t, math.IsNaN(Median([]float64{math.NaN(), math.Inf(-1)})))
	assert.True(t, math.IsNaN(Median(nil)))
}

func TestQuantileDoesNotMutateInput(t *testing.T) {
	data := []float64{3, 1, 2}
	Median(data)
	assert.Equal(t, []float64{3, 1, 2}, data)
}

func TestMeanStd(t *testing.T) {
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-12)
	assert.InDelta(t, 2.138089935, std, 1e-9)

	mean, std = MeanStd([]float64{42})
	assert.Equal(t, 42.0, mean)
	assert.True(t, math.IsNaN(std))
}

func TestMinMax(t *testing.T) {
	lo, hi := MinMax([]float64{3, -1, 8, 2})
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 8.0, hi)
}
