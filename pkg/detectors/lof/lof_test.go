package lof

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantK   int
		wantErr bool
	}{
		{name: "defaults", wantK: 20},
		{name: "custom neighbors", opts: []Option{WithNeighbors(5)}, wantK: 5},
		{name: "zero neighbors", opts: []Option{WithNeighbors(0)}, wantErr: true},
		{name: "contamination out of range", opts: []Option{WithContamination(0)}, wantErr: true},
		{name: "no workers", opts: []Option{WithWorkers(0)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.opts...)
			if tt.wantErr {
				assert.ErrorIs(t, err, riskerr.ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantK, l.Neighbors())
		})
	}
}

func TestFitTooFewRecords(t *testing.T) {
	l, err := New(WithNeighbors(20))
	require.NoError(t, err)

	err = l.Fit(generateTestData(5, 3))
	require.ErrorIs(t, err, riskerr.ErrDataQuality)
	assert.Contains(t, err.Error(), "at least 21 records")
	assert.Equal(t, 20, l.Neighbors(), "k must not be shrunk")

	err = l.Fit(generateTestData(20, 3))
	assert.ErrorIs(t, err, riskerr.ErrDataQuality, "a batch of exactly k records is too small")

	assert.NoError(t, l.Fit(generateTestData(21, 3)))
}

func TestScoreKnownGeometry(t *testing.T) {
	// a tight square with one far point
	data := [][]float64{
		{0, 0}, {0, 1}, {1, 0}, {1, 1},
		{10, 10},
	}
	l, err := New(WithNeighbors(2), WithContamination(0.2))
	require.NoError(t, err)
	require.NoError(t, l.Fit(data))

	scores, err := l.Score(data)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		assert.Less(t, scores[i], 2.0, "square corner %d should be an inlier", i)
		assert.Greater(t, scores[4], scores[i])
	}
	assert.Greater(t, scores[4], 5.0)

	flags, err := l.Decide(data)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, false, true}, flags)
}

func TestScoreUnseenRecords(t *testing.T) {
	train := generateTestData(200, 4)
	l, err := New(WithNeighbors(10), WithContamination(0.05))
	require.NoError(t, err)
	require.NoError(t, l.Fit(train))

	scores, err := l.Score([][]float64{
		{0, 0, 0, 0},
		{8, -8, 8, -8},
	})
	require.NoError(t, err)
	assert.Greater(t, scores[1], scores[0])
	assert.Greater(t, scores[1], l.Threshold())
	assert.Less(t, scores[0], l.Threshold())
}

func TestScoreErrors(t *testing.T) {
	l, err := New(WithNeighbors(3))
	require.NoError(t, err)

	_, err = l.Score([][]float64{{1, 2}})
	assert.ErrorIs(t, err, riskerr.ErrModelState)

	require.NoError(t, l.Fit(generateTestData(10, 2)))
	_, err = l.Score([][]float64{{1, 2, 3}})
	assert.ErrorIs(t, err, riskerr.ErrDataQuality)
}

func TestDuplicatePointsStayFinite(t *testing.T) {
	data := make([][]float64, 30)
	for i := range data {
		data[i] = []float64{1, 1}
	}
	data[29] = []float64{5, 5}

	l, err := New(WithNeighbors(5))
	require.NoError(t, err)
	require.NoError(t, l.Fit(data))

	scores, err := l.Score(data)
	require.NoError(t, err)
	for _, s := range scores {
		assert.False(t, math.IsNaN(s), "score must not be NaN")
	}
}

func TestScoreIdempotent(t *testing.T) {
	data := generateTestData(150, 3)
	l, err := New(WithNeighbors(15))
	require.NoError(t, err)
	require.NoError(t, l.Fit(data))

	first, err := l.Score(data)
	require.NoError(t, err)
	second, err := l.Score(data)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWorkersDoNotChangeScores(t *testing.T) {
	data := generateTestData(120, 3)

	a, err := New(WithNeighbors(8), WithWorkers(1))
	require.NoError(t, err)
	b, err := New(WithNeighbors(8), WithWorkers(6))
	require.NoError(t, err)
	require.NoError(t, a.Fit(data))
	require.NoError(t, b.Fit(data))

	sa, _ := a.Score(data)
	sb, _ := b.Score(data)
	assert.Equal(t, sa, sb)
	assert.Equal(t, a.Threshold(), b.Threshold())
}

func TestSaveLoad(t *testing.T) {
	train := generateTestData(100, 3)
	original, err := New(WithNeighbors(7), WithContamination(0.1))
	require.NoError(t, err)
	require.NoError(t, original.Fit(train))

	blob, err := original.Save()
	require.NoError(t, err)

	loaded, err := New()
	require.NoError(t, err)
	require.NoError(t, loaded.Load(blob))
	assert.Equal(t, 7, loaded.Neighbors())
	assert.Equal(t, 3, loaded.Width())

	query := generateTestData(20, 3)
	want, err := original.Score(query)
	require.NoError(t, err)
	got, err := loaded.Score(query)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, original.Threshold(), loaded.Threshold())

	untrained, _ := New()
	assert.Zero(t, untrained.Width())
	_, err = untrained.Save()
	assert.ErrorIs(t, err, riskerr.ErrModelState)
	assert.ErrorIs(t, untrained.Load([]byte{1, 2, 3}), riskerr.ErrModelState)
}

func BenchmarkFit(b *testing.B) {
	data := generateTestData(2000, 9)
	l, _ := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Fit(data)
	}
}

func generateTestData(n, features int) [][]float64 {
	rng := rand.New(rand.NewSource(int64(n*17 + features)))
	data := make([][]float64, n)
	for i := range data {
		data[i] = make([]float64, features)
		for j := range data[i] {
			data[i][j] = rng.NormFloat64()
		}
	}
	return data
}
