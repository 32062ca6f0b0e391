package iforest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/procurewatch/pkg/detectors"
	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

func TestNewIsolationForest(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantNTrees int
		wantErr    bool
	}{
		{
			name:       "default configuration",
			opts:       nil,
			wantNTrees: 100,
		},
		{
			name:       "custom trees",
			opts:       []Option{WithTrees(50)},
			wantNTrees: 50,
		},
		{
			name:       "multiple options",
			opts:       []Option{WithTrees(200), WithContamination(0.05), WithSeed(123)},
			wantNTrees: 200,
		},
		{
			name:    "zero trees",
			opts:    []Option{WithTrees(0)},
			wantErr: true,
		},
		{
			name:    "contamination out of range",
			opts:    []Option{WithContamination(1.5)},
			wantErr: true,
		},
		{
			name:    "sample size too small",
			opts:    []Option{WithSampleSize(1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.opts...)
			if tt.wantErr {
				assert.ErrorIs(t, err, riskerr.ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNTrees, f.nTrees)
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name    string
		data    [][]float64
		wantErr error
	}{
		{
			name:    "empty data",
			data:    [][]float64{},
			wantErr: riskerr.ErrDataQuality,
		},
		{
			name:    "single sample",
			data:    [][]float64{{1.0, 2.0, 3.0}},
			wantErr: riskerr.ErrDataQuality,
		},
		{
			name: "two samples",
			data: [][]float64{{1.0, 2.0}, {3.0, 4.0}},
		},
		{
			name: "normal data",
			data: generateTestData(100, 5),
		},
		{
			name:    "ragged rows",
			data:    [][]float64{{1, 2}, {3}},
			wantErr: riskerr.ErrDataQuality,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(WithTrees(10), WithSeed(42))
			require.NoError(t, err)
			err = f.Fit(tt.data)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, f.Trained())
			} else {
				assert.NoError(t, err)
				assert.True(t, f.trained)
				assert.Len(t, f.trees, f.nTrees)
			}
		})
	}
}

func TestScore(t *testing.T) {
	// Train on normal data
	trainData := generateTestData(500, 5)
	f, err := New(WithTrees(50), WithSampleSize(100), WithSeed(42))
	require.NoError(t, err)
	require.NoError(t, f.Fit(trainData))

	t.Run("score normal data", func(t *testing.T) {
		testData := generateTestData(100, 5)
		scores, err := f.Score(testData)

		require.NoError(t, err)
		assert.Len(t, scores, len(testData))

		for _, score := range scores {
			assert.Greater(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	})

	t.Run("anomalies score higher than inliers", func(t *testing.T) {
		anomalies := [][]float64{
			{1000, 1000, 1000, 1000, 1000},
			{-500, -500, -500, -500, -500},
		}
		scores, err := f.Score(anomalies)
		require.NoError(t, err)

		inlier, err := f.Score([][]float64{{0, 0, 0, 0, 0}})
		require.NoError(t, err)

		for _, score := range scores {
			assert.Greater(t, score, 0.6, "anomalies should have high scores")
			assert.Greater(t, score, inlier[0])
		}
	})

	t.Run("anomalies are flagged", func(t *testing.T) {
		flags, err := f.Decide([][]float64{{1000, 1000, 1000, 1000, 1000}, {0, 0, 0, 0, 0}})
		require.NoError(t, err)
		assert.Equal(t, []bool{true, false}, flags)
	})

	t.Run("score before fit", func(t *testing.T) {
		untrained, err := New()
		require.NoError(t, err)
		_, err = untrained.Score(trainData)
		assert.ErrorIs(t, err, riskerr.ErrModelState)
	})

	t.Run("feature width mismatch", func(t *testing.T) {
		_, err := f.Score([][]float64{{1, 2}})
		assert.ErrorIs(t, err, riskerr.ErrDataQuality)
	})
}

func TestContaminationFlagsExpectedShare(t *testing.T) {
	data := generateTestData(400, 4)
	f, err := New(WithContamination(0.1), WithSeed(7))
	require.NoError(t, err)
	require.NoError(t, f.Fit(data))

	flags, err := f.Decide(data)
	require.NoError(t, err)

	flagged := 0
	for _, fl := range flags {
		if fl {
			flagged++
		}
	}
	assert.InDelta(t, 40, flagged, 2)
}

func TestFitDeterministic(t *testing.T) {
	data := generateTestData(300, 4)

	a, err := New(WithSeed(11), WithWorkers(1))
	require.NoError(t, err)
	b, err := New(WithSeed(11), WithWorkers(8))
	require.NoError(t, err)
	require.NoError(t, a.Fit(data))
	require.NoError(t, b.Fit(data))

	sa, err := a.Score(data)
	require.NoError(t, err)
	sb, err := b.Score(data)
	require.NoError(t, err)
	assert.Equal(t, sa, sb, "forest must not depend on worker scheduling")
	assert.Equal(t, a.Threshold(), b.Threshold())
}

func TestScoreIdempotent(t *testing.T) {
	data := generateTestData(200, 3)
	f, err := New(WithTrees(20), WithSeed(42))
	require.NoError(t, err)
	require.NoError(t, f.Fit(data))

	first, err := f.Score(data)
	require.NoError(t, err)
	second, err := f.Score(data)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSaveLoad(t *testing.T) {
	trainData := generateTestData(200, 4)
	original, err := New(WithTrees(30), WithContamination(0.15), WithSeed(42))
	require.NoError(t, err)
	require.NoError(t, original.Fit(trainData))

	// Get scores before save
	testData := generateTestData(50, 4)
	originalScores, err := original.Score(testData)
	require.NoError(t, err)

	// Save
	data, err := original.Save()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// Load into new instance
	loaded, err := New()
	require.NoError(t, err)
	require.NoError(t, loaded.Load(data))

	// Scores should match
	loadedScores, err := loaded.Score(testData)
	require.NoError(t, err)

	assert.Equal(t, originalScores, loadedScores)
	assert.Equal(t, original.Threshold(), loaded.Threshold())
	assert.Equal(t, 4, loaded.Width())
}

func TestSaveErrors(t *testing.T) {
	f, err := New()
	require.NoError(t, err)

	_, err = f.Save()
	assert.ErrorIs(t, err, riskerr.ErrModelState)

	assert.ErrorIs(t, f.Load([]byte("not gob")), riskerr.ErrModelState)
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(0))
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.2447, averagePathLength(256), 1e-3)
}

func TestImplementsDetector(t *testing.T) {
	var d detectors.Detector
	f, err := New()
	require.NoError(t, err)
	d = f
	assert.NotNil(t, d)
}

func BenchmarkFit(b *testing.B) {
	data := generateTestData(10000, 10)
	f, _ := New(WithTrees(100), WithSampleSize(256))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Fit(data)
	}
}

func BenchmarkScore(b *testing.B) {
	trainData := generateTestData(5000, 10)
	testData := generateTestData(1000, 10)

	f, _ := New(WithTrees(100), WithSampleSize(256))
	f.Fit(trainData)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Score(testData)
	}
}

func generateTestData(n, features int) [][]float64 {
	rng := rand.New(rand.NewSource(int64(n*31 + features)))
	data := make([][]float64, n)
	for i := 0; i < n; i++ {
		data[i] = make([]float64, features)
		for j := 0; j < features; j++ {
			data[i][j] = rng.NormFloat64()
		}
	}
	return data
}
