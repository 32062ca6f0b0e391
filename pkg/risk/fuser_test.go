package risk

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/procurewatch/pkg/detectors"
	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "skewed weights", mutate: func(c *Config) { c.IsoWeight, c.LOFWeight = 0.7, 0.3 }},
		{name: "single model", mutate: func(c *Config) { c.IsoWeight, c.LOFWeight = 1, 0 }},
		{name: "weights below one", mutate: func(c *Config) { c.IsoWeight = 0.4 }, wantErr: true},
		{name: "negative weight", mutate: func(c *Config) { c.IsoWeight, c.LOFWeight = -0.5, 1.5 }, wantErr: true},
		{name: "bands out of order", mutate: func(c *Config) { c.Bands.High = 40 }, wantErr: true},
		{name: "critical above 100", mutate: func(c *Config) { c.Bands.Critical = 101 }, wantErr: true},
		{name: "zero medium", mutate: func(c *Config) { c.Bands.Medium = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewFuser(cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, riskerr.ErrConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClassifyBoundaries(t *testing.T) {
	bands := DefaultBands()
	tests := []struct {
		score float64
		want  Category
	}{
		{0, Low},
		{49.999, Low},
		{50.000, Medium},
		{74.999, Medium},
		{75, High},
		{89.999, High},
		{90.000, Critical},
		{100, Critical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, bands.Classify(tt.score), "score %v", tt.score)
	}
}

func TestClassifyCustomBands(t *testing.T) {
	f, err := NewFuser(Config{IsoWeight: 0.5, LOFWeight: 0.5, Bands: Bands{Medium: 20, High: 40, Critical: 60}})
	require.NoError(t, err)
	assert.Equal(t, Low, f.Classify(19.99))
	assert.Equal(t, Medium, f.Classify(20))
	assert.Equal(t, Critical, f.Classify(60))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float64{0, 0.5, 1}, Normalize([]float64{2, 4, 6}))
	assert.Equal(t, []float64{0, 0, 0}, Normalize([]float64{3, 3, 3}))
	assert.Empty(t, Normalize(nil))
}

func TestFuse(t *testing.T) {
	f, err := NewFuser(DefaultConfig())
	require.NoError(t, err)

	iso := []detectors.Score{{Value: 0.4}, {Value: 0.5, IsAnomaly: true}, {Value: 0.8, IsAnomaly: true}}
	lof := []detectors.Score{{Value: 1.0}, {Value: 3.0, IsAnomaly: true}, {Value: 1.5}}

	out, err := f.Fuse(iso, lof)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.InDelta(t, 0.0, out[0].RiskScore, 1e-9)
	assert.InDelta(t, 100*(0.5*0.25+0.5*1), out[1].RiskScore, 1e-9)
	assert.InDelta(t, 100*(0.5*1+0.5*0.25), out[2].RiskScore, 1e-9)

	assert.Equal(t, Low, out[0].Category)
	assert.Equal(t, Medium, out[1].Category)

	assert.True(t, out[1].BothAnomaly)
	assert.True(t, out[2].AnyAnomaly)
	assert.False(t, out[2].BothAnomaly)
	assert.Equal(t, 0.8, out[2].IsoScore, "raw scores are carried through")

	_, err = f.Fuse(iso, lof[:2])
	assert.ErrorIs(t, err, riskerr.ErrDataQuality)
}

func TestFuseProperties(t *testing.T) {
	f, err := NewFuser(Config{IsoWeight: 0.3, LOFWeight: 0.7, Bands: DefaultBands()})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(3))
	iso := make([]detectors.Score, 500)
	lof := make([]detectors.Score, 500)
	for i := range iso {
		iso[i] = detectors.Score{Value: rng.Float64(), IsAnomaly: rng.Intn(10) == 0}
		lof[i] = detectors.Score{Value: 1 + rng.ExpFloat64(), IsAnomaly: rng.Intn(10) == 0}
	}

	out, err := f.Fuse(iso, lof)
	require.NoError(t, err)

	for i, a := range out {
		assert.GreaterOrEqual(t, a.RiskScore, MinScore)
		assert.LessOrEqual(t, a.RiskScore, MaxScore)
		assert.Equal(t, iso[i].IsAnomaly || lof[i].IsAnomaly, a.AnyAnomaly)
		assert.Equal(t, iso[i].IsAnomaly && lof[i].IsAnomaly, a.BothAnomaly)
		assert.Equal(t, f.Classify(a.RiskScore), a.Category)
	}
}

func TestCombineMonotone(t *testing.T) {
	f, err := NewFuser(DefaultConfig())
	require.NoError(t, err)

	for _, other := range []float64{0, 0.3, 1} {
		prev := -1.0
		for x := 0.0; x <= 1.0; x += 0.01 {
			s := f.Combine(x, other)
			assert.GreaterOrEqual(t, s, prev)
			prev = s

			s2 := f.Combine(other, x)
			assert.GreaterOrEqual(t, s2, MinScore)
			assert.LessOrEqual(t, s2, MaxScore)
		}
	}
	assert.Equal(t, MaxScore, f.Combine(1, 1))
}

func TestCategoryText(t *testing.T) {
	b, err := json.Marshal(map[string]Category{"c": High})
	require.NoError(t, err)
	assert.JSONEq(t, `{"c":"High"}`, string(b))

	var c Category
	require.NoError(t, c.UnmarshalText([]byte("critical")))
	assert.Equal(t, Critical, c)
	assert.Error(t, c.UnmarshalText([]byte("severe")))
	assert.Equal(t, "Category(9)", Category(9).String())
}
