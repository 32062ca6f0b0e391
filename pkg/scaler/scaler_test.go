package scaler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

func TestFitTransform(t *testing.T) {
	data := [][]float64{
		{1, 10, 7},
		{2, 20, 7},
		{3, 30, 7},
		{4, 40, 7},
		{5, 50, 7},
	}

	s := New()
	require.NoError(t, s.Fit(data))

	p, err := s.Params()
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 30, 7}, p.Center)
	assert.Equal(t, []float64{2, 20, 1}, p.Scale, "zero IQR is replaced by 1")

	out, err := s.Transform(data)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -1, 0}, out[0])
	assert.Equal(t, []float64{1, 1, 0}, out[4])
	assert.Equal(t, 1.0, data[0][0], "input must not be modified")
}

func TestFitOnce(t *testing.T) {
	s := New()
	require.NoError(t, s.Fit([][]float64{{1}, {2}}))

	err := s.Fit([][]float64{{100}, {200}})
	assert.ErrorIs(t, err, riskerr.ErrModelState)

	p, _ := s.Params()
	assert.Equal(t, []float64{1.5}, p.Center, "parameters must survive a rejected refit")
}

func TestTransformErrors(t *testing.T) {
	_, err := New().Transform([][]float64{{1}})
	assert.ErrorIs(t, err, riskerr.ErrModelState)

	s := New()
	require.NoError(t, s.Fit([][]float64{{1, 2}, {3, 4}}))
	_, err = s.Transform([][]float64{{1}})
	assert.ErrorIs(t, err, riskerr.ErrDataQuality)

	assert.ErrorIs(t, New().Fit(nil), riskerr.ErrDataQuality)
}

func TestFromParams(t *testing.T) {
	s, err := FromParams(Params{Center: []float64{1}, Scale: []float64{2}})
	require.NoError(t, err)
	assert.True(t, s.Fitted())

	out, err := s.Transform([][]float64{{5}})
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, out[0])

	_, err = FromParams(Params{Center: []float64{1}})
	assert.ErrorIs(t, err, riskerr.ErrModelState)
}
