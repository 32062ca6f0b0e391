// Package scaler implements robust feature scaling (median centering, IQR
// scaling) fit once on a training matrix and applied read-only afterwards.
package scaler

import (
	"fmt"
	"sync"

	"github.com/hed1ad/procurewatch/pkg/riskerr"
	"github.com/hed1ad/procurewatch/pkg/stats"
)

// Robust scales each feature by (x - median) / (q75 - q25).
// A zero interquartile range is replaced by 1 so constant features stay finite.
type Robust struct {
	mu     sync.RWMutex
	params *Params
}

// Params are the learned per-feature parameters.
type Params struct {
	Center []float64
	Scale  []float64
}

// New returns an unfitted scaler.
func New() *Robust {
	return &Robust{}
}

// FromParams returns a fitted scaler carrying previously learned parameters.
func FromParams(p Params) (*Robust, error) {
	if len(p.Center) == 0 || len(p.Center) != len(p.Scale) {
		return nil, fmt.Errorf("%w: scaler parameters have %d centers and %d scales",
			riskerr.ErrModelState, len(p.Center), len(p.Scale))
	}
	return &Robust{params: &Params{Center: clone(p.Center), Scale: clone(p.Scale)}}, nil
}

// Fit learns the centering and scaling parameters. A scaler is fit exactly
// once; fitting again returns riskerr.ErrModelState.
func (r *Robust) Fit(data [][]float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.params != nil {
		return fmt.Errorf("%w: scaler already fitted", riskerr.ErrModelState)
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty training data", riskerr.ErrDataQuality)
	}

	width := len(data[0])
	p := &Params{
		Center: make([]float64, width),
		Scale:  make([]float64, width),
	}
	for j := 0; j < width; j++ {
		col := stats.Column(data, j)
		p.Center[j] = stats.Median(col)
		iqr := stats.Quantile(col, 0.75) - stats.Quantile(col, 0.25)
		if iqr == 0 {
			iqr = 1
		}
		p.Scale[j] = iqr
	}
	r.params = p
	return nil
}

// Transform returns a scaled copy of data; the input is not modified.
func (r *Robust) Transform(data [][]float64) ([][]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.params == nil {
		return nil, fmt.Errorf("%w: scaler not fitted", riskerr.ErrModelState)
	}

	width := len(r.params.Center)
	out := make([][]float64, len(data))
	for i, row := range data {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d features, scaler expects %d",
				riskerr.ErrDataQuality, i, len(row), width)
		}
		scaled := make([]float64, width)
		for j, v := range row {
			scaled[j] = (v - r.params.Center[j]) / r.params.Scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// Fitted reports whether parameters have been learned.
func (r *Robust) Fitted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.params != nil
}

// Params returns a copy of the learned parameters.
func (r *Robust) Params() (Params, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.params == nil {
		return Params{}, fmt.Errorf("%w: scaler not fitted", riskerr.ErrModelState)
	}
	return Params{Center: clone(r.params.Center), Scale: clone(r.params.Scale)}, nil
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
