// Package risk fuses the outputs of the outlier detectors into a bounded risk
// score and assigns each record a categorical risk band.
//
// Normalization is relative to the batch being scored: 1.0 is the most
// anomalous record of that batch, so equal raw scores in different batches do
// not necessarily produce equal risk scores.
package risk

import (
	"fmt"
	"math"

	"github.com/hed1ad/procurewatch/pkg/detectors"
	"github.com/hed1ad/procurewatch/pkg/riskerr"
	"github.com/hed1ad/procurewatch/pkg/stats"
)

// Score bounds.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

const weightTolerance = 1e-9

// Config holds the fusion weights and band boundaries.
type Config struct {
	IsoWeight float64 `json:"iso_weight" yaml:"iso_weight"`
	LOFWeight float64 `json:"lof_weight" yaml:"lof_weight"`
	Bands     Bands   `json:"bands" yaml:"bands"`
}

// DefaultConfig weights both detectors equally.
func DefaultConfig() Config {
	return Config{IsoWeight: 0.5, LOFWeight: 0.5, Bands: DefaultBands()}
}

// Validate reports weights that are negative or do not sum to one, and bands
// that are not strictly increasing inside (0,100].
func (c Config) Validate() error {
	if c.IsoWeight < 0 || c.LOFWeight < 0 || math.IsNaN(c.IsoWeight) || math.IsNaN(c.LOFWeight) {
		return fmt.Errorf("%w: fusion weights must be non-negative, got %v and %v", riskerr.ErrConfig, c.IsoWeight, c.LOFWeight)
	}
	if sum := c.IsoWeight + c.LOFWeight; math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: fusion weights must sum to 1, got %v", riskerr.ErrConfig, sum)
	}
	b := c.Bands
	if !(MinScore < b.Medium && b.Medium < b.High && b.High < b.Critical && b.Critical <= MaxScore) {
		return fmt.Errorf("%w: risk bands must satisfy 0 < medium < high < critical <= 100, got %v/%v/%v",
			riskerr.ErrConfig, b.Medium, b.High, b.Critical)
	}
	return nil
}

// Assessment is the fused outcome for one record.
type Assessment struct {
	IsoScore    float64  `json:"iso_score"`
	IsoAnomaly  bool     `json:"iso_anomaly"`
	LOFScore    float64  `json:"lof_score"`
	LOFAnomaly  bool     `json:"lof_anomaly"`
	AnyAnomaly  bool     `json:"any_anomaly"`
	BothAnomaly bool     `json:"both_anomaly"`
	RiskScore   float64  `json:"risk_score"`
	Category    Category `json:"risk_category"`
}

// Fuser combines per-record detector outputs.
type Fuser struct {
	cfg Config
}

// NewFuser validates cfg and returns a fuser bound to it.
func NewFuser(cfg Config) (*Fuser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Fuser{cfg: cfg}, nil
}

// Config returns the fuser configuration.
func (f *Fuser) Config() Config {
	return f.cfg
}

// Fuse combines the isolation and local-density outputs for the same batch.
// Both inputs must be oriented so that higher means more anomalous.
func (f *Fuser) Fuse(iso, lof []detectors.Score) ([]Assessment, error) {
	if len(iso) != len(lof) {
		return nil, fmt.Errorf("%w: %d isolation scores but %d local scores", riskerr.ErrDataQuality, len(iso), len(lof))
	}

	isoNorm := Normalize(values(iso))
	lofNorm := Normalize(values(lof))

	out := make([]Assessment, len(iso))
	for i := range iso {
		score := f.Combine(isoNorm[i], lofNorm[i])
		out[i] = Assessment{
			IsoScore:    iso[i].Value,
			IsoAnomaly:  iso[i].IsAnomaly,
			LOFScore:    lof[i].Value,
			LOFAnomaly:  lof[i].IsAnomaly,
			AnyAnomaly:  iso[i].IsAnomaly || lof[i].IsAnomaly,
			BothAnomaly: iso[i].IsAnomaly && lof[i].IsAnomaly,
			RiskScore:   score,
			Category:    f.cfg.Bands.Classify(score),
		}
	}
	return out, nil
}

// Combine returns the weighted risk score for two normalized scores in [0,1].
func (f *Fuser) Combine(isoNorm, lofNorm float64) float64 {
	score := MaxScore * (f.cfg.IsoWeight*isoNorm + f.cfg.LOFWeight*lofNorm)
	return math.Min(MaxScore, math.Max(MinScore, score))
}

// Classify maps a risk score onto the configured bands.
func (f *Fuser) Classify(score float64) Category {
	return f.cfg.Bands.Classify(score)
}

// Normalize min-max scales v to [0,1] over the batch. A constant vector maps
// to zeros since no record is more anomalous than another.
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	lo, hi := stats.MinMax(v)
	span := hi - lo
	if span == 0 || math.IsNaN(span) || math.IsInf(span, 0) {
		return out
	}
	for i, x := range v {
		out[i] = (x - lo) / span
	}
	return out
}

func values(scores []detectors.Score) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = s.Value
	}
	return out
}
