// Package detectors provides unsupervised anomaly detection algorithms behind
// one shared capability interface.
package detectors

import (
	"fmt"
	"runtime"

	"github.com/hed1ad/procurewatch/pkg/riskerr"
	"github.com/hed1ad/procurewatch/pkg/stats"
)

// Detector is the common interface for all anomaly detection algorithms.
// Every implementation orients its scores so that higher means more anomalous.
type Detector interface {
	// Fit trains the detector on a scaled feature matrix and derives the
	// decision threshold from the contamination rate.
	Fit(data [][]float64) error

	// Score returns one anomaly score per row.
	Score(data [][]float64) ([]float64, error)

	// Decide returns the native binary decision per row.
	Decide(data [][]float64) ([]bool, error)

	// Threshold returns the score above which a row is flagged.
	Threshold() float64

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// Score is one row's detector output.
type Score struct {
	// Value is the oriented anomaly score.
	Value float64
	// IsAnomaly indicates the score exceeds the detector threshold.
	IsAnomaly bool
}

// Evaluate scores data once and derives the flags from the detector threshold.
func Evaluate(d Detector, data [][]float64) ([]Score, error) {
	values, err := d.Score(data)
	if err != nil {
		return nil, err
	}
	thr := d.Threshold()
	out := make([]Score, len(values))
	for i, v := range values {
		out[i] = Score{Value: v, IsAnomaly: v > thr}
	}
	return out, nil
}

// Config holds common configuration for detectors.
type Config struct {
	// Contamination is the expected proportion of anomalies in training data.
	Contamination float64
	// Seed for reproducibility.
	Seed int64
	// Workers bounds the goroutines used while fitting and scoring.
	Workers int
}

// DefaultConfig returns sensible defaults for detector configuration.
func DefaultConfig() Config {
	return Config{
		Contamination: 0.1,
		Seed:          42,
		Workers:       runtime.GOMAXPROCS(0),
	}
}

// Validate reports configuration values outside their domain.
func (c Config) Validate() error {
	if !(c.Contamination > 0 && c.Contamination < 1) {
		return fmt.Errorf("%w: contamination must be in (0,1), got %v", riskerr.ErrConfig, c.Contamination)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive, got %d", riskerr.ErrConfig, c.Workers)
	}
	return nil
}

// ContaminationThreshold returns the score quantile that flags the given
// fraction of training rows.
func ContaminationThreshold(scores []float64, contamination float64) float64 {
	return stats.Quantile(scores, 1-contamination)
}

// CheckMatrix verifies data is non-empty with rows of equal width and returns that width.
func CheckMatrix(data [][]float64) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty data", riskerr.ErrDataQuality)
	}
	width := len(data[0])
	if width == 0 {
		return 0, fmt.Errorf("%w: rows have no features", riskerr.ErrDataQuality)
	}
	for i, row := range data {
		if len(row) != width {
			return 0, fmt.Errorf("%w: row %d has %d features, expected %d", riskerr.ErrDataQuality, i, len(row), width)
		}
	}
	return width, nil
}
