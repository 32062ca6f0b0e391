package pipeline

import (
	"fmt"

	"github.com/hed1ad/procurewatch/pkg/detectors"
	"github.com/hed1ad/procurewatch/pkg/patterns"
	"github.com/hed1ad/procurewatch/pkg/risk"
	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

// Config is the complete, immutable engine configuration. It is validated
// once by New.
type Config struct {
	// Features restricts the feature set; empty selects every feature.
	Features []string

	// Detector carries contamination, seed and worker bound shared by both models.
	Detector detectors.Config

	// Isolation forest ensemble size and per-tree subsample.
	Trees      int
	SampleSize int

	// Neighbors is k for the local outlier model.
	Neighbors int

	Risk risk.Config

	// Rules are evaluated on every scored batch; nil disables pattern flags.
	Rules []patterns.Rule
}

// DefaultConfig returns the production defaults: 5% contamination, 100 trees
// of 256 samples, 20 neighbors, equal fusion weights and the default rules.
func DefaultConfig() Config {
	d := detectors.DefaultConfig()
	d.Contamination = 0.05
	return Config{
		Detector:   d,
		Trees:      100,
		SampleSize: 256,
		Neighbors:  20,
		Risk:       risk.DefaultConfig(),
		Rules:      patterns.DefaultRules(),
	}
}

// Validate checks the values that New cannot check by constructing components.
func (c Config) Validate() error {
	if err := c.Detector.Validate(); err != nil {
		return err
	}
	if c.Trees < 1 {
		return fmt.Errorf("%w: tree count must be positive, got %d", riskerr.ErrConfig, c.Trees)
	}
	if c.Neighbors < 1 {
		return fmt.Errorf("%w: neighbor count must be positive, got %d", riskerr.ErrConfig, c.Neighbors)
	}
	return c.Risk.Validate()
}
