// Package riskerr defines the error taxonomy shared by the scoring core.
//
// Every failure returned by the core wraps exactly one of the sentinels below,
// so callers can classify it with errors.Is.
package riskerr

import "errors"

var (
	// ErrSchema reports a required column missing from the input batch.
	ErrSchema = errors.New("schema error")

	// ErrDataQuality reports a batch that cannot be scored: empty, too small
	// for a model, or carrying a feature column that cannot be imputed.
	ErrDataQuality = errors.New("data quality error")

	// ErrConfig reports an invalid configuration value. Only constructors return it.
	ErrConfig = errors.New("config error")

	// ErrModelState reports scoring before fitting, refitting fitted state, or an
	// artifact that does not match the current feature layout.
	ErrModelState = errors.New("model state error")
)
