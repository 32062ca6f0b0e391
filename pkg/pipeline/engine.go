// Package pipeline wires feature building, scaling, both outlier models, score
// fusion and pattern flags into a train / score engine with a persistable model.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/procurewatch/pkg/detectors"
	"github.com/hed1ad/procurewatch/pkg/detectors/iforest"
	"github.com/hed1ad/procurewatch/pkg/detectors/lof"
	"github.com/hed1ad/procurewatch/pkg/features"
	"github.com/hed1ad/procurewatch/pkg/metrics"
	"github.com/hed1ad/procurewatch/pkg/patterns"
	"github.com/hed1ad/procurewatch/pkg/procurement"
	"github.com/hed1ad/procurewatch/pkg/risk"
	"github.com/hed1ad/procurewatch/pkg/riskerr"
	"github.com/hed1ad/procurewatch/pkg/scaler"
)

var tracer = otel.Tracer("procurewatch/pipeline")

// Model names used in logs and metrics.
const (
	ModelIsolationForest = "isolation_forest"
	ModelLOF             = "lof"
)

// Result is one scored record: the input columns, the fused assessment and
// the pattern flags.
type Result struct {
	procurement.ContractRecord
	risk.Assessment
	patterns.Flags
}

// Engine trains and applies models. It is safe for concurrent use.
type Engine struct {
	cfg     Config
	builder *features.Builder
	fuser   *risk.Fuser
	rules   *patterns.Engine
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics records training and scoring on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New validates cfg and returns an engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	builder, err := features.NewBuilder(cfg.Features...)
	if err != nil {
		return nil, err
	}
	fuser, err := risk.NewFuser(cfg.Risk)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		builder: builder,
		fuser:   fuser,
		logger:  slog.Default(),
	}
	if len(cfg.Rules) > 0 {
		if e.rules, err = patterns.NewEngine(cfg.Rules); err != nil {
			return nil, err
		}
	}
	if _, _, err := e.newDetectors(); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) newDetectors() (*iforest.IsolationForest, *lof.LocalOutlierFactor, error) {
	iso, err := iforest.New(
		iforest.WithConfig(e.cfg.Detector),
		iforest.WithTrees(e.cfg.Trees),
		iforest.WithSampleSize(e.cfg.SampleSize),
	)
	if err != nil {
		return nil, nil, err
	}
	local, err := lof.New(
		lof.WithConfig(e.cfg.Detector),
		lof.WithNeighbors(e.cfg.Neighbors),
	)
	if err != nil {
		return nil, nil, err
	}
	return iso, local, nil
}

// Train fits the scaler once and both outlier models on the same scaled
// matrix. Any failure aborts without producing a model.
func (e *Engine) Train(ctx context.Context, batch *procurement.Batch) (*Model, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Train", trace.WithAttributes(
		attribute.Int("records", batch.Len()),
	))
	defer span.End()

	start := time.Now()
	model, err := e.train(ctx, batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("training failed", "records", batch.Len(), "error", err)
		return nil, err
	}
	elapsed := time.Since(start)

	span.SetAttributes(
		attribute.String("model.id", model.ID),
		attribute.Int("features", len(model.Features)),
	)
	e.metrics.ObserveTrain(elapsed, model.Records)
	e.logger.Info("model trained",
		"id", model.ID,
		"records", model.Records,
		"features", len(model.Features),
		"iso_threshold", model.iso.Threshold(),
		"lof_threshold", model.local.Threshold(),
		"duration", elapsed,
	)
	return model, nil
}

func (e *Engine) train(ctx context.Context, batch *procurement.Batch) (*Model, error) {
	m, err := e.prepare(ctx, batch)
	if err != nil {
		return nil, err
	}

	sc := scaler.New()
	if err := sc.Fit(m.Rows); err != nil {
		return nil, err
	}
	x, err := sc.Transform(m.Rows)
	if err != nil {
		return nil, err
	}

	iso, local, err := e.newDetectors()
	if err != nil {
		return nil, err
	}

	var g errgroup.Group
	g.Go(func() error { return iso.Fit(x) })
	g.Go(func() error { return local.Fit(x) })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Model{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Features:  m.Names,
		Dropped:   m.Dropped,
		Records:   batch.Len(),
		scaler:    sc,
		iso:       iso,
		local:     local,
	}, nil
}

// prepare validates the batch and builds its feature matrix.
func (e *Engine) prepare(ctx context.Context, batch *procurement.Batch) (*features.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := procurement.Validate(batch); err != nil {
		return nil, err
	}
	m, err := e.builder.Build(batch)
	if err != nil {
		return nil, err
	}
	if len(m.Dropped) > 0 {
		e.logger.Warn("features dropped for missing columns", "dropped", m.Dropped)
	}
	return m, nil
}

// scaled builds the batch matrix and applies the model's scaler after
// checking the batch yields exactly the features the model was trained on.
func (e *Engine) scaled(ctx context.Context, model *Model, batch *procurement.Batch) ([][]float64, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: no model", riskerr.ErrModelState)
	}
	m, err := e.prepare(ctx, batch)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(m.Names, model.Features) {
		return nil, fmt.Errorf("%w: model was trained on features %v, batch yields %v",
			riskerr.ErrModelState, model.Features, m.Names)
	}
	return model.scaler.Transform(m.Rows)
}

// Score applies a trained model to batch. Nothing is returned unless every
// record was scored.
func (e *Engine) Score(ctx context.Context, model *Model, batch *procurement.Batch) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Score", trace.WithAttributes(
		attribute.Int("records", batch.Len()),
	))
	defer span.End()

	start := time.Now()
	results, err := e.score(ctx, model, batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("scoring failed", "records", batch.Len(), "error", err)
		return nil, err
	}
	elapsed := time.Since(start)

	s := Summarize(results, 0)
	span.SetAttributes(
		attribute.Int("anomalies.any", s.AnyAnomalies),
		attribute.Int("anomalies.both", s.BothAnomalies),
	)
	e.record(elapsed, s)
	e.logger.Info("batch scored",
		"model", model.ID,
		"records", s.Records,
		"iso_anomalies", s.IsoAnomalies,
		"lof_anomalies", s.LOFAnomalies,
		"any_anomalies", s.AnyAnomalies,
		"both_anomalies", s.BothAnomalies,
		"high_risk", s.HighRisk,
		"duration", elapsed,
	)
	return results, nil
}

func (e *Engine) score(ctx context.Context, model *Model, batch *procurement.Batch) ([]Result, error) {
	x, err := e.scaled(ctx, model, batch)
	if err != nil {
		return nil, err
	}

	assessments, err := e.assess(model, x)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var flags []patterns.Flags
	if e.rules != nil {
		if flags, err = e.rules.Evaluate(batch); err != nil {
			return nil, err
		}
	}

	results := make([]Result, batch.Len())
	for i, rec := range batch.Records {
		results[i] = Result{ContractRecord: rec, Assessment: assessments[i]}
		if flags != nil {
			results[i].Flags = flags[i]
		}
	}
	return results, nil
}

// assess runs both models over a scaled matrix and fuses their outputs.
func (e *Engine) assess(model *Model, x [][]float64) ([]risk.Assessment, error) {
	var iso, local []detectors.Score
	var g errgroup.Group
	g.Go(func() (err error) {
		iso, err = detectors.Evaluate(model.iso, x)
		return err
	})
	g.Go(func() (err error) {
		local, err = detectors.Evaluate(model.local, x)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return e.fuser.Fuse(iso, local)
}

func (e *Engine) record(elapsed time.Duration, s Summary) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveScore(elapsed, s.Records)
	e.metrics.AddAnomalies(ModelIsolationForest, s.IsoAnomalies)
	e.metrics.AddAnomalies(ModelLOF, s.LOFAnomalies)
	for c, n := range s.Categories {
		e.metrics.AddCategory(c.String(), n)
	}
	for rule, n := range s.PatternFlags {
		e.metrics.AddPatternFlags(rule, n)
	}
}
