package pipeline

import (
	"cmp"
	"context"
	"math"
	"math/rand"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/procurewatch/pkg/procurement"
)

// FeatureImportance is the mean absolute change in risk score caused by
// shuffling one feature column.
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// Importance ranks the model's features by permutation importance on batch,
// most important first. topN <= 0 returns every feature. Shuffles are seeded
// from the detector seed so repeated calls agree.
func (e *Engine) Importance(ctx context.Context, model *Model, batch *procurement.Batch, topN int) ([]FeatureImportance, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Importance", trace.WithAttributes(
		attribute.Int("records", batch.Len()),
	))
	defer span.End()

	out, err := e.importance(ctx, model, batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	slices.SortStableFunc(out, func(a, b FeatureImportance) int {
		return cmp.Compare(b.Importance, a.Importance)
	})
	if topN > 0 && topN < len(out) {
		out = out[:topN]
	}
	return out, nil
}

func (e *Engine) importance(ctx context.Context, model *Model, batch *procurement.Batch) ([]FeatureImportance, error) {
	x, err := e.scaled(ctx, model, batch)
	if err != nil {
		return nil, err
	}
	base, err := e.riskScores(model, x)
	if err != nil {
		return nil, err
	}

	out := make([]FeatureImportance, len(model.Features))
	var g errgroup.Group
	g.SetLimit(e.cfg.Detector.Workers)
	for j, name := range model.Features {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(e.cfg.Detector.Seed + int64(j)))
			scores, err := e.riskScores(model, permuteColumn(x, j, rng))
			if err != nil {
				return err
			}
			var sum float64
			for i := range scores {
				sum += math.Abs(scores[i] - base[i])
			}
			out[j] = FeatureImportance{Feature: name, Importance: sum / float64(len(scores))}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) riskScores(model *Model, x [][]float64) ([]float64, error) {
	assessments, err := e.assess(model, x)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(assessments))
	for i, a := range assessments {
		scores[i] = a.RiskScore
	}
	return scores, nil
}

// permuteColumn returns a copy of x with column j shuffled.
func permuteColumn(x [][]float64, j int, rng *rand.Rand) [][]float64 {
	perm := rng.Perm(len(x))
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = slices.Clone(row)
		out[i][j] = x[perm[i]][j]
	}
	return out
}
