// Package metrics exposes prometheus collectors for model training and batch scoring.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "procurewatch"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	batchesScored prometheus.Counter
	recordsScored prometheus.Counter
	anomalies     *prometheus.CounterVec
	categories    *prometheus.CounterVec
	patternFlags  *prometheus.CounterVec
	trainDuration prometheus.Histogram
	scoreDuration prometheus.Histogram
	trainRecords  prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		batchesScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_scored_total",
			Help:      "Number of contract batches scored.",
		}),
		recordsScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_scored_total",
			Help:      "Number of contract records scored.",
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Records flagged anomalous, by model.",
		}, []string{"model"}),
		categories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_category_total",
			Help:      "Scored records by risk category.",
		}, []string{"category"}),
		patternFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_flags_total",
			Help:      "Suspicious-pattern flags raised, by rule.",
		}, []string{"rule"}),
		trainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "train_duration_seconds",
			Help:      "Time spent training a model.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		scoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "score_duration_seconds",
			Help:      "Time spent scoring a batch.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		trainRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "train_records",
			Help:      "Records in the most recent training batch.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.batchesScored, m.recordsScored, m.anomalies, m.categories,
		m.patternFlags, m.trainDuration, m.scoreDuration, m.trainRecords,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveTrain records a completed training run.
func (m *Metrics) ObserveTrain(d time.Duration, records int) {
	if m == nil {
		return
	}
	m.trainDuration.Observe(d.Seconds())
	m.trainRecords.Set(float64(records))
}

// ObserveScore records a scored batch.
func (m *Metrics) ObserveScore(d time.Duration, records int) {
	if m == nil {
		return
	}
	m.scoreDuration.Observe(d.Seconds())
	m.batchesScored.Inc()
	m.recordsScored.Add(float64(records))
}

// AddAnomalies counts records flagged by model.
func (m *Metrics) AddAnomalies(model string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.anomalies.WithLabelValues(model).Add(float64(n))
}

// AddCategory counts records assigned to a risk category.
func (m *Metrics) AddCategory(category string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.categories.WithLabelValues(category).Add(float64(n))
}

// AddPatternFlags counts flags raised by a rule.
func (m *Metrics) AddPatternFlags(rule string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.patternFlags.WithLabelValues(rule).Add(float64(n))
}
