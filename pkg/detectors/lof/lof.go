// Package lof implements the Local Outlier Factor algorithm for anomaly detection.
//
// The model keeps its training set and scores arbitrary rows against it, so
// records that were not part of the training batch can be scored as well.
package lof

import (
	"bytes"
	"cmp"
	"encoding/gob"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/procurewatch/pkg/detectors"
	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

// densityFloor keeps the reachability density finite for duplicated points.
const densityFloor = 1e-10

// LocalOutlierFactor flags rows whose local reachability density is low
// compared with the density of their k nearest neighbors.
type LocalOutlierFactor struct {
	mu sync.RWMutex

	// Configuration
	neighbors     int
	contamination float64
	workers       int

	// Trained model
	train     [][]float64
	kDistance []float64
	density   []float64
	threshold float64
	trained   bool
}

// Option configures a LocalOutlierFactor.
type Option func(*LocalOutlierFactor)

// WithNeighbors sets k, the neighborhood size.
func WithNeighbors(k int) Option {
	return func(l *LocalOutlierFactor) {
		l.neighbors = k
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(l *LocalOutlierFactor) {
		l.contamination = c
	}
}

// WithWorkers bounds the goroutines used for neighbor search.
func WithWorkers(n int) Option {
	return func(l *LocalOutlierFactor) {
		l.workers = n
	}
}

// WithConfig applies the shared detector configuration.
func WithConfig(c detectors.Config) Option {
	return func(l *LocalOutlierFactor) {
		l.contamination = c.Contamination
		l.workers = c.Workers
	}
}

// New creates a new LocalOutlierFactor with the given options.
func New(opts ...Option) (*LocalOutlierFactor, error) {
	l := &LocalOutlierFactor{
		neighbors:     20,
		contamination: 0.1,
		workers:       runtime.GOMAXPROCS(0),
	}

	for _, opt := range opts {
		opt(l)
	}

	cfg := detectors.Config{Contamination: l.contamination, Workers: l.workers}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l.neighbors < 1 {
		return nil, fmt.Errorf("%w: neighbor count must be at least 1, got %d", riskerr.ErrConfig, l.neighbors)
	}
	return l, nil
}

// MinSamples returns the smallest training set the model accepts.
func (l *LocalOutlierFactor) MinSamples() int {
	return l.neighbors + 1
}

// neighbor is a training row and its distance to the query.
type neighbor struct {
	index    int
	distance float64
}

// Fit stores the training rows and their neighborhood statistics.
// The batch must hold more than k rows; k is never reduced to fit a small batch.
func (l *LocalOutlierFactor) Fit(data [][]float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := detectors.CheckMatrix(data); err != nil {
		return err
	}
	if len(data) < l.MinSamples() {
		return fmt.Errorf("%w: local outlier model with %d neighbors needs at least %d records, got %d",
			riskerr.ErrDataQuality, l.neighbors, l.MinSamples(), len(data))
	}

	train := make([][]float64, len(data))
	for i, row := range data {
		train[i] = slices.Clone(row)
	}

	// Training neighborhoods exclude the row itself.
	hoods, err := l.neighborhoods(train, train, true)
	if err != nil {
		return err
	}

	kDistance := make([]float64, len(train))
	for i, hood := range hoods {
		kDistance[i] = hood[len(hood)-1].distance
	}

	density := make([]float64, len(train))
	for i, hood := range hoods {
		density[i] = reachDensity(hood, kDistance)
	}

	factors := make([]float64, len(train))
	for i, hood := range hoods {
		factors[i] = outlierFactor(hood, density, density[i])
	}

	l.train = train
	l.kDistance = kDistance
	l.density = density
	l.threshold = detectors.ContaminationThreshold(factors, l.contamination)
	l.trained = true
	return nil
}

// Score returns the local outlier factor of each row relative to the training
// set. Values near 1 are inliers; larger values are more anomalous.
func (l *LocalOutlierFactor) Score(data [][]float64) ([]float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.trained {
		return nil, fmt.Errorf("%w: local outlier model not trained", riskerr.ErrModelState)
	}
	width := len(l.train[0])
	for i, row := range data {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d features, model expects %d",
				riskerr.ErrDataQuality, i, len(row), width)
		}
	}

	hoods, err := l.neighborhoods(data, l.train, false)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(data))
	for i, hood := range hoods {
		scores[i] = outlierFactor(hood, l.density, reachDensity(hood, l.kDistance))
	}
	return scores, nil
}

// Decide flags rows whose factor exceeds the contamination threshold.
func (l *LocalOutlierFactor) Decide(data [][]float64) ([]bool, error) {
	scores, err := l.Score(data)
	if err != nil {
		return nil, err
	}
	thr := l.Threshold()

	flags := make([]bool, len(scores))
	for i, s := range scores {
		flags[i] = s > thr
	}
	return flags, nil
}

// neighborhoods finds the k nearest training rows for every query row.
func (l *LocalOutlierFactor) neighborhoods(queries, train [][]float64, excludeSelf bool) ([][]neighbor, error) {
	hoods := make([][]neighbor, len(queries))

	var g errgroup.Group
	g.SetLimit(l.workers)
	for i := range queries {
		g.Go(func() error {
			skip := -1
			if excludeSelf {
				skip = i
			}
			hoods[i] = nearest(queries[i], train, l.neighbors, skip)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return hoods, nil
}

// nearest returns the k rows of train closest to q, ordered by distance with
// ties broken by row index.
func nearest(q []float64, train [][]float64, k, skip int) []neighbor {
	all := make([]neighbor, 0, len(train))
	for j, row := range train {
		if j == skip {
			continue
		}
		all = append(all, neighbor{index: j, distance: euclidean(q, row)})
	}
	slices.SortFunc(all, func(a, b neighbor) int {
		if c := cmp.Compare(a.distance, b.distance); c != 0 {
			return c
		}
		return cmp.Compare(a.index, b.index)
	})
	return all[:k]
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// reachDensity is the inverse mean reachability distance of a neighborhood.
func reachDensity(hood []neighbor, kDistance []float64) float64 {
	var sum float64
	for _, n := range hood {
		sum += math.Max(kDistance[n.index], n.distance)
	}
	return 1 / (sum/float64(len(hood)) + densityFloor)
}

// outlierFactor is the mean neighbor density divided by the row's own density.
func outlierFactor(hood []neighbor, density []float64, own float64) float64 {
	var sum float64
	for _, n := range hood {
		sum += density[n.index]
	}
	return sum / float64(len(hood)) / own
}

type snapshot struct {
	Neighbors     int
	Contamination float64
	Train         [][]float64
	KDistance     []float64
	Density       []float64
	Threshold     float64
}

// Save serializes the trained model.
func (l *LocalOutlierFactor) Save() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.trained {
		return nil, fmt.Errorf("%w: local outlier model not trained", riskerr.ErrModelState)
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		Neighbors:     l.neighbors,
		Contamination: l.contamination,
		Train:         l.train,
		KDistance:     l.kDistance,
		Density:       l.density,
		Threshold:     l.threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("encode local outlier model: %w", err)
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (l *LocalOutlierFactor) Load(data []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("%w: decode local outlier model: %v", riskerr.ErrModelState, err)
	}
	if len(s.Train) <= s.Neighbors || len(s.KDistance) != len(s.Train) || len(s.Density) != len(s.Train) {
		return fmt.Errorf("%w: local outlier snapshot is inconsistent", riskerr.ErrModelState)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.neighbors = s.Neighbors
	l.contamination = s.Contamination
	l.train = s.Train
	l.kDistance = s.KDistance
	l.density = s.Density
	l.threshold = s.Threshold
	l.trained = true
	return nil
}

// Threshold returns the current anomaly threshold.
func (l *LocalOutlierFactor) Threshold() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.threshold
}

// Width returns the number of features of the training set, or 0.
func (l *LocalOutlierFactor) Width() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.train) == 0 {
		return 0
	}
	return len(l.train[0])
}

// Neighbors returns k.
func (l *LocalOutlierFactor) Neighbors() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.neighbors
}

var _ detectors.Detector = (*LocalOutlierFactor)(nil)
