// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/procurewatch/pkg/detectors"
	"github.com/hed1ad/procurewatch/pkg/riskerr"
)

// MinSamples is the smallest training set a forest can be grown on.
const MinSamples = 2

const eulerGamma = 0.5772156649015329

// IsolationForest implements unsupervised anomaly detection using isolation trees.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	seed          int64
	workers       int

	// Trained model
	trees      []tree
	nFeatures  int
	maxDepth   int
	normalizer float64
	threshold  float64
	trained    bool
}

// tree is a single isolation tree stored as a flat node slice; node 0 is the root.
type tree struct {
	Nodes []node
}

// node fields are exported so trees round-trip through gob.
type node struct {
	Feature int
	Split   float64
	Left    int32
	Right   int32
	// Size is the number of training samples that reached a leaf.
	Size int
}

func (n node) leaf() bool {
	return n.Left < 0
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.seed = seed
	}
}

// WithWorkers bounds the number of trees grown concurrently.
func WithWorkers(n int) Option {
	return func(f *IsolationForest) {
		f.workers = n
	}
}

// WithConfig applies the shared detector configuration.
func WithConfig(c detectors.Config) Option {
	return func(f *IsolationForest) {
		f.contamination = c.Contamination
		f.seed = c.Seed
		f.workers = c.Workers
	}
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) (*IsolationForest, error) {
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    256,
		contamination: 0.1,
		seed:          42,
		workers:       runtime.GOMAXPROCS(0),
	}

	for _, opt := range opts {
		opt(f)
	}

	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *IsolationForest) validate() error {
	cfg := detectors.Config{Contamination: f.contamination, Seed: f.seed, Workers: f.workers}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if f.nTrees < 1 {
		return fmt.Errorf("%w: tree count must be positive, got %d", riskerr.ErrConfig, f.nTrees)
	}
	if f.sampleSize < MinSamples {
		return fmt.Errorf("%w: sample size must be at least %d, got %d", riskerr.ErrConfig, MinSamples, f.sampleSize)
	}
	return nil
}

// Fit trains the Isolation Forest on the provided data.
func (f *IsolationForest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	nFeatures, err := detectors.CheckMatrix(data)
	if err != nil {
		return err
	}
	nSamples := len(data)
	if nSamples < MinSamples {
		return fmt.Errorf("%w: isolation forest needs at least %d records, got %d",
			riskerr.ErrDataQuality, MinSamples, nSamples)
	}

	sampleSize := min(f.sampleSize, nSamples)
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))

	// Each tree draws from its own source so the forest does not depend on
	// goroutine scheduling.
	trees := make([]tree, f.nTrees)
	var g errgroup.Group
	g.SetLimit(f.workers)
	for i := range trees {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(f.seed + int64(i)))
			indices := rng.Perm(nSamples)[:sampleSize]
			b := &grower{data: data, nFeatures: nFeatures, maxDepth: maxDepth, rng: rng}
			b.grow(indices, 0)
			trees[i] = tree{Nodes: b.nodes}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.trees = trees
	f.nFeatures = nFeatures
	f.maxDepth = maxDepth
	f.normalizer = averagePathLength(float64(sampleSize))
	f.trained = true

	f.threshold = detectors.ContaminationThreshold(f.score(data), f.contamination)
	return nil
}

type grower struct {
	data      [][]float64
	nFeatures int
	maxDepth  int
	rng       *rand.Rand
	nodes     []node
}

// grow appends the subtree for indices and returns the position of its root.
func (b *grower) grow(indices []int, depth int) int32 {
	pos := int32(len(b.nodes))
	b.nodes = append(b.nodes, node{Left: -1, Right: -1, Size: len(indices)})

	// Terminal conditions
	if depth >= b.maxDepth || len(indices) <= 1 {
		return pos
	}

	// Random non-constant feature; a node where every feature is constant is a leaf.
	feature, minVal, maxVal := -1, 0.0, 0.0
	for _, j := range b.rng.Perm(b.nFeatures) {
		lo, hi := b.span(indices, j)
		if lo < hi {
			feature, minVal, maxVal = j, lo, hi
			break
		}
	}
	if feature < 0 {
		return pos
	}

	splitValue := minVal + b.rng.Float64()*(maxVal-minVal)

	var left, right []int
	for _, idx := range indices {
		if b.data[idx][feature] < splitValue {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[pos] = node{Feature: feature, Split: splitValue, Left: l, Right: r}
	return pos
}

func (b *grower) span(indices []int, feature int) (lo, hi float64) {
	lo, hi = b.data[indices[0]][feature], b.data[indices[0]][feature]
	for _, idx := range indices[1:] {
		v := b.data[idx][feature]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Score returns anomaly scores in (0, 1]; higher values are more anomalous.
func (f *IsolationForest) Score(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.checkInput(data); err != nil {
		return nil, err
	}
	return f.score(data), nil
}

// Decide flags rows whose score exceeds the contamination threshold.
func (f *IsolationForest) Decide(data [][]float64) ([]bool, error) {
	scores, err := f.Score(data)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	flags := make([]bool, len(scores))
	for i, s := range scores {
		flags[i] = s > f.threshold
	}
	return flags, nil
}

func (f *IsolationForest) checkInput(data [][]float64) error {
	if !f.trained {
		return fmt.Errorf("%w: isolation forest not trained", riskerr.ErrModelState)
	}
	for i, row := range data {
		if len(row) != f.nFeatures {
			return fmt.Errorf("%w: row %d has %d features, model expects %d",
				riskerr.ErrDataQuality, i, len(row), f.nFeatures)
		}
	}
	return nil
}

func (f *IsolationForest) score(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = f.scoreOne(sample)
	}
	return scores
}

func (f *IsolationForest) scoreOne(sample []float64) float64 {
	// Average path length across all trees
	var totalPath float64
	for i := range f.trees {
		totalPath += pathLength(sample, f.trees[i].Nodes)
	}
	avgPath := totalPath / float64(len(f.trees))

	// Anomaly score: 2^(-avgPath / c(n))
	return math.Pow(2, -avgPath/f.normalizer)
}

// pathLength walks sample to its leaf and adds the expected remaining depth.
func pathLength(sample []float64, nodes []node) float64 {
	depth := 0
	n := nodes[0]
	for !n.leaf() {
		if sample[n.Feature] < n.Split {
			n = nodes[n.Left]
		} else {
			n = nodes[n.Right]
		}
		depth++
	}
	return float64(depth) + averagePathLength(float64(n.Size))
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, with H(i) ~ ln(i) + Euler-Mascheroni
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}

type snapshot struct {
	NTrees        int
	SampleSize    int
	Contamination float64
	Seed          int64
	NFeatures     int
	MaxDepth      int
	Normalizer    float64
	Threshold     float64
	Trees         []tree
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, fmt.Errorf("%w: isolation forest not trained", riskerr.ErrModelState)
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		NTrees:        f.nTrees,
		SampleSize:    f.sampleSize,
		Contamination: f.contamination,
		Seed:          f.seed,
		NFeatures:     f.nFeatures,
		MaxDepth:      f.maxDepth,
		Normalizer:    f.normalizer,
		Threshold:     f.threshold,
		Trees:         f.trees,
	})
	if err != nil {
		return nil, fmt.Errorf("encode isolation forest: %w", err)
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *IsolationForest) Load(data []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("%w: decode isolation forest: %v", riskerr.ErrModelState, err)
	}
	if len(s.Trees) == 0 || s.NFeatures == 0 {
		return fmt.Errorf("%w: isolation forest snapshot is empty", riskerr.ErrModelState)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nTrees = s.NTrees
	f.sampleSize = s.SampleSize
	f.contamination = s.Contamination
	f.seed = s.Seed
	f.nFeatures = s.NFeatures
	f.maxDepth = s.MaxDepth
	f.normalizer = s.Normalizer
	f.threshold = s.Threshold
	f.trees = s.Trees
	f.trained = true

	return nil
}

// Threshold returns the current anomaly threshold.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}

// Width returns the number of features the forest was fitted on, or 0.
func (f *IsolationForest) Width() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.nFeatures
}

// Trained reports whether the forest has been fitted or loaded.
func (f *IsolationForest) Trained() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trained
}

var _ detectors.Detector = (*IsolationForest)(nil)
