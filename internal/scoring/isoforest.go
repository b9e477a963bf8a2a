package scoring

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/behaviorsec/kestrel/internal/domain"
)

const maxTreeSample = 256

// IsolationForest is an in-process outlier detector. Anomalous points
// isolate in fewer random splits, giving shorter average path lengths.
// The decision margin is calibrated against the training data so that
// roughly the contamination fraction of it falls below zero.
type IsolationForest struct {
	trees         int
	contamination float64
	rng           *rand.Rand

	built      []*isoNode
	sampleSize int
	offset     float64
	fitted     bool
}

// NewIsolationForest builds an untrained forest from config, applying the
// usual defaults for unset fields.
func NewIsolationForest(cfg domain.ModelConfig) *IsolationForest {
	trees := cfg.Trees
	if trees <= 0 {
		trees = 100
	}
	contamination := cfg.Contamination
	if contamination <= 0 || contamination >= 0.5 {
		contamination = 0.1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &IsolationForest{
		trees:         trees,
		contamination: contamination,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int // leaf only
	leaf    bool
}

// Fit trains the forest on scaled feature rows.
func (f *IsolationForest) Fit(samples [][]float64) error {
	if len(samples) == 0 {
		return errors.New("isoforest: no training samples")
	}

	f.sampleSize = len(samples)
	if f.sampleSize > maxTreeSample {
		f.sampleSize = maxTreeSample
	}
	maxDepth := int(math.Ceil(math.Log2(float64(f.sampleSize) + 1)))

	f.built = make([]*isoNode, f.trees)
	for i := 0; i < f.trees; i++ {
		f.built[i] = f.buildTree(f.subsample(samples), 0, maxDepth)
	}
	f.fitted = true

	// Calibrate the margin offset on the training scores: the raw score at
	// the (1 - contamination) quantile becomes the zero of the margin.
	scores := make([]float64, len(samples))
	for i, s := range samples {
		scores[i] = f.rawScore(s)
	}
	sort.Float64s(scores)
	f.offset = stat.Quantile(1-f.contamination, stat.Empirical, scores, nil)
	return nil
}

func (f *IsolationForest) subsample(samples [][]float64) [][]float64 {
	if len(samples) <= f.sampleSize {
		return samples
	}
	idx := f.rng.Perm(len(samples))[:f.sampleSize]
	out := make([][]float64, f.sampleSize)
	for i, j := range idx {
		out[i] = samples[j]
	}
	return out
}

func (f *IsolationForest) buildTree(data [][]float64, depth, maxDepth int) *isoNode {
	if depth >= maxDepth || len(data) <= 1 {
		return &isoNode{leaf: true, size: len(data)}
	}

	// Pick among features that still have spread.
	dims := len(data[0])
	splittable := make([]int, 0, dims)
	for d := 0; d < dims; d++ {
		lo, hi := data[0][d], data[0][d]
		for _, row := range data[1:] {
			if row[d] < lo {
				lo = row[d]
			}
			if row[d] > hi {
				hi = row[d]
			}
		}
		if hi > lo {
			splittable = append(splittable, d)
		}
	}
	if len(splittable) == 0 {
		return &isoNode{leaf: true, size: len(data)}
	}

	feature := splittable[f.rng.Intn(len(splittable))]
	lo, hi := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < lo {
			lo = row[feature]
		}
		if row[feature] > hi {
			hi = row[feature]
		}
	}
	split := lo + f.rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return &isoNode{
		feature: feature,
		split:   split,
		left:    f.buildTree(left, depth+1, maxDepth),
		right:   f.buildTree(right, depth+1, maxDepth),
	}
}

func (f *IsolationForest) pathLength(v []float64, n *isoNode, depth int) float64 {
	if n.leaf {
		return float64(depth) + avgPathAdjust(n.size)
	}
	if n.feature < len(v) && v[n.feature] < n.split {
		return f.pathLength(v, n.left, depth+1)
	}
	return f.pathLength(v, n.right, depth+1)
}

// avgPathAdjust is the expected path length of an unbuilt subtree over n
// points, the standard c(n) correction from the isolation forest paper.
func avgPathAdjust(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		h := math.Log(float64(n-1)) + 0.5772156649015329
		return 2*h - 2*float64(n-1)/float64(n)
	}
}

// rawScore is the anomaly score in (0, 1]: higher means more isolated.
func (f *IsolationForest) rawScore(v []float64) float64 {
	var sum float64
	for _, tree := range f.built {
		sum += f.pathLength(v, tree, 0)
	}
	avg := sum / float64(len(f.built))
	denom := avgPathAdjust(f.sampleSize)
	if denom == 0 {
		denom = 1
	}
	return math.Pow(2, -avg/denom)
}

// DecisionFunction returns the calibrated margin: positive for inliers,
// negative for outliers.
func (f *IsolationForest) DecisionFunction(v []float64) float64 {
	if !f.fitted {
		return 0
	}
	return f.offset - f.rawScore(v)
}

// Predict returns 1 for an inlier and -1 for an outlier.
func (f *IsolationForest) Predict(v []float64) int {
	if f.DecisionFunction(v) < 0 {
		return -1
	}
	return 1
}
