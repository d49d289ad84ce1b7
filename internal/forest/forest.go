// Package forest implements an isolation forest: an ensemble of randomized
// binary trees that isolates anomalous points in fewer partitions than
// typical ones. Scores are in [0,1]; higher means more anomalous.
package forest

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

var (
	// ErrInsufficientData is returned when fewer than two usable feature
	// vectors survive cleaning, or the dataset is empty or dimensionless.
	ErrInsufficientData = errors.New("insufficient training data")

	// ErrInvalidParams is returned for a non-positive tree count or sample size.
	ErrInvalidParams = errors.New("invalid training parameters")
)

const eulerGamma = 0.5772156649

// minSplitRange is the smallest feature span considered splittable.
const minSplitRange = 1e-9

// Model is an immutable trained isolation forest. A model is never mutated
// after Train returns; retraining produces a new Model that the owner swaps
// in, so concurrent Score calls need no synchronization.
type Model struct {
	trees               []*tree
	averagePathConstant float64
	sampleSize          int
}

type tree struct {
	root     *node
	maxDepth int
}

type node struct {
	size     int
	feature  int
	split    float64
	left     *node
	right    *node
}

func (n *node) isLeaf() bool {
	return n.left == nil || n.right == nil
}

// averagePathLength is c(n): the expected path length of an unsuccessful
// search in a binary search tree of n nodes. Zero for n <= 1.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2.0*(math.Log(float64(n-1))+eulerGamma) - 2.0*float64(n-1)/float64(n)
}

// Train builds a model from the dataset. Vectors containing a non-finite
// component are discarded; sampleSize is clamped to the usable dataset size.
// When seed is non-nil each tree derives its own seed (seed + tree index) so
// repeated runs produce bit-identical models.
func Train(dataset [][]float64, treeCount, sampleSize int, seed *int64) (*Model, error) {
	if treeCount <= 0 || sampleSize <= 0 {
		return nil, ErrInvalidParams
	}
	if len(dataset) < 2 {
		return nil, ErrInsufficientData
	}

	dimension := len(dataset[0])
	if dimension == 0 {
		return nil, ErrInsufficientData
	}

	cleaned := make([][]float64, 0, len(dataset))
	for _, v := range dataset {
		if len(v) != dimension {
			continue
		}
		finite := true
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				finite = false
				break
			}
		}
		if finite {
			cleaned = append(cleaned, v)
		}
	}

	if len(cleaned) < 2 {
		return nil, ErrInsufficientData
	}

	if sampleSize > len(cleaned) {
		sampleSize = len(cleaned)
	}

	trees := make([]*tree, treeCount)

	// Tree builds are independent: each worker owns its sample and its
	// output slot, with only read access to the cleaned dataset.
	var wg sync.WaitGroup
	for i := 0; i < treeCount; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			var rng *rand.Rand
			if seed != nil {
				rng = rand.New(rand.NewSource(*seed + int64(i)))
			} else {
				rng = rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)*7919))
			}

			sample := drawSample(cleaned, sampleSize, rng)
			maxDepth := 0
			if len(sample) > 1 {
				maxDepth = int(math.Ceil(math.Log2(float64(len(sample)))))
			}
			trees[i] = &tree{
				root:     buildNode(sample, 0, maxDepth, dimension, rng),
				maxDepth: maxDepth,
			}
		}(i)
	}
	wg.Wait()

	return &Model{
		trees:               trees,
		averagePathConstant: averagePathLength(sampleSize),
		sampleSize:          sampleSize,
	}, nil
}

// drawSample draws sampleSize rows uniformly without replacement.
func drawSample(dataset [][]float64, sampleSize int, rng *rand.Rand) [][]float64 {
	if sampleSize >= len(dataset) {
		sample := make([][]float64, len(dataset))
		copy(sample, dataset)
		return sample
	}

	picked := make(map[int]struct{}, sampleSize)
	sample := make([][]float64, 0, sampleSize)
	for len(sample) < sampleSize {
		idx := rng.Intn(len(dataset))
		if _, dup := picked[idx]; dup {
			continue
		}
		picked[idx] = struct{}{}
		sample = append(sample, dataset[idx])
	}
	return sample
}

// buildNode recursively partitions the sample until it is isolated or the
// depth limit is reached.
func buildNode(samples [][]float64, depth, maxDepth, dimension int, rng *rand.Rand) *node {
	size := len(samples)
	if size <= 1 || depth >= maxDepth {
		return &node{size: size}
	}

	feature := rng.Intn(dimension)
	min := math.Inf(1)
	max := math.Inf(-1)
	for _, s := range samples {
		v := s[feature]
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	if math.IsInf(min, 0) || math.IsInf(max, 0) || math.Abs(max-min) < minSplitRange {
		return &node{size: size}
	}

	split := rng.Float64()*(max-min) + min
	left := make([][]float64, 0, size)
	right := make([][]float64, 0, size)
	for _, s := range samples {
		if s[feature] < split {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	// The random threshold failed to separate the sample.
	if len(left) == 0 || len(right) == 0 {
		return &node{size: size}
	}

	return &node{
		size:    size,
		feature: feature,
		split:   split,
		left:    buildNode(left, depth+1, maxDepth, dimension, rng),
		right:   buildNode(right, depth+1, maxDepth, dimension, rng),
	}
}

// pathLength descends the tree following the feature splits and returns the
// depth reached plus the leaf-size correction c(size).
func (t *tree) pathLength(sample []float64) float64 {
	return t.root.pathLength(sample, 0, t.maxDepth)
}

func (n *node) pathLength(sample []float64, depth, maxDepth int) float64 {
	if n.isLeaf() || depth >= maxDepth {
		return float64(depth) + averagePathLength(n.size)
	}

	if sample[n.feature] < n.split {
		return n.left.pathLength(sample, depth+1, maxDepth)
	}
	return n.right.pathLength(sample, depth+1, maxDepth)
}

// Score returns the anomaly score for a feature vector: 2^(-avg/c(m)) where
// avg is the mean path length across the trees and m the training sample
// size. Returns 0 instead of propagating any numeric fault.
func (m *Model) Score(features []float64) float64 {
	if len(m.trees) == 0 || m.averagePathConstant <= 0 {
		return 0
	}

	sum := 0.0
	for _, t := range m.trees {
		sum += t.pathLength(features)
	}

	avgPathLength := sum / float64(len(m.trees))
	score := math.Pow(2, -avgPathLength/m.averagePathConstant)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}

	return score
}

// TreeCount reports the ensemble size.
func (m *Model) TreeCount() int {
	return len(m.trees)
}

// SampleSize reports the per-tree sample size used at training time.
func (m *Model) SampleSize() int {
	return m.sampleSize
}
