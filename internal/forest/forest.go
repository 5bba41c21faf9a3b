// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package forest implements a small random-forest classifier for the
// anomaly engine. The forest is trained in process on a synthetic labelled
// dataset and is fully deterministic for a given seed: bootstrap sampling,
// feature subsampling, and split selection all draw from seeded generators
// with stable tie-breaking, so every start of the daemon yields the same
// model.
package forest

import (
	"math"
	"math/rand"
	"sort"

	"grimm.is/campusgate/internal/errors"
)

// Options control forest training.
type Options struct {
	NumTrees    int
	MaxDepth    int
	MinLeafSize int
	Seed        int64
}

func DefaultOptions() Options {
	return Options{NumTrees: 100, MaxDepth: 10, MinLeafSize: 2, Seed: 42}
}

type node struct {
	feature   int
	threshold float64
	left      *node
	right     *node
	leaf      bool
	prob      float64 // weighted anomaly fraction at the leaf
}

type tree struct {
	root *node
}

// Forest is a trained ensemble. Safe for concurrent scoring.
type Forest struct {
	trees      []tree
	numFeature int
}

// Train fits a forest on X (rows of equal width) with binary labels y.
// Classes are weighted inversely to their frequency, matching balanced
// class weighting, so the minority class is not drowned out.
func Train(X [][]float64, y []int, opts Options) (*Forest, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, errors.New(errors.KindModelBuild, "empty or mismatched training data")
	}
	width := len(X[0])
	for _, row := range X {
		if len(row) != width {
			return nil, errors.New(errors.KindModelBuild, "ragged training matrix")
		}
	}

	weights := classWeights(y)
	rng := rand.New(rand.NewSource(opts.Seed))
	// sqrt(p) features per split, the usual forest default.
	mtry := int(math.Sqrt(float64(width)))
	if mtry < 1 {
		mtry = 1
	}

	f := &Forest{numFeature: width}
	for t := 0; t < opts.NumTrees; t++ {
		treeRng := rand.New(rand.NewSource(rng.Int63()))
		sample := bootstrap(len(X), treeRng)
		root := grow(X, y, weights, sample, 0, opts, mtry, treeRng)
		f.trees = append(f.trees, tree{root: root})
	}
	return f, nil
}

// Score returns the anomaly flag and confidence for one feature row. The
// confidence is the mean anomaly probability across trees; the flag is the
// majority decision (confidence at or above one half).
func (f *Forest) Score(row []float64) (bool, float64, error) {
	if len(row) != f.numFeature {
		return false, 0, errors.Errorf(errors.KindValidation,
			"feature width %d, model expects %d", len(row), f.numFeature)
	}
	sum := 0.0
	for _, t := range f.trees {
		sum += t.root.predict(row)
	}
	confidence := sum / float64(len(f.trees))
	return confidence >= 0.5, confidence, nil
}

func (n *node) predict(row []float64) float64 {
	for !n.leaf {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.prob
}

func classWeights(y []int) [2]float64 {
	var counts [2]int
	for _, label := range y {
		counts[label]++
	}
	n := float64(len(y))
	var w [2]float64
	for c := 0; c < 2; c++ {
		if counts[c] > 0 {
			w[c] = n / (2 * float64(counts[c]))
		}
	}
	return w
}

func bootstrap(n int, rng *rand.Rand) []int {
	sample := make([]int, n)
	for i := range sample {
		sample[i] = rng.Intn(n)
	}
	return sample
}

func grow(X [][]float64, y []int, w [2]float64, sample []int, depth int, opts Options, mtry int, rng *rand.Rand) *node {
	weightedAnomaly, weightedTotal := 0.0, 0.0
	for _, idx := range sample {
		weight := w[y[idx]]
		weightedTotal += weight
		if y[idx] == 1 {
			weightedAnomaly += weight
		}
	}
	prob := 0.0
	if weightedTotal > 0 {
		prob = weightedAnomaly / weightedTotal
	}
	leaf := &node{leaf: true, prob: prob}

	if depth >= opts.MaxDepth || len(sample) < 2*opts.MinLeafSize || prob == 0 || prob == 1 {
		return leaf
	}

	feature, threshold, ok := bestSplit(X, y, w, sample, mtry, rng)
	if !ok {
		return leaf
	}

	var left, right []int
	for _, idx := range sample {
		if X[idx][feature] <= threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}
	if len(left) < opts.MinLeafSize || len(right) < opts.MinLeafSize {
		return leaf
	}

	return &node{
		feature:   feature,
		threshold: threshold,
		left:      grow(X, y, w, left, depth+1, opts, mtry, rng),
		right:     grow(X, y, w, right, depth+1, opts, mtry, rng),
	}
}

// bestSplit searches a random feature subset for the split with the lowest
// weighted Gini impurity. Features are scanned in ascending index order and
// strict improvement is required, so ties resolve identically on every run.
func bestSplit(X [][]float64, y []int, w [2]float64, sample []int, mtry int, rng *rand.Rand) (int, float64, bool) {
	features := rng.Perm(len(X[0]))[:mtry]
	sort.Ints(features)

	bestGini := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0

	ordered := make([]int, len(sample))
	for _, feature := range features {
		copy(ordered, sample)
		f := feature
		sort.Slice(ordered, func(i, j int) bool {
			return X[ordered[i]][f] < X[ordered[j]][f]
		})

		// Left-side running class weights; right side is the remainder.
		var leftW, totalW [2]float64
		for _, idx := range ordered {
			totalW[y[idx]] += w[y[idx]]
		}

		for i := 0; i < len(ordered)-1; i++ {
			idx := ordered[i]
			leftW[y[idx]] += w[y[idx]]

			cur, next := X[idx][f], X[ordered[i+1]][f]
			if cur == next {
				continue
			}

			rightW := [2]float64{totalW[0] - leftW[0], totalW[1] - leftW[1]}
			gini := weightedGini(leftW, rightW)
			if gini < bestGini {
				bestGini = gini
				bestFeature = f
				bestThreshold = (cur + next) / 2
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func weightedGini(left, right [2]float64) float64 {
	impurity := func(c [2]float64) (float64, float64) {
		total := c[0] + c[1]
		if total == 0 {
			return 0, 0
		}
		p0, p1 := c[0]/total, c[1]/total
		return 1 - p0*p0 - p1*p1, total
	}
	gl, nl := impurity(left)
	gr, nr := impurity(right)
	total := nl + nr
	if total == 0 {
		return 0
	}
	return (nl*gl + nr*gr) / total
}
