package ml

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// DecisionTree is a binary CART classifier split on gini impurity. Nodes are
// stored flat in pre-order with absolute child indices.
type DecisionTree struct {
	MaxDepth       int        `json:"max_depth"`
	MinSamplesLeaf int        `json:"min_samples_leaf"`
	MaxFeatures    int        `json:"max_features"`
	Seed           int64      `json:"seed"`
	Nodes          []TreeNode `json:"nodes"`
}

type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	// Proba is the share of LabelUp samples that reached the node.
	Proba   float64 `json:"proba"`
	Samples int     `json:"samples"`
	IsLeaf  bool    `json:"is_leaf"`
}

// PredictProba returns the probability of LabelUp.
func (dt *DecisionTree) PredictProba(features []float64) (float64, error) {
	if len(dt.Nodes) == 0 {
		return 0, ErrNotTrained
	}
	idx := 0
	for {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node.Proba, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return 0, errors.New("feature index out of range")
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
}

// Depth is the longest root-to-leaf path.
func (dt *DecisionTree) Depth() int {
	if len(dt.Nodes) == 0 {
		return 0
	}
	var walk func(i int) int
	walk = func(i int) int {
		n := dt.Nodes[i]
		if n.IsLeaf {
			return 0
		}
		l, r := walk(n.LeftChild), walk(n.RightChild)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return walk(0)
}

func (dt *DecisionTree) fit(features [][]float64, labels []int, idx []int, rng *rand.Rand) {
	if dt.MinSamplesLeaf < 1 {
		dt.MinSamplesLeaf = 1
	}
	dt.Nodes = dt.Nodes[:0]
	s := &splitter{
		features: features,
		labels:   labels,
		order:    make([]int, len(idx)),
		rng:      rng,
	}
	dt.grow(s, idx, 0)
}

func (dt *DecisionTree) grow(s *splitter, idx []int, depth int) int {
	ups := 0
	for _, i := range idx {
		ups += s.labels[i]
	}
	self := len(dt.Nodes)
	dt.Nodes = append(dt.Nodes, TreeNode{
		FeatureIdx: -1,
		LeftChild:  -1,
		RightChild: -1,
		Proba:      float64(ups) / float64(len(idx)),
		Samples:    len(idx),
		IsLeaf:     true,
	})

	if (dt.MaxDepth > 0 && depth >= dt.MaxDepth) || ups == 0 || ups == len(idx) || len(idx) < 2*dt.MinSamplesLeaf {
		return self
	}

	feature, threshold, ok := s.bestSplit(idx, dt.MaxFeatures, dt.MinSamplesLeaf)
	if !ok {
		return self
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if s.features[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := dt.grow(s, left, depth+1)
	r := dt.grow(s, right, depth+1)
	node := &dt.Nodes[self]
	node.FeatureIdx = feature
	node.Threshold = threshold
	node.LeftChild = l
	node.RightChild = r
	node.IsLeaf = false
	return self
}

type splitter struct {
	features [][]float64
	labels   []int
	order    []int
	rng      *rand.Rand
}

// bestSplit draws features in random order and scores every boundary between
// distinct values. Constant features do not count toward maxFeatures.
func (s *splitter) bestSplit(idx []int, maxFeatures, minLeaf int) (int, float64, bool) {
	featureCount := len(s.features[0])
	if maxFeatures <= 0 || maxFeatures > featureCount {
		maxFeatures = featureCount
	}

	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := 0.0
	tried := 0
	n := len(idx)
	totalUp := 0
	for _, i := range idx {
		totalUp += s.labels[i]
	}

	for _, f := range s.rng.Perm(featureCount) {
		if tried >= maxFeatures {
			break
		}
		order := s.order[:n]
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool {
			return s.features[order[a]][f] < s.features[order[b]][f]
		})
		if s.features[order[0]][f] == s.features[order[n-1]][f] {
			continue
		}
		tried++

		leftUp := 0
		for k := 0; k < n-1; k++ {
			leftUp += s.labels[order[k]]
			lo, hi := s.features[order[k]][f], s.features[order[k+1]][f]
			if lo == hi {
				continue
			}
			leftN := k + 1
			rightN := n - leftN
			if leftN < minLeaf || rightN < minLeaf {
				continue
			}
			impurity := (float64(leftN)*binaryGini(leftUp, leftN) + float64(rightN)*binaryGini(totalUp-leftUp, rightN)) / float64(n)
			if bestFeature == -1 || impurity < bestImpurity {
				bestFeature = f
				bestImpurity = impurity
				bestThreshold = lo + (hi-lo)/2
				if bestThreshold >= hi {
					bestThreshold = lo
				}
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func binaryGini(ups, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(ups) / float64(n)
	return 2 * p * (1 - p)
}

func validateTrainingSet(features [][]float64, labels []int) error {
	if len(features) == 0 || len(labels) == 0 {
		return errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return fmt.Errorf("%w: %d feature rows for %d labels", ErrAlignment, len(features), len(labels))
	}
	width := len(features[0])
	if width == 0 {
		return errors.New("feature rows are empty")
	}
	for i, row := range features {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has width %d, expected %d", ErrAlignment, i, len(row), width)
		}
		if labels[i] != LabelDown && labels[i] != LabelUp {
			return fmt.Errorf("label %d at row %d is not binary", labels[i], i)
		}
	}
	return nil
}

// decide maps P(up) to a label; ties go to LabelDown.
func decide(p float64) (int, float64) {
	if p > 0.5 {
		return LabelUp, p
	}
	return LabelDown, 1 - p
}
