package ml

import (
	"fmt"
	"math"
	"math/rand"
)

// ForestParams is one point of the hyperparameter grid.
type ForestParams struct {
	Trees          int `json:"trees"`
	MaxDepth       int `json:"max_depth"`
	MinSamplesLeaf int `json:"min_samples_leaf"`
}

func (p ForestParams) String() string {
	depth := "none"
	if p.MaxDepth > 0 {
		depth = fmt.Sprint(p.MaxDepth)
	}
	return fmt.Sprintf("trees=%d max_depth=%s min_samples_leaf=%d", p.Trees, depth, p.MinSamplesLeaf)
}

// RandomForest averages bootstrap-trained trees that each consider
// sqrt(features) candidates per split. Tree i is seeded with Seed+i.
type RandomForest struct {
	Params     ForestParams   `json:"params"`
	Seed       int64          `json:"seed"`
	Features   int            `json:"features"`
	Estimators []DecisionTree `json:"estimators"`
}

func NewRandomForest(params ForestParams, seed int64) *RandomForest {
	return &RandomForest{Params: params, Seed: seed}
}

func (rf *RandomForest) Train(features [][]float64, labels []int) error {
	if err := validateTrainingSet(features, labels); err != nil {
		return err
	}
	if rf.Params.Trees <= 0 {
		return fmt.Errorf("trees must be positive, got %d", rf.Params.Trees)
	}

	width := len(features[0])
	maxFeatures := int(math.Sqrt(float64(width)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	n := len(labels)
	rf.Features = width
	rf.Estimators = make([]DecisionTree, rf.Params.Trees)
	for i := range rf.Estimators {
		seed := rf.Seed + int64(i)
		rng := rand.New(rand.NewSource(seed))
		sample := make([]int, n)
		for j := range sample {
			sample[j] = rng.Intn(n)
		}
		tree := &rf.Estimators[i]
		tree.MaxDepth = rf.Params.MaxDepth
		tree.MinSamplesLeaf = rf.Params.MinSamplesLeaf
		tree.MaxFeatures = maxFeatures
		tree.Seed = seed
		tree.fit(features, labels, sample, rng)
	}
	return nil
}

// PredictProba is the mean LabelUp probability across trees.
func (rf *RandomForest) PredictProba(features []float64) (float64, error) {
	if len(rf.Estimators) == 0 {
		return 0, ErrNotTrained
	}
	if len(features) != rf.Features {
		return 0, fmt.Errorf("%w: got %d features, model expects %d", ErrAlignment, len(features), rf.Features)
	}
	sum := 0.0
	for i := range rf.Estimators {
		p, err := rf.Estimators[i].PredictProba(features)
		if err != nil {
			return 0, err
		}
		sum += p
	}
	return sum / float64(len(rf.Estimators)), nil
}

// MaxTreeDepth is the deepest tree in the ensemble.
func (rf *RandomForest) MaxTreeDepth() int {
	deepest := 0
	for i := range rf.Estimators {
		if d := rf.Estimators[i].Depth(); d > deepest {
			deepest = d
		}
	}
	return deepest
}
