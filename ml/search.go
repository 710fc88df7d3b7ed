package ml

import (
	"fmt"
	"math"
	"sort"
)

const scoreTolerance = 1e-12

// ParamGrid lists candidate values per hyperparameter.
type ParamGrid struct {
	Trees          []int `json:"trees" yaml:"trees"`
	MaxDepth       []int `json:"max_depth" yaml:"max_depth"`
	MinSamplesLeaf []int `json:"min_samples_leaf" yaml:"min_samples_leaf"`
}

// Combinations enumerates the grid from simplest to most complex: fewer
// trees, then shallower depth (0 means unlimited and sorts last), then larger
// min_samples_leaf.
func (g ParamGrid) Combinations() ([]ForestParams, error) {
	if len(g.Trees) == 0 || len(g.MaxDepth) == 0 || len(g.MinSamplesLeaf) == 0 {
		return nil, fmt.Errorf("parameter grid has an empty axis")
	}
	var out []ForestParams
	for _, trees := range g.Trees {
		for _, depth := range g.MaxDepth {
			for _, leaf := range g.MinSamplesLeaf {
				if trees <= 0 || depth < 0 || leaf <= 0 {
					return nil, fmt.Errorf("invalid grid point %s", ForestParams{trees, depth, leaf})
				}
				out = append(out, ForestParams{Trees: trees, MaxDepth: depth, MinSamplesLeaf: leaf})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return simpler(out[i], out[j]) })
	return out, nil
}

func simpler(a, b ForestParams) bool {
	if a.Trees != b.Trees {
		return a.Trees < b.Trees
	}
	da, db := depthRank(a.MaxDepth), depthRank(b.MaxDepth)
	if da != db {
		return da < db
	}
	return a.MinSamplesLeaf > b.MinSamplesLeaf
}

func depthRank(depth int) int {
	if depth <= 0 {
		return math.MaxInt
	}
	return depth
}

// CandidateScore is the cross-validated score of one grid point.
type CandidateScore struct {
	Params     ForestParams `json:"params"`
	FoldScores []float64    `json:"fold_scores"`
	Mean       float64      `json:"mean"`
}

// SearchResult records every candidate and the winner.
type SearchResult struct {
	Scoring    string           `json:"scoring"`
	Folds      []Fold           `json:"folds"`
	Candidates []CandidateScore `json:"candidates"`
	Best       CandidateScore   `json:"best"`
}

// selectBest picks the highest mean. Candidates arrive simplest first and a
// later one only wins by more than scoreTolerance.
func selectBest(candidates []CandidateScore) (CandidateScore, error) {
	if len(candidates) == 0 {
		return CandidateScore{}, fmt.Errorf("no candidates scored")
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Mean > best.Mean+scoreTolerance {
			best = c
		}
	}
	return best, nil
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
