package ml

import "testing"

func TestParamGridCombinationsSimplestFirst(t *testing.T) {
	grid := ParamGrid{Trees: []int{200, 50}, MaxDepth: []int{0, 5}, MinSamplesLeaf: []int{1, 4}}
	combos, err := grid.Combinations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(combos) != 8 {
		t.Fatalf("expected 8 combinations, got %d", len(combos))
	}
	first := ForestParams{Trees: 50, MaxDepth: 5, MinSamplesLeaf: 4}
	last := ForestParams{Trees: 200, MaxDepth: 0, MinSamplesLeaf: 1}
	if combos[0] != first || combos[7] != last {
		t.Fatalf("unexpected ordering: first %v last %v", combos[0], combos[7])
	}
}

func TestParamGridRejectsInvalid(t *testing.T) {
	if _, err := (ParamGrid{Trees: []int{10}, MaxDepth: []int{3}}).Combinations(); err == nil {
		t.Fatal("expected error for empty axis")
	}
	if _, err := (ParamGrid{Trees: []int{0}, MaxDepth: []int{3}, MinSamplesLeaf: []int{1}}).Combinations(); err == nil {
		t.Fatal("expected error for zero trees")
	}
}

func TestSelectBestPrefersSimplerOnTie(t *testing.T) {
	simple := CandidateScore{Params: ForestParams{Trees: 50, MaxDepth: 3, MinSamplesLeaf: 2}, Mean: 0.6}
	complex := CandidateScore{Params: ForestParams{Trees: 100, MaxDepth: 3, MinSamplesLeaf: 2}, Mean: 0.6 + 1e-13}
	better := CandidateScore{Params: ForestParams{Trees: 200, MaxDepth: 0, MinSamplesLeaf: 1}, Mean: 0.61}

	best, err := selectBest([]CandidateScore{simple, complex})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if best.Params != simple.Params {
		t.Fatalf("expected the simpler candidate, got %v", best.Params)
	}

	best, _ = selectBest([]CandidateScore{simple, complex, better})
	if best.Params != better.Params {
		t.Fatalf("expected the clearly better candidate, got %v", best.Params)
	}
}
