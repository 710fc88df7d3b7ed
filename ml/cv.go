package ml

import "fmt"

// Fold holds half-open row ranges. Validate always starts where Train ends.
type Fold struct {
	TrainEnd      int `json:"train_end"`
	ValidateStart int `json:"validate_start"`
	ValidateEnd   int `json:"validate_end"`
}

// TimeSeriesSplit builds k expanding-window folds over n ordered rows. Each
// validation block has n/(k+1) rows and fold i trains on [0, n-(k-i)*m).
func TimeSeriesSplit(n, k int) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("need at least 2 folds, got %d", k)
	}
	m := n / (k + 1)
	if m < 1 {
		return nil, fmt.Errorf("%w: %d rows cannot form %d folds", ErrInsufficientData, n, k)
	}
	folds := make([]Fold, k)
	for i := range folds {
		end := n - (k-i)*m
		folds[i] = Fold{TrainEnd: end, ValidateStart: end, ValidateEnd: end + m}
	}
	return folds, nil
}
