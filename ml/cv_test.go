package ml

import (
	"errors"
	"testing"
)

func TestTimeSeriesSplit(t *testing.T) {
	folds, err := TimeSeriesSplit(10, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Fold{
		{TrainEnd: 4, ValidateStart: 4, ValidateEnd: 6},
		{TrainEnd: 6, ValidateStart: 6, ValidateEnd: 8},
		{TrainEnd: 8, ValidateStart: 8, ValidateEnd: 10},
	}
	if len(folds) != len(want) {
		t.Fatalf("expected %d folds, got %d", len(want), len(folds))
	}
	for i := range want {
		if folds[i] != want[i] {
			t.Fatalf("fold %d: expected %+v, got %+v", i, want[i], folds[i])
		}
	}
}

func TestTimeSeriesSplitTooFewRows(t *testing.T) {
	if _, err := TimeSeriesSplit(3, 3); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if _, err := TimeSeriesSplit(100, 1); err == nil {
		t.Fatal("expected error for a single fold")
	}
}
