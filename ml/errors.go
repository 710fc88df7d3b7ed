package ml

import "errors"

var (
	// ErrAlignment is returned when parallel series differ in length.
	ErrAlignment = errors.New("ml: series length mismatch")
	// ErrLeakage is returned when a fit or split would see rows past the train boundary.
	ErrLeakage = errors.New("ml: temporal leakage")
	// ErrInsufficientData is returned when there are too few rows to train or evaluate.
	ErrInsufficientData = errors.New("ml: insufficient data")
	// ErrDenseLimit is returned when densifying the design matrix would exceed the configured cell budget.
	ErrDenseLimit = errors.New("ml: dense matrix exceeds cell limit")
	ErrNotTrained = errors.New("ml: model not trained")
)
