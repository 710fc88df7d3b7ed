package ml

import (
	"fmt"
	"math"

	"btcsignal/market"
)

// Lag shifts values forward by n positions. The first n positions are NaN.
func Lag(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	for t := range values {
		if t-n < 0 || t-n >= len(values) {
			out[t] = math.NaN()
			continue
		}
		out[t] = values[t-n]
	}
	return out
}

// AddTemporalFeatures appends lags of every base column and one-day-shifted
// rolling means of the configured columns.
func AddTemporalFeatures(f *Frame, cfg FeatureConfig) error {
	base := len(f.Names)
	for _, n := range cfg.Lags {
		if n <= 0 {
			return fmt.Errorf("lag must be positive, got %d", n)
		}
		for c := 0; c < base; c++ {
			if err := f.Add(fmt.Sprintf("%s_lag%d", f.Names[c], n), Lag(f.Columns[c], n)); err != nil {
				return err
			}
		}
	}
	for _, name := range cfg.RollingColumns {
		values, ok := f.Column(name)
		if !ok {
			return fmt.Errorf("rolling column %s not found", name)
		}
		for _, k := range cfg.RollingWindows {
			if err := f.Add(fmt.Sprintf("%s_rmean%d", name, k), market.ShiftedRollingMean(values, k)); err != nil {
				return err
			}
		}
	}
	return nil
}

// RowStats counts how frame dates became rows.
type RowStats struct {
	Dates               int `json:"dates"`
	Unlabeled           int `json:"unlabeled"`
	InsufficientHistory int `json:"insufficient_history"`
	Kept                int `json:"kept"`
}

// RowAt assembles the row for position i. ok is false when any value is
// missing or a text lag reaches before the first date.
func (f *Frame) RowAt(i int, names []string, textLags []int) (Row, bool, error) {
	row := Row{Date: f.Dates[i], Label: LabelNone, NextReturn: math.NaN()}
	row.Numeric = make([]float64, len(names))
	for j, name := range names {
		col, ok := f.Column(name)
		if !ok {
			return Row{}, false, fmt.Errorf("feature %s not in frame", name)
		}
		if math.IsNaN(col[i]) || math.IsInf(col[i], 0) {
			return Row{}, false, nil
		}
		row.Numeric[j] = col[i]
	}

	row.Texts = make([]string, 0, 1+len(textLags))
	row.Texts = append(row.Texts, f.Texts[i])
	for _, n := range textLags {
		if i-n < 0 {
			return Row{}, false, nil
		}
		row.Texts = append(row.Texts, f.Texts[i-n])
	}
	return row, true, nil
}

// AssembleRows joins features with labels. Unlabeled dates and dates with
// incomplete history are dropped and counted.
func AssembleRows(f *Frame, labels *LabelResult, textLags []int) ([]Row, RowStats, error) {
	stats := RowStats{Dates: f.Len()}
	if len(labels.Labels) != f.Len() {
		return nil, stats, fmt.Errorf("%w: %d labels for %d dates", ErrAlignment, len(labels.Labels), f.Len())
	}

	rows := make([]Row, 0, f.Len())
	for i := range f.Dates {
		if labels.Labels[i] == LabelNone {
			stats.Unlabeled++
			continue
		}
		row, ok, err := f.RowAt(i, f.Names, textLags)
		if err != nil {
			return nil, stats, err
		}
		if !ok {
			stats.InsufficientHistory++
			continue
		}
		row.Label = labels.Labels[i]
		row.NextReturn = labels.NextReturns[i]
		rows = append(rows, row)
	}
	stats.Kept = len(rows)
	return rows, stats, nil
}
