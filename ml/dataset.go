package ml

import (
	"fmt"
	"sort"
	"time"
)

// Row is one dated example. Numeric is ordered by FeatureSpec.NumericNames and
// Texts holds the same-day text followed by any lagged texts.
type Row struct {
	Date       time.Time
	Numeric    []float64
	Texts      []string
	NextReturn float64
	Label      int
}

// SplitByDate puts rows dated on or before trainEnd into train and the rest
// into test. Both sides must be non-empty and strictly ordered.
func SplitByDate(rows []Row, trainEnd time.Time) (train, test []Row, err error) {
	if !sort.SliceIsSorted(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) }) {
		return nil, nil, fmt.Errorf("%w: rows are not sorted by date", ErrLeakage)
	}
	cut := sort.Search(len(rows), func(i int) bool { return rows[i].Date.After(trainEnd) })
	train, test = rows[:cut], rows[cut:]
	if len(train) == 0 {
		return nil, nil, fmt.Errorf("%w: no rows on or before %s", ErrInsufficientData, trainEnd.Format("2006-01-02"))
	}
	if len(test) == 0 {
		return nil, nil, fmt.Errorf("%w: no rows after %s", ErrInsufficientData, trainEnd.Format("2006-01-02"))
	}
	if err := CheckOrdered(train, test); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

// CheckOrdered verifies every train date is strictly before every test date.
func CheckOrdered(train, test []Row) error {
	if len(train) == 0 || len(test) == 0 {
		return nil
	}
	last := train[0].Date
	for _, r := range train {
		if r.Date.After(last) {
			last = r.Date
		}
	}
	for _, r := range test {
		if !r.Date.After(last) {
			return fmt.Errorf("%w: test date %s not after train end %s", ErrLeakage,
				r.Date.Format("2006-01-02"), last.Format("2006-01-02"))
		}
	}
	return nil
}

// Labels extracts row labels.
func Labels(rows []Row) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.Label
	}
	return out
}

// LastDate is the latest row date.
func LastDate(rows []Row) time.Time {
	var last time.Time
	for _, r := range rows {
		if r.Date.After(last) {
			last = r.Date
		}
	}
	return last
}
