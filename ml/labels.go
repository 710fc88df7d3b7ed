package ml

import (
	"errors"
	"math"
)

const (
	LabelDown = 0
	LabelUp   = 1
	// LabelNone marks a date without a usable label.
	LabelNone = -1
)

// LabelStats counts how the threshold filtered dates.
type LabelStats struct {
	Up        int     `json:"up"`
	Down      int     `json:"down"`
	Ambiguous int     `json:"ambiguous"`
	NoNext    int     `json:"no_next"`
	Threshold float64 `json:"threshold"`
}

// Kept is the number of labeled dates.
func (s LabelStats) Kept() int {
	return s.Up + s.Down
}

type LabelResult struct {
	Labels      []int
	NextReturns []float64
	Stats       LabelStats
}

// GenerateLabels labels each date by the next day's close-to-close return.
// closes holds one value per calendar day with NaN for missing days. Returns
// within [-threshold, threshold], the last date, and dates next to a missing
// close get LabelNone.
func GenerateLabels(closes []float64, threshold float64) (*LabelResult, error) {
	if len(closes) == 0 {
		return nil, errors.New("closes is empty")
	}
	if threshold < 0 || math.IsNaN(threshold) {
		return nil, errors.New("threshold must be non-negative")
	}

	result := &LabelResult{
		Labels:      make([]int, len(closes)),
		NextReturns: make([]float64, len(closes)),
		Stats:       LabelStats{Threshold: threshold},
	}
	for i := range closes {
		if i+1 >= len(closes) || closes[i] == 0 || math.IsNaN(closes[i]) || math.IsNaN(closes[i+1]) {
			result.Labels[i] = LabelNone
			result.NextReturns[i] = math.NaN()
			result.Stats.NoNext++
			continue
		}
		next := closes[i+1]/closes[i] - 1
		result.NextReturns[i] = next
		switch {
		case next > threshold:
			result.Labels[i] = LabelUp
			result.Stats.Up++
		case next < -threshold:
			result.Labels[i] = LabelDown
			result.Stats.Down++
		default:
			result.Labels[i] = LabelNone
			result.Stats.Ambiguous++
		}
	}
	return result, nil
}

// ClassCounts returns [down, up] counts over rows.
func ClassCounts(rows []Row) [2]int {
	var counts [2]int
	for _, r := range rows {
		if r.Label == LabelDown || r.Label == LabelUp {
			counts[r.Label]++
		}
	}
	return counts
}
