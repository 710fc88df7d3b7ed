package ml

import (
	"errors"
	"fmt"
)

// MinMaxScaler rescales each numeric column by the range seen during Fit.
// Values outside that range map outside [0, 1]; they are not clipped.
type MinMaxScaler struct {
	Mins []float64 `json:"mins"`
	Maxs []float64 `json:"maxs"`
}

func (s *MinMaxScaler) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return errors.New("features is empty")
	}
	width := len(rows[0])
	s.Mins = make([]float64, width)
	s.Maxs = make([]float64, width)
	copy(s.Mins, rows[0])
	copy(s.Maxs, rows[0])
	for _, row := range rows[1:] {
		if len(row) != width {
			return fmt.Errorf("%w: row width %d, expected %d", ErrAlignment, len(row), width)
		}
		for i, v := range row {
			if v < s.Mins[i] {
				s.Mins[i] = v
			}
			if v > s.Maxs[i] {
				s.Maxs[i] = v
			}
		}
	}
	return nil
}

func (s *MinMaxScaler) Fitted() bool {
	return s.Mins != nil
}

// TransformInto writes the scaled values into dst.
func (s *MinMaxScaler) TransformInto(dst, values []float64) error {
	if !s.Fitted() {
		return errors.New("feature stats not computed")
	}
	if len(values) != len(s.Mins) || len(dst) < len(values) {
		return fmt.Errorf("%w: values/mins/maxs length mismatch", ErrAlignment)
	}
	for i := range values {
		dst[i] = NormalizeFeature(values[i], s.Mins[i], s.Maxs[i])
	}
	return nil
}

func (s *MinMaxScaler) Transform(values []float64) ([]float64, error) {
	out := make([]float64, len(values))
	if err := s.TransformInto(out, values); err != nil {
		return nil, err
	}
	return out, nil
}

func NormalizeFeature(value, min, max float64) float64 {
	if max == min {
		return 0
	}
	return (value - min) / (max - min)
}
