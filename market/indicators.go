package market

import "math"

// Series helpers work on positional slices. Positions without enough trailing
// history hold NaN so callers can exclude them instead of zero-filling.

// CalculateMA is the mean of the last period values. NaN when the history is
// shorter than period or the window touches a NaN.
func CalculateMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return math.NaN()
	}
	return mean(values[len(values)-period:])
}

// CalculateRSI calculates the Relative Strength Index over the last period changes
func CalculateRSI(closes []float64, period int) float64 {
	if len(closes) <= period || period <= 0 {
		return math.NaN()
	}

	gains := 0.0
	losses := 0.0

	for i := len(closes) - period; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		if diff >= 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// Returns computes close_t/close_{t-1} - 1. The first position is NaN.
func Returns(closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		if i == 0 || closes[i-1] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = closes[i]/closes[i-1] - 1
	}
	return out
}

// RollingMean is the trailing mean over [t-k+1, t].
func RollingMean(values []float64, k int) []float64 {
	out := make([]float64, len(values))
	for t := range values {
		out[t] = CalculateMA(values[:t+1], k)
	}
	return out
}

// ShiftedRollingMean is the trailing mean over [t-k, t-1], so the current
// position never contributes to its own value.
func ShiftedRollingMean(values []float64, k int) []float64 {
	out := make([]float64, len(values))
	for t := range values {
		out[t] = CalculateMA(values[:t], k)
	}
	return out
}

// RollingStd is the trailing sample standard deviation over [t-k+1, t].
func RollingStd(values []float64, k int) []float64 {
	out := make([]float64, len(values))
	for t := range values {
		if k <= 1 || t+1 < k {
			out[t] = math.NaN()
			continue
		}
		window := values[t-k+1 : t+1]
		m := mean(window)
		if math.IsNaN(m) {
			out[t] = math.NaN()
			continue
		}
		variance := 0.0
		for _, v := range window {
			diff := v - m
			variance += diff * diff
		}
		out[t] = math.Sqrt(variance / float64(k-1))
	}
	return out
}

func RollingRSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for t := range closes {
		out[t] = CalculateRSI(closes[:t+1], period)
	}
	return out
}

// Ranges computes high_t - low_t.
func Ranges(highs, lows []float64) []float64 {
	n := len(highs)
	if len(lows) < n {
		n = len(lows)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = highs[i] - lows[i]
	}
	return out
}

// mean returns NaN if any value in the window is NaN.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		if math.IsNaN(v) {
			return math.NaN()
		}
		sum += v
	}
	return sum / float64(len(values))
}
