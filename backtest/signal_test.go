package backtest

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btcsignal/ml"
)

func signalRows(nextReturns ...float64) []ml.Row {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]ml.Row, len(nextReturns))
	for i, r := range nextReturns {
		rows[i] = ml.Row{Date: start.AddDate(0, 0, i), NextReturn: r}
	}
	return rows
}

func TestRunLongFlat(t *testing.T) {
	rows := signalRows(0.1, -0.05, 0.02)
	results, err := Run(rows, []int{ml.LabelUp, ml.LabelDown, ml.LabelUp}, Config{PeriodsPerYear: 365})
	require.NoError(t, err)

	s := results.Strategy
	assert.InDelta(t, 0.122, s.TotalReturn, 1e-12)
	assert.Equal(t, 2, s.Trades)
	assert.Equal(t, 2, s.LongDays)
	assert.Equal(t, 1.0, s.WinRate)
	assert.InDelta(t, 2.0/3.0, s.Exposure, 1e-12)
	assert.Equal(t, 0.0, s.MaxDrawdown)
	require.Len(t, results.EquityCurve, 3)
	assert.InDelta(t, 1.1, results.EquityCurve[1].Value, 1e-12)

	b := results.Benchmark
	assert.InDelta(t, 1.1*0.95*1.02-1, b.TotalReturn, 1e-12)
	assert.InDelta(t, 0.05, b.MaxDrawdown, 1e-12)
	assert.Equal(t, 1.0, b.Exposure)
	assert.Greater(t, b.CalmarRatio, 0.0)
}

func TestRunChargesCommission(t *testing.T) {
	rows := signalRows(0.1, -0.05, 0.02)
	results, err := Run(rows, []int{ml.LabelUp, ml.LabelDown, ml.LabelUp}, Config{Commission: 0.01, PeriodsPerYear: 365})
	require.NoError(t, err)
	assert.InDelta(t, 1.09*0.99*1.01-1, results.Strategy.TotalReturn, 1e-12)
	assert.InDelta(t, 0.01+0.0109+0.010791, results.Strategy.Commissions, 1e-12)
	assert.Contains(t, results.String(), "buy&hold")
}

func TestRunRejectsBadInput(t *testing.T) {
	rows := signalRows(0.1, 0.2)
	_, err := Run(rows, []int{ml.LabelUp}, Config{})
	assert.True(t, errors.Is(err, ml.ErrAlignment))

	_, err = Run(nil, nil, Config{})
	assert.Error(t, err)

	rows[1].NextReturn = math.NaN()
	_, err = Run(rows, []int{ml.LabelUp, ml.LabelUp}, Config{})
	assert.Error(t, err)
}
