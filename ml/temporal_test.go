package ml

import (
	"math"
	"testing"
	"time"

	"btcsignal/market"
)

func TestLag(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	lagged := Lag(values, 2)
	if !math.IsNaN(lagged[0]) || !math.IsNaN(lagged[1]) {
		t.Fatalf("expected NaN before history exists: %v", lagged)
	}
	for i := 2; i < len(values); i++ {
		if lagged[i] != values[i-2] {
			t.Fatalf("lag mismatch at %d: %f != %f", i, lagged[i], values[i-2])
		}
	}
}

func TestAddTemporalFeatures(t *testing.T) {
	frame := NewFrame(testDates(5))
	if err := frame.Add("x", []float64{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := FeatureConfig{Lags: []int{1, 3}, RollingColumns: []string{"x"}, RollingWindows: []int{2}}
	if err := AddTemporalFeatures(frame, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantNames := []string{"x", "x_lag1", "x_lag3", "x_rmean2"}
	if len(frame.Names) != len(wantNames) {
		t.Fatalf("expected names %v, got %v", wantNames, frame.Names)
	}
	for i, name := range wantNames {
		if frame.Names[i] != name {
			t.Fatalf("expected names %v, got %v", wantNames, frame.Names)
		}
	}

	lag3, _ := frame.Column("x_lag3")
	if lag3[4] != 2 {
		t.Fatalf("expected x_lag3[4] == x[1], got %f", lag3[4])
	}
	rmean, _ := frame.Column("x_rmean2")
	if !math.IsNaN(rmean[1]) || rmean[2] != 1.5 || rmean[4] != 3.5 {
		t.Fatalf("rolling mean must exclude the current day: %v", rmean)
	}

	if err := AddTemporalFeatures(frame, FeatureConfig{RollingColumns: []string{"missing"}, RollingWindows: []int{2}}); err == nil {
		t.Fatal("expected error for unknown rolling column")
	}
}

func testDates(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = testDate(i)
	}
	return out
}

func zigzagBars(n int) []market.DailyRecord {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100
		if i%2 == 1 {
			closes[i] = 104
		}
	}
	return testBars(closes...)
}

func TestAssembleRowsExcludesIncompleteHistory(t *testing.T) {
	bars := zigzagBars(30)
	frame, err := BuildFrame(bars, nil, FeatureConfig{Lags: []int{1, 2}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	labels, err := GenerateLabels(frame.Closes, 0.005)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, stats, err := AssembleRows(frame, labels, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// rsi_14 first exists at position 14 and its lag2 at 16.
	if stats.InsufficientHistory != 16 || stats.Unlabeled != 1 || stats.Kept != 13 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !rows[0].Date.Equal(testDate(16)) {
		t.Fatalf("expected first row on day 16, got %s", rows[0].Date)
	}

	returns, _ := frame.Column(ColReturn)
	lagIdx := -1
	for i, name := range frame.Names {
		if name == "return_lag1" {
			lagIdx = i
		}
	}
	for _, row := range rows {
		pos := int(row.Date.Sub(testDate(0)).Hours() / 24)
		if row.Numeric[lagIdx] != returns[pos-1] {
			t.Fatalf("return_lag1 at %d does not equal return at %d", pos, pos-1)
		}
		for _, v := range row.Numeric {
			if math.IsNaN(v) {
				t.Fatalf("row %s contains NaN", row.Date)
			}
		}
		if row.Label != labels.Labels[pos] {
			t.Fatalf("label mismatch at %d", pos)
		}
	}
}

func TestAssembleRowsTextLags(t *testing.T) {
	bars := zigzagBars(20)
	frame, err := BuildFrame(bars, nil, FeatureConfig{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	labels, _ := GenerateLabels(frame.Closes, 0.005)
	rows, _, err := AssembleRows(frame, labels, []int{1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, row := range rows {
		if len(row.Texts) != 2 {
			t.Fatalf("expected same-day and lagged text, got %d", len(row.Texts))
		}
	}
}

func TestBuildFrameDoesNotBridgeMissingDays(t *testing.T) {
	bars := []market.DailyRecord{
		{Date: testDate(0), Open: 100, High: 101, Low: 99, Close: 100, Volume: 10},
		{Date: testDate(1), Open: 100, High: 112, Low: 100, Close: 110, Volume: 10},
		{Date: testDate(3), Open: 110, High: 130, Low: 110, Close: 121, Volume: 10},
		{Date: testDate(4), Open: 121, High: 140, Low: 120, Close: 133.1, Volume: 10},
	}
	frame, err := BuildFrame(bars, nil, FeatureConfig{Lags: []int{1}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Len() != 5 || frame.MissingDays != 1 {
		t.Fatalf("expected 5 calendar days with 1 missing, got %d and %d", frame.Len(), frame.MissingDays)
	}
	for i, d := range frame.Dates {
		if !d.Equal(testDate(i)) {
			t.Fatalf("position %d holds %s", i, d)
		}
	}

	returns, _ := frame.Column(ColReturn)
	if !math.IsNaN(returns[3]) {
		t.Fatalf("return after a missing day must be NaN, got %f", returns[3])
	}
	if math.Abs(returns[4]-0.1) > 1e-12 {
		t.Fatalf("expected 0.1, got %f", returns[4])
	}
	ranges, _ := frame.Column(ColRange)
	rangeLag, _ := frame.Column("range_lag1")
	if !math.IsNaN(rangeLag[3]) {
		t.Fatalf("range_lag1 on day 3 must come from day 2, which is missing; got %f", rangeLag[3])
	}
	if rangeLag[4] != ranges[3] {
		t.Fatalf("range_lag1 on day 4 should be %f, got %f", ranges[3], rangeLag[4])
	}

	labels, err := GenerateLabels(frame.Closes, 0.005)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{LabelUp, LabelNone, LabelNone, LabelUp, LabelNone}
	for i, label := range want {
		if labels.Labels[i] != label {
			t.Fatalf("label %d: expected %d, got %d", i, label, labels.Labels[i])
		}
	}
	if labels.Stats.NoNext != 3 {
		t.Fatalf("expected 3 dates without a next close, got %+v", labels.Stats)
	}
}

func TestAssembleRowsSkipsDatesAroundGap(t *testing.T) {
	full := zigzagBars(60)
	bars := append(append([]market.DailyRecord(nil), full[:25]...), full[26:]...)
	frame, err := BuildFrame(bars, nil, FeatureConfig{Lags: []int{1}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	labels, err := GenerateLabels(frame.Closes, 0.005)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rows, stats, err := AssembleRows(frame, labels, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// rsi_14 and its lag need 16 clean days on either side of day 25.
	if stats.Dates != 60 || stats.Unlabeled != 3 || stats.InsufficientHistory != 30 || stats.Kept != 27 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	for _, row := range rows {
		pos := int(row.Date.Sub(testDate(0)).Hours() / 24)
		if pos >= 24 && pos <= 40 {
			t.Fatalf("row on day %d depends on missing day 25", pos)
		}
	}
}
