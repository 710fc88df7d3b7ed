package ml

import (
	"fmt"
	"time"

	"btcsignal/market"
	"btcsignal/nlp"
	"btcsignal/pipeline"
)

// Base column names.
const (
	ColReturn       = "return"
	ColRange        = "range"
	ColRSI          = "rsi_14"
	ColVolumeChange = "volume_change"
	ColSentiment    = "sentiment"
	ColMessageCount = "message_count"
)

// FeatureConfig selects the market windows and temporal expansions.
type FeatureConfig struct {
	MAWindows         []int    `json:"ma_windows"`
	VolatilityWindows []int    `json:"volatility_windows"`
	Lags              []int    `json:"lags"`
	RollingColumns    []string `json:"rolling_columns"`
	RollingWindows    []int    `json:"rolling_windows"`
	TextLags          []int    `json:"text_lags"`
}

// FeatureSpec is what a trained model needs to rebuild its inputs.
type FeatureSpec struct {
	Config       FeatureConfig `json:"config"`
	NumericNames []string      `json:"numeric_names"`
}

// Frame is a column store keyed by position. Every column has one value per
// calendar date, so position t-n is always date t-n.
type Frame struct {
	Dates   []time.Time
	Names   []string
	Columns [][]float64
	// Texts is the cleaned same-day text for each date.
	Texts []string
	// Closes is NaN on days the market file does not cover.
	Closes []float64
	// MissingDays counts calendar days filled in between market rows.
	MissingDays int

	index map[string]int
}

type namedColumn struct {
	name   string
	values []float64
}

func NewFrame(dates []time.Time) *Frame {
	return &Frame{Dates: dates, index: make(map[string]int)}
}

// Add appends a named column.
func (f *Frame) Add(name string, values []float64) error {
	if len(values) != len(f.Dates) {
		return fmt.Errorf("%w: column %s has %d values for %d dates", ErrAlignment, name, len(values), len(f.Dates))
	}
	if _, exists := f.index[name]; exists {
		return fmt.Errorf("duplicate column %s", name)
	}
	f.index[name] = len(f.Names)
	f.Names = append(f.Names, name)
	f.Columns = append(f.Columns, values)
	return nil
}

func (f *Frame) Column(name string) ([]float64, bool) {
	idx, ok := f.index[name]
	if !ok {
		return nil, false
	}
	return f.Columns[idx], true
}

func (f *Frame) Len() int {
	return len(f.Dates)
}

// AlignText maps daily text onto the market dates. Dates without text get an
// empty string and a zero count.
func AlignText(dates []time.Time, days []pipeline.DailyText) ([]string, []float64) {
	byDate := make(map[time.Time]pipeline.DailyText, len(days))
	for _, d := range days {
		byDate[d.Date] = d
	}
	texts := make([]string, len(dates))
	counts := make([]float64, len(dates))
	for i, date := range dates {
		if d, ok := byDate[date]; ok {
			texts[i] = d.Text
			counts[i] = float64(d.MessageCount)
		}
	}
	return texts, counts
}

// BaseFeatures computes same-day market and text features. Every value at
// position t uses only data dated at or before t.
func BaseFeatures(bars []market.DailyRecord, texts []string, counts []float64, cfg FeatureConfig, analyzer *nlp.SentimentAnalyzer) (*Frame, error) {
	if len(texts) != len(bars) || len(counts) != len(bars) {
		return nil, fmt.Errorf("%w: %d bars, %d texts, %d counts", ErrAlignment, len(bars), len(texts), len(counts))
	}
	if analyzer == nil {
		analyzer = nlp.NewSentimentAnalyzer()
	}

	frame := NewFrame(market.Dates(bars))
	frame.Texts = texts

	closes := market.Closes(bars)
	frame.Closes = closes
	returns := market.Returns(closes)
	columns := []namedColumn{
		{ColReturn, returns},
		{ColRange, market.Ranges(market.Highs(bars), market.Lows(bars))},
	}
	for _, k := range cfg.MAWindows {
		columns = append(columns, namedColumn{fmt.Sprintf("ma_%d", k), market.RollingMean(closes, k)})
	}
	for _, k := range cfg.VolatilityWindows {
		columns = append(columns, namedColumn{fmt.Sprintf("volatility_%d", k), market.RollingStd(returns, k)})
	}
	columns = append(columns,
		namedColumn{ColRSI, market.RollingRSI(closes, 14)},
		namedColumn{ColVolumeChange, market.Returns(market.Volumes(bars))},
		namedColumn{ColSentiment, analyzer.ScoreAll(texts)},
		namedColumn{ColMessageCount, counts},
	)

	for _, c := range columns {
		if err := frame.Add(c.name, c.values); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// BuildFrame computes base features and their temporal expansions. Gaps in
// bars become NaN days, so any value that depends on a missing day is dropped.
func BuildFrame(bars []market.DailyRecord, days []pipeline.DailyText, cfg FeatureConfig, analyzer *nlp.SentimentAnalyzer) (*Frame, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no market rows", ErrInsufficientData)
	}
	bars, missing := market.FillCalendar(bars)
	texts, counts := AlignText(market.Dates(bars), days)
	frame, err := BaseFeatures(bars, texts, counts, cfg, analyzer)
	if err != nil {
		return nil, err
	}
	frame.MissingDays = missing
	if err := AddTemporalFeatures(frame, cfg); err != nil {
		return nil, err
	}
	return frame, nil
}
