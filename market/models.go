package market

import (
	"math"
	"time"
)

// DailyRecord is one normalized OHLCV row. Date is midnight UTC of the trading day.
type DailyRecord struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Columns is the canonical flat market schema.
var Columns = []string{"date", "open", "high", "low", "close", "volume"}

func Closes(records []DailyRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Close
	}
	return out
}

func Highs(records []DailyRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.High
	}
	return out
}

func Lows(records []DailyRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Low
	}
	return out
}

func Volumes(records []DailyRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Volume
	}
	return out
}

func Dates(records []DailyRecord) []time.Time {
	out := make([]time.Time, len(records))
	for i, r := range records {
		out[i] = r.Date
	}
	return out
}

// Day truncates t to midnight UTC of its calendar date in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// FillCalendar returns one record per calendar day between the first and last
// date. Days missing from records keep their Date and hold NaN everywhere else,
// so positional series functions see the gap instead of bridging it.
func FillCalendar(records []DailyRecord) ([]DailyRecord, int) {
	if len(records) == 0 {
		return nil, 0
	}
	first, last := records[0].Date, records[len(records)-1].Date
	days := int(last.Sub(first).Hours()/24) + 1
	if days <= len(records) {
		return records, 0
	}

	nan := math.NaN()
	out := make([]DailyRecord, 0, days)
	next := 0
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if next < len(records) && records[next].Date.Equal(d) {
			out = append(out, records[next])
			next++
			continue
		}
		out = append(out, DailyRecord{Date: d, Open: nan, High: nan, Low: nan, Close: nan, Volume: nan})
	}
	return out, len(out) - len(records)
}
