package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrHeader = errors.New("unrecognized market header")
	ErrEmpty  = errors.New("no market rows")
)

// IngestionError is fatal: the file cannot be mapped to the canonical schema.
type IngestionError struct {
	Path string
	Err  error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("market ingestion %s: %v", e.Path, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// Header layouts recognized by the loader.
const (
	LayoutFlat     = "flat"
	LayoutCompound = "compound"
	LayoutMultiRow = "multirow"
)

type LoadResult struct {
	Records []DailyRecord
	Layout  string
	Rows    int
	Skipped map[string]int
}

func (r *LoadResult) SkippedTotal() int {
	total := 0
	for _, n := range r.Skipped {
		total += n
	}
	return total
}

var columnAliases = map[string]string{
	"date":      "date",
	"datetime":  "date",
	"timestamp": "date",
	"time":      "date",
	"day":       "date",
	"open":      "open",
	"high":      "high",
	"low":       "low",
	"close":     "close",
	"volume":    "volume",
	"vol":       "volume",
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05Z07:00",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
}

// LoadDailyCSV reads the whole market file. Market data is small.
func LoadDailyCSV(path string) (*LoadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &IngestionError{Path: path, Err: err}
	}
	defer file.Close()
	return ReadDailyCSV(file, path)
}

func ReadDailyCSV(r io.Reader, name string) (*LoadResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	result := &LoadResult{Skipped: make(map[string]int)}

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) && len(rows) > 0 {
				result.Skipped["bad_csv"]++
				continue
			}
			return nil, &IngestionError{Path: name, Err: err}
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, &IngestionError{Path: name, Err: ErrEmpty}
	}

	columns, dataStart, layout, err := resolveHeader(rows)
	if err != nil {
		return nil, &IngestionError{Path: name, Err: err}
	}
	result.Layout = layout

	seen := make(map[time.Time]bool)
	for _, row := range rows[dataStart:] {
		result.Rows++
		record, reason := parseRow(row, columns)
		if reason != "" {
			result.Skipped[reason]++
			continue
		}
		if seen[record.Date] {
			result.Skipped["duplicate_date"]++
			continue
		}
		seen[record.Date] = true
		result.Records = append(result.Records, record)
	}

	if len(result.Records) == 0 {
		return nil, &IngestionError{Path: name, Err: ErrEmpty}
	}
	sort.Slice(result.Records, func(i, j int) bool {
		return result.Records[i].Date.Before(result.Records[j].Date)
	})
	return result, nil
}

// resolveHeader flattens the header into canonical column positions.
func resolveHeader(rows [][]string) (map[string]int, int, string, error) {
	if len(rows) > 1 && len(rows[1]) > 0 && normalizeCell(rows[1][0]) == "ticker" {
		return resolveMultiRow(rows)
	}

	columns := make(map[string]int)
	layout := LayoutFlat
	for i, cell := range rows[0] {
		name, compound, err := canonicalName(cell)
		if err != nil {
			return nil, 0, "", fmt.Errorf("%w: column %d %q: %v", ErrHeader, i, cell, err)
		}
		if name == "" {
			continue
		}
		if compound {
			layout = LayoutCompound
		}
		if _, dup := columns[name]; dup {
			return nil, 0, "", fmt.Errorf("%w: column %q appears more than once", ErrHeader, name)
		}
		columns[name] = i
	}
	if err := requireColumns(columns); err != nil {
		return nil, 0, "", err
	}
	return columns, 1, layout, nil
}

// resolveMultiRow handles "Price,Close,High,..." / "Ticker,BTC-USD,..." / "Date,,,,".
func resolveMultiRow(rows [][]string) (map[string]int, int, string, error) {
	names, tickers := rows[0], rows[1]

	distinct := make(map[string]bool)
	for _, ticker := range tickers[1:] {
		if t := strings.TrimSpace(ticker); t != "" {
			distinct[strings.ToUpper(t)] = true
		}
	}
	if len(distinct) > 1 {
		return nil, 0, "", fmt.Errorf("%w: %d tickers in one file", ErrHeader, len(distinct))
	}

	columns := map[string]int{"date": 0}
	for i := 1; i < len(names); i++ {
		name, _, err := canonicalName(names[i])
		if err != nil {
			return nil, 0, "", fmt.Errorf("%w: column %d %q: %v", ErrHeader, i, names[i], err)
		}
		if name == "" {
			continue
		}
		if name == "date" {
			return nil, 0, "", fmt.Errorf("%w: date under price level", ErrHeader)
		}
		if _, dup := columns[name]; dup {
			return nil, 0, "", fmt.Errorf("%w: column %q appears more than once", ErrHeader, name)
		}
		columns[name] = i
	}
	if err := requireColumns(columns); err != nil {
		return nil, 0, "", err
	}

	dataStart := 2
	if len(rows) > 2 && isDateMarkerRow(rows[2]) {
		dataStart = 3
	}
	return columns, dataStart, LayoutMultiRow, nil
}

func isDateMarkerRow(row []string) bool {
	if len(row) == 0 || normalizeCell(row[0]) != "date" {
		return false
	}
	for _, cell := range row[1:] {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func requireColumns(columns map[string]int) error {
	var missing []string
	for _, name := range Columns {
		if _, ok := columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrHeader, strings.Join(missing, ", "))
	}
	return nil
}

// canonicalName maps a header cell to a canonical column. An empty name means
// the column is not part of the schema. compound reports that the cell carried
// extra levels such as a ticker.
func canonicalName(cell string) (name string, compound bool, err error) {
	raw := normalizeCell(cell)
	if raw == "" {
		return "", false, nil
	}
	if alias, ok := columnAliases[raw]; ok {
		return alias, false, nil
	}

	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case '(', ')', '[', ']', '\'', '"', ',', '_', ' ', '.', '|', '/', ':':
			return true
		}
		return false
	})
	switch len(tokens) {
	case 0:
		return "", false, nil
	case 1:
		// Date_ or ('Date', ''): a compound cell whose second level is empty.
		if alias, ok := columnAliases[tokens[0]]; ok {
			return alias, true, nil
		}
		return "", false, nil
	}

	found := ""
	for i, token := range tokens {
		if token == "adj" && i+1 < len(tokens) && tokens[i+1] == "close" {
			return "", true, nil
		}
		alias, ok := columnAliases[token]
		if !ok {
			continue
		}
		if found != "" && found != alias {
			return "", true, fmt.Errorf("ambiguous compound name")
		}
		found = alias
	}
	return found, true, nil
}

func normalizeCell(cell string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff")))
}

func parseRow(row []string, columns map[string]int) (DailyRecord, string) {
	for _, idx := range columns {
		if idx >= len(row) {
			return DailyRecord{}, "short_row"
		}
	}

	date, err := parseDate(row[columns["date"]])
	if err != nil {
		return DailyRecord{}, "bad_date"
	}

	var values [5]float64
	for i, name := range Columns[1:] {
		v, err := parseNumber(row[columns[name]])
		if err != nil {
			return DailyRecord{}, "bad_number"
		}
		values[i] = v
	}
	record := DailyRecord{
		Date:   date,
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}
	if record.Close <= 0 {
		return DailyRecord{}, "non_positive_close"
	}
	if record.High < record.Low {
		return DailyRecord{}, "high_below_low"
	}
	return record, ""
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

func parseNumber(value string) (float64, error) {
	value = strings.ReplaceAll(strings.TrimSpace(value), ",", "")
	if value == "" {
		return 0, errors.New("empty value")
	}
	return strconv.ParseFloat(value, 64)
}
