package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Source 消息来源
type Source string

const (
	SourceTweet Source = "tweet"
	SourceNews  Source = "news"
)

// Message 原始消息，聚合后即丢弃
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Source    Source    `json:"source"`
	// Seq 到达顺序，同一时间戳内保证排序稳定
	Seq int64 `json:"seq"`
}

// IngestionConfig 数据摄取配置
type IngestionConfig struct {
	ChunkSize  int            `json:"chunk_size"`
	SampleRate float64        `json:"sample_rate"`
	Seed       int64          `json:"seed"`
	Location   *time.Location `json:"-"`
}

// SourceFile 待摄取的文件
type SourceFile struct {
	Path   string `json:"path"`
	Source Source `json:"source"`
}

// IngestionStats 摄取统计
type IngestionStats struct {
	Files      int              `json:"files"`
	Rows       int64            `json:"rows"`
	Accepted   int64            `json:"accepted"`
	SampledOut int64            `json:"sampled_out"`
	Chunks     int64            `json:"chunks"`
	Skipped    map[string]int64 `json:"skipped"`
}

func newIngestionStats() IngestionStats {
	return IngestionStats{Skipped: make(map[string]int64)}
}

func (s IngestionStats) SkippedTotal() int64 {
	var total int64
	for _, n := range s.Skipped {
		total += n
	}
	return total
}

// MessageSink 按块接收消息
type MessageSink interface {
	Add(chunk []Message) error
}

var ErrMissingColumn = errors.New("required column missing")

// IngestionError 致命的摄取错误（文件无法打开、表头不符合要求）
type IngestionError struct {
	Path string
	Err  error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion %s: %v", e.Path, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

var (
	timestampColumns = []string{"timestamp", "date", "created_at", "datetime", "time", "published_at"}
	textColumns      = []string{"text", "tweet", "content", "body", "title", "headline"}
	sourceColumns    = []string{"source"}
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RubyDate,
}

// MessageReader 惰性读取单个文件，每次返回不超过 ChunkSize 条消息
type MessageReader struct {
	path     string
	source   Source
	reader   *csv.Reader
	location *time.Location

	tsCol, textCol, srcCol int

	chunkSize  int
	sampleRate float64
	sampler    *rand.Rand

	stats IngestionStats
	done  bool
}

// NewMessageReader 读取表头并定位列。sampler 为 nil 时不采样
func NewMessageReader(r io.Reader, path string, source Source, cfg IngestionConfig, sampler *rand.Rand) (*MessageReader, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, &IngestionError{Path: path, Err: fmt.Errorf("read header: %w", err)}
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, ok := columns[key]; !ok {
			columns[key] = i
		}
	}

	tsCol := findColumn(columns, timestampColumns)
	textCol := findColumn(columns, textColumns)
	if tsCol < 0 {
		return nil, &IngestionError{Path: path, Err: fmt.Errorf("%w: timestamp", ErrMissingColumn)}
	}
	if textCol < 0 {
		return nil, &IngestionError{Path: path, Err: fmt.Errorf("%w: text", ErrMissingColumn)}
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 10000
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}

	return &MessageReader{
		path:       path,
		source:     source,
		reader:     reader,
		location:   location,
		tsCol:      tsCol,
		textCol:    textCol,
		srcCol:     findColumn(columns, sourceColumns),
		chunkSize:  chunkSize,
		sampleRate: cfg.SampleRate,
		sampler:    sampler,
		stats:      newIngestionStats(),
	}, nil
}

func findColumn(columns map[string]int, candidates []string) int {
	for _, name := range candidates {
		if idx, ok := columns[name]; ok {
			return idx
		}
	}
	return -1
}

// Next 返回下一块消息；读完后返回 io.EOF
func (mr *MessageReader) Next() ([]Message, error) {
	if mr.done {
		return nil, io.EOF
	}

	chunk := make([]Message, 0, mr.chunkSize)
	for len(chunk) < mr.chunkSize {
		row, err := mr.reader.Read()
		if err == io.EOF {
			mr.done = true
			break
		}
		mr.stats.Rows++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				mr.stats.Skipped["bad_csv"]++
				continue
			}
			return nil, &IngestionError{Path: mr.path, Err: err}
		}

		msg, reason := mr.parse(row)
		if reason != "" {
			mr.stats.Skipped[reason]++
			continue
		}
		if mr.sampler != nil && mr.sampleRate < 1 && mr.sampler.Float64() >= mr.sampleRate {
			mr.stats.SampledOut++
			continue
		}
		mr.stats.Accepted++
		chunk = append(chunk, msg)
	}

	if len(chunk) == 0 && mr.done {
		return nil, io.EOF
	}
	mr.stats.Chunks++
	return chunk, nil
}

func (mr *MessageReader) Stats() IngestionStats {
	return mr.stats
}

func (mr *MessageReader) parse(row []string) (Message, string) {
	if mr.tsCol >= len(row) || mr.textCol >= len(row) {
		return Message{}, "missing_field"
	}
	ts, err := ParseTimestamp(row[mr.tsCol], mr.location)
	if err != nil {
		return Message{}, "bad_timestamp"
	}
	text := strings.TrimSpace(row[mr.textCol])
	if text == "" {
		return Message{}, "empty_text"
	}

	source := mr.source
	if mr.srcCol >= 0 && mr.srcCol < len(row) {
		if s, ok := parseSource(row[mr.srcCol]); ok {
			source = s
		}
	}
	return Message{Timestamp: ts, Text: text, Source: source}, ""
}

func parseSource(value string) (Source, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "tweet", "tweets", "twitter", "x":
		return SourceTweet, true
	case "news", "article":
		return SourceNews, true
	}
	return "", false
}

// ParseTimestamp 解析时间戳，无时区的格式按 loc 解释；纯数字按 unix 秒（或毫秒）
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isDigits(value) {
		// 20220101 is a compact date; unix seconds have at least 9 digits.
		if len(value) == 8 {
			return time.ParseInLocation("20060102", value, loc)
		}
		if len(value) < 9 {
			return time.Time{}, fmt.Errorf("numeric timestamp %q is too short for unix seconds", value)
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// DataIngester 数据摄取器：逐文件、逐块把消息推给 sink
type DataIngester struct {
	config IngestionConfig
	logger *zap.Logger
}

// NewDataIngester 创建数据摄取器
func NewDataIngester(config IngestionConfig, logger *zap.Logger) *DataIngester {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 10000
	}
	if config.SampleRate <= 0 || config.SampleRate > 1 {
		config.SampleRate = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataIngester{config: config, logger: logger}
}

// Ingest 摄取所有文件。任何文件级错误都会中止
func (di *DataIngester) Ingest(ctx context.Context, files []SourceFile, sink MessageSink) (IngestionStats, error) {
	total := newIngestionStats()

	var sampler *rand.Rand
	if di.config.SampleRate < 1 {
		sampler = rand.New(rand.NewSource(di.config.Seed))
		di.logger.Info("sampling social messages",
			zap.Float64("sample_rate", di.config.SampleRate),
			zap.Int64("seed", di.config.Seed))
	}

	var seq int64
	for _, file := range files {
		stats, err := di.ingestFile(ctx, file, sampler, sink, &seq)
		total.Files++
		total.Rows += stats.Rows
		total.Accepted += stats.Accepted
		total.SampledOut += stats.SampledOut
		total.Chunks += stats.Chunks
		for reason, n := range stats.Skipped {
			total.Skipped[reason] += n
		}
		if err != nil {
			return total, err
		}
		di.logger.Info("ingested file",
			zap.String("path", file.Path),
			zap.String("source", string(file.Source)),
			zap.Int64("rows", stats.Rows),
			zap.Int64("accepted", stats.Accepted),
			zap.Int64("skipped", stats.SkippedTotal()),
			zap.Int64("sampled_out", stats.SampledOut))
	}
	return total, nil
}

func (di *DataIngester) ingestFile(ctx context.Context, file SourceFile, sampler *rand.Rand, sink MessageSink, seq *int64) (IngestionStats, error) {
	f, err := os.Open(file.Path)
	if err != nil {
		return newIngestionStats(), &IngestionError{Path: file.Path, Err: err}
	}
	defer f.Close()

	reader, err := NewMessageReader(f, file.Path, file.Source, di.config, sampler)
	if err != nil {
		return newIngestionStats(), err
	}

	for {
		if err := ctx.Err(); err != nil {
			return reader.Stats(), err
		}
		chunk, err := reader.Next()
		if err == io.EOF {
			return reader.Stats(), nil
		}
		if err != nil {
			return reader.Stats(), err
		}
		for i := range chunk {
			chunk[i].Seq = *seq
			*seq++
		}
		if err := sink.Add(chunk); err != nil {
			return reader.Stats(), fmt.Errorf("sink %s: %w", file.Path, err)
		}
	}
}
