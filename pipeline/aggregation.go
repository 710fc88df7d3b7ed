package pipeline

import (
	"errors"
	"sort"
	"strings"
	"time"

	"btcsignal/market"
)

// DailyText 单日聚合文本。没有消息的日期 Text 为空、MessageCount 为 0
type DailyText struct {
	Date         time.Time `json:"date"`
	Text         string    `json:"text"`
	MessageCount int       `json:"message_count"`
	TweetCount   int       `json:"tweet_count"`
	NewsCount    int       `json:"news_count"`
}

// AggregationStats 聚合统计
type AggregationStats struct {
	Messages        int64 `json:"messages"`
	EmptyAfterClean int64 `json:"empty_after_clean"`
	OutOfRange      int64 `json:"out_of_range"`
	Days            int   `json:"days"`
	EmptyDays       int   `json:"empty_days"`
}

type dayEntry struct {
	ts     time.Time
	seq    int64
	text   string
	source Source
}

// DailyAggregator 按日历日聚合消息，实现 MessageSink
type DailyAggregator struct {
	cleaner  *TextCleaner
	location *time.Location
	days     map[time.Time][]dayEntry
	stats    AggregationStats
}

// NewDailyAggregator 创建聚合器；日期边界按 loc 计算
func NewDailyAggregator(cleaner *TextCleaner, loc *time.Location) *DailyAggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyAggregator{
		cleaner:  cleaner,
		location: loc,
		days:     make(map[time.Time][]dayEntry),
	}
}

// Add 清洗并按日期分桶
func (a *DailyAggregator) Add(chunk []Message) error {
	for _, msg := range chunk {
		a.stats.Messages++
		text := msg.Text
		if a.cleaner != nil {
			text = a.cleaner.Clean(text)
		}
		if text == "" {
			a.stats.EmptyAfterClean++
			continue
		}
		day := market.Day(msg.Timestamp, a.location)
		a.days[day] = append(a.days[day], dayEntry{
			ts:     msg.Timestamp,
			seq:    msg.Seq,
			text:   text,
			source: msg.Source,
		})
	}
	return nil
}

// Records 生成 [start, end] 内每一天的记录，包括没有消息的日期
func (a *DailyAggregator) Records(start, end time.Time) ([]DailyText, error) {
	start = market.Day(start, time.UTC)
	end = market.Day(end, time.UTC)
	if end.Before(start) {
		return nil, errors.New("aggregation range end before start")
	}

	a.stats.OutOfRange = 0
	for day, entries := range a.days {
		if day.Before(start) || day.After(end) {
			a.stats.OutOfRange += int64(len(entries))
		}
	}

	var records []DailyText
	a.stats.Days, a.stats.EmptyDays = 0, 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		record := a.buildRecord(day, a.days[day])
		if record.MessageCount == 0 {
			a.stats.EmptyDays++
		}
		records = append(records, record)
	}
	a.stats.Days = len(records)
	return records, nil
}

func (a *DailyAggregator) buildRecord(day time.Time, entries []dayEntry) DailyText {
	record := DailyText{Date: day}
	if len(entries) == 0 {
		return record
	}

	sorted := make([]dayEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ts.Equal(sorted[j].ts) {
			return sorted[i].ts.Before(sorted[j].ts)
		}
		return sorted[i].seq < sorted[j].seq
	})

	var b strings.Builder
	for i, entry := range sorted {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(entry.text)
		switch entry.source {
		case SourceNews:
			record.NewsCount++
		default:
			record.TweetCount++
		}
	}
	record.Text = b.String()
	record.MessageCount = len(sorted)
	return record
}

// Stats 获取统计信息
func (a *DailyAggregator) Stats() AggregationStats {
	return a.stats
}
