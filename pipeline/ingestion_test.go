package pipeline

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collectSink struct {
	chunks [][]Message
}

func (s *collectSink) Add(chunk []Message) error {
	copied := make([]Message, len(chunk))
	copy(copied, chunk)
	s.chunks = append(s.chunks, copied)
	return nil
}

func (s *collectSink) all() []Message {
	var out []Message
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

const tweetsCSV = `user,created_at,text
alice,2021-01-01 10:00:00,"bullish on btc"
bob,not-a-time,"broken row"
carol,2021-01-01 11:00:00,""
dave,1609502400,"unix seconds"
erin,2021-01-02T08:00:00Z,"iso with zone"
frank
`

func TestMessageReaderChunksAndSkips(t *testing.T) {
	reader, err := NewMessageReader(strings.NewReader(tweetsCSV), "tweets.csv", SourceTweet, IngestionConfig{ChunkSize: 2}, nil)
	require.NoError(t, err)

	first, err := reader.Next()
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "bullish on btc", first[0].Text)
	assert.Equal(t, time.Date(2021, 1, 1, 10, 0, 0, 0, time.UTC), first[0].Timestamp)
	assert.Equal(t, time.Unix(1609502400, 0).UTC(), first[1].Timestamp)

	second, err := reader.Next()
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, SourceTweet, second[0].Source)

	_, err = reader.Next()
	assert.Equal(t, io.EOF, err)

	stats := reader.Stats()
	assert.Equal(t, int64(6), stats.Rows)
	assert.Equal(t, int64(3), stats.Accepted)
	assert.Equal(t, int64(1), stats.Skipped["bad_timestamp"])
	assert.Equal(t, int64(1), stats.Skipped["empty_text"])
	assert.Equal(t, int64(1), stats.Skipped["missing_field"])
}

func TestMessageReaderRequiresColumns(t *testing.T) {
	_, err := NewMessageReader(strings.NewReader("user,body_text\nx,y\n"), "bad.csv", SourceTweet, IngestionConfig{}, nil)
	require.Error(t, err)
	var ingestionErr *IngestionError
	assert.True(t, errors.As(err, &ingestionErr))
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestMessageReaderSourceColumn(t *testing.T) {
	input := "timestamp,text,source\n2021-01-01,a,news\n2021-01-01,b,twitter\n2021-01-01,c,unknown\n"
	reader, err := NewMessageReader(strings.NewReader(input), "mixed.csv", SourceNews, IngestionConfig{}, nil)
	require.NoError(t, err)
	chunk, err := reader.Next()
	require.NoError(t, err)
	require.Len(t, chunk, 3)
	assert.Equal(t, SourceNews, chunk[0].Source)
	assert.Equal(t, SourceTweet, chunk[1].Source)
	assert.Equal(t, SourceNews, chunk[2].Source, "unknown values fall back to the file source")
}

func TestParseTimestampUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	ts, err := ParseTimestamp("2021-01-01 23:00:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 1, 2, 4, 0, 0, 0, time.UTC), ts.UTC())

	ms, err := ParseTimestamp("1609502400000", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1609502400, 0).UTC(), ms)
}

func TestParseTimestampNumericForms(t *testing.T) {
	compact, err := ParseTimestamp("20220101", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), compact)

	secs, err := ParseTimestamp("1641081600", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC), secs)

	for _, value := range []string{"20221399", "1234567", "42"} {
		_, err := ParseTimestamp(value, nil)
		assert.Error(t, err, value)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDataIngesterStreamsFiles(t *testing.T) {
	dir := t.TempDir()
	tweets := writeFile(t, dir, "tweets.csv", tweetsCSV)
	news := writeFile(t, dir, "news.csv", "date,title\n2021-01-03,ETF approved\n")

	sink := &collectSink{}
	ingester := NewDataIngester(IngestionConfig{ChunkSize: 2}, nil)
	stats, err := ingester.Ingest(context.Background(), []SourceFile{
		{Path: tweets, Source: SourceTweet},
		{Path: news, Source: SourceNews},
	}, sink)
	require.NoError(t, err)

	messages := sink.all()
	require.Len(t, messages, 4)
	for i, msg := range messages {
		assert.Equal(t, int64(i), msg.Seq, "sequence numbers run across files")
	}
	assert.Equal(t, SourceNews, messages[3].Source)
	for _, c := range sink.chunks {
		assert.LessOrEqual(t, len(c), 2)
	}

	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, int64(7), stats.Rows)
	assert.Equal(t, int64(4), stats.Accepted)
	assert.Equal(t, int64(3), stats.SkippedTotal())
}

func TestDataIngesterSamplingIsSeeded(t *testing.T) {
	var b strings.Builder
	b.WriteString("timestamp,text\n")
	for i := 0; i < 200; i++ {
		b.WriteString("2021-01-01,msg\n")
	}
	path := writeFile(t, t.TempDir(), "many.csv", b.String())

	run := func(seed int64) IngestionStats {
		ingester := NewDataIngester(IngestionConfig{ChunkSize: 50, SampleRate: 0.5, Seed: seed}, nil)
		stats, err := ingester.Ingest(context.Background(), []SourceFile{{Path: path, Source: SourceTweet}}, &collectSink{})
		require.NoError(t, err)
		return stats
	}

	first, second := run(7), run(7)
	assert.Equal(t, first.Accepted, second.Accepted)
	assert.Equal(t, int64(200), first.Accepted+first.SampledOut)
	assert.Greater(t, first.SampledOut, int64(0))

	sampler := rand.New(rand.NewSource(7))
	expected := int64(0)
	for i := 0; i < 200; i++ {
		if sampler.Float64() < 0.5 {
			expected++
		}
	}
	assert.Equal(t, expected, first.Accepted)
}

func TestDataIngesterMissingFile(t *testing.T) {
	ingester := NewDataIngester(IngestionConfig{}, nil)
	_, err := ingester.Ingest(context.Background(), []SourceFile{{Path: "/does/not/exist.csv"}}, &collectSink{})
	var ingestionErr *IngestionError
	assert.True(t, errors.As(err, &ingestionErr))
}

func TestDataIngesterHonoursContext(t *testing.T) {
	path := writeFile(t, t.TempDir(), "t.csv", tweetsCSV)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDataIngester(IngestionConfig{}, nil).Ingest(ctx, []SourceFile{{Path: path}}, &collectSink{})
	assert.ErrorIs(t, err, context.Canceled)
}
