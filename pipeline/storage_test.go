package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"btcsignal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	archive, err := NewDailyArchive(StorageConfig{DBPath: filepath.Join(t.TempDir(), "db", "archive.db")})
	require.NoError(t, err)
	defer archive.Close()

	require.NoError(t, archive.SaveDailyText(ctx, []DailyText{
		{Date: day(1), Text: "old", MessageCount: 1, TweetCount: 1},
		{Date: day(3), Text: "etf news", MessageCount: 1, NewsCount: 1},
	}))
	require.NoError(t, archive.SaveDailyText(ctx, []DailyText{
		{Date: day(1), Text: "new text", MessageCount: 2, TweetCount: 2},
	}))

	texts, err := archive.LoadDailyText(ctx, day(1), day(3))
	require.NoError(t, err)
	require.Len(t, texts, 3)
	assert.Equal(t, "new text", texts[0].Text, "same day is replaced")
	assert.Equal(t, 2, texts[0].MessageCount)
	assert.Equal(t, day(2), texts[1].Date)
	assert.Equal(t, 0, texts[1].MessageCount, "missing days come back empty")
	assert.Equal(t, 0, texts[2].NewsCount, "days absent from the newer save are removed")

	require.NoError(t, archive.SaveDailyMarket(ctx, []market.DailyRecord{
		{Date: day(2), Open: 1, High: 3, Low: 0.5, Close: 2, Volume: 10},
		{Date: day(1), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 5},
		{Date: day(3), Open: 9, High: 9, Low: 9, Close: 9, Volume: 9},
	}))
	require.NoError(t, archive.SaveDailyMarket(ctx, []market.DailyRecord{
		{Date: day(2), Open: 1, High: 3, Low: 0.5, Close: 2, Volume: 10},
		{Date: day(1), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 5},
	}))
	bars, err := archive.LoadDailyMarket(ctx)
	require.NoError(t, err)
	require.Len(t, bars, 2, "a corrected market file leaves no stale bars")
	assert.Equal(t, day(1), bars[0].Date)
	assert.Equal(t, 2.0, bars[1].Close)

	require.NoError(t, archive.SaveIngestionStats(ctx, IngestionStats{Files: 1, Rows: 10, Skipped: map[string]int64{"bad_csv": 1}}))
}
