package monitoring

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStageStatsKeepsStageOrder(t *testing.T) {
	stats := NewStageStats()
	stats.Add(StageIngestion, "read", 10)
	stats.Add(StageIngestion, "skipped_bad_timestamp", 2)
	stats.Add(StageLabeling, "ambiguous", 3)
	stats.Add(StageIngestion, "read", 5)
	stats.Add(StageLabeling, "zero", 0)

	snapshot := stats.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, StageIngestion, snapshot[0].Stage)
	assert.Equal(t, int64(15), snapshot[0].Counters["read"])
	assert.Equal(t, StageLabeling, snapshot[1].Stage)
	assert.NotContains(t, snapshot[1].Counters, "zero")

	assert.Equal(t, int64(3), stats.Get(StageLabeling, "ambiguous"))
	assert.Equal(t, int64(0), stats.Get(StageTraining, "missing"))
}

func TestStageStatsMergeAndJSON(t *testing.T) {
	stats := NewStageStats()
	stats.Merge(StageMarket, "skipped_", map[string]int{"bad_date": 1, "duplicate_date": 2})
	stats.Set(StageMarket, "rows", 10)

	payload, err := json.Marshal(stats)
	require.NoError(t, err)

	var decoded []StageCounters
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, int64(2), decoded[0].Counters["skipped_duplicate_date"])
	assert.Equal(t, int64(10), decoded[0].Counters["rows"])
}

func TestLogStage(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	stats := NewStageStats()
	stats.Add(StageSplit, "train", 7)
	stats.LogStage(zap.New(core), StageSplit)
	stats.LogStage(zap.New(core), "unknown")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "stage counts", entry.Message)
	assert.Equal(t, int64(7), entry.ContextMap()["train"])
}
