package experiment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btcsignal/config"
	"btcsignal/db"
	"btcsignal/ml"
	"btcsignal/monitoring"
	"btcsignal/pipeline"
)

const testConfig = `
data:
  tweets: tweets.csv
  news: news.csv
  market: btc.csv
  chunk_size: 50
features:
  max_vocabulary: 50
  min_doc_frequency: 1
  lags: [1, 2]
  ma_windows: [7]
  volatility_windows: [7]
  rolling_windows: [3]
  text_lags: [1]
split:
  train_end: "2022-06-30"
model:
  cv_folds: 3
  seed: 11
  grid:
    trees: [5]
    max_depth: [3, 0]
    min_samples_leaf: [1]
  output_dir: out
storage:
  db_path: state/btcsignal.db
log:
  level: warn
`

// writeFixture 生成 220 天的行情与社交数据，文本倾向与次日涨跌一致
func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(1))

	const days = 220
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	closes := make([]float64, days)
	closes[0] = 40000
	for i := 1; i < days; i++ {
		move := 0.006 + rng.Float64()*0.024
		if rng.Intn(2) == 0 {
			move = -move
		}
		closes[i] = closes[i-1] * (1 + move)
	}

	var bars strings.Builder
	bars.WriteString("Date,Open,High,Low,Close,Volume\n")
	var tweets strings.Builder
	tweets.WriteString("created_at,text\n")
	var news strings.Builder
	news.WriteString("published_at,title\n")
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		c := closes[i]
		fmt.Fprintf(&bars, "%s,%.4f,%.4f,%.4f,%.4f,%.2f\n", day.Format("2006-01-02"), c, c*1.01, c*0.99, c, 1000+rng.Float64()*500)

		up := i+1 < days && closes[i+1] > c
		mood := "bearish dump crash fear"
		if up {
			mood = "bullish moon pump rally"
		}
		for h := 0; h < 3; h++ {
			fmt.Fprintf(&tweets, "%s %02d:15:00,\"@trader %s https://t.co/x #btc\"\n", day.Format("2006-01-02"), 8+h, mood)
		}
		fmt.Fprintf(&news, "%sT12:00:00Z,\"Bitcoin market update %d\"\n", day.Format("2006-01-02"), i%5)
	}

	files := map[string]string{
		"btc.csv":     bars.String(),
		"tweets.csv":  tweets.String(),
		"news.csv":    news.String(),
		"config.yaml": testConfig,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func loadConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	return cfg
}

func TestRunIsReproducible(t *testing.T) {
	dir := writeFixture(t)
	cfg := loadConfig(t, dir)
	ctx := context.Background()

	first, err := NewRunner(cfg, nil).Run(ctx, Options{})
	require.NoError(t, err)
	second, err := NewRunner(cfg, nil).Run(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, first.Model.Version, second.Model.Version)
	assert.Equal(t, first.Report, second.Report)
	assert.Equal(t, filepath.Join(dir, "out", "bundle-"+first.Model.ShortVersion()+".json"), first.BundlePath)
	assert.FileExists(t, first.ReportPath)

	report := first.Report
	assert.Equal(t, "2022-07-01", report.TestStart)
	assert.True(t, first.Model.TrainEnd.Before(time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, report.LabelStats)
	assert.Equal(t, 1, report.LabelStats.NoNext)
	assert.Equal(t, ml.ScoreF1Macro, report.Scoring)
	assert.Len(t, first.Search.Candidates, 2)
	require.NotNil(t, first.Backtest)
	assert.Equal(t, report.TestRows, first.Backtest.Benchmark.Days)
	assert.Equal(t, first.Backtest, second.Backtest)

	stats := first.Stats
	assert.Equal(t, int64(880), stats.Get(monitoring.StageIngestion, "accepted"))
	assert.Equal(t, int64(220), stats.Get(monitoring.StageMarket, "kept"))
	assert.Equal(t, int64(220), stats.Get(monitoring.StageAggregation, "days"))
	assert.Equal(t, int64(0), stats.Get(monitoring.StageAggregation, "empty_days"))
	assert.Equal(t, int64(len(first.Model.FeatureSpec.NumericNames)), stats.Get(monitoring.StageFeatures, "numeric_columns"))

	loaded, err := ml.LoadTrainedModel(first.BundlePath)
	require.NoError(t, err)
	assert.Equal(t, first.Model.Version, loaded.Version)

	ledger, err := db.Open(cfg.Storage.DBPath)
	require.NoError(t, err)
	defer ledger.Close()
	runs, err := ledger.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, first.Model.Version, runs[0].ModelVersion)
	assert.Equal(t, report.MacroF1, runs[0].MacroF1)
}

func TestRunFromArchiveMatchesCSV(t *testing.T) {
	dir := writeFixture(t)
	cfg := loadConfig(t, dir)
	ctx := context.Background()

	runner := NewRunner(cfg, nil)
	daily, err := runner.LoadDaily(ctx, false)
	require.NoError(t, err)
	require.NoError(t, runner.Archive(ctx, daily))

	fromCSV, err := NewRunner(cfg, nil).Run(ctx, Options{NoLedger: true})
	require.NoError(t, err)
	fromArchive, err := NewRunner(cfg, nil).Run(ctx, Options{FromArchive: true, NoLedger: true})
	require.NoError(t, err)
	assert.Equal(t, fromCSV.Model.Version, fromArchive.Model.Version)
}

func TestPredictStoresForecast(t *testing.T) {
	dir := writeFixture(t)
	cfg := loadConfig(t, dir)
	ctx := context.Background()

	result, err := NewRunner(cfg, nil).Run(ctx, Options{NoLedger: true})
	require.NoError(t, err)
	model, err := ml.LoadTrainedModel(result.BundlePath)
	require.NoError(t, err)

	runner := NewRunner(cfg, nil)
	daily, err := runner.LoadDaily(ctx, false)
	require.NoError(t, err)
	forecast, err := runner.Predict(ctx, model, daily, true)
	require.NoError(t, err)

	assert.Equal(t, daily.Bars[len(daily.Bars)-1].Date, forecast.Date)
	assert.GreaterOrEqual(t, forecast.Probability, 0.0)
	assert.LessOrEqual(t, forecast.Probability, 1.0)
	assert.Equal(t, forecast.Probability > 0.5, forecast.Label == ml.LabelUp)
	assert.Contains(t, forecast.String(), "2022-08-08")

	ledger, err := db.Open(cfg.Storage.DBPath)
	require.NoError(t, err)
	defer ledger.Close()
	stored, err := ledger.LoadPredictions(ctx, model.Version)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, forecast.Probability, stored[0].Probability)

	var stageErr *StageError
	short := &Daily{Bars: daily.Bars[:3], Texts: daily.Texts}
	_, err = runner.Predict(ctx, model, short, false)
	require.True(t, errors.As(err, &stageErr), "got %v", err)
	assert.Equal(t, monitoring.StageFeatures, stageErr.Stage)
	assert.ErrorIs(t, err, ml.ErrInsufficientData)

	cfg.Storage.DBPath = dir
	_, err = NewRunner(cfg, nil).Predict(ctx, model, daily, true)
	require.True(t, errors.As(err, &stageErr), "got %v", err)
	assert.Equal(t, monitoring.StagePrediction, stageErr.Stage)
}

func TestRunTagsFailingStage(t *testing.T) {
	dir := writeFixture(t)
	ctx := context.Background()

	cfg := loadConfig(t, dir)
	cfg.Split.TrainEnd = "2030-01-01"
	_, err := NewRunner(cfg, nil).Run(ctx, Options{NoLedger: true})
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr), "got %v", err)
	assert.Equal(t, monitoring.StageSplit, stageErr.Stage)
	assert.ErrorIs(t, err, ml.ErrInsufficientData)
	assert.True(t, strings.HasPrefix(err.Error(), "stage split: "))

	cfg = loadConfig(t, dir)
	cfg.Data.Tweets = filepath.Join(dir, "missing.csv")
	_, err = NewRunner(cfg, nil).Run(ctx, Options{NoLedger: true})
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, monitoring.StageIngestion, stageErr.Stage)
	var ingestionErr *pipeline.IngestionError
	assert.True(t, errors.As(err, &ingestionErr))

	cfg = loadConfig(t, dir)
	_, err = NewRunner(cfg, nil).Run(ctx, Options{FromArchive: true, NoLedger: true})
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, monitoring.StageMarket, stageErr.Stage)
}
