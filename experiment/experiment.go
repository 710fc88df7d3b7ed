package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"btcsignal/backtest"
	"btcsignal/config"
	"btcsignal/db"
	"btcsignal/market"
	"btcsignal/ml"
	"btcsignal/monitoring"
	"btcsignal/nlp"
	"btcsignal/pipeline"
)

// StageError 标记失败的阶段
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// Options 单次运行选项
type Options struct {
	// FromArchive 从日级存档读取，跳过社交 CSV
	FromArchive bool
	// NoLedger 不写运行记录
	NoLedger bool
}

// Daily 日级输入：行情与对齐前的日文本
type Daily struct {
	Bars  []market.DailyRecord
	Texts []pipeline.DailyText
	// Ingestion 仅在从 CSV 读取时有值
	Ingestion *pipeline.IngestionStats
}

// Result 一次完整运行的产物
type Result struct {
	Model      *ml.TrainedModel
	Search     *ml.SearchResult
	Report     *ml.Report
	Backtest   *backtest.Results
	BundlePath string
	ReportPath string
	RunID      int64
	Stats      *monitoring.StageStats
}

// reportFile 写到 bundle 旁边的报告
type reportFile struct {
	Report   *ml.Report             `json:"report"`
	Backtest *backtest.Results      `json:"backtest"`
	Search   *ml.SearchResult       `json:"search"`
	Stages   *monitoring.StageStats `json:"stages"`
	Rows     ml.RowStats            `json:"rows"`
	Config   map[string]interface{} `json:"config"`
}

// Runner 按固定顺序执行各阶段
type Runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	stats    *monitoring.StageStats
	analyzer *nlp.SentimentAnalyzer
}

func NewRunner(cfg *config.Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		stats:    monitoring.NewStageStats(),
		analyzer: nlp.NewSentimentAnalyzer(),
	}
}

func (r *Runner) Stats() *monitoring.StageStats {
	return r.stats
}

// LoadDaily 读取行情和社交数据并聚合到日
func (r *Runner) LoadDaily(ctx context.Context, fromArchive bool) (*Daily, error) {
	if fromArchive {
		return r.loadArchive(ctx)
	}

	loc, err := r.cfg.Location()
	if err != nil {
		return nil, stageErr(monitoring.StageIngestion, err)
	}

	// 1. 社交消息：逐块清洗并分桶
	cleaner, err := pipeline.NewTextCleaner(r.cfg.Data.MaxTextLength, r.cfg.Data.CleanCacheSize)
	if err != nil {
		return nil, stageErr(monitoring.StageIngestion, err)
	}
	aggregator := pipeline.NewDailyAggregator(cleaner, loc)
	ingester := pipeline.NewDataIngester(pipeline.IngestionConfig{
		ChunkSize:  r.cfg.Data.ChunkSize,
		SampleRate: r.cfg.Data.SampleRate,
		Seed:       r.cfg.Model.Seed,
		Location:   loc,
	}, r.logger)

	files := []pipeline.SourceFile{{Path: r.cfg.Data.Tweets, Source: pipeline.SourceTweet}}
	if r.cfg.Data.News != "" {
		files = append(files, pipeline.SourceFile{Path: r.cfg.Data.News, Source: pipeline.SourceNews})
	}
	ingestion, err := ingester.Ingest(ctx, files, aggregator)
	r.stats.Set(monitoring.StageIngestion, "rows", ingestion.Rows)
	r.stats.Set(monitoring.StageIngestion, "accepted", ingestion.Accepted)
	r.stats.Set(monitoring.StageIngestion, "sampled_out", ingestion.SampledOut)
	r.stats.Set(monitoring.StageIngestion, "chunks", ingestion.Chunks)
	for reason, n := range ingestion.Skipped {
		r.stats.Set(monitoring.StageIngestion, "skipped_"+reason, n)
	}
	r.stats.SampleMemory(monitoring.StageIngestion)
	if err != nil {
		return nil, stageErr(monitoring.StageIngestion, err)
	}
	r.stats.LogStage(r.logger, monitoring.StageIngestion)

	// 2. 行情
	loaded, err := market.LoadDailyCSV(r.cfg.Data.Market)
	if err != nil {
		return nil, stageErr(monitoring.StageMarket, err)
	}
	r.stats.Set(monitoring.StageMarket, "rows", int64(loaded.Rows))
	r.stats.Set(monitoring.StageMarket, "kept", int64(len(loaded.Records)))
	r.stats.Merge(monitoring.StageMarket, "skipped_", loaded.Skipped)
	r.stats.LogStage(r.logger, monitoring.StageMarket)
	r.logger.Info("market data loaded",
		zap.String("layout", loaded.Layout),
		zap.Time("first", loaded.Records[0].Date),
		zap.Time("last", loaded.Records[len(loaded.Records)-1].Date))

	// 3. 按行情日期范围生成日文本
	bars := loaded.Records
	texts, err := aggregator.Records(bars[0].Date, bars[len(bars)-1].Date)
	if err != nil {
		return nil, stageErr(monitoring.StageAggregation, err)
	}
	agg := aggregator.Stats()
	clean := cleaner.Stats()
	r.stats.Set(monitoring.StageAggregation, "messages", agg.Messages)
	r.stats.Set(monitoring.StageAggregation, "empty_after_clean", agg.EmptyAfterClean)
	r.stats.Set(monitoring.StageAggregation, "out_of_range", agg.OutOfRange)
	r.stats.Set(monitoring.StageAggregation, "days", int64(agg.Days))
	r.stats.Set(monitoring.StageAggregation, "empty_days", int64(agg.EmptyDays))
	r.stats.Set(monitoring.StageAggregation, "clean_cache_hits", clean.CacheHits)
	r.stats.SampleMemory(monitoring.StageAggregation)
	r.stats.LogStage(r.logger, monitoring.StageAggregation)

	return &Daily{Bars: bars, Texts: texts, Ingestion: &ingestion}, nil
}

func (r *Runner) loadArchive(ctx context.Context) (*Daily, error) {
	archive, err := r.openArchive()
	if err != nil {
		return nil, stageErr(monitoring.StageMarket, err)
	}
	defer archive.Close()

	bars, err := archive.LoadDailyMarket(ctx)
	if err != nil {
		return nil, stageErr(monitoring.StageMarket, err)
	}
	if len(bars) == 0 {
		return nil, stageErr(monitoring.StageMarket, fmt.Errorf("%w: archive has no market rows, run aggregate first", ml.ErrInsufficientData))
	}
	r.stats.Set(monitoring.StageMarket, "kept", int64(len(bars)))
	r.stats.LogStage(r.logger, monitoring.StageMarket)

	texts, err := archive.LoadDailyText(ctx, bars[0].Date, bars[len(bars)-1].Date)
	if err != nil {
		return nil, stageErr(monitoring.StageAggregation, err)
	}
	var empty int64
	for _, t := range texts {
		if t.MessageCount == 0 {
			empty++
		}
	}
	r.stats.Set(monitoring.StageAggregation, "days", int64(len(texts)))
	r.stats.Set(monitoring.StageAggregation, "empty_days", empty)
	r.stats.LogStage(r.logger, monitoring.StageAggregation)
	return &Daily{Bars: bars, Texts: texts}, nil
}

func (r *Runner) openArchive() (*pipeline.DailyArchive, error) {
	return pipeline.NewDailyArchive(pipeline.StorageConfig{
		DBPath:    r.cfg.Storage.DBPath,
		EnableWAL: r.cfg.Storage.EnableWAL,
	})
}

// Archive 写入日级存档
func (r *Runner) Archive(ctx context.Context, daily *Daily) error {
	archive, err := r.openArchive()
	if err != nil {
		return stageErr(monitoring.StageAggregation, err)
	}
	defer archive.Close()

	if err := archive.SaveDailyMarket(ctx, daily.Bars); err != nil {
		return stageErr(monitoring.StageMarket, err)
	}
	if err := archive.SaveDailyText(ctx, daily.Texts); err != nil {
		return stageErr(monitoring.StageAggregation, err)
	}
	if daily.Ingestion != nil {
		if err := archive.SaveIngestionStats(ctx, *daily.Ingestion); err != nil {
			return stageErr(monitoring.StageIngestion, err)
		}
	}
	r.logger.Info("daily archive written",
		zap.String("path", r.cfg.Storage.DBPath),
		zap.Int("days", len(daily.Texts)),
		zap.Int("bars", len(daily.Bars)))
	return nil
}

// Dataset 特征、标签、切分后的数据
type Dataset struct {
	Spec     ml.FeatureSpec
	Train    []ml.Row
	Test     []ml.Row
	Labels   ml.LabelStats
	RowStats ml.RowStats
}

// BuildDataset 生成特征与标签并按日期切分
func (r *Runner) BuildDataset(daily *Daily) (*Dataset, error) {
	featureCfg := r.cfg.FeatureConfig()
	frame, err := ml.BuildFrame(daily.Bars, daily.Texts, featureCfg, r.analyzer)
	if err != nil {
		return nil, stageErr(monitoring.StageFeatures, err)
	}
	r.stats.Set(monitoring.StageFeatures, "dates", int64(frame.Len()))
	r.stats.Set(monitoring.StageFeatures, "missing_market_days", int64(frame.MissingDays))
	r.stats.Set(monitoring.StageFeatures, "numeric_columns", int64(len(frame.Names)))
	r.stats.Set(monitoring.StageFeatures, "text_slots", int64(1+len(featureCfg.TextLags)))
	r.stats.LogStage(r.logger, monitoring.StageFeatures)

	labels, err := ml.GenerateLabels(frame.Closes, r.cfg.Label.Threshold)
	if err != nil {
		return nil, stageErr(monitoring.StageLabeling, err)
	}
	rows, rowStats, err := ml.AssembleRows(frame, labels, featureCfg.TextLags)
	if err != nil {
		return nil, stageErr(monitoring.StageLabeling, err)
	}
	r.stats.Set(monitoring.StageLabeling, "up", int64(labels.Stats.Up))
	r.stats.Set(monitoring.StageLabeling, "down", int64(labels.Stats.Down))
	r.stats.Set(monitoring.StageLabeling, "ambiguous", int64(labels.Stats.Ambiguous))
	r.stats.Set(monitoring.StageLabeling, "no_next", int64(labels.Stats.NoNext))
	r.stats.Set(monitoring.StageLabeling, "insufficient_history", int64(rowStats.InsufficientHistory))
	r.stats.Set(monitoring.StageLabeling, "kept", int64(rowStats.Kept))
	r.stats.LogStage(r.logger, monitoring.StageLabeling)

	trainEnd, err := r.cfg.TrainEnd()
	if err != nil {
		return nil, stageErr(monitoring.StageSplit, err)
	}
	train, test, err := ml.SplitByDate(rows, trainEnd)
	if err != nil {
		return nil, stageErr(monitoring.StageSplit, err)
	}
	if err := ml.CheckOrdered(train, test); err != nil {
		return nil, stageErr(monitoring.StageSplit, err)
	}
	r.stats.Set(monitoring.StageSplit, "train", int64(len(train)))
	r.stats.Set(monitoring.StageSplit, "test", int64(len(test)))
	r.stats.LogStage(r.logger, monitoring.StageSplit)

	return &Dataset{
		Spec: ml.FeatureSpec{
			Config:       featureCfg,
			NumericNames: append([]string(nil), frame.Names...),
		},
		Train:    train,
		Test:     test,
		Labels:   labels.Stats,
		RowStats: rowStats,
	}, nil
}

// Run 执行完整流程：摄取、行情、聚合、特征、标签、切分、训练、评估
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	started := time.Now()

	daily, err := r.LoadDaily(ctx, opts.FromArchive)
	if err != nil {
		return nil, err
	}
	dataset, err := r.BuildDataset(daily)
	if err != nil {
		return nil, err
	}

	trainer := ml.NewTrainer(r.cfg.TrainerConfig(), r.logger)
	model, search, err := trainer.Train(ctx, dataset.Train, dataset.Spec)
	if err != nil {
		return nil, stageErr(monitoring.StageTraining, err)
	}
	r.stats.Set(monitoring.StageTraining, "candidates", int64(len(search.Candidates)))
	r.stats.Set(monitoring.StageTraining, "folds", int64(len(search.Folds)))
	r.stats.Set(monitoring.StageTraining, "width", int64(model.Width()))
	r.stats.Set(monitoring.StageTraining, "vocabulary", int64(model.Vectorizer.Width()))
	r.stats.SampleMemory(monitoring.StageTraining)
	r.stats.LogStage(r.logger, monitoring.StageTraining)

	report, err := ml.Evaluate(model, dataset.Test)
	if err != nil {
		return nil, stageErr(monitoring.StageEvaluation, err)
	}
	labelStats := dataset.Labels
	report.LabelStats = &labelStats
	report.CVScore = search.Best.Mean
	report.Scoring = search.Scoring
	predicted, err := model.Predict(dataset.Test)
	if err != nil {
		return nil, stageErr(monitoring.StageEvaluation, err)
	}
	replay, err := backtest.Run(dataset.Test, predicted, r.cfg.Backtest)
	if err != nil {
		return nil, stageErr(monitoring.StageEvaluation, err)
	}
	r.stats.Set(monitoring.StageEvaluation, "test_rows", int64(report.TestRows))
	r.stats.Set(monitoring.StageEvaluation, "signal_trades", int64(replay.Strategy.Trades))
	r.stats.LogStage(r.logger, monitoring.StageEvaluation)

	result := &Result{Model: model, Search: search, Report: report, Backtest: replay, Stats: r.stats}
	if err := r.writeArtifacts(result, dataset); err != nil {
		return nil, stageErr(monitoring.StageEvaluation, err)
	}

	if !opts.NoLedger {
		id, err := r.record(ctx, result, dataset, started)
		if err != nil {
			return nil, stageErr(monitoring.StageEvaluation, err)
		}
		result.RunID = id
	}

	r.logger.Info("run finished",
		zap.String("version", model.ShortVersion()),
		zap.String("params", model.Params.String()),
		zap.Float64("balanced_accuracy", report.BalancedAccuracy),
		zap.Float64("macro_f1", report.MacroF1),
		zap.Float64("baseline_accuracy", report.BaselineAccuracy),
		zap.Float64("signal_return", replay.Strategy.TotalReturn),
		zap.Float64("buy_hold_return", replay.Benchmark.TotalReturn),
		zap.String("bundle", result.BundlePath),
		zap.Duration("elapsed", time.Since(started)))
	return result, nil
}

func (r *Runner) writeArtifacts(result *Result, dataset *Dataset) error {
	dir := r.cfg.Model.OutputDir
	version := result.Model.ShortVersion()
	result.BundlePath = filepath.Join(dir, fmt.Sprintf("bundle-%s.json", version))
	if err := result.Model.Save(result.BundlePath); err != nil {
		return fmt.Errorf("save bundle: %w", err)
	}

	payload, err := json.MarshalIndent(reportFile{
		Report:   result.Report,
		Backtest: result.Backtest,
		Search:   result.Search,
		Stages:   r.stats,
		Rows:     dataset.RowStats,
		Config: map[string]interface{}{
			"train_end":   r.cfg.Split.TrainEnd,
			"threshold":   r.cfg.Label.Threshold,
			"sample_rate": r.cfg.Data.SampleRate,
			"seed":        r.cfg.Model.Seed,
		},
	}, "", "  ")
	if err != nil {
		return err
	}
	result.ReportPath = filepath.Join(dir, fmt.Sprintf("report-%s.json", version))
	return os.WriteFile(result.ReportPath, payload, 0o644)
}

func (r *Runner) record(ctx context.Context, result *Result, dataset *Dataset, started time.Time) (int64, error) {
	ledger, err := db.Open(r.cfg.Storage.DBPath)
	if err != nil {
		return 0, err
	}
	defer ledger.Close()

	report := result.Report
	return ledger.SaveRun(ctx, db.Run{
		ModelVersion:     result.Model.Version,
		Seed:             result.Model.Seed,
		Params:           result.Model.Params,
		Scoring:          report.Scoring,
		CVScore:          report.CVScore,
		Accuracy:         report.Accuracy,
		BalancedAccuracy: report.BalancedAccuracy,
		MacroF1:          report.MacroF1,
		BaselineAccuracy: report.BaselineAccuracy,
		TrainRows:        len(dataset.Train),
		TestRows:         len(dataset.Test),
		Threshold:        r.cfg.Label.Threshold,
		SampleRate:       r.cfg.Data.SampleRate,
		BundlePath:       result.BundlePath,
		StartedAt:        started,
		FinishedAt:       time.Now(),
	})
}
