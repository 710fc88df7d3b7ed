package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"btcsignal/backtest"
	"btcsignal/ml"
	"btcsignal/monitoring"
)

const envPrefix = "BTCSIGNAL_"

type Config struct {
	Data     DataConfig           `yaml:"data"`
	Features FeaturesConfig       `yaml:"features"`
	Label    LabelConfig          `yaml:"label"`
	Split    SplitConfig          `yaml:"split"`
	Model    ModelConfig          `yaml:"model"`
	Backtest backtest.Config      `yaml:"backtest"`
	Storage  StorageConfig        `yaml:"storage"`
	Log      monitoring.LogConfig `yaml:"log"`

	// path of the file the config was read from
	source string
}

type DataConfig struct {
	Tweets         string  `yaml:"tweets" validate:"required"`
	News           string  `yaml:"news"`
	Market         string  `yaml:"market" validate:"required"`
	ChunkSize      int     `yaml:"chunk_size" default:"50000" validate:"gte=1"`
	SampleRate     float64 `yaml:"sample_rate" default:"1" validate:"gt=0,lte=1"`
	Timezone       string  `yaml:"timezone" default:"UTC" validate:"timezone"`
	MaxTextLength  int     `yaml:"max_text_length" default:"512" validate:"gte=1"`
	CleanCacheSize int     `yaml:"clean_cache_size" default:"100000" validate:"gte=0"`
}

type FeaturesConfig struct {
	MaxVocabulary     int      `yaml:"max_vocabulary" default:"500" validate:"gte=0"`
	MinDocFrequency   int      `yaml:"min_doc_frequency" default:"2" validate:"gte=1"`
	Lags              []int    `yaml:"lags" default:"[1,2,3,4,5,6,7]" validate:"dive,gte=1"`
	MAWindows         []int    `yaml:"ma_windows" default:"[7,21]" validate:"dive,gte=1"`
	VolatilityWindows []int    `yaml:"volatility_windows" default:"[7,21]" validate:"dive,gte=2"`
	RollingColumns    []string `yaml:"rolling_columns" default:"[\"return\",\"sentiment\"]" validate:"dive,required"`
	RollingWindows    []int    `yaml:"rolling_windows" default:"[3,7]" validate:"dive,gte=1"`
	TextLags          []int    `yaml:"text_lags" validate:"dive,gte=1"`
}

type LabelConfig struct {
	Threshold float64 `yaml:"threshold" default:"0.005" validate:"gte=0,lt=1"`
}

type SplitConfig struct {
	TrainEnd string `yaml:"train_end" validate:"required,datetime=2006-01-02"`
}

type GridConfig struct {
	Trees          []int `yaml:"trees" default:"[100,300]" validate:"min=1,dive,gte=1"`
	MaxDepth       []int `yaml:"max_depth" default:"[5,10,0]" validate:"min=1,dive,gte=0"`
	MinSamplesLeaf []int `yaml:"min_samples_leaf" default:"[1,5]" validate:"min=1,dive,gte=1"`
}

type ModelConfig struct {
	CVFolds       int        `yaml:"cv_folds" default:"5" validate:"gte=2"`
	Seed          int64      `yaml:"seed" default:"42"`
	Grid          GridConfig `yaml:"grid"`
	Scoring       string     `yaml:"scoring" default:"f1_macro" validate:"oneof=f1_macro accuracy balanced_accuracy"`
	MaxDenseCells int64      `yaml:"max_dense_cells" default:"50000000" validate:"gte=0"`
	OutputDir     string     `yaml:"output_dir" default:"artifacts" validate:"required"`
}

type StorageConfig struct {
	DBPath    string `yaml:"db_path" default:"data/btcsignal.db" validate:"required"`
	EnableWAL bool   `yaml:"enable_wal" default:"true"`
}

// Load reads .env (if present), applies struct defaults, decodes the YAML
// file strictly, applies BTCSIGNAL_* overrides and validates the result.
// Relative paths are resolved against the config file's directory.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{source: path}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	if val := os.Getenv(envPrefix + "TWEETS"); val != "" {
		c.Data.Tweets = val
	}
	if val := os.Getenv(envPrefix + "NEWS"); val != "" {
		c.Data.News = val
	}
	if val := os.Getenv(envPrefix + "MARKET"); val != "" {
		c.Data.Market = val
	}
	if val := os.Getenv(envPrefix + "TRAIN_END"); val != "" {
		c.Split.TrainEnd = val
	}
	if val := os.Getenv(envPrefix + "SEED"); val != "" {
		seed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("%sSEED: %w", envPrefix, err)
		}
		c.Model.Seed = seed
	}
	if val := os.Getenv(envPrefix + "OUTPUT_DIR"); val != "" {
		c.Model.OutputDir = val
	}
	if val := os.Getenv(envPrefix + "DB_PATH"); val != "" {
		c.Storage.DBPath = val
	}
	if val := os.Getenv(envPrefix + "LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	return nil
}

func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{&c.Data.Tweets, &c.Data.News, &c.Data.Market, &c.Model.OutputDir, &c.Storage.DBPath, &c.Log.File} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// Validate checks struct rules plus the cross-field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			fe := validationErrors[0]
			return fmt.Errorf("invalid config: %s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	known := map[string]bool{ml.ColReturn: true, ml.ColRange: true, ml.ColRSI: true, ml.ColVolumeChange: true, ml.ColSentiment: true, ml.ColMessageCount: true}
	for _, k := range c.Features.MAWindows {
		known[fmt.Sprintf("ma_%d", k)] = true
	}
	for _, k := range c.Features.VolatilityWindows {
		known[fmt.Sprintf("volatility_%d", k)] = true
	}
	for _, col := range c.Features.RollingColumns {
		if !known[col] {
			return fmt.Errorf("invalid config: rolling column %q is not a base feature", col)
		}
	}
	return nil
}

// Source is the path the config was loaded from.
func (c *Config) Source() string {
	return c.source
}

func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Data.Timezone)
}

func (c *Config) TrainEnd() (time.Time, error) {
	return time.Parse("2006-01-02", c.Split.TrainEnd)
}

func (c *Config) FeatureConfig() ml.FeatureConfig {
	return ml.FeatureConfig{
		MAWindows:         c.Features.MAWindows,
		VolatilityWindows: c.Features.VolatilityWindows,
		Lags:              c.Features.Lags,
		RollingColumns:    c.Features.RollingColumns,
		RollingWindows:    c.Features.RollingWindows,
		TextLags:          c.Features.TextLags,
	}
}

func (c *Config) TrainerConfig() ml.TrainerConfig {
	return ml.TrainerConfig{
		Grid: ml.ParamGrid{
			Trees:          c.Model.Grid.Trees,
			MaxDepth:       c.Model.Grid.MaxDepth,
			MinSamplesLeaf: c.Model.Grid.MinSamplesLeaf,
		},
		Folds:           c.Model.CVFolds,
		Seed:            c.Model.Seed,
		Scoring:         c.Model.Scoring,
		MaxVocabulary:   c.Features.MaxVocabulary,
		MinDocFrequency: c.Features.MinDocFrequency,
		MaxDenseCells:   c.Model.MaxDenseCells,
	}
}
