package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"btcsignal/config"
	"btcsignal/db"
	"btcsignal/experiment"
	"btcsignal/ml"
	"btcsignal/monitoring"
)

// app 每个命令共享的配置与日志
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, err := monitoring.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "btcsignal",
		Short:         "Next-day BTC direction from social text and market data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "config.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newAggregateCmd(a))
	rootCmd.AddCommand(newPredictCmd(a))
	rootCmd.AddCommand(newRunsCmd(a))
	rootCmd.AddCommand(newWatchCmd(a))
	return rootCmd
}

func newRunCmd(a *app) *cobra.Command {
	var fromArchive, asJSON bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train, cross-validate and evaluate a model",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := experiment.NewRunner(a.cfg, a.logger).Run(cmd.Context(), experiment.Options{FromArchive: fromArchive})
			if err != nil {
				return describe(err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result.Report)
			}
			fmt.Fprint(out, result.Report.String())
			fmt.Fprint(out, result.Backtest.String())
			fmt.Fprintf(out, "\nbundle  %s\nreport  %s\n", result.BundlePath, result.ReportPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromArchive, "from-archive", false, "read daily data from the SQLite archive instead of the CSVs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newAggregateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate",
		Short: "Ingest the CSVs and write the daily archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := experiment.NewRunner(a.cfg, a.logger)
			daily, err := runner.LoadDaily(cmd.Context(), false)
			if err != nil {
				return describe(err)
			}
			if err := runner.Archive(cmd.Context(), daily); err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d days to %s\n", len(daily.Texts), a.cfg.Storage.DBPath)
			return nil
		},
	}
}

func newPredictCmd(a *app) *cobra.Command {
	var bundlePath string
	var fromArchive, noStore bool
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Score the latest date with a saved bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := ml.LoadTrainedModel(bundlePath)
			if err != nil {
				return describe(&experiment.StageError{Stage: monitoring.StagePrediction, Err: fmt.Errorf("load bundle: %w", err)})
			}
			runner := experiment.NewRunner(a.cfg, a.logger)
			daily, err := runner.LoadDaily(cmd.Context(), fromArchive)
			if err != nil {
				return describe(err)
			}
			forecast, err := runner.Predict(cmd.Context(), model, daily, !noStore)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), forecast.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&bundlePath, "bundle", "", "path to a bundle-<version>.json file")
	cmd.Flags().BoolVar(&fromArchive, "from-archive", false, "read daily data from the SQLite archive")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "do not record the prediction in the ledger")
	_ = cmd.MarkFlagRequired("bundle")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := db.Open(a.cfg.Storage.DBPath)
			if err != nil {
				return err
			}
			defer ledger.Close()

			runs, err := ledger.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFINISHED\tVERSION\tPARAMS\tCV\tBAL_ACC\tMACRO_F1\tBASELINE\tTEST")
			for _, r := range runs {
				fmt.Fprintf(w, "%d\t%s\t%.12s\t%s\t%.4f\t%.4f\t%.4f\t%.4f\t%d\n",
					r.ID, r.FinishedAt.Local().Format("2006-01-02 15:04"), r.ModelVersion, r.Params,
					r.CVScore, r.BalancedAccuracy, r.MacroF1, r.BaselineAccuracy, r.TestRows)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var fromArchive bool
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the experiment whenever the config or an input file changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			run := func(ctx context.Context) error {
				// 每次运行重新读取配置，改动立即生效
				cfg, err := config.Load(a.configPath)
				if err != nil {
					return err
				}
				result, err := experiment.NewRunner(cfg, a.logger).Run(ctx, experiment.Options{FromArchive: fromArchive})
				if err != nil {
					return describe(err)
				}
				fmt.Fprint(cmd.OutOrStdout(), result.Report.String())
				return nil
			}

			if err := run(cmd.Context()); err != nil {
				a.logger.Error("initial run failed", zap.Error(err))
			}
			paths := []string{a.configPath, a.cfg.Data.Market}
			if !fromArchive {
				paths = append(paths, a.cfg.Data.Tweets, a.cfg.Data.News)
			}
			a.logger.Info("watching for changes", zap.Strings("paths", paths), zap.Duration("debounce", debounce))
			return experiment.Watch(cmd.Context(), paths, debounce, a.logger, run)
		},
	}
	cmd.Flags().BoolVar(&fromArchive, "from-archive", false, "read daily data from the SQLite archive")
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "quiet period before a re-run")
	return cmd
}

// describe 为常见错误补充提示
func describe(err error) error {
	switch {
	case errors.Is(err, ml.ErrLeakage):
		return fmt.Errorf("%w (check split.train_end and input ordering)", err)
	case errors.Is(err, ml.ErrDenseLimit):
		return fmt.Errorf("%w (lower features.max_vocabulary or raise model.max_dense_cells)", err)
	case errors.Is(err, ml.ErrInsufficientData):
		return fmt.Errorf("%w (widen the date range or reduce model.cv_folds)", err)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w (check the data paths in the config file)", err)
	}
	return err
}
