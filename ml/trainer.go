package ml

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// TrainerConfig holds the search and bundle settings.
type TrainerConfig struct {
	Grid            ParamGrid
	Folds           int
	Seed            int64
	Scoring         string
	MaxVocabulary   int
	MinDocFrequency int
	MaxDenseCells   int64
}

// Trainer runs walk-forward grid search and refits the winner on all train rows.
type Trainer struct {
	config TrainerConfig
	logger *zap.Logger
}

func NewTrainer(config TrainerConfig, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Scoring == "" {
		config.Scoring = ScoreF1Macro
	}
	return &Trainer{config: config, logger: logger}
}

func (t *Trainer) options(params ForestParams) BundleOptions {
	return BundleOptions{
		Params:          params,
		Seed:            t.config.Seed,
		MaxVocabulary:   t.config.MaxVocabulary,
		MinDocFrequency: t.config.MinDocFrequency,
		MaxDenseCells:   t.config.MaxDenseCells,
	}
}

// Search scores every grid point across time-series folds. Each fold refits
// vectorizer, scaler and forest on its own training slice.
func (t *Trainer) Search(ctx context.Context, train []Row, spec FeatureSpec) (*SearchResult, error) {
	if _, err := Score(t.config.Scoring, nil, nil); err != nil {
		return nil, err
	}
	combos, err := t.config.Grid.Combinations()
	if err != nil {
		return nil, err
	}
	folds, err := TimeSeriesSplit(len(train), t.config.Folds)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{Scoring: t.config.Scoring, Folds: folds}
	for _, params := range combos {
		candidate := CandidateScore{Params: params}
		for i, fold := range folds {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			fit, validate := train[:fold.TrainEnd], train[fold.ValidateStart:fold.ValidateEnd]
			if err := CheckOrdered(fit, validate); err != nil {
				return nil, err
			}
			score, err := t.scoreFold(fit, validate, spec, params)
			if err != nil {
				return nil, fmt.Errorf("fold %d %s: %w", i, params, err)
			}
			candidate.FoldScores = append(candidate.FoldScores, score)
		}
		candidate.Mean = meanOf(candidate.FoldScores)
		result.Candidates = append(result.Candidates, candidate)
		t.logger.Debug("grid candidate scored",
			zap.Stringer("params", params),
			zap.Float64s("fold_scores", candidate.FoldScores),
			zap.Float64("mean", candidate.Mean))
	}

	result.Best, err = selectBest(result.Candidates)
	if err != nil {
		return nil, err
	}
	t.logger.Info("grid search finished",
		zap.Int("candidates", len(result.Candidates)),
		zap.Int("folds", len(folds)),
		zap.String("scoring", result.Scoring),
		zap.Stringer("best", result.Best.Params),
		zap.Float64("best_score", result.Best.Mean))
	return result, nil
}

func (t *Trainer) scoreFold(fit, validate []Row, spec FeatureSpec, params ForestParams) (float64, error) {
	model, err := FitBundle(fit, LastDate(fit), spec, t.options(params))
	if err != nil {
		return 0, err
	}
	predicted, err := model.Predict(validate)
	if err != nil {
		return 0, err
	}
	return Score(t.config.Scoring, Labels(validate), predicted)
}

// Train searches the grid, then refits the best parameters on all of train.
func (t *Trainer) Train(ctx context.Context, train []Row, spec FeatureSpec) (*TrainedModel, *SearchResult, error) {
	search, err := t.Search(ctx, train, spec)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	model, err := FitBundle(train, LastDate(train), spec, t.options(search.Best.Params))
	if err != nil {
		return nil, nil, err
	}
	t.logger.Info("final model fitted",
		zap.String("version", model.ShortVersion()),
		zap.Int("rows", len(train)),
		zap.Int("width", model.Width()),
		zap.Int("vocabulary", model.Vectorizer.Width()),
		zap.Int("max_tree_depth", model.Forest.MaxTreeDepth()))
	return model, search, nil
}
