package experiment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"btcsignal/db"
	"btcsignal/ml"
	"btcsignal/monitoring"
)

// Forecast 最新日期的次日方向
type Forecast struct {
	ModelVersion string    `json:"model_version"`
	Date         time.Time `json:"date"`
	Probability  float64   `json:"probability"`
	Label        int       `json:"label"`
}

func (f Forecast) String() string {
	direction := "down"
	if f.Label == ml.LabelUp {
		direction = "up"
	}
	return fmt.Sprintf("%s: P(up next day)=%.4f -> %s (model %.12s)",
		f.Date.Format("2006-01-02"), f.Probability, direction, f.ModelVersion)
}

// Predict 用 bundle 自带的特征配置重建特征，对最后一个完整日期打分
func (r *Runner) Predict(ctx context.Context, model *ml.TrainedModel, daily *Daily, store bool) (*Forecast, error) {
	spec := model.FeatureSpec
	frame, err := ml.BuildFrame(daily.Bars, daily.Texts, spec.Config, r.analyzer)
	if err != nil {
		return nil, stageErr(monitoring.StageFeatures, err)
	}

	last := frame.Len() - 1
	row, ok, err := frame.RowAt(last, spec.NumericNames, spec.Config.TextLags)
	if err != nil {
		return nil, stageErr(monitoring.StageFeatures, err)
	}
	if !ok {
		return nil, stageErr(monitoring.StageFeatures, fmt.Errorf("%w: latest date %s has incomplete features",
			ml.ErrInsufficientData, frame.Dates[last].Format("2006-01-02")))
	}

	probs, err := model.PredictProba([]ml.Row{row})
	if err != nil {
		return nil, stageErr(monitoring.StagePrediction, err)
	}
	labels, err := model.Predict([]ml.Row{row})
	if err != nil {
		return nil, stageErr(monitoring.StagePrediction, err)
	}
	forecast := &Forecast{
		ModelVersion: model.Version,
		Date:         row.Date,
		Probability:  probs[0],
		Label:        labels[0],
	}
	r.logger.Info("forecast",
		zap.String("version", model.ShortVersion()),
		zap.Time("date", forecast.Date),
		zap.Float64("probability", forecast.Probability),
		zap.Int("label", forecast.Label))

	if store {
		ledger, err := db.Open(r.cfg.Storage.DBPath)
		if err != nil {
			return nil, stageErr(monitoring.StagePrediction, err)
		}
		defer ledger.Close()
		if err := ledger.SavePredictions(ctx, []db.Prediction{{
			ModelVersion: forecast.ModelVersion,
			Date:         forecast.Date,
			Probability:  forecast.Probability,
			Label:        forecast.Label,
		}}); err != nil {
			return nil, stageErr(monitoring.StagePrediction, err)
		}
	}
	return forecast, nil
}
