package ml

import (
	"fmt"
	"strings"
)

// Scoring metrics accepted by the grid search.
const (
	ScoreF1Macro          = "f1_macro"
	ScoreAccuracy         = "accuracy"
	ScoreBalancedAccuracy = "balanced_accuracy"
)

// ClassMetrics holds per-class precision, recall and F1.
type ClassMetrics struct {
	Label     int     `json:"label"`
	Name      string  `json:"name"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ConfusionMatrix is indexed [actual][predicted].
type ConfusionMatrix [2][2]int

func NewConfusionMatrix(actual, predicted []int) (ConfusionMatrix, error) {
	var cm ConfusionMatrix
	if len(actual) != len(predicted) {
		return cm, fmt.Errorf("%w: %d labels, %d predictions", ErrAlignment, len(actual), len(predicted))
	}
	for i := range actual {
		if !binary(actual[i]) || !binary(predicted[i]) {
			return cm, fmt.Errorf("non-binary label at %d", i)
		}
		cm[actual[i]][predicted[i]]++
	}
	return cm, nil
}

func (cm ConfusionMatrix) Total() int {
	return cm[0][0] + cm[0][1] + cm[1][0] + cm[1][1]
}

func (cm ConfusionMatrix) Accuracy() float64 {
	total := cm.Total()
	if total == 0 {
		return 0
	}
	return float64(cm[0][0]+cm[1][1]) / float64(total)
}

// Class computes precision, recall and F1 for one label. Undefined ratios are 0.
func (cm ConfusionMatrix) Class(label int) ClassMetrics {
	other := 1 - label
	tp := cm[label][label]
	fp := cm[other][label]
	fn := cm[label][other]
	m := ClassMetrics{Label: label, Name: labelName(label), Support: tp + fn}
	m.Precision = ratio(tp, tp+fp)
	m.Recall = ratio(tp, tp+fn)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

// BalancedAccuracy averages recall over classes present in the actual labels.
func (cm ConfusionMatrix) BalancedAccuracy() float64 {
	sum, classes := 0.0, 0
	for label := 0; label < 2; label++ {
		c := cm.Class(label)
		if c.Support == 0 {
			continue
		}
		sum += c.Recall
		classes++
	}
	if classes == 0 {
		return 0
	}
	return sum / float64(classes)
}

// MacroF1 averages F1 over classes that appear as actual or predicted labels.
func (cm ConfusionMatrix) MacroF1() float64 {
	sum, classes := 0.0, 0
	for label := 0; label < 2; label++ {
		predicted := cm[0][label] + cm[1][label]
		c := cm.Class(label)
		if c.Support == 0 && predicted == 0 {
			continue
		}
		sum += c.F1
		classes++
	}
	if classes == 0 {
		return 0
	}
	return sum / float64(classes)
}

// Score evaluates predictions with the named metric.
func Score(metric string, actual, predicted []int) (float64, error) {
	cm, err := NewConfusionMatrix(actual, predicted)
	if err != nil {
		return 0, err
	}
	switch metric {
	case ScoreF1Macro, "":
		return cm.MacroF1(), nil
	case ScoreAccuracy:
		return cm.Accuracy(), nil
	case ScoreBalancedAccuracy:
		return cm.BalancedAccuracy(), nil
	default:
		return 0, fmt.Errorf("unknown scoring metric %q", metric)
	}
}

// Report summarises hold-out performance.
type Report struct {
	ModelVersion     string          `json:"model_version"`
	Params           ForestParams    `json:"params"`
	TestRows         int             `json:"test_rows"`
	TestStart        string          `json:"test_start"`
	TestEnd          string          `json:"test_end"`
	Accuracy         float64         `json:"accuracy"`
	BalancedAccuracy float64         `json:"balanced_accuracy"`
	MacroF1          float64         `json:"macro_f1"`
	Classes          []ClassMetrics  `json:"classes"`
	Confusion        ConfusionMatrix `json:"confusion"`
	BaselineLabel    int             `json:"baseline_label"`
	BaselineAccuracy float64         `json:"baseline_accuracy"`
	TrainClassCounts [2]int          `json:"train_class_counts"`
	TestClassCounts  [2]int          `json:"test_class_counts"`
	LabelStats       *LabelStats     `json:"label_stats,omitempty"`
	CVScore          float64         `json:"cv_score"`
	Scoring          string          `json:"scoring"`
}

// Evaluate scores a fitted bundle on later rows using its stored transforms.
func Evaluate(model *TrainedModel, test []Row) (*Report, error) {
	if len(test) == 0 {
		return nil, fmt.Errorf("%w: empty test set", ErrInsufficientData)
	}
	for _, r := range test {
		if !r.Date.After(model.TrainEnd) {
			return nil, fmt.Errorf("%w: test row %s not after train end %s", ErrLeakage,
				r.Date.Format("2006-01-02"), model.TrainEnd.Format("2006-01-02"))
		}
	}

	predicted, err := model.Predict(test)
	if err != nil {
		return nil, err
	}
	actual := Labels(test)
	cm, err := NewConfusionMatrix(actual, predicted)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ModelVersion:     model.Version,
		Params:           model.Params,
		TestRows:         len(test),
		TestStart:        test[0].Date.Format("2006-01-02"),
		TestEnd:          LastDate(test).Format("2006-01-02"),
		Accuracy:         cm.Accuracy(),
		BalancedAccuracy: cm.BalancedAccuracy(),
		MacroF1:          cm.MacroF1(),
		Classes:          []ClassMetrics{cm.Class(LabelDown), cm.Class(LabelUp)},
		Confusion:        cm,
		TrainClassCounts: model.TrainClassCounts,
		TestClassCounts:  ClassCounts(test),
	}

	// Majority class of the training rows, ties to LabelDown.
	report.BaselineLabel = LabelDown
	if model.TrainClassCounts[LabelUp] > model.TrainClassCounts[LabelDown] {
		report.BaselineLabel = LabelUp
	}
	report.BaselineAccuracy = float64(report.TestClassCounts[report.BaselineLabel]) / float64(len(test))
	return report, nil
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "model %s (%s)\n", shortHash(r.ModelVersion), r.Params)
	fmt.Fprintf(&b, "test %s .. %s, %d rows\n", r.TestStart, r.TestEnd, r.TestRows)
	fmt.Fprintf(&b, "balanced accuracy  %.4f\n", r.BalancedAccuracy)
	fmt.Fprintf(&b, "macro F1           %.4f\n", r.MacroF1)
	fmt.Fprintf(&b, "accuracy           %.4f (majority baseline %.4f, predicts %s)\n",
		r.Accuracy, r.BaselineAccuracy, labelName(r.BaselineLabel))
	if r.Scoring != "" {
		fmt.Fprintf(&b, "cv %-15s %.4f\n", r.Scoring, r.CVScore)
	}
	b.WriteString("\nclass  precision  recall  f1      support\n")
	for _, c := range r.Classes {
		fmt.Fprintf(&b, "%-5s  %.4f     %.4f  %.4f  %d\n", c.Name, c.Precision, c.Recall, c.F1, c.Support)
	}
	b.WriteString("\nconfusion (rows actual, cols predicted)\n")
	fmt.Fprintf(&b, "       down  up\n")
	fmt.Fprintf(&b, "down   %-5d %d\n", r.Confusion[0][0], r.Confusion[0][1])
	fmt.Fprintf(&b, "up     %-5d %d\n", r.Confusion[1][0], r.Confusion[1][1])
	fmt.Fprintf(&b, "\nclass balance train down=%d up=%d, test down=%d up=%d\n",
		r.TrainClassCounts[0], r.TrainClassCounts[1], r.TestClassCounts[0], r.TestClassCounts[1])
	if r.LabelStats != nil {
		fmt.Fprintf(&b, "labels threshold=%.4f up=%d down=%d ambiguous=%d no_next=%d\n",
			r.LabelStats.Threshold, r.LabelStats.Up, r.LabelStats.Down, r.LabelStats.Ambiguous, r.LabelStats.NoNext)
	}
	return b.String()
}

func labelName(label int) string {
	if label == LabelUp {
		return "up"
	}
	return "down"
}

func binary(label int) bool {
	return label == LabelDown || label == LabelUp
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func shortHash(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return v
}
