package ml

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"btcsignal/nlp"
)

// TrainedModel bundles every fitted transform with the forest. It is read-only
// after training.
type TrainedModel struct {
	Version          string          `json:"version"`
	FeatureSpec      FeatureSpec     `json:"feature_spec"`
	Params           ForestParams    `json:"params"`
	Seed             int64           `json:"seed"`
	TrainStart       time.Time       `json:"train_start"`
	TrainEnd         time.Time       `json:"train_end"`
	TrainClassCounts [2]int          `json:"train_class_counts"`
	MaxDenseCells    int64           `json:"max_dense_cells"`
	Vectorizer       *nlp.Vectorizer `json:"vectorizer"`
	Scaler           *MinMaxScaler   `json:"scaler"`
	Forest           *RandomForest   `json:"forest"`
}

// BundleOptions controls how a bundle is fitted.
type BundleOptions struct {
	Params          ForestParams
	Seed            int64
	MaxVocabulary   int
	MinDocFrequency int
	MaxDenseCells   int64
}

// FitBundle fits the vectorizer, scaler and forest on rows, none of which may
// be dated after boundary.
func FitBundle(rows []Row, boundary time.Time, spec FeatureSpec, opts BundleOptions) (*TrainedModel, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no training rows", ErrInsufficientData)
	}
	for _, r := range rows {
		if r.Date.After(boundary) {
			return nil, fmt.Errorf("%w: row %s after boundary %s", ErrLeakage,
				r.Date.Format("2006-01-02"), boundary.Format("2006-01-02"))
		}
	}

	docs := make([]string, len(rows))
	numeric := make([][]float64, len(rows))
	for i, r := range rows {
		if len(r.Texts) == 0 {
			return nil, fmt.Errorf("%w: row %s has no text", ErrAlignment, r.Date.Format("2006-01-02"))
		}
		docs[i] = r.Texts[0]
		numeric[i] = r.Numeric
	}

	model := &TrainedModel{
		FeatureSpec:      spec,
		Params:           opts.Params,
		Seed:             opts.Seed,
		TrainStart:       rows[0].Date,
		TrainEnd:         LastDate(rows),
		TrainClassCounts: ClassCounts(rows),
		MaxDenseCells:    opts.MaxDenseCells,
		Vectorizer:       nlp.NewVectorizer(opts.MaxVocabulary, opts.MinDocFrequency),
		Scaler:           &MinMaxScaler{},
		Forest:           NewRandomForest(opts.Params, opts.Seed),
	}
	if err := model.Vectorizer.Fit(docs); err != nil {
		return nil, err
	}
	if err := model.Scaler.Fit(numeric); err != nil {
		return nil, err
	}

	matrix, err := model.Matrix(rows)
	if err != nil {
		return nil, err
	}
	if err := model.Forest.Train(matrix, Labels(rows)); err != nil {
		return nil, err
	}

	model.Version, err = model.digest()
	if err != nil {
		return nil, err
	}
	return model, nil
}

// Width is the design matrix width: scaled numeric columns followed by one
// tf-idf block per text slot.
func (m *TrainedModel) Width() int {
	return len(m.FeatureSpec.NumericNames) + (1+len(m.FeatureSpec.Config.TextLags))*m.Vectorizer.Width()
}

// Matrix densifies rows with the fitted transforms.
func (m *TrainedModel) Matrix(rows []Row) ([][]float64, error) {
	width := m.Width()
	if m.MaxDenseCells > 0 && int64(len(rows))*int64(width) > m.MaxDenseCells {
		return nil, fmt.Errorf("%w: %d rows x %d columns > %d", ErrDenseLimit, len(rows), width, m.MaxDenseCells)
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		vec, err := m.vector(r, width)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (m *TrainedModel) vector(r Row, width int) ([]float64, error) {
	slots := 1 + len(m.FeatureSpec.Config.TextLags)
	if len(r.Texts) != slots {
		return nil, fmt.Errorf("%w: row %s has %d texts, expected %d", ErrAlignment, r.Date.Format("2006-01-02"), len(r.Texts), slots)
	}
	vec := make([]float64, width)
	numeric := len(m.FeatureSpec.NumericNames)
	if err := m.Scaler.TransformInto(vec[:numeric], r.Numeric); err != nil {
		return nil, err
	}
	vocab := m.Vectorizer.Width()
	for s, text := range r.Texts {
		offset := numeric + s*vocab
		m.Vectorizer.Transform(text).DenseInto(vec[offset : offset+vocab])
	}
	return vec, nil
}

// PredictProba returns P(LabelUp) for each row.
func (m *TrainedModel) PredictProba(rows []Row) ([]float64, error) {
	matrix, err := m.Matrix(rows)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(rows))
	for i, x := range matrix {
		out[i], err = m.Forest.PredictProba(x)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Predict returns labels for each row.
func (m *TrainedModel) Predict(rows []Row) ([]int, error) {
	probs, err := m.PredictProba(rows)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(probs))
	for i, p := range probs {
		labels[i], _ = decide(p)
	}
	return labels, nil
}

// digest hashes the bundle content with the version field cleared.
func (m *TrainedModel) digest() (string, error) {
	clone := *m
	clone.Version = ""
	payload, err := json.Marshal(&clone)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// ShortVersion is the first 12 hex digits of Version.
func (m *TrainedModel) ShortVersion() string {
	if len(m.Version) < 12 {
		return m.Version
	}
	return m.Version[:12]
}

func (m *TrainedModel) Save(path string) error {
	if m.Forest == nil || len(m.Forest.Estimators) == 0 {
		return ErrNotTrained
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

// LoadTrainedModel reads a bundle and checks its version against its content.
func LoadTrainedModel(path string) (*TrainedModel, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m TrainedModel
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", path, err)
	}
	if m.Vectorizer == nil || !m.Vectorizer.Fitted() || m.Scaler == nil || !m.Scaler.Fitted() ||
		m.Forest == nil || len(m.Forest.Estimators) == 0 {
		return nil, errors.New("bundle is missing a fitted component")
	}
	digest, err := m.digest()
	if err != nil {
		return nil, err
	}
	if digest != m.Version {
		return nil, fmt.Errorf("bundle %s: version %s does not match content", path, m.ShortVersion())
	}
	return &m, nil
}
