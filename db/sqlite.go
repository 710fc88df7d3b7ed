package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"btcsignal/ml"

	_ "github.com/mattn/go-sqlite3"
)

// Ledger records every training run and every stored prediction.
type Ledger struct {
	database *sql.DB
}

// Open initializes the SQLite ledger at path
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS runs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_version TEXT NOT NULL,
        seed INTEGER NOT NULL,
        params TEXT NOT NULL,
        scoring TEXT NOT NULL,
        cv_score REAL,
        accuracy REAL,
        balanced_accuracy REAL,
        macro_f1 REAL,
        baseline_accuracy REAL,
        train_rows INTEGER,
        test_rows INTEGER,
        threshold REAL,
        sample_rate REAL,
        bundle_path TEXT,
        started_at DATETIME NOT NULL,
        finished_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_version TEXT NOT NULL,
        date TEXT NOT NULL,
        probability REAL NOT NULL,
        predicted_label INTEGER NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        UNIQUE(model_version, date)
    );
    `
	if _, err := database.Exec(query); err != nil {
		database.Close()
		return nil, fmt.Errorf("create ledger tables: %w", err)
	}
	return &Ledger{database: database}, nil
}

func (l *Ledger) Close() error {
	return l.database.Close()
}

// Run is one ledger row.
type Run struct {
	ID               int64           `json:"id"`
	ModelVersion     string          `json:"model_version"`
	Seed             int64           `json:"seed"`
	Params           ml.ForestParams `json:"params"`
	Scoring          string          `json:"scoring"`
	CVScore          float64         `json:"cv_score"`
	Accuracy         float64         `json:"accuracy"`
	BalancedAccuracy float64         `json:"balanced_accuracy"`
	MacroF1          float64         `json:"macro_f1"`
	BaselineAccuracy float64         `json:"baseline_accuracy"`
	TrainRows        int             `json:"train_rows"`
	TestRows         int             `json:"test_rows"`
	Threshold        float64         `json:"threshold"`
	SampleRate       float64         `json:"sample_rate"`
	BundlePath       string          `json:"bundle_path"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
}

// SaveRun inserts a run and returns its id.
func (l *Ledger) SaveRun(ctx context.Context, run Run) (int64, error) {
	if run.ModelVersion == "" {
		return 0, errors.New("model version required")
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return 0, err
	}
	res, err := l.database.ExecContext(ctx, `
        INSERT INTO runs (
            model_version, seed, params, scoring, cv_score, accuracy, balanced_accuracy,
            macro_f1, baseline_accuracy, train_rows, test_rows, threshold, sample_rate,
            bundle_path, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ModelVersion, run.Seed, string(params), run.Scoring, run.CVScore, run.Accuracy,
		run.BalancedAccuracy, run.MacroF1, run.BaselineAccuracy, run.TrainRows, run.TestRows,
		run.Threshold, run.SampleRate, run.BundlePath, run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListRuns returns the most recent runs first.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.database.QueryContext(ctx, `
        SELECT id, model_version, seed, params, scoring, cv_score, accuracy, balanced_accuracy,
               macro_f1, baseline_accuracy, train_rows, test_rows, threshold, sample_rate,
               bundle_path, started_at, finished_at
        FROM runs
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		var run Run
		var params string
		if err := rows.Scan(&run.ID, &run.ModelVersion, &run.Seed, &params, &run.Scoring, &run.CVScore,
			&run.Accuracy, &run.BalancedAccuracy, &run.MacroF1, &run.BaselineAccuracy, &run.TrainRows,
			&run.TestRows, &run.Threshold, &run.SampleRate, &run.BundlePath, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
			return nil, fmt.Errorf("run %d params: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Prediction is a stored next-day call for one date.
type Prediction struct {
	ModelVersion string    `json:"model_version"`
	Date         time.Time `json:"date"`
	Probability  float64   `json:"probability"`
	Label        int       `json:"label"`
}

// SavePredictions upserts predictions keyed by model version and date.
func (l *Ledger) SavePredictions(ctx context.Context, predictions []Prediction) error {
	if len(predictions) == 0 {
		return nil
	}
	tx, err := l.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
        INSERT OR REPLACE INTO predictions (model_version, date, probability, predicted_label)
        VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range predictions {
		if _, err := stmt.ExecContext(ctx, p.ModelVersion, p.Date.Format("2006-01-02"), p.Probability, p.Label); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LoadPredictions returns stored predictions for a model version, oldest first.
func (l *Ledger) LoadPredictions(ctx context.Context, modelVersion string) ([]Prediction, error) {
	rows, err := l.database.QueryContext(ctx, `
        SELECT model_version, date, probability, predicted_label
        FROM predictions
        WHERE model_version = ?
        ORDER BY date`, modelVersion)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var p Prediction
		var date string
		if err := rows.Scan(&p.ModelVersion, &date, &p.Probability, &p.Label); err != nil {
			return nil, err
		}
		if p.Date, err = time.Parse("2006-01-02", date); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
