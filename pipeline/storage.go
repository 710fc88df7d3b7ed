package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"btcsignal/market"

	_ "github.com/mattn/go-sqlite3"
)

const dateFormat = "2006-01-02"

// StorageConfig 存储配置
type StorageConfig struct {
	DBPath    string `json:"db_path"`
	EnableWAL bool   `json:"enable_wal"`
}

// DailyArchive 聚合结果的 SQLite 归档，避免每次重新读取大体量社交数据
type DailyArchive struct {
	config StorageConfig
	db     *sql.DB
}

// NewDailyArchive 打开（必要时创建）归档库
func NewDailyArchive(config StorageConfig) (*DailyArchive, error) {
	archive := &DailyArchive{config: config}
	if err := archive.initDB(); err != nil {
		return nil, err
	}
	return archive, nil
}

// initDB 初始化数据库
func (a *DailyArchive) initDB() error {
	if dir := filepath.Dir(a.config.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create archive dir: %w", err)
		}
	}

	dsn := a.config.DBPath
	if a.config.EnableWAL {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	} else {
		dsn += "?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("open database failed: %w", err)
	}
	db.SetMaxOpenConns(1)
	a.db = db

	if err := a.createTables(); err != nil {
		db.Close()
		return fmt.Errorf("create tables failed: %w", err)
	}
	return nil
}

// createTables 创建表
func (a *DailyArchive) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS daily_text (
            date TEXT PRIMARY KEY,
            text TEXT NOT NULL,
            message_count INTEGER NOT NULL,
            tweet_count INTEGER NOT NULL,
            news_count INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS daily_market (
            date TEXT PRIMARY KEY,
            open REAL NOT NULL,
            high REAL NOT NULL,
            low REAL NOT NULL,
            close REAL NOT NULL,
            volume REAL NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS ingestion_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            stats TEXT NOT NULL,
            created_at INTEGER DEFAULT (strftime('%s', 'now'))
        )`,
	}
	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("exec query failed: %w", err)
		}
	}
	return nil
}

// SaveDailyText 用 records 替换存档中的全部聚合文本
func (a *DailyArchive) SaveDailyText(ctx context.Context, records []DailyText) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 存档是最近一次 aggregate 的快照，旧日期不保留
	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_text`); err != nil {
		return fmt.Errorf("clear daily text: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO daily_text
        (date, text, message_count, tweet_count, news_count) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Date.Format(dateFormat), r.Text, r.MessageCount, r.TweetCount, r.NewsCount); err != nil {
			return fmt.Errorf("insert daily text %s: %w", r.Date.Format(dateFormat), err)
		}
	}
	return tx.Commit()
}

// SaveDailyMarket 用 records 替换存档中的全部行情
func (a *DailyArchive) SaveDailyMarket(ctx context.Context, records []market.DailyRecord) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_market`); err != nil {
		return fmt.Errorf("clear daily market: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO daily_market
        (date, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Date.Format(dateFormat), r.Open, r.High, r.Low, r.Close, r.Volume); err != nil {
			return fmt.Errorf("insert daily market %s: %w", r.Date.Format(dateFormat), err)
		}
	}
	return tx.Commit()
}

// LoadDailyText 读取 [start, end] 的聚合文本；缺失的日期补空记录
func (a *DailyArchive) LoadDailyText(ctx context.Context, start, end time.Time) ([]DailyText, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT date, text, message_count, tweet_count, news_count
        FROM daily_text WHERE date >= ? AND date <= ? ORDER BY date`,
		start.Format(dateFormat), end.Format(dateFormat))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stored := make(map[time.Time]DailyText)
	for rows.Next() {
		var r DailyText
		var date string
		if err := rows.Scan(&date, &r.Text, &r.MessageCount, &r.TweetCount, &r.NewsCount); err != nil {
			return nil, err
		}
		r.Date, err = time.Parse(dateFormat, date)
		if err != nil {
			return nil, fmt.Errorf("bad archived date %q: %w", date, err)
		}
		stored[r.Date] = r
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []DailyText
	for day := market.Day(start, time.UTC); !day.After(end); day = day.AddDate(0, 0, 1) {
		if r, ok := stored[day]; ok {
			out = append(out, r)
			continue
		}
		out = append(out, DailyText{Date: day})
	}
	return out, nil
}

// LoadDailyMarket 读取全部行情，按日期升序
func (a *DailyArchive) LoadDailyMarket(ctx context.Context) ([]market.DailyRecord, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT date, open, high, low, close, volume FROM daily_market ORDER BY date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []market.DailyRecord
	for rows.Next() {
		var r market.DailyRecord
		var date string
		if err := rows.Scan(&date, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume); err != nil {
			return nil, err
		}
		r.Date, err = time.Parse(dateFormat, date)
		if err != nil {
			return nil, fmt.Errorf("bad archived date %q: %w", date, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveIngestionStats 记录一次摄取的统计
func (a *DailyArchive) SaveIngestionStats(ctx context.Context, stats IngestionStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `INSERT INTO ingestion_log (stats) VALUES (?)`, string(payload))
	return err
}

// Close 关闭数据库
func (a *DailyArchive) Close() error {
	return a.db.Close()
}
