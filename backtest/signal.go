package backtest

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"btcsignal/ml"
)

// Config 回测配置
type Config struct {
	// Commission 每次开仓或平仓的费率
	Commission float64 `yaml:"commission" default:"0.001" validate:"gte=0,lt=1"`
	// PeriodsPerYear 年化周期数，加密货币按自然日
	PeriodsPerYear int `yaml:"periods_per_year" default:"365" validate:"gte=1"`
}

// Summary 回测摘要
type Summary struct {
	Days             int     `json:"days"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Trades           int     `json:"trades"`
	LongDays         int     `json:"long_days"`
	WinningDays      int     `json:"winning_days"`
	WinRate          float64 `json:"win_rate"`
	Exposure         float64 `json:"exposure"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	Commissions      float64 `json:"commissions"`
}

// EquityPoint 权益点，Value 从 1 开始
type EquityPoint struct {
	Date     time.Time `json:"date"`
	Value    float64   `json:"value"`
	Drawdown float64   `json:"drawdown"`
}

// Results 策略与买入持有基准
type Results struct {
	Strategy    Summary       `json:"strategy"`
	Benchmark   Summary       `json:"benchmark"`
	EquityCurve []EquityPoint `json:"equity_curve"`
}

// Run 回放预测信号：预测上涨的日期持有到次日收盘，否则空仓。
// rows 的 NextReturn 是该日期到次日的实际收益
func Run(rows []ml.Row, predicted []int, cfg Config) (*Results, error) {
	if len(rows) == 0 {
		return nil, errors.New("no rows to backtest")
	}
	if len(predicted) != len(rows) {
		return nil, fmt.Errorf("%w: %d predictions for %d rows", ml.ErrAlignment, len(predicted), len(rows))
	}
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = 365
	}

	strategyReturns := make([]float64, len(rows))
	benchmarkReturns := make([]float64, len(rows))
	results := &Results{EquityCurve: make([]EquityPoint, 0, len(rows))}
	s := &results.Strategy

	equity, peak := 1.0, 1.0
	position := 0
	for i, row := range rows {
		if math.IsNaN(row.NextReturn) {
			return nil, fmt.Errorf("row %s has no next-day return", row.Date.Format("2006-01-02"))
		}
		target := 0
		if predicted[i] == ml.LabelUp {
			target = 1
		}

		r := 0.0
		if target != position {
			r -= cfg.Commission
			s.Commissions += cfg.Commission * equity
			if target == 1 {
				s.Trades++
			}
			position = target
		}
		if position == 1 {
			r += row.NextReturn
			s.LongDays++
			if row.NextReturn > 0 {
				s.WinningDays++
			}
		}
		strategyReturns[i] = r
		benchmarkReturns[i] = row.NextReturn

		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		results.EquityCurve = append(results.EquityCurve, EquityPoint{
			Date:     row.Date,
			Value:    equity,
			Drawdown: (peak - equity) / peak,
		})
	}

	summarize(s, strategyReturns, cfg.PeriodsPerYear)
	if s.LongDays > 0 {
		s.WinRate = float64(s.WinningDays) / float64(s.LongDays)
	}
	s.Exposure = float64(s.LongDays) / float64(len(rows))

	b := &results.Benchmark
	summarize(b, benchmarkReturns, cfg.PeriodsPerYear)
	b.Trades = 1
	b.LongDays = len(rows)
	for _, r := range benchmarkReturns {
		if r > 0 {
			b.WinningDays++
		}
	}
	b.WinRate = float64(b.WinningDays) / float64(len(rows))
	b.Exposure = 1
	return results, nil
}

// summarize 计算收益、年化、夏普、最大回撤、卡尔玛
func summarize(s *Summary, returns []float64, periodsPerYear int) {
	s.Days = len(returns)

	equity, peak := 1.0, 1.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
		}
	}
	s.TotalReturn = equity - 1
	if s.Days > 0 && equity > 0 {
		s.AnnualizedReturn = math.Pow(equity, float64(periodsPerYear)/float64(s.Days)) - 1
	}

	if len(returns) >= 2 {
		var sum float64
		for _, r := range returns {
			sum += r
		}
		mean := sum / float64(len(returns))
		var variance float64
		for _, r := range returns {
			diff := r - mean
			variance += diff * diff
		}
		variance /= float64(len(returns) - 1)
		if std := math.Sqrt(variance); std > 0 {
			s.SharpeRatio = mean / std * math.Sqrt(float64(periodsPerYear))
		}
	}

	if s.MaxDrawdown > 0 {
		s.CalmarRatio = s.AnnualizedReturn / s.MaxDrawdown
	}
}

func (r *Results) String() string {
	var b strings.Builder
	b.WriteString("\n            return   sharpe  max_dd  win_rate  exposure  trades\n")
	for _, row := range []struct {
		name string
		s    Summary
	}{{"signal", r.Strategy}, {"buy&hold", r.Benchmark}} {
		fmt.Fprintf(&b, "%-10s %7.2f%% %7.2f %6.2f%% %8.2f%% %8.2f%% %7d\n",
			row.name, row.s.TotalReturn*100, row.s.SharpeRatio, row.s.MaxDrawdown*100,
			row.s.WinRate*100, row.s.Exposure*100, row.s.Trades)
	}
	return b.String()
}
