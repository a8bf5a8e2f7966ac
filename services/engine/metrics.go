package engine

import (
	"encoding/json"
	"math"
	"strconv"
)

// Ratio is a float that may be +Inf. JSON has no infinity so it is written
// as the string "inf".
type Ratio float64

func (r Ratio) IsInf() bool { return math.IsInf(float64(r), 1) }

func (r Ratio) MarshalJSON() ([]byte, error) {
	if r.IsInf() {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(float64(r))
}

func (r *Ratio) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "inf" || s == "Infinity" {
			*r = Ratio(math.Inf(1))
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*r = Ratio(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = Ratio(v)
	return nil
}

// Summary holds the headline figures of a run
type Summary struct {
	TotalTrades    int     `json:"total_trades"`
	WinRate        float64 `json:"win_rate"`
	TotalPnL       float64 `json:"total_pnl"`
	TotalReturnPct float64 `json:"total_return_pct"`
	FinalBalance   float64 `json:"final_balance"`
}

// RiskMetrics holds the return-based risk figures of a run
type RiskMetrics struct {
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	Volatility     float64 `json:"volatility"`
}

// TradeAnalysis breaks the closed trades down by outcome
type TradeAnalysis struct {
	AvgWin             float64 `json:"avg_win"`
	AvgLoss            float64 `json:"avg_loss"`
	ProfitFactor       Ratio   `json:"profit_factor"`
	AvgDurationMinutes float64 `json:"avg_duration_minutes"`
	WinningTrades      int     `json:"winning_trades"`
	LosingTrades       int     `json:"losing_trades"`
}

// Metrics are unrounded; rounding happens when the report is rendered
type Metrics struct {
	Summary       Summary       `json:"summary"`
	RiskMetrics   RiskMetrics   `json:"risk_metrics"`
	TradeAnalysis TradeAnalysis `json:"trade_analysis"`
}

// ComputeMetrics is a pure function of its inputs. A trade with pnl > 0 is
// a win, everything else a loss.
func ComputeMetrics(initialBalance, finalBalance float64, trades []BacktestTrade, curve []EquityPoint) (Metrics, error) {
	if len(trades) == 0 {
		return Metrics{}, ErrNoTrades
	}

	var wins, losses, returns, durations []float64
	total := 0.0
	for _, t := range trades {
		total += t.PnL
		returns = append(returns, t.PnLPct)
		durations = append(durations, float64(t.DurationMinutes))
		if t.PnL > 0 {
			wins = append(wins, t.PnL)
		} else {
			losses = append(losses, t.PnL)
		}
	}

	totalReturn := 0.0
	if initialBalance != 0 {
		totalReturn = (finalBalance/initialBalance - 1) * 100
	}

	avgReturn := mean(returns)
	stdev := popStdev(returns, avgReturn)
	sharpe := 0.0
	if stdev > 0 {
		sharpe = avgReturn / stdev
	}

	avgWin := mean(wins)
	avgLoss := mean(losses)
	profitFactor := Ratio(math.Inf(1))
	if avgLoss != 0 {
		profitFactor = Ratio(math.Abs(avgWin / avgLoss))
	}

	return Metrics{
		Summary: Summary{
			TotalTrades:    len(trades),
			WinRate:        float64(len(wins)) / float64(len(trades)) * 100,
			TotalPnL:       total,
			TotalReturnPct: totalReturn,
			FinalBalance:   finalBalance,
		},
		RiskMetrics: RiskMetrics{
			SharpeRatio:    sharpe,
			MaxDrawdownPct: MaxDrawdown(curve),
			Volatility:     stdev,
		},
		TradeAnalysis: TradeAnalysis{
			AvgWin:             avgWin,
			AvgLoss:            avgLoss,
			ProfitFactor:       profitFactor,
			AvgDurationMinutes: mean(durations),
			WinningTrades:      len(wins),
			LosingTrades:       len(losses),
		},
	}, nil
}

// MaxDrawdown is the largest (peak-value)/peak*100 over the curve, starting
// from its first point
func MaxDrawdown(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Value
	maxDD := 0.0
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Value) / peak * 100; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func popStdev(values []float64, mu float64) float64 {
	if len(values) == 0 {
		return 0
	}
	// identical values would otherwise leave rounding noise from the mean
	flat := true
	for _, v := range values[1:] {
		if v != values[0] {
			flat = false
			break
		}
	}
	if flat {
		return 0
	}
	ss := 0.0
	for _, v := range values {
		d := v - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}
