package engine

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// RiskConfig holds the percentage limits of the risk manager
type RiskConfig struct {
	MaxPositionSizePct float64 `yaml:"max_position_size_pct" json:"max_position_size_pct"`
	StopLossPct        float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct      float64 `yaml:"take_profit_pct" json:"take_profit_pct"`
	MaxDailyLossPct    float64 `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"`
}

func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxPositionSizePct: 2.0,
		StopLossPct:        1.0,
		TakeProfitPct:      2.0,
		MaxDailyLossPct:    5.0,
	}
}

// Validate requires every limit to be positive and the position size to be
// at most the whole balance
func (c RiskConfig) Validate() error {
	switch {
	case c.MaxPositionSizePct <= 0 || c.MaxPositionSizePct > 100:
		return ErrInvalidParameter.WithDetails(fmt.Sprintf("max_position_size_pct must be in (0, 100], got %v", c.MaxPositionSizePct))
	case c.StopLossPct <= 0:
		return ErrInvalidParameter.WithDetails(fmt.Sprintf("stop_loss_pct must be positive, got %v", c.StopLossPct))
	case c.TakeProfitPct <= 0:
		return ErrInvalidParameter.WithDetails(fmt.Sprintf("take_profit_pct must be positive, got %v", c.TakeProfitPct))
	case c.MaxDailyLossPct <= 0:
		return ErrInvalidParameter.WithDetails(fmt.Sprintf("max_daily_loss_pct must be positive, got %v", c.MaxDailyLossPct))
	}
	return nil
}

// RiskSnapshot is a point-in-time view of the risk state
type RiskSnapshot struct {
	DailyPnLPct   float64 `json:"daily_pnl_pct"`
	TradesToday   int     `json:"trades_today"`
	CanTrade      bool    `json:"can_trade"`
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
}

// RiskManager sizes positions, evaluates stop-loss / take-profit and keeps a
// daily P&L circuit breaker. The daily accumulator is a sum of trade
// percentage returns and resets when the clock crosses a UTC midnight.
type RiskManager struct {
	cfg    RiskConfig
	logger *zap.Logger
	now    func() time.Time

	day         time.Time
	dailyPnL    float64
	tradesToday int
}

// NewRiskManager creates a risk manager using the wall clock
func NewRiskManager(cfg RiskConfig, logger *zap.Logger) *RiskManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &RiskManager{cfg: cfg, logger: logger, now: time.Now}
	r.day = utcDay(r.now())
	return r
}

// WithClock replaces the wall clock. The backtest drives it from bar times.
func (r *RiskManager) WithClock(now func() time.Time) *RiskManager {
	r.now = now
	r.day = utcDay(now())
	return r
}

func (r *RiskManager) Config() RiskConfig { return r.cfg }

// CalculatePositionSize returns the quantity worth MaxPositionSizePct of balance
func (r *RiskManager) CalculatePositionSize(balance, price float64) float64 {
	if price <= 0 {
		return 0
	}
	maxRisk := balance * (r.cfg.MaxPositionSizePct / 100)
	qty := maxRisk / price
	r.logger.Info("Risk-adjusted position size",
		zap.Float64("quantity", qty),
		zap.Float64("max_risk", maxRisk),
	)
	return qty
}

func (r *RiskManager) CheckStopLoss(entry, current float64, side Side) bool {
	lossPct := (entry - current) / entry * 100
	if side == SideShort {
		lossPct = (current - entry) / entry * 100
	}
	if lossPct >= r.cfg.StopLossPct {
		r.logger.Warn("Stop loss triggered", zap.Float64("loss_pct", lossPct))
		return true
	}
	return false
}

func (r *RiskManager) CheckTakeProfit(entry, current float64, side Side) bool {
	profitPct := (current - entry) / entry * 100
	if side == SideShort {
		profitPct = (entry - current) / entry * 100
	}
	if profitPct >= r.cfg.TakeProfitPct {
		r.logger.Info("Take profit triggered", zap.Float64("profit_pct", profitPct))
		return true
	}
	return false
}

// CanTrade is false once |daily P&L %| reaches MaxDailyLossPct for the
// current UTC day.
func (r *RiskManager) CanTrade() bool {
	r.rollover()
	if math.Abs(r.dailyPnL) >= r.cfg.MaxDailyLossPct {
		r.logger.Warn("Daily loss limit reached", zap.Float64("daily_pnl_pct", r.dailyPnL))
		return false
	}
	return true
}

// RecordTrade adds a closed trade's percentage return to the daily total
func (r *RiskManager) RecordTrade(pnlPct float64) {
	r.rollover()
	r.dailyPnL += pnlPct
	r.tradesToday++
	r.logger.Info("Trade recorded",
		zap.Float64("daily_pnl_pct", r.dailyPnL),
		zap.Int("trades_today", r.tradesToday),
	)
}

func (r *RiskManager) Metrics() RiskSnapshot {
	r.rollover()
	return RiskSnapshot{
		DailyPnLPct:   r.dailyPnL,
		TradesToday:   r.tradesToday,
		CanTrade:      math.Abs(r.dailyPnL) < r.cfg.MaxDailyLossPct,
		StopLossPct:   r.cfg.StopLossPct,
		TakeProfitPct: r.cfg.TakeProfitPct,
	}
}

func (r *RiskManager) rollover() {
	today := utcDay(r.now())
	if today.After(r.day) {
		if r.tradesToday > 0 || r.dailyPnL != 0 {
			r.logger.Info("Daily risk counters reset",
				zap.Time("previous_day", r.day),
				zap.Float64("daily_pnl_pct", r.dailyPnL),
			)
		}
		r.day = today
		r.dailyPnL = 0
		r.tradesToday = 0
	}
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
