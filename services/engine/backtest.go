package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SimulatorConfig controls one historical replay
type SimulatorConfig struct {
	Symbol           string     `yaml:"symbol" json:"symbol"`
	InitialBalance   float64    `yaml:"initial_balance" json:"initial_balance"`
	CommissionRate   float64    `yaml:"commission_rate" json:"commission_rate"`
	SlippagePct      float64    `yaml:"slippage_pct" json:"slippage_pct"`
	WarmupBars       int        `yaml:"warmup_bars" json:"warmup_bars"`
	PositionFraction float64    `yaml:"position_fraction" json:"position_fraction"`
	Risk             RiskConfig `yaml:"risk" json:"risk"`
	// EnforceDailyLoss suppresses new entries while the risk manager's daily
	// loss breaker is tripped.
	EnforceDailyLoss bool `yaml:"enforce_daily_loss" json:"enforce_daily_loss"`
}

func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Symbol:           "BTCUSDT",
		InitialBalance:   10000,
		CommissionRate:   0.001,
		SlippagePct:      0.01,
		WarmupBars:       30,
		PositionFraction: 0.98,
		Risk:             DefaultRiskConfig(),
	}
}

// Validate rejects settings the replay cannot run with. NewSimulator fills
// a zero PositionFraction before this is checked.
func (c SimulatorConfig) Validate() error {
	switch {
	case c.InitialBalance <= 0:
		return ErrInvalidParameter.WithDetails(fmt.Sprintf("initial_balance must be positive, got %v", c.InitialBalance))
	case c.CommissionRate < 0:
		return ErrInvalidParameter.WithDetails(fmt.Sprintf("commission_rate must not be negative, got %v", c.CommissionRate))
	case c.SlippagePct < 0:
		return ErrInvalidParameter.WithDetails(fmt.Sprintf("slippage_pct must not be negative, got %v", c.SlippagePct))
	case c.WarmupBars < 0:
		return ErrInvalidParameter.WithDetails(fmt.Sprintf("warmup_bars must not be negative, got %d", c.WarmupBars))
	case c.PositionFraction < 0 || c.PositionFraction > 1:
		return ErrInvalidParameter.WithDetails(fmt.Sprintf("position_fraction must be in (0, 1], got %v", c.PositionFraction))
	}
	return c.Risk.Validate()
}

// BacktestTrade is a closed simulated trade including commissions
type BacktestTrade struct {
	EntryTime       time.Time `json:"entry_time"`
	ExitTime        time.Time `json:"exit_time"`
	EntryPrice      float64   `json:"entry_price"`
	ExitPrice       float64   `json:"exit_price"`
	Side            Side      `json:"side"`
	Quantity        float64   `json:"quantity"`
	PnL             float64   `json:"pnl"`
	PnLPct          float64   `json:"pnl_pct"`
	DurationMinutes int       `json:"duration_minutes"`
}

// BacktestResult is the outcome of a run with at least one trade
type BacktestResult struct {
	Metrics
	Strategy       string          `json:"strategy"`
	InitialBalance float64         `json:"initial_balance"`
	Risk           RiskSnapshot    `json:"risk"`
	EquityCurve    []EquityPoint   `json:"equity_curve"`
	Trades         []BacktestTrade `json:"all_trades"`
}

// Simulator replays candles bar by bar. It does no I/O and never reads the
// wall clock, so identical inputs give identical results.
type Simulator struct {
	cfg      SimulatorConfig
	logger   *zap.Logger
	fees     FeeModel
	slippage SlippageModel
}

// NewSimulator creates a simulator, filling a zero position fraction with the default
func NewSimulator(cfg SimulatorConfig, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PositionFraction <= 0 {
		cfg.PositionFraction = 0.98
	}
	return &Simulator{
		cfg:      cfg,
		logger:   logger,
		fees:     RateFeeModel{Rate: cfg.CommissionRate},
		slippage: PercentSlippage{Pct: cfg.SlippagePct},
	}
}

func (s *Simulator) Config() SimulatorConfig { return s.cfg }

// RunStrategy builds a registered strategy kind and runs it
func (s *Simulator) RunStrategy(candles []Candle, kind string, params map[string]float64) (*BacktestResult, error) {
	strategy, err := NewStrategy(kind, params)
	if err != nil {
		return nil, err
	}
	return s.Run(candles, strategy)
}

// Run replays candles from WarmupBars onward. A run without trades returns
// a nil result and NO_TRADES.
func (s *Simulator) Run(candles []Candle, strategy Strategy) (*BacktestResult, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateSeries(candles); err != nil {
		return nil, err
	}
	if len(candles) <= s.cfg.WarmupBars {
		return nil, ErrNoTrades.WithDetails(fmt.Sprintf("need more than %d bars, got %d", s.cfg.WarmupBars, len(candles)))
	}

	quiet := s.logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel))
	clock := candles[0].OpenTime
	positions := NewPositionManager(quiet)
	risk := NewRiskManager(s.cfg.Risk, quiet).WithClock(func() time.Time { return clock })

	balance := s.cfg.InitialBalance
	entryCommission := 0.0
	curve := make([]EquityPoint, 0, len(candles)-s.cfg.WarmupBars+1)
	curve = append(curve, EquityPoint{Timestamp: candles[0].OpenTime, Value: balance})
	var trades []BacktestTrade

	s.logger.Info("Starting backtest",
		zap.String("strategy", strategy.Name()),
		zap.Int("bars", len(candles)),
		zap.Int("warmup", s.cfg.WarmupBars),
	)

	for i := s.cfg.WarmupBars; i < len(candles); i++ {
		bar := candles[i]
		clock = bar.OpenTime
		signal := strategy.GenerateSignal(candles[:i+1])
		exec := s.slippage.Apply(signal, bar.Close)

		switch {
		case signal == SignalBuy && !positions.InPosition():
			if s.cfg.EnforceDailyLoss && !risk.CanTrade() {
				break
			}
			qty := balance * s.cfg.PositionFraction / exec
			if err := positions.OpenPosition(s.cfg.Symbol, SideLong, qty, exec, bar.OpenTime); err != nil {
				s.logger.Warn("Entry skipped", zap.Time("bar", bar.OpenTime), zap.Error(err))
				break
			}
			entryCommission = s.fees.Compute(exec, qty)
			balance -= qty*exec + entryCommission

		case signal == SignalSell && positions.InPosition():
			pos, _ := positions.Current()
			gross, err := positions.ClosePosition(exec, bar.OpenTime)
			if err != nil {
				s.logger.Warn("Exit skipped", zap.Time("bar", bar.OpenTime), zap.Error(err))
				break
			}
			exitCommission := s.fees.Compute(exec, pos.Size)
			net := gross - exitCommission - entryCommission
			balance += pos.Size*exec - exitCommission
			pnlPct := net / (pos.EntryPrice * pos.Size) * 100
			trades = append(trades, BacktestTrade{
				EntryTime:       pos.EntryTime,
				ExitTime:        bar.OpenTime,
				EntryPrice:      pos.EntryPrice,
				ExitPrice:       exec,
				Side:            pos.Side,
				Quantity:        pos.Size,
				PnL:             net,
				PnLPct:          pnlPct,
				DurationMinutes: int(bar.OpenTime.Sub(pos.EntryTime).Minutes()),
			})
			risk.RecordTrade(pnlPct)
			entryCommission = 0
		}

		value := balance
		if pos, ok := positions.Current(); ok {
			value += pos.EntryPrice*pos.Size + pos.UnrealizedPnL(bar.Close)
		}
		curve = append(curve, EquityPoint{Timestamp: bar.OpenTime, Value: value})
	}

	// A position still open at the end hands its entry notional back to the
	// balance. Its entry commission stays spent.
	final := balance
	if pos, ok := positions.Current(); ok {
		final += pos.EntryPrice * pos.Size
	}

	if len(trades) == 0 {
		s.logger.Warn("Backtest produced no trades", zap.String("strategy", strategy.Name()))
		return nil, ErrNoTrades
	}

	metrics, err := ComputeMetrics(s.cfg.InitialBalance, final, trades, curve)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Backtest finished",
		zap.Int("trades", metrics.Summary.TotalTrades),
		zap.Float64("final_balance", metrics.Summary.FinalBalance),
		zap.Float64("total_return_pct", metrics.Summary.TotalReturnPct),
	)
	return &BacktestResult{
		Metrics:        metrics,
		Strategy:       strategy.Name(),
		InitialBalance: s.cfg.InitialBalance,
		Risk:           risk.Metrics(),
		EquityCurve:    curve,
		Trades:         trades,
	}, nil
}
