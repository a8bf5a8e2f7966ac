package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ensemble-backtest/services/engine"
)

// Analyzer produces the per-cycle ensemble decision
type Analyzer interface {
	Analyze(candles []engine.Candle) engine.EnsembleAnalysis
}

type Config struct {
	Symbol       string
	Interval     string
	Limit        int
	PollInterval time.Duration
	Asset        string
	// AllowShorts lets a SELL on a flat book open a SHORT, closed by a BUY
	AllowShorts bool
}

func DefaultConfig() Config {
	return Config{
		Symbol:       "BTCUSDT",
		Interval:     "1m",
		Limit:        100,
		PollInterval: 60 * time.Second,
		Asset:        "USDT",
	}
}

// Trader runs the polling loop: fetch candles, manage the open position,
// vote, trade, publish. One cycle at a time, never concurrently.
type Trader struct {
	cfg       Config
	gw        Gateway
	analyzer  Analyzer
	positions *engine.PositionManager
	risk      *engine.RiskManager
	store     *StateStore
	logger    *zap.Logger
	now       func() time.Time
}

func NewTrader(cfg Config, gw Gateway, analyzer Analyzer, risk *engine.RiskManager, store *StateStore, logger *zap.Logger) *Trader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewStateStore()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	t := &Trader{
		cfg:       cfg,
		gw:        gw,
		analyzer:  analyzer,
		positions: engine.NewPositionManager(logger),
		risk:      risk,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}
	symbol := cfg.Symbol
	t.store.WriteSnapshot(SnapshotUpdate{Symbol: &symbol, At: t.now()})
	return t
}

func (t *Trader) Positions() *engine.PositionManager { return t.positions }

func (t *Trader) Store() *StateStore { return t.store }

// Run cycles until ctx is cancelled, the daily loss breaker trips
// (DAILY_LOSS_HALT) or a cycle fails unrecoverably.
func (t *Trader) Run(ctx context.Context) error {
	t.logger.Info("Trader started",
		zap.String("symbol", t.cfg.Symbol),
		zap.String("interval", t.cfg.Interval),
		zap.Duration("poll_interval", t.cfg.PollInterval),
	)
	t.setStatus(StatusRunning)
	for {
		if err := t.Cycle(ctx); err != nil {
			if errors.Is(err, engine.ErrDailyLossHalt) {
				t.logger.Error("Trading halted", zap.Error(err))
				t.setStatus(StatusHalted)
				return err
			}
			if ctx.Err() == nil {
				t.logger.Error("Cycle failed", zap.Error(err))
				t.setStatus(StatusStopped)
				return err
			}
		}

		t.logger.Debug("Waiting for next cycle", zap.Duration("sleep", t.cfg.PollInterval))
		timer := time.NewTimer(t.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Info("Trader stopped")
			t.setStatus(StatusStopped)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Cycle runs a single iteration. Recoverable conditions are logged and
// swallowed; only the daily loss halt and context errors are returned.
func (t *Trader) Cycle(ctx context.Context) error {
	if !t.risk.CanTrade() {
		return engine.ErrDailyLossHalt.WithDetails(fmt.Sprintf("daily pnl %.2f%%", t.risk.Metrics().DailyPnLPct))
	}

	candles, err := t.gw.HistoricalData(ctx, t.cfg.Interval, t.cfg.Limit)
	if err == nil && len(candles) == 0 {
		err = engine.ErrDataUnavailable.WithDetails("empty kline response")
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.Warn("Could not fetch data, skipping cycle", zap.Error(err))
		t.setStatus(StatusWaiting)
		return nil
	}

	price := candles[len(candles)-1].Close
	if p, err := t.gw.CurrentPrice(ctx); err == nil && p > 0 {
		price = p
	} else if err != nil {
		t.logger.Warn("Current price unavailable, using last close", zap.Error(err))
	}

	var closed *PnLPoint
	if pos, ok := t.positions.Current(); ok {
		hitSL := t.risk.CheckStopLoss(pos.EntryPrice, price, pos.Side)
		hitTP := !hitSL && t.risk.CheckTakeProfit(pos.EntryPrice, price, pos.Side)
		if hitSL || hitTP {
			reason := "stop loss"
			if hitTP {
				reason = "take profit"
			}
			closed = t.closePosition(ctx, pos, price, reason)
		}
	}

	analysis := t.analyzer.Analyze(candles)
	signal := analysis.FinalSignal
	t.logger.Info("Cycle signal",
		zap.Stringer("signal", signal),
		zap.Float64("price", price),
		zap.Bool("in_position", t.positions.InPosition()),
	)

	// a position closed by stop loss / take profit this cycle is not
	// reopened until the next one
	if closed == nil {
		pos, open := t.positions.Current()
		switch {
		case signal == engine.SignalBuy && !open:
			t.openPosition(ctx, engine.SideLong, price)
		case signal == engine.SignalSell && !open && t.cfg.AllowShorts:
			t.openPosition(ctx, engine.SideShort, price)
		case signal == engine.SignalSell && open && pos.Side == engine.SideLong:
			closed = t.closePosition(ctx, pos, price, "signal")
		case signal == engine.SignalBuy && open && pos.Side == engine.SideShort:
			closed = t.closePosition(ctx, pos, price, "signal")
		}
	}

	status := StatusRunning
	positionStatus := t.positions.Status(price)
	riskSnap := t.risk.Metrics()
	t.store.WriteSnapshot(SnapshotUpdate{
		Status:    &status,
		Price:     &price,
		Position:  &positionStatus,
		Analysis:  &analysis,
		Risk:      &riskSnap,
		AppendPnL: closed,
		At:        t.now(),
	})
	return nil
}

func (t *Trader) openPosition(ctx context.Context, side engine.Side, price float64) {
	balance, err := t.gw.AccountBalance(ctx, t.cfg.Asset)
	if err != nil {
		t.logger.Warn("Balance unavailable, entry skipped", zap.Error(err))
		return
	}
	qty := t.risk.CalculatePositionSize(balance, price)
	orderSide := OrderBuy
	if side == engine.SideShort {
		orderSide = OrderSell
	}
	res, err := t.gw.PlaceOrder(ctx, OrderRequest{Side: orderSide, Type: OrderMarket, Quantity: qty})
	if err != nil {
		t.orderFailed("entry", err)
		return
	}
	filled := res.ExecutedQty
	if filled <= 0 {
		filled = res.OrigQty
	}
	if err := t.positions.OpenPosition(t.cfg.Symbol, side, filled, fillPrice(res, price), t.now()); err != nil {
		t.logger.Warn("Position not recorded", zap.Error(err))
	}
}

func (t *Trader) closePosition(ctx context.Context, pos engine.Position, price float64, reason string) *PnLPoint {
	orderSide := OrderSell
	if pos.Side == engine.SideShort {
		orderSide = OrderBuy
	}
	t.logger.Info("Closing position", zap.String("reason", reason), zap.Stringer("side", pos.Side))
	res, err := t.gw.PlaceOrder(ctx, OrderRequest{Side: orderSide, Type: OrderMarket, Quantity: pos.Size})
	if err != nil {
		t.orderFailed("exit", err)
		return nil
	}
	now := t.now()
	pnl, err := t.positions.ClosePosition(fillPrice(res, price), now)
	if err != nil {
		t.logger.Warn("Close not recorded", zap.Error(err))
		return nil
	}
	t.risk.RecordTrade(pnl / (pos.EntryPrice * pos.Size) * 100)
	return &PnLPoint{Time: now, CumulativePnL: t.positions.TotalPnL()}
}

func (t *Trader) orderFailed(stage string, err error) {
	switch {
	case errors.Is(err, engine.ErrZeroQuantity):
		t.logger.Warn("Order suppressed, quantity rounds to zero", zap.String("stage", stage), zap.Error(err))
	case errors.Is(err, engine.ErrInvalidParameter):
		t.logger.Warn("Order rejected before submission", zap.String("stage", stage), zap.Error(err))
	default:
		t.logger.Error("Order failed", zap.String("stage", stage), zap.Error(err))
	}
}

func (t *Trader) setStatus(status string) {
	t.store.WriteSnapshot(SnapshotUpdate{Status: &status, At: t.now()})
}

func fillPrice(res OrderResult, fallback float64) float64 {
	if res.AvgPrice > 0 {
		return res.AvgPrice
	}
	return fallback
}
