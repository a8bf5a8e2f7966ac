package gateway

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"ensemble-backtest/services/engine"
	"ensemble-backtest/services/live"
)

// Paper replays a recorded candle series as if it were a live market.
// Every HistoricalData call advances the clock by one bar; orders fill at
// the current close with the simulator's commission and slippage models.
type Paper struct {
	mu       sync.Mutex
	candles  []engine.Candle
	cursor   int
	filters  SymbolFilters
	fees     engine.FeeModel
	slippage engine.SlippageModel
	cash     float64
	qty      float64 // signed: >0 long, <0 short
	orders   int
	logger   *zap.Logger
}

type PaperConfig struct {
	InitialBalance float64
	CommissionRate float64
	SlippagePct    float64
	Filters        SymbolFilters
	// StartAt is how many bars are already visible before the first cycle
	StartAt int
}

func NewPaper(candles []engine.Candle, cfg PaperConfig, logger *zap.Logger) *Paper {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := cfg.StartAt
	if start < 0 {
		start = 0
	}
	return &Paper{
		candles:  candles,
		cursor:   start - 1,
		filters:  cfg.Filters,
		fees:     engine.RateFeeModel{Rate: cfg.CommissionRate},
		slippage: engine.PercentSlippage{Pct: cfg.SlippagePct},
		cash:     cfg.InitialBalance,
		logger:   logger,
	}
}

// Exhausted reports whether every bar has been replayed
func (p *Paper) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor >= len(p.candles)-1
}

func (p *Paper) HistoricalData(_ context.Context, _ string, limit int) ([]engine.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor >= len(p.candles)-1 {
		return nil, engine.ErrDataUnavailable.WithDetails("paper replay finished")
	}
	p.cursor++
	from := p.cursor + 1 - limit
	if limit <= 0 || from < 0 {
		from = 0
	}
	out := make([]engine.Candle, p.cursor+1-from)
	copy(out, p.candles[from:p.cursor+1])
	return out, nil
}

func (p *Paper) CurrentPrice(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor < 0 {
		return 0, engine.ErrDataUnavailable.WithDetails("no bar replayed yet")
	}
	return p.candles[p.cursor].Close, nil
}

// AccountBalance is cash plus the open position marked at the current close
func (p *Paper) AccountBalance(context.Context, string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash + p.qty*p.markLocked(), nil
}

func (p *Paper) PlaceOrder(_ context.Context, req live.OrderRequest) (live.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mark := p.markLocked()
	qtyDec, priceDec, err := EnforceFilters(p.filters, req, mark)
	if err != nil {
		return live.OrderResult{}, err
	}
	if mark <= 0 {
		return live.OrderResult{}, engine.ErrOrderRejected.WithDetails("no market price")
	}

	sig := engine.SignalBuy
	if req.Side == live.OrderSell {
		sig = engine.SignalSell
	}
	fill := p.slippage.Apply(sig, mark)
	if req.Type == live.OrderLimit {
		limit := priceDec.InexactFloat64()
		if (sig == engine.SignalBuy && limit < fill) || (sig == engine.SignalSell && limit > fill) {
			return live.OrderResult{}, engine.ErrOrderRejected.WithDetails("limit price not marketable in paper mode")
		}
	}

	qty := qtyDec.InexactFloat64()
	fee := p.fees.Compute(fill, qty)
	if sig == engine.SignalBuy {
		p.cash -= qty*fill + fee
		p.qty += qty
	} else {
		p.cash += qty*fill - fee
		p.qty -= qty
	}
	p.orders++
	p.logger.Info("Paper fill",
		zap.String("side", string(req.Side)),
		zap.Float64("quantity", qty),
		zap.Float64("price", fill),
		zap.Float64("fee", fee),
	)
	return live.OrderResult{
		OrderID:     "paper-" + strconv.Itoa(p.orders),
		OrigQty:     qty,
		ExecutedQty: qty,
		AvgPrice:    fill,
		Status:      "FILLED",
	}, nil
}

func (p *Paper) markLocked() float64 {
	if p.cursor < 0 || p.cursor >= len(p.candles) {
		return 0
	}
	return p.candles[p.cursor].Close
}
