package live

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"ensemble-backtest/services/engine"
)

type fakeGateway struct {
	candles  []engine.Candle
	dataErr  error
	price    float64
	balance  float64
	orderErr error
	orders   []OrderRequest
}

func (g *fakeGateway) HistoricalData(context.Context, string, int) ([]engine.Candle, error) {
	return g.candles, g.dataErr
}

func (g *fakeGateway) CurrentPrice(context.Context) (float64, error) { return g.price, nil }

func (g *fakeGateway) AccountBalance(context.Context, string) (float64, error) {
	return g.balance, nil
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req OrderRequest) (OrderResult, error) {
	if err := req.Validate(); err != nil {
		return OrderResult{}, err
	}
	if g.orderErr != nil {
		return OrderResult{}, g.orderErr
	}
	g.orders = append(g.orders, req)
	return OrderResult{OrderID: "1", OrigQty: req.Quantity, ExecutedQty: req.Quantity, AvgPrice: g.price, Status: "FILLED"}, nil
}

type fixedAnalyzer struct{ sig engine.Signal }

func (a *fixedAnalyzer) Analyze([]engine.Candle) engine.EnsembleAnalysis {
	return engine.EnsembleAnalysis{
		FinalSignal:   a.sig,
		Breakdown:     map[string]engine.StrategyVote{},
		WeightedVotes: map[engine.Signal]float64{a.sig: 1},
	}
}

func newTestTrader(t *testing.T, gw *fakeGateway, an *fixedAnalyzer, cfg Config) *Trader {
	t.Helper()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	risk := engine.NewRiskManager(engine.DefaultRiskConfig(), nil).WithClock(now)
	tr := NewTrader(cfg, gw, an, risk, nil, zaptest.NewLogger(t))
	tr.now = now
	return tr
}

func oneCandle(price float64) []engine.Candle {
	return []engine.Candle{{OpenTime: time.Unix(0, 0), Close: price}}
}

func TestCycleOpensAndClosesLong(t *testing.T) {
	gw := &fakeGateway{candles: oneCandle(50000), price: 50000, balance: 10000}
	an := &fixedAnalyzer{sig: engine.SignalBuy}
	tr := newTestTrader(t, gw, an, DefaultConfig())

	if err := tr.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	pos, ok := tr.Positions().Current()
	if !ok || pos.Side != engine.SideLong || math.Abs(pos.Size-0.004) > 1e-12 {
		t.Fatalf("position = %+v, %v", pos, ok)
	}

	// second BUY while long is ignored
	if err := tr.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(gw.orders) != 1 {
		t.Fatalf("orders = %d", len(gw.orders))
	}

	an.sig = engine.SignalSell
	gw.price = 50250
	if err := tr.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tr.Positions().InPosition() || len(gw.orders) != 2 || gw.orders[1].Side != OrderSell {
		t.Fatalf("expected close, orders = %+v", gw.orders)
	}
	snap := tr.Store().ReadSnapshot()
	if len(snap.PnLHistory) != 1 || snap.PnLHistory[0].CumulativePnL <= 0 {
		t.Fatalf("pnl history = %+v", snap.PnLHistory)
	}
	if snap.Status != StatusRunning || snap.Analysis == nil || snap.Risk.TradesToday != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestCycleSkipsWithoutData(t *testing.T) {
	gw := &fakeGateway{dataErr: engine.ErrDataUnavailable, balance: 1000, price: 1}
	tr := newTestTrader(t, gw, &fixedAnalyzer{sig: engine.SignalBuy}, DefaultConfig())
	if err := tr.Cycle(context.Background()); err != nil {
		t.Fatalf("data failure should be non fatal: %v", err)
	}
	if len(gw.orders) != 0 || tr.Store().ReadSnapshot().Status != StatusWaiting {
		t.Fatal("cycle should have been skipped")
	}

	gw.dataErr = nil
	if err := tr.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(gw.orders) != 0 {
		t.Fatal("empty candle list must also skip")
	}
}

func TestCycleStopLoss(t *testing.T) {
	gw := &fakeGateway{candles: oneCandle(100), price: 100, balance: 10000}
	an := &fixedAnalyzer{sig: engine.SignalBuy}
	tr := newTestTrader(t, gw, an, DefaultConfig())
	if err := tr.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	an.sig = engine.SignalBuy
	gw.price = 98.9
	if err := tr.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tr.Positions().InPosition() {
		t.Fatal("stop loss should have closed the position")
	}
	if len(gw.orders) != 2 {
		t.Fatalf("stop loss bar must not reopen, orders = %d", len(gw.orders))
	}
}

func TestCycleOrderRejectedKeepsState(t *testing.T) {
	gw := &fakeGateway{candles: oneCandle(100), price: 100, balance: 10000, orderErr: engine.ErrOrderRejected}
	tr := newTestTrader(t, gw, &fixedAnalyzer{sig: engine.SignalBuy}, DefaultConfig())
	if err := tr.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tr.Positions().InPosition() {
		t.Fatal("rejected order must not open a position")
	}
}

func TestCycleShorts(t *testing.T) {
	cfg := DefaultConfig()
	gw := &fakeGateway{candles: oneCandle(100), price: 100, balance: 10000}
	an := &fixedAnalyzer{sig: engine.SignalSell}

	tr := newTestTrader(t, gw, an, cfg)
	_ = tr.Cycle(context.Background())
	if tr.Positions().InPosition() {
		t.Fatal("shorts disabled by default")
	}

	cfg.AllowShorts = true
	tr = newTestTrader(t, gw, an, cfg)
	_ = tr.Cycle(context.Background())
	pos, ok := tr.Positions().Current()
	if !ok || pos.Side != engine.SideShort {
		t.Fatalf("position = %+v", pos)
	}
	an.sig = engine.SignalBuy
	gw.price = 99.5
	_ = tr.Cycle(context.Background())
	if tr.Positions().InPosition() || tr.Positions().TotalPnL() <= 0 {
		t.Fatal("BUY should close the short at a profit")
	}
}

func TestRunHaltsOnDailyLoss(t *testing.T) {
	gw := &fakeGateway{candles: oneCandle(100), price: 100, balance: 10000}
	tr := newTestTrader(t, gw, &fixedAnalyzer{sig: engine.SignalHold}, DefaultConfig())
	tr.risk.RecordTrade(-5)

	err := tr.Run(context.Background())
	if !errors.Is(err, engine.ErrDailyLossHalt) {
		t.Fatalf("err = %v", err)
	}
	if tr.Store().ReadSnapshot().Status != StatusHalted {
		t.Fatal("status not halted")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	gw := &fakeGateway{candles: oneCandle(100), price: 100, balance: 10000}
	cfg := DefaultConfig()
	cfg.PollInterval = time.Millisecond
	tr := newTestTrader(t, gw, &fixedAnalyzer{sig: engine.SignalHold}, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tr.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if tr.Store().ReadSnapshot().Status != StatusStopped {
		t.Fatal("status not stopped")
	}
}

func TestOrderRequestValidate(t *testing.T) {
	cases := []struct {
		req  OrderRequest
		want error
	}{
		{OrderRequest{Side: OrderBuy, Type: OrderMarket, Quantity: 1}, nil},
		{OrderRequest{Side: OrderBuy, Type: OrderLimit, Quantity: 1}, engine.ErrInvalidParameter},
		{OrderRequest{Side: OrderSell, Type: OrderLimit, Quantity: 1, Price: 10}, nil},
		{OrderRequest{Side: "HOLD", Type: OrderMarket, Quantity: 1}, engine.ErrInvalidParameter},
		{OrderRequest{Side: OrderBuy, Type: OrderMarket}, engine.ErrZeroQuantity},
	}
	for _, tc := range cases {
		err := tc.req.Validate()
		if tc.want == nil && err != nil || tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%+v: err = %v, want %v", tc.req, err, tc.want)
		}
	}
}
