package gateway

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"ensemble-backtest/services/engine"
	"ensemble-backtest/services/live"
)

func paperCandles(closes ...float64) []engine.Candle {
	out := make([]engine.Candle, len(closes))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = engine.Candle{OpenTime: start.Add(time.Duration(i) * time.Hour), Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func TestPaperReplayWindow(t *testing.T) {
	p := NewPaper(paperCandles(100, 110, 120), PaperConfig{InitialBalance: 1000}, zaptest.NewLogger(t))
	ctx := context.Background()

	if _, err := p.CurrentPrice(ctx); !errors.Is(err, engine.ErrDataUnavailable) {
		t.Fatalf("price before first bar: %v", err)
	}
	want := [][]float64{{100}, {100, 110}, {110, 120}}
	for i, w := range want {
		got, err := p.HistoricalData(ctx, "1h", 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(w) {
			t.Fatalf("call %d: %d candles", i, len(got))
		}
		for j := range w {
			if got[j].Close != w[j] {
				t.Fatalf("call %d: closes = %+v", i, got)
			}
		}
	}
	if !p.Exhausted() {
		t.Fatal("replay should be exhausted")
	}
	if _, err := p.HistoricalData(ctx, "1h", 2); !errors.Is(err, engine.ErrDataUnavailable) {
		t.Fatalf("after end: %v", err)
	}
}

func TestPaperStartAt(t *testing.T) {
	p := NewPaper(paperCandles(1, 2, 3, 4), PaperConfig{StartAt: 2}, nil)
	got, err := p.HistoricalData(context.Background(), "1h", 10)
	if err != nil || len(got) != 3 {
		t.Fatalf("got %d candles, %v", len(got), err)
	}
}

func TestPaperFillsAndBalance(t *testing.T) {
	p := NewPaper(paperCandles(100, 110), PaperConfig{
		InitialBalance: 1000,
		CommissionRate: 0.001,
		Filters:        SymbolFilters{QtyStep: 0.001},
	}, zaptest.NewLogger(t))
	ctx := context.Background()

	_, _ = p.HistoricalData(ctx, "1h", 10)
	res, err := p.PlaceOrder(ctx, live.OrderRequest{Side: live.OrderBuy, Type: live.OrderMarket, Quantity: 1.0004})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExecutedQty != 1 || res.AvgPrice != 100 || res.Status != "FILLED" {
		t.Fatalf("fill = %+v", res)
	}
	bal, _ := p.AccountBalance(ctx, "USDT")
	if math.Abs(bal-999.9) > 1e-9 {
		t.Fatalf("balance after buy = %v", bal)
	}

	_, _ = p.HistoricalData(ctx, "1h", 10)
	bal, _ = p.AccountBalance(ctx, "USDT")
	if math.Abs(bal-1009.9) > 1e-9 {
		t.Fatalf("marked balance = %v", bal)
	}
	if _, err := p.PlaceOrder(ctx, live.OrderRequest{Side: live.OrderSell, Type: live.OrderMarket, Quantity: 1}); err != nil {
		t.Fatal(err)
	}
	bal, _ = p.AccountBalance(ctx, "USDT")
	if math.Abs(bal-1009.79) > 1e-9 {
		t.Fatalf("balance after sell = %v", bal)
	}
}

func TestPaperSlippageAndLimits(t *testing.T) {
	p := NewPaper(paperCandles(100), PaperConfig{InitialBalance: 1000, SlippagePct: 1}, nil)
	ctx := context.Background()
	_, _ = p.HistoricalData(ctx, "1h", 1)

	res, err := p.PlaceOrder(ctx, live.OrderRequest{Side: live.OrderBuy, Type: live.OrderMarket, Quantity: 1})
	if err != nil || math.Abs(res.AvgPrice-101) > 1e-9 {
		t.Fatalf("buy fill = %+v, %v", res, err)
	}
	_, err = p.PlaceOrder(ctx, live.OrderRequest{Side: live.OrderBuy, Type: live.OrderLimit, Quantity: 1, Price: 100})
	if !errors.Is(err, engine.ErrOrderRejected) {
		t.Fatalf("passive limit: %v", err)
	}
	_, err = p.PlaceOrder(ctx, live.OrderRequest{Side: live.OrderSell, Type: live.OrderLimit, Quantity: 1, Price: 95})
	if err != nil {
		t.Fatalf("marketable limit: %v", err)
	}
}

func TestPaperDrivesTrader(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i%7)
	}
	p := NewPaper(paperCandles(closes...), PaperConfig{InitialBalance: 10000, CommissionRate: 0.001, StartAt: 30}, nil)
	risk := engine.NewRiskManager(engine.DefaultRiskConfig(), nil)
	cfg := live.DefaultConfig()
	tr := live.NewTrader(cfg, p, engine.DefaultEnsemble(nil), risk, nil, zaptest.NewLogger(t))
	for !p.Exhausted() {
		if err := tr.Cycle(context.Background()); err != nil {
			if errors.Is(err, engine.ErrDailyLossHalt) {
				break
			}
			t.Fatal(err)
		}
	}
	snap := tr.Store().ReadSnapshot()
	if snap.Analysis == nil || snap.Price == 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
