package arrowpipeline

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"ensemble-backtest/services/engine"
)

func testCandles(n int) []engine.Candle {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]engine.Candle, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = engine.Candle{OpenTime: start.Add(time.Duration(i) * time.Minute), Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: float64(i)}
	}
	return out
}

func TestCandleRoundTripAcrossBatches(t *testing.T) {
	p := NewPipeline(Config{BatchSize: 3}, zaptest.NewLogger(t))
	in := testCandles(10)
	data, err := p.ConvertToArrow("BTCUSDT", in)
	if err != nil {
		t.Fatal(err)
	}
	symbol, out, err := p.ReadCandles(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if symbol != "BTCUSDT" || len(out) != len(in) {
		t.Fatalf("symbol=%s rows=%d", symbol, len(out))
	}
	for i := range in {
		if !out[i].OpenTime.Equal(in[i].OpenTime) || out[i] != in[i] {
			t.Fatalf("row %d: %+v != %+v", i, out[i], in[i])
		}
	}
}

func TestConvertEmpty(t *testing.T) {
	p := NewPipeline(DefaultConfig(), nil)
	if _, err := p.ConvertToArrow("BTCUSDT", nil); !errors.Is(err, engine.ErrDataUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestTradesAndEquityRoundTrip(t *testing.T) {
	p := NewPipeline(DefaultConfig(), nil)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	trades := []engine.BacktestTrade{
		{EntryTime: start, ExitTime: start.Add(90 * time.Minute), Side: engine.SideLong, EntryPrice: 100, ExitPrice: 103, Quantity: 2, PnL: 5.4, PnLPct: 2.7, DurationMinutes: 90},
		{EntryTime: start.Add(2 * time.Hour), ExitTime: start.Add(3 * time.Hour), Side: engine.SideShort, EntryPrice: 103, ExitPrice: 104, Quantity: 1, PnL: -1.2, PnLPct: -1.16, DurationMinutes: 60},
	}
	var buf bytes.Buffer
	if err := p.WriteTrades(&buf, trades); err != nil {
		t.Fatal(err)
	}
	got, err := p.ReadTrades(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1] != trades[1] || !got[0].ExitTime.Equal(trades[0].ExitTime) {
		t.Fatalf("trades = %+v", got)
	}

	curve := []engine.EquityPoint{{Timestamp: start, Value: 1000}, {Timestamp: start.Add(time.Minute), Value: 1001.5}}
	buf.Reset()
	if err := p.WriteEquity(&buf, curve); err != nil {
		t.Fatal(err)
	}
	pts, err := p.ReadEquity(&buf)
	if err != nil || len(pts) != 2 || pts[1] != curve[1] {
		t.Fatalf("equity = %+v, %v", pts, err)
	}
}

func TestSchemaMismatch(t *testing.T) {
	p := NewPipeline(DefaultConfig(), nil)
	var buf bytes.Buffer
	if err := p.WriteEquity(&buf, []engine.EquityPoint{{Timestamp: time.Unix(0, 0), Value: 1}}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.ReadCandles(&buf); !errors.Is(err, engine.ErrInvalidParameter) {
		t.Fatalf("err = %v", err)
	}
}
