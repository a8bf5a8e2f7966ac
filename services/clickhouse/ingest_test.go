package clickhouse

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"ensemble-backtest/services/engine"
)

func TestEnsureCandleTable(t *testing.T) {
	fb := &fakeBackend{}
	c := newClient(DefaultConfig(), fb, zaptest.NewLogger(t))
	if err := c.EnsureCandleTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fb.queries) != 2 || fb.queries[0] != "CREATE DATABASE IF NOT EXISTS backtest" {
		t.Fatalf("queries = %v", fb.queries)
	}
	if !strings.Contains(fb.queries[1], "backtest.data") || !strings.Contains(fb.queries[1], "ReplacingMergeTree(version)") {
		t.Fatalf("ddl = %s", fb.queries[1])
	}
}

func TestInsertCandles(t *testing.T) {
	fb := &fakeBackend{batch: &fakeBatch{}}
	c := newClient(DefaultConfig(), fb, zaptest.NewLogger(t))
	fixed := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	open := time.UnixMilli(1700000000000).UTC()
	n, err := c.InsertCandles(context.Background(), "BTCUSDT", "1m", []engine.Candle{
		{OpenTime: open, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{OpenTime: open.Add(time.Minute), Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 11},
	})
	if err != nil || n != 2 {
		t.Fatalf("n = %d, err = %v", n, err)
	}
	if !strings.HasPrefix(fb.queries[0], "INSERT INTO backtest.data") || !fb.batch.sent {
		t.Fatalf("insert = %s sent=%v", fb.queries[0], fb.batch.sent)
	}
	row := fb.batch.rows[1]
	if len(row) != 10 || row[0] != "BTCUSDT" || row[1] != "1m" || row[2] != uint64(1700000060000) || row[6] != 2.0 {
		t.Fatalf("row = %v", row)
	}
	if row[9] != uint64(fixed.UnixNano()) || fb.batch.rows[0][9] != row[9] {
		t.Fatal("rows of one call must share a version")
	}
}

func TestInsertCandlesAbort(t *testing.T) {
	fb := &fakeBackend{batch: &fakeBatch{failAt: 1}}
	c := newClient(DefaultConfig(), fb, nil)
	_, err := c.InsertCandles(context.Background(), "BTCUSDT", "1m", []engine.Candle{{OpenTime: time.Unix(0, 0)}})
	if err == nil || !fb.batch.aborted {
		t.Fatalf("err = %v, aborted = %v", err, fb.batch.aborted)
	}
}

func TestDeriveInterval(t *testing.T) {
	fb := &fakeBackend{}
	c := newClient(DefaultConfig(), fb, zaptest.NewLogger(t))
	if err := c.DeriveInterval(context.Background(), "1m", "15m", 15*time.Minute); err != nil {
		t.Fatal(err)
	}
	q := fb.queries[0]
	if !strings.Contains(q, "'15m' AS interval") || !strings.Contains(q, "INTERVAL 15 MINUTE") || !strings.Contains(q, "FROM backtest.data FINAL") {
		t.Fatalf("query = %s", q)
	}
	if len(fb.args[0]) != 1 || fb.args[0][0] != "1m" {
		t.Fatalf("args = %v", fb.args[0])
	}

	err := c.DeriveInterval(context.Background(), "1m", "90s", 90*time.Second)
	if !errors.Is(err, engine.ErrInvalidParameter) {
		t.Fatalf("err = %v", err)
	}
}
