package clickhouse

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ensemble-backtest/services/engine"
)

// EnsureTradesTable creates the trade sink if it does not exist
func (c *Client) EnsureTradesTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id String,
			symbol LowCardinality(String),
			strategy LowCardinality(String),
			side LowCardinality(String),
			entry_time DateTime64(3),
			exit_time DateTime64(3),
			entry_price Decimal(38, 8),
			exit_price Decimal(38, 8),
			quantity Decimal(38, 8),
			pnl Decimal(38, 8),
			pnl_pct Float64,
			duration_minutes Int64
		)
		ENGINE = MergeTree
		ORDER BY (run_id, entry_time)`, c.table(c.cfg.TradesTable))
	if err := c.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create trades table: %w", err)
	}
	return nil
}

func tradeRow(runID, symbol, strategy string, t engine.BacktestTrade) []any {
	return []any{
		runID,
		symbol,
		strategy,
		t.Side.String(),
		t.EntryTime,
		t.ExitTime,
		decimal.NewFromFloat(t.EntryPrice),
		decimal.NewFromFloat(t.ExitPrice),
		decimal.NewFromFloat(t.Quantity),
		decimal.NewFromFloat(t.PnL),
		t.PnLPct,
		int64(t.DurationMinutes),
	}
}

// InsertTrades writes every trade of a run in one batch
func (c *Client) InsertTrades(ctx context.Context, runID, symbol string, res *engine.BacktestResult) error {
	if res == nil || len(res.Trades) == 0 {
		return nil
	}
	batch, err := c.db.PrepareBatch(ctx, "INSERT INTO "+c.table(c.cfg.TradesTable))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, t := range res.Trades {
		if err := batch.Append(tradeRow(runID, symbol, res.Strategy, t)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("batch send: %w", err)
	}
	c.logger.Info("Persisted backtest trades",
		zap.String("run_id", runID),
		zap.Int("trades", len(res.Trades)),
	)
	return nil
}
