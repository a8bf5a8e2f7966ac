package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ensemble-backtest/services/engine"
)

// EnsureCandleTable creates the database and the candle table. Rows are
// versioned so re-ingesting a month replaces rather than duplicates it.
func (c *Client) EnsureCandleTable(ctx context.Context) error {
	if err := c.db.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+c.cfg.Database); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			symbol String,
			interval LowCardinality(String),
			open_time_ms UInt64,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64,
			ingested_at DateTime64(3),
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (symbol, interval, open_time_ms)
		SETTINGS index_granularity = 8192`, c.table(c.cfg.Table))
	if err := c.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create candle table: %w", err)
	}
	return nil
}

// InsertCandles appends one batch of bars for symbol/interval. All rows of a
// call share one version.
func (c *Client) InsertCandles(ctx context.Context, symbol, interval string, candles []engine.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	batch, err := c.db.PrepareBatch(ctx, "INSERT INTO "+c.table(c.cfg.Table)+" SETTINGS insert_deduplicate=1")
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}
	now := c.now().UTC()
	ver := uint64(now.UnixNano())
	for _, bar := range candles {
		if err := batch.Append(
			symbol, interval,
			uint64(bar.OpenTime.UnixMilli()),
			bar.Open, bar.High, bar.Low, bar.Close,
			bar.Volume,
			now,
			ver,
		); err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("batch send: %w", err)
	}
	c.logger.Info("Inserted candles",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("rows", len(candles)),
	)
	return len(candles), nil
}

// DeriveInterval aggregates the stored source bars into a coarser interval
// server side. Buckets start at multiples of step since the epoch.
func (c *Client) DeriveInterval(ctx context.Context, source, target string, step time.Duration) error {
	minutes := int64(step / time.Minute)
	if minutes <= 0 || step%time.Minute != 0 {
		return engine.ErrInvalidParameter.WithDetails(fmt.Sprintf("derive step %s is not a whole number of minutes", step))
	}
	tbl := c.table(c.cfg.Table)
	q := fmt.Sprintf(`
		INSERT INTO %s SETTINGS insert_deduplicate=1
		SELECT
			symbol,
			'%s' AS interval,
			toUInt64(toUnixTimestamp(start_ts) * 1000) AS open_time_ms,
			argMin(open, src_ms)  AS open,
			max(high)             AS high,
			min(low)              AS low,
			argMax(close, src_ms) AS close,
			sum(volume)           AS volume,
			now64(3)              AS ingested_at,
			toUInt64(toUnixTimestamp64Nano(now64(9))) AS version
		FROM (
			SELECT
				symbol,
				open_time_ms AS src_ms,
				open, high, low, close, volume,
				toStartOfInterval(toDateTime(intDiv(open_time_ms, 1000)), INTERVAL %d MINUTE) AS start_ts
			FROM %s FINAL
			WHERE interval = ?
		)
		GROUP BY symbol, start_ts`, tbl, target, minutes, tbl)
	if err := c.db.Exec(ctx, q, source); err != nil {
		return fmt.Errorf("derive %s from %s: %w", target, source, err)
	}
	c.logger.Info("Derived interval", zap.String("source", source), zap.String("target", target))
	return nil
}
