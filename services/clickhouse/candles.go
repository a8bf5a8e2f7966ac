package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ensemble-backtest/services/engine"
)

// CandleQuery selects one symbol/interval window. A zero From or To leaves
// that side open; Limit 0 means no limit.
type CandleQuery struct {
	Symbol   string
	Interval string
	From     time.Time
	To       time.Time
	Limit    int
}

func (c *Client) candleSQL(q CandleQuery) (string, []any) {
	sql := fmt.Sprintf(`
		SELECT open_time_ms, open, high, low, close, volume
		FROM %s FINAL
		WHERE symbol = ? AND interval = ?`, c.table(c.cfg.Table))
	args := []any{q.Symbol, q.Interval}
	if !q.From.IsZero() {
		sql += " AND open_time_ms >= ?"
		args = append(args, uint64(q.From.UnixMilli()))
	}
	if !q.To.IsZero() {
		sql += " AND open_time_ms < ?"
		args = append(args, uint64(q.To.UnixMilli()))
	}
	sql += " ORDER BY open_time_ms"
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return sql, args
}

// LoadCandles returns the bars ordered by open time. An empty result is
// DATA_UNAVAILABLE.
func (c *Client) LoadCandles(ctx context.Context, q CandleQuery) ([]engine.Candle, error) {
	sql, args := c.candleSQL(q)
	rows, err := c.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var out []engine.Candle
	for rows.Next() {
		var (
			openMs uint64
			bar    engine.Candle
		)
		if err := rows.Scan(&openMs, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		bar.OpenTime = time.UnixMilli(int64(openMs)).UTC()
		out = append(out, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candle rows: %w", err)
	}
	if len(out) == 0 {
		return nil, engine.ErrDataUnavailable.WithDetails(fmt.Sprintf("no %s %s candles in %s", q.Symbol, q.Interval, c.table(c.cfg.Table)))
	}
	c.logger.Info("Loaded candles from ClickHouse",
		zap.String("symbol", q.Symbol),
		zap.String("interval", q.Interval),
		zap.Int("bars", len(out)),
	)
	return out, nil
}
