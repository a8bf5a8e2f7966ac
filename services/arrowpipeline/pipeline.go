// Package arrowpipeline moves candle series and backtest output in and out
// of the Arrow IPC stream format
package arrowpipeline

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"ensemble-backtest/services/engine"
)

type Config struct {
	// BatchSize is the number of rows per record batch
	BatchSize int `yaml:"batch_size"`
}

func DefaultConfig() Config { return Config{BatchSize: 4096} }

var (
	CandleSchema = arrow.NewSchema([]arrow.Field{
		{Name: "symbol", Type: arrow.BinaryTypes.String},
		{Name: "open_time_ms", Type: arrow.PrimitiveTypes.Int64},
		{Name: "open", Type: arrow.PrimitiveTypes.Float64},
		{Name: "high", Type: arrow.PrimitiveTypes.Float64},
		{Name: "low", Type: arrow.PrimitiveTypes.Float64},
		{Name: "close", Type: arrow.PrimitiveTypes.Float64},
		{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	TradeSchema = arrow.NewSchema([]arrow.Field{
		{Name: "entry_time_ms", Type: arrow.PrimitiveTypes.Int64},
		{Name: "exit_time_ms", Type: arrow.PrimitiveTypes.Int64},
		{Name: "side", Type: arrow.BinaryTypes.String},
		{Name: "entry_price", Type: arrow.PrimitiveTypes.Float64},
		{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64},
		{Name: "quantity", Type: arrow.PrimitiveTypes.Float64},
		{Name: "pnl", Type: arrow.PrimitiveTypes.Float64},
		{Name: "pnl_pct", Type: arrow.PrimitiveTypes.Float64},
		{Name: "duration_minutes", Type: arrow.PrimitiveTypes.Int64},
	}, nil)

	EquitySchema = arrow.NewSchema([]arrow.Field{
		{Name: "timestamp_ms", Type: arrow.PrimitiveTypes.Int64},
		{Name: "portfolio_value", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
)

// Pipeline handles Arrow IPC encoding and decoding
type Pipeline struct {
	config     Config
	memoryPool memory.Allocator
	logger     *zap.Logger
}

func NewPipeline(cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Pipeline{config: cfg, memoryPool: memory.NewGoAllocator(), logger: logger}
}

// writeRecords streams n rows as record batches of at most BatchSize rows.
// fill appends rows [from, to) to the builder.
func (p *Pipeline) writeRecords(w io.Writer, schema *arrow.Schema, n int, fill func(b *array.RecordBuilder, from, to int)) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(p.memoryPool))
	builder := array.NewRecordBuilder(p.memoryPool, schema)
	defer builder.Release()

	batches := 0
	for from := 0; from < n; from += p.config.BatchSize {
		to := from + p.config.BatchSize
		if to > n {
			to = n
		}
		fill(builder, from, to)
		record := builder.NewRecord()
		err := writer.Write(record)
		record.Release()
		if err != nil {
			_ = writer.Close()
			return fmt.Errorf("failed to write Arrow record: %w", err)
		}
		batches++
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow stream: %w", err)
	}
	p.logger.Debug("Wrote Arrow stream", zap.Int("rows", n), zap.Int("batches", batches))
	return nil
}

// readRecords checks the stream schema and hands every record to visit
func (p *Pipeline) readRecords(r io.Reader, schema *arrow.Schema, visit func(rec arrow.Record) error) error {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(p.memoryPool))
	if err != nil {
		return fmt.Errorf("failed to open Arrow stream: %w", err)
	}
	defer reader.Release()
	if !reader.Schema().Equal(schema) {
		return engine.ErrInvalidParameter.WithDetails("unexpected Arrow schema: " + reader.Schema().String())
	}
	for reader.Next() {
		if err := visit(reader.Record()); err != nil {
			return err
		}
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("failed to read Arrow stream: %w", err)
	}
	return nil
}

func (p *Pipeline) WriteCandles(w io.Writer, symbol string, candles []engine.Candle) error {
	return p.writeRecords(w, CandleSchema, len(candles), func(b *array.RecordBuilder, from, to int) {
		for _, c := range candles[from:to] {
			b.Field(0).(*array.StringBuilder).Append(symbol)
			b.Field(1).(*array.Int64Builder).Append(c.OpenTime.UnixMilli())
			b.Field(2).(*array.Float64Builder).Append(c.Open)
			b.Field(3).(*array.Float64Builder).Append(c.High)
			b.Field(4).(*array.Float64Builder).Append(c.Low)
			b.Field(5).(*array.Float64Builder).Append(c.Close)
			b.Field(6).(*array.Float64Builder).Append(c.Volume)
		}
	})
}

// ConvertToArrow encodes a candle series into an in-memory IPC stream
func (p *Pipeline) ConvertToArrow(symbol string, candles []engine.Candle) ([]byte, error) {
	if len(candles) == 0 {
		return nil, engine.ErrDataUnavailable.WithDetails("no candles to convert")
	}
	var buf bytes.Buffer
	if err := p.WriteCandles(&buf, symbol, candles); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadCandles decodes a candle stream. The symbol is the one on the first row.
func (p *Pipeline) ReadCandles(r io.Reader) (string, []engine.Candle, error) {
	var (
		symbol string
		out    []engine.Candle
	)
	err := p.readRecords(r, CandleSchema, func(rec arrow.Record) error {
		symbols := rec.Column(0).(*array.String)
		times := rec.Column(1).(*array.Int64)
		opens := rec.Column(2).(*array.Float64)
		highs := rec.Column(3).(*array.Float64)
		lows := rec.Column(4).(*array.Float64)
		closes := rec.Column(5).(*array.Float64)
		volumes := rec.Column(6).(*array.Float64)
		for i := 0; i < int(rec.NumRows()); i++ {
			if symbol == "" {
				symbol = symbols.Value(i)
			}
			out = append(out, engine.Candle{
				OpenTime: time.UnixMilli(times.Value(i)).UTC(),
				Open:     opens.Value(i),
				High:     highs.Value(i),
				Low:      lows.Value(i),
				Close:    closes.Value(i),
				Volume:   volumes.Value(i),
			})
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return symbol, out, nil
}

func (p *Pipeline) WriteTrades(w io.Writer, trades []engine.BacktestTrade) error {
	return p.writeRecords(w, TradeSchema, len(trades), func(b *array.RecordBuilder, from, to int) {
		for _, t := range trades[from:to] {
			b.Field(0).(*array.Int64Builder).Append(t.EntryTime.UnixMilli())
			b.Field(1).(*array.Int64Builder).Append(t.ExitTime.UnixMilli())
			b.Field(2).(*array.StringBuilder).Append(t.Side.String())
			b.Field(3).(*array.Float64Builder).Append(t.EntryPrice)
			b.Field(4).(*array.Float64Builder).Append(t.ExitPrice)
			b.Field(5).(*array.Float64Builder).Append(t.Quantity)
			b.Field(6).(*array.Float64Builder).Append(t.PnL)
			b.Field(7).(*array.Float64Builder).Append(t.PnLPct)
			b.Field(8).(*array.Int64Builder).Append(int64(t.DurationMinutes))
		}
	})
}

func (p *Pipeline) ReadTrades(r io.Reader) ([]engine.BacktestTrade, error) {
	var out []engine.BacktestTrade
	err := p.readRecords(r, TradeSchema, func(rec arrow.Record) error {
		entries := rec.Column(0).(*array.Int64)
		exits := rec.Column(1).(*array.Int64)
		sides := rec.Column(2).(*array.String)
		entryPx := rec.Column(3).(*array.Float64)
		exitPx := rec.Column(4).(*array.Float64)
		qty := rec.Column(5).(*array.Float64)
		pnl := rec.Column(6).(*array.Float64)
		pct := rec.Column(7).(*array.Float64)
		dur := rec.Column(8).(*array.Int64)
		for i := 0; i < int(rec.NumRows()); i++ {
			var side engine.Side
			if err := side.UnmarshalText([]byte(sides.Value(i))); err != nil {
				return engine.ErrInvalidParameter.WithDetails(err.Error())
			}
			out = append(out, engine.BacktestTrade{
				EntryTime:       time.UnixMilli(entries.Value(i)).UTC(),
				ExitTime:        time.UnixMilli(exits.Value(i)).UTC(),
				Side:            side,
				EntryPrice:      entryPx.Value(i),
				ExitPrice:       exitPx.Value(i),
				Quantity:        qty.Value(i),
				PnL:             pnl.Value(i),
				PnLPct:          pct.Value(i),
				DurationMinutes: int(dur.Value(i)),
			})
		}
		return nil
	})
	return out, err
}

func (p *Pipeline) WriteEquity(w io.Writer, curve []engine.EquityPoint) error {
	return p.writeRecords(w, EquitySchema, len(curve), func(b *array.RecordBuilder, from, to int) {
		for _, pt := range curve[from:to] {
			b.Field(0).(*array.Int64Builder).Append(pt.Timestamp.UnixMilli())
			b.Field(1).(*array.Float64Builder).Append(pt.Value)
		}
	})
}

func (p *Pipeline) ReadEquity(r io.Reader) ([]engine.EquityPoint, error) {
	var out []engine.EquityPoint
	err := p.readRecords(r, EquitySchema, func(rec arrow.Record) error {
		ts := rec.Column(0).(*array.Int64)
		vals := rec.Column(1).(*array.Float64)
		for i := 0; i < int(rec.NumRows()); i++ {
			out = append(out, engine.EquityPoint{Timestamp: time.UnixMilli(ts.Value(i)).UTC(), Value: vals.Value(i)})
		}
		return nil
	})
	return out, err
}
