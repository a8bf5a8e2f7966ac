// Command backtest replays a candle series through a strategy and prints the
// performance report
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ensemble-backtest/services/arrowpipeline"
	"ensemble-backtest/services/clickhouse"
	"ensemble-backtest/services/config"
	"ensemble-backtest/services/dataset"
	"ensemble-backtest/services/engine"
)

// paramFlags collects repeated -param key=value flags
type paramFlags map[string]float64

func (p paramFlags) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, p[k])
	}
	return strings.Join(parts, ",")
}

func (p paramFlags) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return fmt.Errorf("param %s: %w", k, err)
	}
	p[strings.TrimSpace(k)] = f
	return nil
}

func main() {
	params := paramFlags{}
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		csvFile     = flag.String("csv", "", "CSV file with timestamp,open,high,low,close,volume")
		arrowIn     = flag.String("arrow-in", "", "Arrow IPC candle stream to read instead of CSV")
		fromCH      = flag.Bool("clickhouse", false, "Load candles from ClickHouse")
		interval    = flag.String("interval", "1m", "Candle interval (ClickHouse source and gap check)")
		from        = flag.String("from", "", "Start time (RFC3339, date or epoch) for ClickHouse source")
		to          = flag.String("to", "", "End time (exclusive) for ClickHouse source")
		limit       = flag.Int("limit", 0, "Max bars from ClickHouse (0 = all)")
		kind        = flag.String("strategy", "", "Strategy kind: "+strings.Join(engine.StrategyKinds(), ", "))
		balance     = flag.Float64("balance", 0, "Initial balance (overrides config)")
		dailyLoss   = flag.Bool("enforce-daily-loss", false, "Suppress entries while the daily loss limit is hit")
		jsonOut     = flag.String("json", "", "Write the full result as JSON to this file")
		arrowOutDir = flag.String("arrow-out", "", "Directory for Arrow IPC exports of trades and equity")
		persist     = flag.Bool("persist", false, "Insert trades into the ClickHouse trades table")
		debug       = flag.Bool("debug", false, "Development logging")
	)
	flag.Var(params, "param", "Strategy parameter key=value (repeatable)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *debug {
		cfg.Log.Development = true
		cfg.Log.Level = "debug"
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	step, err := dataset.ParseInterval(*interval)
	if err != nil {
		logger.Fatal("Invalid interval", zap.Error(err))
	}

	var ch *clickhouse.Client
	if *fromCH || *persist {
		ch, err = clickhouse.Open(ctx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Fatal("Failed to connect to ClickHouse", zap.Error(err))
		}
		defer ch.Close()
	}
	pipeline := arrowpipeline.NewPipeline(cfg.Arrow, logger)

	candles, err := loadCandles(ctx, cfg, ch, pipeline, *csvFile, *arrowIn, *fromCH, *interval, *from, *to, *limit, logger)
	if err != nil {
		logger.Fatal("Failed to load candles", zap.Error(err))
	}
	if gaps := engine.DetectGaps(candles, step); len(gaps) > 0 {
		missing := 0
		for _, g := range gaps {
			missing += g.Missing
		}
		logger.Warn("Candle series has gaps", zap.Int("gaps", len(gaps)), zap.Int("missing_bars", missing))
	}

	simCfg := cfg.Backtest
	if *balance > 0 {
		simCfg.InitialBalance = *balance
	}
	if *dailyLoss {
		simCfg.EnforceDailyLoss = true
	}
	strategyKind := cfg.Strategy.Kind
	if *kind != "" {
		strategyKind = *kind
	}
	merged := map[string]float64{}
	for k, v := range cfg.Strategy.Params {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}

	sim := engine.NewSimulator(simCfg, logger)
	result, err := sim.RunStrategy(candles, strategyKind, merged)
	if errors.Is(err, engine.ErrNoTrades) {
		fmt.Println(engine.RenderReport(nil))
		logger.Info("Backtest produced no trades", zap.Int("bars", len(candles)))
		return
	}
	if err != nil {
		logger.Fatal("Backtest failed", zap.Error(err))
	}
	fmt.Println(engine.RenderReport(result))

	runID := uuid.NewString()
	if *jsonOut != "" {
		if err := writeJSON(*jsonOut, result); err != nil {
			logger.Error("Failed to write JSON result", zap.Error(err))
		}
	}
	if *arrowOutDir != "" {
		if err := exportArrow(pipeline, *arrowOutDir, runID, result); err != nil {
			logger.Error("Arrow export failed", zap.Error(err))
		}
	}
	if *persist {
		if err := ch.EnsureTradesTable(ctx); err != nil {
			logger.Error("Failed to prepare trades table", zap.Error(err))
		} else if err := ch.InsertTrades(ctx, runID, simCfg.Symbol, result); err != nil {
			logger.Error("Failed to persist trades", zap.Error(err))
		}
	}
	hash, err := cfg.Fingerprint()
	if err != nil {
		logger.Warn("Config fingerprint unavailable", zap.Error(err))
	} else {
		hash = hash[:12]
	}
	logger.Info("Backtest completed",
		zap.String("run_id", runID),
		zap.String("strategy", result.Strategy),
		zap.Int("trades", result.Summary.TotalTrades),
		zap.String("config_hash", hash),
	)
}

func loadCandles(ctx context.Context, cfg *config.Config, ch *clickhouse.Client, p *arrowpipeline.Pipeline,
	csvFile, arrowIn string, fromCH bool, interval, from, to string, limit int, logger *zap.Logger) ([]engine.Candle, error) {
	switch {
	case fromCH:
		q := clickhouse.CandleQuery{Symbol: cfg.Backtest.Symbol, Interval: interval, Limit: limit}
		var err error
		if from != "" {
			if q.From, err = dataset.ParseTimestamp(from); err != nil {
				return nil, err
			}
		}
		if to != "" {
			if q.To, err = dataset.ParseTimestamp(to); err != nil {
				return nil, err
			}
		}
		return ch.LoadCandles(ctx, q)
	case arrowIn != "":
		f, err := os.Open(arrowIn)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		symbol, candles, err := p.ReadCandles(f)
		if err != nil {
			return nil, err
		}
		logger.Info("Loaded candles from Arrow", zap.String("symbol", symbol), zap.Int("bars", len(candles)))
		return candles, nil
	case csvFile != "":
		return dataset.LoadCSV(csvFile, logger)
	}
	return nil, engine.ErrInvalidParameter.WithDetails("one of -csv, -arrow-in or -clickhouse is required")
}

func writeJSON(path string, result *engine.BacktestResult) error {
	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func exportArrow(p *arrowpipeline.Pipeline, dir, runID string, result *engine.BacktestResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	write := func(name string, fn func(f *os.File) error) error {
		f, err := os.Create(filepath.Join(dir, runID+"_"+name+".arrow"))
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	if err := write("trades", func(f *os.File) error { return p.WriteTrades(f, result.Trades) }); err != nil {
		return fmt.Errorf("trades: %w", err)
	}
	if err := write("equity", func(f *os.File) error { return p.WriteEquity(f, result.EquityCurve) }); err != nil {
		return fmt.Errorf("equity: %w", err)
	}
	return nil
}
