// Command ingest loads candles into ClickHouse from the monthly kline
// archive or a local CSV, then derives coarser intervals server side
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"ensemble-backtest/services/clickhouse"
	"ensemble-backtest/services/config"
	"ensemble-backtest/services/dataset"
	"ensemble-backtest/services/engine"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		symbols    = flag.String("symbols", "", "Comma separated symbols (default: trader symbol)")
		interval   = flag.String("interval", "1m", "Interval to ingest")
		startYM    = flag.String("start", "", "First month YYYY-MM to download")
		endYM      = flag.String("end", "", "Last month YYYY-MM to download (default: start)")
		archiveURL = flag.String("archive-url", dataset.DefaultArchiveURL, "Kline archive base URL")
		market     = flag.String("market", "spot", "Archive market: spot or futures/um")
		csvFile    = flag.String("csv", "", "Ingest this CSV instead of downloading (single symbol)")
		derive     = flag.String("derive", "5m,15m", "Comma separated intervals to derive from -interval (empty to skip)")
		debug      = flag.Bool("debug", false, "Development logging")
	)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syms := splitList(strings.ToUpper(*symbols))
	if len(syms) == 0 {
		syms = []string{cfg.Trader.Symbol}
	}
	if _, err := dataset.ParseInterval(*interval); err != nil {
		logger.Fatal("Invalid interval", zap.Error(err))
	}

	ch, err := clickhouse.Open(ctx, cfg.ClickHouse, logger)
	if err != nil {
		logger.Fatal("Failed to connect to ClickHouse", zap.Error(err))
	}
	defer ch.Close()
	if err := ch.EnsureCandleTable(ctx); err != nil {
		logger.Fatal("Failed to create candle table", zap.Error(err))
	}

	switch {
	case *csvFile != "":
		if len(syms) != 1 {
			logger.Fatal("CSV ingestion takes exactly one symbol", zap.Strings("symbols", syms))
		}
		candles, err := dataset.LoadCSV(*csvFile, logger)
		if err != nil {
			logger.Fatal("Failed to load CSV", zap.Error(err))
		}
		if _, err := ch.InsertCandles(ctx, syms[0], *interval, candles); err != nil {
			logger.Fatal("Failed to insert candles", zap.Error(err))
		}
	case *startYM != "":
		end := *endYM
		if end == "" {
			end = *startYM
		}
		months, err := dataset.MonthRange(*startYM, end)
		if err != nil {
			logger.Fatal("Invalid month range", zap.Error(err))
		}
		archive := dataset.NewArchive(*archiveURL, *market, logger)
		total := 0
		for _, sym := range syms {
			for _, m := range months {
				if ctx.Err() != nil {
					logger.Fatal("Interrupted", zap.Int("rows", total))
				}
				candles, err := archive.FetchMonth(ctx, sym, *interval, m)
				if err != nil {
					// a missing month must not abort the remaining ones
					if errors.Is(err, engine.ErrDataUnavailable) {
						logger.Warn("Skipping month", zap.String("symbol", sym), zap.String("month", m.Format("2006-01")), zap.Error(err))
						continue
					}
					logger.Fatal("Failed to fetch month", zap.Error(err))
				}
				n, err := ch.InsertCandles(ctx, sym, *interval, candles)
				if err != nil {
					logger.Fatal("Failed to insert candles", zap.Error(err))
				}
				total += n
			}
		}
		logger.Info("Archive ingestion finished", zap.Int("rows", total))
	default:
		logger.Info("No source given, deriving only")
	}

	for _, target := range splitList(*derive) {
		step, err := dataset.ParseInterval(target)
		if err != nil {
			logger.Fatal("Invalid derive interval", zap.Error(err))
		}
		if err := ch.DeriveInterval(ctx, *interval, target, step); err != nil {
			logger.Fatal("Failed to derive interval", zap.String("target", target), zap.Error(err))
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
