// Command resample_csv aggregates a candle CSV into a coarser cadence
package main

import (
	"flag"
	"log"
	"os"

	"go.uber.org/zap"

	"ensemble-backtest/services/config"
	"ensemble-backtest/services/dataset"
	"ensemble-backtest/services/engine"
)

func main() {
	var (
		in    = flag.String("in", "", "Input CSV (timestamp,open,high,low,close,volume)")
		out   = flag.String("out", "", "Output CSV path")
		src   = flag.String("src", "5m", "Source cadence (e.g., 5m)")
		dst   = flag.String("dst", "15m", "Target cadence (e.g., 15m)")
		debug = flag.Bool("debug", false, "Development logging")
	)
	flag.Parse()

	logCfg := config.Default().Log
	if *debug {
		logCfg.Development = true
		logCfg.Level = "debug"
	}
	logger, err := config.NewLogger(logCfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if *in == "" || *out == "" {
		logger.Fatal("-in and -out are required")
	}
	srcStep, err := dataset.ParseInterval(*src)
	if err != nil {
		logger.Fatal("Invalid source cadence", zap.Error(err))
	}
	dstStep, err := dataset.ParseInterval(*dst)
	if err != nil {
		logger.Fatal("Invalid target cadence", zap.Error(err))
	}
	if dstStep%srcStep != 0 {
		logger.Fatal("Target cadence must be a multiple of the source", zap.Duration("src", srcStep), zap.Duration("dst", dstStep))
	}

	bars, err := dataset.LoadCSV(*in, logger)
	if err != nil {
		logger.Fatal("Failed to load input", zap.Error(err))
	}
	if gaps := engine.DetectGaps(bars, srcStep); len(gaps) > 0 {
		logger.Warn("Input has gaps", zap.Int("gaps", len(gaps)))
	}
	agg, err := dataset.Resample(bars, dstStep)
	if err != nil {
		logger.Fatal("Failed to resample", zap.Error(err))
	}

	f, err := os.Create(*out)
	if err != nil {
		logger.Fatal("Failed to create output", zap.Error(err))
	}
	if err := dataset.WriteCSV(f, agg); err != nil {
		_ = f.Close()
		logger.Fatal("Failed to write output", zap.Error(err))
	}
	if err := f.Close(); err != nil {
		logger.Fatal("Failed to close output", zap.Error(err))
	}
	logger.Info("Resampled", zap.Int("in_bars", len(bars)), zap.Int("out_bars", len(agg)), zap.String("out", *out))
}
