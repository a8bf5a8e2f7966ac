// Command trader runs the ensemble polling loop against Binance futures (or a
// paper replay of a CSV series) and serves the dashboard
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ensemble-backtest/services/config"
	"ensemble-backtest/services/dashboard"
	"ensemble-backtest/services/dataset"
	"ensemble-backtest/services/engine"
	"ensemble-backtest/services/gateway"
	"ensemble-backtest/services/live"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		paper      = flag.Bool("paper", false, "Replay -csv through the paper gateway instead of trading")
		csvFile    = flag.String("csv", "", "Candle CSV for paper mode (overrides trader.paper_csv)")
		noDash     = flag.Bool("no-dashboard", false, "Do not start the dashboard server")
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
	if *paper {
		cfg.Trader.Paper = true
	}
	if *csvFile != "" {
		cfg.Trader.PaperCSV = *csvFile
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting trader",
		zap.String("symbol", cfg.Trader.Symbol),
		zap.String("interval", cfg.Trader.Interval),
		zap.Bool("paper", cfg.Trader.Paper),
		zap.String("environment", cfg.Environment),
	)

	gw, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize gateway", zap.Error(err))
	}

	strategy, err := engine.NewStrategy(cfg.Strategy.Kind, cfg.Strategy.Params)
	if err != nil {
		logger.Fatal("Failed to build strategy", zap.Error(err))
	}
	analyzer, ok := strategy.(live.Analyzer)
	if !ok {
		logger.Fatal("Strategy kind cannot drive the live loop", zap.String("kind", cfg.Strategy.Kind))
	}
	if ens, ok := analyzer.(*engine.Ensemble); ok {
		ens.WithLogger(logger)
	}

	risk := engine.NewRiskManager(cfg.Risk, logger)
	store := live.NewStateStore()
	trader := live.NewTrader(live.Config{
		Symbol:       cfg.Trader.Symbol,
		Interval:     cfg.Trader.Interval,
		Limit:        cfg.Trader.Limit,
		PollInterval: cfg.Trader.PollInterval,
		Asset:        cfg.Trader.Asset,
		AllowShorts:  cfg.Trader.AllowShorts,
	}, gw, analyzer, risk, store, logger)

	var wg sync.WaitGroup
	dashCtx, stopDash := context.WithCancel(context.Background())
	if !*noDash {
		pub := dashboard.NewPublisher(cfg.Dashboard, store, logger)
		wg.Add(2)
		go func() {
			defer wg.Done()
			pub.Run(dashCtx)
		}()
		go func() {
			defer wg.Done()
			if err := pub.ListenAndServe(dashCtx); err != nil {
				logger.Error("Dashboard server stopped", zap.Error(err))
			}
		}()
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	if p, ok := gw.(*gateway.Paper); ok {
		go watchReplay(runCtx, p, cfg.Trader.PollInterval, cancelRun, logger)
	}

	err = trader.Run(runCtx)
	stopDash()
	wg.Wait()

	final := store.ReadSnapshot()
	logger.Info("Trader stopped",
		zap.String("status", final.Status),
		zap.Float64("total_pnl", final.Position.TotalPnL),
		zap.Int("trades", final.Position.TradeCount),
	)
	switch {
	case errors.Is(err, engine.ErrDailyLossHalt):
		logger.Warn("Daily loss limit reached, trading halted", zap.Error(err))
		logger.Sync()
		os.Exit(2)
	case errors.Is(err, context.Canceled), err == nil:
	default:
		logger.Fatal("Trader failed", zap.Error(err))
	}
}

// watchReplay ends the run once the paper series is fully replayed
func watchReplay(ctx context.Context, p *gateway.Paper, every time.Duration, done context.CancelFunc, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.Exhausted() {
				logger.Info("Paper replay finished")
				done()
				return
			}
		}
	}
}

func buildGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (live.Gateway, error) {
	if cfg.Trader.Paper {
		if cfg.Trader.PaperCSV == "" {
			return nil, engine.ErrInvalidParameter.WithDetails("paper mode needs trader.paper_csv or -csv")
		}
		candles, err := dataset.LoadCSV(cfg.Trader.PaperCSV, logger)
		if err != nil {
			return nil, err
		}
		return gateway.NewPaper(candles, gateway.PaperConfig{
			InitialBalance: cfg.Backtest.InitialBalance,
			CommissionRate: cfg.Backtest.CommissionRate,
			SlippagePct:    cfg.Backtest.SlippagePct,
			Filters:        cfg.Binance.Filters,
			StartAt:        cfg.Trader.Limit,
		}, logger), nil
	}
	if cfg.Binance.APIKey == "" || cfg.Binance.APISecret == "" {
		return nil, engine.ErrInvalidParameter.WithDetails("BINANCE_API_KEY and BINANCE_API_SECRET are required for live trading")
	}
	b := gateway.NewBinance(cfg.Binance, logger)
	if err := b.Ping(ctx); err != nil {
		return nil, err
	}
	return b, nil
}
