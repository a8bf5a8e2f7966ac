// Package config loads service configuration: defaults, then an optional
// YAML file, then environment overrides
package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ensemble-backtest/services/arrowpipeline"
	"ensemble-backtest/services/clickhouse"
	"ensemble-backtest/services/dashboard"
	"ensemble-backtest/services/engine"
	"ensemble-backtest/services/gateway"
)

type Config struct {
	Environment string                 `yaml:"environment" json:"environment"`
	Log         LogConfig              `yaml:"log" json:"log"`
	Server      ServerConfig           `yaml:"server" json:"server"`
	Trader      TraderConfig           `yaml:"trader" json:"trader"`
	Risk        engine.RiskConfig      `yaml:"risk" json:"risk"`
	Backtest    engine.SimulatorConfig `yaml:"backtest" json:"backtest"`
	Strategy    StrategyConfig         `yaml:"strategy" json:"strategy"`
	Binance     gateway.BinanceConfig  `yaml:"binance" json:"binance"`
	ClickHouse  clickhouse.Config      `yaml:"clickhouse" json:"clickhouse"`
	Dashboard   dashboard.Config       `yaml:"dashboard" json:"dashboard"`
	Arrow       arrowpipeline.Config   `yaml:"arrow" json:"arrow"`
}

type LogConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

type ServerConfig struct {
	HTTPPort   int `yaml:"http_port" json:"http_port"`
	GRPCPort   int `yaml:"grpc_port" json:"grpc_port"`
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`
}

type TraderConfig struct {
	Symbol       string        `yaml:"symbol" json:"symbol"`
	Interval     string        `yaml:"interval" json:"interval"`
	Limit        int           `yaml:"limit" json:"limit"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	Asset        string        `yaml:"asset" json:"asset"`
	AllowShorts  bool          `yaml:"allow_shorts" json:"allow_shorts"`
	Paper        bool          `yaml:"paper" json:"paper"`
	// PaperCSV is the candle file replayed in paper mode
	PaperCSV string `yaml:"paper_csv" json:"paper_csv"`
}

// StrategyConfig selects the signal source by registry kind
type StrategyConfig struct {
	Kind   string             `yaml:"kind" json:"kind"`
	Params map[string]float64 `yaml:"params" json:"params"`
}

func Default() *Config {
	return &Config{
		Environment: "development",
		Log:         LogConfig{Level: "info"},
		Server:      ServerConfig{HTTPPort: 8081, GRPCPort: 9091},
		Trader: TraderConfig{
			Symbol:       "BTCUSDT",
			Interval:     "1m",
			Limit:        100,
			PollInterval: 60 * time.Second,
			Asset:        "USDT",
			Paper:        true,
		},
		Risk:     engine.DefaultRiskConfig(),
		Backtest: engine.DefaultSimulatorConfig(),
		Strategy: StrategyConfig{Kind: "ensemble", Params: map[string]float64{}},
		Binance: gateway.BinanceConfig{
			BaseURL:    gateway.TestnetURL,
			Filters:    gateway.SymbolFilters{QtyStep: 0.001, PriceTick: 0.1, NotionalMin: 5},
			RecvWindow: 5 * time.Second,
			Timeout:    10 * time.Second,
		},
		ClickHouse: clickhouse.DefaultConfig(),
		Dashboard:  dashboard.DefaultConfig(),
		Arrow:      arrowpipeline.DefaultConfig(),
	}
}

// Load builds the configuration. An empty path skips the file; a path that
// does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, engine.ErrInvalidParameter.WithDetails(fmt.Sprintf("failed to parse config %s: %v", path, err))
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	// one risk section drives both the live loop and the simulator
	cfg.Backtest.Risk = cfg.Risk
	if cfg.Backtest.Symbol == "" {
		cfg.Backtest.Symbol = cfg.Trader.Symbol
	}
	if cfg.Binance.Symbol == "" {
		cfg.Binance.Symbol = cfg.Trader.Symbol
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("ENVIRONMENT", &cfg.Environment)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("BINANCE_API_KEY", &cfg.Binance.APIKey)
	str("BINANCE_API_SECRET", &cfg.Binance.APISecret)
	str("BINANCE_BASE_URL", &cfg.Binance.BaseURL)
	str("CLICKHOUSE_ADDR", &cfg.ClickHouse.Addr)
	str("CLICKHOUSE_USER", &cfg.ClickHouse.User)
	str("CLICKHOUSE_PASSWORD", &cfg.ClickHouse.Password)
	str("CLICKHOUSE_DATABASE", &cfg.ClickHouse.Database)
	str("DASHBOARD_ADDR", &cfg.Dashboard.Addr)

	if v, ok := lookup("TRADER_SYMBOL"); ok && strings.TrimSpace(v) != "" {
		sym := strings.ToUpper(strings.TrimSpace(v))
		cfg.Trader.Symbol = sym
		cfg.Backtest.Symbol = sym
		cfg.Binance.Symbol = sym
	}
	if v, ok := lookup("TRADER_PAPER"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return engine.ErrInvalidParameter.WithDetails("TRADER_PAPER: " + err.Error())
		}
		cfg.Trader.Paper = b
	}
	return nil
}

// Validate rejects values no component can run with
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}
	check(c.Trader.Symbol != "", "trader.symbol is required")
	check(c.Trader.Limit > 0, "trader.limit must be positive")
	check(c.Trader.PollInterval > 0, "trader.poll_interval must be positive")
	check(c.Risk.MaxPositionSizePct > 0 && c.Risk.MaxPositionSizePct <= 100, "risk.max_position_size_pct must be in (0, 100]")
	check(c.Risk.StopLossPct > 0, "risk.stop_loss_pct must be positive")
	check(c.Risk.TakeProfitPct > 0, "risk.take_profit_pct must be positive")
	check(c.Risk.MaxDailyLossPct > 0, "risk.max_daily_loss_pct must be positive")
	check(c.Backtest.InitialBalance > 0, "backtest.initial_balance must be positive")
	check(c.Backtest.CommissionRate >= 0, "backtest.commission_rate must not be negative")
	check(c.Backtest.SlippagePct >= 0, "backtest.slippage_pct must not be negative")
	check(c.Backtest.WarmupBars >= 0, "backtest.warmup_bars must not be negative")
	check(c.Backtest.PositionFraction > 0 && c.Backtest.PositionFraction <= 1, "backtest.position_fraction must be in (0, 1]")
	check(c.Server.HTTPPort > 0 && c.Server.HTTPPort < 65536, "server.http_port out of range")
	check(c.Server.GRPCPort > 0 && c.Server.GRPCPort < 65536, "server.grpc_port out of range")
	if len(errs) > 0 {
		return engine.ErrInvalidParameter.WithDetails(errors.Join(errs...).Error())
	}
	return nil
}

// Redacted is a copy safe to log: credentials are masked
func (c *Config) Redacted() Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	out.Binance.APIKey = mask(out.Binance.APIKey)
	out.Binance.APISecret = mask(out.Binance.APISecret)
	out.ClickHouse.Password = mask(out.ClickHouse.Password)
	return out
}

// Fingerprint is a sha256 over the redacted configuration rendered as YAML,
// recorded in run manifests so a result can be traced to its settings
func (c *Config) Fingerprint() (string, error) {
	redacted := c.Redacted()
	b, err := yaml.Marshal(&redacted)
	if err != nil {
		return "", fmt.Errorf("fingerprint config: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(b)), nil
}
