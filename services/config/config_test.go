package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ensemble-backtest/services/engine"
)

const sampleYAML = `
environment: staging
server:
  http_port: 9000
trader:
  symbol: ETHUSDT
  poll_interval: 30s
  allow_shorts: true
risk:
  stop_loss_pct: 1.5
backtest:
  initial_balance: 5000
  warmup_bars: 40
strategy:
  kind: rsi
  params:
    period: 10
binance:
  api_key: from-file
  filters:
    qty_step: 0.01
clickhouse:
  addr: ch:9000
dashboard:
  publish_interval: 5s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Risk != engine.DefaultRiskConfig() || cfg.Backtest.InitialBalance != 10000 || cfg.Trader.PollInterval != time.Minute {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Binance.Symbol != cfg.Trader.Symbol || cfg.Backtest.Symbol != cfg.Trader.Symbol {
		t.Fatal("symbol not propagated")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	t.Setenv("BINANCE_API_KEY", "from-env")
	t.Setenv("CLICKHOUSE_PASSWORD", "pw")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Environment != "staging" || cfg.Server.HTTPPort != 9000 || cfg.Server.GRPCPort != 9091 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Trader.Symbol != "ETHUSDT" || cfg.Trader.PollInterval != 30*time.Second || !cfg.Trader.AllowShorts || cfg.Trader.Limit != 100 {
		t.Fatalf("trader = %+v", cfg.Trader)
	}
	if cfg.Risk.StopLossPct != 1.5 || cfg.Risk.TakeProfitPct != 2 || cfg.Backtest.Risk != cfg.Risk {
		t.Fatalf("risk = %+v / %+v", cfg.Risk, cfg.Backtest.Risk)
	}
	if cfg.Backtest.InitialBalance != 5000 || cfg.Backtest.WarmupBars != 40 || cfg.Backtest.CommissionRate != 0.001 {
		t.Fatalf("backtest = %+v", cfg.Backtest)
	}
	if cfg.Strategy.Kind != "rsi" || cfg.Strategy.Params["period"] != 10 {
		t.Fatalf("strategy = %+v", cfg.Strategy)
	}
	if cfg.Binance.APIKey != "from-env" || cfg.Binance.Filters.QtyStep != 0.01 || cfg.Binance.Symbol != "ETHUSDT" {
		t.Fatalf("binance = %+v", cfg.Binance)
	}
	if cfg.ClickHouse.Addr != "ch:9000" || cfg.ClickHouse.Password != "pw" || cfg.ClickHouse.Database != "backtest" {
		t.Fatalf("clickhouse = %+v", cfg.ClickHouse)
	}
	if cfg.Dashboard.PublishInterval != 5*time.Second || cfg.Log.Level != "debug" {
		t.Fatalf("dashboard/log = %+v %+v", cfg.Dashboard, cfg.Log)
	}
}

func TestEnvSymbolOverridesEverywhere(t *testing.T) {
	cfg := Default()
	env := map[string]string{"TRADER_SYMBOL": " solusdt ", "TRADER_PAPER": "false"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	if err := applyEnv(cfg, lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.Trader.Symbol != "SOLUSDT" || cfg.Binance.Symbol != "SOLUSDT" || cfg.Backtest.Symbol != "SOLUSDT" || cfg.Trader.Paper {
		t.Fatalf("cfg = %+v", cfg.Trader)
	}

	env["TRADER_PAPER"] = "maybe"
	if err := applyEnv(cfg, lookup); !errors.Is(err, engine.ErrInvalidParameter) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "backtest:\n  initial_balance: -1\nrisk:\n  stop_loss_pct: 0\n")
	_, err := Load(path)
	if !errors.Is(err, engine.ErrInvalidParameter) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "initial_balance") || !strings.Contains(err.Error(), "stop_loss_pct") {
		t.Fatalf("err = %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file should fail")
	}
	if _, err := Load(writeConfig(t, "server: [oops")); err == nil {
		t.Fatal("bad yaml should fail")
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, "risk:\n  stop_loss: 5\n"))
	if !errors.Is(err, engine.ErrInvalidParameter) || !strings.Contains(err.Error(), "stop_loss") {
		t.Fatalf("err = %v", err)
	}
	if _, err := Load(writeConfig(t, "")); err != nil {
		t.Fatalf("empty file: %v", err)
	}
}

func TestRedactedAndFingerprint(t *testing.T) {
	cfg := Default()
	cfg.Binance.APISecret = "s3cret"
	red := cfg.Redacted()
	if red.Binance.APISecret != "****" || cfg.Binance.APISecret != "s3cret" || red.Binance.APIKey != "" {
		t.Fatalf("redacted = %+v", red.Binance)
	}

	fingerprint := func(c *Config) string {
		t.Helper()
		hash, err := c.Fingerprint()
		if err != nil {
			t.Fatal(err)
		}
		return hash
	}
	other := Default()
	other.Binance.APISecret = "different"
	if fingerprint(cfg) != fingerprint(other) {
		t.Fatal("secrets must not change the fingerprint")
	}
	other.Backtest.WarmupBars = 50
	if fingerprint(cfg) == fingerprint(other) {
		t.Fatal("settings must change the fingerprint")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger(LogConfig{Level: "debug", Development: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLogger(LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expected level error")
	}
}
