package clickhouse

import (
	"context"
	"fmt"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"
)

type Config struct {
	Addr        string        `yaml:"addr"`
	Database    string        `yaml:"database"`
	Table       string        `yaml:"table"`
	TradesTable string        `yaml:"trades_table"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Addr:        "localhost:9000",
		Database:    "backtest",
		Table:       "data",
		TradesTable: "backtest_trades",
		User:        "backtest",
		DialTimeout: 10 * time.Second,
	}
}

// Rows is the subset of driver rows the client reads
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Batch is the subset of a prepared insert batch the client uses
type Batch interface {
	Append(v ...any) error
	Send() error
	Abort() error
}

type backend interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string) (Batch, error)
	Close() error
}

// nativeBackend adapts a clickhouse-go native connection
type nativeBackend struct{ conn clickhouse.Conn }

func (n nativeBackend) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := n.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (n nativeBackend) Exec(ctx context.Context, query string, args ...any) error {
	return n.conn.Exec(ctx, query, args...)
}

func (n nativeBackend) PrepareBatch(ctx context.Context, query string) (Batch, error) {
	b, err := n.conn.PrepareBatch(ctx, query)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (n nativeBackend) Close() error { return n.conn.Close() }

// Client loads candles from and persists backtest trades to ClickHouse
type Client struct {
	cfg    Config
	db     backend
	logger *zap.Logger
	now    func() time.Time
}

// Open connects over the native protocol and pings the server
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.Table == "" {
		cfg.Table = def.Table
	}
	if cfg.TradesTable == "" {
		cfg.TradesTable = def.TradesTable
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	logger.Info("Connected to ClickHouse", zap.String("addr", cfg.Addr), zap.String("database", cfg.Database))
	return newClient(cfg, nativeBackend{conn: conn}, logger), nil
}

func newClient(cfg Config, db backend, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, db: db, logger: logger, now: time.Now}
}

func (c *Client) Close() error { return c.db.Close() }

func (c *Client) table(name string) string {
	return c.cfg.Database + "." + name
}
