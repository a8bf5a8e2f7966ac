package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ensemble-backtest/services/live"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

func DefaultConfig() Config {
	return Config{Addr: ":8080", PublishInterval: 2 * time.Second}
}

// Publisher reads the shared trading snapshot on its own cadence and pushes
// it to websocket clients. It never writes to the store.
type Publisher struct {
	cfg    Config
	store  *live.StateStore
	hub    *Hub
	logger *zap.Logger
}

func NewPublisher(cfg Config, store *live.StateStore, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = DefaultConfig().PublishInterval
	}
	return &Publisher{cfg: cfg, store: store, hub: NewHub(logger), logger: logger}
}

func (p *Publisher) Hub() *Hub { return p.hub }

func (p *Publisher) encode() ([]byte, error) {
	snap := p.store.ReadSnapshot()
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// PublishOnce broadcasts the current snapshot
func (p *Publisher) PublishOnce() error {
	b, err := p.encode()
	if err != nil {
		return err
	}
	p.hub.Broadcast(b)
	return nil
}

// Run drives the hub and publishes every PublishInterval until ctx is done
func (p *Publisher) Run(ctx context.Context) {
	go p.hub.Run(ctx)
	ticker := time.NewTicker(p.cfg.PublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PublishOnce(); err != nil {
				p.logger.Error("Snapshot publish failed", zap.Error(err))
			}
		}
	}
}

// Router serves the dashboard API:
//
//	GET /api/v1/status  current snapshot as JSON
//	GET /api/v1/health  liveness
//	GET /ws             websocket snapshot stream
func (p *Publisher) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	api := r.Group("/api/v1")
	{
		api.GET("/status", p.handleStatus)
		api.GET("/health", p.handleHealth)
	}
	r.GET("/ws", p.handleWS)
	return r
}

func (p *Publisher) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, p.store.ReadSnapshot())
}

func (p *Publisher) handleHealth(c *gin.Context) {
	snap := p.store.ReadSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"trader":     snap.Status,
		"clients":    p.hub.ClientCount(),
		"updated_at": snap.UpdatedAt,
	})
}

func (p *Publisher) handleWS(c *gin.Context) {
	initial, err := p.encode()
	if err != nil {
		p.logger.Error("Snapshot encode failed", zap.Error(err))
		initial = nil
	}
	p.hub.ServeWS(c.Writer, c.Request, initial)
}

// ListenAndServe runs the HTTP server until ctx is done
func (p *Publisher) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: p.cfg.Addr, Handler: p.Router()}
	errCh := make(chan error, 1)
	go func() {
		p.logger.Info("Starting dashboard server", zap.String("addr", p.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("dashboard server: %w", err)
	}
}
