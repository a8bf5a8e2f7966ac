package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ensemble-backtest/services/arrowpipeline"
	"ensemble-backtest/services/clickhouse"
	"ensemble-backtest/services/config"
	"ensemble-backtest/services/engine"
)

const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobNoTrades  = "no_trades"
	JobFailed    = "failed"
)

// ClickHouseSource selects the candle window when the request carries no
// inline candles
type ClickHouseSource struct {
	Interval string `json:"interval"`
	From     int64  `json:"from_ms"`
	To       int64  `json:"to_ms"`
	Limit    int    `json:"limit"`
}

type BacktestRunRequest struct {
	Symbol           string             `json:"symbol"`
	Strategy         string             `json:"strategy"`
	Params           map[string]float64 `json:"params"`
	Candles          []engine.Candle    `json:"candles"`
	ClickHouse       *ClickHouseSource  `json:"clickhouse"`
	InitialBalance   float64            `json:"initial_balance"`
	CommissionRate   *float64           `json:"commission_rate"`
	SlippagePct      *float64           `json:"slippage_pct"`
	WarmupBars       *int               `json:"warmup_bars"`
	EnforceDailyLoss bool               `json:"enforce_daily_loss"`
	Risk             *engine.RiskConfig `json:"risk"`
	Persist          bool               `json:"persist"`
}

type BacktestRunResponse struct {
	JobID  string        `json:"job_id"`
	Status string        `json:"status"`
	Error  *engine.Error `json:"error,omitempty"`
}

// RunManifest ties a result to its inputs
type RunManifest struct {
	JobID      string    `json:"job_id"`
	Symbol     string    `json:"symbol"`
	Strategy   string    `json:"strategy"`
	Bars       int       `json:"bars"`
	FirstBar   time.Time `json:"first_bar"`
	LastBar    time.Time `json:"last_bar"`
	ConfigHash string    `json:"config_hash"`
	CreatedAt  time.Time `json:"created_at"`
}

type Job struct {
	JobID       string                 `json:"job_id"`
	Status      string                 `json:"status"`
	Results     *engine.BacktestResult `json:"results,omitempty"`
	Error       *engine.Error          `json:"error,omitempty"`
	Manifest    *RunManifest           `json:"manifest,omitempty"`
	SubmittedAt time.Time              `json:"submitted_at"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`

	req BacktestRunRequest
}

// candleStore is the part of the ClickHouse client the service needs
type candleStore interface {
	LoadCandles(ctx context.Context, q clickhouse.CandleQuery) ([]engine.Candle, error)
	EnsureTradesTable(ctx context.Context) error
	InsertTrades(ctx context.Context, runID, symbol string, res *engine.BacktestResult) error
}

// BacktestService runs backtest jobs on a bounded worker pool and keeps the
// results in memory
type BacktestService struct {
	config        *config.Config
	clickhouse    candleStore
	arrowPipeline *arrowpipeline.Pipeline
	logger        *zap.Logger
	configHash    string

	mu    sync.RWMutex
	jobs  map[string]*Job
	queue chan *Job
	wg    sync.WaitGroup
}

func NewBacktestService(cfg *config.Config, store candleStore, logger *zap.Logger) *BacktestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	hash, err := cfg.Fingerprint()
	if err != nil {
		logger.Warn("Config fingerprint unavailable", zap.Error(err))
	}
	return &BacktestService{
		config:        cfg,
		clickhouse:    store,
		arrowPipeline: arrowpipeline.NewPipeline(cfg.Arrow, logger),
		logger:        logger,
		configHash:    hash,
		jobs:          make(map[string]*Job),
		queue:         make(chan *Job, 64),
	}
}

// Start launches the workers; they exit when ctx is done
func (s *BacktestService) Start(ctx context.Context) {
	numWorkers := runtime.NumCPU()
	if s.config.Server.MaxWorkers > 0 {
		numWorkers = s.config.Server.MaxWorkers
	}
	s.logger.Info("Starting backtest workers", zap.Int("workers", numWorkers))
	for i := 0; i < numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
}

// Wait blocks until every worker has exited
func (s *BacktestService) Wait() { s.wg.Wait() }

func (s *BacktestService) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			s.logger.Debug("Worker processing job", zap.Int("worker_id", workerID), zap.String("job_id", job.JobID))
			s.execute(ctx, job)
		}
	}
}

// Submit validates the request, registers a job and queues it
func (s *BacktestService) Submit(req BacktestRunRequest) (*Job, error) {
	if len(req.Candles) == 0 && req.ClickHouse == nil {
		return nil, engine.ErrInvalidParameter.WithDetails("request needs candles or a clickhouse source")
	}
	if req.ClickHouse != nil && s.clickhouse == nil {
		return nil, engine.ErrDataUnavailable.WithDetails("clickhouse is not configured")
	}
	if err := s.simConfig(req).Validate(); err != nil {
		return nil, err
	}
	job := &Job{JobID: uuid.New().String(), Status: JobQueued, SubmittedAt: time.Now().UTC(), req: req}
	s.mu.Lock()
	s.jobs[job.JobID] = job
	s.mu.Unlock()

	select {
	case s.queue <- job:
	default:
		s.finish(job, nil, engine.ErrInvalidParameter.WithDetails("job queue is full"), nil)
		return nil, engine.ErrInvalidParameter.WithDetails("job queue is full, retry later")
	}
	s.logger.Info("Backtest job queued", zap.String("job_id", job.JobID), zap.String("strategy", req.Strategy))
	return job, nil
}

// Job returns a copy of the job state
func (s *BacktestService) Job(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func (s *BacktestService) setStatus(job *Job, status string) {
	s.mu.Lock()
	job.Status = status
	s.mu.Unlock()
}

func (s *BacktestService) finish(job *Job, res *engine.BacktestResult, err *engine.Error, manifest *RunManifest) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	job.FinishedAt = &now
	job.Manifest = manifest
	switch {
	case err == nil:
		job.Status = JobCompleted
		job.Results = res
	case err.Code == engine.ErrNoTrades.Code:
		job.Status = JobNoTrades
		job.Error = err
	default:
		job.Status = JobFailed
		job.Error = err
	}
}

// simConfig merges the request overrides into the configured simulator
// settings
func (s *BacktestService) simConfig(req BacktestRunRequest) engine.SimulatorConfig {
	simCfg := s.config.Backtest
	if req.Symbol != "" {
		simCfg.Symbol = req.Symbol
	}
	if req.InitialBalance > 0 {
		simCfg.InitialBalance = req.InitialBalance
	}
	if req.CommissionRate != nil {
		simCfg.CommissionRate = *req.CommissionRate
	}
	if req.SlippagePct != nil {
		simCfg.SlippagePct = *req.SlippagePct
	}
	if req.WarmupBars != nil {
		simCfg.WarmupBars = *req.WarmupBars
	}
	if req.Risk != nil {
		simCfg.Risk = *req.Risk
	}
	simCfg.EnforceDailyLoss = simCfg.EnforceDailyLoss || req.EnforceDailyLoss
	return simCfg
}

func (s *BacktestService) execute(ctx context.Context, job *Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Backtest job panicked", zap.String("job_id", job.JobID), zap.Any("panic", r))
			s.finish(job, nil, engine.ErrInvalidParameter.WithDetails(fmt.Sprint(r)), nil)
		}
	}()
	s.setStatus(job, JobRunning)
	req := job.req

	simCfg := s.simConfig(req)
	kind := req.Strategy
	if kind == "" {
		kind = s.config.Strategy.Kind
	}
	params := req.Params
	if params == nil {
		params = s.config.Strategy.Params
	}

	candles := req.Candles
	if len(candles) == 0 {
		var err error
		candles, err = s.loadMarketData(ctx, simCfg.Symbol, req.ClickHouse)
		if err != nil {
			s.logger.Error("Backtest data load failed", zap.String("job_id", job.JobID), zap.Error(err))
			s.finish(job, nil, asEngineError(err), nil)
			return
		}
	}

	manifest := &RunManifest{
		JobID:      job.JobID,
		Symbol:     simCfg.Symbol,
		Strategy:   kind,
		Bars:       len(candles),
		FirstBar:   candles[0].OpenTime,
		LastBar:    candles[len(candles)-1].OpenTime,
		ConfigHash: s.configHash,
		CreatedAt:  time.Now().UTC(),
	}

	sim := engine.NewSimulator(simCfg, s.logger)
	res, err := sim.RunStrategy(candles, kind, params)
	if err != nil {
		s.logger.Info("Backtest finished without result", zap.String("job_id", job.JobID), zap.Error(err))
		s.finish(job, nil, asEngineError(err), manifest)
		return
	}
	if req.Persist && s.clickhouse != nil {
		if err := s.clickhouse.EnsureTradesTable(ctx); err == nil {
			err = s.clickhouse.InsertTrades(ctx, job.JobID, simCfg.Symbol, res)
			if err != nil {
				s.logger.Error("Failed to persist trades", zap.String("job_id", job.JobID), zap.Error(err))
			}
		} else {
			s.logger.Error("Failed to prepare trades table", zap.Error(err))
		}
	}
	s.finish(job, res, nil, manifest)
	s.logger.Info("Backtest completed",
		zap.String("job_id", job.JobID),
		zap.Duration("execution_time", time.Since(start)),
		zap.Int("trades", res.Summary.TotalTrades),
	)
}

func (s *BacktestService) loadMarketData(ctx context.Context, symbol string, src *ClickHouseSource) ([]engine.Candle, error) {
	q := clickhouse.CandleQuery{Symbol: symbol, Interval: src.Interval, Limit: src.Limit}
	if q.Interval == "" {
		q.Interval = "1m"
	}
	if src.From > 0 {
		q.From = time.UnixMilli(src.From)
	}
	if src.To > 0 {
		q.To = time.UnixMilli(src.To)
	}
	candles, err := s.clickhouse.LoadCandles(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load market data: %w", err)
	}
	return candles, nil
}

// asEngineError keeps taxonomy errors as they are and folds anything else
// into DATA_UNAVAILABLE with the original message as details
func asEngineError(err error) *engine.Error {
	var ee *engine.Error
	if errors.As(err, &ee) {
		return ee
	}
	return engine.ErrDataUnavailable.WithDetails(err.Error())
}
