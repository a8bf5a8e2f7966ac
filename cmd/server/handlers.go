package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ensemble-backtest/services/engine"
)

const arrowStreamMIME = "application/vnd.apache.arrow.stream"

func (s *BacktestService) setupHTTPRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtest", s.handleBacktestRequest)
		api.GET("/backtest/:job_id", s.handleGetBacktestResult)
		api.GET("/backtest/:job_id/report", s.handleGetReport)
		api.GET("/backtest/:job_id/trades.arrow", s.handleGetTradesArrow)
		api.GET("/backtest/:job_id/equity.arrow", s.handleGetEquityArrow)
		api.GET("/strategies", s.handleStrategies)
		api.GET("/health", s.handleHealthCheck)
	}
}

func httpStatus(err *engine.Error) int {
	switch err.Code {
	case engine.ErrInvalidParameter.Code:
		return http.StatusBadRequest
	case engine.ErrDataUnavailable.Code:
		return http.StatusServiceUnavailable
	case engine.ErrNoTrades.Code:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err *engine.Error) {
	c.AbortWithStatusJSON(httpStatus(err), gin.H{"error": err})
}

func (s *BacktestService) handleBacktestRequest(c *gin.Context) {
	var req BacktestRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, engine.ErrInvalidParameter.WithDetails(err.Error()))
		return
	}
	job, err := s.Submit(req)
	if err != nil {
		s.logger.Warn("Backtest request rejected", zap.Error(err))
		abortWithError(c, asEngineError(err))
		return
	}
	c.JSON(http.StatusAccepted, BacktestRunResponse{JobID: job.JobID, Status: JobQueued})
}

func (s *BacktestService) lookup(c *gin.Context) (Job, bool) {
	job, ok := s.Job(c.Param("job_id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": &engine.Error{Code: "NOT_FOUND", Message: "Unknown job", Details: c.Param("job_id")}})
		return Job{}, false
	}
	return job, true
}

// finished returns the result of a completed job or writes the reason there
// is none
func (s *BacktestService) finished(c *gin.Context) (*engine.BacktestResult, bool) {
	job, ok := s.lookup(c)
	if !ok {
		return nil, false
	}
	switch job.Status {
	case JobCompleted:
		return job.Results, true
	case JobQueued, JobRunning:
		c.AbortWithStatusJSON(http.StatusConflict, BacktestRunResponse{JobID: job.JobID, Status: job.Status})
	default:
		abortWithError(c, job.Error)
	}
	return nil, false
}

func (s *BacktestService) handleGetBacktestResult(c *gin.Context) {
	if job, ok := s.lookup(c); ok {
		c.JSON(http.StatusOK, job)
	}
}

func (s *BacktestService) handleGetReport(c *gin.Context) {
	job, ok := s.lookup(c)
	if !ok {
		return
	}
	switch job.Status {
	case JobCompleted:
		c.String(http.StatusOK, engine.RenderReport(job.Results))
	case JobNoTrades:
		c.String(http.StatusOK, engine.RenderReport(nil))
	case JobFailed:
		abortWithError(c, job.Error)
	default:
		c.AbortWithStatusJSON(http.StatusConflict, BacktestRunResponse{JobID: job.JobID, Status: job.Status})
	}
}

func (s *BacktestService) handleGetTradesArrow(c *gin.Context) {
	res, ok := s.finished(c)
	if !ok {
		return
	}
	c.Header("Content-Type", arrowStreamMIME)
	c.Status(http.StatusOK)
	if err := s.arrowPipeline.WriteTrades(c.Writer, res.Trades); err != nil {
		s.logger.Error("Arrow trades export failed", zap.Error(err))
	}
}

func (s *BacktestService) handleGetEquityArrow(c *gin.Context) {
	res, ok := s.finished(c)
	if !ok {
		return
	}
	c.Header("Content-Type", arrowStreamMIME)
	c.Status(http.StatusOK)
	if err := s.arrowPipeline.WriteEquity(c.Writer, res.EquityCurve); err != nil {
		s.logger.Error("Arrow equity export failed", zap.Error(err))
	}
}

func (s *BacktestService) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": engine.StrategyKinds()})
}

func (s *BacktestService) handleHealthCheck(c *gin.Context) {
	s.mu.RLock()
	jobs := len(s.jobs)
	s.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"jobs":        jobs,
		"config_hash": s.configHash,
	})
}
