// Package main implements the backtesting service: an HTTP job API with an
// in-process worker pool and a gRPC health endpoint
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ensemble-backtest/services/clickhouse"
	"ensemble-backtest/services/config"
)

const serviceName = "ensemble.backtest"

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		withCH     = flag.Bool("clickhouse", false, "Connect to ClickHouse for candle sources and trade persistence")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	hash, err := cfg.Fingerprint()
	if err != nil {
		logger.Warn("Config fingerprint unavailable", zap.Error(err))
	}
	logger.Info("Starting backtesting service",
		zap.String("environment", cfg.Environment),
		zap.String("config_hash", hash),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store candleStore
	if *withCH {
		ch, err := clickhouse.Open(ctx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Fatal("Failed to create ClickHouse client", zap.Error(err))
		}
		defer ch.Close()
		store = ch
	}

	service := NewBacktestService(cfg, store, logger)
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	service.Start(workerCtx)

	// Setup gRPC server
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	httpRouter := gin.New()
	httpRouter.Use(gin.Recovery())
	service.setupHTTPRoutes(httpRouter)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}
	go func() {
		logger.Info("Starting gRPC server", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down servers...")
	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	stopWorkers()
	service.Wait()
	logger.Info("Servers stopped")
}
