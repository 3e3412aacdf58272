package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/agenthands/catalog-dedup/internal/config"
	"github.com/agenthands/catalog-dedup/internal/logging"
	"github.com/agenthands/catalog-dedup/internal/server"
)

func main() {
	envErr := godotenv.Load()

	logger, err := logging.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if envErr != nil {
		logger.Info("no .env file found, using environment only")
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.toml"
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if err := cfg.ApplyEnv(); err != nil {
		logger.Fatal("invalid environment override", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, closeStore, err := server.NewServerFromConfig(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer func() { _ = closeStore() }()

	if os.Getenv("LOG_LEVEL") != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server",
			zap.String("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Backend),
			zap.String("provider", cfg.LLM.Provider))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
