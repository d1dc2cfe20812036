package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/db"
	"deepresearch/backend/internal/httpapi"
	"deepresearch/backend/internal/store"
	"deepresearch/backend/internal/workflow"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	database, err := db.Open(cfg)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer database.Close()

	st := store.NewStore(database, cfg.RunTTL)
	if err := st.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNS,
	})
	if err != nil {
		logger.Fatal("dial temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	runner := workflow.NewRunner(temporalClient, cfg.TaskQueue)
	handler := httpapi.NewRouter(cfg, st, runner, logger)

	srv := &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.ListenAddress()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
