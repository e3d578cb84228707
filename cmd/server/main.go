package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"waybill/internal/audit"
	"waybill/internal/commons"
	"waybill/internal/config"
	"waybill/internal/infrastructure/logger"
	"waybill/internal/infrastructure/mysql"
	"waybill/internal/kafka"
	"waybill/internal/order"
	"waybill/internal/server"
)

const configPath = "internal/config/config.yaml"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var db *sql.DB
	if cfg.Queue.Store == "mysql" {
		db, err = mysql.NewConnection(cfg.Database)
		if err != nil {
			zapLogger.Fatal("connecting to database", zap.Error(err))
		}
		defer db.Close()
		zapLogger.Info("database connected")
	}

	var sinks []audit.Sink
	if cfg.Kafka.Enabled {
		emitter := kafka.NewEmitter(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Buffer, zapLogger)
		emitter.Start(ctx)
		sinks = append(sinks, emitter)
		zapLogger.Info("kafka emitter started", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	module, err := order.NewModule(cfg, db, sinks, zapLogger)
	if err != nil {
		zapLogger.Fatal("wiring engine", zap.Error(err))
	}

	module.TaskQueue.Start(ctx, cfg.Queue.DrainInterval, module.Monitor.Subscribe())

	// Background invoice sweep over recently fetched orders.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				module.Invoices.Sweep(ctx, module.Cache.All())
			}
		}
	}()

	router := server.NewRouter(module.Orders, module.Queue, zapLogger)
	srv := server.New(cfg.Server.Port, router, zapLogger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			zapLogger.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	zapLogger.Info("received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Fatal("server shutdown failed", zap.Error(err))
	}

	zapLogger.Info("server stopped gracefully")
}

// loadConfig prefers the YAML file when it is present and falls back to
// environment variables for containerized deployments.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		return commons.LoadConfig(configPath)
	}
	return config.Load()
}
