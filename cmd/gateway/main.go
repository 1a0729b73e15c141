package main

import (
	"os"
	"os/signal"
	"syscall"

	"exgateway/config"
	"exgateway/internal/credentials"
	"exgateway/internal/gateway"
	"exgateway/logger"
	"exgateway/pkg/storage/postgres"
	"exgateway/pkg/storage/redis"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	// shared rate-state / trade-cache store
	store, err := redis.NewClient(cfg.Redis, log)
	if err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	defer store.Close()

	// order audit DB; the gateway runs without it
	audit, err := postgres.InitializeAndMigrateAudit(cfg.Postgres, cfg.Log.Environment, true)
	if err != nil {
		log.Warn("audit database unavailable, order auditing disabled", zap.Error(err))
		audit = nil
	} else {
		defer audit.Close()
	}

	creds, err := credentials.FromConfig(cfg.Credentials)
	if err != nil {
		log.Fatal("credential store setup failed", zap.Error(err))
	}

	gw := gateway.New(cfg, store, creds, audit, log)
	gw.Start()
	log.Info("gateway started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	gw.Stop()
}
