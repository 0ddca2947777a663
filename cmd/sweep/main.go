package main

import (
	"context"
	"log"
	"time"

	"studyshelf/config"
	"studyshelf/services"
	"studyshelf/storage"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// One-shot storage verification sweep. Intended for external schedulers
// (systemd timers, Kubernetes CronJobs) as an alternative to the
// in-process cron of the API server.
func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}

	store, err := storage.NewStore(cfg)
	if err != nil {
		logging.Fatal("Object store client creation failed", zap.Error(err))
	}

	catalog := services.NewCatalogService(db, store, logging, cfg.ExistenceBatchSize)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	missing, err := catalog.Sweep(ctx)
	if err != nil {
		logging.Fatal("Sweep failed", zap.Error(err))
	}
	logging.Info("Sweep finished", zap.Int("missing", missing))
}
