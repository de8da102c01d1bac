package main

import (
	"flag"
	"log"

	"github.com/jobs/runengine/internal/orm"
	"github.com/jobs/runengine/pkg/config"
	"github.com/jobs/runengine/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// 无论配置如何都执行迁移
	dbConfig := cfg.Database
	dbConfig.AutoMigrate = true

	storage, err := orm.New(dbConfig)
	if err != nil {
		zapLogger.Fatal("Migration failed", zap.Error(err))
	}
	defer storage.Close()

	zapLogger.Info("Migration completed",
		zap.String("driver", dbConfig.Driver),
		zap.Int("tables", len(orm.Models())))
}
