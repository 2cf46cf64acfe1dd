package main

import (
	"fmt"
	"log"
	"os"

	"github.com/apk-analysis/dexcatalog/internal/config"
	"github.com/apk-analysis/dexcatalog/internal/repository"
)

func main() {
	// 加载配置
	configPath := "./configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = ""
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger := config.InitLogger(&cfg.Log)

	// InitDB 会执行 AutoMigrate
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	fmt.Println("✓ Migration completed successfully")
}
