package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apk-analysis/dexcatalog/internal/api"
	"github.com/apk-analysis/dexcatalog/internal/config"
	"github.com/apk-analysis/dexcatalog/internal/middleware"
	"github.com/apk-analysis/dexcatalog/internal/packer"
	"github.com/apk-analysis/dexcatalog/internal/queue"
	"github.com/apk-analysis/dexcatalog/internal/repository"
	"github.com/apk-analysis/dexcatalog/internal/service"
	"github.com/apk-analysis/dexcatalog/internal/watcher"
	"github.com/apk-analysis/dexcatalog/internal/worker"
)

var (
	Version   = api.Version
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 1. 打印版本信息
	fmt.Printf("DEX Catalog Server\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 2. 加载配置
	configPath := "./configs/config.yaml"
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		configPath = os.Args[2]
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// 没有配置文件时只用默认值和环境变量
		configPath = ""
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 3. 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting DEX Catalog Server %s", Version)
	logger.Infof("Config loaded from: %q", configPath)

	// 4. 初始化数据库（包含自动迁移）
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	logger.WithField("type", cfg.Database.Type).Info("Database connected successfully")
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	// 5. 初始化 Prometheus 指标
	var promMetrics *middleware.PrometheusMetrics
	if cfg.Metrics.Enabled {
		promMetrics = middleware.NewPrometheusMetrics(logger, "dexcatalog", nil)
		logger.Info("Prometheus metrics initialized")
	}

	// 6. 启动内存监控
	memMonitor := middleware.NewMemoryMonitor(logger, 30*time.Second, func(stats middleware.MemoryStats) {
		if promMetrics != nil {
			promMetrics.UpdateMemoryStats(stats)
		}
	})
	memMonitor.Start()
	defer memMonitor.Stop()
	logger.Info("Memory monitor started")

	// 7. 加固识别规则
	rules := packer.BuiltinRules()
	if cfg.Packer.RulesFile != "" {
		rules, err = packer.LoadRules(cfg.Packer.RulesFile)
		if err != nil {
			logger.Fatalf("Failed to load packer rules: %v", err)
		}
	}
	detector := packer.NewDetector(logger, rules)
	logger.WithField("rules", len(rules)).Info("Packer detector initialized")

	// 8. 初始化 Worker Pool（导出 smali 时并行写文件）
	workerPool := worker.NewPool(cfg.Worker.Concurrency, cfg.Worker.QueueSize, logger)
	workerPool.Start(context.Background())
	defer workerPool.Stop()
	logger.Infof("Worker pool started with %d workers", cfg.Worker.Concurrency)

	// 9. 初始化 Services
	catalogRepo := repository.NewCatalogRepository(db)
	var renderCache repository.RenderCacheRepository
	if cfg.Catalog.CacheRenders {
		renderCache, err = repository.NewRenderCacheRepository(db)
		if err != nil {
			logger.Fatalf("Failed to init render cache: %v", err)
		}
	}

	var metrics service.Metrics
	if promMetrics != nil {
		metrics = promMetrics
	}
	catalogService := service.NewCatalogService(catalogRepo, renderCache, workerPool, detector, metrics, logger, service.Options{
		APILevel:     cfg.Catalog.APILevel,
		DebugInfo:    cfg.Catalog.DebugInfo,
		CacheRenders: cfg.Catalog.CacheRenders,
		MaxOpen:      cfg.Catalog.MaxOpen,
	})
	// 在监控和消费者停止之后关闭所有目录
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		catalogService.Shutdown(ctx)
	}()

	// 清理上次进程遗留的目录记录（目录只存在于内存中）
	if n, err := catalogService.MarkStale(context.Background()); err != nil {
		logger.WithError(err).Warn("Failed to mark stale catalogs")
	} else if n > 0 {
		logger.WithField("count", n).Info("Stale catalogs marked as closed")
	}

	// 启动指标更新协程
	go reportStats(db, workerPool, cfg.Worker.Concurrency, promMetrics)

	// 10. 初始化 RabbitMQ（可选）
	var events queue.EventPublisher
	if cfg.RabbitMQ.Enabled {
		mqConfig := &queue.RabbitMQConfig{
			Host:     cfg.RabbitMQ.Host,
			Port:     cfg.RabbitMQ.Port,
			User:     cfg.RabbitMQ.User,
			Password: cfg.RabbitMQ.Password,
			VHost:    cfg.RabbitMQ.VHost,
		}

		// 请求与事件共用一个会话，prefetch 与 worker 数量一致
		broker, err := queue.Dial(mqConfig, queue.Topology{
			Exchange:     cfg.RabbitMQ.Exchange,
			RequestQueue: cfg.RabbitMQ.Queue,
			EventQueue:   cfg.RabbitMQ.ResultQueue,
		}, cfg.Worker.Concurrency, logger)
		if err != nil {
			logger.Fatalf("Failed to init RabbitMQ: %v", err)
		}
		defer broker.Close()
		if requests, pending, err := broker.Pending(); err == nil {
			logger.WithFields(logrus.Fields{
				"pending_requests": requests,
				"pending_events":   pending,
			}).Info("Catalog queues declared")
		}
		producer := queue.NewProducer(broker, logger)
		events = producer

		consumer := queue.NewConsumer(broker, queue.NewOpenHandler(catalogService, producer, logger), cfg.Worker.Concurrency, logger)
		if err := consumer.Start(context.Background()); err != nil {
			logger.Fatalf("Failed to start consumer: %v", err)
		}
		defer consumer.Stop()
		logger.WithField("queue", cfg.RabbitMQ.Queue).Info("Catalog request consumer started")
	} else {
		logger.Info("RabbitMQ disabled")
	}

	// 11. 启动收件箱监控（可选）
	if cfg.Watcher.Enabled {
		openHandler := queue.NewOpenHandler(catalogService, events, logger)
		fileWatcher, err := watcher.NewFileWatcher(
			cfg.Watcher.InboxDir,
			cfg.Watcher.Pattern,
			time.Duration(cfg.Watcher.DebounceMS)*time.Millisecond,
			func(ctx context.Context, filePath string) error {
				return openHandler(ctx, &queue.CatalogRequest{Path: filePath, Name: filepath.Base(filePath)})
			},
			logger,
		)
		if err != nil {
			logger.Fatalf("Failed to create file watcher: %v", err)
		}
		defer fileWatcher.Stop()

		if err := fileWatcher.Start(context.Background(), true); err != nil {
			logger.Fatalf("Failed to start file watcher: %v", err)
		}
		logger.Infof("File watcher started for directory: %s", cfg.Watcher.InboxDir)
	}

	// 12. 设置 HTTP Server
	router := api.SetupRouter(cfg, logger, api.Deps{
		Service:    catalogService,
		Detector:   detector,
		MemMonitor: memMonitor,
		Metrics:    promMetrics,
	})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Minute, // 支持大文件上传
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// 13. 启动 HTTP Server
	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 14. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	// 15. 优雅关闭 (30秒超时)，其余组件由 defer 逆序关闭
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	logger.Info("HTTP server stopped")
}

// reportStats 定期上报数据库连接和 worker pool 状态
func reportStats(db *gorm.DB, pool *worker.Pool, workers int, metrics *middleware.PrometheusMetrics) {
	if metrics == nil {
		return
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if sqlDB, err := db.DB(); err == nil {
			stats := sqlDB.Stats()
			metrics.UpdateDBStats(stats.OpenConnections, stats.Idle, stats.InUse)
		}
		metrics.UpdateWorkerPoolStats(workers, pool.GetQueueSize())
	}
}
