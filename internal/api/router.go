package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/dexcatalog/internal/api/handlers"
	"github.com/apk-analysis/dexcatalog/internal/config"
	"github.com/apk-analysis/dexcatalog/internal/middleware"
	"github.com/apk-analysis/dexcatalog/internal/packer"
	"github.com/apk-analysis/dexcatalog/internal/service"
)

// Version 服务版本
const Version = "1.0.0"

// Deps 路由依赖；MemMonitor 和 Metrics 可为 nil
type Deps struct {
	Service    service.CatalogService
	Detector   *packer.Detector
	MemMonitor *middleware.MemoryMonitor
	Metrics    *middleware.PrometheusMetrics
}

func SetupRouter(cfg *config.Config, logger *logrus.Logger, deps Deps) *gin.Engine {
	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	// Prometheus 监控中间件
	if deps.Metrics != nil {
		r.Use(deps.Metrics.HTTPMiddleware())
	}

	// 初始化处理器
	catalogHandler := handlers.NewCatalogHandler(deps.Service, logger, cfg.Catalog.UploadDir, cfg.Catalog.ExportDir)
	streamHandler := handlers.NewStreamHandler(deps.Service, logger)
	packerHandler := handlers.NewPackerHandler(deps.Detector)

	// 内存监控端点
	if deps.MemMonitor != nil {
		r.GET("/debug/memory", deps.MemMonitor.MetricsEndpoint())
	}

	// Prometheus 指标端点
	if deps.Metrics != nil && cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, deps.Metrics.Handler())
	}

	// 健康检查（无需认证）
	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":        "ok",
			"version":       Version,
			"open_catalogs": deps.Service.OpenCount(),
		})
	})

	auth := middleware.AuthMiddleware(cfg.Server.APIToken)

	// WebSocket 推送
	r.GET("/ws/catalogs/:id/smali", auth, streamHandler.StreamSmali)

	v1 := r.Group("/api", auth)
	{
		// 目录管理
		v1.POST("/catalogs", catalogHandler.CreateCatalog)
		v1.GET("/catalogs", catalogHandler.ListCatalogs)
		v1.GET("/catalogs/:id", catalogHandler.GetCatalog)
		v1.DELETE("/catalogs/:id", catalogHandler.DeleteCatalog)
		v1.POST("/catalogs/:id/close", catalogHandler.CloseCatalog)

		// 类查询与渲染
		v1.GET("/catalogs/:id/classes", catalogHandler.ListClasses)
		v1.GET("/catalogs/:id/outer", catalogHandler.ListOuter)
		v1.GET("/catalogs/:id/smali", catalogHandler.GetSmali)
		v1.GET("/catalogs/:id/java", catalogHandler.GetJava)
		v1.POST("/catalogs/:id/export", catalogHandler.ExportSmali)

		// 壳检测
		v1.GET("/catalogs/:id/packer", catalogHandler.GetPacker)
		v1.GET("/packer/rules", packerHandler.ListRules)
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		method := c.Request.Method
		path := c.Request.URL.Path

		logger.WithFields(logrus.Fields{
			"status":  statusCode,
			"method":  method,
			"path":    path,
			"latency": latency.Milliseconds(),
		}).Info("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
