package middleware

import (
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// highMemoryMB 超过该值时告警；渲染缓存未命中时整个 DEX 常驻内存
const highMemoryMB = 1536

// MemoryStats 内存统计
type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`       // 当前分配的内存 (字节)
	TotalAlloc uint64 `json:"total_alloc"` // 累计分配的内存
	Sys        uint64 `json:"sys"`         // 从系统获取的内存
	NumGC      uint32 `json:"num_gc"`      // GC 次数
	Goroutines int    `json:"goroutines"`  // Goroutine 数量
	AllocMB    uint64 `json:"alloc_mb"`    // 当前分配 (MB)
	SysMB      uint64 `json:"sys_mb"`      // 系统内存 (MB)
}

// MemoryMonitor 内存监控器
type MemoryMonitor struct {
	logger   *logrus.Logger
	stats    MemoryStats
	mutex    sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once
	interval time.Duration
	onUpdate func(MemoryStats)
}

// NewMemoryMonitor 创建内存监控器；onUpdate 每次采样后调用，可为 nil
func NewMemoryMonitor(logger *logrus.Logger, interval time.Duration, onUpdate func(MemoryStats)) *MemoryMonitor {
	return &MemoryMonitor{
		logger:   logger,
		stopChan: make(chan struct{}),
		interval: interval,
		onUpdate: onUpdate,
	}
}

// Start 启动内存监控
func (m *MemoryMonitor) Start() {
	m.Sample()
	go m.monitor()
}

// Stop 停止内存监控
func (m *MemoryMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// monitor 监控循环
func (m *MemoryMonitor) monitor() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Sample 立即采样一次
func (m *MemoryMonitor) Sample() MemoryStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := MemoryStats{
		Alloc:      ms.Alloc,
		TotalAlloc: ms.TotalAlloc,
		Sys:        ms.Sys,
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
		AllocMB:    ms.Alloc / 1024 / 1024,
		SysMB:      ms.Sys / 1024 / 1024,
	}

	m.mutex.Lock()
	m.stats = stats
	m.mutex.Unlock()

	m.logStats(stats)
	if m.onUpdate != nil {
		m.onUpdate(stats)
	}
	return stats
}

// logStats 记录统计信息
func (m *MemoryMonitor) logStats(stats MemoryStats) {
	m.logger.WithFields(logrus.Fields{
		"alloc_mb":   stats.AllocMB,
		"sys_mb":     stats.SysMB,
		"num_gc":     stats.NumGC,
		"goroutines": stats.Goroutines,
	}).Debug("Memory stats")

	if stats.AllocMB > highMemoryMB {
		m.logger.WithFields(logrus.Fields{
			"alloc_mb": stats.AllocMB,
			"sys_mb":   stats.SysMB,
		}).Warn("High memory usage detected")
	}
}

// GetStats 获取当前统计信息
func (m *MemoryMonitor) GetStats() MemoryStats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.stats
}

// MetricsEndpoint 创建内存统计端点
func (m *MemoryMonitor) MetricsEndpoint() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"memory": m.GetStats(),
		})
	}
}
