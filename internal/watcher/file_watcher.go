package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FileHandler 文件处理函数
type FileHandler func(ctx context.Context, filePath string) error

// FileWatcher 收件箱目录监控器：新 APK / DEX 落盘后自动构建目录
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	watchDir string
	pattern  string // 文件匹配模式 (如 "*.apk")
	handler  FileHandler
	logger   *logrus.Logger
	debounce time.Duration // 防抖时间，同时作为文件大小稳定的判定间隔

	mu         sync.Mutex
	timers     map[string]*time.Timer
	processing map[string]bool
	wg         sync.WaitGroup

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewFileWatcher 创建文件监控器；debounce <= 0 时使用 500ms
func NewFileWatcher(watchDir, pattern string, debounce time.Duration, handler FileHandler, logger *logrus.Logger) (*FileWatcher, error) {
	if pattern == "" {
		pattern = "*"
	}
	// 提前校验模式，避免每个事件都报错
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid watch pattern %q: %w", pattern, err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	// 创建 fsnotify watcher
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// 确保监控目录存在
	if err := os.MkdirAll(watchDir, 0755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	// 添加监控目录
	if err := watcher.Add(watchDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to add watch directory: %w", err)
	}

	fw := &FileWatcher{
		watcher:    watcher,
		watchDir:   watchDir,
		pattern:    pattern,
		handler:    handler,
		logger:     logger,
		debounce:   debounce,
		timers:     make(map[string]*time.Timer),
		processing: make(map[string]bool),
		stopChan:   make(chan struct{}),
	}

	logger.WithFields(logrus.Fields{
		"watch_dir": watchDir,
		"pattern":   pattern,
		"debounce":  debounce.String(),
	}).Info("File watcher created")

	return fw, nil
}

// Start 启动文件监控。scanExisting 为 true 时先处理目录中已有的文件
// (重启后目录都已关闭，收件箱里的文件需要重新打开)
func (fw *FileWatcher) Start(ctx context.Context, scanExisting bool) error {
	fw.logger.Info("Starting file watcher")

	if scanExisting {
		if err := fw.scanExistingFiles(ctx); err != nil {
			fw.logger.WithError(err).Warn("Failed to scan existing files")
		}
	}

	// 启动事件循环
	go fw.eventLoop(ctx)

	fw.logger.Info("File watcher started successfully")
	return nil
}

// scanExistingFiles 扫描现有文件
func (fw *FileWatcher) scanExistingFiles(ctx context.Context) error {
	entries, err := os.ReadDir(fw.watchDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		// 检查文件名是否匹配模式
		if fw.matchPattern(entry.Name()) {
			filePath := filepath.Join(fw.watchDir, entry.Name())
			fw.logger.WithField("file", entry.Name()).Info("Found existing file")
			fw.schedule(ctx, filePath)
		}
	}

	return nil
}

// eventLoop 事件循环
func (fw *FileWatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			fw.logger.Info("File watcher context done")
			fw.cancelTimers()
			return
		case <-fw.stopChan:
			fw.logger.Info("File watcher stopped")
			fw.cancelTimers()
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				fw.logger.Warn("Watcher events channel closed")
				return
			}

			// 只处理创建、写入和移入（Rename 到目录内表现为 Create）事件
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}

			// 检查文件名是否匹配模式
			fileName := filepath.Base(event.Name)
			if !fw.matchPattern(fileName) {
				continue
			}

			fw.logger.WithFields(logrus.Fields{
				"event": event.Op.String(),
				"file":  fileName,
			}).Debug("File event detected")

			fw.schedule(ctx, event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				fw.logger.Warn("Watcher errors channel closed")
				return
			}
			fw.logger.WithError(err).Error("Watcher error")
		}
	}
}

// schedule 防抖处理: 同一文件在短时间内多次触发只处理一次
func (fw *FileWatcher) schedule(ctx context.Context, filePath string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if timer, exists := fw.timers[filePath]; exists {
		if timer.Stop() {
			fw.wg.Done()
		}
	}

	fw.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(fw.debounce, func() {
		defer fw.wg.Done()
		fw.mu.Lock()
		if fw.timers[filePath] == timer {
			delete(fw.timers, filePath)
		}
		fw.mu.Unlock()
		fw.handleFile(ctx, filePath)
	})
	fw.timers[filePath] = timer
}

func (fw *FileWatcher) cancelTimers() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	for path, timer := range fw.timers {
		if timer.Stop() {
			fw.wg.Done()
		}
		delete(fw.timers, path)
	}
}

// handleFile 处理文件
func (fw *FileWatcher) handleFile(ctx context.Context, filePath string) {
	// 检查是否正在处理
	fw.mu.Lock()
	if fw.processing[filePath] {
		fw.mu.Unlock()
		fw.logger.WithField("file", filePath).Debug("File is already being processed")
		return
	}
	fw.processing[filePath] = true
	fw.mu.Unlock()

	defer func() {
		fw.mu.Lock()
		delete(fw.processing, filePath)
		fw.mu.Unlock()
	}()

	// 等待文件写入完成
	if err := fw.waitForFileReady(ctx, filePath); err != nil {
		fw.logger.WithError(err).WithField("file", filePath).Error("File not ready")
		return
	}

	// 调用处理函数
	fw.logger.WithField("file", filePath).Info("Processing file")

	if err := fw.handler(ctx, filePath); err != nil {
		fw.logger.WithError(err).WithField("file", filePath).Error("Failed to process file")
		return
	}

	fw.logger.WithField("file", filePath).Info("File processed successfully")
}

// waitForFileReady 等待文件准备就绪 (大小稳定且非空)
func (fw *FileWatcher) waitForFileReady(ctx context.Context, filePath string) error {
	const maxAttempts = 10
	interval := fw.debounce / 2

	last := int64(-1)
	for i := 0; i < maxAttempts; i++ {
		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file does not exist")
			}
			return err
		}

		// 文件大小稳定, 说明写入完成
		if info.Size() > 0 && info.Size() == last {
			return nil
		}
		last = info.Size()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}

	return fmt.Errorf("file not ready after %d attempts", maxAttempts)
}

// matchPattern 检查文件名是否匹配模式（大小写不敏感的 glob）
func (fw *FileWatcher) matchPattern(fileName string) bool {
	if strings.HasPrefix(fileName, ".") {
		// 忽略隐藏文件和上传中的临时文件
		return false
	}
	ok, _ := filepath.Match(strings.ToLower(fw.pattern), strings.ToLower(fileName))
	return ok
}

// Stop 停止文件监控，等待已调度的处理完成
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		fw.logger.Info("Stopping file watcher")
		close(fw.stopChan)
		if fw.watcher != nil {
			err = fw.watcher.Close()
		}
	})
	fw.cancelTimers()
	fw.wg.Wait()
	return err
}

// GetWatchDir 获取监控目录
func (fw *FileWatcher) GetWatchDir() string {
	return fw.watchDir
}
