// Package retry 为目录构建等可能遇到临时 I/O 故障的操作提供重试
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/dexcatalog/internal/catalog"
)

// Strategy 重试策略
type Strategy string

const (
	StrategyFixed       Strategy = "fixed"       // 固定间隔
	StrategyLinear      Strategy = "linear"      // 线性递增
	StrategyExponential Strategy = "exponential" // 指数退避
)

// Config 重试配置
type Config struct {
	MaxAttempts     int           // 最大尝试次数
	InitialInterval time.Duration // 初始间隔
	MaxInterval     time.Duration // 最大间隔
	Strategy        Strategy      // 重试策略
	Timeout         time.Duration // 总超时时间，0 表示不限制
	Logger          *logrus.Logger
	// OnRetry 在每次重试等待前调用，attempt 为即将进行的尝试序号
	OnRetry func(attempt int, err error)
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Config{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Strategy:        StrategyExponential,
		Timeout:         time.Minute,
		Logger:          logger,
	}
}

// IsRetryable 判断错误是否可重试
//
// 只有读取输入失败（文件还在写入、网络盘抖动）值得重试；
// 格式错误、ODEX、类不存在重试多少次结果都一样。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, context.Canceled):
		return false // 用户取消，不重试
	case errors.Is(err, context.DeadlineExceeded):
		return false // 超时，不重试
	case errors.Is(err, catalog.ErrClosed):
		return false
	}

	switch catalog.KindOf(err) {
	case catalog.InputIO:
		return true
	case catalog.UnsupportedInput, catalog.MalformedDex, catalog.ClassNotFound:
		return false
	}
	return true // 其他错误默认可重试
}

// Func 可重试的函数类型
type Func func(ctx context.Context) error

// Do 执行带重试的操作
func Do(ctx context.Context, config *Config, fn Func) error {
	if config == nil {
		config = DefaultConfig()
	}

	// 创建超时上下文
	var cancel context.CancelFunc
	if config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	var lastErr error
	interval := config.InitialInterval

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry canceled: %w", ctx.Err())
		default:
		}

		startTime := time.Now()
		err := fn(ctx)
		duration := time.Since(startTime)

		if err == nil {
			if attempt > 1 {
				config.Logger.WithFields(logrus.Fields{
					"attempt":  attempt,
					"duration": duration,
				}).Info("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err
		config.Logger.WithFields(logrus.Fields{
			"attempt":  attempt,
			"max":      config.MaxAttempts,
			"duration": duration,
			"error":    err.Error(),
		}).Warn("Operation failed")

		// 不可重试的错误原样返回，调用方仍可用 errors.Is 判断类别
		if !IsRetryable(err) {
			return err
		}

		if attempt >= config.MaxAttempts {
			break
		}

		interval = nextInterval(config.Strategy, config.InitialInterval, config.MaxInterval, attempt)
		if config.OnRetry != nil {
			config.OnRetry(attempt+1, err)
		}
		config.Logger.WithFields(logrus.Fields{
			"next_attempt": attempt + 1,
			"wait":         interval,
		}).Info("Waiting before retry")

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry canceled during wait: %w", ctx.Err())
		case <-time.After(interval):
		}
	}

	return fmt.Errorf("max attempts (%d) reached: %w", config.MaxAttempts, lastErr)
}

// nextInterval 计算第 attempt 次失败后的等待时间
func nextInterval(strategy Strategy, initial, max time.Duration, attempt int) time.Duration {
	var next time.Duration

	switch strategy {
	case StrategyLinear:
		next = initial * time.Duration(attempt)
	case StrategyExponential:
		next = initial * time.Duration(1<<(attempt-1))
	default:
		next = initial
	}

	if max > 0 && next > max {
		next = max
	}
	return next
}

// DoWithResult 执行带重试的操作（返回结果）
func DoWithResult[T any](ctx context.Context, config *Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, config, func(ctx context.Context) error {
		res, err := fn(ctx)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}
