package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-analysis/dexcatalog/internal/catalog"
)

func fastConfig(attempts int) *Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = attempts
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	return cfg
}

func ioErr() error {
	return &catalog.Error{Kind: catalog.InputIO, Err: errors.New("resource busy")}
}

// TestDo_Success 测试第一次就成功的情况
func TestDo_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts, "Should succeed on first attempt")
}

// TestDo_InputIORetried 读取失败会重试
func TestDo_InputIORetried(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return ioErr()
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

// TestDo_OnRetry 每次重试前回调
func TestDo_OnRetry(t *testing.T) {
	cfg := fastConfig(3)
	var seen []int
	cfg.OnRetry = func(attempt int, err error) {
		assert.ErrorIs(t, err, catalog.ErrInputIO)
		seen = append(seen, attempt)
	}

	_ = Do(context.Background(), cfg, func(ctx context.Context) error { return ioErr() })
	assert.Equal(t, []int{2, 3}, seen)
}

// TestDo_MaxAttemptsReached 测试达到最大尝试次数
func TestDo_MaxAttemptsReached(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		attempts++
		return ioErr()
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "max attempts")
	assert.ErrorIs(t, err, catalog.ErrInputIO)
}

// TestDo_NonRetryableKinds 格式错误等不重试，且保留错误类别
func TestDo_NonRetryableKinds(t *testing.T) {
	for _, kind := range []catalog.Kind{catalog.MalformedDex, catalog.UnsupportedInput, catalog.ClassNotFound} {
		t.Run(kind.String(), func(t *testing.T) {
			attempts := 0
			want := &catalog.Error{Kind: kind, Err: errors.New("nope")}
			err := Do(context.Background(), fastConfig(5), func(ctx context.Context) error {
				attempts++
				return want
			})
			assert.Equal(t, 1, attempts)
			assert.Same(t, want, err)
		})
	}
}

// TestDo_ContextCanceled 测试上下文取消
func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(10)
	cfg.InitialInterval = 50 * time.Millisecond
	cfg.MaxInterval = 50 * time.Millisecond
	attempts := 0

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func(ctx context.Context) error {
		attempts++
		return ioErr()
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled")
	assert.Less(t, attempts, 10)
}

func TestNextInterval(t *testing.T) {
	initial := 100 * time.Millisecond
	max := time.Second
	tests := []struct {
		strategy Strategy
		attempt  int
		want     time.Duration
	}{
		{StrategyFixed, 1, 100 * time.Millisecond},
		{StrategyFixed, 4, 100 * time.Millisecond},
		{StrategyLinear, 3, 300 * time.Millisecond},
		{StrategyExponential, 1, 100 * time.Millisecond},
		{StrategyExponential, 3, 400 * time.Millisecond},
		{StrategyExponential, 8, time.Second},
		{Strategy("unknown"), 5, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.strategy, tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, nextInterval(tt.strategy, initial, max, tt.attempt))
		})
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func(ctx context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", ioErr()
		}
		return "ready", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ready", got)

	_, err = DoWithResult(context.Background(), fastConfig(3), func(ctx context.Context) (int, error) {
		return 0, &catalog.Error{Kind: catalog.MalformedDex}
	})
	assert.ErrorIs(t, err, catalog.ErrMalformedDex)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.False(t, IsRetryable(catalog.ErrClosed))
	assert.True(t, IsRetryable(ioErr()))
	assert.True(t, IsRetryable(fmt.Errorf("open: %w", ioErr())))
	assert.False(t, IsRetryable(&catalog.Error{Kind: catalog.MalformedDex}))
	assert.True(t, IsRetryable(errors.New("unclassified")))
}
