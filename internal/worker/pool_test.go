package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func startPool(t *testing.T, workers, queue int) *Pool {
	t.Helper()
	p := NewPool(workers, queue, testLogger())
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	return p
}

// TestPool_SubmitAndWait 同步提交返回任务结果
func TestPool_SubmitAndWait(t *testing.T) {
	p := startPool(t, 2, 4)

	err := p.SubmitAndWait(context.Background(), &Task{ID: "ok", Run: func(ctx context.Context) error { return nil }})
	assert.NoError(t, err)

	boom := errors.New("boom")
	err = p.SubmitAndWait(context.Background(), &Task{ID: "fail", Run: func(ctx context.Context) error { return boom }})
	assert.ErrorIs(t, err, boom)
}

// TestPool_RunAll 批量任务全部执行，错误合并返回
func TestPool_RunAll(t *testing.T) {
	p := startPool(t, 4, 2)

	var done int32
	tasks := make([]*Task, 20)
	for i := range tasks {
		i := i
		tasks[i] = &Task{ID: fmt.Sprintf("t%d", i), Run: func(ctx context.Context) error {
			atomic.AddInt32(&done, 1)
			if i%7 == 0 {
				return fmt.Errorf("bad %d", i)
			}
			return nil
		}}
	}

	err := p.RunAll(context.Background(), tasks)
	require.Error(t, err)
	assert.Equal(t, int32(20), atomic.LoadInt32(&done))
	assert.Contains(t, err.Error(), "t0: bad 0")
	assert.Contains(t, err.Error(), "t14: bad 14")
	assert.NotContains(t, err.Error(), "t1:")

	assert.NoError(t, p.RunAll(context.Background(), nil))
}

// TestPool_PanicBecomesError 任务 panic 不影响后续任务
func TestPool_PanicBecomesError(t *testing.T) {
	p := startPool(t, 1, 1)

	err := p.SubmitAndWait(context.Background(), &Task{ID: "panic", Run: func(ctx context.Context) error { panic("oops") }})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	err = p.SubmitAndWait(context.Background(), &Task{ID: "after", Run: func(ctx context.Context) error { return nil }})
	assert.NoError(t, err)
}

// TestPool_SubmitQueueFull 未启动的池队列满时立即返回
func TestPool_SubmitQueueFull(t *testing.T) {
	p := NewPool(1, 1, testLogger())
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, p.Submit(&Task{ID: "a", Run: noop}))
	assert.ErrorIs(t, p.Submit(&Task{ID: "b", Run: noop}), ErrQueueFull)
	assert.Equal(t, 1, p.GetQueueSize())

	p.Start(context.Background())
	p.Stop()
	assert.ErrorIs(t, p.Submit(&Task{ID: "c", Run: noop}), ErrStopped)
	assert.ErrorIs(t, p.SubmitAndWait(context.Background(), &Task{ID: "d", Run: noop}), ErrStopped)
	p.Stop()
}

// TestPool_WaitCanceled 等待结果时 ctx 取消
func TestPool_WaitCanceled(t *testing.T) {
	p := startPool(t, 1, 1)
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.SubmitAndWait(ctx, &Task{ID: "slow", Run: func(context.Context) error {
		<-release
		return nil
	}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
