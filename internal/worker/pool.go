// Package worker 提供有界队列的协程池，用于批量渲染与导出
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrQueueFull 队列已满（Submit 不阻塞）
var ErrQueueFull = errors.New("task queue is full")

// ErrStopped 池已停止
var ErrStopped = errors.New("worker pool stopped")

// Pool Worker 池
type Pool struct {
	workers  int
	taskChan chan *Task
	logger   *logrus.Logger
	wg       sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// Task 任务
type Task struct {
	ID       string
	Run      func(ctx context.Context) error
	resultCh chan error // 用于同步等待任务完成
}

// NewPool 创建 Worker 池
func NewPool(workers, queueSize int, logger *logrus.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		workers:  workers,
		taskChan: make(chan *Task, queueSize),
		logger:   logger,
	}
}

// Start 启动 Worker 池
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Info("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// worker Worker 协程
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("worker_id", id).Debug("Worker shutting down")
			return

		case task, ok := <-p.taskChan:
			if !ok {
				return
			}

			err := p.run(ctx, task)
			if err != nil {
				p.logger.WithError(err).WithFields(logrus.Fields{
					"worker_id": id,
					"task_id":   task.ID,
				}).Warn("Task failed")
			}

			// 如果有结果通道，发送结果
			if task.resultCh != nil {
				task.resultCh <- err
				close(task.resultCh)
			}
		}
	}
}

// run 执行任务，panic 转为错误，单个任务不会拖垮 worker
func (p *Pool) run(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	return task.Run(ctx)
}

// Submit 提交任务（异步，不等待结果）
func (p *Pool) Submit(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.taskChan <- task:
		p.logger.WithField("task_id", task.ID).Debug("Task submitted to pool")
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitAndWait 提交任务并等待完成
func (p *Pool) SubmitAndWait(ctx context.Context, task *Task) error {
	ch, err := p.enqueue(ctx, task)
	if err != nil {
		return err
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue 阻塞提交，直到入队或 ctx 结束
func (p *Pool) enqueue(ctx context.Context, task *Task) (<-chan error, error) {
	task.resultCh = make(chan error, 1)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return nil, ErrStopped
	}

	select {
	case p.taskChan <- task:
		return task.resultCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RunAll 提交一批任务并等待全部完成，返回所有失败的合并错误
func (p *Pool) RunAll(ctx context.Context, tasks []*Task) error {
	results := make([]<-chan error, 0, len(tasks))
	var errs []error
	for _, t := range tasks {
		ch, err := p.enqueue(ctx, t)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.ID, err))
			break
		}
		results = append(results, ch)
	}

	for i, ch := range results {
		select {
		case err := <-ch:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", tasks[i].ID, err))
			}
		case <-ctx.Done():
			return errors.Join(append(errs, ctx.Err())...)
		}
	}
	return errors.Join(errs...)
}

// Stop 停止 Worker 池，等待已入队任务执行完
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.taskChan)
	p.mu.Unlock()

	p.logger.Info("Stopping worker pool")
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// GetQueueSize 获取队列中任务数
func (p *Pool) GetQueueSize() int {
	return len(p.taskChan)
}
