package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// RequestHandler 构建请求处理函数
type RequestHandler func(ctx context.Context, msg *CatalogRequest) error

// acknowledger 消息确认（amqp.Delivery 实现）
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// requestSource 构建请求来源（Broker 实现）
type requestSource interface {
	Deliveries() (<-chan amqp.Delivery, error)
	Redial(ctx context.Context) error
}

// redialPause Redial 放弃后到下一轮重连前的等待
var redialPause = 30 * time.Second

// Consumer 构建请求消费者
//
// 每个会话启动 workers 个协程读取同一个投递通道；通道关闭说明连接断了，
// 等全部 worker 退出后重连并开始新会话，直到 Stop。
type Consumer struct {
	source  requestSource
	handler RequestHandler
	workers int
	logger  *logrus.Logger

	active   atomic.Int32
	sessions atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer 创建消费者
func NewConsumer(source requestSource, handler RequestHandler, workers int, logger *logrus.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		source:  source,
		handler: handler,
		workers: workers,
		logger:  logger,
	}
}

// Start 开始消费；重复调用无效果
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.logger.Warn("Consumer already running, skipping start")
		return nil
	}

	msgs, err := c.source.Deliveries()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, msgs)

	c.logger.WithField("workers", c.workers).Info("Consumer started")
	return nil
}

func (c *Consumer) run(ctx context.Context, msgs <-chan amqp.Delivery) {
	defer close(c.done)
	for {
		c.session(ctx, msgs)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("Request deliveries closed, reconnecting")

		var err error
		msgs, err = c.resume(ctx)
		if err != nil {
			return
		}
	}
}

// session 处理一个投递通道直到它关闭或 ctx 取消
func (c *Consumer) session(ctx context.Context, msgs <-chan amqp.Delivery) {
	c.sessions.Add(1)
	var wg sync.WaitGroup
	for id := range c.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx, id, msgs)
		}()
	}
	wg.Wait()
}

// resume 重连直到拿到新的投递通道；只有 ctx 取消才返回错误
func (c *Consumer) resume(ctx context.Context) (<-chan amqp.Delivery, error) {
	for {
		err := c.source.Redial(ctx)
		if err == nil {
			var msgs <-chan amqp.Delivery
			if msgs, err = c.source.Deliveries(); err == nil {
				c.logger.Info("Consumer resumed")
				return msgs, nil
			}
		}
		c.logger.WithError(err).Error("Failed to resume consuming")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(redialPause):
		}
	}
}

func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	c.active.Add(1)
	defer c.active.Add(-1)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Debugf("Worker %d: deliveries closed", id)
				return
			}
			c.processMessage(ctx, id, msg.Body, msg)
		}
	}
}

// processMessage 处理单条构建请求
func (c *Consumer) processMessage(ctx context.Context, workerID int, body []byte, delivery acknowledger) {
	startTime := time.Now()

	var msg CatalogRequest
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.WithError(err).Error("Failed to unmarshal catalog request")
		delivery.Nack(false, false)
		return
	}
	if msg.Path == "" {
		c.logger.WithField("request_id", msg.RequestID).Error("Catalog request without path")
		delivery.Nack(false, false)
		return
	}

	log := c.logger.WithFields(logrus.Fields{
		"worker_id":  workerID,
		"request_id": msg.RequestID,
		"path":       msg.Path,
	})
	log.Info("Processing catalog request")

	if err := c.handler(ctx, &msg); err != nil {
		log.WithError(err).Error("Catalog request failed")
		// 不重新入队, 避免无限循环
		delivery.Nack(false, false)
		return
	}
	if err := delivery.Ack(false); err != nil {
		log.WithError(err).Error("Failed to acknowledge catalog request")
	}
	log.WithField("duration", time.Since(startTime).Seconds()).Info("Catalog request completed")
}

// Stop 停止消费并等待进行中的请求完成
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}

	c.logger.Info("Stopping consumer...")
	cancel()
	<-done
	c.logger.Info("Consumer stopped")
}

// ActiveWorkers 当前会话中存活的 worker 数量
func (c *Consumer) ActiveWorkers() int {
	return int(c.active.Load())
}

// IsRunning 检查消费者是否正在运行
func (c *Consumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}
