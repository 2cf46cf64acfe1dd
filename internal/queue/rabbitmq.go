package queue

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/dexcatalog/internal/retry"
)

// RabbitMQConfig RabbitMQ 连接配置
type RabbitMQConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	VHost     string
	Heartbeat time.Duration // 心跳间隔，默认 10 秒
}

// BuildURL 构建 AMQP 连接地址，vhost 需要转义（默认 vhost "/" 编码为 %2F）
func BuildURL(cfg *RabbitMQConfig) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.VHost,
	}
	u.RawPath = "/" + url.PathEscape(cfg.VHost)
	return u.String()
}

// 路由键：请求固定一个，事件按状态区分（catalog.event.ready / catalog.event.failed）
const (
	RequestRoutingKey  = "catalog.request"
	eventRoutingPrefix = "catalog.event."
	eventBindingKey    = eventRoutingPrefix + "#"
)

// EventRoutingKey 事件的路由键，下游可以只绑定某一种状态
func EventRoutingKey(ev *CatalogEvent) string {
	if ev.Status == "" {
		return eventRoutingPrefix + "unknown"
	}
	return eventRoutingPrefix + ev.Status
}

// Topology 目录服务的交换机与队列布局
//
// 请求和事件共用一个 topic 交换机；请求队列绑定 catalog.request，
// 事件队列绑定 catalog.event.#。
type Topology struct {
	Exchange     string
	RequestQueue string
	EventQueue   string
}

// declarer 声明拓扑所需的 Channel 方法（*amqp.Channel 实现）
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

func (t Topology) declare(ch declarer) error {
	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	bindings := []struct{ queue, key string }{
		{t.RequestQueue, RequestRoutingKey},
		{t.EventQueue, eventBindingKey},
	}
	for _, b := range bindings {
		if b.queue == "" {
			continue
		}
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.key, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", b.queue, b.key, err)
		}
	}
	return nil
}

// Broker 目录服务的 RabbitMQ 会话：一条连接、一个 Channel，
// 同时用于消费构建请求和发布结果事件
type Broker struct {
	config   *RabbitMQConfig
	topo     Topology
	prefetch int
	logger   *logrus.Logger
	redial   *retry.Config

	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// Dial 连接并声明拓扑。prefetch 应与 worker 数量一致
func Dial(config *RabbitMQConfig, topo Topology, prefetch int, logger *logrus.Logger) (*Broker, error) {
	if prefetch <= 0 {
		prefetch = 1
	}
	if config.Heartbeat == 0 {
		config.Heartbeat = 10 * time.Second
	}

	b := &Broker{
		config:   config,
		topo:     topo,
		prefetch: prefetch,
		logger:   logger,
		redial: &retry.Config{
			MaxAttempts:     10,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
			Strategy:        retry.StrategyLinear,
			Logger:          logger,
		},
	}
	if err := b.open(); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return b, nil
}

func (b *Broker) open() error {
	conn, err := amqp.DialConfig(BuildURL(b.config), amqp.Config{
		Heartbeat: b.config.Heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	if err := b.topo.declare(ch); err != nil {
		conn.Close()
		return err
	}

	b.mu.Lock()
	b.conn, b.ch = conn, ch
	b.mu.Unlock()

	b.logger.WithFields(logrus.Fields{
		"host":          b.config.Host,
		"exchange":      b.topo.Exchange,
		"request_queue": b.topo.RequestQueue,
		"event_queue":   b.topo.EventQueue,
		"prefetch":      b.prefetch,
	}).Info("Connected to RabbitMQ")
	return nil
}

// Redial 丢弃旧连接并按退避策略重连，拓扑会重新声明
func (b *Broker) Redial(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("broker closed")
	}
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn, b.ch = nil, nil
	b.mu.Unlock()

	return retry.Do(ctx, b.redial, func(ctx context.Context) error {
		return b.open()
	})
}

func (b *Broker) channel() (*amqp.Channel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ch == nil {
		return nil, fmt.Errorf("channel is nil")
	}
	return b.ch, nil
}

// Publish 以持久消息发布到目录交换机
func (b *Broker) Publish(ctx context.Context, key string, body []byte) error {
	ch, err := b.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, b.topo.Exchange, key, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
}

// Deliveries 开始消费请求队列（手动确认）。Channel 断开时返回的通道会被关闭
func (b *Broker) Deliveries() (<-chan amqp.Delivery, error) {
	ch, err := b.channel()
	if err != nil {
		return nil, err
	}
	msgs, err := ch.Consume(b.topo.RequestQueue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", b.topo.RequestQueue, err)
	}
	return msgs, nil
}

// Pending 请求队列与事件队列中的积压消息数
func (b *Broker) Pending() (requests, events int, err error) {
	ch, err := b.channel()
	if err != nil {
		return 0, 0, err
	}
	if b.topo.RequestQueue != "" {
		q, err := ch.QueueInspect(b.topo.RequestQueue)
		if err != nil {
			return 0, 0, err
		}
		requests = q.Messages
	}
	if b.topo.EventQueue != "" {
		q, err := ch.QueueInspect(b.topo.EventQueue)
		if err != nil {
			return 0, 0, err
		}
		events = q.Messages
	}
	return requests, events, nil
}

// IsConnected 检查连接状态
func (b *Broker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil && !b.conn.IsClosed()
}

// Close 关闭连接，之后 Redial 不再生效
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn, b.ch = nil, nil
	if err != nil {
		b.logger.WithError(err).Error("Failed to close RabbitMQ connection")
	}
	return err
}
