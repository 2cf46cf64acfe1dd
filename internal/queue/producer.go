package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// publisher 按路由键发布消息（Broker 实现）
type publisher interface {
	Publish(ctx context.Context, key string, body []byte) error
}

// Producer 结果事件生产者，事件按状态路由到 catalog.event.<status>
type Producer struct {
	mq     publisher
	logger *logrus.Logger
}

// NewProducer 创建生产者
func NewProducer(mq *Broker, logger *logrus.Logger) *Producer {
	return &Producer{
		mq:     mq,
		logger: logger,
	}
}

// PublishEvent 发布目录构建结果
func (p *Producer) PublishEvent(ctx context.Context, ev *CatalogEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := EventRoutingKey(ev)
	if err := p.mq.Publish(ctx, key, body); err != nil {
		p.logger.WithError(err).WithField("catalog_id", ev.CatalogID).Error("Failed to publish catalog event")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"catalog_id":  ev.CatalogID,
		"routing_key": key,
	}).Info("Catalog event published")
	return nil
}
