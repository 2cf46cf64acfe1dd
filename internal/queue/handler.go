package queue

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/dexcatalog/internal/catalog"
	"github.com/apk-analysis/dexcatalog/internal/domain"
	"github.com/apk-analysis/dexcatalog/internal/service"
)

// EventPublisher 结果事件发布（Producer 实现）
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev *CatalogEvent) error
}

// NewOpenHandler 返回打开目录并发布结果事件的处理函数。
// events 为 nil 时只打开目录。输入本身的问题（无法读取、格式错误）
// 只发布 failed 事件并确认消息，其它错误返回给消费者。
func NewOpenHandler(svc service.CatalogService, events EventPublisher, logger *logrus.Logger) RequestHandler {
	return func(ctx context.Context, req *CatalogRequest) error {
		name := req.Name
		if name == "" {
			name = filepath.Base(req.Path)
		}

		rec, err := svc.Open(ctx, service.OpenRequest{
			Path:     req.Path,
			Name:     name,
			APILevel: req.APILevel,
		})

		ev := eventOf(req, name, rec, err)
		if events != nil {
			if perr := events.PublishEvent(ctx, ev); perr != nil {
				logger.WithError(perr).WithField("request_id", req.RequestID).Warn("Catalog event not published")
			}
		}

		if err != nil && catalog.KindOf(err) == 0 {
			return err
		}
		return nil
	}
}

func eventOf(req *CatalogRequest, name string, rec *domain.CatalogRecord, err error) *CatalogEvent {
	ev := &CatalogEvent{
		RequestID: req.RequestID,
		Source:    name,
		Status:    string(domain.CatalogStatusReady),
		Timestamp: time.Now(),
	}
	if rec != nil {
		ev.CatalogID = rec.ID
		ev.Status = string(rec.Status)
		ev.SHA256 = rec.SHA256
		ev.Classes = rec.ClassCount
		ev.Outer = rec.OuterCount
		ev.Packer = rec.Packer
	}
	if err != nil {
		ev.Status = string(domain.CatalogStatusFailed)
		ev.Error = err.Error()
		if k := catalog.KindOf(err); k != 0 {
			ev.ErrorKind = k.String()
		} else if errors.Is(err, service.ErrTooManyOpen) {
			ev.ErrorKind = "too many open"
		}
	}
	return ev
}
