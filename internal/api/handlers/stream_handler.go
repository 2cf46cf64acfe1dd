package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/dexcatalog/internal/service"
)

// StreamMessage WebSocket 推送的一条消息
type StreamMessage struct {
	Class string `json:"class,omitempty"`
	Smali string `json:"smali,omitempty"`
	Error string `json:"error,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Count int    `json:"count,omitempty"`
}

// StreamHandler 通过 WebSocket 逐类推送 smali
type StreamHandler struct {
	svc      service.CatalogService
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

// NewStreamHandler 创建推送处理器
func NewStreamHandler(svc service.CatalogService, logger *logrus.Logger) *StreamHandler {
	return &StreamHandler{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源，认证由 token 负责
			},
		},
	}
}

// StreamSmali 推送目录中每个类的 smali，最后发送 done 消息
// GET /ws/catalogs/:id/smali?outer=com.a.Main
func (h *StreamHandler) StreamSmali(c *gin.Context) {
	id := c.Param("id")
	outer := c.Query("outer")

	// 升级前检查目录，错误以普通 HTTP 响应返回
	names, err := h.svc.Classes(c.Request.Context(), id, outer)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": "获取类列表失败", "detail": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}
	defer conn.Close()

	log := h.logger.WithFields(logrus.Fields{"catalog_id": id, "classes": len(names)})
	log.Info("WebSocket stream started")

	// 客户端断开时停止推送
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sent := 0
	for _, name := range names {
		if ctx.Err() != nil {
			log.WithField("sent", sent).Info("WebSocket client went away")
			return
		}
		msg := StreamMessage{Class: name}
		text, err := h.svc.Smali(ctx, id, name)
		if err != nil {
			msg.Error = err.Error()
		} else {
			msg.Smali = text
		}
		if err := conn.WriteJSON(msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).Warn("WebSocket error")
			}
			return
		}
		sent++
	}

	if err := conn.WriteJSON(StreamMessage{Done: true, Count: sent}); err != nil {
		log.WithError(err).Warn("Failed to send stream trailer")
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	log.WithField("sent", sent).Info("WebSocket stream finished")
}
