package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apk-analysis/dexcatalog/internal/packer"
)

// PackerHandler 壳规则处理器
type PackerHandler struct {
	detector *packer.Detector
}

// NewPackerHandler 创建壳规则处理器
func NewPackerHandler(detector *packer.Detector) *PackerHandler {
	return &PackerHandler{detector: detector}
}

// ListRules 当前生效的壳检测规则（按优先级排序）
// GET /api/packer/rules
func (h *PackerHandler) ListRules(c *gin.Context) {
	rules := h.detector.Rules()
	c.JSON(http.StatusOK, gin.H{
		"rules": rules,
		"total": len(rules),
	})
}
