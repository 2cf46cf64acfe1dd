package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/apk-analysis/dexcatalog/internal/catalog"
	"github.com/apk-analysis/dexcatalog/internal/service"
)

// statusOf 把服务层错误映射为 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrCatalogNotFound), errors.Is(err, catalog.ErrClassNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrCatalogNotOpen), errors.Is(err, catalog.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, service.ErrTooManyOpen):
		return http.StatusTooManyRequests
	case errors.Is(err, catalog.ErrUnsupportedInput), errors.Is(err, catalog.ErrMalformedDex):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrInputIO):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError 写出错误响应；5xx 记录日志
func respondError(c *gin.Context, h *CatalogHandler, err error, msg string) {
	code := statusOf(err)
	body := gin.H{
		"error":  msg,
		"detail": err.Error(),
	}
	if k := catalog.KindOf(err); k != 0 {
		body["kind"] = k.String()
	}
	if code >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error(msg)
	}
	c.JSON(code, body)
}
