package handlers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/dexcatalog/internal/domain"
	"github.com/apk-analysis/dexcatalog/internal/packer"
	"github.com/apk-analysis/dexcatalog/internal/service"
)

// CatalogHandler 目录处理器
type CatalogHandler struct {
	svc       service.CatalogService
	logger    *logrus.Logger
	uploadDir string // 上传文件保存目录
	exportDir string // smali 导出根目录
}

// NewCatalogHandler 创建目录处理器实例
func NewCatalogHandler(svc service.CatalogService, logger *logrus.Logger, uploadDir, exportDir string) *CatalogHandler {
	return &CatalogHandler{
		svc:       svc,
		logger:    logger,
		uploadDir: uploadDir,
		exportDir: exportDir,
	}
}

// createRequest JSON 方式创建目录
type createRequest struct {
	Path     string `json:"path" binding:"required"`
	APILevel *int   `json:"api_level"`
}

// CreateCatalog 打开一个 APK / DEX
// POST /api/catalogs
// JSON: {"path": "/data/app.apk", "api_level": 28}
// multipart: file=<apk>, api_level=28
func (h *CatalogHandler) CreateCatalog(c *gin.Context) {
	var req service.OpenRequest

	if file, err := c.FormFile("file"); err == nil {
		if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
			h.logger.WithError(err).Error("Failed to create upload dir")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "创建上传目录失败"})
			return
		}
		name := filepath.Base(file.Filename)
		dst := filepath.Join(h.uploadDir, uuid.New().String()+"_"+name)
		if err := c.SaveUploadedFile(file, dst); err != nil {
			h.logger.WithError(err).Error("Failed to save uploaded file")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "保存上传文件失败"})
			return
		}
		req.Path = dst
		req.Name = name
		if s := c.PostForm("api_level"); s != "" {
			api, err := strconv.Atoi(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "api_level 必须是整数"})
				return
			}
			req.APILevel = &api
		}
	} else {
		var body createRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
			return
		}
		req.Path = body.Path
		req.APILevel = body.APILevel
	}

	rec, err := h.svc.Open(c.Request.Context(), req)
	if err != nil {
		if rec != nil {
			// 记录已创建，失败原因随记录返回
			c.JSON(statusOf(err), gin.H{
				"error":   "打开目录失败",
				"detail":  err.Error(),
				"catalog": rec,
			})
			return
		}
		respondError(c, h, err, "打开目录失败")
		return
	}

	c.JSON(http.StatusCreated, rec)
}

// ListCatalogs 获取目录列表
// GET /api/catalogs?page=1&page_size=20&status=ready
func (h *CatalogHandler) ListCatalogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	status := domain.CatalogStatus(c.Query("status"))

	recs, total, err := h.svc.List(c.Request.Context(), status, page, pageSize)
	if err != nil {
		respondError(c, h, err, "获取目录列表失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"catalogs": recs,
		"total":    total,
		"page":     page,
	})
}

// GetCatalog 获取目录详情
// GET /api/catalogs/:id
func (h *CatalogHandler) GetCatalog(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h, err, "获取目录失败")
		return
	}
	c.JSON(http.StatusOK, rec)
}

// CloseCatalog 关闭目录，释放内存
// POST /api/catalogs/:id/close
func (h *CatalogHandler) CloseCatalog(c *gin.Context) {
	if err := h.svc.Close(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h, err, "关闭目录失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "目录已关闭"})
}

// DeleteCatalog 删除目录及其索引和缓存
// DELETE /api/catalogs/:id
func (h *CatalogHandler) DeleteCatalog(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h, err, "删除目录失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "目录已删除"})
}

// ListClasses 类名列表
// GET /api/catalogs/:id/classes?outer=com.a.Main
func (h *CatalogHandler) ListClasses(c *gin.Context) {
	names, err := h.svc.Classes(c.Request.Context(), c.Param("id"), c.Query("outer"))
	if err != nil {
		respondError(c, h, err, "获取类列表失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"classes": names,
		"total":   len(names),
	})
}

// ListOuter 外部类名列表
// GET /api/catalogs/:id/outer
func (h *CatalogHandler) ListOuter(c *gin.Context) {
	names, err := h.svc.OuterBases(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h, err, "获取外部类列表失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outer": names,
		"total": len(names),
	})
}

// GetSmali 单个类的 smali
// GET /api/catalogs/:id/smali?class=com.a.Main
func (h *CatalogHandler) GetSmali(c *gin.Context) {
	h.render(c, h.svc.Smali)
}

// GetJava 外部类（含内部类）的 Java 形式
// GET /api/catalogs/:id/java?class=com.a.Main
func (h *CatalogHandler) GetJava(c *gin.Context) {
	h.render(c, h.svc.Java)
}

func (h *CatalogHandler) render(c *gin.Context, fn func(ctx context.Context, id, class string) (string, error)) {
	class := c.Query("class")
	if class == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 class 参数"})
		return
	}

	text, err := fn(c.Request.Context(), c.Param("id"), class)
	if err != nil {
		respondError(c, h, err, "渲染失败")
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}

// ExportSmali 导出全部 smali 到 <export_dir>/<id>
// POST /api/catalogs/:id/export
func (h *CatalogHandler) ExportSmali(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的目录 ID"})
		return
	}

	res, err := h.svc.Export(c.Request.Context(), id, filepath.Join(h.exportDir, id))
	if err != nil {
		respondError(c, h, err, "导出失败")
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetPacker 壳检测结果
// GET /api/catalogs/:id/packer
func (h *CatalogHandler) GetPacker(c *gin.Context) {
	res, err := h.svc.Packer(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h, err, "获取壳检测结果失败")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"catalog_id": c.Param("id"),
		"result":     res,
		"summary":    packer.Summary(res),
	})
}
