package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-analysis/dexcatalog/internal/config"
	"github.com/apk-analysis/dexcatalog/internal/dex"
	"github.com/apk-analysis/dexcatalog/internal/dex/dextest"
	"github.com/apk-analysis/dexcatalog/internal/domain"
	"github.com/apk-analysis/dexcatalog/internal/middleware"
	"github.com/apk-analysis/dexcatalog/internal/packer"
	"github.com/apk-analysis/dexcatalog/internal/repository"
	"github.com/apk-analysis/dexcatalog/internal/service"
	"github.com/apk-analysis/dexcatalog/internal/worker"
)

// TestEnvironment 完整的测试环境：sqlite 内存库 + 真实服务 + 路由
type TestEnvironment struct {
	Router  *gin.Engine
	Service service.CatalogService
}

func setupTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// 降低测试时的日志噪音
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{}
	cfg.Database = config.DatabaseConfig{Type: "sqlite", Path: ":memory:"}
	cfg.Catalog.UploadDir = t.TempDir()
	cfg.Catalog.ExportDir = t.TempDir()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	db, err := repository.InitDB(&cfg.Database, logger)
	require.NoError(t, err, "Failed to open test database")

	cache, err := repository.NewRenderCacheRepository(db)
	require.NoError(t, err)

	pool := worker.NewPool(2, 64, logger)
	pool.Start(context.Background())

	detector := packer.NewDetector(logger, nil)
	metrics := middleware.NewPrometheusMetrics(logger, "integration", prometheus.NewRegistry())
	svc := service.NewCatalogService(repository.NewCatalogRepository(db), cache, pool, detector, metrics, logger,
		service.Options{APILevel: -1, CacheRenders: true, MaxOpen: 4})

	t.Cleanup(func() {
		svc.Shutdown(context.Background())
		pool.Stop()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	router := SetupRouter(cfg, logger, Deps{
		Service:  svc,
		Detector: detector,
		Metrics:  metrics,
	})
	return &TestEnvironment{Router: router, Service: svc}
}

func (env *TestEnvironment) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	return w
}

func apkBytes() []byte {
	b := dextest.New()
	for _, d := range []string{"Lcom/a/Main;", "Lcom/a/Main$1;", "Lcom/stub/StubApp;"} {
		b.AddClass(dextest.Class{
			Descriptor: d,
			Access:     uint32(dex.AccPublic),
			Super:      "Ljava/lang/Object;",
			VirtualMethods: []dextest.Method{{
				Name: "run", Return: "V", Access: uint32(dex.AccPublic),
				Code: &dextest.Code{Registers: 1, Ins: 1, Insns: []uint16{0x000e}},
			}},
		})
	}
	return dextest.Zip(
		dextest.Entry{Name: "classes.dex", Data: b.Bytes()},
		dextest.Entry{Name: "lib/arm64-v8a/libjiagu_64.so", Data: []byte{0x7f, 'E', 'L', 'F'}},
	)
}

func (env *TestEnvironment) upload(t *testing.T) *domain.CatalogRecord {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "app.apk")
	require.NoError(t, err)
	_, err = fw.Write(apkBytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := env.do(t, "POST", "/api/catalogs", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec domain.CatalogRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	return &rec
}

// TestCatalogLifecycle 上传、查询、渲染、导出、关闭、删除
func TestCatalogLifecycle(t *testing.T) {
	env := setupTestEnvironment(t)

	rec := env.upload(t)
	assert.Equal(t, domain.CatalogStatusReady, rec.Status)
	assert.Equal(t, "app.apk", rec.SourceName)
	assert.Equal(t, 3, rec.ClassCount)
	assert.Equal(t, 2, rec.OuterCount)
	assert.Equal(t, "360加固", rec.Packer)

	base := "/api/catalogs/" + rec.ID

	// 同一文件再次上传复用已打开的目录
	again := env.upload(t)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, 1, env.Service.OpenCount())

	w := env.do(t, "GET", base+"/classes?outer=com.a.Main", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"classes":["com.a.Main","com.a.Main$1"],"total":2}`, w.Body.String())

	w = env.do(t, "GET", base+"/outer", nil, "")
	assert.JSONEq(t, `{"outer":["com.a.Main","com.stub.StubApp"],"total":2}`, w.Body.String())

	// 第二次从缓存读取，内容一致
	first := env.do(t, "GET", base+"/smali?class=com.a.Main$1", nil, "")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Contains(t, first.Body.String(), ".class public Lcom/a/Main$1;")
	second := env.do(t, "GET", base+"/smali?class=com.a.Main$1", nil, "")
	assert.Equal(t, first.Body.String(), second.Body.String())

	w = env.do(t, "GET", base+"/java?class=com.a.Main$1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "package com.a;")

	w = env.do(t, "GET", base+"/smali?class=com.a.Nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "GET", base+"/packer", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "检测到加壳: 360加固")

	w = env.do(t, "POST", base+"/export", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"files":3`)

	w = env.do(t, "GET", "/metrics", nil, "")
	assert.Contains(t, w.Body.String(), `integration_renders_total{format="smali",result="hit"} 1`)

	// 关闭后查询返回 409，记录仍在
	w = env.do(t, "POST", base+"/close", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, "GET", base+"/smali?class=com.a.Main", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = env.do(t, "GET", base, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"closed"`)

	w = env.do(t, "DELETE", base, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, "GET", base, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestConcurrentRender 并发渲染同一目录
func TestConcurrentRender(t *testing.T) {
	env := setupTestEnvironment(t)
	rec := env.upload(t)

	const concurrency = 10
	classes := []string{"com.a.Main", "com.a.Main$1", "com.stub.StubApp"}

	var wg sync.WaitGroup
	errs := make(chan string, concurrency*len(classes))
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, class := range classes {
				w := env.do(t, "GET", "/api/catalogs/"+rec.ID+"/smali?class="+class, nil, "")
				if w.Code != http.StatusOK {
					errs <- class + ": " + w.Body.String()
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}

// TestUploadMalformed 非法输入返回 422 且记录为 failed
func TestUploadMalformed(t *testing.T) {
	env := setupTestEnvironment(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "broken.dex")
	require.NoError(t, err)
	_, err = fw.Write([]byte("dex\n035\x00 truncated"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := env.do(t, "POST", "/api/catalogs", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"failed"`)

	w = env.do(t, "GET", "/api/catalogs?status=failed", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}
