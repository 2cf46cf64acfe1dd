package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-analysis/dexcatalog/internal/config"
	"github.com/apk-analysis/dexcatalog/internal/middleware"
	"github.com/apk-analysis/dexcatalog/internal/packer"
	"github.com/apk-analysis/dexcatalog/internal/service"
)

// stubService 只实现路由测试用到的方法
type stubService struct {
	service.CatalogService
	open int
}

func (s *stubService) OpenCount() int { return s.open }

func (s *stubService) OuterBases(ctx context.Context, id string) ([]string, error) {
	return []string{"a.B"}, nil
}

func setupRouter(t *testing.T, token string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{}
	cfg.Server.Mode = "debug"
	cfg.Server.APIToken = token
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	cfg.Catalog.UploadDir = t.TempDir()
	cfg.Catalog.ExportDir = t.TempDir()

	return SetupRouter(cfg, logger, Deps{
		Service:  &stubService{open: 3},
		Detector: packer.NewDetector(logger, nil),
		Metrics:  middleware.NewPrometheusMetrics(logger, "routertest", prometheus.NewRegistry()),
	})
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r := setupRouter(t, "secret")

	w := get(r, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","version":"1.0.0","open_catalogs":3}`, w.Body.String())
}

func TestAuthRequired(t *testing.T) {
	r := setupRouter(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/catalogs/x/outer", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/catalogs/x/outer", "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/ws/catalogs/x/smali", "").Code)

	w := get(r, "/api/catalogs/x/outer", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"outer":["a.B"],"total":1}`, w.Body.String())
}

func TestNoTokenConfigured(t *testing.T) {
	r := setupRouter(t, "")
	assert.Equal(t, http.StatusOK, get(r, "/api/catalogs/x/outer", "").Code)
}

func TestPackerRules(t *testing.T) {
	r := setupRouter(t, "")

	w := get(r, "/api/packer/rules", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "360加固")
}

func TestMetricsEndpoint(t *testing.T) {
	r := setupRouter(t, "")
	get(r, "/api/health", "")

	w := get(r, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `routertest_http_requests_total{method="GET",path="/api/health",status="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	r := setupRouter(t, "secret")

	req := httptest.NewRequest("OPTIONS", "/api/catalogs", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
