package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/apk-analysis/dexcatalog/internal/catalog"
	"github.com/apk-analysis/dexcatalog/internal/dex"
	"github.com/apk-analysis/dexcatalog/internal/dex/dextest"
	"github.com/apk-analysis/dexcatalog/internal/domain"
	"github.com/apk-analysis/dexcatalog/internal/repository"
	"github.com/apk-analysis/dexcatalog/internal/retry"
	"github.com/apk-analysis/dexcatalog/internal/utils"
	"github.com/apk-analysis/dexcatalog/internal/worker"
)

// MockCatalogRepository Mock Repository
type MockCatalogRepository struct {
	mock.Mock
}

func (m *MockCatalogRepository) Create(ctx context.Context, rec *domain.CatalogRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockCatalogRepository) Update(ctx context.Context, rec *domain.CatalogRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockCatalogRepository) UpdateStatus(ctx context.Context, id string, status domain.CatalogStatus, errKind, errMsg string) error {
	return m.Called(ctx, id, status, errKind, errMsg).Error(0)
}

func (m *MockCatalogRepository) FindByID(ctx context.Context, id string) (*domain.CatalogRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CatalogRecord), args.Error(1)
}

func (m *MockCatalogRepository) FindBySHA256(ctx context.Context, sha string) (*domain.CatalogRecord, error) {
	args := m.Called(ctx, sha)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CatalogRecord), args.Error(1)
}

func (m *MockCatalogRepository) List(ctx context.Context, status domain.CatalogStatus, limit, offset int) ([]*domain.CatalogRecord, int64, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*domain.CatalogRecord), args.Get(1).(int64), args.Error(2)
}

func (m *MockCatalogRepository) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockCatalogRepository) SaveClasses(ctx context.Context, catalogID string, classes []domain.ClassRecord) error {
	return m.Called(ctx, catalogID, classes).Error(0)
}

func (m *MockCatalogRepository) FindClasses(ctx context.Context, catalogID, outerBase string) ([]domain.ClassRecord, error) {
	args := m.Called(ctx, catalogID, outerBase)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ClassRecord), args.Error(1)
}

func (m *MockCatalogRepository) CountClasses(ctx context.Context, catalogID string) (int64, error) {
	args := m.Called(ctx, catalogID)
	return args.Get(0).(int64), args.Error(1)
}

// MockRenderCache Mock 渲染缓存
type MockRenderCache struct {
	mock.Mock
}

func (m *MockRenderCache) Get(ctx context.Context, catalogID, class string, format domain.RenderFormat, optionsKey string) (string, bool, error) {
	args := m.Called(ctx, catalogID, class, format, optionsKey)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockRenderCache) Put(ctx context.Context, catalogID, class string, format domain.RenderFormat, optionsKey, text string) error {
	return m.Called(ctx, catalogID, class, format, optionsKey, text).Error(0)
}

func (m *MockRenderCache) DeleteByCatalog(ctx context.Context, catalogID string) error {
	return m.Called(ctx, catalogID).Error(0)
}

// fakeMetrics 记录调用次数
type fakeMetrics struct {
	mu      sync.Mutex
	ready   int
	failed  int
	closed  int
	renders map[string]int
	exports map[string]int
	retries int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{renders: map[string]int{}, exports: map[string]int{}}
}

func (f *fakeMetrics) RecordCatalogReady(time.Duration, int) { f.mu.Lock(); f.ready++; f.mu.Unlock() }
func (f *fakeMetrics) RecordCatalogFailed(time.Duration)     { f.mu.Lock(); f.failed++; f.mu.Unlock() }
func (f *fakeMetrics) RecordCatalogClosed()                  { f.mu.Lock(); f.closed++; f.mu.Unlock() }
func (f *fakeMetrics) RecordRetryAttempt(string, int)        { f.mu.Lock(); f.retries++; f.mu.Unlock() }

func (f *fakeMetrics) RecordRender(format, result string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders[format+"/"+result]++
}

func (f *fakeMetrics) RecordExport(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exports[status]++
}

const objectType = "Ljava/lang/Object;"

// testAPK 写一个包含三个类的 APK：com.a.Main、com.a.Main$1、com.stub.StubApp
func testAPK(t *testing.T) string {
	t.Helper()
	b := dextest.New()
	for _, d := range []string{"Lcom/a/Main;", "Lcom/a/Main$1;", "Lcom/stub/StubApp;"} {
		b.AddClass(dextest.Class{
			Descriptor: d,
			Access:     uint32(dex.AccPublic),
			Super:      objectType,
			VirtualMethods: []dextest.Method{{
				Name: "run", Return: "V", Access: uint32(dex.AccPublic),
				Code: &dextest.Code{Registers: 1, Ins: 1, Insns: []uint16{0x000e}},
			}},
		})
	}
	apk := dextest.Zip(
		dextest.Entry{Name: "AndroidManifest.xml", Data: []byte("<manifest/>")},
		dextest.Entry{Name: "classes.dex", Data: b.Bytes()},
	)
	path := filepath.Join(t.TempDir(), "app.apk")
	require.NoError(t, os.WriteFile(path, apk, 0o644))
	return path
}

type fixture struct {
	repo    *MockCatalogRepository
	cache   *MockRenderCache
	metrics *fakeMetrics
	pool    *worker.Pool
	svc     CatalogService
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		repo:    new(MockCatalogRepository),
		cache:   new(MockRenderCache),
		metrics: newFakeMetrics(),
		pool:    worker.NewPool(2, 16, logger),
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.pool.Start(ctx)
	t.Cleanup(func() {
		f.pool.Stop()
		cancel()
	})

	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
		opts.Retry.InitialInterval = time.Millisecond
	}
	opts.APILevel = -1
	f.svc = NewCatalogService(f.repo, f.cache, f.pool, nil, f.metrics, logger, opts)
	return f
}

// expectOpen 设置成功打开目录所需的 Repository 调用
func (f *fixture) expectOpen() {
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.CatalogRecord")).Return(nil)
	f.repo.On("SaveClasses", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(nil)
	f.repo.On("Update", mock.Anything, mock.AnythingOfType("*domain.CatalogRecord")).Return(nil)
}

// TestOpen_Success 测试打开目录
func TestOpen_Success(t *testing.T) {
	f := newFixture(t, Options{})
	f.expectOpen()
	ctx := context.Background()

	rec, err := f.svc.Open(ctx, OpenRequest{Path: testAPK(t)})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "app.apk", rec.SourceName)
	assert.Equal(t, domain.CatalogStatusReady, rec.Status)
	assert.NotNil(t, rec.ReadyAt)
	assert.Len(t, rec.SHA256, 64)
	assert.Equal(t, 1, rec.EntryCount)
	assert.Equal(t, 3, rec.ClassCount)
	assert.Equal(t, 2, rec.OuterCount)
	assert.Equal(t, "360加固", rec.Packer)
	assert.Contains(t, rec.EntriesJSON, `"name":"classes.dex"`)
	assert.Equal(t, 1, f.svc.OpenCount())
	assert.Equal(t, 1, f.metrics.ready)

	// 类索引写入数据库
	f.repo.AssertCalled(t, "SaveClasses", mock.Anything, rec.ID, mock.MatchedBy(func(cs []domain.ClassRecord) bool {
		if len(cs) != 3 {
			return false
		}
		inner := cs[1]
		return inner.Name == "com.a.Main$1" && inner.OuterBase == "com.a.Main" &&
			inner.Package == "com.a" && inner.Descriptor == "Lcom/a/Main$1;" && inner.Entry == "classes.dex"
	}))

	names, err := f.svc.Classes(ctx, rec.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"com.a.Main", "com.a.Main$1", "com.stub.StubApp"}, names)

	nested, err := f.svc.Classes(ctx, rec.ID, "com.a.Main")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"com.a.Main", "com.a.Main$1"}, nested)

	outer, err := f.svc.OuterBases(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.a.Main", "com.stub.StubApp"}, outer)

	p, err := f.svc.Packer(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, p.IsPacked)
}

// TestOpen_Dedup 同一文件重复打开返回已有目录
func TestOpen_Dedup(t *testing.T) {
	f := newFixture(t, Options{})
	f.expectOpen()
	ctx := context.Background()
	path := testAPK(t)

	first, err := f.svc.Open(ctx, OpenRequest{Path: path})
	require.NoError(t, err)
	second, err := f.svc.Open(ctx, OpenRequest{Path: path, Name: "copy.apk"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	f.repo.AssertNumberOfCalls(t, "Create", 1)

	// 不同 API 级别是另一个目录
	api := 19
	third, err := f.svc.Open(ctx, OpenRequest{Path: path, APILevel: &api})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, 19, third.APILevel)
	assert.Equal(t, 2, f.svc.OpenCount())
}

// TestOpen_Unsupported 非 DEX 输入失败且记录失败原因，不重试
func TestOpen_Unsupported(t *testing.T) {
	f := newFixture(t, Options{})
	f.repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.CatalogRecord")).Return(nil)
	f.repo.On("Update", mock.Anything, mock.MatchedBy(func(r *domain.CatalogRecord) bool {
		return r.Status == domain.CatalogStatusFailed && r.ErrorKind == "unsupported input"
	})).Return(nil).Once()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	rec, err := f.svc.Open(context.Background(), OpenRequest{Path: path})
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrUnsupportedInput)
	require.NotNil(t, rec)
	assert.Equal(t, domain.CatalogStatusFailed, rec.Status)
	assert.Equal(t, 0, f.svc.OpenCount())
	assert.Equal(t, 1, f.metrics.failed)
	assert.Equal(t, 0, f.metrics.retries)
	f.repo.AssertExpectations(t)
}

// TestOpen_MissingFile 文件不存在时不创建记录
func TestOpen_MissingFile(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.Open(context.Background(), OpenRequest{Path: filepath.Join(t.TempDir(), "nope.apk")})
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrInputIO)
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// TestOpen_MaxOpen 达到上限后拒绝打开
func TestOpen_MaxOpen(t *testing.T) {
	f := newFixture(t, Options{MaxOpen: 1})
	f.expectOpen()
	ctx := context.Background()

	path := testAPK(t)
	_, err := f.svc.Open(ctx, OpenRequest{Path: path})
	require.NoError(t, err)

	// 已打开的同一文件不占新名额
	_, err = f.svc.Open(ctx, OpenRequest{Path: path})
	require.NoError(t, err)

	api := 19
	_, err = f.svc.Open(ctx, OpenRequest{Path: path, APILevel: &api})
	assert.ErrorIs(t, err, ErrTooManyOpen)
}

// TestOpen_ConcurrentSameFile 并发打开同一文件只构建一次
func TestOpen_ConcurrentSameFile(t *testing.T) {
	f := newFixture(t, Options{})
	f.expectOpen()
	path := testAPK(t)

	const concurrency = 8
	ids := make([]string, concurrency)
	errs := make([]error, concurrency)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := f.svc.Open(context.Background(), OpenRequest{Path: path})
			errs[i] = err
			if rec != nil {
				ids[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < concurrency; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, f.svc.OpenCount())
	f.repo.AssertNumberOfCalls(t, "Create", 1)
}

// TestOpen_ConcurrentMaxOpen 并发打开不会超过上限
func TestOpen_ConcurrentMaxOpen(t *testing.T) {
	f := newFixture(t, Options{MaxOpen: 1})
	f.expectOpen()
	path := testAPK(t)

	const concurrency = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		opened  int
		refused int
	)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(api int) {
			defer wg.Done()
			_, err := f.svc.Open(context.Background(), OpenRequest{Path: path, APILevel: &api})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				opened++
			case errors.Is(err, ErrTooManyOpen):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(21 + i)
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
	assert.Equal(t, concurrency-1, refused)
	assert.Equal(t, 1, f.svc.OpenCount())
	f.repo.AssertNumberOfCalls(t, "Create", 1)
}

// TestRender 测试渲染与缓存
func TestRender(t *testing.T) {
	f := newFixture(t, Options{CacheRenders: true})
	f.expectOpen()
	ctx := context.Background()

	rec, err := f.svc.Open(ctx, OpenRequest{Path: testAPK(t)})
	require.NoError(t, err)

	f.cache.On("Get", mock.Anything, rec.ID, "com.a.Main", domain.RenderFormatSmali, mock.AnythingOfType("string")).
		Return("", false, nil).Once()
	f.cache.On("Put", mock.Anything, rec.ID, "com.a.Main", domain.RenderFormatSmali, mock.AnythingOfType("string"), mock.AnythingOfType("string")).
		Return(nil).Once()
	f.cache.On("Get", mock.Anything, rec.ID, "com.a.Main", domain.RenderFormatSmali, mock.AnythingOfType("string")).
		Return("cached", true, nil).Once()

	text, err := f.svc.Smali(ctx, rec.ID, "com.a.Main")
	require.NoError(t, err)
	assert.Contains(t, text, ".class public Lcom/a/Main;")
	assert.Contains(t, text, ".method public run()V")

	text, err = f.svc.Smali(ctx, rec.ID, "com.a.Main")
	require.NoError(t, err)
	assert.Equal(t, "cached", text)

	// 缓存读取失败时仍然渲染
	f.cache.On("Get", mock.Anything, rec.ID, "com.a.Main$1", domain.RenderFormatJava, mock.AnythingOfType("string")).
		Return("", false, errors.New("db down")).Once()
	f.cache.On("Put", mock.Anything, rec.ID, "com.a.Main$1", domain.RenderFormatJava, mock.AnythingOfType("string"), mock.AnythingOfType("string")).
		Return(nil).Once()
	java, err := f.svc.Java(ctx, rec.ID, "com.a.Main$1")
	require.NoError(t, err)
	assert.Contains(t, java, "package com.a;")
	assert.Contains(t, java, "public class Main {")

	f.cache.On("Get", mock.Anything, rec.ID, "com.a.Nope", domain.RenderFormatSmali, mock.AnythingOfType("string")).
		Return("", false, nil).Once()
	_, err = f.svc.Smali(ctx, rec.ID, "com.a.Nope")
	assert.ErrorIs(t, err, catalog.ErrClassNotFound)

	f.cache.AssertExpectations(t)
	assert.Equal(t, 1, f.metrics.renders["smali/miss"])
	assert.Equal(t, 1, f.metrics.renders["smali/hit"])
	assert.Equal(t, 1, f.metrics.renders["java/miss"])
	assert.Equal(t, 1, f.metrics.renders["smali/error"])
}

// TestRender_NoCache 关闭缓存时不访问缓存
func TestRender_NoCache(t *testing.T) {
	f := newFixture(t, Options{CacheRenders: false})
	f.expectOpen()
	ctx := context.Background()

	rec, err := f.svc.Open(ctx, OpenRequest{Path: testAPK(t)})
	require.NoError(t, err)

	_, err = f.svc.Smali(ctx, rec.ID, "com.stub.StubApp")
	require.NoError(t, err)
	f.cache.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestLookup 不在内存中的目录区分"未打开"与"不存在"
func TestLookup(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	f.repo.On("FindByID", mock.Anything, "closed-id").Return(&domain.CatalogRecord{ID: "closed-id", Status: domain.CatalogStatusClosed}, nil)
	f.repo.On("FindByID", mock.Anything, "missing-id").Return(nil, repository.ErrNotFound)

	_, err := f.svc.Smali(ctx, "closed-id", "a.B")
	assert.ErrorIs(t, err, ErrCatalogNotOpen)

	_, err = f.svc.Classes(ctx, "missing-id", "")
	assert.ErrorIs(t, err, ErrCatalogNotFound)

	_, err = f.svc.Get(ctx, "missing-id")
	assert.ErrorIs(t, err, ErrCatalogNotFound)
}

// TestCloseAndDelete 测试关闭与删除
func TestCloseAndDelete(t *testing.T) {
	f := newFixture(t, Options{})
	f.expectOpen()
	ctx := context.Background()

	rec, err := f.svc.Open(ctx, OpenRequest{Path: testAPK(t)})
	require.NoError(t, err)

	f.repo.On("UpdateStatus", mock.Anything, rec.ID, domain.CatalogStatusClosed, "", "").Return(nil).Once()
	require.NoError(t, f.svc.Close(ctx, rec.ID))
	assert.Equal(t, 0, f.svc.OpenCount())
	assert.Equal(t, 1, f.metrics.closed)

	f.repo.On("FindByID", mock.Anything, rec.ID).Return(rec, nil)
	_, err = f.svc.Smali(ctx, rec.ID, "com.a.Main")
	assert.ErrorIs(t, err, ErrCatalogNotOpen)

	// 已关闭的目录仍可删除
	f.repo.On("Delete", mock.Anything, rec.ID).Return(nil).Once()
	require.NoError(t, f.svc.Delete(ctx, rec.ID))

	f.repo.On("FindByID", mock.Anything, "gone").Return(nil, repository.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, "gone"), ErrCatalogNotFound)
	f.repo.AssertExpectations(t)
}

// TestExport 导出 smali 目录树
func TestExport(t *testing.T) {
	f := newFixture(t, Options{})
	f.expectOpen()
	ctx := context.Background()

	rec, err := f.svc.Open(ctx, OpenRequest{Path: testAPK(t)})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	res, err := f.svc.Export(ctx, rec.ID, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)

	for _, rel := range []string{"com/a/Main.smali", "com/a/Main$1.smali", "com/stub/StubApp.smali"} {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
		require.NoError(t, err, rel)
		assert.Contains(t, string(data), ".class public")
	}
	assert.Equal(t, 1, f.metrics.exports["success"])

	// 索引按类名顺序记录来源 dex 和文件
	manifest := filepath.Join(dir, ManifestName)
	n, err := utils.CountJSONLLines(manifest)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	r, err := utils.NewStreamJSONLReader(manifest)
	require.NoError(t, err)
	defer r.Close()
	var first ManifestEntry
	require.NoError(t, r.Next(&first))
	assert.Equal(t, "com.a.Main", first.Class)
	assert.Equal(t, "classes.dex", first.Entry)
	assert.Equal(t, "com/a/Main.smali", first.File)
	assert.Greater(t, first.Bytes, 0)
}

// TestSmaliPath 测试导出路径
func TestSmaliPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "com", "a", "B$C.smali"), SmaliPath("out", "com.a.B$C"))
	assert.Equal(t, filepath.Join("out", "Top.smali"), SmaliPath("out", "Top"))
}

// TestMarkStale 重启后遗留记录标记为 closed
func TestMarkStale(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	stale := []*domain.CatalogRecord{{ID: "a"}, {ID: "b"}}
	f.repo.On("List", mock.Anything, domain.CatalogStatusReady, 200, 0).Return(stale, int64(2), nil).Once()
	f.repo.On("List", mock.Anything, domain.CatalogStatusReady, 200, 0).Return([]*domain.CatalogRecord{}, int64(0), nil).Once()
	f.repo.On("List", mock.Anything, domain.CatalogStatusLoading, 200, 0).Return([]*domain.CatalogRecord{}, int64(0), nil).Once()
	f.repo.On("UpdateStatus", mock.Anything, mock.AnythingOfType("string"), domain.CatalogStatusClosed, "", "not reopened after restart").Return(nil).Twice()

	n, err := f.svc.MarkStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	f.repo.AssertExpectations(t)
}

// TestShutdown 关闭全部目录
func TestShutdown(t *testing.T) {
	f := newFixture(t, Options{})
	f.expectOpen()
	f.repo.On("UpdateStatus", mock.Anything, mock.AnythingOfType("string"), domain.CatalogStatusClosed, "", "").Return(nil)
	ctx := context.Background()

	_, err := f.svc.Open(ctx, OpenRequest{Path: testAPK(t)})
	require.NoError(t, err)
	_, err = f.svc.Open(ctx, OpenRequest{Path: testAPK(t)})
	require.NoError(t, err)

	// 两个文件内容相同，第二次复用
	assert.Equal(t, 1, f.svc.OpenCount())

	f.svc.Shutdown(ctx)
	assert.Equal(t, 0, f.svc.OpenCount())
	assert.Equal(t, 1, f.metrics.closed)
}

// TestList 分页参数归一化
func TestList(t *testing.T) {
	f := newFixture(t, Options{})
	f.repo.On("List", mock.Anything, domain.CatalogStatus(""), 20, 0).Return([]*domain.CatalogRecord{{ID: "x"}}, int64(1), nil)
	f.repo.On("List", mock.Anything, domain.CatalogStatusReady, 10, 20).Return([]*domain.CatalogRecord{}, int64(21), nil)

	recs, total, err := f.svc.List(context.Background(), "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, int64(1), total)

	_, total, err = f.svc.List(context.Background(), domain.CatalogStatusReady, 3, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(21), total)
}
