package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/dexcatalog/internal/catalog"
	"github.com/apk-analysis/dexcatalog/internal/descriptor"
	"github.com/apk-analysis/dexcatalog/internal/domain"
	"github.com/apk-analysis/dexcatalog/internal/loader"
	"github.com/apk-analysis/dexcatalog/internal/packer"
	"github.com/apk-analysis/dexcatalog/internal/repository"
	"github.com/apk-analysis/dexcatalog/internal/retry"
	"github.com/apk-analysis/dexcatalog/internal/utils"
	"github.com/apk-analysis/dexcatalog/internal/worker"
)

var (
	// ErrCatalogNotFound 目录不存在（既不在内存也不在数据库）
	ErrCatalogNotFound = errors.New("catalog not found")
	// ErrCatalogNotOpen 目录记录存在但未加载（失败、已关闭或服务重启后）
	ErrCatalogNotOpen = errors.New("catalog is not open")
	// ErrTooManyOpen 已打开目录数达到上限
	ErrTooManyOpen = errors.New("too many open catalogs")
)

// Metrics 服务上报的指标；middleware.PrometheusMetrics 实现该接口
type Metrics interface {
	RecordCatalogReady(duration time.Duration, classes int)
	RecordCatalogFailed(duration time.Duration)
	RecordCatalogClosed()
	RecordRender(format, result string, duration time.Duration)
	RecordExport(status string)
	RecordRetryAttempt(operation string, attempt int)
}

// OpenRequest 打开目录的参数
type OpenRequest struct {
	Path string
	// Name 为空时取文件名
	Name string
	// APILevel 为 nil 时使用配置的默认值
	APILevel *int
}

// ExportResult smali 导出结果
type ExportResult struct {
	Dir   string `json:"dir"`
	Files int    `json:"files"`
}

// Options 服务配置
type Options struct {
	APILevel     int
	DebugInfo    bool
	CacheRenders bool
	// MaxOpen 同时打开的目录上限，0 表示不限制
	MaxOpen int
	Retry   *retry.Config
}

// CatalogService 目录服务接口
type CatalogService interface {
	// 打开并索引一个 APK / DEX
	Open(ctx context.Context, req OpenRequest) (*domain.CatalogRecord, error)

	// 获取目录记录
	Get(ctx context.Context, id string) (*domain.CatalogRecord, error)

	// 获取目录列表（分页）
	List(ctx context.Context, status domain.CatalogStatus, page, pageSize int) ([]*domain.CatalogRecord, int64, error)

	// 类名列表；outerBase 非空时只返回该外部类下的类
	Classes(ctx context.Context, id, outerBase string) ([]string, error)

	// 外部类名列表
	OuterBases(ctx context.Context, id string) ([]string, error)

	// 渲染
	Smali(ctx context.Context, id, class string) (string, error)
	Java(ctx context.Context, id, class string) (string, error)

	// 导出全部 smali 到目录
	Export(ctx context.Context, id, dir string) (*ExportResult, error)

	// 壳检测结果
	Packer(ctx context.Context, id string) (*packer.Result, error)

	// 关闭 / 删除目录
	Close(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error

	// 启动时把上次进程遗留的 ready/loading 记录标记为 closed
	MarkStale(ctx context.Context) (int, error)

	// 关闭全部目录
	Shutdown(ctx context.Context)

	// 当前打开的目录数
	OpenCount() int
}

type openCatalog struct {
	cat    *catalog.Catalog
	record *domain.CatalogRecord
	packer *packer.Result
}

// openKey 同一文件、同一 API 级别只构建一次
type openKey struct {
	sha256 string
	api    int
}

// pendingOpen 正在构建的目录；done 关闭后 rec/err 可读
type pendingOpen struct {
	done chan struct{}
	rec  *domain.CatalogRecord
	err  error
}

type catalogService struct {
	repo     repository.CatalogRepository
	cache    repository.RenderCacheRepository
	pool     *worker.Pool
	detector *packer.Detector
	metrics  Metrics
	logger   *logrus.Logger
	opts     Options

	mu      sync.RWMutex
	open    map[string]*openCatalog
	loading map[openKey]*pendingOpen
}

// NewCatalogService 创建目录服务实例；cache 和 metrics 可为 nil
func NewCatalogService(
	repo repository.CatalogRepository,
	cache repository.RenderCacheRepository,
	pool *worker.Pool,
	detector *packer.Detector,
	metrics Metrics,
	logger *logrus.Logger,
	opts Options,
) CatalogService {
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
	}
	if detector == nil {
		detector = packer.NewDetector(logger, nil)
	}
	return &catalogService{
		repo:     repo,
		cache:    cache,
		pool:     pool,
		detector: detector,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
		open:     make(map[string]*openCatalog),
		loading:  make(map[openKey]*pendingOpen),
	}
}

func (s *catalogService) Open(ctx context.Context, req OpenRequest) (*domain.CatalogRecord, error) {
	api := s.opts.APILevel
	if req.APILevel != nil {
		api = *req.APILevel
	}
	name := req.Name
	if name == "" {
		name = filepath.Base(req.Path)
	}

	sum, size, err := fileDigest(req.Path)
	if err != nil {
		return nil, &catalog.Error{Kind: catalog.InputIO, Err: err}
	}

	// 防重复与上限检查在同一把锁内完成，并为本次构建占位；
	// HTTP、队列和文件监控可能同时提交同一个文件
	key := openKey{sha256: sum, api: api}
	s.mu.Lock()
	if existing := s.findOpen(sum, api); existing != nil {
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"catalog_id": existing.ID,
			"source":     name,
		}).Info("Catalog already open, reusing")
		return existing, nil
	}
	if p, ok := s.loading[key]; ok {
		s.mu.Unlock()
		s.logger.WithField("source", name).Info("Catalog is being opened, waiting")
		select {
		case <-p.done:
			return p.rec, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.opts.MaxOpen > 0 && len(s.open)+len(s.loading) >= s.opts.MaxOpen {
		s.mu.Unlock()
		return nil, ErrTooManyOpen
	}
	p := &pendingOpen{done: make(chan struct{})}
	s.loading[key] = p
	s.mu.Unlock()

	rec, oc, err := s.load(ctx, req.Path, name, sum, size, api)

	s.mu.Lock()
	delete(s.loading, key)
	if oc != nil {
		s.open[rec.ID] = oc
	}
	s.mu.Unlock()

	p.rec, p.err = rec, err
	close(p.done)
	return rec, err
}

// load 创建记录并构建目录；成功时返回待登记的 openCatalog
func (s *catalogService) load(ctx context.Context, path, name, sum string, size int64, api int) (*domain.CatalogRecord, *openCatalog, error) {
	rec := &domain.CatalogRecord{
		ID:         uuid.New().String(),
		SourceName: name,
		SourcePath: path,
		SHA256:     sum,
		FileSize:   size,
		APILevel:   api,
		Status:     domain.CatalogStatusLoading,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		s.logger.WithError(err).Error("Failed to create catalog record")
		return nil, nil, fmt.Errorf("创建目录记录失败: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"catalog_id": rec.ID,
		"source":     name,
		"api":        api,
	})
	log.Info("Opening catalog")

	start := time.Now()
	retryCfg := *s.opts.Retry
	retryCfg.OnRetry = func(attempt int, err error) {
		if s.metrics != nil {
			s.metrics.RecordRetryAttempt("open_catalog", attempt)
		}
	}
	cat, err := retry.DoWithResult(ctx, &retryCfg, func(ctx context.Context) (*catalog.Catalog, error) {
		return catalog.New(loader.ArchiveFile{Path: path}, api,
			catalog.WithLogger(s.logger),
			catalog.WithDebugInfo(s.opts.DebugInfo),
		)
	})
	elapsed := time.Since(start)
	rec.LoadDurationMs = elapsed.Milliseconds()

	if err != nil {
		log.WithError(err).Warn("Failed to open catalog")
		if s.metrics != nil {
			s.metrics.RecordCatalogFailed(elapsed)
		}
		rec.Status = domain.CatalogStatusFailed
		rec.ErrorKind = errorKind(err)
		rec.ErrorMessage = err.Error()
		if uerr := s.repo.Update(ctx, rec); uerr != nil {
			log.WithError(uerr).Error("Failed to record catalog failure")
		}
		return rec, nil, err
	}

	oc, err := s.index(ctx, rec, cat)
	if err != nil {
		cat.Close()
		rec.Status = domain.CatalogStatusFailed
		rec.ErrorMessage = err.Error()
		if uerr := s.repo.Update(ctx, rec); uerr != nil {
			log.WithError(uerr).Error("Failed to record catalog failure")
		}
		return rec, nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordCatalogReady(elapsed, rec.ClassCount)
	}
	log.WithFields(logrus.Fields{
		"classes":  rec.ClassCount,
		"outer":    rec.OuterCount,
		"packer":   rec.Packer,
		"duration": elapsed,
	}).Info("Catalog ready")
	return rec, oc, nil
}

// index 持久化类索引、检测加壳并把记录标记为 ready
func (s *catalogService) index(ctx context.Context, rec *domain.CatalogRecord, cat *catalog.Catalog) (*openCatalog, error) {
	names, err := cat.ClassNames()
	if err != nil {
		return nil, err
	}
	outer, err := cat.OuterBaseNames()
	if err != nil {
		return nil, err
	}
	entries, err := cat.Entries()
	if err != nil {
		return nil, err
	}

	classes := make([]domain.ClassRecord, 0, len(names))
	for _, n := range names {
		def, err := cat.Get(n)
		if err != nil {
			return nil, err
		}
		entry, _ := cat.EntryOf(n)
		classes = append(classes, domain.ClassRecord{
			CatalogID:   rec.ID,
			Name:        n,
			OuterBase:   descriptor.OuterBase(n),
			Package:     descriptor.Package(n),
			Descriptor:  def.Descriptor,
			AccessFlags: uint32(def.AccessFlags),
			Entry:       entry,
		})
	}
	if err := s.repo.SaveClasses(ctx, rec.ID, classes); err != nil {
		return nil, fmt.Errorf("保存类索引失败: %w", err)
	}

	ev, err := packer.CollectArchive(rec.SourcePath)
	if err != nil {
		// 裸 DEX 没有 Native 库可看，只按类名匹配
		ev = packer.Evidence{}
	}
	ev.ClassNames = names
	detected := s.detector.Detect(ev)

	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.OdexVersion != 0 {
			rec.OdexVersion = e.OdexVersion
		}
	}

	now := time.Now()
	rec.Status = domain.CatalogStatusReady
	rec.ReadyAt = &now
	rec.EntryCount = len(entries)
	rec.ClassCount = len(names)
	rec.OuterCount = len(outer)
	rec.EntriesJSON = string(entriesJSON)
	if detected.IsPacked {
		rec.Packer = detected.Name
	}
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("更新目录记录失败: %w", err)
	}

	return &openCatalog{cat: cat, record: rec, packer: detected}, nil
}

// findOpen 调用方需持有 s.mu
func (s *catalogService) findOpen(sum string, api int) *domain.CatalogRecord {
	for _, oc := range s.open {
		if oc.record.SHA256 == sum && oc.record.APILevel == api {
			return oc.record
		}
	}
	return nil
}

func (s *catalogService) Get(ctx context.Context, id string) (*domain.CatalogRecord, error) {
	rec, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCatalogNotFound
	}
	if err != nil {
		s.logger.WithError(err).WithField("catalog_id", id).Error("Failed to get catalog")
		return nil, fmt.Errorf("获取目录失败: %w", err)
	}
	return rec, nil
}

func (s *catalogService) List(ctx context.Context, status domain.CatalogStatus, page, pageSize int) ([]*domain.CatalogRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	recs, total, err := s.repo.List(ctx, status, pageSize, (page-1)*pageSize)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list catalogs")
		return nil, 0, fmt.Errorf("获取目录列表失败: %w", err)
	}
	return recs, total, nil
}

// lookup 返回已打开的目录；不在内存时区分"不存在"和"未打开"
func (s *catalogService) lookup(ctx context.Context, id string) (*openCatalog, error) {
	s.mu.RLock()
	oc, ok := s.open[id]
	s.mu.RUnlock()
	if ok {
		return oc, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrCatalogNotOpen
}

func (s *catalogService) Classes(ctx context.Context, id, outerBase string) ([]string, error) {
	oc, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if outerBase == "" {
		return oc.cat.ClassNames()
	}
	return oc.cat.Classes(outerBase)
}

func (s *catalogService) OuterBases(ctx context.Context, id string) ([]string, error) {
	oc, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return oc.cat.OuterBaseNames()
}

func (s *catalogService) Smali(ctx context.Context, id, class string) (string, error) {
	return s.render(ctx, id, class, domain.RenderFormatSmali)
}

func (s *catalogService) Java(ctx context.Context, id, class string) (string, error) {
	return s.render(ctx, id, class, domain.RenderFormatJava)
}

// render 先查缓存，未命中时渲染并回填
func (s *catalogService) render(ctx context.Context, id, class string, format domain.RenderFormat) (string, error) {
	oc, err := s.lookup(ctx, id)
	if err != nil {
		return "", err
	}
	key := optionsKey(oc.cat)
	log := s.logger.WithFields(logrus.Fields{
		"catalog_id": id,
		"class":      class,
		"format":     format,
	})

	if s.cache != nil && s.opts.CacheRenders {
		text, hit, err := s.cache.Get(ctx, id, class, format, key)
		if err != nil {
			log.WithError(err).Warn("Render cache lookup failed")
		} else if hit {
			s.recordRender(format, "hit", 0)
			return text, nil
		}
	}

	start := time.Now()
	var text string
	switch format {
	case domain.RenderFormatJava:
		text, err = oc.cat.RenderJava(class)
	default:
		text, err = oc.cat.Disassemble(class)
	}
	if err != nil {
		s.recordRender(format, "error", 0)
		return "", err
	}
	s.recordRender(format, "miss", time.Since(start))

	if s.cache != nil && s.opts.CacheRenders {
		if err := s.cache.Put(ctx, id, class, format, key, text); err != nil {
			log.WithError(err).Warn("Failed to store render")
		}
	}
	return text, nil
}

func (s *catalogService) recordRender(format domain.RenderFormat, result string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordRender(string(format), result, d)
	}
}

func (s *catalogService) Export(ctx context.Context, id, dir string) (*ExportResult, error) {
	oc, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	names, err := oc.cat.ClassNames()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建导出目录失败: %w", err)
	}

	err = ExportSmali(ctx, s.pool, oc.cat, names, dir)
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		s.metrics.RecordExport(status)
	}
	if err != nil {
		s.logger.WithError(err).WithField("catalog_id", id).Error("Smali export failed")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"catalog_id": id,
		"dir":        dir,
		"files":      len(names),
	}).Info("Smali exported")
	return &ExportResult{Dir: dir, Files: len(names)}, nil
}

func (s *catalogService) Packer(ctx context.Context, id string) (*packer.Result, error) {
	oc, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return oc.packer, nil
}

func (s *catalogService) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	oc, ok := s.open[id]
	delete(s.open, id)
	s.mu.Unlock()
	if !ok {
		_, err := s.lookup(ctx, id)
		return err
	}

	if err := oc.cat.Close(); err != nil {
		s.logger.WithError(err).WithField("catalog_id", id).Warn("Failed to close catalog")
	}
	if s.metrics != nil {
		s.metrics.RecordCatalogClosed()
	}
	if err := s.repo.UpdateStatus(ctx, id, domain.CatalogStatusClosed, "", ""); err != nil {
		return fmt.Errorf("更新目录状态失败: %w", err)
	}

	s.logger.WithField("catalog_id", id).Info("Catalog closed")
	return nil
}

func (s *catalogService) Delete(ctx context.Context, id string) error {
	if err := s.Close(ctx, id); err != nil && !errors.Is(err, ErrCatalogNotOpen) {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCatalogNotFound
		}
		s.logger.WithError(err).WithField("catalog_id", id).Error("Failed to delete catalog")
		return fmt.Errorf("删除目录失败: %w", err)
	}

	s.logger.WithField("catalog_id", id).Info("Catalog deleted")
	return nil
}

func (s *catalogService) MarkStale(ctx context.Context) (int, error) {
	const pageSize = 200
	marked := 0
	for _, status := range []domain.CatalogStatus{domain.CatalogStatusReady, domain.CatalogStatusLoading} {
		// 已标记的记录会离开该状态，offset 只需跳过仍在内存中的
		skipped := 0
		for {
			recs, _, err := s.repo.List(ctx, status, pageSize, skipped)
			if err != nil {
				return marked, err
			}
			if len(recs) == 0 {
				break
			}
			for _, rec := range recs {
				s.mu.RLock()
				_, open := s.open[rec.ID]
				s.mu.RUnlock()
				if open {
					skipped++
					continue
				}
				if err := s.repo.UpdateStatus(ctx, rec.ID, domain.CatalogStatusClosed, "", "not reopened after restart"); err != nil {
					return marked, err
				}
				marked++
			}
		}
	}
	if marked > 0 {
		s.logger.WithField("count", marked).Info("Marked stale catalogs as closed")
	}
	return marked, nil
}

func (s *catalogService) Shutdown(ctx context.Context) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if err := s.Close(ctx, id); err != nil {
			s.logger.WithError(err).WithField("catalog_id", id).Warn("Failed to close catalog on shutdown")
		}
	}
}

func (s *catalogService) OpenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.open)
}

// ManifestName 导出目录中的类索引文件，每行一个 ManifestEntry
const ManifestName = "index.jsonl"

// ManifestEntry 导出索引的一行
type ManifestEntry struct {
	Class string `json:"class"`
	Entry string `json:"entry"` // 来自哪个 dex
	File  string `json:"file"`  // 相对导出目录的路径
	Bytes int    `json:"bytes"`
}

// ExportSmali 把 names 中的每个类写成 <dir>/<包路径>/<Simple$Inner>.smali，
// 并按 names 的顺序写出 <dir>/index.jsonl
func ExportSmali(ctx context.Context, pool *worker.Pool, cat *catalog.Catalog, names []string, dir string) error {
	sizes := make([]int, len(names))
	tasks := make([]*worker.Task, 0, len(names))
	for i, name := range names {
		tasks = append(tasks, &worker.Task{
			ID: name,
			Run: func(ctx context.Context) error {
				text, err := cat.Disassemble(name)
				if err != nil {
					return err
				}
				path := SmaliPath(dir, name)
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return err
				}
				sizes[i] = len(text)
				return os.WriteFile(path, []byte(text), 0o644)
			},
		})
	}
	if err := pool.RunAll(ctx, tasks); err != nil {
		return err
	}

	w, err := utils.NewStreamJSONLWriter(filepath.Join(dir, ManifestName))
	if err != nil {
		return err
	}
	for i, name := range names {
		entry, err := cat.EntryOf(name)
		if err != nil {
			w.Close()
			return err
		}
		rel, _ := filepath.Rel(dir, SmaliPath(dir, name))
		if err := w.WriteLine(ManifestEntry{Class: name, Entry: entry, File: filepath.ToSlash(rel), Bytes: sizes[i]}); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// SmaliPath 类在导出目录中的文件路径
func SmaliPath(dir, class string) string {
	rel := strings.ReplaceAll(class, ".", string(filepath.Separator))
	return filepath.Join(dir, rel+".smali")
}

// optionsKey 渲染选项的指纹，选项不同的渲染互不复用缓存
func optionsKey(cat *catalog.Catalog) string {
	o := cat.Options()
	h := sha256.New()
	fmt.Fprintf(h, "%s|%t|%t|%t|%t|%t|%t|%t|%d|%t",
		cat.Opcodes(),
		o.ImplicitReferences, o.ParameterRegisters, o.LocalsDirective, o.SequentialLabels,
		o.DebugInfo, o.CodeOffsets, o.AccessorComments, o.RegisterInfo,
		o.InlineResolver != nil,
	)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func errorKind(err error) string {
	if k := catalog.KindOf(err); k != 0 {
		return k.String()
	}
	return "internal"
}

func fileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
