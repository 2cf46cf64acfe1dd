package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/apk-analysis/dexcatalog/internal/domain"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// classBatchSize 批量写入类记录的批大小
const classBatchSize = 500

// CatalogRepository 目录记录 Repository
type CatalogRepository interface {
	Create(ctx context.Context, rec *domain.CatalogRecord) error
	Update(ctx context.Context, rec *domain.CatalogRecord) error
	UpdateStatus(ctx context.Context, id string, status domain.CatalogStatus, errKind, errMsg string) error
	FindByID(ctx context.Context, id string) (*domain.CatalogRecord, error)
	FindBySHA256(ctx context.Context, sha string) (*domain.CatalogRecord, error)
	List(ctx context.Context, status domain.CatalogStatus, limit, offset int) ([]*domain.CatalogRecord, int64, error)
	Delete(ctx context.Context, id string) error

	SaveClasses(ctx context.Context, catalogID string, classes []domain.ClassRecord) error
	FindClasses(ctx context.Context, catalogID, outerBase string) ([]domain.ClassRecord, error)
	CountClasses(ctx context.Context, catalogID string) (int64, error)
}

type catalogRepo struct {
	db *gorm.DB
}

// NewCatalogRepository 创建目录 Repository
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepo{db: db}
}

func (r *catalogRepo) Create(ctx context.Context, rec *domain.CatalogRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *catalogRepo) Update(ctx context.Context, rec *domain.CatalogRecord) error {
	return r.db.WithContext(ctx).Omit("Classes").Save(rec).Error
}

// UpdateStatus 只更新状态字段，避免覆盖统计信息
func (r *catalogRepo) UpdateStatus(ctx context.Context, id string, status domain.CatalogStatus, errKind, errMsg string) error {
	updates := map[string]interface{}{
		"status":        status,
		"error_kind":    errKind,
		"error_message": errMsg,
	}
	now := time.Now()
	switch status {
	case domain.CatalogStatusReady:
		updates["ready_at"] = now
	case domain.CatalogStatusClosed:
		updates["closed_at"] = now
	}
	res := r.db.WithContext(ctx).Model(&domain.CatalogRecord{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *catalogRepo) FindByID(ctx context.Context, id string) (*domain.CatalogRecord, error) {
	var rec domain.CatalogRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindBySHA256 查找同一文件最近一次成功的构建
func (r *catalogRepo) FindBySHA256(ctx context.Context, sha string) (*domain.CatalogRecord, error) {
	var rec domain.CatalogRecord
	err := r.db.WithContext(ctx).
		Where("sha256 = ? AND status = ?", sha, domain.CatalogStatusReady).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List 分页查询；status 为空时不过滤
func (r *catalogRepo) List(ctx context.Context, status domain.CatalogStatus, limit, offset int) ([]*domain.CatalogRecord, int64, error) {
	query := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&domain.CatalogRecord{})
		if status != "" {
			q = q.Where("status = ?", status)
		}
		return q
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var recs []*domain.CatalogRecord
	if limit <= 0 {
		limit = 20
	}
	err := query().Order("created_at DESC").Limit(limit).Offset(offset).Find(&recs).Error
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// Delete 删除目录及其类记录和缓存
func (r *catalogRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("catalog_id = ?", id).Delete(&domain.ClassRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("catalog_id = ?", id).Delete(&domain.RenderCache{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.CatalogRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SaveClasses 替换目录的类列表
func (r *catalogRepo) SaveClasses(ctx context.Context, catalogID string, classes []domain.ClassRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("catalog_id = ?", catalogID).Delete(&domain.ClassRecord{}).Error; err != nil {
			return err
		}
		if len(classes) == 0 {
			return nil
		}
		for i := range classes {
			classes[i].CatalogID = catalogID
		}
		return tx.CreateInBatches(classes, classBatchSize).Error
	})
}

// FindClasses 按外部类名过滤；outerBase 为空时返回全部
func (r *catalogRepo) FindClasses(ctx context.Context, catalogID, outerBase string) ([]domain.ClassRecord, error) {
	q := r.db.WithContext(ctx).Where("catalog_id = ?", catalogID)
	if outerBase != "" {
		q = q.Where("outer_base = ?", outerBase)
	}
	var classes []domain.ClassRecord
	if err := q.Order("name ASC").Find(&classes).Error; err != nil {
		return nil, err
	}
	return classes, nil
}

func (r *catalogRepo) CountClasses(ctx context.Context, catalogID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.ClassRecord{}).Where("catalog_id = ?", catalogID).Count(&n).Error
	return n, err
}
