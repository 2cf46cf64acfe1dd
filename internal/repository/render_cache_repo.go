package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/apk-analysis/dexcatalog/internal/domain"
)

// RenderCacheRepository 渲染结果缓存
type RenderCacheRepository interface {
	// Get 命中时返回解压后的文本
	Get(ctx context.Context, catalogID, class string, format domain.RenderFormat, optionsKey string) (string, bool, error)
	Put(ctx context.Context, catalogID, class string, format domain.RenderFormat, optionsKey, text string) error
	DeleteByCatalog(ctx context.Context, catalogID string) error
}

type renderCacheRepo struct {
	db  *gorm.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewRenderCacheRepository 创建缓存 Repository；编解码器可并发复用
func NewRenderCacheRepository(db *gorm.DB) (RenderCacheRepository, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &renderCacheRepo{db: db, enc: enc, dec: dec}, nil
}

func (r *renderCacheRepo) Get(ctx context.Context, catalogID, class string, format domain.RenderFormat, optionsKey string) (string, bool, error) {
	var row domain.RenderCache
	err := r.db.WithContext(ctx).
		Where("catalog_id = ? AND class_name = ? AND format = ? AND options_key = ?", catalogID, class, format, optionsKey).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	raw, err := r.dec.DecodeAll(row.Blob, make([]byte, 0, row.RawSize))
	if err != nil {
		return "", false, fmt.Errorf("decode cached %s of %s: %w", format, class, err)
	}
	return string(raw), true, nil
}

func (r *renderCacheRepo) Put(ctx context.Context, catalogID, class string, format domain.RenderFormat, optionsKey, text string) error {
	row := &domain.RenderCache{
		CatalogID:  catalogID,
		ClassName:  class,
		Format:     format,
		OptionsKey: optionsKey,
		Blob:       r.enc.EncodeAll([]byte(text), nil),
		RawSize:    len(text),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "catalog_id"}, {Name: "class_name"}, {Name: "format"}, {Name: "options_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"blob", "raw_size", "created_at"}),
		}).
		Create(row).Error
}

func (r *renderCacheRepo) DeleteByCatalog(ctx context.Context, catalogID string) error {
	return r.db.WithContext(ctx).Where("catalog_id = ?", catalogID).Delete(&domain.RenderCache{}).Error
}
