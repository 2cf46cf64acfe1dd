package domain

import (
	"time"
)

type CatalogStatus string

const (
	CatalogStatusLoading CatalogStatus = "loading"
	CatalogStatusReady   CatalogStatus = "ready"
	CatalogStatusFailed  CatalogStatus = "failed"
	CatalogStatusClosed  CatalogStatus = "closed"
)

// IsTerminal 是否为终止状态（不会再变化）
func (s CatalogStatus) IsTerminal() bool {
	return s == CatalogStatusFailed || s == CatalogStatusClosed
}

// CatalogRecord 一次目录构建（一个 APK / DEX 输入）
type CatalogRecord struct {
	ID         string        `gorm:"primaryKey;size:36" json:"id"`
	SourceName string        `gorm:"size:255;index" json:"source_name"`
	SourcePath string        `gorm:"size:1024" json:"source_path"`
	SHA256     string        `gorm:"size:64;index" json:"sha256"`
	FileSize   int64         `json:"file_size"`
	APILevel   int           `json:"api_level"`
	Status     CatalogStatus `gorm:"size:20;index" json:"status"`

	// 失败信息
	ErrorKind    string `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	// 统计
	EntryCount  int    `json:"entry_count"`
	ClassCount  int    `json:"class_count"`
	OuterCount  int    `json:"outer_count"`
	OdexVersion int    `json:"odex_version,omitempty"`
	Packer      string `gorm:"size:64" json:"packer,omitempty"`
	EntriesJSON string `gorm:"type:text" json:"-"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ReadyAt   *time.Time `json:"ready_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	// 构建耗时
	LoadDurationMs int64 `json:"load_duration_ms"`

	Classes []ClassRecord `gorm:"foreignKey:CatalogID;constraint:OnDelete:CASCADE" json:"-"`
}

func (CatalogRecord) TableName() string {
	return "catalogs"
}

// ClassRecord 目录中的一个类
type ClassRecord struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	CatalogID   string `gorm:"size:36;index:idx_catalog_class,priority:1;index:idx_catalog_outer,priority:1" json:"catalog_id"`
	Name        string `gorm:"size:512;index:idx_catalog_class,priority:2" json:"name"`
	OuterBase   string `gorm:"size:512;index:idx_catalog_outer,priority:2" json:"outer_base"`
	Package     string `gorm:"size:512" json:"package"`
	Descriptor  string `gorm:"size:512" json:"descriptor"`
	AccessFlags uint32 `json:"access_flags"`
	Entry       string `gorm:"size:255" json:"entry"` // 来自哪个 dex
}

func (ClassRecord) TableName() string {
	return "catalog_classes"
}

type RenderFormat string

const (
	RenderFormatSmali RenderFormat = "smali"
	RenderFormatJava  RenderFormat = "java"
)

// RenderCache 渲染结果缓存（zstd 压缩）
type RenderCache struct {
	ID         uint         `gorm:"primaryKey"`
	CatalogID  string       `gorm:"size:36;uniqueIndex:idx_render_key,priority:1"`
	ClassName  string       `gorm:"size:512;uniqueIndex:idx_render_key,priority:2"`
	Format     RenderFormat `gorm:"size:10;uniqueIndex:idx_render_key,priority:3"`
	OptionsKey string       `gorm:"size:64;uniqueIndex:idx_render_key,priority:4"`
	Blob       []byte
	RawSize    int
	CreatedAt  time.Time
}

func (RenderCache) TableName() string {
	return "render_cache"
}

// CatalogRequest 队列中的目录构建请求
type CatalogRequest struct {
	RequestID string `json:"request_id"`
	Path      string `json:"path"`
	APILevel  *int   `json:"api_level,omitempty"`
}

// CatalogEvent 目录构建完成后发布的事件
type CatalogEvent struct {
	RequestID  string        `json:"request_id,omitempty"`
	CatalogID  string        `json:"catalog_id"`
	SourceName string        `json:"source_name"`
	Status     CatalogStatus `json:"status"`
	ClassCount int           `json:"class_count"`
	Packer     string        `json:"packer,omitempty"`
	Error      string        `json:"error,omitempty"`
}
