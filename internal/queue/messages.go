package queue

import "time"

// CatalogRequest 目录构建请求（请求队列）
type CatalogRequest struct {
	RequestID string `json:"request_id"`
	Path      string `json:"path"`
	Name      string `json:"name,omitempty"`
	APILevel  *int   `json:"api_level,omitempty"`
}

// CatalogEvent 目录构建结果事件（结果队列）
type CatalogEvent struct {
	RequestID string    `json:"request_id,omitempty"`
	CatalogID string    `json:"catalog_id,omitempty"`
	Status    string    `json:"status"`
	Source    string    `json:"source"`
	SHA256    string    `json:"sha256,omitempty"`
	Classes   int       `json:"classes"`
	Outer     int       `json:"outer"`
	Packer    string    `json:"packer,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
