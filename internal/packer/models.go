package packer

// Result 壳检测结果
type Result struct {
	IsPacked   bool     `json:"is_packed"`   // 是否加壳
	Name       string   `json:"name"`        // 壳名称
	Type       string   `json:"type"`        // 壳类型: dex_encrypt/native/vmp
	Confidence float64  `json:"confidence"`  // 置信度 0-1
	Indicators []string `json:"indicators"`  // 检测到的特征
}

// 壳类型
const (
	TypeNative     = "native"      // 原生库加密
	TypeDexEncrypt = "dex_encrypt" // DEX加密
	TypeVMP        = "vmp"         // 虚拟机保护
	TypeUnknown    = "unknown"     // 未知类型
)

// Rule 壳检测规则
type Rule struct {
	Name       string       `toml:"name" json:"name"`                         // 壳名称
	Type       string       `toml:"type" json:"type"`                         // 壳类型
	NativeLibs []string     `toml:"native_libs" json:"native_libs,omitempty"` // 特征Native库
	Packages   []string     `toml:"packages" json:"packages,omitempty"`       // 特征包名前缀
	Classes    []string     `toml:"classes" json:"classes,omitempty"`         // 特征类名（完整匹配）
	FileSize   FileSizeRule `toml:"file_size" json:"file_size"`               // DEX/Native大小异常规则
	Priority   int          `toml:"priority" json:"priority"`                 // 优先级 (越大越优先匹配)
}

// FileSizeRule 文件大小规则
type FileSizeRule struct {
	DEXMaxKB    int64 `toml:"dex_max_kb" json:"dex_max_kb,omitempty"`       // DEX最大KB（小于此值可疑）
	NativeMinMB int64 `toml:"native_min_mb" json:"native_min_mb,omitempty"` // Native库最小MB（大于此值可疑）
}

// Evidence 参与匹配的容器特征
type Evidence struct {
	ClassNames []string // 目录中的类名
	NativeLibs []string // 发现的Native库
	DEXSize    int64    // DEX总大小 (bytes)
	NativeSize int64    // Native库总大小 (bytes)
	DEXCount   int      // DEX文件数量
}
