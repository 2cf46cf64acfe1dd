package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 DEXCAT_SERVER_PORT 覆盖 server.port
const EnvPrefix = "DEXCAT"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Packer   PackerConfig   `mapstructure:"packer"`
	Log      LogConfig      `mapstructure:"log"`
	DataDir  string         `mapstructure:"data_dir"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
	// APIToken 非空时 /api 需要 Bearer 认证
	APIToken string `mapstructure:"api_token"`
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // mysql, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	Path     string `mapstructure:"path"` // sqlite 文件路径
}

type RabbitMQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	VHost       string `mapstructure:"vhost"`
	Exchange    string `mapstructure:"exchange"`     // topic 交换机，请求与事件共用
	Queue       string `mapstructure:"queue"`        // 目录构建请求队列
	ResultQueue string `mapstructure:"result_queue"` // 构建结果事件队列（catalog.event.#）
}

// CatalogConfig 类目录构建配置
type CatalogConfig struct {
	APILevel     int    `mapstructure:"api_level"`     // -1 表示默认 opcode 集
	DebugInfo    bool   `mapstructure:"debug_info"`    // 输出 .line/.local
	ExportDir    string `mapstructure:"export_dir"`    // smali 导出根目录
	UploadDir    string `mapstructure:"upload_dir"`    // 上传文件保存目录
	CacheRenders bool   `mapstructure:"cache_renders"` // 缓存 smali/java 渲染结果
	MaxOpen      int    `mapstructure:"max_open"`      // 同时打开的目录数量上限
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"` // Worker 数量
	QueueSize   int `mapstructure:"queue_size"`  // 任务队列大小
}

// WatcherConfig 收件箱目录监听
type WatcherConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	InboxDir   string `mapstructure:"inbox_dir"`
	Pattern    string `mapstructure:"pattern"`     // 例如 *.apk
	DebounceMS int    `mapstructure:"debounce_ms"` // 文件写入完成判定间隔
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// PackerConfig 加固识别规则
type PackerConfig struct {
	RulesFile string `mapstructure:"rules_file"` // 额外的 TOML 规则文件，可为空
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "data/dexcatalog.db")
	v.SetDefault("database.port", 3306)
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("rabbitmq.queue", "dexcat.catalog.requests")
	v.SetDefault("rabbitmq.exchange", "dexcat.catalog")
	v.SetDefault("rabbitmq.result_queue", "dexcat.catalog.events")
	v.SetDefault("catalog.api_level", -1)
	v.SetDefault("catalog.export_dir", "data/smali")
	v.SetDefault("catalog.upload_dir", "data/uploads")
	v.SetDefault("catalog.cache_renders", true)
	v.SetDefault("catalog.max_open", 32)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_size", 256)
	v.SetDefault("watcher.inbox_dir", "data/inbox")
	v.SetDefault("watcher.pattern", "*.apk")
	v.SetDefault("watcher.debounce_ms", 500)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("data_dir", "data")
}

// Load 读取 YAML 配置；path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// 环境变量覆盖（支持嵌套配置）
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 兼容部署脚本里的通用变量名
	v.BindEnv("rabbitmq.host", "RABBITMQ_HOST")
	v.BindEnv("rabbitmq.user", "RABBITMQ_USER")
	v.BindEnv("rabbitmq.password", "RABBITMQ_PASS")
	v.BindEnv("database.host", "MYSQL_HOST")
	v.BindEnv("database.user", "MYSQL_USER")
	v.BindEnv("database.password", "MYSQL_PASS")
	v.BindEnv("database.db_name", "MYSQL_DB")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
