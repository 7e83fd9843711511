// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"strings"
	"time"

	"github.com/multi-agent/deckstudio/pkg/util"
)

// 偏好存储后端。
const (
	PrefsBackend  = "backend"
	PrefsPostgres = "postgres"
	PrefsMemory   = "memory"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// Deck backend (agent / 编译 / 文件存储)
	BackendURL        string        `env:"DECK_BACKEND_URL" default:"http://127.0.0.1:5555"`
	BackendTimeout    time.Duration `env:"DECK_BACKEND_TIMEOUT" default:"30s" min:"1s"`
	EventReconnect    time.Duration `env:"DECK_EVENT_RECONNECT" default:"2s" min:"100ms"`
	EventBufferEvents int           `env:"DECK_EVENT_BUFFER" default:"256" min:"1"`

	// Console HTTP
	ListenAddr   string `env:"DECK_LISTEN_ADDR" default:"127.0.0.1:8090"`
	StaticDir    string `env:"DECK_STATIC_DIR" default:"./static"`
	HubQueueSize int    `env:"DECK_HUB_QUEUE" default:"64" min:"1"`

	// Timeline 渲染
	ToolOutputLimit int    `env:"DECK_TOOL_OUTPUT_LIMIT" default:"600" min:"0"`
	DefaultFile     string `env:"DECK_DEFAULT_FILE" default:"deck.marp.md"`
	ImageURLPrefix  string `env:"DECK_IMAGE_URL_PREFIX" default:"/api/serve-image?path="`

	// 打开文件的外部修改监听
	WatchEnabled  bool          `env:"DECK_WATCH_ENABLED" default:"true"`
	WatchDebounce time.Duration `env:"DECK_WATCH_DEBOUNCE" default:"150ms" min:"10ms"`
	WorkspaceRoot string        `env:"DECK_WORKSPACE_ROOT"`

	// 偏好存储: backend | postgres | memory
	PrefsStore string `env:"DECK_PREFS_STORE" default:"backend"`

	// PostgreSQL
	PostgresConnStr     string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema      string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize int    `env:"POSTGRES_POOL_MAX_SIZE" default:"4" min:"1"`
	MigrationsDir       string `env:"DECK_MIGRATIONS_DIR" default:"./migrations"`
	SnapshotOnClose     bool   `env:"DECK_SNAPSHOT_ON_CLOSE" default:"false"`

	// 日志
	LogEnv   string `env:"LOG_ENV" default:"production"`
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	cfg.BackendURL = strings.TrimRight(strings.TrimSpace(cfg.BackendURL), "/")
	cfg.PrefsStore = strings.ToLower(strings.TrimSpace(cfg.PrefsStore))
	switch cfg.PrefsStore {
	case PrefsBackend, PrefsPostgres, PrefsMemory:
	default:
		cfg.PrefsStore = PrefsBackend
	}
	return &cfg
}

// UsesPostgres 是否需要建立连接池 (偏好存储或快照任一使用 PG)。
func (c *Config) UsesPostgres() bool {
	return c.PrefsStore == PrefsPostgres || (c.SnapshotOnClose && c.PostgresConnStr != "")
}
