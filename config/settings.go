package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/rushteam/phoenix/feast"
	"github.com/rushteam/phoenix/logging"
	"github.com/rushteam/phoenix/service"
	"github.com/rushteam/phoenix/store"
	"github.com/rushteam/phoenix/vector"
)

// EnvPrefix 是环境变量前缀：PHOENIX_SERVER__ADDR -> server.addr
const EnvPrefix = "PHOENIX_"

// ConfigPathEnvVar 可覆盖配置文件路径
const ConfigPathEnvVar = "PHOENIX_CONFIG"

// DefaultConfigPaths 按优先级查找配置文件，使用第一个存在的
var DefaultConfigPaths = []string{
	"phoenix.yaml",
	"phoenix.yml",
	"/etc/phoenix/phoenix.yaml",
}

// Settings 是服务的完整配置
type Settings struct {
	Server   ServerSettings   `koanf:"server"`
	Models   ModelSettings    `koanf:"models"`
	Index    IndexSettings    `koanf:"index"`
	Features FeatureSettings  `koanf:"features"`
	Events   EventSettings    `koanf:"events"`
	Safety   SafetySettings   `koanf:"safety"`
	Refresh  RefreshSettings  `koanf:"refresh"`
	Pipeline PipelineSettings `koanf:"pipeline"`
	Logging  logging.Config   `koanf:"logging"`
}

// ServerSettings 网关配置
type ServerSettings struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"` // /feed/recommend 默认截止时间
	RateLimit       int           `koanf:"rate_limit"`      // 每个 IP 每个窗口的请求数，0 表示不限
	RateWindow      time.Duration `koanf:"rate_window"`
	MaxTopK         int           `koanf:"max_top_k" validate:"gte=1"`
	RetrievalFactor int           `koanf:"retrieval_factor" validate:"gte=1"` // 召回数 = topK * factor
	LastGoodSize    int64         `koanf:"last_good_size"`                    // last-good 候选缓存字节上限
	LastGoodTTL     time.Duration `koanf:"last_good_ttl"`
}

// ModelSettings 模型目录与结构
type ModelSettings struct {
	Dir               string `koanf:"dir" validate:"required"`
	Version           string `koanf:"version"` // 为空时取 TWO_TOWER_MODEL_VERSION / MODEL_VERSION
	TowerMaxHistory   int    `koanf:"tower_max_history" validate:"gte=1"`
	PhoenixMaxHistory int    `koanf:"phoenix_max_history" validate:"gte=1"`
	PhoenixDim        int    `koanf:"phoenix_dim"`
	PhoenixHeads      int    `koanf:"phoenix_heads"`
	PhoenixLayers     int    `koanf:"phoenix_layers"`
	Random            bool   `koanf:"random"` // 使用随机权重（本地开发）
	RandomItems       int    `koanf:"random_items"`
}

// IndexSettings ANN 索引配置
type IndexSettings struct {
	Path           string        `koanf:"path"`
	Family         string        `koanf:"family"` // auto / flat / ivf / hnsw / ivfpq
	PreferRecall   bool          `koanf:"prefer_recall"`
	CompressMemory bool          `koanf:"compress_memory"`
	Seed           uint64        `koanf:"seed"`
	Watch          bool          `koanf:"watch"`
	WatchDebounce  time.Duration `koanf:"watch_debounce"`
}

// FeatureSettings 特征存储配置
type FeatureSettings struct {
	Backend    string            `koanf:"backend" validate:"oneof=memory redis badger"`
	BadgerDir  string            `koanf:"badger_dir"`
	Redis      store.RedisConfig `koanf:"redis"`
	Feast      FeastSettings     `koanf:"feast"`
	CacheBytes int64             `koanf:"cache_bytes"`
	CacheTTL   time.Duration     `koanf:"cache_ttl"`
	TTL        time.Duration     `koanf:"ttl"`
}

// FeastSettings 配置 Feast 在线特征作为只读回退来源
type FeastSettings struct {
	Enabled bool               `koanf:"enabled"`
	Addr    string             `koanf:"addr"`
	Project string             `koanf:"project"`
	Timeout time.Duration      `koanf:"timeout"`
	Reader  feast.ReaderConfig `koanf:"reader"`
}

// EventSettings 行为与帖子存储配置
type EventSettings struct {
	Backend    string `koanf:"backend" validate:"oneof=memory sqlite"`
	SQLitePath string `koanf:"sqlite_path"`
}

// SafetySettings 内容安全检查配置
type SafetySettings struct {
	Enabled                 bool                 `koanf:"enabled"`
	AllowInNetworkOnFailure bool                 `koanf:"allow_in_network_on_failure"`
	Checker                 service.SafetyConfig `koanf:"checker"`
}

// RefreshSettings 特征刷新任务配置
type RefreshSettings struct {
	Lookback     time.Duration `koanf:"lookback"`
	MaxUsers     int           `koanf:"max_users"`
	MaxHistory   int           `koanf:"max_history" validate:"gte=1"`
	BatchSize    int           `koanf:"batch_size" validate:"gte=1"`
	Concurrency  int           `koanf:"concurrency"`
	RebuildIndex bool          `koanf:"rebuild_index"`
	Interval     time.Duration `koanf:"interval"` // >0 时 serve 内按间隔执行
}

// PipelineSettings feed 链路配置
type PipelineSettings struct {
	Path string `koanf:"path"` // 为空时使用内置链路
}

// Defaults 返回默认配置
func Defaults() *Settings {
	return &Settings{
		Server: ServerSettings{
			Addr:            ":8000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  800 * time.Millisecond,
			RateLimit:       0,
			RateWindow:      time.Minute,
			MaxTopK:         500,
			RetrievalFactor: 4,
			LastGoodSize:    64 << 20,
			LastGoodTTL:     10 * time.Minute,
		},
		Models: ModelSettings{
			Dir:               "models",
			TowerMaxHistory:   50,
			PhoenixMaxHistory: 40,
			RandomItems:       1000,
		},
		Index: IndexSettings{
			Path:          "models/items.phxidx",
			Family:        "auto",
			WatchDebounce: 500 * time.Millisecond,
		},
		Features: FeatureSettings{
			Backend:    "memory",
			BadgerDir:  "data/features",
			Redis:      store.RedisConfig{Addr: "127.0.0.1:6379", KeyPrefix: "phoenix:fv:"},
			Feast:      FeastSettings{Timeout: time.Second},
			CacheBytes: 32 << 20,
			CacheTTL:   time.Minute,
			TTL:        30 * 24 * time.Hour,
		},
		Events: EventSettings{
			Backend:    "memory",
			SQLitePath: "data/events.db",
		},
		Safety: SafetySettings{
			Enabled: true,
			Checker: service.SafetyConfig{Type: service.CheckerKeyword, Timeout: 2 * time.Second},
		},
		Refresh: RefreshSettings{
			Lookback:    24 * time.Hour,
			MaxUsers:    0,
			MaxHistory:  50,
			BatchSize:   256,
			Concurrency: 4,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load 依次加载默认值、配置文件（path 为空时在默认路径中查找）与 PHOENIX_ 环境变量，然后校验。
func Load(path string) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Settings{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransform: PHOENIX_SERVER__ADDR -> server.addr，PHOENIX_INDEX__PREFER_RECALL -> index.prefer_recall
func envTransform(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 校验配置
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	if _, err := vector.ParseFamily(s.Index.Family); err != nil {
		return err
	}
	if s.Features.Backend == "badger" && s.Features.BadgerDir == "" {
		return fmt.Errorf("features.badger_dir is required for badger backend")
	}
	if s.Features.Backend == "redis" && s.Features.Redis.Addr == "" {
		return fmt.Errorf("features.redis.addr is required for redis backend")
	}
	if s.Features.Feast.Enabled && s.Features.Feast.Addr == "" {
		return fmt.Errorf("features.feast.addr is required when feast is enabled")
	}
	if s.Events.Backend == "sqlite" && s.Events.SQLitePath == "" {
		return fmt.Errorf("events.sqlite_path is required for sqlite backend")
	}
	if s.Safety.Enabled {
		if err := service.ValidateConfig(&s.Safety.Checker); err != nil {
			return err
		}
	}
	return nil
}

// ModelVersion 返回特征记录使用的模型版本：配置优先，其次 TWO_TOWER_MODEL_VERSION、MODEL_VERSION，默认 "two_tower"。
func (s *Settings) ModelVersion() string {
	if s.Models.Version != "" {
		return s.Models.Version
	}
	return ModelVersionFromEnv()
}

// ModelVersionFromEnv 按 TWO_TOWER_MODEL_VERSION、MODEL_VERSION 的顺序读取，默认 "two_tower"
func ModelVersionFromEnv() string {
	for _, key := range []string{"TWO_TOWER_MODEL_VERSION", "MODEL_VERSION"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "two_tower"
}
