// =============================================================================
// 📦 humanloop 配置结构
// =============================================================================
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/humanloop/approval"
	"github.com/BaSui01/humanloop/hitl"
	"github.com/BaSui01/humanloop/persistence"
)

// Config 是 humanloop 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Engine 生命周期引擎配置
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// AutoApproval 自动审批配置
	AutoApproval AutoApprovalConfig `yaml:"auto_approval" env:"AUTO_APPROVAL"`

	// Persistence 持久化配置
	Persistence PersistenceConfig `yaml:"persistence" env:"PERSISTENCE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Auth 认证配置
	Auth AuthConfig `yaml:"auth" env:"AUTH"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每 IP 每秒请求数限制
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second" env:"RATE_LIMIT_PER_SECOND"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许的跨域来源（为空表示拒绝所有跨域请求）
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// EngineConfig 生命周期引擎配置（与 hitl.Config 兼容）
type EngineConfig struct {
	// 默认等待人工响应的超时
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// 超时上限
	MaxTimeout time.Duration `yaml:"max_timeout" env:"MAX_TIMEOUT"`
	// Retry 超时重试策略
	Retry RetryConfig `yaml:"retry_policy" env:"RETRY"`
	// RateLimiting 会话级准入控制
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" env:"RATE_LIMITING"`
	// Retention 终态交互保留策略
	Retention RetentionConfig `yaml:"retention" env:"RETENTION"`
}

// RetryConfig 超时重试策略
type RetryConfig struct {
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 首次重试延迟
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 指数退避倍数
	BackoffMultiplier float64 `yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
}

// RateLimitingConfig 会话级准入控制
type RateLimitingConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 滑动窗口内最大请求数
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute" env:"MAX_REQUESTS_PER_MINUTE"`
	// 每会话最大并发交互数
	MaxConcurrentInteractions int `yaml:"max_concurrent_interactions" env:"MAX_CONCURRENT_INTERACTIONS"`
	// 滑动窗口长度
	Window time.Duration `yaml:"window" env:"WINDOW"`
}

// RetentionConfig 终态交互保留策略
type RetentionConfig struct {
	// 清扫间隔
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// 终态交互最大保留时长
	MaxAge time.Duration `yaml:"max_age" env:"MAX_AGE"`
}

// AutoApprovalConfig 自动审批配置
type AutoApprovalConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 规则列表（仅 YAML，按顺序求值，首个全匹配的规则生效）
	Rules []approval.Rule `yaml:"rules" env:"-"`
}

// PersistenceConfig 持久化配置
type PersistenceConfig struct {
	// 类型: memory, redis, database, mongo；为空则关闭持久化
	Type string `yaml:"type" env:"TYPE"`
	// Redis 配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// Database 配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
	// Mongo 配置
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, mysql, postgres
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	// API Key（为空则关闭 API Key 认证）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// JWT 配置
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig JWT 配置
type JWTConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 签名密钥
	Secret string `yaml:"secret" env:"SECRET"`
	// 签发者
	Issuer string `yaml:"issuer" env:"ISSUER"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	engine := hitl.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			HTTPPort:           8080,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
			ShutdownTimeout:    15 * time.Second,
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
		},
		Engine: EngineConfig{
			DefaultTimeout: engine.DefaultTimeout,
			MaxTimeout:     engine.MaxTimeout,
			Retry: RetryConfig{
				MaxRetries:        engine.RetryPolicy.MaxRetries,
				RetryDelay:        engine.RetryPolicy.RetryDelay,
				BackoffMultiplier: engine.RetryPolicy.BackoffMultiplier,
			},
			RateLimiting: RateLimitingConfig{
				Enabled:                   engine.RateLimiting.Enabled,
				MaxRequestsPerMinute:      engine.RateLimiting.MaxRequestsPerMinute,
				MaxConcurrentInteractions: engine.RateLimiting.MaxConcurrent,
				Window:                    engine.RateLimiting.Window,
			},
			Retention: RetentionConfig{
				SweepInterval: engine.Retention.SweepInterval,
				MaxAge:        engine.Retention.MaxAge,
			},
		},
		AutoApproval: AutoApprovalConfig{Enabled: false},
		Persistence: PersistenceConfig{
			Type: string(persistence.StoreTypeMemory),
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "humanloop:",
			},
			Database: DatabaseConfig{
				Driver: "sqlite",
				Name:   "./data/humanloop.db",
			},
			Mongo: MongoConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "humanloop",
				Collection: "interactions",
			},
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "humanloop",
			SampleRate:   1.0,
		},
		Auth: AuthConfig{},
	}
}

// EngineConfig 转换为引擎自己的配置类型
func (c *EngineConfig) ToEngine() hitl.Config {
	return hitl.Config{
		DefaultTimeout: c.DefaultTimeout,
		MaxTimeout:     c.MaxTimeout,
		RetryPolicy: hitl.RetryPolicy{
			MaxRetries:        c.Retry.MaxRetries,
			RetryDelay:        c.Retry.RetryDelay,
			BackoffMultiplier: c.Retry.BackoffMultiplier,
		},
		RateLimiting: hitl.RateLimiting{
			Enabled:              c.RateLimiting.Enabled,
			MaxRequestsPerMinute: c.RateLimiting.MaxRequestsPerMinute,
			MaxConcurrent:        c.RateLimiting.MaxConcurrentInteractions,
			Window:               c.RateLimiting.Window,
		},
		Retention: hitl.Retention{
			SweepInterval: c.Retention.SweepInterval,
			MaxAge:        c.Retention.MaxAge,
		},
	}
}

// ToStoreConfig 转换为持久化层的配置类型
func (p *PersistenceConfig) ToStoreConfig() persistence.StoreConfig {
	return persistence.StoreConfig{
		Type: persistence.StoreType(p.Type),
		Redis: persistence.RedisStoreConfig{
			Addr:      p.Redis.Addr,
			Password:  p.Redis.Password,
			DB:        p.Redis.DB,
			PoolSize:  p.Redis.PoolSize,
			KeyPrefix: p.Redis.KeyPrefix,
		},
		Database: persistence.DatabaseStoreConfig{
			Driver:       p.Database.Driver,
			DSN:          p.Database.DSN(),
			MaxOpenConns: p.Database.MaxOpenConns,
		},
		Mongo: persistence.MongoStoreConfig{
			URI:        p.Mongo.URI,
			Database:   p.Mongo.Database,
			Collection: p.Mongo.Collection,
		},
	}
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite", "":
		return d.Name
	default:
		return ""
	}
}

// Validate 验证配置；无效配置在初始化时一次性拒绝。
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	if err := c.Engine.ToEngine().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.AutoApproval.Enabled {
		if err := approval.ValidateRules(c.AutoApproval.Rules); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if c.Auth.JWT.Enabled && c.Auth.JWT.Secret == "" {
		errs = append(errs, "jwt secret is required when jwt auth is enabled")
	}

	switch persistence.StoreType(c.Persistence.Type) {
	case "", persistence.StoreTypeMemory, persistence.StoreTypeRedis,
		persistence.StoreTypeDatabase, persistence.StoreTypeMongo:
	default:
		errs = append(errs, fmt.Sprintf("unknown persistence type: %s", c.Persistence.Type))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
