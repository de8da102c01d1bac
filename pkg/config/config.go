package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	ID       IDConfig       `mapstructure:"id"`
	Engine   EngineConfig   `mapstructure:"engine"`
	RunQueue RunQueueConfig `mapstructure:"run_queue"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	IP             string        `mapstructure:"ip"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

type DatabaseConfig struct {
	Driver                string        `mapstructure:"driver"` // mysql | sqlite
	DSN                   string        `mapstructure:"dsn"`    // sqlite 文件或内存 DSN
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	Database              string        `mapstructure:"database"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	MaxConnections        int           `mapstructure:"max_connections"`
	MaxIdleConnections    int           `mapstructure:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime"`
	AutoMigrate           bool          `mapstructure:"auto_migrate"`
	LogLevel              string        `mapstructure:"log_level"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type IDConfig struct {
	WorkerID uint16 `mapstructure:"worker_id"`
	BaseTime int64  `mapstructure:"base_time"`
}

type RetryConfig struct {
	MaxAttempts    int     `mapstructure:"max_attempts"`
	MinTimeoutInMs int     `mapstructure:"min_timeout_ms"`
	MaxTimeoutInMs int     `mapstructure:"max_timeout_ms"`
	Factor         float64 `mapstructure:"factor"`
	Randomize      bool    `mapstructure:"randomize"`
}

type EngineConfig struct {
	VisibilityTimeout      time.Duration `mapstructure:"visibility_timeout"`
	HeartbeatSweepInterval time.Duration `mapstructure:"heartbeat_sweep_interval"`
	WaitpointSweepInterval time.Duration `mapstructure:"waitpoint_sweep_interval"`
	WorkerStaleAfter       time.Duration `mapstructure:"worker_stale_after"`
	DefaultRetry           RetryConfig   `mapstructure:"default_retry"`
	DefaultMaxDuration     time.Duration `mapstructure:"default_max_duration"`
	LockTTL                time.Duration `mapstructure:"lock_ttl"`
	LockAcquireTimeout     time.Duration `mapstructure:"lock_acquire_timeout"`
	LockMaxRetries         int           `mapstructure:"lock_max_retries"`
	DequeueMaxRuns         int           `mapstructure:"dequeue_max_runs"`
	DequeueLongPoll        time.Duration `mapstructure:"dequeue_long_poll"`
	SweepBatchSize         int           `mapstructure:"sweep_batch_size"`
}

type RunQueueConfig struct {
	Scheduler                   string         `mapstructure:"scheduler"` // drr | weighted | round_robin
	DefaultConcurrencyLimit     int            `mapstructure:"default_concurrency_limit"`
	EnvironmentConcurrencyLimit int            `mapstructure:"environment_concurrency_limit"`
	EnvironmentLimits           map[string]int `mapstructure:"environment_limits"`
	MaxCandidates               int            `mapstructure:"max_candidates"`
	DefinitionCacheTTL          time.Duration  `mapstructure:"definition_cache_ttl"`
}

type ScheduleConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	Lookahead            time.Duration `mapstructure:"lookahead"`
	JobWorkers           int           `mapstructure:"job_workers"`
	JobQueueSlots        int           `mapstructure:"job_queue_slots"`
	JobVisibilityTimeout time.Duration `mapstructure:"job_visibility_timeout"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
	DedupTTL             time.Duration `mapstructure:"dedup_ttl"`
}

type WorkerGroupConfig struct {
	Name           string `mapstructure:"name"`
	Token          string `mapstructure:"token"`
	EnvironmentID  string `mapstructure:"environment_id"`
	OrganizationID string `mapstructure:"organization_id"`
}

type APIKeyConfig struct {
	Key            string `mapstructure:"key"`
	EnvironmentID  string `mapstructure:"environment_id"`
	OrganizationID string `mapstructure:"organization_id"`
}

type AuthConfig struct {
	WorkerGroups []WorkerGroupConfig `mapstructure:"worker_groups"`
	APIKeys      []APIKeyConfig      `mapstructure:"api_keys"`
}

// EnvironmentLimit 返回环境级并发上限，未单独配置时使用默认值
func (c RunQueueConfig) EnvironmentLimit(environmentID string) int {
	if limit, ok := c.EnvironmentLimits[environmentID]; ok {
		return limit
	}
	return c.EnvironmentConcurrencyLimit
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.max_header_bytes", 1048576)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "file:runengine.db?_pragma=busy_timeout(5000)")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.max_idle_connections", 10)
	v.SetDefault("database.connection_max_lifetime", "1h")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "runengine")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("id.worker_id", 1)
	v.SetDefault("id.base_time", 1755937966000)

	v.SetDefault("engine.visibility_timeout", "5m")
	v.SetDefault("engine.heartbeat_sweep_interval", "10s")
	v.SetDefault("engine.waitpoint_sweep_interval", "1s")
	v.SetDefault("engine.worker_stale_after", "2m")
	v.SetDefault("engine.default_retry.max_attempts", 3)
	v.SetDefault("engine.default_retry.min_timeout_ms", 1000)
	v.SetDefault("engine.default_retry.max_timeout_ms", 60000)
	v.SetDefault("engine.default_retry.factor", 2)
	v.SetDefault("engine.default_retry.randomize", true)
	v.SetDefault("engine.default_max_duration", "0s")
	v.SetDefault("engine.lock_ttl", "10s")
	v.SetDefault("engine.lock_acquire_timeout", "5s")
	v.SetDefault("engine.lock_max_retries", 3)
	v.SetDefault("engine.dequeue_max_runs", 10)
	v.SetDefault("engine.dequeue_long_poll", "20s")
	v.SetDefault("engine.sweep_batch_size", 100)

	v.SetDefault("run_queue.scheduler", "drr")
	v.SetDefault("run_queue.default_concurrency_limit", 10)
	v.SetDefault("run_queue.environment_concurrency_limit", 100)
	v.SetDefault("run_queue.max_candidates", 64)
	v.SetDefault("run_queue.definition_cache_ttl", "30s")

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.tick_interval", "5s")
	v.SetDefault("schedule.lookahead", "0s")
	v.SetDefault("schedule.job_workers", 4)
	v.SetDefault("schedule.job_queue_slots", 4)
	v.SetDefault("schedule.job_visibility_timeout", "1m")
	v.SetDefault("schedule.max_attempts", 5)
	v.SetDefault("schedule.dedup_ttl", "24h")
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// RUNENGINE_REDIS_HOST 覆盖 redis.host
	v.SetEnvPrefix("runengine")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Default 返回仅包含默认值的配置，用于测试和单机模式
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}
