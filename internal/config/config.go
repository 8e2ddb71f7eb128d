package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the correlation engine service.
type Config struct {
	Environment string           `mapstructure:"environment"`
	Debug       bool             `mapstructure:"debug"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	Rules       RulesConfig      `mapstructure:"rules"`
	Matching    MatchingConfig   `mapstructure:"matching"`
	Escalation  EscalationConfig `mapstructure:"escalation"`
	Audit       AuditConfig      `mapstructure:"audit"`
	Notify      NotifyConfig     `mapstructure:"notify"`
	Scheduler   SchedulerConfig  `mapstructure:"scheduler"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains Postgres configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig contains Redis configuration, used to fence sweep actions.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr returns the host:port address for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig contains Kafka transport configuration.
type KafkaConfig struct {
	Brokers []string     `mapstructure:"brokers"`
	GroupID string       `mapstructure:"group_id"`
	Topics  TopicsConfig `mapstructure:"topics"`
}

// TopicsConfig names the Kafka topics the engine consumes and produces.
type TopicsConfig struct {
	// Input
	Activities string `mapstructure:"activities"`
	// Output
	Events string `mapstructure:"events"`
}

// RulesConfig tunes the auto-incident rule engine.
type RulesConfig struct {
	BusinessHoursStart  int           `mapstructure:"business_hours_start"`
	BusinessHoursEnd    int           `mapstructure:"business_hours_end"`
	RegexCacheTTL       time.Duration `mapstructure:"regex_cache_ttl"`
	RegexCacheCleanup   time.Duration `mapstructure:"regex_cache_cleanup"`
	AlertConfidenceMin  float64       `mapstructure:"alert_confidence_min"`
	DamageConfidenceMin float64       `mapstructure:"damage_confidence_min"`
}

// MatchingConfig tunes the BOL confidence matcher.
type MatchingConfig struct {
	DefaultThreshold float64       `mapstructure:"default_threshold"`
	ScanWindow       time.Duration `mapstructure:"scan_window"`
	TokenCacheTTL    time.Duration `mapstructure:"token_cache_ttl"`
}

// EscalationConfig sets the escalation windows per priority.
type EscalationConfig struct {
	CriticalAfter time.Duration `mapstructure:"critical_after"`
	HighAfter     time.Duration `mapstructure:"high_after"`
	DefaultAfter  time.Duration `mapstructure:"default_after"`
}

// AuditConfig tunes the audit trail recorder.
type AuditConfig struct {
	RetentionDays      int `mapstructure:"retention_days"`
	ActivityArchiveAge int `mapstructure:"activity_archive_age_days"`
}

// NotifyConfig configures the webhook notifier.
type NotifyConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second"`
	Burst          int           `mapstructure:"burst"`
	RetryCount     int           `mapstructure:"retry_count"`
	RetryWaitTime  time.Duration `mapstructure:"retry_wait_time"`
	RetryMaxWait   time.Duration `mapstructure:"retry_max_wait"`
	SigningSecret  string        `mapstructure:"signing_secret"`
	DisableDeliver bool          `mapstructure:"disable_deliver"`
}

// SchedulerConfig sets the cron expressions for the periodic sweeps.
type SchedulerConfig struct {
	EscalationSweep string `mapstructure:"escalation_sweep"`
	BOLExpirySweep  string `mapstructure:"bol_expiry_sweep"`
	ArchiveSweep    string `mapstructure:"archive_sweep"`
	RetentionSweep  string `mapstructure:"retention_sweep"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/sentinelops")

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("debug", false)

	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "sentinelops")
	v.SetDefault("database.username", "sentinelops")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "file://migrations")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "correlation-engine")
	v.SetDefault("kafka.topics.activities", "security.activities")
	v.SetDefault("kafka.topics.events", "security.events")

	v.SetDefault("rules.business_hours_start", 8)
	v.SetDefault("rules.business_hours_end", 18)
	v.SetDefault("rules.regex_cache_ttl", "10m")
	v.SetDefault("rules.regex_cache_cleanup", "30m")
	v.SetDefault("rules.alert_confidence_min", 80)
	v.SetDefault("rules.damage_confidence_min", 75)

	v.SetDefault("matching.default_threshold", 0.6)
	v.SetDefault("matching.scan_window", "24h")
	v.SetDefault("matching.token_cache_ttl", "5m")

	v.SetDefault("escalation.critical_after", "15m")
	v.SetDefault("escalation.high_after", "30m")
	v.SetDefault("escalation.default_after", "60m")

	v.SetDefault("audit.retention_days", 365)
	v.SetDefault("audit.activity_archive_age_days", 30)

	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("notify.rate_per_second", 5)
	v.SetDefault("notify.burst", 10)
	v.SetDefault("notify.retry_count", 2)
	v.SetDefault("notify.retry_wait_time", "1s")
	v.SetDefault("notify.retry_max_wait", "5s")

	v.SetDefault("scheduler.escalation_sweep", "0 * * * * *")
	v.SetDefault("scheduler.bol_expiry_sweep", "30 * * * * *")
	v.SetDefault("scheduler.archive_sweep", "0 0 3 * * *")
	v.SetDefault("scheduler.retention_sweep", "0 30 3 * * *")
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be between 1 and 65535, got %d", c.Server.HTTPPort)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty")
	}
	if c.Rules.BusinessHoursStart < 0 || c.Rules.BusinessHoursStart > 23 {
		return fmt.Errorf("rules.business_hours_start must be an hour of day, got %d", c.Rules.BusinessHoursStart)
	}
	if c.Rules.BusinessHoursEnd < 0 || c.Rules.BusinessHoursEnd > 23 {
		return fmt.Errorf("rules.business_hours_end must be an hour of day, got %d", c.Rules.BusinessHoursEnd)
	}
	if c.Rules.BusinessHoursStart >= c.Rules.BusinessHoursEnd {
		return fmt.Errorf("rules.business_hours_start must precede business_hours_end")
	}
	if c.Matching.DefaultThreshold < 0.1 || c.Matching.DefaultThreshold > 1.0 {
		return fmt.Errorf("matching.default_threshold must be in [0.1, 1.0], got %f", c.Matching.DefaultThreshold)
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit.retention_days must be positive, got %d", c.Audit.RetentionDays)
	}
	return nil
}

// ConnectionString builds the Postgres DSN.
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Name, d.SSLMode,
	)
}
