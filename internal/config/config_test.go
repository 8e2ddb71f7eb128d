package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Environment: "test",
		Server:      ServerConfig{HTTPPort: 8080},
		Database:    DatabaseConfig{Host: "localhost"},
		Kafka:       KafkaConfig{Brokers: []string{"localhost:9092"}},
		Rules:       RulesConfig{BusinessHoursStart: 8, BusinessHoursEnd: 18},
		Matching:    MatchingConfig{DefaultThreshold: 0.6},
		Audit:       AuditConfig{RetentionDays: 365},
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "file://migrations", cfg.Database.MigrationsPath)

	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "correlation-engine", cfg.Kafka.GroupID)
	assert.Equal(t, "security.activities", cfg.Kafka.Topics.Activities)
	assert.Equal(t, "security.events", cfg.Kafka.Topics.Events)

	assert.Equal(t, 8, cfg.Rules.BusinessHoursStart)
	assert.Equal(t, 18, cfg.Rules.BusinessHoursEnd)
	assert.Equal(t, 80.0, cfg.Rules.AlertConfidenceMin)

	assert.Equal(t, 0.6, cfg.Matching.DefaultThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Matching.ScanWindow)

	assert.Equal(t, 15*time.Minute, cfg.Escalation.CriticalAfter)
	assert.Equal(t, 30*time.Minute, cfg.Escalation.HighAfter)
	assert.Equal(t, 60*time.Minute, cfg.Escalation.DefaultAfter)

	assert.Equal(t, 365, cfg.Audit.RetentionDays)
	assert.Equal(t, 30, cfg.Audit.ActivityArchiveAge)

	assert.Equal(t, "0 * * * * *", cfg.Scheduler.EscalationSweep)
	assert.Equal(t, "0 0 3 * * *", cfg.Scheduler.ArchiveSweep)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.HTTPPort = 70000 }},
		{"port zero", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"missing database host", func(c *Config) { c.Database.Host = "" }},
		{"no kafka brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"business hours start out of range", func(c *Config) { c.Rules.BusinessHoursStart = 24 }},
		{"business hours inverted", func(c *Config) { c.Rules.BusinessHoursStart = 18; c.Rules.BusinessHoursEnd = 8 }},
		{"threshold too low", func(c *Config) { c.Matching.DefaultThreshold = 0.01 }},
		{"threshold too high", func(c *Config) { c.Matching.DefaultThreshold = 1.5 }},
		{"retention not positive", func(c *Config) { c.Audit.RetentionDays = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		Username: "svc",
		Password: "secret",
		Name:     "sentinelops",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=svc password=secret dbname=sentinelops sslmode=require",
		db.ConnectionString(),
	)
}

func TestRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "cache.internal", Port: 6380}
	assert.Equal(t, "cache.internal:6380", r.Addr())
}
