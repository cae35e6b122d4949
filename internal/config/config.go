package config

import (
	"fmt"
	"os"
	"time"

	"estatecrm/pkg/config"
)

// Storage modes.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Server   config.ServerConfig `yaml:"server"`
	DB       config.DBConfig     `yaml:"db"`
	MQ       config.MQConfig     `yaml:"mq"`
	Redis    config.RedisConfig  `yaml:"redis"`
	JWT      config.JWTConfig    `yaml:"jwt"`
	OTel     config.OTelConfig   `yaml:"otel"`
	Log      LogConfig           `yaml:"log"`
	Storage  StorageConfig       `yaml:"storage"`
	Scanner  ScannerConfig       `yaml:"scanner"`
	Outbox   OutboxConfig        `yaml:"outbox"`
	Consumer ConsumerConfig      `yaml:"consumer"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type StorageConfig struct {
	Mode string `yaml:"mode"`
}

type ScannerConfig struct {
	Interval time.Duration `yaml:"interval"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

// ConsumerConfig controls the deal event listeners.
type ConsumerConfig struct {
	Prefetch   int           `yaml:"prefetch"`
	MaxRetries int64         `yaml:"max_retries"`
	RetryTTL   time.Duration `yaml:"retry_ttl"`
}

type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

// Load reads config/<CONFIG_ENV>.yaml on top of base.yaml and applies
// environment overrides. An empty dir falls back to CONFIG_DIR or "config".
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = config.GetEnv("CONFIG_DIR", "config")
	}
	raw, err := config.LoadConfig(config.GetConfigEnv(), dir)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := config.Decode(raw, cfg); err != nil {
		return nil, err
	}

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideOTelFromEnv(&cfg.OTel)
	if mode := os.Getenv("STORAGE_MODE"); mode != "" {
		cfg.Storage.Mode = mode
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the values used for keys missing from every file.
func Defaults() *Config {
	return &Config{
		Server:   config.ServerConfig{Port: "8080"},
		Log:      LogConfig{Level: "info"},
		Storage:  StorageConfig{Mode: StoragePostgres},
		Scanner:  ScannerConfig{Interval: time.Minute, DedupTTL: 24 * time.Hour},
		Outbox:   OutboxConfig{Interval: time.Second, BatchSize: 100, MaxRetries: 5},
		Consumer: ConsumerConfig{Prefetch: 10, MaxRetries: 3, RetryTTL: time.Hour},
		OTel:     config.OTelConfig{ServiceName: "estatecrm"},
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("unknown storage mode %q", c.Storage.Mode)
	}
	if c.Scanner.Interval <= 0 {
		return fmt.Errorf("scanner.interval must be positive")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret must be set")
	}
	return nil
}
