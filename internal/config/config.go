package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/betterdb/anomaly-engine/internal/extractors"
	"github.com/betterdb/anomaly-engine/internal/models"
	"github.com/betterdb/anomaly-engine/internal/utils"
)

// Config captures every setting required to boot the anomaly engine.
type Config struct {
	Server      ServerConfig                                    `yaml:"server"`
	Valkey      ValkeyConfig                                    `yaml:"valkey"`
	Sampling    SamplingConfig                                  `yaml:"sampling"`
	Buffer      BufferConfig                                    `yaml:"buffer"`
	Detectors   map[models.MetricType]extractors.DetectorConfig `yaml:"detectors"`
	Correlation CorrelationConfig                               `yaml:"correlation"`
	Storage     StorageConfig                                   `yaml:"storage"`
	Rules       RulesConfig                                     `yaml:"rules"`
	Logging     LoggingConfig                                   `yaml:"logging"`
}

// ServerConfig controls the gRPC and HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ValkeyConfig holds connection parameters for the monitored instance.
type ValkeyConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// SamplingConfig controls the monitor tick.
type SamplingConfig struct {
	Interval     time.Duration `yaml:"interval"`
	ResolveAfter int           `yaml:"resolveAfter"`
}

// BufferConfig sizes the per-metric rolling windows.
type BufferConfig struct {
	MaxSamples int `yaml:"maxSamples"`
	MinSamples int `yaml:"minSamples"`
}

// CorrelationConfig controls grouping of concurrent anomalies.
type CorrelationConfig struct {
	WindowMs int64 `yaml:"windowMs"`
}

// StorageConfig selects the event store.
type StorageConfig struct {
	Driver    string        `yaml:"driver"`
	DSN       string        `yaml:"dsn"`
	MaxEvents int           `yaml:"maxEvents"`
	MaxGroups int           `yaml:"maxGroups"`
	Retention time.Duration `yaml:"retention"`
}

// RulesConfig points at the optional rule text override file.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ANOMALY_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	for metric := range c.Detectors {
		if !metric.Valid() {
			return fmt.Errorf("detectors: unknown metric type %q", metric)
		}
	}
	if c.Buffer.MinSamples > c.Buffer.MaxSamples {
		return fmt.Errorf("buffer: minSamples %d exceeds maxSamples %d", c.Buffer.MinSamples, c.Buffer.MaxSamples)
	}
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage: unsupported driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver != "memory" && c.Storage.DSN == "" {
		return fmt.Errorf("storage: dsn is required for driver %s", c.Storage.Driver)
	}
	if c.Sampling.Interval <= 0 {
		return fmt.Errorf("sampling: interval must be positive")
	}
	if _, err := utils.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Valkey: ValkeyConfig{
			Addr:         "127.0.0.1:6379",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Sampling: SamplingConfig{
			Interval:     time.Second,
			ResolveAfter: 3,
		},
		Buffer: BufferConfig{
			MaxSamples: extractors.DefaultMaxSamples,
			MinSamples: extractors.DefaultMinSamples,
		},
		Correlation: CorrelationConfig{WindowMs: 5000},
		Storage: StorageConfig{
			Driver:    "memory",
			MaxEvents: 10000,
			MaxGroups: 2000,
			Retention: 7 * 24 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ANOMALY_ENGINE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("ANOMALY_ENGINE_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("ANOMALY_ENGINE_VALKEY_ADDR"); v != "" {
		cfg.Valkey.Addr = v
	}
	if v := os.Getenv("ANOMALY_ENGINE_VALKEY_USERNAME"); v != "" {
		cfg.Valkey.Username = v
	}
	if v := os.Getenv("ANOMALY_ENGINE_VALKEY_PASSWORD"); v != "" {
		cfg.Valkey.Password = v
	}
	if v := os.Getenv("ANOMALY_ENGINE_VALKEY_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Valkey.DB = db
		}
	}
	if v := os.Getenv("ANOMALY_ENGINE_VALKEY_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Valkey.TLS = true
	}
	if v := os.Getenv("ANOMALY_ENGINE_SAMPLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sampling.Interval = d
		}
	}
	if v := os.Getenv("ANOMALY_ENGINE_RESOLVE_AFTER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sampling.ResolveAfter = n
		}
	}
	if v := os.Getenv("ANOMALY_ENGINE_CORRELATION_WINDOW_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Correlation.WindowMs = ms
		}
	}
	if v := os.Getenv("ANOMALY_ENGINE_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("ANOMALY_ENGINE_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("ANOMALY_ENGINE_STORAGE_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Storage.Retention = d
		}
	}
	if v := os.Getenv("ANOMALY_ENGINE_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("ANOMALY_ENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ANOMALY_ENGINE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
