// Package config loads the typed application configuration: providers,
// pool limits, streaming parameters, database path, health-check
// intervals, and logging. It drops every section that only serves an
// external, non-core surface (auth, REST API, rclone cache, SABnzbd,
// Arrs, Fuse mount) since none of those are implemented by this module.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nzbvault/nzbvault/internal/domain"
)

// Config is the root configuration object for the gateway process.
type Config struct {
	WebDAV    WebDAVConfig     `yaml:"webdav" mapstructure:"webdav"`
	Database  DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Streaming StreamingConfig  `yaml:"streaming" mapstructure:"streaming"`
	Pool      PoolConfig       `yaml:"pool" mapstructure:"pool"`
	Import    ImportConfig     `yaml:"import" mapstructure:"import"`
	Health    HealthConfig     `yaml:"health" mapstructure:"health"`
	Log       LogConfig        `yaml:"log" mapstructure:"log"`
	Providers []ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// WebDAVConfig configures the thin read-only WebDAV listener.
type WebDAVConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// DatabaseConfig configures the sqlite-backed metadata store.
type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// StreamingConfig controls the streaming read engine (C1, C5, C6).
type StreamingConfig struct {
	// MaxConnectionsPerStream bounds C5's per-stream prefetch worker count.
	MaxConnectionsPerStream int `yaml:"max_connections_per_stream" mapstructure:"max_connections_per_stream"`
	// GlobalStreamingLimit bounds concurrently open streams process-wide.
	GlobalStreamingLimit int `yaml:"global_streaming_limit" mapstructure:"global_streaming_limit"`
	// BufferSize is the number of in-flight/prefetched segment slots per stream.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size"`
	// CompositeCacheSize bounds C6's LRU of open sub-streams; 0 disables caching (passthrough).
	CompositeCacheSize int `yaml:"composite_cache_size" mapstructure:"composite_cache_size"`
	// GracefulDegradation enables zero-fill substitution for missing segments on streaming reads only.
	GracefulDegradation bool `yaml:"graceful_degradation" mapstructure:"graceful_degradation"`
	// SegmentFetchTimeoutSeconds bounds one segment fetch attempt.
	SegmentFetchTimeoutSeconds int `yaml:"segment_fetch_timeout_seconds" mapstructure:"segment_fetch_timeout_seconds"`
}

// PoolConfig controls the per-provider connection pools (C1).
type PoolConfig struct {
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds" mapstructure:"idle_timeout_seconds"`
	GlobalMaxConns     int `yaml:"global_max_conns" mapstructure:"global_max_conns"`
}

// ImportConfig controls the ingestion pipeline (C8).
type ImportConfig struct {
	MaxFirstSegmentWorkers int `yaml:"max_first_segment_workers" mapstructure:"max_first_segment_workers"`
	Par2TimeoutSeconds     int `yaml:"par2_timeout_seconds" mapstructure:"par2_timeout_seconds"`
	ProcessorTimeoutSeconds int `yaml:"processor_timeout_seconds" mapstructure:"processor_timeout_seconds"`
}

// HealthConfig controls the health-check scheduler (C10).
type HealthConfig struct {
	Enabled                bool `yaml:"enabled" mapstructure:"enabled"`
	TickIntervalSeconds    int  `yaml:"tick_interval_seconds" mapstructure:"tick_interval_seconds"`
	MaxConcurrentChecks    int  `yaml:"max_concurrent_checks" mapstructure:"max_concurrent_checks"`
	FullHeadCheckFrequency int  `yaml:"full_head_check_frequency" mapstructure:"full_head_check_frequency"`
}

// LogConfig configures log rotation. Mirrors what internal/slogutil consumes.
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file"`
	Level      string `yaml:"level" mapstructure:"level"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// ProviderConfig describes one configured NNTP provider.
type ProviderConfig struct {
	ID             string `yaml:"id" mapstructure:"id"`
	Host           string `yaml:"host" mapstructure:"host"`
	Port           int    `yaml:"port" mapstructure:"port"`
	Username       string `yaml:"username" mapstructure:"username"`
	Password       string `yaml:"password" mapstructure:"password"`
	MaxConnections int    `yaml:"max_connections" mapstructure:"max_connections"`
	TLS            bool   `yaml:"tls" mapstructure:"tls"`
	InsecureTLS    bool   `yaml:"insecure_tls" mapstructure:"insecure_tls"`
	IsBackup       bool   `yaml:"is_backup_provider" mapstructure:"is_backup_provider"`
}

// Default returns the configuration baseline applied before any file or
// environment override is unmarshalled on top of it.
func Default() *Config {
	return &Config{
		WebDAV:   WebDAVConfig{Addr: ":8780"},
		Database: DatabaseConfig{Path: "nzbvault.db"},
		Streaming: StreamingConfig{
			MaxConnectionsPerStream:    4,
			GlobalStreamingLimit:       32,
			BufferSize:                 8,
			CompositeCacheSize:         16,
			GracefulDegradation:        false,
			SegmentFetchTimeoutSeconds: 180,
		},
		Pool: PoolConfig{
			IdleTimeoutSeconds: 30,
			GlobalMaxConns:     64,
		},
		Import: ImportConfig{
			MaxFirstSegmentWorkers:  16,
			Par2TimeoutSeconds:      180,
			ProcessorTimeoutSeconds: 300,
		},
		Health: HealthConfig{
			Enabled:                true,
			TickIntervalSeconds:    300,
			MaxConcurrentChecks:    8,
			FullHeadCheckFrequency: 10,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configFile (or "config.yaml" in the working directory if
// empty) through viper, merging it on top of Default(), and validates
// the result.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if configFile != "" {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
		// No config file present: defaults only.
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.Log.File == "" && configFile != "" {
		cfg.Log.File = filepath.Join(filepath.Dir(configFile), "activity.log")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded configuration for obviously broken values.
func (c *Config) Validate() error {
	if c.Streaming.MaxConnectionsPerStream <= 0 {
		return fmt.Errorf("streaming.max_connections_per_stream must be greater than 0")
	}
	if c.Streaming.BufferSize <= 0 {
		return fmt.Errorf("streaming.buffer_size must be greater than 0")
	}
	if c.Streaming.CompositeCacheSize < 0 {
		return fmt.Errorf("streaming.composite_cache_size must not be negative")
	}
	if c.Pool.GlobalMaxConns <= 0 {
		return fmt.Errorf("pool.global_max_conns must be greater than 0")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	for i, p := range c.Providers {
		if p.Host == "" {
			return fmt.Errorf("providers[%d]: host is required", i)
		}
		if p.MaxConnections <= 0 {
			return fmt.Errorf("providers[%d]: max_connections must be greater than 0", i)
		}
	}
	return nil
}

// Marshal renders the configuration back to YAML, used by `nzbvault config-init`.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToProviders converts the configured provider list into domain.Provider
// values for the connection pool manager, assigning PriorityBackup to
// any entry flagged is_backup_provider and PriorityPrimary to the rest.
func (c *Config) ToProviders() []domain.Provider {
	out := make([]domain.Provider, len(c.Providers))
	for i, p := range c.Providers {
		priority := domain.PriorityPrimary
		if p.IsBackup {
			priority = domain.PriorityBackup
		}
		out[i] = domain.Provider{
			ID:             p.ID,
			Host:           p.Host,
			Port:           p.Port,
			TLS:            p.TLS,
			InsecureTLS:    p.InsecureTLS,
			Username:       p.Username,
			Password:       p.Password,
			MaxConnections: p.MaxConnections,
			Priority:       priority,
		}
	}
	return out
}

// EnvOverridePort allows PORT to override WebDAV.Addr's port, matching
// the teacher's convention of a PORT environment-variable escape hatch
// for container deployments.
func (c *Config) EnvOverridePort() {
	if p := os.Getenv("PORT"); p != "" {
		c.WebDAV.Addr = ":" + p
	}
}
